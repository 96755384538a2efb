package handover

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/chatloom/chatloom/core"
	"github.com/chatloom/chatloom/logging"
)

// Request describes a hand-over to a target assistant configuration.
type Request struct {
	// Config is the assistant configuration taking over the chat.
	Config core.AssistantConfig
	// Messages are forwarded to the target's initial turn.
	Messages []core.NewMessage
	// ChatMeta replaces the chat-scoped metadata; nil clears it.
	ChatMeta map[string]any
	// WorkerMeta travels with the scheduled command.
	WorkerMeta map[string]any
}

// Result records the tenure that was just replaced (on hand-over) or the one
// that was just left (on hand-back), so callers can react to it.
type Result struct {
	FormerConfig    core.AssistantConfig
	FormerMeta      map[string]any
	FormerSessionID string
}

// Options holds overrides passed to New.
type Options struct {
	Logger logging.Logger
	Clock  func() time.Time
	// NewSessionID overrides session id generation for tests.
	NewSessionID func() string
}

// Delegate performs hand-over and hand-back inside caller-supplied
// transactions. Which command scheduler serves the installed configuration is
// resolved through the registry, first registered match first.
type Delegate struct {
	store      core.RecordStore
	schedulers *core.SchedulerRegistry
	logger     logging.Logger
	now        func() time.Time
	sessionID  func() string
}

// New constructs a hand-over Delegate.
func New(store core.RecordStore, schedulers *core.SchedulerRegistry, optFns ...func(o *Options)) *Delegate {
	opts := Options{
		Logger:       logging.NoOpLogger{},
		Clock:        func() time.Time { return time.Now().UTC() },
		NewSessionID: uuid.NewString,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Delegate{store: store, schedulers: schedulers, logger: opts.Logger, now: opts.Clock, sessionID: opts.NewSessionID}
}

// HandOver pushes the chat's current tenure onto the context stack, installs
// the target configuration with a fresh session id, and asks the target's
// command scheduler to enqueue its initial turn. Session ids are
// per-assistant-tenure, never reused across hand-overs.
//
// The mutation happens on state within the caller's transaction; callers
// running under the dispatch guard persist state through SafeUpdate.
func (d *Delegate) HandOver(ctx context.Context, tx core.Tx, chatPath string, state *core.ChatState, req Request) (*Result, error) {
	scheduler, err := d.schedulers.Match(req.Config)
	if err != nil {
		return nil, err
	}

	now := d.now()
	former := Result{
		FormerConfig:    state.Config.Clone(),
		FormerMeta:      state.Meta,
		FormerSessionID: state.SessionID,
	}
	entry := core.ContextStackEntry{
		Config:    former.FormerConfig,
		Meta:      former.FormerMeta,
		SessionID: former.FormerSessionID,
		CreatedAt: now,
	}
	if err := tx.Set(core.Join(core.ContextStackPath(chatPath), d.store.NewID()), entry); err != nil {
		return nil, err
	}

	processing := core.StatusProcessing
	sessionID := d.sessionID()
	state.Apply(core.ChatStateUpdate{
		Config:    &req.Config,
		Status:    &processing,
		SessionID: &sessionID,
		Meta:      &req.ChatMeta,
	}, now)

	common := core.CommonData{OwnerID: state.UserID, ChatPath: chatPath, DispatchID: state.LatestDispatchID, Meta: req.WorkerMeta}
	if err := scheduler.HandOver(ctx, common, req.Messages); err != nil {
		return nil, err
	}
	d.logger.Info("chat handed over",
		"chat", chatPath,
		"from_dispatcher", former.FormerConfig.DispatcherID,
		"to_dispatcher", req.Config.DispatcherID,
	)
	return &former, nil
}

// HandBack pops the most recent context stack entry and restores its tenure.
// Hand-back with an empty stack is a failed-precondition: it signals a
// programming or state error, not an expected race.
//
// When messages are supplied the restored assistant gets a turn to react
// (status processing); otherwise control returns straight to the user
// (status userInput).
func (d *Delegate) HandBack(ctx context.Context, tx core.Tx, chatPath string, state *core.ChatState, messages []core.NewMessage, workerMeta map[string]any) (*Result, error) {
	snaps, err := tx.Documents(core.ContextStackPath(chatPath), core.Query{OrderBy: "createdAt", Descending: true, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(snaps) == 0 {
		return nil, core.NewErrorf(core.CodeFailedPrecondition, "hand-back on chat %s with empty context stack", chatPath)
	}
	var entry core.ContextStackEntry
	if err := snaps[0].Decode(&entry); err != nil {
		return nil, core.WrapError(core.CodeInternal, "decoding context stack entry", err)
	}

	scheduler, err := d.schedulers.Match(entry.Config)
	if err != nil {
		return nil, err
	}
	if err := tx.Delete(snaps[0].Path()); err != nil {
		return nil, err
	}

	former := Result{
		FormerConfig:    state.Config.Clone(),
		FormerMeta:      state.Meta,
		FormerSessionID: state.SessionID,
	}
	status := core.StatusUserInput
	if len(messages) > 0 {
		status = core.StatusProcessing
	}
	update := core.ChatStateUpdate{
		Config: &entry.Config,
		Status: &status,
		Meta:   &entry.Meta,
	}
	if entry.SessionID != "" {
		update.SessionID = &entry.SessionID
	} else {
		update.ClearSessionID = true
	}
	state.Apply(update, d.now())

	common := core.CommonData{OwnerID: state.UserID, ChatPath: chatPath, DispatchID: state.LatestDispatchID, Meta: workerMeta}
	if err := scheduler.HandBack(ctx, common, messages); err != nil {
		return nil, err
	}
	d.logger.Info("chat handed back",
		"chat", chatPath,
		"from_dispatcher", former.FormerConfig.DispatcherID,
		"to_dispatcher", entry.Config.DispatcherID,
	)
	return &former, nil
}
