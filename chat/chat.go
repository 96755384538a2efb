package chat

import (
	"context"
	"time"

	"github.com/chatloom/chatloom/core"
	"github.com/chatloom/chatloom/logging"
)

// CreateRequest carries everything needed to open a new chat.
type CreateRequest struct {
	UserID string
	Config core.AssistantConfig
	// Messages seed the conversation; when present the assistant gets an
	// immediate first turn.
	Messages []core.NewMessage
	// Data is the initial accumulated conversation data.
	Data map[string]any
	// ChatMeta is chat-scoped metadata stored on the chat document.
	ChatMeta map[string]any
	// WorkerMeta travels with the scheduled command.
	WorkerMeta map[string]any
}

// PostRequest posts user messages to an existing chat.
type PostRequest struct {
	UserID     string
	Messages   []core.NewMessage
	WorkerMeta map[string]any
}

// CreateResult reports the path of the new chat document plus the state
// visible to the caller right after creation.
type CreateResult struct {
	ChatPath string           `json:"chatPath"`
	Update   core.StateUpdate `json:"update"`
}

// Options holds overrides passed to New.
type Options struct {
	Logger logging.Logger
	Clock  func() time.Time
	// PostAllowed decides which statuses accept posted messages. The default
	// accepts userInput only.
	PostAllowed func(s core.ChatStatus) bool
}

// API exposes create, single-run, post and close over chats. The zero number
// of in-flight dispatches is never assumed: every operation bumps
// latestDispatchId, which makes stale work self-abort at its next checkpoint.
type API struct {
	store       core.RecordStore
	schedulers  *core.SchedulerRegistry
	logger      logging.Logger
	now         func() time.Time
	postAllowed func(s core.ChatStatus) bool
}

// New constructs the chat API.
func New(store core.RecordStore, schedulers *core.SchedulerRegistry, optFns ...func(o *Options)) *API {
	opts := Options{
		Logger:      logging.NoOpLogger{},
		Clock:       func() time.Time { return time.Now().UTC() },
		PostAllowed: func(s core.ChatStatus) bool { return s == core.StatusUserInput },
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &API{store: store, schedulers: schedulers, logger: opts.Logger, now: opts.Clock, postAllowed: opts.PostAllowed}
}

// Create opens a new chat owned by req.UserID and schedules the assistant's
// creation pipeline: createAndRun when starting messages are supplied, bare
// create otherwise.
func (a *API) Create(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	return a.open(ctx, req, func(ctx context.Context, s core.CommandScheduler, common core.CommonData) error {
		if len(req.Messages) > 0 {
			return s.CreateAndRun(ctx, common)
		}
		return s.Create(ctx, common)
	})
}

// SingleRun opens a chat that creates, runs one turn over the starting
// messages and tears itself down. Used for one-shot analyses where nobody
// posts a second message.
func (a *API) SingleRun(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	return a.open(ctx, req, func(ctx context.Context, s core.CommandScheduler, common core.CommonData) error {
		return s.SingleRun(ctx, common)
	})
}

func (a *API) open(ctx context.Context, req CreateRequest, schedule func(ctx context.Context, s core.CommandScheduler, common core.CommonData) error) (*CreateResult, error) {
	scheduler, err := a.schedulers.Match(req.Config)
	if err != nil {
		return nil, err
	}

	now := a.now()
	chatPath := core.ChatPath(a.store.NewID())
	dispatchID := a.store.NewID()
	state := &core.ChatState{
		UserID:           req.UserID,
		Config:           req.Config.Clone(),
		Status:           core.StatusProcessing,
		LatestDispatchID: dispatchID,
		Data:             core.MergeData(nil, req.Data),
		Meta:             core.MergeData(nil, req.ChatMeta),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	err = a.store.RunTransaction(ctx, func(tx core.Tx) error {
		if err := core.SaveChat(tx, chatPath, state); err != nil {
			return err
		}
		return tx.Set(core.DispatchPath(chatPath, dispatchID), core.Dispatch{CreatedAt: now})
	})
	if err != nil {
		return nil, err
	}

	if err := core.SaveMessages(ctx, a.store, chatPath, dispatchID, "", req.Messages, now); err != nil {
		return nil, err
	}
	common := core.CommonData{OwnerID: req.UserID, ChatPath: chatPath, DispatchID: dispatchID, Meta: req.WorkerMeta}
	if err := schedule(ctx, scheduler, common); err != nil {
		return nil, err
	}
	a.logger.Info("chat created", "chat", chatPath, "dispatcher", req.Config.DispatcherID, "messages", len(req.Messages))
	return &CreateResult{ChatPath: chatPath, Update: core.StateUpdate{Status: state.Status, Data: state.Data}}, nil
}

// PostMessage appends user messages to an idle chat and schedules postAndRun.
// Rejects with not-found, permission-denied for an owner mismatch, and
// failed-precondition when the status predicate says no.
func (a *API) PostMessage(ctx context.Context, chatPath string, req PostRequest) (*core.StateUpdate, error) {
	processing := core.StatusProcessing
	state, dispatchID, err := a.advance(ctx, chatPath, req.UserID,
		func(s core.ChatStatus) error {
			if !a.postAllowed(s) {
				return badStatus(chatPath, s)
			}
			return nil
		},
		core.ChatStateUpdate{Status: &processing},
	)
	if err != nil {
		return nil, err
	}

	if err := core.SaveMessages(ctx, a.store, chatPath, dispatchID, state.SessionID, req.Messages, a.now()); err != nil {
		return nil, err
	}
	scheduler, err := a.schedulers.Match(state.Config)
	if err != nil {
		return nil, err
	}
	common := core.CommonData{OwnerID: req.UserID, ChatPath: chatPath, DispatchID: dispatchID, Meta: req.WorkerMeta}
	if err := scheduler.PostAndRun(ctx, common); err != nil {
		return nil, err
	}
	a.logger.Info("messages posted", "chat", chatPath, "dispatch", dispatchID, "messages", len(req.Messages))
	return &core.StateUpdate{Status: state.Status, Data: state.Data}, nil
}

// CloseChat schedules teardown of a chat that is not already closing or
// closed. Stale in-flight work for prior dispatches self-aborts once the new
// dispatch id lands.
func (a *API) CloseChat(ctx context.Context, chatPath, userID string, workerMeta map[string]any) (*core.StateUpdate, error) {
	closing := core.StatusClosing
	state, dispatchID, err := a.advance(ctx, chatPath, userID,
		func(s core.ChatStatus) error {
			if s.IsClosed() {
				return badStatus(chatPath, s)
			}
			return nil
		},
		core.ChatStateUpdate{Status: &closing},
	)
	if err != nil {
		return nil, err
	}

	scheduler, err := a.schedulers.Match(state.Config)
	if err != nil {
		return nil, err
	}
	common := core.CommonData{OwnerID: userID, ChatPath: chatPath, DispatchID: dispatchID, Meta: workerMeta}
	if err := scheduler.Close(ctx, common); err != nil {
		return nil, err
	}
	a.logger.Info("chat closing", "chat", chatPath, "dispatch", dispatchID)
	return &core.StateUpdate{Status: state.Status, Data: state.Data}, nil
}

// advance is the shared transactional step behind PostMessage and CloseChat:
// read the chat, validate existence, ownership and status, allocate a fresh
// dispatch document and persist the updated chat pointing at it. Scheduling
// happens after commit, never inside the transaction, since the task
// scheduler does not participate in record-store transactions.
func (a *API) advance(ctx context.Context, chatPath, userID string, checkStatus func(s core.ChatStatus) error, update core.ChatStateUpdate) (*core.ChatState, string, error) {
	var (
		state      *core.ChatState
		dispatchID string
	)
	err := a.store.RunTransaction(ctx, func(tx core.Tx) error {
		var err error
		state, err = core.GetChat(tx, chatPath)
		if err != nil {
			return err
		}
		if state == nil {
			return core.NewErrorf(core.CodeNotFound, "chat %s not found", chatPath)
		}
		if state.UserID != userID {
			return core.NewErrorf(core.CodePermissionDenied, "chat %s does not belong to %s", chatPath, userID)
		}
		if err := checkStatus(state.Status); err != nil {
			return err
		}
		now := a.now()
		dispatchID = a.store.NewID()
		state.LatestDispatchID = dispatchID
		state.Apply(update, now)
		if err := tx.Set(core.DispatchPath(chatPath, dispatchID), core.Dispatch{CreatedAt: now}); err != nil {
			return err
		}
		return core.SaveChat(tx, chatPath, state)
	})
	if err != nil {
		return nil, "", err
	}
	return state, dispatchID, nil
}

// GetState reads the chat for its owner.
func (a *API) GetState(ctx context.Context, chatPath, userID string) (*core.ChatState, error) {
	snap, err := a.store.Get(ctx, chatPath)
	if err != nil {
		return nil, err
	}
	if !snap.Exists() {
		return nil, core.NewErrorf(core.CodeNotFound, "chat %s not found", chatPath)
	}
	var state core.ChatState
	if err := snap.Decode(&state); err != nil {
		return nil, core.WrapError(core.CodeInternal, "decoding chat "+chatPath, err)
	}
	if state.UserID != userID {
		return nil, core.NewErrorf(core.CodePermissionDenied, "chat %s does not belong to %s", chatPath, userID)
	}
	return &state, nil
}

// Messages returns the chat transcript in insertion order, owner checked.
func (a *API) Messages(ctx context.Context, chatPath, userID string, limit int) ([]core.ChatMessage, error) {
	if _, err := a.GetState(ctx, chatPath, userID); err != nil {
		return nil, err
	}
	return core.ListMessages(ctx, a.store, chatPath, limit)
}

func badStatus(chatPath string, s core.ChatStatus) error {
	return core.NewErrorf(core.CodeFailedPrecondition,
		"Can't perform this operation due to current chat state: chat %s is %s", chatPath, s)
}
