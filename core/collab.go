package core

import "context"

// CommandScheduler enqueues the vendor-specific action sequence for one
// assistant-engine family. The engine only calls these methods and never
// inspects vendor internals; which scheduler handles a chat is decided by
// IsSupported over the chat's assistant config.
type CommandScheduler interface {
	// IsSupported reports whether this scheduler understands the config.
	IsSupported(config AssistantConfig) bool
	// Create schedules chat resource creation without an assistant turn.
	Create(ctx context.Context, common CommonData) error
	// CreateAndRun schedules creation followed by the first assistant turn.
	CreateAndRun(ctx context.Context, common CommonData) error
	// SingleRun schedules a create-run-close pipeline for one-shot analyses.
	SingleRun(ctx context.Context, common CommonData) error
	// PostAndRun schedules posting buffered messages and an assistant turn.
	PostAndRun(ctx context.Context, common CommonData) error
	// HandOver schedules the initial turn of a newly installed assistant.
	HandOver(ctx context.Context, common CommonData, messages []NewMessage) error
	// HandBack notifies the restored assistant after a hand-back.
	HandBack(ctx context.Context, common CommonData, messages []NewMessage) error
	// Close schedules chat teardown.
	Close(ctx context.Context, common CommonData) error
}

// SchedulerRegistry resolves the command scheduler for an assistant config.
// Registration order matters: the first scheduler whose IsSupported matches
// wins. Exactly-one-match is a configuration invariant; Validate enforces it
// at startup so Match never has to fall back at runtime.
type SchedulerRegistry struct {
	schedulers []CommandScheduler
}

// NewSchedulerRegistry creates a registry over the given schedulers.
func NewSchedulerRegistry(schedulers ...CommandScheduler) *SchedulerRegistry {
	return &SchedulerRegistry{schedulers: schedulers}
}

// Register appends a scheduler to the resolution order.
func (r *SchedulerRegistry) Register(s CommandScheduler) {
	r.schedulers = append(r.schedulers, s)
}

// Match returns the first scheduler supporting the config. No match is an
// internal error: the registry was mis-configured for this deployment.
func (r *SchedulerRegistry) Match(config AssistantConfig) (CommandScheduler, error) {
	for _, s := range r.schedulers {
		if s.IsSupported(config) {
			return s, nil
		}
	}
	return nil, NewErrorf(CodeInternal, "no command scheduler registered for dispatcher %q", config.DispatcherID)
}

// Validate checks that every config resolves to exactly one scheduler.
func (r *SchedulerRegistry) Validate(configs ...AssistantConfig) error {
	for _, c := range configs {
		matches := 0
		for _, s := range r.schedulers {
			if s.IsSupported(c) {
				matches++
			}
		}
		if matches != 1 {
			return NewErrorf(CodeInternal, "dispatcher %q matched %d command schedulers, want 1", c.DispatcherID, matches)
		}
	}
	return nil
}

// Cleaner registers cleanup commands during a chat's life and replays them on
// teardown. Registration persists the command so cleanup survives restarts;
// replay is best-effort per command.
type Cleaner interface {
	// Register persists a cleanup command for the chat within the caller's
	// transaction.
	Register(tx Tx, chatPath string, command Command) error
	// Cleanup replays all registered cleanup commands to their queues.
	Cleanup(ctx context.Context, chatPath string) error
}
