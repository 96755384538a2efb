package dispatch

import (
	"context"
	"time"

	"github.com/chatloom/chatloom/core"
	"github.com/chatloom/chatloom/logging"
)

// Control is the surface an action handler uses to affect the chat and the
// remaining command queue. All of it funnels through the owning dispatch's
// guard, so a superseded dispatch can never apply effects.
type Control interface {
	SafeUpdater
	// SaveMessages appends assistant/user messages to the transcript under
	// the current dispatch.
	SaveMessages(ctx context.Context, messages []core.NewMessage) error
	// Enqueue resets the remaining command queue to the given actions,
	// replacing whatever actions the current command still carried.
	Enqueue(ctx context.Context, actions ...string) error
	// CompleteQueue finishes the command queue immediately, skipping any
	// remaining actions.
	CompleteQueue(ctx context.Context) error
}

// ActionHandler executes one named action for a dispatch.
type ActionHandler func(ctx context.Context, state *core.ChatState, cmd core.Command, ctl Control) error

// QueueCompleteFn is notified when a dispatch's action list is exhausted.
// Errors are logged and swallowed: completion notification is best effort and
// never fails the dispatch.
type QueueCompleteFn func(ctx context.Context, chatPath string, meta map[string]any) error

// RunnerOptions holds dependency + configuration overrides passed to NewRunner.
type RunnerOptions struct {
	// OnQueueComplete is invoked after the last action of a command queue.
	OnQueueComplete QueueCompleteFn
	// Logger receives structured runner diagnostics.
	Logger logging.Logger
	// Clock overrides time.Now for tests.
	Clock func() time.Time
}

// Runner executes the ordered action list of delivered commands, one action
// per delivery, chaining the rest through the task scheduler.
type Runner struct {
	guard           *Guard
	store           core.RecordStore
	scheduler       core.TaskScheduler
	handlers        map[string]ActionHandler
	onQueueComplete QueueCompleteFn
	logger          logging.Logger
	now             func() time.Time
}

// NewRunner constructs a Runner over the guard with optional overrides.
func NewRunner(guard *Guard, store core.RecordStore, scheduler core.TaskScheduler, optFns ...func(o *RunnerOptions)) *Runner {
	opts := RunnerOptions{
		Logger: logging.NoOpLogger{},
		Clock:  func() time.Time { return time.Now().UTC() },
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Runner{
		guard:           guard,
		store:           store,
		scheduler:       scheduler,
		handlers:        make(map[string]ActionHandler),
		onQueueComplete: opts.OnQueueComplete,
		logger:          opts.Logger,
		now:             opts.Clock,
	}
}

// RegisterHandler binds an action name to its handler. Actions without a
// handler fail their dispatch with unimplemented, which is permanent.
func (r *Runner) RegisterHandler(action string, h ActionHandler) {
	r.handlers[action] = h
}

// Run processes one delivery: acquires the dispatch lock, executes the
// command's head action, then either re-enqueues the remainder or completes
// the queue.
func (r *Runner) Run(ctx context.Context, d Delivery, cmd core.Command) error {
	return r.guard.DispatchWithCheck(ctx, d, cmd, func(ctx context.Context, state *core.ChatState, cmd core.Command, updater SafeUpdater) error {
		action := cmd.HeadAction()
		if action == "" {
			r.notifyQueueComplete(ctx, cmd)
			return nil
		}
		handler, ok := r.handlers[action]
		if !ok {
			return core.NewErrorf(core.CodeUnimplemented, "no handler registered for action %q", action)
		}

		ctl := &control{runner: r, updater: updater, delivery: d, cmd: cmd, state: state}
		if err := handler(ctx, state, cmd, ctl); err != nil {
			return err
		}
		if ctl.queueHandled {
			return nil
		}

		next := cmd.Advance()
		if len(next.Actions) > 0 {
			return r.scheduler.Schedule(ctx, r.queueFor(next, d), []core.Command{next}, nil)
		}
		r.notifyQueueComplete(ctx, cmd)
		return nil
	})
}

func (r *Runner) queueFor(cmd core.Command, d Delivery) string {
	if cmd.Queue != "" {
		return cmd.Queue
	}
	return d.Queue
}

func (r *Runner) notifyQueueComplete(ctx context.Context, cmd core.Command) {
	if r.onQueueComplete == nil {
		return
	}
	if err := r.onQueueComplete(ctx, cmd.ChatPath, cmd.Meta); err != nil {
		r.logger.Warn("queue complete hook failed", "chat", cmd.ChatPath, "error", err)
	}
}

// control implements Control for one delivery.
type control struct {
	runner   *Runner
	updater  SafeUpdater
	delivery Delivery
	cmd      core.Command
	state    *core.ChatState

	// queueHandled suppresses the runner's default chaining once the handler
	// has taken over the remaining queue.
	queueHandled bool
}

var _ Control = (*control)(nil)

func (c *control) SafeUpdate(ctx context.Context, fn StateUpdateFn) error {
	return c.updater.SafeUpdate(ctx, fn)
}

func (c *control) SaveMessages(ctx context.Context, messages []core.NewMessage) error {
	return core.SaveMessages(ctx, c.runner.store, c.cmd.ChatPath, c.cmd.DispatchID, c.state.SessionID, messages, c.runner.now())
}

func (c *control) Enqueue(ctx context.Context, actions ...string) error {
	c.queueHandled = true
	next := c.cmd
	next.Actions = actions
	return c.runner.scheduler.Schedule(ctx, c.runner.queueFor(next, c.delivery), []core.Command{next}, nil)
}

func (c *control) CompleteQueue(ctx context.Context) error {
	c.queueHandled = true
	c.runner.notifyQueueComplete(ctx, c.cmd)
	return nil
}
