package dispatch

import (
	"context"
	"time"

	"github.com/chatloom/chatloom/core"
	"github.com/chatloom/chatloom/logging"
)

// Delivery describes one task-queue delivery: the queue it arrived on, the
// transport's stable delivery id (reused across redeliveries, serving as the
// Run id) and the zero-based retry count.
type Delivery struct {
	Queue   string
	RunID   string
	Attempt int
}

// StateUpdateFn mutates a freshly read chat state inside a transaction. The
// guard persists the mutated state after the function returns; the function
// may add further writes (stack entries, cleanup registrations) through tx.
type StateUpdateFn func(tx core.Tx, state *core.ChatState) error

// SafeUpdater applies chat state mutations gated on the dispatch still being
// the chat's latest. A stale dispatch's update is discarded silently: that is
// an expected race, not a fault.
type SafeUpdater interface {
	SafeUpdate(ctx context.Context, fn StateUpdateFn) error
}

// WorkFn performs the delivered command's action. It runs outside the lock
// transaction so it may do arbitrary I/O, and must route every chat mutation
// through the provided updater.
type WorkFn func(ctx context.Context, state *core.ChatState, cmd core.Command, updater SafeUpdater) error

// GuardOptions holds dependency overrides passed to NewGuard.
type GuardOptions struct {
	// Cleaner replays registered cleanup commands when a chat fails.
	Cleaner core.Cleaner
	// Logger receives structured guard diagnostics.
	Logger logging.Logger
	// Clock overrides time.Now for tests.
	Clock func() time.Time
}

// Guard is the per-chat single-writer lock. It admits at most one productive
// Run per dispatch and drops duplicate, late and parallel deliveries.
type Guard struct {
	store     core.RecordStore
	scheduler core.TaskScheduler
	cleaner   core.Cleaner
	logger    logging.Logger
	now       func() time.Time
}

// NewGuard constructs a Guard with optional overrides.
func NewGuard(store core.RecordStore, scheduler core.TaskScheduler, optFns ...func(o *GuardOptions)) *Guard {
	opts := GuardOptions{
		Logger: logging.NoOpLogger{},
		Clock:  func() time.Time { return time.Now().UTC() },
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Guard{
		store:     store,
		scheduler: scheduler,
		cleaner:   opts.Cleaner,
		logger:    opts.Logger,
		now:       opts.Clock,
	}
}

// DispatchWithCheck acquires the dispatch lock for the delivery and, if it
// passes, runs work with the chat state snapshot.
//
// The lock transaction verifies that the chat exists, that the command's
// dispatch id still equals the chat's latest, and that this delivery's Run is
// not already running or complete. Any failed check is a silent no-op. On
// pass the Run is written as running with the delivery's attempt count.
//
// A nil work error completes the Run. A permanent work error, or a transient
// one at the queue's retry ceiling, fails the chat, runs cleanup, completes
// the Run and is swallowed. Any other error marks the Run waitingForRetry and
// is returned so the transport redelivers with backoff.
func (g *Guard) DispatchWithCheck(ctx context.Context, d Delivery, cmd core.Command, work WorkFn) error {
	runPath := core.RunPath(cmd.ChatPath, cmd.DispatchID, d.RunID)

	var state *core.ChatState
	err := g.store.RunTransaction(ctx, func(tx core.Tx) error {
		state = nil
		chat, err := core.GetChat(tx, cmd.ChatPath)
		if err != nil {
			return err
		}
		if chat == nil {
			g.logger.Warn("dropping delivery for missing chat", "chat", cmd.ChatPath, "run_id", d.RunID)
			return nil
		}
		if chat.LatestDispatchID != cmd.DispatchID {
			g.logger.Debug("dropping superseded dispatch",
				"chat", cmd.ChatPath,
				"dispatch_id", cmd.DispatchID,
				"latest_dispatch_id", chat.LatestDispatchID,
			)
			return nil
		}
		run, err := core.GetRun(tx, runPath)
		if err != nil {
			return err
		}
		if run != nil && (run.Status == core.RunRunning || run.Status == core.RunComplete) {
			g.logger.Debug("dropping duplicate delivery", "chat", cmd.ChatPath, "run_id", d.RunID, "run_status", run.Status)
			return nil
		}
		if err := tx.Set(runPath, core.Run{Status: core.RunRunning, Attempt: d.Attempt, CreatedAt: g.now()}); err != nil {
			return err
		}
		state = chat
		return nil
	})
	if err != nil {
		return err
	}
	if state == nil {
		return nil
	}

	updater := &safeUpdater{store: g.store, chatPath: cmd.ChatPath, dispatchID: cmd.DispatchID, logger: g.logger, now: g.now}
	workErr := work(ctx, state, cmd, updater)
	if workErr == nil {
		return g.setRunStatus(ctx, runPath, core.RunComplete)
	}

	if core.IsPermanent(workErr) {
		g.logger.Error("permanent failure, failing chat", "chat", cmd.ChatPath, "error", workErr)
		return g.failChat(ctx, cmd, runPath, workErr)
	}
	if max := g.scheduler.MaxRetries(d.Queue); max >= 0 && d.Attempt+1 >= max {
		g.logger.Error("retry ceiling reached, failing chat",
			"chat", cmd.ChatPath,
			"queue", d.Queue,
			"attempt", d.Attempt,
			"max_retries", max,
			"error", workErr,
		)
		return g.failChat(ctx, cmd, runPath, workErr)
	}

	if err := g.setRunStatus(ctx, runPath, core.RunWaitingForRetry); err != nil {
		g.logger.Error("failed to mark run waiting for retry", "run", runPath, "error", err)
	}
	return workErr
}

// failChat moves the chat to failed with the error recorded, replays cleanup
// and completes the Run. The work error is swallowed: failing is terminal, a
// transport retry would only re-fail.
func (g *Guard) failChat(ctx context.Context, cmd core.Command, runPath string, cause error) error {
	failed := core.StatusFailed
	lastError := core.ErrorText(cause)
	err := g.store.RunTransaction(ctx, func(tx core.Tx) error {
		chat, err := core.GetChat(tx, cmd.ChatPath)
		if err != nil {
			return err
		}
		if chat == nil || chat.LatestDispatchID != cmd.DispatchID {
			return nil
		}
		chat.Apply(core.ChatStateUpdate{Status: &failed, LastError: &lastError}, g.now())
		return core.SaveChat(tx, cmd.ChatPath, chat)
	})
	if err != nil {
		g.logger.Error("failed to record chat failure", "chat", cmd.ChatPath, "error", err)
	}
	if g.cleaner != nil {
		if err := g.cleaner.Cleanup(ctx, cmd.ChatPath); err != nil {
			g.logger.Error("chat cleanup failed", "chat", cmd.ChatPath, "error", err)
		}
	}
	if err := g.setRunStatus(ctx, runPath, core.RunComplete); err != nil {
		g.logger.Error("failed to complete run", "run", runPath, "error", err)
	}
	return nil
}

func (g *Guard) setRunStatus(ctx context.Context, runPath string, status core.RunStatus) error {
	return g.store.RunTransaction(ctx, func(tx core.Tx) error {
		return tx.Merge(runPath, map[string]any{"status": status})
	})
}

// safeUpdater re-checks the dispatch id in a fresh transaction before every
// state mutation, protecting in-flight work against a superseding dispatch.
type safeUpdater struct {
	store      core.RecordStore
	chatPath   string
	dispatchID string
	logger     logging.Logger
	now        func() time.Time
}

var _ SafeUpdater = (*safeUpdater)(nil)

func (u *safeUpdater) SafeUpdate(ctx context.Context, fn StateUpdateFn) error {
	return u.store.RunTransaction(ctx, func(tx core.Tx) error {
		chat, err := core.GetChat(tx, u.chatPath)
		if err != nil {
			return err
		}
		if chat == nil || chat.LatestDispatchID != u.dispatchID {
			u.logger.Debug("discarding state update for superseded dispatch", "chat", u.chatPath, "dispatch_id", u.dispatchID)
			return nil
		}
		if err := fn(tx, chat); err != nil {
			return err
		}
		return core.SaveChat(tx, u.chatPath, chat)
	})
}

// ApplyUpdate is a convenience wrapper applying a plain ChatStateUpdate
// through a SafeUpdater.
func ApplyUpdate(ctx context.Context, u SafeUpdater, update core.ChatStateUpdate) error {
	return u.SafeUpdate(ctx, func(tx core.Tx, state *core.ChatState) error {
		state.Apply(update, time.Now().UTC())
		return nil
	})
}
