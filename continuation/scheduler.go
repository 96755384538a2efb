package continuation

import (
	"context"
	"time"

	"github.com/chatloom/chatloom/core"
	"github.com/chatloom/chatloom/logging"
)

// SchedulerOptions holds overrides passed to NewScheduler.
type SchedulerOptions struct {
	Logger logging.Logger
	Clock  func() time.Time
}

// Scheduler lets an asynchronous tool completion push its result back into a
// suspended continuation and wake the owning dispatch up.
type Scheduler struct {
	store        core.RecordStore
	tasks        core.TaskScheduler
	defaultQueue string
	logger       logging.Logger
	now          func() time.Time
}

// NewScheduler constructs a continuation Scheduler. Resume commands without
// an explicit queue binding are scheduled onto defaultQueue.
func NewScheduler(store core.RecordStore, tasks core.TaskScheduler, defaultQueue string, optFns ...func(o *SchedulerOptions)) *Scheduler {
	opts := SchedulerOptions{
		Logger: logging.NoOpLogger{},
		Clock:  func() time.Time { return time.Now().UTC() },
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Scheduler{store: store, tasks: tasks, defaultQueue: defaultQueue, logger: opts.Logger, now: opts.Clock}
}

// Continue resolves the tool call referenced by the resume command with the
// given response and re-enqueues the command so the command queue runner
// resumes the outer dispatch.
//
// The write is transactional and write-once: a missing continuation or tool
// call is a permanent not-found, an already-resolved call is a permanent
// already-exists. A successful response's data is folded into the
// continuation's accumulated payload.
func (s *Scheduler) Continue(ctx context.Context, resumeCmd core.Command, response core.ToolCallResponse) error {
	ref := resumeCmd.Continuation
	if ref == nil {
		return core.NewError(core.CodeInternal, "resume command carries no continuation reference")
	}
	callPath := core.ToolCallPath(ref.ContinuationPath, ref.ToolCallID)

	err := s.store.RunTransaction(ctx, func(tx core.Tx) error {
		record, err := core.GetContinuation(tx, ref.ContinuationPath)
		if err != nil {
			return err
		}
		if record == nil {
			return core.NewErrorf(core.CodeNotFound, "continuation %s not found", ref.ContinuationPath)
		}
		call, err := core.GetToolCall(tx, callPath)
		if err != nil {
			return err
		}
		if call == nil {
			return core.NewErrorf(core.CodeNotFound, "tool call %s not found", callPath)
		}
		if call.Resolved() {
			return core.NewErrorf(core.CodeAlreadyExists, "tool call %s is already resolved", callPath)
		}
		if err := tx.Merge(callPath, map[string]any{"response": &response}); err != nil {
			return err
		}
		fields := map[string]any{"updatedAt": s.now()}
		if response.Kind == core.ResponseSuccess && response.Data != nil {
			fields["data"] = core.MergeData(record.Data, response.Data)
		}
		return tx.Merge(ref.ContinuationPath, fields)
	})
	if err != nil {
		return err
	}

	queue := resumeCmd.Queue
	if queue == "" {
		queue = s.defaultQueue
	}
	s.logger.Debug("continuation resumed", "continuation", ref.ContinuationPath, "tool_call", ref.ToolCallID, "queue", queue)
	return s.tasks.Schedule(ctx, queue, []core.Command{resumeCmd}, nil)
}
