package cleaner

import (
	"context"
	"time"

	"github.com/chatloom/chatloom/core"
	"github.com/chatloom/chatloom/logging"
)

// entry is the persisted form of one registered cleanup command.
type entry struct {
	Command   core.Command `json:"command" bson:"command"`
	CreatedAt time.Time    `json:"createdAt" bson:"createdAt"`
}

// Options holds overrides passed to New.
type Options struct {
	Logger logging.Logger
	Clock  func() time.Time
}

// Cleaner is the durable core.Cleaner implementation.
type Cleaner struct {
	store        core.RecordStore
	tasks        core.TaskScheduler
	defaultQueue string
	logger       logging.Logger
	now          func() time.Time
}

var _ core.Cleaner = (*Cleaner)(nil)

// New constructs a Cleaner replaying unbound commands to defaultQueue.
func New(store core.RecordStore, tasks core.TaskScheduler, defaultQueue string, optFns ...func(o *Options)) *Cleaner {
	opts := Options{
		Logger: logging.NoOpLogger{},
		Clock:  func() time.Time { return time.Now().UTC() },
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Cleaner{store: store, tasks: tasks, defaultQueue: defaultQueue, logger: opts.Logger, now: opts.Clock}
}

// Register persists the command under the chat's cleanup collection.
func (c *Cleaner) Register(tx core.Tx, chatPath string, command core.Command) error {
	return tx.Set(core.Join(core.CleanupPath(chatPath), c.store.NewID()), entry{
		Command:   command,
		CreatedAt: c.now(),
	})
}

// Cleanup replays every registered command to its queue, in registration
// order, and removes the ones that were accepted. A command whose scheduling
// fails stays registered so a later Cleanup can retry it; the first failure
// is returned after the whole list was attempted.
func (c *Cleaner) Cleanup(ctx context.Context, chatPath string) error {
	snaps, err := c.store.Documents(ctx, core.CleanupPath(chatPath), core.Query{OrderBy: "createdAt"})
	if err != nil {
		return err
	}
	if len(snaps) == 0 {
		return nil
	}

	var firstErr error
	replayed := 0
	for _, snap := range snaps {
		var e entry
		if err := snap.Decode(&e); err != nil {
			c.logger.Warn("skipping undecodable cleanup command", "path", snap.Path(), "error", err)
			if firstErr == nil {
				firstErr = core.WrapError(core.CodeInternal, "decoding cleanup command "+snap.Path(), err)
			}
			continue
		}
		queue := e.Command.Queue
		if queue == "" {
			queue = c.defaultQueue
		}
		if err := c.tasks.Schedule(ctx, queue, []core.Command{e.Command}, nil); err != nil {
			c.logger.Warn("cleanup command not scheduled", "chat", chatPath, "queue", queue, "error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if err := c.remove(ctx, snap.Path()); err != nil {
			c.logger.Warn("replayed cleanup command not removed", "path", snap.Path(), "error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		replayed++
	}
	c.logger.Info("chat cleanup replayed", "chat", chatPath, "commands", replayed, "registered", len(snaps))
	return firstErr
}

func (c *Cleaner) remove(ctx context.Context, path string) error {
	return c.store.RunTransaction(ctx, func(tx core.Tx) error {
		return tx.Delete(path)
	})
}
