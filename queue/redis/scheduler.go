package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/chatloom/chatloom/core"
	"github.com/chatloom/chatloom/logging"
)

const keyPrefix = "chatloom:"

// envelope is the wire shape of one queued delivery.
type envelope struct {
	ID      string       `json:"id"`
	Queue   string       `json:"queue"`
	Attempt int          `json:"attempt"`
	Command core.Command `json:"command"`
}

func queueKey(name string) string   { return keyPrefix + "queue:" + name }
func delayedKey(name string) string { return keyPrefix + "delayed:" + name }

// SchedulerOptions holds overrides passed to NewScheduler.
type SchedulerOptions struct {
	// Retries maps queue names to retry ceilings; unnamed queues are
	// unlimited.
	Retries map[string]int
	Logger  logging.Logger
	Clock   func() time.Time
}

// Scheduler is the core.TaskScheduler over Redis.
type Scheduler struct {
	rdb     *redis.Client
	retries map[string]int
	logger  logging.Logger
	now     func() time.Time
}

var _ core.TaskScheduler = (*Scheduler)(nil)

// NewScheduler wraps an existing Redis client.
func NewScheduler(rdb *redis.Client, optFns ...func(o *SchedulerOptions)) *Scheduler {
	opts := SchedulerOptions{
		Logger: logging.NoOpLogger{},
		Clock:  func() time.Time { return time.Now().UTC() },
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Scheduler{rdb: rdb, retries: opts.Retries, logger: opts.Logger, now: opts.Clock}
}

// Schedule enqueues the commands. A command bound to an explicit queue
// overrides queueName for that command; a Delay routes through the delayed
// set instead of the live list.
func (s *Scheduler) Schedule(ctx context.Context, queueName string, commands []core.Command, opts *core.DeliveryOptions) error {
	for _, cmd := range commands {
		queue := queueName
		if cmd.Queue != "" {
			queue = cmd.Queue
		}
		env := envelope{ID: uuid.NewString(), Queue: queue, Command: cmd}
		if err := s.push(ctx, env, deliveryDelay(opts)); err != nil {
			return err
		}
	}
	return nil
}

// MaxRetries returns the configured ceiling for the queue, -1 when unset.
func (s *Scheduler) MaxRetries(queueName string) int {
	if n, ok := s.retries[queueName]; ok {
		return n
	}
	return -1
}

func (s *Scheduler) push(ctx context.Context, env envelope, delay time.Duration) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return core.WrapError(core.CodeInternal, "encoding command envelope", err)
	}
	if delay > 0 {
		due := float64(s.now().Add(delay).UnixMilli())
		err = s.rdb.ZAdd(ctx, delayedKey(env.Queue), redis.Z{Score: due, Member: payload}).Err()
	} else {
		err = s.rdb.LPush(ctx, queueKey(env.Queue), payload).Err()
	}
	if err != nil {
		return core.WrapError(core.CodeUnavailable, "enqueueing to "+env.Queue, err)
	}
	s.logger.Debug("command scheduled",
		"queue", env.Queue,
		"delivery", env.ID,
		"attempt", env.Attempt,
		"chat", env.Command.ChatPath,
		"delay", delay,
	)
	return nil
}

func deliveryDelay(opts *core.DeliveryOptions) time.Duration {
	if opts == nil {
		return 0
	}
	return opts.Delay
}
