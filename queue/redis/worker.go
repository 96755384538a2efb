package redis

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"

	"github.com/chatloom/chatloom/core"
	"github.com/chatloom/chatloom/dispatch"
	"github.com/chatloom/chatloom/logging"
)

// Handler processes one delivery, typically dispatch.Runner.Run. A non-nil
// error requests redelivery of the same run with a bumped attempt counter.
type Handler func(ctx context.Context, d dispatch.Delivery, cmd core.Command) error

// WorkerOptions holds overrides passed to NewWorker.
type WorkerOptions struct {
	Logger logging.Logger
	Clock  func() time.Time
	// PollTimeout bounds each blocking pop, which doubles as the shutdown
	// latency.
	PollTimeout time.Duration
	// RetryInitial is the first redelivery delay; it grows exponentially per
	// attempt up to RetryMax.
	RetryInitial time.Duration
	RetryMax     time.Duration
}

// Worker consumes queues and feeds deliveries to the handler. Failed
// deliveries go back through the delayed set with an exponentially growing
// delay; the decision to stop retrying belongs to the dispatch guard, not to
// the transport.
type Worker struct {
	rdb          *redis.Client
	scheduler    *Scheduler
	handler      Handler
	queues       []string
	logger       logging.Logger
	now          func() time.Time
	pollTimeout  time.Duration
	retryInitial time.Duration
	retryMax     time.Duration
}

// NewWorker builds a worker over the scheduler's client for the given queues.
func NewWorker(scheduler *Scheduler, handler Handler, queues []string, optFns ...func(o *WorkerOptions)) *Worker {
	opts := WorkerOptions{
		Logger:       logging.NoOpLogger{},
		Clock:        func() time.Time { return time.Now().UTC() },
		PollTimeout:  time.Second,
		RetryInitial: 2 * time.Second,
		RetryMax:     5 * time.Minute,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Worker{
		rdb:          scheduler.rdb,
		scheduler:    scheduler,
		handler:      handler,
		queues:       queues,
		logger:       opts.Logger,
		now:          opts.Clock,
		pollTimeout:  opts.PollTimeout,
		retryInitial: opts.RetryInitial,
		retryMax:     opts.RetryMax,
	}
}

// Run consumes until the context is canceled.
func (w *Worker) Run(ctx context.Context) error {
	keys := make([]string, len(w.queues))
	for i, q := range w.queues {
		keys[i] = queueKey(q)
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		w.promoteDue(ctx)

		res, err := w.rdb.BRPop(ctx, w.pollTimeout, keys...).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.logger.Warn("queue pop failed", "error", err)
			w.waitForRedis(ctx)
			continue
		}
		// res is [key, payload].
		w.handle(ctx, []byte(res[1]))
	}
}

// promoteDue moves delayed entries whose due time passed onto their live
// lists.
func (w *Worker) promoteDue(ctx context.Context) {
	nowMilli := w.now().UnixMilli()
	for _, q := range w.queues {
		due, err := w.rdb.ZRangeByScore(ctx, delayedKey(q), &redis.ZRangeBy{
			Min: "-inf", Max: formatMilli(nowMilli), Count: 100,
		}).Result()
		if err != nil || len(due) == 0 {
			continue
		}
		for _, payload := range due {
			removed, err := w.rdb.ZRem(ctx, delayedKey(q), payload).Result()
			if err != nil || removed == 0 {
				// Another worker claimed it.
				continue
			}
			if err := w.rdb.LPush(ctx, queueKey(q), payload).Err(); err != nil {
				w.logger.Error("promoting delayed delivery failed", "queue", q, "error", err)
			}
		}
	}
}

func (w *Worker) handle(ctx context.Context, payload []byte) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		w.logger.Error("dropping undecodable envelope", "error", err)
		return
	}
	d := dispatch.Delivery{Queue: env.Queue, RunID: env.ID, Attempt: env.Attempt}
	err := w.handler(ctx, d, env.Command)
	if err == nil {
		return
	}

	next := env
	next.Attempt++
	delay := w.redeliveryDelay(next.Attempt)
	w.logger.Info("delivery requeued",
		"queue", env.Queue,
		"delivery", env.ID,
		"attempt", next.Attempt,
		"delay", delay,
		"error", err,
	)
	if pushErr := w.scheduler.push(ctx, next, delay); pushErr != nil {
		w.logger.Error("requeueing delivery failed", "queue", env.Queue, "delivery", env.ID, "error", pushErr)
	}
}

// redeliveryDelay walks the exponential curve up to the given attempt.
func (w *Worker) redeliveryDelay(attempt int) time.Duration {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = w.retryInitial
	bo.MaxInterval = w.retryMax
	bo.MaxElapsedTime = 0
	bo.RandomizationFactor = 0
	delay := bo.NextBackOff()
	for i := 1; i < attempt; i++ {
		delay = bo.NextBackOff()
	}
	return delay
}

// waitForRedis blocks until a ping succeeds, backing off exponentially.
func (w *Worker) waitForRedis(ctx context.Context) {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 0
	_ = backoff.Retry(func() error {
		return w.rdb.Ping(ctx).Err()
	}, backoff.WithContext(bo, ctx))
}

func formatMilli(ms int64) string {
	return strconv.FormatInt(ms, 10)
}
