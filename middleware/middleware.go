package middleware

import (
	"context"

	"github.com/chatloom/chatloom/core"
	"github.com/chatloom/chatloom/dispatch"
)

// Control is the surface a middleware stage works with: everything the
// dispatch control offers plus the continuation to the next stage. A stage
// that never calls Next drops the messages on the floor, which is a valid way
// to stop the chain.
type Control interface {
	dispatch.Control
	// Next forwards messages to the next stage, or to the terminal stage that
	// persists them when this is the last middleware.
	Next(ctx context.Context, messages []core.NewMessage) error
}

// Middleware is one processing stage over an assistant's outbound messages.
type Middleware func(ctx context.Context, messages []core.NewMessage, chatPath string, state *core.ChatState, ctl Control) error

// Chain is an ordered middleware pipeline ending in a terminal stage that
// saves messages under the current dispatch.
type Chain struct {
	stages []Middleware
}

// NewChain builds a pipeline; stages run in the given order.
func NewChain(stages ...Middleware) *Chain {
	return &Chain{stages: stages}
}

// Process pushes messages through the chain for one dispatch. The terminal
// stage persists whatever messages survive via ctl.SaveMessages.
func (c *Chain) Process(ctx context.Context, messages []core.NewMessage, chatPath string, state *core.ChatState, ctl dispatch.Control) error {
	next := func(ctx context.Context, msgs []core.NewMessage) error {
		return ctl.SaveMessages(ctx, msgs)
	}
	for i := len(c.stages) - 1; i >= 0; i-- {
		stage := c.stages[i]
		forward := next
		next = func(ctx context.Context, msgs []core.NewMessage) error {
			return stage(ctx, msgs, chatPath, state, &chainControl{Control: ctl, next: forward})
		}
	}
	return next(ctx, messages)
}

type chainControl struct {
	dispatch.Control
	next func(ctx context.Context, messages []core.NewMessage) error
}

var _ Control = (*chainControl)(nil)

func (c *chainControl) Next(ctx context.Context, messages []core.NewMessage) error {
	return c.next(ctx, messages)
}
