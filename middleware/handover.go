package middleware

import (
	"context"

	"github.com/chatloom/chatloom/core"
	"github.com/chatloom/chatloom/handover"
)

// HandOverDecision is what a trigger wants done with the current batch of
// messages.
type HandOverDecision struct {
	// Request, when non-nil, hands the chat over to the target it names.
	Request *handover.Request
	// Forward is passed on down the chain after a hand-over. Without a
	// hand-over the original messages continue unchanged and Forward is
	// ignored.
	Forward []core.NewMessage
}

// HandOverTrigger inspects outbound messages and decides whether the chat
// should change hands. Returning a zero decision passes the batch through.
type HandOverTrigger func(ctx context.Context, messages []core.NewMessage, chatPath string, state *core.ChatState) (HandOverDecision, error)

// HandOver builds the middleware stage that delegates chats to other
// assistants. The state mutation routes through the dispatch-guarded update,
// so a superseded dispatch cannot hand over a chat it no longer owns.
func HandOver(delegate *handover.Delegate, trigger HandOverTrigger) Middleware {
	return func(ctx context.Context, messages []core.NewMessage, chatPath string, state *core.ChatState, ctl Control) error {
		decision, err := trigger(ctx, messages, chatPath, state)
		if err != nil {
			return err
		}
		if decision.Request == nil {
			return ctl.Next(ctx, messages)
		}

		err = ctl.SafeUpdate(ctx, func(tx core.Tx, current *core.ChatState) error {
			_, err := delegate.HandOver(ctx, tx, chatPath, current, *decision.Request)
			return err
		})
		if err != nil {
			return err
		}
		if len(decision.Forward) == 0 {
			return nil
		}
		return ctl.Next(ctx, decision.Forward)
	}
}
