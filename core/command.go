package core

import (
	"context"
	"time"
)

// CommonData carries the identifying fields shared by every queue command for
// one dispatch: who owns the chat, where it lives, and which dispatch the
// command belongs to.
type CommonData struct {
	OwnerID    string         `json:"ownerId" bson:"ownerId"`
	ChatPath   string         `json:"chatPath" bson:"chatPath"`
	DispatchID string         `json:"dispatchId" bson:"dispatchId"`
	Meta       map[string]any `json:"meta,omitempty" bson:"meta,omitempty"`
}

// ContinuationRef locates a suspended tool call so a resume delivery can find
// exactly the record it completes.
type ContinuationRef struct {
	ContinuationPath string `json:"continuationPath" bson:"continuationPath"`
	ToolCallID       string `json:"toolCallId" bson:"toolCallId"`
}

// Command is the message enqueued to the task queue: common dispatch fields
// plus the ordered list of remaining actions. Queue, when set, binds the
// command to an explicit queue overriding the caller's default. Continuation
// is set only on resume commands produced by the continuation engine.
type Command struct {
	CommonData   `json:",inline" bson:",inline"`
	Actions      []string         `json:"actions" bson:"actions"`
	Queue        string           `json:"queue,omitempty" bson:"queue,omitempty"`
	Continuation *ContinuationRef `json:"continuation,omitempty" bson:"continuation,omitempty"`
}

// NewCommand builds a command for the given dispatch and action list.
func NewCommand(common CommonData, actions ...string) Command {
	return Command{CommonData: common, Actions: actions}
}

// HeadAction returns the action the next delivery executes, or "" when the
// list is exhausted.
func (c Command) HeadAction() string {
	if len(c.Actions) == 0 {
		return ""
	}
	return c.Actions[0]
}

// Advance returns a copy with the head action stripped off, used by the queue
// runner to chain the remaining actions through a re-enqueue.
func (c Command) Advance() Command {
	out := c
	if len(c.Actions) > 0 {
		out.Actions = append([]string(nil), c.Actions[1:]...)
	}
	return out
}

// BoundTo returns a copy bound to an explicit queue.
func (c Command) BoundTo(queue string) Command {
	out := c
	out.Queue = queue
	return out
}

// DeliveryOptions tune how a scheduled command is delivered.
type DeliveryOptions struct {
	// Delay postpones the first delivery.
	Delay time.Duration
}

// TaskScheduler is the task-queue transport contract: it delivers commands to
// workers at least once and reports the per-queue retry ceiling.
type TaskScheduler interface {
	// Schedule enqueues commands onto the named queue. A command bound to an
	// explicit queue overrides queueName for that command.
	Schedule(ctx context.Context, queueName string, commands []Command, opts *DeliveryOptions) error
	// MaxRetries returns the configured retry ceiling for a queue, -1 for
	// unlimited.
	MaxRetries(queueName string) int
}
