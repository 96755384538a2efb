package continuation

import (
	"context"

	"github.com/chatloom/chatloom/core"
)

// Return is the closed set of outcomes a tool dispatcher can produce for one
// call. Concrete variants implement the unexported isReturn marker.
type Return interface{ isReturn() }

// DataReturn resolves the call successfully with a new accumulated data
// payload and no explicit result for the assistant.
type DataReturn struct {
	Data map[string]any
}

func (DataReturn) isReturn() {}

// ResultReturn resolves the call with an explicit response record: a success
// carrying data and/or a result payload, or an error.
type ResultReturn struct {
	Response core.ToolCallResponse
}

func (ResultReturn) isReturn() {}

// suspendReturn is the stateless sentinel for "I will complete this call
// asynchronously; push the result through the continuation scheduler using
// the resume command you were given."
type suspendReturn struct{}

func (suspendReturn) isReturn() {}

// Suspended is the suspension sentinel returned by long-running tools.
var Suspended Return = suspendReturn{}

// ToolDispatcher implements the named tools of one assistant family. It is
// registered under a dispatcher id and invoked strictly sequentially within a
// pass, each call seeing the data payload as folded by its predecessors.
type ToolDispatcher interface {
	Dispatch(ctx context.Context, data map[string]any, toolName string, args map[string]any, resume core.Command) (Return, error)
}

// ToolDispatcherFunc adapts a function to the ToolDispatcher interface.
type ToolDispatcherFunc func(ctx context.Context, data map[string]any, toolName string, args map[string]any, resume core.Command) (Return, error)

// Dispatch invokes the function.
func (f ToolDispatcherFunc) Dispatch(ctx context.Context, data map[string]any, toolName string, args map[string]any, resume core.Command) (Return, error) {
	return f(ctx, data, toolName, args, resume)
}

// Registry maps dispatcher ids to tool dispatchers. Lookup of an unregistered
// id is a permanent unimplemented error by design, never a silent fallback.
type Registry struct {
	dispatchers map[string]ToolDispatcher
}

// NewRegistry creates an empty dispatcher registry.
func NewRegistry() *Registry {
	return &Registry{dispatchers: make(map[string]ToolDispatcher)}
}

// Register binds a dispatcher id. Registering the same id twice replaces the
// earlier binding.
func (r *Registry) Register(id string, d ToolDispatcher) {
	r.dispatchers[id] = d
}

// Lookup resolves a dispatcher id.
func (r *Registry) Lookup(id string) (ToolDispatcher, error) {
	d, ok := r.dispatchers[id]
	if !ok {
		return nil, core.NewErrorf(core.CodeUnimplemented, "tool dispatcher %q is not registered", id)
	}
	return d, nil
}
