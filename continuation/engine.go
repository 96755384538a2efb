package continuation

import (
	"context"

	"github.com/chatloom/chatloom/core"
	"github.com/chatloom/chatloom/logging"
)

// Pair couples a tool call document id with its record for one fold pass.
type Pair struct {
	ID     string
	Record core.ToolCallRecord
}

// FoldResult is the outcome of one pass over a continuation's tool calls.
type FoldResult struct {
	// Data is the accumulated payload after every resolved call of the pass.
	Data map[string]any
	// Pairs holds every input call with responses filled in as resolved.
	Pairs []Pair
	// Suspended reports that a call suspended and the pass stopped early.
	Suspended bool
}

// EngineOptions holds overrides passed to NewEngine.
type EngineOptions struct {
	Logger logging.Logger
}

// Engine runs the sequential data fold over a continuation's tool calls. It
// is pure relative to storage: persistence of the result belongs to the
// caller.
type Engine struct {
	registry *Registry
	logger   logging.Logger
}

// NewEngine constructs an Engine over the dispatcher registry.
func NewEngine(registry *Registry, optFns ...func(o *EngineOptions)) *Engine {
	opts := EngineOptions{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Engine{registry: registry, logger: opts.Logger}
}

// Fold processes pairs strictly in the given order, threading data through
// each resolved call:
//
//   - Already-resolved calls pass through untouched, their dispatcher is
//     never re-invoked.
//   - A successful call folds its data into the accumulated payload for every
//     later call in the same pass.
//   - A suspension stops the pass immediately; later calls stay pending.
//   - An error resolution keeps the pre-call data and short-circuits every
//     later pending call into the same error without dispatcher invocation.
//
// The only hard error is an unregistered dispatcher id, which is permanent.
func (e *Engine) Fold(ctx context.Context, dispatcherID string, data map[string]any, pairs []Pair, resumeCommand func(toolCallID string) core.Command) (FoldResult, error) {
	dispatcher, err := e.registry.Lookup(dispatcherID)
	if err != nil {
		return FoldResult{}, err
	}

	out := make([]Pair, len(pairs))
	copy(out, pairs)

	var failure *core.ToolCallResponse
	for i, p := range out {
		if p.Record.Resolved() {
			continue
		}
		if failure != nil {
			resp := *failure
			out[i].Record.Response = &resp
			continue
		}

		ret, callErr := dispatcher.Dispatch(ctx, data, p.Record.Request.Name, p.Record.Request.Args, resumeCommand(p.ID))
		if callErr != nil {
			e.logger.Warn("tool call failed",
				"dispatcher_id", dispatcherID,
				"tool", p.Record.Request.Name,
				"error", callErr,
			)
			resp := core.ErrorResponse(core.ErrorText(callErr))
			out[i].Record.Response = resp
			failure = resp
			continue
		}

		switch v := ret.(type) {
		case DataReturn:
			data = v.Data
			out[i].Record.Response = core.SuccessResponse(v.Data, nil)
		case ResultReturn:
			resp := v.Response
			out[i].Record.Response = &resp
			if resp.IsError() {
				failure = &resp
				continue
			}
			if resp.Data != nil {
				data = resp.Data
			}
		case suspendReturn:
			e.logger.Debug("tool call suspended", "dispatcher_id", dispatcherID, "tool", p.Record.Request.Name)
			return FoldResult{Data: data, Pairs: out, Suspended: true}, nil
		default:
			return FoldResult{}, core.NewErrorf(core.CodeInternal, "tool dispatcher %q returned unknown variant %T", dispatcherID, ret)
		}
	}

	return FoldResult{Data: data, Pairs: out}, nil
}
