package continuation

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatloom/chatloom/core"
)

func callPair(id, name string) Pair {
	return Pair{ID: id, Record: core.ToolCallRecord{Request: core.ToolCallRequest{CallID: "call-" + id, Name: name}}}
}

func noResume(toolCallID string) core.Command { return core.Command{} }

func TestEngine_FoldThreadsDataSequentially(t *testing.T) {
	registry := NewRegistry()
	var seen []map[string]any
	registry.Register("calc", ToolDispatcherFunc(func(ctx context.Context, data map[string]any, toolName string, args map[string]any, resume core.Command) (Return, error) {
		seen = append(seen, data)
		next := core.MergeData(data, map[string]any{toolName: true})
		return DataReturn{Data: next}, nil
	}))
	engine := NewEngine(registry)

	res, err := engine.Fold(context.Background(), "calc", map[string]any{"seed": 1}, []Pair{callPair("a", "first"), callPair("b", "second")}, noResume)
	require.NoError(t, err)
	assert.False(t, res.Suspended)

	// Call B must see A's folded output, not the original data.
	require.Len(t, seen, 2)
	assert.NotContains(t, seen[0], "first")
	assert.Contains(t, seen[1], "first")
	assert.Equal(t, map[string]any{"seed": 1, "first": true, "second": true}, res.Data)
	for _, p := range res.Pairs {
		assert.True(t, p.Record.Resolved())
	}
}

func TestEngine_FoldSkipsAlreadyResolvedCalls(t *testing.T) {
	registry := NewRegistry()
	invoked := 0
	registry.Register("calc", ToolDispatcherFunc(func(ctx context.Context, data map[string]any, toolName string, args map[string]any, resume core.Command) (Return, error) {
		invoked++
		return DataReturn{Data: data}, nil
	}))
	engine := NewEngine(registry)

	resolved := callPair("a", "done")
	resolved.Record.Response = core.SuccessResponse(nil, "earlier result")
	pending := callPair("b", "todo")

	res, err := engine.Fold(context.Background(), "calc", nil, []Pair{resolved, pending}, noResume)
	require.NoError(t, err)
	assert.Equal(t, 1, invoked, "resolved call must not re-invoke its dispatcher")
	assert.Equal(t, "earlier result", res.Pairs[0].Record.Response.Result)
}

func TestEngine_FoldErrorShortCircuitsRemainingCalls(t *testing.T) {
	registry := NewRegistry()
	var invoked []string
	registry.Register("calc", ToolDispatcherFunc(func(ctx context.Context, data map[string]any, toolName string, args map[string]any, resume core.Command) (Return, error) {
		invoked = append(invoked, toolName)
		if toolName == "boom" {
			return nil, errors.New("exploded")
		}
		return DataReturn{Data: core.MergeData(data, map[string]any{toolName: true})}, nil
	}))
	engine := NewEngine(registry)

	pairs := []Pair{callPair("a", "ok"), callPair("b", "boom"), callPair("c", "never")}
	res, err := engine.Fold(context.Background(), "calc", map[string]any{}, pairs, noResume)
	require.NoError(t, err)
	assert.False(t, res.Suspended)

	assert.Equal(t, []string{"ok", "boom"}, invoked, "calls after the failure must not run")
	require.True(t, res.Pairs[1].Record.Response.IsError())
	require.True(t, res.Pairs[2].Record.Response.IsError())
	assert.Equal(t, "exploded", res.Pairs[1].Record.Response.Error)
	assert.Equal(t, "exploded", res.Pairs[2].Record.Response.Error, "short-circuited calls carry the same formatted error")

	// The failed call must not have advanced the accumulated data.
	assert.Equal(t, map[string]any{"ok": true}, res.Data)
}

func TestEngine_FoldExplicitErrorResultAlsoShortCircuits(t *testing.T) {
	registry := NewRegistry()
	registry.Register("calc", ToolDispatcherFunc(func(ctx context.Context, data map[string]any, toolName string, args map[string]any, resume core.Command) (Return, error) {
		if toolName == "reject" {
			return ResultReturn{Response: *core.ErrorResponse("rejected by policy")}, nil
		}
		t.Fatalf("dispatcher invoked for %q after error", toolName)
		return nil, nil
	}))
	engine := NewEngine(registry)

	res, err := engine.Fold(context.Background(), "calc", nil, []Pair{callPair("a", "reject"), callPair("b", "after")}, noResume)
	require.NoError(t, err)
	assert.Equal(t, "rejected by policy", res.Pairs[1].Record.Response.Error)
}

func TestEngine_FoldSuspensionStopsPass(t *testing.T) {
	registry := NewRegistry()
	var invoked []string
	registry.Register("calc", ToolDispatcherFunc(func(ctx context.Context, data map[string]any, toolName string, args map[string]any, resume core.Command) (Return, error) {
		invoked = append(invoked, toolName)
		if toolName == "slow" {
			assert.NotNil(t, resume.Continuation, "suspending call must receive its resume command")
			return Suspended, nil
		}
		return DataReturn{Data: core.MergeData(data, map[string]any{toolName: true})}, nil
	}))
	engine := NewEngine(registry)

	resume := func(toolCallID string) core.Command {
		return core.Command{Continuation: &core.ContinuationRef{ContinuationPath: "continuations/k1", ToolCallID: toolCallID}}
	}
	pairs := []Pair{callPair("a", "fast"), callPair("b", "slow"), callPair("c", "later")}
	res, err := engine.Fold(context.Background(), "calc", map[string]any{}, pairs, resume)
	require.NoError(t, err)

	assert.True(t, res.Suspended)
	assert.Equal(t, []string{"fast", "slow"}, invoked)
	assert.True(t, res.Pairs[0].Record.Resolved())
	assert.False(t, res.Pairs[1].Record.Resolved(), "suspended call stays pending")
	assert.False(t, res.Pairs[2].Record.Resolved(), "calls after the suspension stay untouched")
	assert.Equal(t, map[string]any{"fast": true}, res.Data)
}

func TestEngine_UnregisteredDispatcherIsPermanent(t *testing.T) {
	engine := NewEngine(NewRegistry())
	_, err := engine.Fold(context.Background(), "ghost", nil, []Pair{callPair("a", "x")}, noResume)
	require.Error(t, err)
	assert.Equal(t, core.CodeUnimplemented, core.CodeOf(err))
	assert.True(t, core.IsPermanent(err))
}
