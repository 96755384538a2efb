package continuation

import (
	"context"
	"sort"
	"time"

	"github.com/chatloom/chatloom/core"
	"github.com/chatloom/chatloom/logging"
)

// Outcome is what a worker gets back from a continuation pass. When Suspended
// is false, every result is resolved and Data is the final accumulated
// payload to fold back into the chat.
type Outcome struct {
	Suspended bool
	Data      map[string]any
	Results   []core.ToolCallRecord
}

// DispatcherOptions holds overrides passed to NewDispatcher.
type DispatcherOptions struct {
	Logger logging.Logger
	Clock  func() time.Time
}

// Dispatcher owns continuation persistence around the Engine's pure fold:
// first-pass entry via Dispatch, resumption via DispatchCommand.
type Dispatcher struct {
	store  core.RecordStore
	engine *Engine
	logger logging.Logger
	now    func() time.Time
}

// NewDispatcher constructs a continuation Dispatcher.
func NewDispatcher(store core.RecordStore, engine *Engine, optFns ...func(o *DispatcherOptions)) *Dispatcher {
	opts := DispatcherOptions{
		Logger: logging.NoOpLogger{},
		Clock:  func() time.Time { return time.Now().UTC() },
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Dispatcher{store: store, engine: engine, logger: opts.Logger, now: opts.Clock}
}

// Dispatch is the first-time entry for a batch of tool call requests. It
// seeds tool call records (index = position) and runs the fold. A fully
// resolved pass returns without writing anything: no resumption will ever
// need the records. A suspended pass persists the continuation and every tool
// call, resolved ones included, so resumption has full context.
//
// resumeCommand builds the command an asynchronous completion will push back
// through the Scheduler; it receives the ref locating the exact tool call.
func (d *Dispatcher) Dispatch(ctx context.Context, common core.CommonData, dispatcherID string, data map[string]any, requests []core.ToolCallRequest, resumeCommand func(ref core.ContinuationRef) core.Command) (*Outcome, error) {
	continuationPath := core.ContinuationPath(d.store.NewID())

	pairs := make([]Pair, len(requests))
	for i, req := range requests {
		pairs[i] = Pair{ID: d.store.NewID(), Record: core.ToolCallRecord{Index: i, Request: req}}
	}

	res, err := d.engine.Fold(ctx, dispatcherID, data, pairs, func(toolCallID string) core.Command {
		return resumeCommand(core.ContinuationRef{ContinuationPath: continuationPath, ToolCallID: toolCallID})
	})
	if err != nil {
		return nil, err
	}
	if !res.Suspended {
		return resolvedOutcome(res), nil
	}

	now := d.now()
	err = d.store.RunTransaction(ctx, func(tx core.Tx) error {
		if err := tx.Set(continuationPath, core.ContinuationRecord{
			DispatcherID: dispatcherID,
			Data:         res.Data,
			Meta:         common.Meta,
			CreatedAt:    now,
			UpdatedAt:    now,
		}); err != nil {
			return err
		}
		for _, p := range res.Pairs {
			if err := tx.Set(core.ToolCallPath(continuationPath, p.ID), p.Record); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	d.logger.Debug("continuation suspended", "continuation", continuationPath, "calls", len(res.Pairs))
	return &Outcome{Suspended: true, Data: res.Data}, nil
}

// DispatchCommand is the resumption entry for a command carrying a
// continuation ref. It reloads the persisted state, folds the still-pending
// calls with the accumulated data, and either reports the merged final
// aggregate or persists the progress and suspends again.
func (d *Dispatcher) DispatchCommand(ctx context.Context, cmd core.Command) (*Outcome, error) {
	if cmd.Continuation == nil {
		return nil, core.NewError(core.CodeInternal, "command carries no continuation reference")
	}
	continuationPath := cmd.Continuation.ContinuationPath

	record, pairs, err := d.load(ctx, continuationPath)
	if err != nil {
		return nil, err
	}

	res, err := d.engine.Fold(ctx, record.DispatcherID, record.Data, pairs, func(toolCallID string) core.Command {
		next := cmd
		next.Continuation = &core.ContinuationRef{ContinuationPath: continuationPath, ToolCallID: toolCallID}
		return next
	})
	if err != nil {
		return nil, err
	}

	if err := d.persistPass(ctx, continuationPath, pairs, res); err != nil {
		return nil, err
	}
	if res.Suspended {
		d.logger.Debug("continuation suspended again", "continuation", continuationPath)
		return &Outcome{Suspended: true, Data: res.Data}, nil
	}
	return resolvedOutcome(res), nil
}

// load reads the continuation and its tool calls ordered by persisted index.
// A missing continuation is a permanent not-found: the resume reference is
// structurally broken and retrying cannot fix it.
func (d *Dispatcher) load(ctx context.Context, continuationPath string) (*core.ContinuationRecord, []Pair, error) {
	snap, err := d.store.Get(ctx, continuationPath)
	if err != nil {
		return nil, nil, err
	}
	if !snap.Exists() {
		return nil, nil, core.NewErrorf(core.CodeNotFound, "continuation %s not found", continuationPath)
	}
	var record core.ContinuationRecord
	if err := snap.Decode(&record); err != nil {
		return nil, nil, core.WrapError(core.CodeInternal, "decoding continuation "+continuationPath, err)
	}

	snaps, err := d.store.Documents(ctx, core.ToolCallsPath(continuationPath), core.Query{OrderBy: "index"})
	if err != nil {
		return nil, nil, err
	}
	pairs := make([]Pair, 0, len(snaps))
	for _, s := range snaps {
		var rec core.ToolCallRecord
		if err := s.Decode(&rec); err != nil {
			return nil, nil, core.WrapError(core.CodeInternal, "decoding tool call "+s.Path(), err)
		}
		pairs = append(pairs, Pair{ID: s.ID(), Record: rec})
	}
	return &record, pairs, nil
}

// persistPass writes the pass's newly resolved responses and accumulated
// data. Responses resolved in earlier passes are left untouched; they are
// write-once.
func (d *Dispatcher) persistPass(ctx context.Context, continuationPath string, before []Pair, res FoldResult) error {
	resolvedBefore := make(map[string]bool, len(before))
	for _, p := range before {
		resolvedBefore[p.ID] = p.Record.Resolved()
	}
	return d.store.RunTransaction(ctx, func(tx core.Tx) error {
		for _, p := range res.Pairs {
			if !p.Record.Resolved() || resolvedBefore[p.ID] {
				continue
			}
			if err := tx.Merge(core.ToolCallPath(continuationPath, p.ID), map[string]any{"response": p.Record.Response}); err != nil {
				return err
			}
		}
		return tx.Merge(continuationPath, map[string]any{"data": res.Data, "updatedAt": d.now()})
	})
}

func resolvedOutcome(res FoldResult) *Outcome {
	results := make([]core.ToolCallRecord, len(res.Pairs))
	for i, p := range res.Pairs {
		results[i] = p.Record
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Index < results[j].Index })
	return &Outcome{Data: res.Data, Results: results}
}
