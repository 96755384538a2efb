package core

import (
	"context"
	"sort"
	"time"
)

// SaveMessages appends messages to a chat's transcript in one atomic batch.
// Entries are tagged with the dispatch they belong to and get consecutive
// in-batch sort indexes continuing from the dispatch's previous batch, so
// ordering stays deterministic even though whole batches share a timestamp.
func SaveMessages(ctx context.Context, store RecordStore, chatPath, dispatchID, sessionID string, messages []NewMessage, now time.Time) error {
	if len(messages) == 0 {
		return nil
	}
	next, err := nextSortIndex(ctx, store, chatPath, dispatchID)
	if err != nil {
		return err
	}
	batch := store.Batch()
	for i, m := range messages {
		batch.Set(Join(MessagesPath(chatPath), store.NewID()), ChatMessage{
			Author:     m.Author,
			Text:       m.Text,
			Payload:    m.Payload,
			Meta:       m.Meta,
			DispatchID: dispatchID,
			SortIndex:  next + i,
			SessionID:  sessionID,
			CreatedAt:  now,
		})
	}
	return batch.Commit(ctx)
}

func nextSortIndex(ctx context.Context, store RecordStore, chatPath, dispatchID string) (int, error) {
	snaps, err := store.Documents(ctx, MessagesPath(chatPath), Query{
		Where:      map[string]any{"dispatchId": dispatchID},
		OrderBy:    "inBatchSortIndex",
		Descending: true,
		Limit:      1,
	})
	if err != nil {
		return 0, err
	}
	if len(snaps) == 0 {
		return 0, nil
	}
	var last ChatMessage
	if err := snaps[0].Decode(&last); err != nil {
		return 0, WrapError(CodeInternal, "decoding message", err)
	}
	return last.SortIndex + 1, nil
}

// ListMessages returns the chat transcript in insertion order: created-at
// first, in-batch sort index as tie-breaker within one commit.
func ListMessages(ctx context.Context, store RecordStore, chatPath string, limit int) ([]ChatMessage, error) {
	snaps, err := store.Documents(ctx, MessagesPath(chatPath), Query{OrderBy: "createdAt", Limit: limit})
	if err != nil {
		return nil, err
	}
	out := make([]ChatMessage, 0, len(snaps))
	for _, snap := range snaps {
		var m ChatMessage
		if err := snap.Decode(&m); err != nil {
			return nil, WrapError(CodeInternal, "decoding message "+snap.Path(), err)
		}
		out = append(out, m)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		if out[i].DispatchID == out[j].DispatchID {
			return out[i].SortIndex < out[j].SortIndex
		}
		return false
	})
	return out, nil
}
