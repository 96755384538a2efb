package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/chatloom/chatloom/core"
)

// ChatBuilder helps construct chat documents with fluent chaining for tests.
// Example:
//
//	state := NewChatBuilder("u1").Status(core.StatusUserInput).Dispatch("d1").Seed(t, store, "chats/c1")
type ChatBuilder struct {
	state core.ChatState
}

// NewChatBuilder creates a builder for a chat owned by userID with sane
// defaults: processing status, dispatcher "test", dispatch "dispatch-1".
func NewChatBuilder(userID string) *ChatBuilder {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	return &ChatBuilder{state: core.ChatState{
		UserID:           userID,
		Config:           core.AssistantConfig{DispatcherID: "test"},
		Status:           core.StatusProcessing,
		LatestDispatchID: "dispatch-1",
		CreatedAt:        now,
		UpdatedAt:        now,
	}}
}

// Status overrides the chat status (chainable).
func (b *ChatBuilder) Status(s core.ChatStatus) *ChatBuilder {
	b.state.Status = s
	return b
}

// Dispatch overrides the latest dispatch id (chainable).
func (b *ChatBuilder) Dispatch(id string) *ChatBuilder {
	b.state.LatestDispatchID = id
	return b
}

// Config overrides the assistant config (chainable).
func (b *ChatBuilder) Config(c core.AssistantConfig) *ChatBuilder {
	b.state.Config = c
	return b
}

// Session sets the session id (chainable).
func (b *ChatBuilder) Session(id string) *ChatBuilder {
	b.state.SessionID = id
	return b
}

// Data sets the conversation data payload (chainable).
func (b *ChatBuilder) Data(data map[string]any) *ChatBuilder {
	b.state.Data = data
	return b
}

// Meta sets the chat-scoped metadata (chainable).
func (b *ChatBuilder) Meta(meta map[string]any) *ChatBuilder {
	b.state.Meta = meta
	return b
}

// Build returns the accumulated chat state.
func (b *ChatBuilder) Build() *core.ChatState {
	return b.state.Clone()
}

// Seed writes the chat (and its dispatch document) into the store and returns
// the state.
func (b *ChatBuilder) Seed(t *testing.T, store core.RecordStore, chatPath string) *core.ChatState {
	t.Helper()
	state := b.Build()
	err := store.RunTransaction(context.Background(), func(tx core.Tx) error {
		if err := core.SaveChat(tx, chatPath, state); err != nil {
			return err
		}
		return tx.Set(core.DispatchPath(chatPath, state.LatestDispatchID), core.Dispatch{CreatedAt: state.CreatedAt})
	})
	if err != nil {
		t.Fatalf("seeding chat %s: %v", chatPath, err)
	}
	return state
}
