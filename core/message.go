package core

import "time"

// MessageAuthor distinguishes who produced a transcript entry.
type MessageAuthor string

const (
	// AuthorUser marks a message posted by the chat owner.
	AuthorUser MessageAuthor = "user"
	// AuthorAI marks a message produced by an assistant.
	AuthorAI MessageAuthor = "ai"
)

// NewMessage is the input shape for inserting transcript entries.
type NewMessage struct {
	Author  MessageAuthor  `json:"author" bson:"author"`
	Text    string         `json:"text" bson:"text"`
	Payload map[string]any `json:"payload,omitempty" bson:"payload,omitempty"`
	Meta    map[string]any `json:"meta,omitempty" bson:"meta,omitempty"`
}

// UserMessage builds a plain user text message.
func UserMessage(text string) NewMessage {
	return NewMessage{Author: AuthorUser, Text: text}
}

// AIMessage builds a plain assistant text message.
func AIMessage(text string) NewMessage {
	return NewMessage{Author: AuthorAI, Text: text}
}

// ChatMessage is one append-only transcript entry. Messages land in batches,
// several per commit, so ordering within a dispatch is fixed by SortIndex
// rather than by timestamp alone.
type ChatMessage struct {
	Author     MessageAuthor  `json:"author" bson:"author"`
	Text       string         `json:"text" bson:"text"`
	Payload    map[string]any `json:"payload,omitempty" bson:"payload,omitempty"`
	Meta       map[string]any `json:"meta,omitempty" bson:"meta,omitempty"`
	DispatchID string         `json:"dispatchId" bson:"dispatchId"`
	SortIndex  int            `json:"inBatchSortIndex" bson:"inBatchSortIndex"`
	SessionID  string         `json:"sessionId,omitempty" bson:"sessionId,omitempty"`
	CreatedAt  time.Time      `json:"createdAt" bson:"createdAt"`
}
