package core

import "strings"

// Document path layout. Chats live under "chats", continuations under a
// root-level "continuations" collection so resume commands can address them
// without knowing the owning chat.
const (
	ChatsCollection         = "chats"
	ContinuationsCollection = "continuations"

	dispatchesSegment   = "dispatches"
	runsSegment         = "runs"
	messagesSegment     = "messages"
	contextStackSegment = "contextStack"
	toolCallsSegment    = "toolCalls"
	cleanupSegment      = "cleanup"
)

// Join concatenates path segments with "/".
func Join(segments ...string) string { return strings.Join(segments, "/") }

// PathID returns the last segment of a document path.
func PathID(path string) string {
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		return path[i+1:]
	}
	return path
}

// ChatPath returns the document path for a chat id.
func ChatPath(chatID string) string { return Join(ChatsCollection, chatID) }

// DispatchPath returns the document path for one dispatch of a chat.
func DispatchPath(chatPath, dispatchID string) string {
	return Join(chatPath, dispatchesSegment, dispatchID)
}

// RunPath returns the document path for one delivery attempt of a dispatch.
func RunPath(chatPath, dispatchID, runID string) string {
	return Join(DispatchPath(chatPath, dispatchID), runsSegment, runID)
}

// MessagesPath returns the transcript sub-collection of a chat.
func MessagesPath(chatPath string) string { return Join(chatPath, messagesSegment) }

// ContextStackPath returns the hand-over context stack sub-collection of a chat.
func ContextStackPath(chatPath string) string { return Join(chatPath, contextStackSegment) }

// CleanupPath returns the registered-cleanup sub-collection of a chat.
func CleanupPath(chatPath string) string { return Join(chatPath, cleanupSegment) }

// ContinuationPath returns the document path for a continuation id.
func ContinuationPath(continuationID string) string {
	return Join(ContinuationsCollection, continuationID)
}

// ToolCallsPath returns the tool call sub-collection of a continuation.
func ToolCallsPath(continuationPath string) string {
	return Join(continuationPath, toolCallsSegment)
}

// ToolCallPath returns the document path for one tool call of a continuation.
func ToolCallPath(continuationPath, toolCallID string) string {
	return Join(ToolCallsPath(continuationPath), toolCallID)
}
