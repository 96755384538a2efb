package core

// Typed read helpers over the record store contract. Missing documents are
// reported as nil values, not errors; callers decide whether absence is a
// fault or an expected race.

// GetChat reads a chat document, returning nil when it does not exist.
func GetChat(tx Tx, chatPath string) (*ChatState, error) {
	snap, err := tx.Get(chatPath)
	if err != nil {
		return nil, err
	}
	if !snap.Exists() {
		return nil, nil
	}
	var state ChatState
	if err := snap.Decode(&state); err != nil {
		return nil, WrapError(CodeInternal, "decoding chat "+chatPath, err)
	}
	return &state, nil
}

// SaveChat writes the full chat document.
func SaveChat(tx Tx, chatPath string, state *ChatState) error {
	return tx.Set(chatPath, state)
}

// GetRun reads a run document, returning nil when it does not exist.
func GetRun(tx Tx, runPath string) (*Run, error) {
	snap, err := tx.Get(runPath)
	if err != nil {
		return nil, err
	}
	if !snap.Exists() {
		return nil, nil
	}
	var run Run
	if err := snap.Decode(&run); err != nil {
		return nil, WrapError(CodeInternal, "decoding run "+runPath, err)
	}
	return &run, nil
}

// GetContinuation reads a continuation document, returning nil when missing.
func GetContinuation(tx Tx, continuationPath string) (*ContinuationRecord, error) {
	snap, err := tx.Get(continuationPath)
	if err != nil {
		return nil, err
	}
	if !snap.Exists() {
		return nil, nil
	}
	var rec ContinuationRecord
	if err := snap.Decode(&rec); err != nil {
		return nil, WrapError(CodeInternal, "decoding continuation "+continuationPath, err)
	}
	return &rec, nil
}

// GetToolCall reads one tool call document, returning nil when missing.
func GetToolCall(tx Tx, toolCallPath string) (*ToolCallRecord, error) {
	snap, err := tx.Get(toolCallPath)
	if err != nil {
		return nil, err
	}
	if !snap.Exists() {
		return nil, nil
	}
	var rec ToolCallRecord
	if err := snap.Decode(&rec); err != nil {
		return nil, WrapError(CodeInternal, "decoding tool call "+toolCallPath, err)
	}
	return &rec, nil
}
