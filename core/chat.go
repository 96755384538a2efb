package core

import "time"

// ChatStatus is the lifecycle state of a chat.
type ChatStatus string

const (
	// StatusUserInput means the chat is idle waiting for the user.
	StatusUserInput ChatStatus = "userInput"
	// StatusProcessing means a dispatch is working on the chat.
	StatusProcessing ChatStatus = "processing"
	// StatusClosing means teardown has been scheduled.
	StatusClosing ChatStatus = "closing"
	// StatusComplete means the chat finished normally.
	StatusComplete ChatStatus = "complete"
	// StatusFailed means a permanent error ended the chat.
	StatusFailed ChatStatus = "failed"
)

// IsClosed reports whether the status is terminal or closing, i.e. no new
// user-triggered work may start.
func (s ChatStatus) IsClosed() bool {
	return s == StatusClosing || s == StatusComplete || s == StatusFailed
}

// AssistantConfig identifies the assistant currently owning a chat: the tool
// dispatcher registered for it, an optional vendor thread handle and an
// opaque settings payload owned by the command scheduler that understands it.
type AssistantConfig struct {
	DispatcherID string         `json:"dispatcherId" bson:"dispatcherId"`
	ThreadID     string         `json:"threadId,omitempty" bson:"threadId,omitempty"`
	Settings     map[string]any `json:"settings,omitempty" bson:"settings,omitempty"`
}

// Clone returns a copy with its own settings map.
func (c AssistantConfig) Clone() AssistantConfig {
	out := c
	out.Settings = cloneMap(c.Settings)
	return out
}

// ChatState is the root chat document. All mutation goes through record-store
// transactions validated against LatestDispatchID; see dispatch.Guard.
type ChatState struct {
	UserID           string          `json:"userId" bson:"userId"`
	Config           AssistantConfig `json:"config" bson:"config"`
	Status           ChatStatus      `json:"status" bson:"status"`
	LatestDispatchID string          `json:"latestDispatchId" bson:"latestDispatchId"`
	SessionID        string          `json:"sessionId,omitempty" bson:"sessionId,omitempty"`
	Data             map[string]any  `json:"data,omitempty" bson:"data,omitempty"`
	LastError        string          `json:"lastError,omitempty" bson:"lastError,omitempty"`
	Meta             map[string]any  `json:"meta,omitempty" bson:"meta,omitempty"`
	CreatedAt        time.Time       `json:"createdAt" bson:"createdAt"`
	UpdatedAt        time.Time       `json:"updatedAt" bson:"updatedAt"`
}

// ChatStateUpdate is a partial chat mutation. Nil fields are left untouched;
// the mergeable field set is enumerated explicitly in Apply so a partial
// update can never revive stale optional fields by accident.
type ChatStateUpdate struct {
	Config         *AssistantConfig
	Status         *ChatStatus
	SessionID      *string
	ClearSessionID bool
	Data           map[string]any
	LastError      *string
	Meta           *map[string]any
}

// Apply merges the update into the state and bumps UpdatedAt.
func (s *ChatState) Apply(u ChatStateUpdate, now time.Time) {
	if u.Config != nil {
		s.Config = u.Config.Clone()
	}
	if u.Status != nil {
		s.Status = *u.Status
	}
	switch {
	case u.ClearSessionID:
		s.SessionID = ""
	case u.SessionID != nil:
		s.SessionID = *u.SessionID
	}
	if u.Data != nil {
		s.Data = MergeData(s.Data, u.Data)
	}
	if u.LastError != nil {
		s.LastError = *u.LastError
	}
	if u.Meta != nil {
		if *u.Meta == nil {
			s.Meta = nil
		} else {
			s.Meta = cloneMap(*u.Meta)
		}
	}
	s.UpdatedAt = now
}

// Clone returns a deep copy safe for independent mutation.
func (s *ChatState) Clone() *ChatState {
	out := *s
	out.Config = s.Config.Clone()
	out.Data = cloneMap(s.Data)
	out.Meta = cloneMap(s.Meta)
	return &out
}

// StateUpdate is the create/post/close result returned to API callers.
type StateUpdate struct {
	Status ChatStatus     `json:"status"`
	Data   map[string]any `json:"data,omitempty"`
}

// ContextStackEntry is a snapshot pushed on hand-over and popped on
// hand-back. Stack order is CreatedAt descending. SessionID is omitted when
// the replaced tenure had none, so restoring distinguishes "absent" from
// "explicitly cleared".
type ContextStackEntry struct {
	Config    AssistantConfig `json:"config" bson:"config"`
	Meta      map[string]any  `json:"meta,omitempty" bson:"meta,omitempty"`
	SessionID string          `json:"sessionId,omitempty" bson:"sessionId,omitempty"`
	CreatedAt time.Time       `json:"createdAt" bson:"createdAt"`
}

// MergeData merges src key-wise over a copy of dst. Neither argument is
// mutated. Merging nil src returns a copy of dst.
func MergeData(dst, src map[string]any) map[string]any {
	out := cloneMap(dst)
	if src == nil {
		return out
	}
	if out == nil {
		out = make(map[string]any, len(src))
	}
	for k, v := range src {
		out[k] = v
	}
	return out
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
