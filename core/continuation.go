package core

import "time"

// ContinuationRecord is the persisted state of a suspended multi-tool-call
// step. It owns an ordered sub-collection of tool call records and
// accumulates the data payload folded by resolved calls.
type ContinuationRecord struct {
	DispatcherID string         `json:"dispatcherId" bson:"dispatcherId"`
	Data         map[string]any `json:"data,omitempty" bson:"data,omitempty"`
	Meta         map[string]any `json:"meta,omitempty" bson:"meta,omitempty"`
	CreatedAt    time.Time      `json:"createdAt" bson:"createdAt"`
	UpdatedAt    time.Time      `json:"updatedAt" bson:"updatedAt"`
}

// ToolCallRequest is one function invocation requested by the assistant.
type ToolCallRequest struct {
	CallID string         `json:"callId" bson:"callId"`
	Name   string         `json:"name" bson:"name"`
	Args   map[string]any `json:"args,omitempty" bson:"args,omitempty"`
}

// ResponseKind discriminates resolved tool call responses.
type ResponseKind string

const (
	// ResponseSuccess marks a successful resolution. Data carries the new
	// accumulated payload when present; Result carries the reply returned to
	// the assistant when present. Either may be set alone.
	ResponseSuccess ResponseKind = "success"
	// ResponseError marks a failed resolution with Error populated.
	ResponseError ResponseKind = "error"
)

// ToolCallResponse is the resolved outcome of a tool call. Once written it is
// immutable: re-resolving an already-resolved call is an already-exists error.
type ToolCallResponse struct {
	Kind   ResponseKind   `json:"kind" bson:"kind"`
	Data   map[string]any `json:"data,omitempty" bson:"data,omitempty"`
	Result any            `json:"result,omitempty" bson:"result,omitempty"`
	Error  string         `json:"error,omitempty" bson:"error,omitempty"`
}

// SuccessResponse builds a success response carrying new data and an optional
// result payload.
func SuccessResponse(data map[string]any, result any) *ToolCallResponse {
	return &ToolCallResponse{Kind: ResponseSuccess, Data: data, Result: result}
}

// ErrorResponse builds an error response from normalized error text.
func ErrorResponse(text string) *ToolCallResponse {
	return &ToolCallResponse{Kind: ResponseError, Error: text}
}

// IsError reports whether the response resolved with an error.
func (r *ToolCallResponse) IsError() bool { return r != nil && r.Kind == ResponseError }

// ToolCallRecord is one persisted tool call: its ordinal index (defining
// replay/merge order), the request, and the response (nil while pending).
type ToolCallRecord struct {
	Index    int               `json:"index" bson:"index"`
	Request  ToolCallRequest   `json:"request" bson:"request"`
	Response *ToolCallResponse `json:"response,omitempty" bson:"response,omitempty"`
}

// Resolved reports whether the call's response has been written.
func (r ToolCallRecord) Resolved() bool { return r.Response != nil }
