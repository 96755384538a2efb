package core

import (
	"errors"
	"fmt"
)

// Code categorizes an engine error for callers. The set mirrors the rejection
// codes surfaced by the front-facing API and the continuation engine.
type Code string

const (
	// CodeNotFound indicates a referenced chat, continuation or tool call
	// does not exist.
	CodeNotFound Code = "not-found"
	// CodePermissionDenied indicates an owner mismatch.
	CodePermissionDenied Code = "permission-denied"
	// CodeFailedPrecondition indicates the chat is in a state the requested
	// operation is not valid for.
	CodeFailedPrecondition Code = "failed-precondition"
	// CodeAlreadyExists indicates a write-once record was written twice.
	CodeAlreadyExists Code = "already-exists"
	// CodeUnimplemented indicates a required collaborator (e.g. a tool
	// dispatcher) is not registered.
	CodeUnimplemented Code = "unimplemented"
	// CodeUnavailable indicates a transient infrastructure failure.
	CodeUnavailable Code = "unavailable"
	// CodeInternal indicates a bug or broken invariant.
	CodeInternal Code = "internal"
	// CodeCancelled indicates the operation was cancelled.
	CodeCancelled Code = "cancelled"
	// CodeDeadlineExceeded indicates the operation timed out.
	CodeDeadlineExceeded Code = "deadline-exceeded"
)

// permanentByDefault lists the codes where a retry has no chance of success.
// Transient infrastructure codes stay retryable.
var permanentByDefault = map[Code]bool{
	CodeNotFound:           true,
	CodePermissionDenied:   true,
	CodeFailedPrecondition: true,
	CodeAlreadyExists:      true,
	CodeUnimplemented:      true,
	CodeInternal:           true,
}

// Error is the structured error type produced by the engine. Code drives the
// caller-facing rejection category and Permanent drives the dispatch guard's
// retry decision.
type Error struct {
	Code      Code
	Message   string
	Permanent bool
	Err       error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped cause, if any.
func (e *Error) Unwrap() error { return e.Err }

// NewError creates an Error with the default permanence for its code.
func NewError(code Code, message string) *Error {
	return &Error{Code: code, Message: message, Permanent: permanentByDefault[code]}
}

// NewErrorf creates an Error with a formatted message.
func NewErrorf(code Code, format string, args ...any) *Error {
	return NewError(code, fmt.Sprintf(format, args...))
}

// WrapError creates an Error wrapping a cause.
func WrapError(code Code, message string, err error) *Error {
	e := NewError(code, message)
	e.Err = err
	return e
}

// Permanentf creates an explicitly permanent error regardless of code defaults.
func Permanentf(code Code, format string, args ...any) *Error {
	e := NewErrorf(code, format, args...)
	e.Permanent = true
	return e
}

// IsPermanent reports whether err is tagged permanent. Unknown error types
// are treated as transient so infrastructure hiccups stay retryable.
func IsPermanent(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Permanent
	}
	return false
}

// CodeOf returns the Code carried by err, or CodeInternal for foreign errors.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// ErrorText normalizes any error into the message persisted on chats and tool
// call responses. Structured engine errors keep their message, foreign errors
// fall back to Error().
func ErrorText(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}
