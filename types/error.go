package types

import "fmt"

// ErrorKind classifies a delegation or tracking failure. The kind is
// part of the caller-visible contract: a failed task surfaces exactly
// one kind plus a human-readable message.
type ErrorKind string

// Delegation failure kinds. None of these are retried inside the core;
// retry policy belongs to the caller.
const (
	KindDiscoveryFailed   ErrorKind = "DISCOVERY_FAILED"
	KindConnectFailed     ErrorKind = "CONNECT_FAILED"
	KindProtocolError     ErrorKind = "PROTOCOL_ERROR"
	KindBackendAbort      ErrorKind = "BACKEND_ABORT"
	KindTimeout           ErrorKind = "TIMEOUT"
	KindLocalHandler      ErrorKind = "LOCAL_HANDLER"
	KindInvalidTransition ErrorKind = "INVALID_TRANSITION"
	KindCallerCanceled    ErrorKind = "CALLER_CANCELED"
)

// Error is a structured error carrying its taxonomy kind, a message,
// and an optional cause. errors.As-friendly.
type Error struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
	Cause   error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given kind and message.
func NewError(kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// KindOf extracts the taxonomy kind from an error chain. Returns the
// empty kind for errors produced outside the taxonomy.
func KindOf(err error) ErrorKind {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e.Kind
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return ""
		}
		err = u.Unwrap()
	}
	return ""
}
