package a2a

import "errors"

// Agent card validation errors.
var (
	// ErrMissingName indicates the agent card is missing a name.
	ErrMissingName = errors.New("agent card: missing name")
	// ErrMissingURL indicates the agent card is missing a url.
	ErrMissingURL = errors.New("agent card: missing url")
	// ErrMissingVersion indicates the agent card is missing a version.
	ErrMissingVersion = errors.New("agent card: missing version")
	// ErrNoSkills indicates the agent card declares no skills.
	ErrNoSkills = errors.New("agent card: no skills declared")
)

// Protocol errors.
var (
	// ErrRemoteUnavailable indicates the remote backend could not be reached.
	ErrRemoteUnavailable = errors.New("a2a: remote backend unavailable")
	// ErrInvalidCard indicates the discovery response could not be parsed.
	ErrInvalidCard = errors.New("a2a: invalid agent card")
	// ErrInvalidEvent indicates a malformed or out-of-contract stream event.
	ErrInvalidEvent = errors.New("a2a: invalid stream event")
	// ErrStreamClosed indicates the event stream was already exhausted or closed.
	ErrStreamClosed = errors.New("a2a: stream closed")
	// ErrInactivity indicates no event arrived within the inactivity window.
	ErrInactivity = errors.New("a2a: no event within inactivity window")
)

// Invocation request validation errors.
var (
	// ErrMissingTaskID indicates the invocation is missing a task id.
	ErrMissingTaskID = errors.New("a2a invoke: missing task_id")
	// ErrMissingContextID indicates the invocation is missing a context id.
	ErrMissingContextID = errors.New("a2a invoke: missing context_id")
	// ErrEmptyQuery indicates the invocation carries no query text.
	ErrEmptyQuery = errors.New("a2a invoke: empty query")
)
