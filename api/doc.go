// Package api is the caller-facing HTTP surface of the orchestrator:
// query submission with streamed output (server-sent events or a
// WebSocket), task inspection and cancellation, backend listing, and
// operational endpoints.
//
// The API is a thin presentation layer over the relay engine; it adds
// no orchestration semantics of its own. There is no authentication:
// the listener is a trust boundary and must not be exposed untrusted.
package api
