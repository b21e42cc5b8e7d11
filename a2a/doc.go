// Package a2a implements the agent-to-agent wire protocol used between
// the orchestration core and its backends.
//
// A backend publishes a capability card at /.well-known/agent.json and
// accepts delegated invocations at /v1/messages:stream, replying with a
// server-sent event stream of output and status events. Backends that
// do not support streaming accept the same payload at /v1/messages and
// reply with the full text in one response.
//
// The Client side (discovery and streaming pulls) is consumed by the
// orchestration core; the Server side hosts an Executor and is reused
// by the in-repo demo backends and by tests.
package a2a
