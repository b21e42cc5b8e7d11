// Package types holds the data model shared across the orchestration
// core: output chunks, the delegation error taxonomy, and the stream
// abstraction that backend sessions and local handlers both implement.
package types
