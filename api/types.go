package api

// SubmitRequest is the body of POST /v1/queries.
type SubmitRequest struct {
	// ContextID groups a causal chain of tasks; empty starts a new one.
	ContextID string `json:"context_id,omitempty"`
	Query     string `json:"query"`
}

// StreamEvent is one element of a query's response stream, over SSE or
// WebSocket. Chunk events carry Content; the closing status event
// carries the terminal state and, for failures, the error taxonomy
// kind and message.
type StreamEvent struct {
	Kind      string `json:"kind"` // "chunk" or "status"
	TaskID    string `json:"task_id"`
	ContextID string `json:"context_id,omitempty"`
	Content   string `json:"content,omitempty"`
	Final     bool   `json:"final,omitempty"`
	State     string `json:"state,omitempty"`
	ErrorKind string `json:"error_kind,omitempty"`
	Error     string `json:"error,omitempty"`
}

// ErrorResponse is the generic error body for non-streaming endpoints.
type ErrorResponse struct {
	Error string `json:"error"`
}
