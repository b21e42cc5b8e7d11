package a2a

// WellKnownCardPath is the discovery path served by every backend.
const WellKnownCardPath = "/.well-known/agent.json"

// Invocation endpoints relative to a backend's base URL.
const (
	StreamPath = "/v1/messages:stream"
	InvokePath = "/v1/messages"
)

// Skill describes one narrow capability a backend declares. Tags and
// Examples drive query routing in the orchestrator.
type Skill struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Examples    []string `json:"examples,omitempty"`
}

// Capabilities lists protocol-level abilities of a backend.
type Capabilities struct {
	// Streaming reports whether /v1/messages:stream is supported.
	Streaming bool `json:"streaming"`
}

// Card is a backend's self-declared capability description, served at
// WellKnownCardPath. Cards are immutable once fetched; re-discovery
// replaces the whole card, never individual fields.
type Card struct {
	Name               string       `json:"name"`
	Description        string       `json:"description,omitempty"`
	URL                string       `json:"url"`
	Version            string       `json:"version"`
	Skills             []Skill      `json:"skills"`
	Capabilities       Capabilities `json:"capabilities"`
	DefaultInputModes  []string     `json:"default_input_modes,omitempty"`
	DefaultOutputModes []string     `json:"default_output_modes,omitempty"`
}

// Validate checks that the card carries all required fields.
func (c *Card) Validate() error {
	if c.Name == "" {
		return ErrMissingName
	}
	if c.URL == "" {
		return ErrMissingURL
	}
	if c.Version == "" {
		return ErrMissingVersion
	}
	if len(c.Skills) == 0 {
		return ErrNoSkills
	}
	return nil
}

// InvokeRequest is the payload of a delegated invocation. ContextID and
// TaskID form the correlation pair minted by the orchestrator.
type InvokeRequest struct {
	ContextID string `json:"context_id"`
	TaskID    string `json:"task_id"`
	Query     string `json:"query"`
}

// Validate checks that the invocation carries all required fields.
func (r *InvokeRequest) Validate() error {
	if r.ContextID == "" {
		return ErrMissingContextID
	}
	if r.TaskID == "" {
		return ErrMissingTaskID
	}
	if r.Query == "" {
		return ErrEmptyQuery
	}
	return nil
}

// InvokeResponse is the reply of the non-streaming invocation endpoint.
type InvokeResponse struct {
	ContextID string `json:"context_id"`
	TaskID    string `json:"task_id"`
	Content   string `json:"content"`
	State     string `json:"state"`
	Error     string `json:"error,omitempty"`
}

// Event kinds carried on a streaming invocation.
const (
	// EventChunk carries one increment of output text.
	EventChunk = "chunk"
	// EventStatus carries a task state change; final=true ends the stream.
	EventStatus = "status"
)

// Backend-reported task states on the wire.
const (
	StateWorking   = "working"
	StateCompleted = "completed"
	StateFailed    = "failed"
	StateCanceled  = "canceled"
)

// Event is one element of a streaming invocation's reply sequence.
// Chunk events carry Content; status events carry State and, for a
// failed terminal state, an optional Error message.
type Event struct {
	Kind    string `json:"kind"`
	Content string `json:"content,omitempty"`
	State   string `json:"state,omitempty"`
	Final   bool   `json:"final"`
	Error   string `json:"error,omitempty"`
}

// Validate checks the event against the wire contract.
func (e *Event) Validate() error {
	switch e.Kind {
	case EventChunk:
		return nil
	case EventStatus:
		switch e.State {
		case StateWorking, StateCompleted, StateFailed, StateCanceled:
			return nil
		}
		return ErrInvalidEvent
	}
	return ErrInvalidEvent
}

// Terminal reports whether the event ends the stream.
func (e *Event) Terminal() bool {
	return e.Kind == EventStatus && e.Final
}
