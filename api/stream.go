package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/agentrelay/agentrelay/relay"
	"github.com/agentrelay/agentrelay/tasks"
	"github.com/agentrelay/agentrelay/types"
)

// handleSubmit accepts one query and streams its output as server-sent
// events. Each chunk is flushed as it arrives; the stream ends with a
// status event carrying the terminal state.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if !s.allowSubmit() {
		s.writeError(w, http.StatusTooManyRequests, errRateLimited)
		return
	}

	var req SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if req.Query == "" {
		s.writeError(w, http.StatusBadRequest, errors.New("query is required"))
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, errors.New("streaming unsupported"))
		return
	}

	// The request context governs the task: a disconnecting caller
	// cancels its own delegation and nothing else.
	d, err := s.engine.Submit(r.Context(), req.ContextID, req.Query)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Task-ID", d.TaskID)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for chunk := range d.Chunks() {
		ev := StreamEvent{
			Kind:    "chunk",
			TaskID:  d.TaskID,
			Content: chunk.Content,
			Final:   chunk.Final,
		}
		if err := writeSSE(w, flusher, ev); err != nil {
			// Caller went away; the context cancellation tears the
			// task down.
			s.logger.Debug("caller disconnected mid-stream",
				zap.String("task_id", d.TaskID),
			)
			return
		}
	}

	_ = writeSSE(w, flusher, terminalEvent(d))
}

func writeSSE(w http.ResponseWriter, flusher http.Flusher, ev StreamEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

// terminalEvent builds the closing status event from a finished
// delivery.
func terminalEvent(d *relay.Delivery) StreamEvent {
	ev := StreamEvent{
		Kind:   "status",
		TaskID: d.TaskID,
		State:  string(d.State()),
		Final:  true,
	}
	if err := d.Err(); err != nil {
		ev.ErrorKind = string(types.KindOf(err))
		var terr *types.Error
		if errors.As(err, &terr) {
			ev.Error = terr.Message
		} else {
			ev.Error = err.Error()
		}
	}
	if ev.State == "" {
		// The channel closed without an outcome only if the engine has
		// a bug; surface it rather than hanging the contract.
		ev.State = string(tasks.StateFailed)
	}
	return ev
}
