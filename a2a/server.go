package a2a

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// EventSink receives the events an Executor produces. Send blocks when
// the consumer is slower than the producer; that backpressure is part
// of the contract, executors must not buffer around it.
type EventSink interface {
	Send(ctx context.Context, ev *Event) error
}

// Executor implements one backend's behavior. Execute streams events
// into sink and returns once a terminal status event has been sent or
// an error occurred. A returned error is translated into a failed
// terminal status by the server.
type Executor interface {
	// Card returns the backend's capability description. The URL field
	// is filled in by the server from its configured base URL.
	Card() *Card
	// Execute handles one delegated invocation.
	Execute(ctx context.Context, req *InvokeRequest, sink EventSink) error
}

// ServerConfig holds configuration for the A2A server.
type ServerConfig struct {
	// BaseURL is the base URL where this backend is accessible,
	// advertised in the agent card.
	BaseURL string
	// RequestTimeout bounds the processing of one invocation.
	RequestTimeout time.Duration
	// Logger is the logger instance.
	Logger *zap.Logger
}

// DefaultServerConfig returns a ServerConfig with sensible defaults.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		BaseURL:        "http://localhost:8080",
		RequestTimeout: 5 * time.Minute,
		Logger:         zap.NewNop(),
	}
}

// Server hosts one Executor behind the A2A protocol endpoints. It
// implements http.Handler.
type Server struct {
	config   *ServerConfig
	logger   *zap.Logger
	executor Executor
	card     *Card
}

// NewServer creates a Server hosting the given executor.
func NewServer(executor Executor, config *ServerConfig) *Server {
	if config == nil {
		config = DefaultServerConfig()
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}

	card := executor.Card()
	card.URL = config.BaseURL

	return &Server{
		config:   config,
		logger:   config.Logger.With(zap.String("component", "a2a_server"), zap.String("backend", card.Name)),
		executor: executor,
		card:     card,
	}
}

// Card returns the advertised agent card.
func (s *Server) Card() *Card {
	return s.card
}

// ServeHTTP routes A2A protocol requests.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.Method == http.MethodGet && r.URL.Path == WellKnownCardPath:
		s.handleCard(w, r)
	case r.Method == http.MethodPost && r.URL.Path == StreamPath:
		s.handleStream(w, r)
	case r.Method == http.MethodPost && r.URL.Path == InvokePath:
		s.handleInvoke(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleCard(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.card); err != nil {
		s.logger.Error("failed to encode agent card", zap.Error(err))
	}
}

func (s *Server) decodeInvoke(w http.ResponseWriter, r *http.Request) *InvokeRequest {
	if ct := r.Header.Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		http.Error(w, "unsupported content type", http.StatusUnsupportedMediaType)
		return nil
	}
	var req InvokeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return nil
	}
	if err := req.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return nil
	}
	return &req
}

// sseSink writes events as server-sent events, flushing each one so
// chunks reach the consumer incrementally.
type sseSink struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func (s *sseSink) Send(_ context.Context, ev *Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	req := s.decodeInvoke(w, r)
	if req == nil {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx, cancel := context.WithTimeout(r.Context(), s.config.RequestTimeout)
	defer cancel()

	sink := &sseSink{w: w, flusher: flusher}
	s.logger.Debug("invocation started",
		zap.String("task_id", req.TaskID),
		zap.String("context_id", req.ContextID),
	)

	if err := s.executor.Execute(ctx, req, sink); err != nil {
		s.logger.Warn("executor failed",
			zap.String("task_id", req.TaskID),
			zap.Error(err),
		)
		// Best effort: the consumer may already be gone.
		_ = sink.Send(ctx, &Event{
			Kind:  EventStatus,
			State: StateFailed,
			Final: true,
			Error: err.Error(),
		})
	}
}

func (s *Server) handleInvoke(w http.ResponseWriter, r *http.Request) {
	req := s.decodeInvoke(w, r)
	if req == nil {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.config.RequestTimeout)
	defer cancel()

	sink := &collectSink{}
	resp := InvokeResponse{
		ContextID: req.ContextID,
		TaskID:    req.TaskID,
		State:     StateCompleted,
	}
	if err := s.executor.Execute(ctx, req, sink); err != nil {
		resp.State = StateFailed
		resp.Error = err.Error()
	} else if sink.state != "" {
		resp.State = sink.state
		resp.Error = sink.errMsg
	}
	resp.Content = sink.content.String()

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(&resp); err != nil {
		s.logger.Error("failed to encode invoke response", zap.Error(err))
	}
}

// collectSink accumulates chunk events into one response body.
type collectSink struct {
	content strings.Builder
	state   string
	errMsg  string
}

func (s *collectSink) Send(_ context.Context, ev *Event) error {
	switch ev.Kind {
	case EventChunk:
		s.content.WriteString(ev.Content)
	case EventStatus:
		if ev.Terminal() {
			s.state = ev.State
			s.errMsg = ev.Error
		}
	}
	return nil
}
