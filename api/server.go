package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/agentrelay/agentrelay/internal/metrics"
	"github.com/agentrelay/agentrelay/journal"
	"github.com/agentrelay/agentrelay/registry"
	"github.com/agentrelay/agentrelay/relay"
	"github.com/agentrelay/agentrelay/tasks"
)

// Options bundles the server's collaborators.
type Options struct {
	Engine   *relay.Engine
	Registry *registry.Registry
	// Journal is optional; without it the journal endpoint returns 404.
	Journal *journal.Journal
	// Metrics is optional.
	Metrics *metrics.Collector
	// SubmitLimiter rate-limits query submission; nil disables limiting.
	SubmitLimiter *rate.Limiter
	Logger        *zap.Logger
}

// Server is the caller-facing HTTP handler.
type Server struct {
	engine   *relay.Engine
	registry *registry.Registry
	journal  *journal.Journal
	metrics  *metrics.Collector
	limiter  *rate.Limiter
	logger   *zap.Logger
	mux      *http.ServeMux
}

// NewServer creates the HTTP surface over the given collaborators.
func NewServer(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	s := &Server{
		engine:   opts.Engine,
		registry: opts.Registry,
		journal:  opts.Journal,
		metrics:  opts.Metrics,
		limiter:  opts.SubmitLimiter,
		logger:   opts.Logger.With(zap.String("component", "api")),
		mux:      http.NewServeMux(),
	}

	s.mux.HandleFunc("POST /v1/queries", s.handleSubmit)
	s.mux.HandleFunc("GET /v1/queries/ws", s.handleSubmitWS)
	s.mux.HandleFunc("GET /v1/tasks/{id}", s.handleGetTask)
	s.mux.HandleFunc("DELETE /v1/tasks/{id}", s.handleCancelTask)
	s.mux.HandleFunc("GET /v1/backends", s.handleListBackends)
	s.mux.HandleFunc("POST /v1/backends/refresh", s.handleRefreshBackends)
	s.mux.HandleFunc("GET /v1/journal", s.handleJournal)
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.Handle("GET /metrics", promhttp.Handler())

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.instrument(s.mux).ServeHTTP(w, r)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	snap, err := s.engine.Task(r.PathValue("id"))
	if err != nil {
		s.writeError(w, http.StatusNotFound, err)
		return
	}
	s.writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Cancel(r.PathValue("id")); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, tasks.ErrNotFound) {
			status = http.StatusNotFound
		}
		s.writeError(w, status, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListBackends(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.registry.List())
}

func (s *Server) handleRefreshBackends(w http.ResponseWriter, r *http.Request) {
	if err := s.registry.RefreshAll(r.Context()); err != nil {
		s.writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.registry.List())
}

func (s *Server) handleJournal(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		s.writeError(w, http.StatusNotFound, errors.New("journal disabled"))
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	records, err := s.journal.Recent(limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, ErrorResponse{Error: err.Error()})
}

var errRateLimited = errors.New("submission rate limit exceeded")

// allowSubmit applies the submission rate limit.
func (s *Server) allowSubmit() bool {
	return s.limiter == nil || s.limiter.Allow()
}
