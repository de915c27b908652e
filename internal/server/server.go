// Package server exposes the HTTP API: auth, resource CRUD, the
// workflow agent, and experiment management.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/chartflow/chartflow/internal/auth"
	"github.com/chartflow/chartflow/internal/config"
	"github.com/chartflow/chartflow/internal/experiments"
	"github.com/chartflow/chartflow/internal/observability"
	"github.com/chartflow/chartflow/internal/orchestrator"
	"github.com/chartflow/chartflow/internal/store"
)

// Server wires handlers to the core services.
type Server struct {
	cfg       *config.Config
	registry  *store.Registry
	auth      *auth.Service
	orch      *orchestrator.Orchestrator
	scheduler *experiments.Scheduler
	metrics   *observability.Metrics
	logger    *slog.Logger

	httpServer *http.Server

	// convMu serializes turns within one conversation. Turns in
	// different conversations run concurrently.
	convMu sync.Mutex
	convs  map[string]*sync.Mutex
}

// Option configures a Server.
type Option func(*Server)

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics attaches Prometheus collectors.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// New builds a server around the core services.
func New(cfg *config.Config, registry *store.Registry, authSvc *auth.Service, orch *orchestrator.Orchestrator, scheduler *experiments.Scheduler, opts ...Option) *Server {
	s := &Server{
		cfg:       cfg,
		registry:  registry,
		auth:      authSvc,
		orch:      orch,
		scheduler: scheduler,
		logger:    slog.Default(),
		convs:     map[string]*sync.Mutex{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler builds the full route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("POST /auth/login", s.handleLogin)
	mux.HandleFunc("POST /auth/refresh", s.handleRefresh)

	api := http.NewServeMux()
	api.HandleFunc("GET /users", s.handleListUsers)
	api.HandleFunc("POST /users", s.handleCreateUser)
	api.HandleFunc("GET /users/{username}", s.handleGetUser)
	api.HandleFunc("DELETE /users/{username}", s.handleDeleteUser)

	api.HandleFunc("GET /datasets", s.handleListDatasets)
	api.HandleFunc("GET /datasets/{name}/patients", s.handleListPatients)
	api.HandleFunc("GET /datasets/{name}/patients/{mrn}", s.handleGetPatient)

	api.HandleFunc("GET /projects", s.handleListProjects)
	api.HandleFunc("POST /projects", s.handleCreateProject)
	api.HandleFunc("GET /projects/{name}", s.handleGetProject)
	api.HandleFunc("DELETE /projects/{name}", s.handleDeleteProject)

	api.HandleFunc("GET /workflows", s.handleListPlans)
	api.HandleFunc("POST /workflows", s.handleSavePlan)
	api.HandleFunc("GET /workflows/{name}", s.handleGetPlan)
	api.HandleFunc("PUT /workflows/{name}", s.handleSavePlan)
	api.HandleFunc("DELETE /workflows/{name}", s.handleDeletePlan)

	api.HandleFunc("POST /workflow-agent/message", s.handleAgentMessage)
	api.HandleFunc("POST /chat/supervisor-stream", s.handleSupervisorStream)

	api.HandleFunc("GET /annotations", s.handleListAnnotations)
	api.HandleFunc("POST /annotations", s.handleCreateAnnotation)

	api.HandleFunc("POST /workflow/experiments", s.handleCreateExperiment)
	api.HandleFunc("GET /workflow/experiments/{name}", s.handleGetExperiment)
	api.HandleFunc("GET /workflow/experiments/{name}/status", s.handleExperimentStatus)

	protected := auth.Middleware(s.auth)(api)
	mux.Handle("/", s.instrument(protected))
	return mux
}

// Start serves until ctx is cancelled, then drains.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              s.cfg.Server.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	s.logger.Info("http server listening", "addr", s.cfg.Server.Addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout.Std())
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// convLock returns the mutex guarding one conversation.
func (s *Server) convLock(id string) *sync.Mutex {
	s.convMu.Lock()
	defer s.convMu.Unlock()
	mu, ok := s.convs[id]
	if !ok {
		mu = &sync.Mutex{}
		s.convs[id] = mu
	}
	return mu
}

// instrument records request latency by route pattern.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.metrics == nil {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.metrics.HTTPRequestDuration.
			WithLabelValues(r.Method, r.URL.Path, strconv.Itoa(rec.status)).
			Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Flush keeps SSE streaming working through the latency recorder.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
