package observability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// HealthFunc reports component health; a non-nil error marks the process unhealthy.
type HealthFunc func() error

// Server exposes /healthz and /metrics for operators
type Server struct {
	addr   string
	logger zerolog.Logger

	mu       sync.Mutex
	checks   map[string]HealthFunc
	server   *http.Server
	listener net.Listener
	started  time.Time
}

// NewServer creates an ops server listening on addr
func NewServer(addr string, logger zerolog.Logger) *Server {
	return &Server{
		addr:   addr,
		logger: logger.With().Str("component", "ops").Logger(),
		checks: make(map[string]HealthFunc),
	}
}

// AddCheck registers a named health check
func (s *Server) AddCheck(name string, check HealthFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checks[name] = check
}

// Router builds the HTTP handler
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", MetricsHandler())

	return r
}

// Start binds the listener and serves in the background
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server != nil {
		return fmt.Errorf("ops server already running")
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.addr, err)
	}

	s.listener = listener
	s.started = time.Now()
	s.server = &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func(srv *http.Server, l net.Listener) {
		if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("Ops server stopped")
		}
	}(s.server, listener)

	s.logger.Info().Str("addr", listener.Addr().String()).Msg("Ops server listening")
	return nil
}

// Addr returns the bound address, or the configured one before Start
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Shutdown stops the server gracefully
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.server
	s.server = nil
	s.listener = nil
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

type healthResponse struct {
	Status string            `json:"status"`
	Uptime string            `json:"uptime"`
	Checks map[string]string `json:"checks,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	checks := make(map[string]HealthFunc, len(s.checks))
	for name, check := range s.checks {
		checks[name] = check
	}
	started := s.started
	s.mu.Unlock()

	resp := healthResponse{Status: "ok", Checks: make(map[string]string, len(checks))}
	if !started.IsZero() {
		resp.Uptime = time.Since(started).Truncate(time.Second).String()
	}

	status := http.StatusOK
	for name, check := range checks {
		if err := check(); err != nil {
			resp.Checks[name] = err.Error()
			resp.Status = "unhealthy"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[name] = "ok"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
