// Package health exposes the toolbox sidecar endpoints: liveness,
// readiness with per-dependency checks, and Prometheus metrics.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Readiness states reported by /ready.
const (
	StateOK          = "ok"
	StateDegraded    = "degraded"
	StateUnavailable = "unavailable"
)

// DefaultCheckTimeout bounds one readiness sweep.
const DefaultCheckTimeout = 5 * time.Second

// CheckFunc probes one dependency. A non-nil error marks the dependency
// unavailable and flips /ready to 503.
type CheckFunc func(ctx context.Context) error

// NoticeFunc reports an advisory condition: something an operator should
// see that does not make the tool unusable, such as a pending update.
// It returns the message and whether the condition currently holds.
type NoticeFunc func(ctx context.Context) (string, bool)

type check struct {
	name string
	fn   CheckFunc
}

type notice struct {
	name string
	fn   NoticeFunc
}

// CheckResult is the outcome of one dependency probe.
type CheckResult struct {
	Name  string `json:"name"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// Notice is one advisory condition currently in effect.
type Notice struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

// Status is the /ready response body.
type Status struct {
	Status  string        `json:"status"`
	Checks  []CheckResult `json:"checks,omitempty"`
	Notices []Notice      `json:"notices,omitempty"`
}

// Server serves /health, /ready, and /metrics on a dedicated port.
type Server struct {
	port    int
	logger  *slog.Logger
	timeout time.Duration

	// Registration order is the response order.
	mu      sync.RWMutex
	checks  []check
	notices []notice

	httpServer *http.Server
}

// Option is a functional option for configuring the Server.
type Option func(*Server)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithTimeout bounds one readiness sweep across all checks.
func WithTimeout(timeout time.Duration) Option {
	return func(s *Server) {
		if timeout > 0 {
			s.timeout = timeout
		}
	}
}

// New creates a server for the given port. Nothing listens until Start.
func New(port int, opts ...Option) *Server {
	s := &Server{
		port:    port,
		logger:  slog.Default(),
		timeout: DefaultCheckTimeout,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// RegisterChecker adds a hard dependency probe evaluated by /ready.
func (s *Server) RegisterChecker(name string, fn CheckFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checks = append(s.checks, check{name: name, fn: fn})
	s.logger.Debug("readiness check registered", slog.String("name", name))
}

// RegisterNotice adds an advisory condition evaluated by /ready.
func (s *Server) RegisterNotice(name string, fn NoticeFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notices = append(s.notices, notice{name: name, fn: fn})
	s.logger.Debug("advisory notice registered", slog.String("name", name))
}

// handler builds the route table. Separate from Start so tests can drive
// the mux without a listener.
func (s *Server) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ready", s.handleReady)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// handleHealth is pure liveness: the process is up and serving.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, Status{Status: StateOK})
}

// handleReady sweeps every registered check and notice. Any failed check
// yields 503 unavailable; notices alone degrade the state but keep 200.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	checks := make([]check, len(s.checks))
	copy(checks, s.checks)
	notices := make([]notice, len(s.notices))
	copy(notices, s.notices)
	s.mu.RUnlock()

	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	status := Status{Status: StateOK}

	for _, c := range checks {
		result := CheckResult{Name: c.name, OK: true}
		if err := c.fn(ctx); err != nil {
			result.OK = false
			result.Error = err.Error()
			status.Status = StateUnavailable
			s.logger.Warn("readiness check failed",
				slog.String("name", c.name),
				slog.String("error", err.Error()),
			)
		}
		status.Checks = append(status.Checks, result)
	}

	for _, n := range notices {
		message, active := n.fn(ctx)
		if !active {
			continue
		}
		status.Notices = append(status.Notices, Notice{Name: n.name, Message: message})
		if status.Status == StateOK {
			status.Status = StateDegraded
		}
	}

	code := http.StatusOK
	if status.Status == StateUnavailable {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status)
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

// Start begins serving in a background goroutine and returns immediately.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		s.logger.Info("health server starting", slog.Int("port", s.port))
		if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
			s.logger.Error("health server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Shutdown stops the listener, waiting for in-flight requests up to the
// context deadline. Safe to call when Start never ran.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
