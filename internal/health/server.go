// Package health exposes the HTTP endpoints for container probes and
// Prometheus scraping.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"emias_bot/internal/logging"
)

const (
	pingTimeout        = 2 * time.Second
	readHeaderTimeout  = 2 * time.Second
	healthListenPrefix = ":"
)

// Checker is a dependency that can be pinged, such as MongoDB or Redis.
type Checker interface {
	Ping(ctx context.Context) error
}

// Server hosts the health and metrics endpoints and owns the underlying HTTP
// server.
type Server struct {
	server   *http.Server
	logger   *logrus.Entry
	checkers map[string]Checker
	names    []string
}

// Option customizes a Server.
type Option func(*Server, *http.ServeMux)

// WithChecker adds a named dependency to /healthz. A nil checker is reported
// as failing.
func WithChecker(name string, checker Checker) Option {
	return func(s *Server, _ *http.ServeMux) {
		if _, exists := s.checkers[name]; !exists {
			s.names = append(s.names, name)
		}
		s.checkers[name] = checker
	}
}

// WithMetrics serves the gatherer on GET /metrics.
func WithMetrics(gatherer prometheus.Gatherer) Option {
	return func(_ *Server, mux *http.ServeMux) {
		if gatherer == nil {
			gatherer = prometheus.DefaultGatherer
		}
		mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
}

type response struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// NewServer constructs a health server that exposes GET /healthz on the provided port.
func NewServer(port int, logger *logrus.Entry, opts ...Option) *Server {
	if logger == nil {
		logger = logging.Logger()
	}

	srv := &Server{
		logger:   logger,
		checkers: map[string]Checker{},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", srv.handleHealth)
	for _, opt := range opts {
		if opt != nil {
			opt(srv, mux)
		}
	}
	sort.Strings(srv.names)

	srv.server = &http.Server{
		Addr:              fmt.Sprintf("%s%d", healthListenPrefix, port),
		Handler:           mux,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	return srv
}

// ListenAndServe starts the health server and blocks until shutdown.
func (s *Server) ListenAndServe() error {
	s.logger.WithFields(logging.Fields{
		"event": "health_listen",
		"addr":  s.server.Addr,
	}).Info("starting health server")

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("health server listen: %w", err)
	}

	s.logger.WithField("event", "health_stopped").Info("health server stopped")
	return nil
}

// Shutdown gracefully stops the health server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s == nil || s.server == nil {
		return nil
	}

	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := response{Status: "ok"}

	for _, name := range s.names {
		if err := s.ping(r.Context(), s.checkers[name]); err != nil {
			if resp.Checks == nil {
				resp.Checks = map[string]string{}
			}
			resp.Checks[name] = "error"
			s.logger.WithFields(logging.Fields{
				"event": "health_check_error",
				"check": name,
			}).WithError(err).Warn("dependency ping failed during health check")
		}
	}

	if len(resp.Checks) > 0 {
		resp.Status = "degraded"
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.WithField("event", "health_write_error").WithError(err).Error("failed to encode health response")
	}
}

func (s *Server) ping(ctx context.Context, checker Checker) error {
	if checker == nil {
		return errors.New("checker is not configured")
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	return checker.Ping(pingCtx)
}
