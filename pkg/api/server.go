// Package api exposes the operational HTTP surface: health, aggregated
// statistics and Prometheus metrics.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/pprof"
	"time"

	"cachefront/pkg/logging"
	"cachefront/pkg/manager"
	"cachefront/pkg/optimizer"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Config holds HTTP server settings.
type Config struct {
	// Address to listen on, e.g. ":8080"
	Address string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// EnablePprof mounts the Go profiling handlers under /debug/pprof/
	EnablePprof bool
}

// DefaultConfig returns the standard server settings.
func DefaultConfig() Config {
	return Config{
		Address:      ":8080",
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.Address == "" {
		return errors.New("api: address is required")
	}
	return nil
}

// Server serves the inspection endpoints for one cache manager and,
// optionally, one query optimizer.
type Server struct {
	cfg       Config
	manager   *manager.Manager
	optimizer *optimizer.Optimizer
	registry  *prometheus.Registry
	logger    *logging.Logger
	server    *http.Server
	started   time.Time
}

// Option configures optional server collaborators.
type Option func(*Server)

// WithOptimizer includes optimizer statistics in /stats.
func WithOptimizer(o *optimizer.Optimizer) Option {
	return func(s *Server) { s.optimizer = o }
}

// WithRegistry serves the given Prometheus registry at /metrics.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(s *Server) { s.registry = reg }
}

// WithLogger overrides the server logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// New builds the router and the underlying http.Server. Nothing listens
// until Start.
func New(cfg Config, mgr *manager.Manager, opts ...Option) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if mgr == nil {
		return nil, errors.New("api: manager is required")
	}

	s := &Server{
		cfg:     cfg,
		manager: mgr,
		started: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logging.L().Named("api")
	}

	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)

	if s.registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	} else {
		r.HandleFunc("/metrics", handleNoMetrics).Methods(http.MethodGet)
	}

	if cfg.EnablePprof {
		r.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		r.HandleFunc("/debug/pprof/profile", pprof.Profile)
		r.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		r.HandleFunc("/debug/pprof/trace", pprof.Trace)
		r.PathPrefix("/debug/pprof/").HandlerFunc(pprof.Index)
	}

	s.server = &http.Server{
		Addr:         cfg.Address,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s, nil
}

// Handler returns the configured router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start begins serving in the background.
func (s *Server) Start() error {
	go func() {
		s.logger.Info("api server listening", zap.String("address", s.cfg.Address))
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server failed", zap.Error(err))
		}
	}()
	return nil
}

// Stop drains in-flight requests and shuts the listener down.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
		"uptime":    time.Since(s.started).String(),
	})
}

// statsResponse aggregates every component's counters in one payload.
type statsResponse struct {
	Timestamp int64                 `json:"timestamp"`
	Uptime    string                `json:"uptime"`
	Cache     manager.Stats         `json:"cache"`
	Optimizer *optimizer.CacheStats `json:"optimizer,omitempty"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	resp := statsResponse{
		Timestamp: time.Now().Unix(),
		Uptime:    time.Since(s.started).String(),
		Cache:     s.manager.Stats(),
	}
	if s.optimizer != nil {
		cs := s.optimizer.CacheStats()
		resp.Optimizer = &cs
	}
	writeJSON(w, http.StatusOK, resp)
}

func handleNoMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("# metrics registry not configured\n"))
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
