package healthcheck

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/denkuservices/denku-mvp-sub000/pkg/utils"
)

// readyCheckTimeout bounds every dependency ping of one /ready request.
const readyCheckTimeout = 2 * time.Second

// Pinger is a dependency whose reachability gates readiness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

// Ping calls f.
func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// Server represents a health check HTTP server
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux // Expose mux for adding handlers
	logger     *zap.Logger
	checks     map[string]Pinger
	version    string
}

// HealthResponse is the response structure for health check endpoints
type HealthResponse struct {
	Status  string            `json:"status"`
	Version string            `json:"version,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

// NewServer creates a new health check server
func NewServer(port int, version string, logger *zap.Logger) *Server {
	mux := http.NewServeMux()

	server := &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		mux:     mux,
		logger:  logger.Named("healthcheck"),
		checks:  make(map[string]Pinger),
		version: version,
	}

	mux.HandleFunc("/health", server.handleHealth)
	mux.HandleFunc("/ready", server.handleReady)

	return server
}

// AddCheck registers a dependency /ready pings. Register before Start.
func (s *Server) AddCheck(name string, p Pinger) {
	s.checks[name] = p
}

// RegisterMetricsHandler adds the /metrics endpoint handler.
// Should only be called if metrics are enabled.
func (s *Server) RegisterMetricsHandler(handler http.Handler) {
	s.logger.Info("Registering /metrics endpoint")
	s.mux.Handle("/metrics", handler)
}

// Handler exposes the mux.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start serves until Stop is called.
func (s *Server) Start() error {
	s.logger.Info("Starting health check server", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("health check server: %w", err)
	}
	return nil
}

// Stop gracefully shuts down the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping health check server")
	return s.httpServer.Shutdown(ctx)
}

// handleHealth handles the /health endpoint for liveness probes
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	utils.WriteJSONResponse(w, http.StatusOK, HealthResponse{
		Status:  "UP",
		Version: s.version,
	})
}

// handleReady pings every registered dependency.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyCheckTimeout)
	defer cancel()

	status, code := "READY", http.StatusOK
	details := map[string]string{
		"timestamp": utils.FormatISO8601(utils.Now()),
	}
	for name, check := range s.checks {
		if err := check.Ping(ctx); err != nil {
			s.logger.Warn("Readiness check failed", zap.String("check", name), zap.Error(err))
			details[name] = "down"
			status, code = "NOT_READY", http.StatusServiceUnavailable
			continue
		}
		details[name] = "up"
	}

	utils.WriteJSONResponse(w, code, HealthResponse{Status: status, Details: details})
}
