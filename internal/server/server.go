// File: internal/server/server.go
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/evm-event-tracker/internal/config"
	"github.com/smartdevs17/evm-event-tracker/internal/connection"
	"github.com/smartdevs17/evm-event-tracker/internal/metrics"
	"github.com/smartdevs17/evm-event-tracker/internal/tracker"
	"github.com/smartdevs17/evm-event-tracker/pkg/utils"
)

// HTTPServer exposes health, metrics and tracked-event introspection
type HTTPServer struct {
	config         *config.ServerConfig
	server         *http.Server
	router         *mux.Router
	connection     connection.Manager
	tracker        *tracker.Tracker
	metricsManager *metrics.Manager
	logger         *logrus.Logger
	startTime      time.Time
}

// NewHTTPServer creates a new HTTP server
func NewHTTPServer(
	cfg *config.ServerConfig,
	conn connection.Manager,
	tr *tracker.Tracker,
	metricsManager *metrics.Manager,
) *HTTPServer {

	s := &HTTPServer{
		config:         cfg,
		connection:     conn,
		tracker:        tr,
		metricsManager: metricsManager,
		logger:         utils.GetLogger(),
		startTime:      time.Now(),
	}

	s.setupRouter()

	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s
}

// setupRouter sets up the HTTP routes
func (s *HTTPServer) setupRouter() {
	s.router = mux.NewRouter()

	s.router.Use(s.loggingMiddleware)

	api := s.router.PathPrefix("/api/v1").Subrouter()

	if s.config.EnableHealth {
		api.HandleFunc("/health", s.healthHandler).Methods("GET")
	}

	if s.config.EnableMetrics {
		s.router.Handle("/metrics", promhttp.Handler())
		api.HandleFunc("/stats", s.statsHandler).Methods("GET")
	}

	api.HandleFunc("/events", s.listEventsHandler).Methods("GET")
}

// Start starts the HTTP server
func (s *HTTPServer) Start() error {
	s.logger.Info("Starting HTTP server",
		"address", s.server.Addr,
		"metrics_enabled", s.config.EnableMetrics)

	if s.metricsManager != nil {
		s.metricsManager.UpdateSystemMetrics()
		go s.systemMetricsUpdater()
	}

	errChan := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", "error", err)
			errChan <- err
		}
	}()

	// Catch immediate binding errors
	select {
	case err := <-errChan:
		return fmt.Errorf("failed to start HTTP server: %w", err)
	case <-time.After(100 * time.Millisecond):
		return nil
	}
}

// Stop gracefully shuts down the HTTP server
func (s *HTTPServer) Stop(ctx context.Context) error {
	s.logger.Info("Stopping HTTP server")
	return s.server.Shutdown(ctx)
}

// systemMetricsUpdater updates system metrics periodically
func (s *HTTPServer) systemMetricsUpdater() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		s.metricsManager.UpdateSystemMetrics()
	}
}

// healthHandler reports process and node connectivity health
func (s *HTTPServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	healthy := true
	issues := []string{}

	if s.connection != nil && !s.connection.IsConnected() {
		healthy = false
		issues = append(issues, "node connection unhealthy")
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}

	s.writeJSON(w, status, map[string]interface{}{
		"healthy": healthy,
		"uptime":  time.Since(s.startTime).String(),
		"issues":  issues,
	})
}

// listEventsHandler returns the currently tracked event descriptors
func (s *HTTPServer) listEventsHandler(w http.ResponseWriter, r *http.Request) {
	type trackedEvent struct {
		Name               string  `json:"name"`
		Contract           string  `json:"contract"`
		FromBlock          *uint64 `json:"from_block,omitempty"`
		BackfillBlockCount uint64  `json:"backfill_block_count,omitempty"`
	}

	tracked := s.tracker.TrackedEvents()
	events := make([]trackedEvent, 0, len(tracked))
	for _, descriptor := range tracked {
		events = append(events, trackedEvent{
			Name:               descriptor.Name,
			Contract:           descriptor.Contract.Hex(),
			FromBlock:          descriptor.FromBlock,
			BackfillBlockCount: descriptor.BackFillBlockCount,
		})
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":  len(events),
		"events": events,
	})
}

// statsHandler returns connection statistics
func (s *HTTPServer) statsHandler(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"uptime":         time.Since(s.startTime).String(),
		"tracked_events": len(s.tracker.TrackedEvents()),
	}
	if s.connection != nil {
		response["connection"] = s.connection.Stats()
	}

	s.writeJSON(w, http.StatusOK, response)
}

func (s *HTTPServer) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("Failed to encode response", "error", err)
	}
}
