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

	"github.com/relayhq/relay-provisioner/internal/config"
	"github.com/relayhq/relay-provisioner/internal/custodian"
	"github.com/relayhq/relay-provisioner/internal/metrics"
	"github.com/relayhq/relay-provisioner/internal/nostrauth"
	"github.com/relayhq/relay-provisioner/internal/reconciler"
	"github.com/relayhq/relay-provisioner/internal/storage"
	"github.com/relayhq/relay-provisioner/pkg/utils"
)

// HTTPServer represents the HTTP server
type HTTPServer struct {
	config         *config.ServerConfig
	authConfig     *config.AuthConfig
	payments       *config.PaymentsConfig
	server         *http.Server
	router         *mux.Router
	storage        storage.Storage
	custodian      custodian.Custodian
	engine         *reconciler.Engine
	verifier       *nostrauth.Verifier
	challenges     *ChallengeStore
	sessions       *SessionIssuer
	metricsManager *metrics.Manager
	logger         *logrus.Logger
}

// NewHTTPServer creates a new HTTP server
func NewHTTPServer(
	cfg *config.ServerConfig,
	authCfg *config.AuthConfig,
	payments *config.PaymentsConfig,
	store storage.Storage,
	cust custodian.Custodian,
	engine *reconciler.Engine,
	metricsManager *metrics.Manager,
) (*HTTPServer, error) {

	server := &HTTPServer{
		config:         cfg,
		authConfig:     authCfg,
		payments:       payments,
		storage:        store,
		custodian:      cust,
		engine:         engine,
		verifier:       nostrauth.NewVerifier(),
		challenges:     NewChallengeStore(authCfg.ChallengeTTL),
		sessions:       NewSessionIssuer(authCfg),
		metricsManager: metricsManager,
		logger:         utils.GetLogger(),
	}

	server.setupRouter()

	server.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      server.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return server, nil
}

// setupRouter sets up the HTTP routes
func (s *HTTPServer) setupRouter() {
	s.router = mux.NewRouter()

	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.corsMiddleware)
	if s.metricsManager != nil {
		s.router.Use(s.metricsMiddleware)
	}

	api := s.router.PathPrefix("/api/v1").Subrouter()

	if s.config.EnableHealth {
		api.HandleFunc("/health", s.healthHandler).Methods("GET")
	}

	if s.config.EnableMetrics {
		s.router.Handle("/metrics", promhttp.Handler())
		api.HandleFunc("/stats", s.statsHandler).Methods("GET")
	}

	// Login exchange: challenge issuance is unauthenticated, the login
	// itself carries its proof in the signed event body.
	api.HandleFunc("/auth/challenge", s.challengeHandler).Methods("POST")
	api.HandleFunc("/auth/login", s.loginHandler).Methods("POST")

	// Everything below requires a verified signed event per request.
	authed := api.NewRoute().Subrouter()
	authed.Use(s.nostrAuthMiddleware)

	authed.HandleFunc("/orders", s.createOrderHandler).Methods("POST")
	authed.HandleFunc("/orders", s.listOrdersHandler).Methods("GET")
	authed.HandleFunc("/orders/{id}", s.getOrderHandler).Methods("GET")
	authed.HandleFunc("/relays", s.listRelaysHandler).Methods("GET")
	authed.HandleFunc("/relays/{id}", s.getRelayHandler).Methods("GET")

	admin := authed.PathPrefix("/admin").Subrouter()
	admin.Use(s.requireAdminMiddleware)

	admin.HandleFunc("/orders", s.adminListOrdersHandler).Methods("GET")
	admin.HandleFunc("/orders/{id}/settle", s.adminSettleOrderHandler).Methods("POST")
}

// Start starts the HTTP server
func (s *HTTPServer) Start() error {
	s.logger.Info("Starting HTTP server", map[string]interface{}{
		"address":         s.server.Addr,
		"metrics_enabled": s.config.EnableMetrics,
	})

	if s.metricsManager != nil {
		s.metricsManager.RegisterHealthProbe("storage", func() bool {
			return s.storage.Ping() == nil
		})
		s.metricsManager.Refresh()
		go s.systemMetricsUpdater()
	}

	errChan := make(chan error, 1)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", map[string]interface{}{"error": err})
			errChan <- err
		}
	}()

	// Catch immediate binding errors before reporting success.
	select {
	case err := <-errChan:
		return fmt.Errorf("failed to start HTTP server: %w", err)
	case <-time.After(100 * time.Millisecond):
		return nil
	}
}

// systemMetricsUpdater updates system metrics periodically
func (s *HTTPServer) systemMetricsUpdater() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		s.metricsManager.Refresh()
	}
}

// Stop stops the HTTP server
func (s *HTTPServer) Stop() error {
	s.logger.Info("Stopping HTTP server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}

// Router exposes the handler for tests
func (s *HTTPServer) Router() http.Handler {
	return s.router
}

// healthHandler returns basic health status
func (s *HTTPServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	storageHealthy := s.storage.Ping() == nil

	status := "healthy"
	code := http.StatusOK
	if !storageHealthy {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	s.writeJSON(w, code, map[string]interface{}{
		"status":    status,
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		"components": map[string]interface{}{
			"storage":  storageHealthy,
			"payments": s.payments.Active(),
		},
	})
}

// statsHandler returns application statistics
func (s *HTTPServer) statsHandler(w http.ResponseWriter, r *http.Request) {
	storageStats, err := s.storage.GetStorageStats(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to retrieve storage stats", err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"timestamp":       time.Now(),
		"storage":         storageStats,
		"payments_active": s.payments.Active(),
	})
}

// writeJSON writes a JSON response
func (s *HTTPServer) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("Failed to encode JSON response", map[string]interface{}{"error": err})
	}
}

// writeError writes a JSON error response
func (s *HTTPServer) writeError(w http.ResponseWriter, status int, message string, err error) {
	if err != nil {
		s.logger.Warn("Request failed", map[string]interface{}{
			"status":  status,
			"message": message,
			"error":   err,
		})
	}

	s.writeJSON(w, status, map[string]interface{}{
		"error": message,
	})
}
