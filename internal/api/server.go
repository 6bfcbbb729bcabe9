// Package api provides the HTTP API server implementation.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"github.com/fx-insight/internal/job"
	"github.com/fx-insight/internal/logging"
	"github.com/fx-insight/internal/models"
	"github.com/fx-insight/internal/service"
	"github.com/fx-insight/internal/types"
)

// Service interfaces for dependency injection and testing

// RevaluationServiceInterface defines the analysis operations served by the API
type RevaluationServiceInterface interface {
	GenerateRevaluationReport(ctx context.Context, input *service.RevaluationReportInput) (*service.PeriodReport, error)
	CalculateCurrentUnrealizedPL(ctx context.Context, userID, baseCurrency string) (*service.PLReport, error)
	GetCurrencyExposure(ctx context.Context, userID, baseCurrency string) (*service.ExposureReport, error)
	GenerateRiskAssessment(ctx context.Context, userID, baseCurrency string) (*service.RiskAssessment, error)
}

// SnapshotServiceInterface defines snapshot ingestion
type SnapshotServiceInterface interface {
	RecordSnapshot(ctx context.Context, snapshot *models.NetWorthSnapshot) error
}

// RateServiceInterface defines current rate lookups
type RateServiceInterface interface {
	GetRealTimeRate(ctx context.Context, from, to string) (*types.RateQuote, error)
}

// AlertQueue accepts notifications for asynchronous delivery.
// job.NotificationQueue satisfies it.
type AlertQueue interface {
	Enqueue(n *job.Notification) bool
}

// Server represents the HTTP API server.
type Server struct {
	router             *mux.Router
	httpServer         *http.Server
	revaluationService RevaluationServiceInterface
	snapshotService    SnapshotServiceInterface
	rateService        RateServiceInterface
	alerts             AlertQueue
	logger             *logging.Logger
	config             *ServerConfig
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	// Per-user request rate
	RequestsPerSecond float64
	Burst             int
	// FxShareAlertThreshold is the |fxAttributedPercentage| above which a
	// revaluation report raises an fx_impact_alert. 0 disables it.
	FxShareAlertThreshold float64
}

// NewServer creates a new API server instance. alerts may be nil, in which
// case no notifications are raised.
func NewServer(
	config *ServerConfig,
	revaluationService *service.RevaluationService,
	snapshotService *service.SnapshotService,
	rateService *service.ForexService,
	alerts *job.NotificationQueue,
	logger *logging.Logger,
) *Server {
	s := &Server{
		router:             mux.NewRouter(),
		revaluationService: revaluationService,
		snapshotService:    snapshotService,
		rateService:        rateService,
		logger:             logger,
		config:             config,
	}
	if alerts != nil {
		s.alerts = alerts
	}
	if s.logger == nil {
		s.logger = logging.GetGlobalLogger()
	}

	s.setupRouter()

	return s
}

// setupRouter configures the router with middleware and routes
func (s *Server) setupRouter() {
	rateLimiter := NewRateLimiter(s.config.RequestsPerSecond, s.config.Burst)

	// Set up middleware (order matters!)
	s.router.Use(LoggingMiddleware(s.logger))
	s.router.Use(RecoveryMiddleware(s.logger))
	s.router.Use(CORSMiddleware)
	s.router.Use(RateLimitMiddleware(rateLimiter)) // Rate limiting after CORS
	s.router.Use(CompressionMiddleware)

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", s.config.Host, s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
}

// setupRoutes configures all API routes. Every fx route also matches
// OPTIONS: mux runs middleware only for matched routes, and preflights
// are answered by CORSMiddleware.
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	fx := s.router.PathPrefix("/api/fx").Subrouter()

	// Analysis endpoints
	fx.HandleFunc("/revaluation", s.handleRevaluationReport).Methods("GET", "OPTIONS")
	fx.HandleFunc("/unrealized-pl", s.handleUnrealizedPL).Methods("GET", "OPTIONS")
	fx.HandleFunc("/exposure", s.handleExposure).Methods("GET", "OPTIONS")
	fx.HandleFunc("/risk", s.handleRiskAssessment).Methods("GET", "OPTIONS")

	// Snapshot ingestion
	fx.HandleFunc("/snapshots", s.handleRecordSnapshot).Methods("POST", "OPTIONS")

	// Rates
	fx.HandleFunc("/rates/{from}/{to}", s.handleGetRate).Methods("GET", "OPTIONS")
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "fx-insight",
	})
}

// raiseAlert hands a notification to the alert queue if one is configured.
// It never blocks the response.
func (s *Server) raiseAlert(n *job.Notification) {
	if n == nil || s.alerts == nil {
		return
	}
	if !s.alerts.Enqueue(n) {
		s.logger.WithFields(map[string]interface{}{
			"user_id": n.UserID,
			"type":    string(n.Type),
		}).Warn("alert dropped")
	}
}

func (s *Server) fxShareThreshold() decimal.Decimal {
	return decimal.NewFromFloat(s.config.FxShareAlertThreshold)
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.WithField("addr", s.httpServer.Addr).Info("starting API server")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down API server")
	return s.httpServer.Shutdown(ctx)
}
