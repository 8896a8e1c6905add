package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/sepsis-sentinel/dashboard/internal/domain"
	"github.com/sepsis-sentinel/dashboard/internal/logging"
	"github.com/sepsis-sentinel/dashboard/internal/middleware"
	"github.com/sepsis-sentinel/dashboard/internal/service"
	"github.com/sepsis-sentinel/dashboard/internal/session"
	"github.com/sepsis-sentinel/dashboard/internal/view"
	"github.com/sepsis-sentinel/dashboard/pkg/external"
)

// Version is reported by the health endpoint.
var Version = "1.0.0"

// Predictor is the remote prediction service as seen by the handlers.
type Predictor interface {
	Predict(ctx context.Context, observation domain.PatientObservation) external.PredictOutcome
	CheckHealth(ctx context.Context) external.HealthStatus
	BaseURL() string
	BreakerState() string
}

// Server represents the HTTP server
type Server struct {
	configManager domain.ConfigManager
	predictor     Predictor
	sessions      *session.Manager
	aggregator    *service.HistoryAggregator
	logger        *logrus.Logger
	router        *gin.Engine
	server        *http.Server

	probing atomic.Bool
}

// NewServer creates a new HTTP server instance
func NewServer(
	configManager domain.ConfigManager,
	predictor Predictor,
	sessions *session.Manager,
	aggregator *service.HistoryAggregator,
	logger *logrus.Logger,
) (*Server, error) {
	cfg := configManager.GetConfig()

	// Set Gin mode based on environment; tests pick their own
	if gin.Mode() != gin.TestMode {
		if configManager.IsDevelopment() && cfg.Logging.Level == logging.DebugLevel {
			gin.SetMode(gin.DebugMode)
		} else {
			gin.SetMode(gin.ReleaseMode)
		}
	}
	registerFieldNames()

	router := gin.New()
	if err := view.Install(router); err != nil {
		return nil, err
	}

	server := &Server{
		configManager: configManager,
		predictor:     predictor,
		sessions:      sessions,
		aggregator:    aggregator,
		logger:        logger,
		router:        router,
	}

	// Add middleware
	router.Use(middleware.CorrelationID())
	router.Use(gin.CustomRecovery(server.handlePanic))
	router.Use(middleware.SecurityHeaders(configManager.IsProduction()))
	router.Use(middleware.RequestLogger(logger))

	// Setup routes
	server.setupRoutes()

	return server, nil
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	cfg := s.configManager.GetServerConfig()
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", addr).Info("HTTP server listening")
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownTimeout := cfg.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 30 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	return s.server.Shutdown(shutdownCtx)
}

// setupRoutes configures the dashboard pages and the JSON API
func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)

	sessionCfg := s.configManager.GetSessionConfig()
	withSession := middleware.Sessions(s.sessions, sessionCfg.CookieName, sessionCfg.CookieSecure, sessionCfg.TTL)

	pages := s.router.Group("/", withSession)
	{
		pages.GET("/", func(c *gin.Context) {
			c.Redirect(http.StatusFound, "/predict")
		})
		pages.GET("/predict", s.handlePredictPage)
		pages.POST("/predict", s.handlePredictSubmit)
		pages.POST("/predict/back", s.handlePredictBack)
		pages.GET("/history", s.handleHistoryPage)
		pages.GET("/about", s.handleAboutPage)
	}

	v1 := s.router.Group("/api/v1", withSession)
	{
		v1.POST("/predictions", s.handleCreatePrediction)
		v1.GET("/predictions/last", s.handleLastPrediction)
		v1.GET("/history", s.handleGetHistory)
		v1.GET("/history/summary", s.handleGetHistorySummary)
	}
}

// handleHealth reports our own liveness plus the upstream's state. The
// dashboard is alive even when the prediction service is not.
func (s *Server) handleHealth(c *gin.Context) {
	status := s.predictor.CheckHealth(c.Request.Context())

	backendHealthy := true
	if err := s.sessions.Ping(c.Request.Context()); err != nil {
		s.logger.WithError(err).Warn("Session history backend health check failed")
		backendHealthy = false
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"version":   Version,
		"sessions": gin.H{
			"active":  s.sessions.Len(),
			"backend": s.sessions.Backend(),
			"healthy": backendHealthy,
		},
		"predictor": gin.H{
			"base_url":        s.predictor.BaseURL(),
			"healthy":         status.Healthy,
			"model_loaded":    status.ModelLoaded(),
			"circuit_breaker": s.predictor.BreakerState(),
			"payload":         status.Payload,
		},
	})
}

// submit runs one prediction for a session: validate, rate limit, call the
// predictor, append on success. Nothing is appended on any failure.
func (s *Server) submit(ctx context.Context, sess *session.Session, observation domain.PatientObservation, requestID string) (*domain.PredictionRecord, int, *domain.DashboardError) {
	observation = observation.Finalize()
	if err := observation.Validate(); err != nil {
		return nil, http.StatusBadRequest, domain.NewDashboardError(domain.ErrInvalidInput, "Invalid patient observation", err.Error(), requestID)
	}

	if !sess.AllowPredict() {
		s.logger.WithField("session_id", sess.ID).Warn("Prediction rate limit exceeded")
		return nil, http.StatusTooManyRequests, domain.NewDashboardError(domain.ErrRateLimit, "Too many predictions, please wait a moment", "", requestID)
	}

	outcome := s.predictor.Predict(ctx, observation)
	if !outcome.OK {
		s.logger.WithFields(logrus.Fields{
			"session_id": sess.ID,
			"reason":     outcome.Reason(),
		}).Warn("Prediction failed")
		return nil, http.StatusBadGateway, domain.NewDashboardError(domain.ErrPredictionFailed, outcome.Reason(), "", requestID)
	}

	record := domain.PredictionRecord{
		Timestamp:   time.Now().UTC(),
		Observation: observation,
		Result:      *outcome.Result,
	}
	if err := sess.History().Append(ctx, record); err != nil {
		s.logger.WithError(err).WithField("session_id", sess.ID).Error("Failed to record prediction")
		return nil, http.StatusServiceUnavailable, domain.NewDashboardError(domain.ErrHistoryUnavailable, "Prediction history is unavailable", err.Error(), requestID)
	}

	s.logger.WithFields(logrus.Fields{
		"session_id":  sess.ID,
		"probability": record.Result.Prediction,
		"tier":        service.Classify(record.Result.Prediction).String(),
	}).Info("Prediction recorded")

	return &record, http.StatusCreated, nil
}

// probeUpstream checks the predictor's health in the background. Failures
// are only logged; at most one probe runs at a time.
func (s *Server) probeUpstream() {
	if !s.probing.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer s.probing.Store(false)
		if status := s.predictor.CheckHealth(context.Background()); !status.Healthy {
			s.logger.WithField("base_url", s.predictor.BaseURL()).Warn("Prediction service disconnected, check that the backend is running")
		}
	}()
}

// handlePanic turns a recovered handler panic into a DashboardError body.
func (s *Server) handlePanic(c *gin.Context, recovered any) {
	requestID := c.GetString(middleware.CorrelationIDKey)
	s.logger.WithFields(logrus.Fields{
		"panic":      recovered,
		"path":       c.Request.URL.Path,
		"request_id": requestID,
	}).Error("Recovered from handler panic")

	s.abortWithError(c, http.StatusInternalServerError,
		domain.NewDashboardError(domain.ErrInternalServer, "Internal server error", "", requestID))
}

func (s *Server) page(c *gin.Context, tab string) view.Page {
	return view.Page{Tab: tab, CorrelationID: c.GetString(middleware.CorrelationIDKey)}
}

func (s *Server) abortWithError(c *gin.Context, status int, derr *domain.DashboardError) {
	c.AbortWithStatusJSON(status, gin.H{"error": derr})
}
