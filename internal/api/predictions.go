package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sepsis-sentinel/dashboard/internal/domain"
	"github.com/sepsis-sentinel/dashboard/internal/middleware"
	"github.com/sepsis-sentinel/dashboard/internal/service"
)

// PredictionResponse is a record with its derived presentation.
type PredictionResponse struct {
	Record         domain.PredictionRecord `json:"record"`
	Tier           domain.TierPresentation `json:"tier"`
	Reconciliation domain.Reconciliation   `json:"reconciliation"`
}

// HistoryResponse lists a session's records in insertion order.
type HistoryResponse struct {
	SessionID string                    `json:"session_id"`
	Count     int                       `json:"count"`
	Records   []domain.PredictionRecord `json:"records"`
}

func newPredictionResponse(record domain.PredictionRecord) PredictionResponse {
	p := service.ClampProbability(record.Result.Prediction)
	return PredictionResponse{
		Record:         record,
		Tier:           service.TierInfo(service.Classify(p)),
		Reconciliation: service.Reconcile(p, record.Result.RiskLevel),
	}
}

// handleCreatePrediction handles POST /api/v1/predictions
func (s *Server) handleCreatePrediction(c *gin.Context) {
	sess := middleware.CurrentSession(c)
	requestID := c.GetString(middleware.CorrelationIDKey)

	var observation domain.PatientObservation
	if err := c.ShouldBindJSON(&observation); err != nil {
		s.abortWithError(c, http.StatusBadRequest, domain.NewDashboardError(
			domain.ErrInvalidInput, "Invalid patient observation", toValidationError(err).Error(), requestID))
		return
	}

	record, status, derr := s.submit(c.Request.Context(), sess, observation, requestID)
	if derr != nil {
		s.abortWithError(c, status, derr)
		return
	}

	c.JSON(http.StatusCreated, newPredictionResponse(*record))
}

// handleLastPrediction handles GET /api/v1/predictions/last
func (s *Server) handleLastPrediction(c *gin.Context) {
	sess := middleware.CurrentSession(c)
	requestID := c.GetString(middleware.CorrelationIDKey)

	last, err := sess.History().Last(c.Request.Context())
	if err != nil {
		s.abortWithError(c, http.StatusServiceUnavailable, domain.NewDashboardError(
			domain.ErrHistoryUnavailable, "Prediction history is unavailable", err.Error(), requestID))
		return
	}
	if last == nil {
		s.abortWithError(c, http.StatusNotFound, domain.NewDashboardError(
			domain.ErrRecordNotFound, "No prediction has been made in this session", "", requestID))
		return
	}

	c.JSON(http.StatusOK, newPredictionResponse(*last))
}

// handleGetHistory handles GET /api/v1/history
func (s *Server) handleGetHistory(c *gin.Context) {
	sess := middleware.CurrentSession(c)

	records, err := sess.History().All(c.Request.Context())
	if err != nil {
		s.abortWithError(c, http.StatusServiceUnavailable, domain.NewDashboardError(
			domain.ErrHistoryUnavailable, "Prediction history is unavailable", err.Error(), c.GetString(middleware.CorrelationIDKey)))
		return
	}

	c.JSON(http.StatusOK, HistoryResponse{
		SessionID: sess.ID,
		Count:     len(records),
		Records:   records,
	})
}

// handleGetHistorySummary handles GET /api/v1/history/summary
func (s *Server) handleGetHistorySummary(c *gin.Context) {
	sess := middleware.CurrentSession(c)

	records, err := sess.History().All(c.Request.Context())
	if err != nil {
		s.abortWithError(c, http.StatusServiceUnavailable, domain.NewDashboardError(
			domain.ErrHistoryUnavailable, "Prediction history is unavailable", err.Error(), c.GetString(middleware.CorrelationIDKey)))
		return
	}

	c.JSON(http.StatusOK, s.aggregator.Aggregate(records))
}
