package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sepsis-sentinel/dashboard/internal/domain"
	"github.com/sepsis-sentinel/dashboard/internal/middleware"
	"github.com/sepsis-sentinel/dashboard/internal/session"
	"github.com/sepsis-sentinel/dashboard/internal/view"
)

// handlePredictPage shows the form, or the latest result when the session
// is on its result view.
func (s *Server) handlePredictPage(c *gin.Context) {
	s.probeUpstream()
	sess := middleware.CurrentSession(c)
	page := s.page(c, view.TabPredict)

	if sess.Page() == session.PageResult {
		last, err := sess.History().Last(c.Request.Context())
		if err != nil {
			s.logger.WithError(err).WithField("session_id", sess.ID).Error("Failed to load last prediction")
			sess.SetPage(session.PageForm)
			c.HTML(http.StatusServiceUnavailable, view.PredictTemplate, view.FormPage{
				Page:        page,
				Observation: domain.DefaultObservation(),
				Error:       "prediction history is unavailable",
			})
			return
		}
		if last != nil {
			c.HTML(http.StatusOK, view.ResultTemplate, view.NewResultPage(page, *last))
			return
		}
		sess.SetPage(session.PageForm)
	}

	c.HTML(http.StatusOK, view.PredictTemplate, view.FormPage{
		Page:        page,
		Observation: domain.DefaultObservation(),
	})
}

// handlePredictSubmit binds the form and runs a prediction. Success
// switches the session to its result view; failure re-renders the form
// with the submitted values and an inline message.
func (s *Server) handlePredictSubmit(c *gin.Context) {
	sess := middleware.CurrentSession(c)
	page := s.page(c, view.TabPredict)

	var observation domain.PatientObservation
	if err := c.ShouldBind(&observation); err != nil {
		c.HTML(http.StatusBadRequest, view.PredictTemplate, view.FormPage{
			Page:        page,
			Observation: observation,
			Error:       toValidationError(err).Error(),
		})
		return
	}

	_, status, derr := s.submit(c.Request.Context(), sess, observation, page.CorrelationID)
	if derr != nil {
		msg := derr.Message
		if derr.Details != "" {
			msg += ": " + derr.Details
		}
		c.HTML(status, view.PredictTemplate, view.FormPage{
			Page:        page,
			Observation: observation,
			Error:       msg,
		})
		return
	}

	sess.SetPage(session.PageResult)
	c.Redirect(http.StatusSeeOther, "/predict")
}

// handlePredictBack returns the prediction tab to the input form.
func (s *Server) handlePredictBack(c *gin.Context) {
	middleware.CurrentSession(c).SetPage(session.PageForm)
	c.Redirect(http.StatusSeeOther, "/predict")
}

func (s *Server) handleHistoryPage(c *gin.Context) {
	s.probeUpstream()
	sess := middleware.CurrentSession(c)
	page := s.page(c, view.TabHistory)

	records, err := sess.History().All(c.Request.Context())
	if err != nil {
		s.logger.WithError(err).WithField("session_id", sess.ID).Error("Failed to load prediction history")
		history := view.NewHistoryPage(page, s.aggregator.Aggregate(nil), nil)
		history.Error = "Prediction history is unavailable."
		c.HTML(http.StatusServiceUnavailable, view.HistoryTemplate, history)
		return
	}

	summary := s.aggregator.Aggregate(records)
	c.HTML(http.StatusOK, view.HistoryTemplate, view.NewHistoryPage(page, summary, records))
}

func (s *Server) handleAboutPage(c *gin.Context) {
	s.probeUpstream()
	c.HTML(http.StatusOK, view.AboutTemplate, view.AboutPage{
		Page:              s.page(c, view.TabAbout),
		ModerateThreshold: domain.ModerateThreshold,
		HighThreshold:     domain.HighThreshold,
	})
}
