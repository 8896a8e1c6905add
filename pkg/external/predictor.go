package external

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/sepsis-sentinel/dashboard/internal/domain"
)

const (
	maxResponseBytes = 1 << 20
	maxDetailBytes   = 200
)

// PredictorClient talks to the remote sepsis prediction service. It holds
// only immutable configuration plus the circuit breaker, so one instance is
// shared by every session.
type PredictorClient struct {
	baseURL        string
	predictTimeout time.Duration
	healthTimeout  time.Duration
	httpClient     *http.Client
	breaker        *gobreaker.CircuitBreaker
	logger         *logrus.Logger
}

// HealthStatus is the outcome of a health probe.
type HealthStatus struct {
	Healthy bool                   `json:"healthy"`
	Payload map[string]interface{} `json:"payload"`
}

// ModelLoaded reports the upstream model_loaded flag, false when absent.
func (h HealthStatus) ModelLoaded() bool {
	loaded, _ := h.Payload["model_loaded"].(bool)
	return h.Healthy && loaded
}

// PredictOutcome is the two-part result of a predict call. On failure
// Payload carries {"error": reason} and Result is nil.
type PredictOutcome struct {
	OK      bool                     `json:"ok"`
	Result  *domain.PredictionResult `json:"result,omitempty"`
	Payload map[string]interface{}   `json:"payload"`
}

// Reason returns the failure reason, or "" for a successful outcome.
func (o PredictOutcome) Reason() string {
	if o.OK {
		return ""
	}
	if reason, ok := o.Payload["error"].(string); ok && reason != "" {
		return reason
	}
	return "unknown error"
}

// StatusError is returned for non-2xx upstream responses.
type StatusError struct {
	StatusCode int
	Detail     string
}

// Error implements the error interface
func (e *StatusError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("prediction service returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("prediction service returned status %d: %s", e.StatusCode, e.Detail)
}

// DecodeError is returned when a 2xx response cannot be interpreted.
type DecodeError struct {
	Message string
}

// Error implements the error interface
func (e *DecodeError) Error() string {
	return "invalid response from prediction service: " + e.Message
}

// NewPredictorClient creates a new prediction service client
func NewPredictorClient(config domain.PredictorConfig, logger *logrus.Logger) *PredictorClient {
	c := &PredictorClient{
		baseURL:        strings.TrimRight(config.BaseURL, "/"),
		predictTimeout: config.PredictTimeout,
		healthTimeout:  config.HealthTimeout,
		httpClient:     &http.Client{},
		logger:         logger,
	}
	if c.predictTimeout <= 0 {
		c.predictTimeout = 10 * time.Second
	}
	if c.healthTimeout <= 0 {
		c.healthTimeout = 5 * time.Second
	}

	if config.Breaker.Enabled {
		failures := config.Breaker.ConsecutiveFailures
		if failures == 0 {
			failures = 5
		}
		c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "predictor",
			MaxRequests: config.Breaker.MaxRequests,
			Interval:    config.Breaker.Interval,
			Timeout:     config.Breaker.Timeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= failures
			},
			IsSuccessful: isBreakerSuccess,
			OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
				logger.WithFields(logrus.Fields{
					"breaker": name,
					"from":    from.String(),
					"to":      to.String(),
				}).Warn("Circuit breaker state changed")
			},
		})
	}

	return c
}

// BaseURL returns the resolved service base URL.
func (c *PredictorClient) BaseURL() string {
	return c.baseURL
}

// BreakerState returns the breaker state name, or "disabled".
func (c *PredictorClient) BreakerState() string {
	if c.breaker == nil {
		return "disabled"
	}
	return c.breaker.State().String()
}

// CheckHealth probes GET /health. Any failure yields Healthy=false with a
// nil payload; it never returns an error.
func (c *PredictorClient) CheckHealth(ctx context.Context) HealthStatus {
	ctx, cancel := context.WithTimeout(ctx, c.healthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		c.logger.WithError(err).Warn("Failed to build health request")
		return HealthStatus{}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.WithError(err).Warn("Prediction service health check failed")
		return HealthStatus{}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.WithField("status", resp.StatusCode).Warn("Prediction service reported unhealthy")
		return HealthStatus{}
	}

	var payload map[string]interface{}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&payload); err != nil {
		c.logger.WithError(err).Warn("Prediction service health response is not JSON")
		return HealthStatus{}
	}

	return HealthStatus{Healthy: true, Payload: payload}
}

// Predict posts one observation to /predict. Exactly one attempt is made.
// Every transport, status and decoding failure is converted into an
// outcome with OK=false; no error escapes this boundary.
func (c *PredictorClient) Predict(ctx context.Context, observation domain.PatientObservation) PredictOutcome {
	start := time.Now()

	var (
		result  *domain.PredictionResult
		payload map[string]interface{}
		err     error
	)
	if c.breaker != nil {
		_, err = c.breaker.Execute(func() (interface{}, error) {
			result, payload, err = c.doPredict(ctx, observation)
			if err != nil && ctx.Err() != nil {
				err = &callerDoneError{err: err}
			}
			return nil, err
		})
	} else {
		result, payload, err = c.doPredict(ctx, observation)
	}

	fields := logrus.Fields{"duration": time.Since(start)}
	if err != nil {
		reason := c.reasonFor(err)
		c.logger.WithFields(fields).WithField("reason", reason).Warn("Prediction request failed")
		return PredictOutcome{OK: false, Payload: map[string]interface{}{"error": reason}}
	}

	c.logger.WithFields(fields).WithFields(logrus.Fields{
		"prediction": result.Prediction,
		"risk_level": result.RiskLevel,
	}).Debug("Prediction received")

	return PredictOutcome{OK: true, Result: result, Payload: payload}
}

func (c *PredictorClient) doPredict(ctx context.Context, observation domain.PatientObservation) (*domain.PredictionResult, map[string]interface{}, error) {
	ctx, cancel := context.WithTimeout(ctx, c.predictTimeout)
	defer cancel()

	body, err := json.Marshal(observation)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode observation: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/predict", bytes.NewReader(body))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create predict request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read predict response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, nil, &StatusError{StatusCode: resp.StatusCode, Detail: errorDetail(raw)}
	}

	return decodePrediction(raw)
}

// decodePrediction interprets a predict response body. The prediction
// field is required and must be a finite number; risk_level is optional
// but must be a string when present.
func decodePrediction(raw []byte) (*domain.PredictionResult, map[string]interface{}, error) {
	var payload map[string]interface{}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, nil, &DecodeError{Message: "body is not a JSON object"}
	}

	value, ok := payload["prediction"]
	if !ok {
		return nil, nil, &DecodeError{Message: "missing field 'prediction'"}
	}
	prediction, ok := value.(float64)
	if !ok || math.IsNaN(prediction) || math.IsInf(prediction, 0) {
		return nil, nil, &DecodeError{Message: "field 'prediction' is not a finite number"}
	}

	result := &domain.PredictionResult{Prediction: prediction}
	if level, present := payload["risk_level"]; present && level != nil {
		s, ok := level.(string)
		if !ok {
			return nil, nil, &DecodeError{Message: "field 'risk_level' is not a string"}
		}
		result.RiskLevel = s
	}

	for k, v := range payload {
		if k == "prediction" || k == "risk_level" {
			continue
		}
		if result.Extra == nil {
			result.Extra = make(map[string]interface{})
		}
		result.Extra[k] = v
	}

	return result, payload, nil
}

// errorDetail pulls a human readable message out of an error body.
// FastAPI style {"detail": ...} and {"error": ...} are recognised.
func errorDetail(raw []byte) string {
	var body map[string]interface{}
	if err := json.Unmarshal(raw, &body); err == nil {
		for _, key := range []string{"detail", "error", "message"} {
			switch v := body[key].(type) {
			case string:
				return v
			case nil:
			default:
				if encoded, err := json.Marshal(v); err == nil {
					return string(encoded)
				}
			}
		}
		return ""
	}

	return truncateRunes(strings.TrimSpace(string(raw)), maxDetailBytes)
}

// truncateRunes cuts s to at most n bytes without splitting a UTF-8 rune.
func truncateRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func (c *PredictorClient) reasonFor(err error) string {
	var statusErr *StatusError
	var decodeErr *DecodeError
	var callerDone *callerDoneError
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return "prediction service unavailable: circuit breaker is open"
	case errors.As(err, &statusErr):
		return statusErr.Error()
	case errors.As(err, &decodeErr):
		return decodeErr.Error()
	case errors.Is(err, context.Canceled), errors.As(err, &callerDone):
		return "prediction request was cancelled"
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Sprintf("prediction service timed out after %s", c.predictTimeout)
	default:
		return fmt.Sprintf("prediction service unavailable: %v", err)
	}
}

// callerDoneError wraps a failure that happened because the caller's own
// context ended. It says nothing about the prediction service.
type callerDoneError struct {
	err error
}

func (e *callerDoneError) Error() string { return e.err.Error() }
func (e *callerDoneError) Unwrap() error { return e.err }

// isBreakerSuccess keeps client errors and caller cancellations from
// tripping the breaker; only transport failures, 5xx responses, our own
// timeout and undecodable bodies count.
func isBreakerSuccess(err error) bool {
	if err == nil {
		return true
	}
	var callerDone *callerDoneError
	if errors.As(err, &callerDone) || errors.Is(err, context.Canceled) {
		return true
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode < 500
	}
	return false
}
