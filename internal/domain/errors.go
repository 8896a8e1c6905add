package domain

import (
	"fmt"
	"time"
)

// DashboardError represents a standardized error response
type DashboardError struct {
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	Details   string    `json:"details,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id"`
}

// Error implements the error interface
func (e *DashboardError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Error codes for different failure scenarios
const (
	ErrInvalidInput       = "INVALID_INPUT"
	ErrPredictionFailed   = "PREDICTION_FAILED"
	ErrRateLimit          = "RATE_LIMIT_EXCEEDED"
	ErrHistoryUnavailable = "HISTORY_UNAVAILABLE"
	ErrRecordNotFound     = "NOT_FOUND"
	ErrInternalServer     = "INTERNAL_SERVER_ERROR"
)

// ValidationError represents input validation errors
type ValidationError struct {
	Field   string      `json:"field"`
	Message string      `json:"message"`
	Value   interface{} `json:"value"`
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// NewDashboardError creates a new DashboardError with timestamp
func NewDashboardError(code, message, details, requestID string) *DashboardError {
	return &DashboardError{
		Code:      code,
		Message:   message,
		Details:   details,
		Timestamp: time.Now().UTC(),
		RequestID: requestID,
	}
}

// NewValidationError creates a new ValidationError
func NewValidationError(field, message string, value interface{}) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
		Value:   value,
	}
}
