package domain

import (
	"context"
)

// HistoryStore is the append-only, session-scoped sequence of prediction
// records. Insertion order is chronological order.
type HistoryStore interface {
	// Append adds a record at the end of the history.
	Append(ctx context.Context, record PredictionRecord) error
	// All returns a copy of every record in insertion order.
	All(ctx context.Context) ([]PredictionRecord, error)
	// Last returns the most recent record, or nil when the history is empty.
	Last(ctx context.Context) (*PredictionRecord, error)
	// Len returns the number of records.
	Len(ctx context.Context) (int, error)
}

// ConfigManager defines the interface for configuration management
type ConfigManager interface {
	GetConfig() *Config
	GetServerConfig() *ServerConfig
	GetPredictorConfig() *PredictorConfig
	GetSessionConfig() *SessionConfig
	Validate() error
	IsProduction() bool
	IsDevelopment() bool
}
