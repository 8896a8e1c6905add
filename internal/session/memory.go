// Package session owns per-session state: the prediction history and the
// submission limiter of each browser session, and the registry that maps
// session identities to them.
package session

import (
	"context"
	"sync"

	"github.com/sepsis-sentinel/dashboard/internal/domain"
)

// MemoryHistory is an in-process, append-only history. It never fails.
type MemoryHistory struct {
	mu      sync.RWMutex
	records []domain.PredictionRecord
}

// NewMemoryHistory creates an empty history
func NewMemoryHistory() *MemoryHistory {
	return &MemoryHistory{}
}

// Append adds a record at the end of the history.
func (h *MemoryHistory) Append(_ context.Context, record domain.PredictionRecord) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.records = append(h.records, record.Clone())
	return nil
}

// All returns a copy of every record in insertion order.
func (h *MemoryHistory) All(_ context.Context) ([]domain.PredictionRecord, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]domain.PredictionRecord, len(h.records))
	for i, record := range h.records {
		out[i] = record.Clone()
	}
	return out, nil
}

// Last returns the most recent record, or nil when empty.
func (h *MemoryHistory) Last(_ context.Context) (*domain.PredictionRecord, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if len(h.records) == 0 {
		return nil, nil
	}
	last := h.records[len(h.records)-1].Clone()
	return &last, nil
}

// Len returns the number of records.
func (h *MemoryHistory) Len(_ context.Context) (int, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.records), nil
}
