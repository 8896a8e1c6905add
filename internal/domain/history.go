package domain

import (
	"time"
)

// TierCount is the number of records in a tier and its share of the total.
type TierCount struct {
	Tier    RiskTier `json:"tier"`
	Count   int      `json:"count"`
	Percent float64  `json:"percent"`
}

// Reconciliation is the outcome of cross-checking a probability against
// the textual risk label returned with it.
type Reconciliation struct {
	Agree           bool     `json:"agree"`
	Matched         bool     `json:"matched"` // label contained a known keyword
	ProbabilityTier RiskTier `json:"probability_tier"`
	LabelTier       RiskTier `json:"label_tier"`
}

// InconsistencyWarning flags a record whose label disagrees with its
// probability. It is diagnostic only.
type InconsistencyWarning struct {
	Index           int       `json:"index"`
	Timestamp       time.Time `json:"timestamp"`
	Probability     float64   `json:"probability"`
	Label           string    `json:"label"`
	ProbabilityTier RiskTier  `json:"probability_tier"`
	LabelTier       RiskTier  `json:"label_tier"`
}

// SeriesPoint is one chart sample.
type SeriesPoint struct {
	Timestamp   time.Time `json:"timestamp"`
	Probability float64   `json:"probability"`
	Tier        RiskTier  `json:"tier"`
}

// ReferenceLine is a horizontal threshold line drawn on the trend chart.
type ReferenceLine struct {
	Value float64  `json:"value"`
	Label string   `json:"label"`
	Tier  RiskTier `json:"tier"`
}

// AxisRange is the vertical range of the trend chart.
type AxisRange struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Contains reports whether v lies within the range.
func (r AxisRange) Contains(v float64) bool {
	return v >= r.Min && v <= r.Max
}

// HistorySummary is everything the history view needs, derived from the
// full ordered history of a session.
type HistorySummary struct {
	Total           int                    `json:"total"`
	Counts          []TierCount            `json:"counts"`
	HighCount       int                    `json:"high_count"`
	ModerateCount   int                    `json:"moderate_count"`
	LowCount        int                    `json:"low_count"`
	MeanProbability float64                `json:"mean_probability"`
	Series          []SeriesPoint          `json:"series"`
	YRange          AxisRange              `json:"y_range"`
	ReferenceLines  []ReferenceLine        `json:"reference_lines"`
	Warnings        []InconsistencyWarning `json:"warnings"`
}

// IsEmpty reports whether the summary was built from an empty history.
func (s *HistorySummary) IsEmpty() bool {
	return s == nil || s.Total == 0
}
