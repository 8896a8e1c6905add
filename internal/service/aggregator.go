package service

import (
	"math"

	"github.com/sirupsen/logrus"

	"github.com/sepsis-sentinel/dashboard/internal/domain"
)

// Low-magnitude chart floor: used when every probability is zero.
const compressedAxisMax = 0.1

// referenceLines are the threshold lines the trend chart may show.
var referenceLines = []domain.ReferenceLine{
	{Value: domain.ModerateThreshold, Label: "Moderate risk (≥0.3)", Tier: domain.RiskModerate},
	{Value: domain.HighThreshold, Label: "High risk (≥0.6)", Tier: domain.RiskHigh},
}

// HistoryAggregator derives the history view model from a session's records.
type HistoryAggregator struct {
	logger *logrus.Logger
}

// NewHistoryAggregator creates a new aggregator
func NewHistoryAggregator(logger *logrus.Logger) *HistoryAggregator {
	return &HistoryAggregator{logger: logger}
}

// Aggregate scans the full ordered history. Tiers and counts always come
// from the probability; textual labels only produce warnings. An empty
// history yields zero counts and a zero mean.
func (a *HistoryAggregator) Aggregate(records []domain.PredictionRecord) *domain.HistorySummary {
	summary := &domain.HistorySummary{
		Total:    len(records),
		Series:   make([]domain.SeriesPoint, 0, len(records)),
		Warnings: []domain.InconsistencyWarning{},
	}

	var sum float64
	for i, record := range records {
		p := ClampProbability(record.Result.Prediction)
		rec := Reconcile(p, record.Result.RiskLevel)

		switch rec.ProbabilityTier {
		case domain.RiskHigh:
			summary.HighCount++
		case domain.RiskModerate:
			summary.ModerateCount++
		default:
			summary.LowCount++
		}
		sum += p

		summary.Series = append(summary.Series, domain.SeriesPoint{
			Timestamp:   record.Timestamp,
			Probability: p,
			Tier:        rec.ProbabilityTier,
		})

		if !rec.Agree {
			warning := domain.InconsistencyWarning{
				Index:           i,
				Timestamp:       record.Timestamp,
				Probability:     p,
				Label:           record.Result.RiskLevel,
				ProbabilityTier: rec.ProbabilityTier,
				LabelTier:       rec.LabelTier,
			}
			summary.Warnings = append(summary.Warnings, warning)
			if a.logger != nil {
				a.logger.WithFields(logrus.Fields{
					"index":            i,
					"probability":      p,
					"risk_level":       record.Result.RiskLevel,
					"probability_tier": rec.ProbabilityTier.String(),
					"label_tier":       rec.LabelTier.String(),
				}).Warn("Risk label disagrees with probability")
			}
		}
	}

	if summary.Total > 0 {
		summary.MeanProbability = sum / float64(summary.Total)
	}

	summary.Counts = []domain.TierCount{
		tierCount(domain.RiskHigh, summary.HighCount, summary.Total),
		tierCount(domain.RiskModerate, summary.ModerateCount, summary.Total),
		tierCount(domain.RiskLow, summary.LowCount, summary.Total),
	}

	summary.YRange = ChartRange(summary.Series)
	summary.ReferenceLines = VisibleReferenceLines(summary.YRange)

	return summary
}

func tierCount(tier domain.RiskTier, count, total int) domain.TierCount {
	tc := domain.TierCount{Tier: tier, Count: count}
	if total > 0 {
		tc.Percent = float64(count) / float64(total) * 100
	}
	return tc
}

// ChartRange picks the vertical axis range for the trend chart. The range
// grows in steps so the next threshold above the data stays visible, and
// collapses to [0, 0.1] when every probability is zero.
func ChartRange(series []domain.SeriesPoint) domain.AxisRange {
	if len(series) == 0 {
		return domain.AxisRange{Min: 0, Max: 1}
	}

	maxProb := 0.0
	for _, point := range series {
		maxProb = math.Max(maxProb, point.Probability)
	}

	switch {
	case maxProb == 0:
		return domain.AxisRange{Min: 0, Max: compressedAxisMax}
	case maxProb < 0.1:
		return domain.AxisRange{Min: 0, Max: math.Max(compressedAxisMax, maxProb*1.2)}
	case maxProb < domain.ModerateThreshold:
		return domain.AxisRange{Min: 0, Max: 0.4}
	case maxProb < domain.HighThreshold:
		return domain.AxisRange{Min: 0, Max: 0.7}
	default:
		return domain.AxisRange{Min: 0, Max: 1}
	}
}

// VisibleReferenceLines returns the threshold lines that fall inside r.
func VisibleReferenceLines(r domain.AxisRange) []domain.ReferenceLine {
	lines := make([]domain.ReferenceLine, 0, len(referenceLines))
	for _, line := range referenceLines {
		if r.Contains(line.Value) {
			lines = append(lines, line)
		}
	}
	return lines
}
