package service

import (
	"math"

	"github.com/sepsis-sentinel/dashboard/internal/domain"
)

// tierPresentations is the static display table, indexed by tier.
var tierPresentations = map[domain.RiskTier]domain.TierPresentation{
	domain.RiskLow: {
		Tier:    domain.RiskLow,
		Label:   "Low",
		Title:   "Low Risk",
		Message: "The model indicates a low risk of sepsis based on the current data. Keep monitoring symptoms and seek a health professional if they persist or worsen.",
		Color:   "green",
		Hex:     "#66bb6a",
	},
	domain.RiskModerate: {
		Tier:    domain.RiskModerate,
		Label:   "Moderate",
		Title:   "ATTENTION - Moderate Risk",
		Message: "A moderate risk was detected. Continuous monitoring of vital signs and a medical consultation are recommended. Watch for any worsening of symptoms.",
		Color:   "yellow",
		Hex:     "#fbc02d",
	},
	domain.RiskHigh: {
		Tier:    domain.RiskHigh,
		Label:   "High",
		Title:   "ALERT - High Risk",
		Message: "The data indicate a high risk of sepsis. Seek immediate medical evaluation for an in-depth analysis and treatment if necessary.",
		Color:   "red",
		Hex:     "#ef5350",
	},
}

// ClampProbability forces p into [0,1]. NaN maps to 0.
func ClampProbability(p float64) float64 {
	switch {
	case math.IsNaN(p), p < 0:
		return 0
	case p > 1:
		return 1
	default:
		return p
	}
}

// Classify maps a probability to its risk tier. Out-of-range input is
// clamped first, so the function is total.
func Classify(probability float64) domain.RiskTier {
	p := ClampProbability(probability)
	switch {
	case p >= domain.HighThreshold:
		return domain.RiskHigh
	case p >= domain.ModerateThreshold:
		return domain.RiskModerate
	default:
		return domain.RiskLow
	}
}

// TierInfo returns the presentation metadata of a tier. Unknown tiers get
// the low-risk entry.
func TierInfo(tier domain.RiskTier) domain.TierPresentation {
	if info, ok := tierPresentations[tier]; ok {
		return info
	}
	return tierPresentations[domain.RiskLow]
}
