package service

import (
	"strings"
	"unicode"

	"github.com/sepsis-sentinel/dashboard/internal/domain"
)

// labelVocabulary maps a tier to the keywords that signal it in a textual
// risk label, in the deployment's languages (Portuguese and English).
type labelVocabulary struct {
	tier     domain.RiskTier
	keywords []string
	// disagrees reports whether a probability is too far from the tier
	// the label names.
	disagrees func(p float64) bool
}

// Checked in order; the first vocabulary with a matching keyword wins.
var labelVocabularies = []labelVocabulary{
	{
		tier:      domain.RiskHigh,
		keywords:  []string{"alto", "elevado", "high", "severe"},
		disagrees: func(p float64) bool { return p < 0.30 },
	},
	{
		tier:      domain.RiskModerate,
		keywords:  []string{"moderado", "moderate", "médio", "medio", "medium"},
		disagrees: func(p float64) bool { return p < 0.20 || p > 0.70 },
	},
	{
		tier:      domain.RiskLow,
		keywords:  []string{"baixo", "low"},
		disagrees: func(p float64) bool { return p > 0.50 },
	},
}

// ClassifyLabel derives a tier from a free-text risk label by keyword
// matching. The second return value is false when no keyword matched.
func ClassifyLabel(label string) (domain.RiskTier, bool) {
	vocab, ok := matchVocabulary(label)
	if !ok {
		return domain.RiskLow, false
	}
	return vocab.tier, true
}

// matchVocabulary compares keywords against whole words of the label, so
// "medio" does not match inside "intermedio".
func matchVocabulary(label string) (labelVocabulary, bool) {
	words := strings.FieldsFunc(strings.ToLower(label), func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	if len(words) == 0 {
		return labelVocabulary{}, false
	}
	for _, vocab := range labelVocabularies {
		for _, keyword := range vocab.keywords {
			for _, word := range words {
				if word == keyword {
					return vocab, true
				}
			}
		}
	}
	return labelVocabulary{}, false
}

// Reconcile cross-checks a probability against the textual label returned
// with it. The label is diagnostic only: ProbabilityTier is always the
// authoritative tier. Labels without a known keyword always agree.
func Reconcile(probability float64, label string) domain.Reconciliation {
	result := domain.Reconciliation{
		Agree:           true,
		ProbabilityTier: Classify(probability),
	}

	vocab, ok := matchVocabulary(label)
	if !ok {
		return result
	}

	result.Matched = true
	result.LabelTier = vocab.tier
	result.Agree = !vocab.disagrees(ClampProbability(probability))
	return result
}
