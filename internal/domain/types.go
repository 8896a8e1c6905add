// Package domain contains the core entities of the sepsis risk dashboard:
// patient observations, prediction results returned by the remote model,
// the per-session prediction records built from them, and the risk tiers
// used to present those records.
package domain

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// RiskTier is an ordered sepsis risk band derived from a probability.
// Low < Moderate < High.
type RiskTier int

const (
	RiskLow RiskTier = iota
	RiskModerate
	RiskHigh
)

// Probability thresholds. These are the single source of truth for colors,
// titles and counts.
const (
	ModerateThreshold = 0.30
	HighThreshold     = 0.60
)

// ErrInvalidRiskTier is returned when decoding an unknown tier name.
var ErrInvalidRiskTier = errors.New("invalid risk tier")

// AllRiskTiers lists the tiers from lowest to highest.
var AllRiskTiers = []RiskTier{RiskLow, RiskModerate, RiskHigh}

// IsValid reports whether the tier is one of the known bands.
func (t RiskTier) IsValid() bool {
	return t >= RiskLow && t <= RiskHigh
}

// String returns the canonical name of the tier.
func (t RiskTier) String() string {
	switch t {
	case RiskLow:
		return "low"
	case RiskModerate:
		return "moderate"
	case RiskHigh:
		return "high"
	default:
		return fmt.Sprintf("RiskTier(%d)", int(t))
	}
}

// MarshalText encodes the tier by name so JSON payloads stay readable.
func (t RiskTier) MarshalText() ([]byte, error) {
	if !t.IsValid() {
		return nil, ErrInvalidRiskTier
	}
	return []byte(t.String()), nil
}

// UnmarshalText decodes a tier name.
func (t *RiskTier) UnmarshalText(text []byte) error {
	switch string(text) {
	case "low":
		*t = RiskLow
	case "moderate":
		*t = RiskModerate
	case "high":
		*t = RiskHigh
	default:
		return fmt.Errorf("%w: %q", ErrInvalidRiskTier, string(text))
	}
	return nil
}

// PatientObservation is one submitted set of clinical values. Field names
// follow the predictor's request schema. The binding tags carry the bounds
// enforced on the input form and the JSON API.
type PatientObservation struct {
	HR          int     `json:"hr" form:"hr" binding:"min=40,max=200"`
	O2Sat       int     `json:"o2sat" form:"o2sat" binding:"min=0,max=100"`
	Temp        float64 `json:"temp" form:"temp" binding:"min=35,max=42"`
	SBP         int     `json:"sbp" form:"sbp" binding:"min=0,max=300"`
	DBP         int     `json:"dbp" form:"dbp" binding:"min=0,max=200"`
	MAP         float64 `json:"map" form:"-"`
	Resp        int     `json:"resp" form:"resp" binding:"min=0,max=100"`
	Age         int     `json:"age" form:"age" binding:"min=0,max=150"`
	Gender      int     `json:"gender" form:"gender" binding:"oneof=0 1"`
	Unit1       int     `json:"unit1" form:"unit1" binding:"oneof=0 1"`
	Unit2       int     `json:"unit2" form:"unit2" binding:"oneof=0 1"`
	HospAdmTime int     `json:"hosp_adm_time" form:"hosp_adm_time" binding:"min=0"`
	ICULOS      int     `json:"iculos" form:"iculos" binding:"min=0"`
}

// DefaultObservation returns the values the input form is pre-filled with.
func DefaultObservation() PatientObservation {
	return PatientObservation{
		HR:          80,
		O2Sat:       98,
		Temp:        37.0,
		SBP:         120,
		DBP:         80,
		Resp:        18,
		Age:         45,
		HospAdmTime: 24,
		ICULOS:      48,
	}
}

// MeanArterialPressure computes (SBP + 2*DBP) / 3 rounded to one decimal.
func MeanArterialPressure(sbp, dbp int) float64 {
	m := float64(sbp+2*dbp) / 3
	return math.Round(m*10) / 10
}

// Finalize returns a copy with the derived MAP filled in. Any MAP supplied
// by the caller is discarded.
func (o PatientObservation) Finalize() PatientObservation {
	o.MAP = MeanArterialPressure(o.SBP, o.DBP)
	return o
}

// Validate checks every field against its clinical bounds. It mirrors the
// binding tags so observations built outside an HTTP request get the same
// treatment.
func (o PatientObservation) Validate() error {
	checks := []struct {
		field    string
		value    float64
		min, max float64
	}{
		{"hr", float64(o.HR), 40, 200},
		{"o2sat", float64(o.O2Sat), 0, 100},
		{"temp", o.Temp, 35, 42},
		{"sbp", float64(o.SBP), 0, 300},
		{"dbp", float64(o.DBP), 0, 200},
		{"resp", float64(o.Resp), 0, 100},
		{"age", float64(o.Age), 0, 150},
		{"gender", float64(o.Gender), 0, 1},
		{"unit1", float64(o.Unit1), 0, 1},
		{"unit2", float64(o.Unit2), 0, 1},
		{"hosp_adm_time", float64(o.HospAdmTime), 0, math.Inf(1)},
		{"iculos", float64(o.ICULOS), 0, math.Inf(1)},
	}

	for _, c := range checks {
		if math.IsNaN(c.value) || c.value < c.min || c.value > c.max {
			msg := fmt.Sprintf("must be between %g and %g", c.min, c.max)
			if math.IsInf(c.max, 1) {
				msg = fmt.Sprintf("must be at least %g", c.min)
			}
			return NewValidationError(c.field, msg, c.value)
		}
	}
	return nil
}

// PredictionResult is the predictor's response. Only Prediction and
// RiskLevel are interpreted; everything else is kept in Extra.
type PredictionResult struct {
	Prediction float64                `json:"prediction"`
	RiskLevel  string                 `json:"risk_level"`
	Extra      map[string]interface{} `json:"extra,omitempty"`
}

// PredictionRecord pairs an observation with the result it produced.
// Records are created once per successful prediction and never mutated.
type PredictionRecord struct {
	Timestamp   time.Time          `json:"timestamp"`
	Observation PatientObservation `json:"observation"`
	Result      PredictionResult   `json:"result"`
}

// TierPresentation is the static display metadata of a risk tier.
type TierPresentation struct {
	Tier    RiskTier `json:"tier"`
	Label   string   `json:"label"`
	Title   string   `json:"title"`
	Message string   `json:"message"`
	Color   string   `json:"color"`
	Hex     string   `json:"hex"`
}

// Clone returns a copy that shares no mutable state with r.
func (r PredictionRecord) Clone() PredictionRecord {
	if r.Result.Extra != nil {
		extra := make(map[string]interface{}, len(r.Result.Extra))
		for k, v := range r.Result.Extra {
			extra[k] = v
		}
		r.Result.Extra = extra
	}
	return r
}
