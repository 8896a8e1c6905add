// Package view renders the dashboard pages. Templates are embedded in the
// binary and executed by gin; every number shown on a page is computed here
// or in the service layer, never in the templates.
package view

import (
	"embed"
	"fmt"
	"html/template"
	"sort"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sepsis-sentinel/dashboard/internal/domain"
	"github.com/sepsis-sentinel/dashboard/internal/service"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

// Template names
const (
	PredictTemplate = "predict.tmpl"
	ResultTemplate  = "result.tmpl"
	HistoryTemplate = "history.tmpl"
	AboutTemplate   = "about.tmpl"
)

// Tabs
const (
	TabPredict = "predict"
	TabHistory = "history"
	TabAbout   = "about"
)

// Page carries the fields shared by every page.
type Page struct {
	Tab           string
	CorrelationID string
}

// FormPage is the input form. Error is the inline failure message of the
// previous submission, if any.
type FormPage struct {
	Page
	Observation domain.PatientObservation
	Error       string
}

// ResultPage shows the most recent prediction of the session.
type ResultPage struct {
	Page
	Record      domain.PredictionRecord
	Probability float64
	Tier        domain.TierPresentation
	Extra       []ExtraField
}

// ExtraField is a predictor response field outside the known schema.
type ExtraField struct {
	Name  string
	Value string
}

// HistoryPage is the history tab.
type HistoryPage struct {
	Page
	Summary *domain.HistorySummary
	Rows    []HistoryRow
	Tiers   []TierStat
	Chart   Chart
	Error   string
}

// HistoryRow is one line of the history table.
type HistoryRow struct {
	Number      int
	Record      domain.PredictionRecord
	Probability float64
	Tier        domain.TierPresentation
	Flagged     bool
}

// TierStat is a summary card.
type TierStat struct {
	domain.TierCount
	Info domain.TierPresentation
}

// AboutPage is the static informational tab.
type AboutPage struct {
	Page
	ModerateThreshold float64
	HighThreshold     float64
}

// NewResultPage builds the result view of a record.
func NewResultPage(page Page, record domain.PredictionRecord) ResultPage {
	p := service.ClampProbability(record.Result.Prediction)
	result := ResultPage{
		Page:        page,
		Record:      record,
		Probability: p,
		Tier:        service.TierInfo(service.Classify(p)),
	}
	for _, name := range sortedKeys(record.Result.Extra) {
		result.Extra = append(result.Extra, ExtraField{
			Name:  name,
			Value: fmt.Sprint(record.Result.Extra[name]),
		})
	}
	return result
}

// NewHistoryPage builds the history view from the aggregated summary and
// the records it was computed from.
func NewHistoryPage(page Page, summary *domain.HistorySummary, records []domain.PredictionRecord) HistoryPage {
	flagged := make(map[int]bool, len(summary.Warnings))
	for _, w := range summary.Warnings {
		flagged[w.Index] = true
	}

	history := HistoryPage{
		Page:    page,
		Summary: summary,
		Chart:   BuildChart(summary),
	}
	for _, count := range summary.Counts {
		history.Tiers = append(history.Tiers, TierStat{TierCount: count, Info: service.TierInfo(count.Tier)})
	}
	for i, record := range records {
		p := service.ClampProbability(record.Result.Prediction)
		history.Rows = append(history.Rows, HistoryRow{
			Number:      i + 1,
			Record:      record,
			Probability: p,
			Tier:        service.TierInfo(service.Classify(p)),
			Flagged:     flagged[i],
		})
	}
	return history
}

// Templates parses the embedded page templates.
func Templates() (*template.Template, error) {
	tmpl, err := template.New("").Funcs(funcMap()).ParseFS(templateFS, "templates/*.tmpl")
	if err != nil {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}
	return tmpl, nil
}

// Install sets the embedded templates on a gin engine.
func Install(engine *gin.Engine) error {
	tmpl, err := Templates()
	if err != nil {
		return err
	}
	engine.SetHTMLTemplate(tmpl)
	return nil
}

func funcMap() template.FuncMap {
	return template.FuncMap{
		"percent": func(p float64) string {
			return fmt.Sprintf("%.1f%%", p*100)
		},
		"share": func(pct float64) string {
			return fmt.Sprintf("%.1f%%", pct)
		},
		"inc": func(i int) int {
			return i + 1
		},
		"clock": func(t time.Time) string {
			return t.Local().Format("2006-01-02 15:04:05")
		},
		"gender": func(g int) string {
			if g == 1 {
				return "Male"
			}
			return "Female"
		},
		"yesno": func(v int) string {
			if v == 1 {
				return "Yes"
			}
			return "No"
		},
		"checked": func(a, b int) template.HTMLAttr {
			if a == b {
				return "checked"
			}
			return ""
		},
	}
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
