package view

import (
	"fmt"
	"math"
	"strings"

	"github.com/sepsis-sentinel/dashboard/internal/domain"
	"github.com/sepsis-sentinel/dashboard/internal/service"
)

// Chart canvas geometry in SVG user units
const (
	chartWidth  = 720.0
	chartHeight = 320.0
	marginLeft  = 56.0
	marginRight = 24.0
	marginTop   = 20.0
	marginBot   = 44.0
	yTickCount  = 5
	maxXLabels  = 8
)

// Chart is the precomputed geometry of the probability trend chart.
type Chart struct {
	Width  float64
	Height float64

	Left, Top, Right, Bottom float64

	Line           string
	Points         []ChartPoint
	ReferenceLines []ChartLine
	YTicks         []ChartTick
	XTicks         []ChartTick
}

// ChartPoint is a plotted record.
type ChartPoint struct {
	X, Y  float64
	Color string
	Title string
}

// ChartLine is a horizontal threshold line.
type ChartLine struct {
	Y     float64
	Label string
	Color string
}

// ChartTick is an axis tick with its label.
type ChartTick struct {
	Pos   float64
	Label string
}

// BuildChart lays out the series of a summary on the fixed canvas using the
// summary's y-range. Only reference lines the summary selected are drawn.
func BuildChart(summary *domain.HistorySummary) Chart {
	c := Chart{
		Width:  chartWidth,
		Height: chartHeight,
		Left:   marginLeft,
		Top:    marginTop,
		Right:  chartWidth - marginRight,
		Bottom: chartHeight - marginBot,
	}
	if summary.IsEmpty() {
		return c
	}

	yr := summary.YRange
	if yr.Max <= yr.Min {
		yr = domain.AxisRange{Min: 0, Max: 1}
	}

	for i := 0; i < yTickCount; i++ {
		v := yr.Min + (yr.Max-yr.Min)*float64(i)/float64(yTickCount-1)
		c.YTicks = append(c.YTicks, ChartTick{Pos: c.y(v, yr), Label: formatAxis(v, yr.Max)})
	}

	for _, line := range summary.ReferenceLines {
		c.ReferenceLines = append(c.ReferenceLines, ChartLine{
			Y:     c.y(line.Value, yr),
			Label: line.Label,
			Color: service.TierInfo(line.Tier).Hex,
		})
	}

	n := len(summary.Series)
	step := 1
	if n > maxXLabels {
		step = int(math.Ceil(float64(n) / maxXLabels))
	}

	coords := make([]string, 0, n)
	for i, point := range summary.Series {
		x := c.x(i, n)
		y := c.y(point.Probability, yr)
		c.Points = append(c.Points, ChartPoint{
			X:     x,
			Y:     y,
			Color: service.TierInfo(point.Tier).Hex,
			Title: fmt.Sprintf("#%d %s: %.1f%%", i+1, point.Timestamp.Format("15:04:05"), point.Probability*100),
		})
		coords = append(coords, fmt.Sprintf("%.1f,%.1f", x, y))

		if i%step == 0 || i == n-1 {
			c.XTicks = append(c.XTicks, ChartTick{Pos: x, Label: point.Timestamp.Format("15:04:05")})
		}
	}
	c.Line = strings.Join(coords, " ")

	return c
}

func (c Chart) x(i, n int) float64 {
	if n <= 1 {
		return round1((c.Left + c.Right) / 2)
	}
	return round1(c.Left + (c.Right-c.Left)*float64(i)/float64(n-1))
}

// y maps a probability onto the plot area, pinned to its edges.
func (c Chart) y(v float64, yr domain.AxisRange) float64 {
	frac := (v - yr.Min) / (yr.Max - yr.Min)
	frac = math.Max(0, math.Min(1, frac))
	return round1(c.Bottom - (c.Bottom-c.Top)*frac)
}

func formatAxis(v, max float64) string {
	if max < 0.2 {
		return fmt.Sprintf("%.3f", v)
	}
	return fmt.Sprintf("%.2f", v)
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
