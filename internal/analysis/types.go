package analysis

import (
	"time"

	"github.com/cleansight/analytics/internal/session"
)

// #region options

// Weights are the quality score coefficients for each component.
type Weights struct {
	Coverage   float64
	HighTouch  float64
	Uniformity float64
}

// Options tunes the analyzer without touching the algorithm.
type Options struct {
	OverwipeThreshold int     // counts strictly above this are overwipes
	Weights           Weights // quality score weights
	OverwipePenalty   float64 // points subtracted per unit of overwipe ratio
	MissedCellLimit   int     // max entries in MissedCells

	MissedHighTouchBelow float64       // flag when high_touch_percent is below this
	OverwipingAbove      float64       // flag when overwipe_ratio is above this
	RushedUnder          time.Duration // flag sessions shorter than this...
	RushedCoverageBelow  float64       // ...that also cover less than this percent
}

// DefaultOptions returns the documented defaults.
func DefaultOptions() Options {
	return Options{
		OverwipeThreshold: 3,
		Weights: Weights{
			Coverage:   0.5,
			HighTouch:  0.3,
			Uniformity: 0.2,
		},
		OverwipePenalty:      20,
		MissedCellLimit:      15,
		MissedHighTouchBelow: 70,
		OverwipingAbove:      0.10,
		RushedUnder:          30 * time.Second,
		RushedCoverageBelow:  70,
	}
}

// #endregion options

// #region input

// Input is what the analyzer reads. Duration is optional; zero disables the
// rushed check.
type Input struct {
	Grid     session.Grid
	Mask     session.Mask
	Duration time.Duration
}

// #endregion input

// #region risk

// RiskLevel classifies a single cell.
type RiskLevel string

const (
	RiskCritical RiskLevel = "critical" // high-touch, never wiped
	RiskHigh     RiskLevel = "high"     // high-touch, wiped once
	RiskMedium   RiskLevel = "medium"   // ordinary cell, never wiped
	RiskLow      RiskLevel = "low"      // high-touch, wiped twice or more
	RiskClear    RiskLevel = "clear"
)

// RiskOrder lists levels from worst to best.
var RiskOrder = []RiskLevel{RiskCritical, RiskHigh, RiskMedium, RiskLow, RiskClear}

// RiskCounts tallies cells per risk level.
type RiskCounts struct {
	Critical int `json:"critical"`
	High     int `json:"high"`
	Medium   int `json:"medium"`
	Low      int `json:"low"`
	Clear    int `json:"clear"`
}

// Worst returns the most severe level present, or RiskClear.
func (c RiskCounts) Worst() RiskLevel {
	switch {
	case c.Critical > 0:
		return RiskCritical
	case c.High > 0:
		return RiskHigh
	case c.Medium > 0:
		return RiskMedium
	case c.Low > 0:
		return RiskLow
	}
	return RiskClear
}

// #endregion risk

// #region flags

// Flag is a named compliance warning.
type Flag string

const (
	FlagNoHighTouchMask Flag = "no_high_touch_mask"
	FlagMissedHighTouch Flag = "missed_high_touch"
	FlagOverwiping      Flag = "overwiping"
	FlagRushed          Flag = "rushed"
)

// #endregion flags

// #region missed-cell

// MissedCell is an untouched cell ranked for remediation.
type MissedCell struct {
	Row      int    `json:"row"`
	Col      int    `json:"col"`
	Priority string `json:"priority"` // "high_touch" | "normal"
}

// #endregion missed-cell

// #region analysis

// Analysis is the immutable result of analyzing one session. Percentages are
// in [0,100]; ratios and uniformity in [0,1]. HighTouchPercent and
// LowTouchPercent are nil when the corresponding cell set is empty.
type Analysis struct {
	QualityScore     float64        `json:"quality_score"`
	CoveragePercent  float64        `json:"coverage_percent"`
	HighTouchPercent *float64       `json:"high_touch_percent"`
	LowTouchPercent  *float64       `json:"low_touch_percent"`
	OverwipeRatio    float64        `json:"overwipe_ratio"`
	Uniformity       float64        `json:"uniformity"`
	Hotspots         []session.Cell `json:"hotspots"`

	TotalCells     int `json:"total_cells"`
	TouchedCells   int `json:"touched_cells"`
	HighTouchCells int `json:"high_touch_cells"`

	RiskCounts  RiskCounts   `json:"risk_counts"`
	MissedCells []MissedCell `json:"missed_cells"`
	Flags       []Flag       `json:"flags"`
	Protocol    string       `json:"recommended_protocol"`
}

// HotspotFraction is the share of high-touch cells left untouched, or 0 when
// the mask has no high-touch cells.
func (a Analysis) HotspotFraction() float64 {
	if a.HighTouchCells == 0 {
		return 0
	}
	return float64(len(a.Hotspots)) / float64(a.HighTouchCells)
}

// HasFlag reports whether f was raised.
func (a Analysis) HasFlag(f Flag) bool {
	for _, x := range a.Flags {
		if x == f {
			return true
		}
	}
	return false
}

// #endregion analysis
