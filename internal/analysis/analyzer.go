// Package analysis computes hygiene-compliance metrics for a cleaning session
// from its wipe-count grid and high-touch mask. Everything here is a pure
// function of its input and safe for concurrent use.
package analysis

import (
	"math"

	"github.com/cleansight/analytics/internal/session"
)

// Analyze computes the Analysis for in. Shape problems are reported as
// *session.ValidationError and a zero-area grid as *session.ComputationError.
func Analyze(in Input, opts Options) (Analysis, error) {
	h := len(in.Grid)
	w := 0
	if h > 0 {
		w = len(in.Grid[0])
	}
	if err := session.CheckShape(in.Grid, in.Mask, h, w); err != nil {
		return Analysis{}, err
	}
	total := h * w
	if total == 0 {
		return Analysis{}, &session.ComputationError{Reason: "zero-area grid"}
	}

	var (
		touched, htTotal, htTouched, ltTotal, ltTouched, over int
		touchedValues                                         []float64
	)
	hotspots := make([]session.Cell, 0)
	for r := 0; r < h; r++ {
		for c := 0; c < w; c++ {
			v := in.Grid[r][c]
			high := in.Mask[r][c] == 1
			if v > 0 {
				touched++
				touchedValues = append(touchedValues, float64(v))
				if v > opts.OverwipeThreshold {
					over++
				}
			}
			if high {
				htTotal++
				if v > 0 {
					htTouched++
				} else {
					hotspots = append(hotspots, session.Cell{Row: r, Col: c})
				}
			} else {
				ltTotal++
				if v > 0 {
					ltTouched++
				}
			}
		}
	}

	a := Analysis{
		CoveragePercent:  100 * float64(touched) / float64(total),
		HighTouchPercent: percentOrNil(htTouched, htTotal),
		LowTouchPercent:  percentOrNil(ltTouched, ltTotal),
		Uniformity:       uniformity(touchedValues),
		Hotspots:         hotspots,
		TotalCells:       total,
		TouchedCells:     touched,
		HighTouchCells:   htTotal,
	}
	if touched > 0 {
		a.OverwipeRatio = float64(over) / float64(touched)
	}
	a.QualityScore = qualityScore(a, opts)
	a.RiskCounts = countRisks(in.Grid, in.Mask)
	a.MissedCells = missedCells(in.Grid, in.Mask, opts.MissedCellLimit)
	a.Protocol = Protocol(a.RiskCounts)
	a.Flags = flags(a, in, opts)
	return a, nil
}

// qualityScore blends coverage, high-touch coverage and uniformity, then
// subtracts the overwipe penalty. A nil high-touch percentage contributes 0.
func qualityScore(a Analysis, opts Options) float64 {
	ht := 0.0
	if a.HighTouchPercent != nil {
		ht = *a.HighTouchPercent
	}
	raw := 100*(opts.Weights.Coverage*a.CoveragePercent/100+
		opts.Weights.HighTouch*ht/100+
		opts.Weights.Uniformity*a.Uniformity) -
		opts.OverwipePenalty*a.OverwipeRatio
	return clamp(raw, 0, 100)
}

// uniformity is 1 - coefficient of variation of the touched counts, clamped
// to [0,1]. Fewer than two touched cells are trivially uniform.
func uniformity(values []float64) float64 {
	if len(values) < 2 {
		return 1
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))
	var sq float64
	for _, v := range values {
		d := v - mean
		sq += d * d
	}
	std := math.Sqrt(sq / float64(len(values)))
	return clamp(1-std/mean, 0, 1)
}

func flags(a Analysis, in Input, opts Options) []Flag {
	out := make([]Flag, 0)
	if a.HighTouchPercent == nil {
		out = append(out, FlagNoHighTouchMask)
	} else if *a.HighTouchPercent < opts.MissedHighTouchBelow {
		out = append(out, FlagMissedHighTouch)
	}
	if a.OverwipeRatio > opts.OverwipingAbove {
		out = append(out, FlagOverwiping)
	}
	if in.Duration > 0 && in.Duration < opts.RushedUnder && a.CoveragePercent < opts.RushedCoverageBelow {
		out = append(out, FlagRushed)
	}
	return out
}

func percentOrNil(n, d int) *float64 {
	if d == 0 {
		return nil
	}
	p := 100 * float64(n) / float64(d)
	return &p
}

func clamp(x, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, x))
}
