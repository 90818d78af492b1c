// Package fingerprint turns a session's grid, mask and analysis into a
// fixed-length vector used as a similarity key.
package fingerprint

import (
	"math"

	"github.com/cleansight/analytics/internal/analysis"
	"github.com/cleansight/analytics/internal/session"
)

// #region constants
const (
	// Side is the logical grid resolution every session is resampled onto.
	Side = 10
	// Dimension is the fixed vector length: two channels per logical cell
	// plus two trailing scalars.
	Dimension = Side*Side*2 + 2

	// MaxCount clamps wipe counts before normalizing to [0,1].
	MaxCount = 5
)
// #endregion constants

// Vector is a fingerprint. Encode always returns exactly Dimension entries.
type Vector []float32

// #region encode
// Encode resamples grid and mask onto a Side x Side logical grid using
// area-weighted box pooling, interleaves the normalized coverage and
// high-touch fraction per logical cell, then appends coverage_percent/100
// and the hotspot fraction.
//
// Grid and mask must already have matching shapes. A zero-area grid yields
// zero pooled channels.
func Encode(grid session.Grid, mask session.Mask, a analysis.Analysis) Vector {
	h := len(grid)
	w := 0
	if h > 0 {
		w = len(grid[0])
	}

	raw := make([]float64, 0, Dimension)
	for i := 0; i < Side; i++ {
		for j := 0; j < Side; j++ {
			cov, ht := pool(grid, mask, h, w, i, j)
			raw = append(raw, cov, ht)
		}
	}
	raw = append(raw, a.CoveragePercent/100, a.HotspotFraction())
	return fit(raw)
}

// pool averages the normalized coverage and mask value over the source
// region that logical cell (i,j) covers. Source cells partially inside the
// region contribute in proportion to the overlapping area.
func pool(grid session.Grid, mask session.Mask, h, w, i, j int) (cov, ht float64) {
	if h == 0 || w == 0 {
		return 0, 0
	}
	rowLo, rowHi := span(i, h)
	colLo, colHi := span(j, w)

	var area float64
	for r := int(math.Floor(rowLo)); r < h && float64(r) < rowHi; r++ {
		wr := overlap(rowLo, rowHi, r)
		if wr <= 0 {
			continue
		}
		for c := int(math.Floor(colLo)); c < w && float64(c) < colHi; c++ {
			wc := overlap(colLo, colHi, c)
			if wc <= 0 {
				continue
			}
			weight := wr * wc
			cov += weight * normalize(grid[r][c])
			ht += weight * float64(mask[r][c])
			area += weight
		}
	}
	if area == 0 {
		return 0, 0
	}
	return cov / area, ht / area
}

// span maps logical index k onto the continuous source interval it covers.
func span(k, n int) (lo, hi float64) {
	scale := float64(n) / Side
	return float64(k) * scale, float64(k+1) * scale
}

// overlap is the length of [lo,hi) intersected with source cell [k,k+1).
func overlap(lo, hi float64, k int) float64 {
	return math.Max(0, math.Min(hi, float64(k+1))-math.Max(lo, float64(k)))
}

func normalize(count int) float64 {
	if count > MaxCount {
		count = MaxCount
	}
	if count < 0 {
		count = 0
	}
	return float64(count) / MaxCount
}

// fit pads with zeros or truncates to Dimension.
func fit(raw []float64) Vector {
	v := make(Vector, Dimension)
	for i := 0; i < Dimension && i < len(raw); i++ {
		v[i] = float32(raw[i])
	}
	return v
}
// #endregion encode

// #region cosine
// Cosine returns the cosine similarity of a and b over their common prefix,
// or 0 when either is a zero vector.
func Cosine(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
// #endregion cosine
