package analysis

import (
	"github.com/cleansight/analytics/internal/session"
)

// #region protocols
const (
	ProtocolUVDoubleWipe = "UV-C sweep + double wipe"
	ProtocolRewipe       = "Microfiber spray + re-wipe"
	ProtocolStandard     = "Standard wipe-down"
)

// #endregion protocols

// #region classify

// ClassifyCell maps a wipe count and high-touch flag to a risk level.
// Rules are checked in order; the first match wins.
func ClassifyCell(count int, highTouch bool) RiskLevel {
	switch {
	case highTouch && count == 0:
		return RiskCritical
	case highTouch && count == 1:
		return RiskHigh
	case !highTouch && count == 0:
		return RiskMedium
	case highTouch && count >= 2:
		return RiskLow
	}
	return RiskClear
}

func countRisks(grid session.Grid, mask session.Mask) RiskCounts {
	var rc RiskCounts
	for r := range grid {
		for c := range grid[r] {
			switch ClassifyCell(grid[r][c], mask[r][c] == 1) {
			case RiskCritical:
				rc.Critical++
			case RiskHigh:
				rc.High++
			case RiskMedium:
				rc.Medium++
			case RiskLow:
				rc.Low++
			default:
				rc.Clear++
			}
		}
	}
	return rc
}

// #endregion classify

// #region focus

// FocusCell is a cell needing remediation, with its level.
type FocusCell struct {
	session.Cell
	Risk RiskLevel `json:"risk"`
}

// FocusCells returns critical cells followed by high cells, row-major within
// each level.
func FocusCells(grid session.Grid, mask session.Mask) []FocusCell {
	var critical, high []FocusCell
	for r := range grid {
		for c := range grid[r] {
			switch lvl := ClassifyCell(grid[r][c], mask[r][c] == 1); lvl {
			case RiskCritical:
				critical = append(critical, FocusCell{Cell: session.Cell{Row: r, Col: c}, Risk: lvl})
			case RiskHigh:
				high = append(high, FocusCell{Cell: session.Cell{Row: r, Col: c}, Risk: lvl})
			}
		}
	}
	return append(critical, high...)
}

// #endregion focus

// #region missed

// missedCells lists untouched cells, high-touch first, capped at limit.
// A non-positive limit means no cap.
func missedCells(grid session.Grid, mask session.Mask, limit int) []MissedCell {
	out := make([]MissedCell, 0)
	full := func() bool { return limit > 0 && len(out) >= limit }

	for r := range grid {
		for c := range grid[r] {
			if grid[r][c] == 0 && mask[r][c] == 1 {
				if full() {
					return out
				}
				out = append(out, MissedCell{Row: r, Col: c, Priority: "high_touch"})
			}
		}
	}
	for r := range grid {
		for c := range grid[r] {
			if grid[r][c] == 0 && mask[r][c] == 0 {
				if full() {
					return out
				}
				out = append(out, MissedCell{Row: r, Col: c, Priority: "normal"})
			}
		}
	}
	return out
}

// #endregion missed

// Protocol recommends a remediation procedure for the given counts.
func Protocol(rc RiskCounts) string {
	switch {
	case rc.Critical > 0:
		return ProtocolUVDoubleWipe
	case rc.High > 0:
		return ProtocolRewipe
	}
	return ProtocolStandard
}
