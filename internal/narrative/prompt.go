package narrative

import (
	"fmt"
	"strings"
	"time"

	"github.com/cleansight/analytics/internal/analysis"
	"github.com/cleansight/analytics/internal/session"
)

// #region symbols
var riskSymbol = map[analysis.RiskLevel]string{
	analysis.RiskCritical: "X",
	analysis.RiskHigh:     "!",
	analysis.RiskMedium:   "o",
	analysis.RiskLow:      "+",
	analysis.RiskClear:    ".",
}

const legend = "LEGEND: X=CRITICAL (high-touch, unwiped) !=HIGH (high-touch, 1 wipe) o=MEDIUM (unwiped) " +
	"+=LOW (high-touch, 2+ wipes) .=CLEAR *=high-touch zone (n)=wipe count"
// #endregion symbols

// #region build-prompt
// BuildPrompt renders the session as a spatial-reasoning prompt: header
// facts, an ASCII surface map with risk symbols, risk counts and the
// coordinates that need remediation.
func BuildPrompt(s session.Session, a analysis.Analysis) string {
	var b strings.Builder

	b.WriteString("You are a clinical infection control reasoning engine.\n")
	b.WriteString("Analyse this hospital surface cleaning session and provide expert guidance.\n\n")

	fmt.Fprintf(&b, "SESSION: %s\n", s.ID)
	fmt.Fprintf(&b, "Surface: %s (%s) in room %s\n", orUnknown(s.SurfaceID), orUnknown(s.SurfaceType), orUnknown(s.RoomID))
	fmt.Fprintf(&b, "Grid: %d rows x %d columns (%d total zones)\n", s.GridH, s.GridW, a.TotalCells)
	fmt.Fprintf(&b, "Coverage: %.1f%% of surface wiped\n", a.CoveragePercent)
	fmt.Fprintf(&b, "High-touch zones: %d of %d cells\n", a.HighTouchCells, a.TotalCells)
	if d := s.Duration(); d > 0 {
		fmt.Fprintf(&b, "Duration: %s\n", d.Round(time.Second))
	}
	if n := len(s.WipeEvents); n > 0 {
		fmt.Fprintf(&b, "Wipe events recorded: %d\n", n)
	}

	b.WriteString("\n" + legend + "\n\nSURFACE MAP:\n")
	for r := range s.Grid {
		fmt.Fprintf(&b, "  Row %d:", r)
		for c := range s.Grid[r] {
			count := s.Grid[r][c]
			ht := s.Mask[r][c] == 1
			marker := " "
			if ht {
				marker = "*"
			}
			fmt.Fprintf(&b, " %s%s(%d)", riskSymbol[analysis.ClassifyCell(count, ht)], marker, count)
		}
		b.WriteString("\n")
	}

	rc := a.RiskCounts
	fmt.Fprintf(&b, "\nRISK COUNTS:\n  Critical: %d | High: %d | Medium: %d | Low: %d | Clear: %d\n",
		rc.Critical, rc.High, rc.Medium, rc.Low, rc.Clear)

	var critical, high []string
	for _, f := range analysis.FocusCells(s.Grid, s.Mask) {
		coord := fmt.Sprintf("(%d,%d)", f.Row, f.Col)
		if f.Risk == analysis.RiskCritical {
			critical = append(critical, coord)
		} else {
			high = append(high, coord)
		}
	}
	fmt.Fprintf(&b, "\nCRITICAL zones (must clean immediately): %s\n", listOrNone(critical))
	fmt.Fprintf(&b, "HIGH-risk zones (need additional wipes): %s\n", listOrNone(high))

	b.WriteString(`
Provide a structured clinical analysis covering:
1. Overall contamination risk assessment
2. Specific zones requiring immediate remediation and why
3. Recommended cleaning sequence (order matters for cross-contamination prevention)
4. Estimated time to achieve safe coverage
5. Protocol recommendation (UV-C, double-wipe, standard, etc.)

Be concise, clinical and actionable. Use the grid coordinates when referencing zones.`)
	return b.String()
}
// #endregion build-prompt

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

func listOrNone(xs []string) string {
	if len(xs) == 0 {
		return "None"
	}
	return strings.Join(xs, " ")
}
