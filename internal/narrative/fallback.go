package narrative

import (
	"fmt"

	"github.com/cleansight/analytics/internal/analysis"
)

// FallbackSteps returns the canned reasoning lines shown when the provider
// is unavailable. The lines depend only on a, so a session always gets the
// same fallback text.
func FallbackSteps(a analysis.Analysis) []string {
	rc := a.RiskCounts
	focus := rc.Critical + rc.High

	critical := "No critical zones detected.\n"
	if rc.Critical > 0 {
		critical = fmt.Sprintf("CRITICAL zones: %d. Immediate remediation required.\n", rc.Critical)
	}
	high := "High-touch zones adequately covered.\n"
	if rc.High > 0 {
		high = fmt.Sprintf("HIGH-risk zones: %d. Additional wipe passes needed.\n", rc.High)
	}

	return []string{
		fmt.Sprintf("Analysing surface grid: %d zones detected.\n", a.TotalCells),
		fmt.Sprintf("Coverage: %.1f%% with %d high-touch zones mapped.\n", a.CoveragePercent, a.HighTouchCells),
		critical,
		high,
		"Reasoning over spatial contamination pattern...\n",
		"Recommended sequence: CRITICAL, then HIGH, then MEDIUM zones.\n",
		fmt.Sprintf("Estimated remediation time: %d minutes.\n", focus*3+4),
		fmt.Sprintf("Recommended protocol: %s.\n", a.Protocol),
	}
}
