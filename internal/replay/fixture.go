package replay

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"slices"
	"time"

	"github.com/cleansight/analytics/internal/analysis"
	"github.com/cleansight/analytics/internal/session"
)

// #region fixture-types

// Fixture is the top-level JSON structure for a replay fixture.
type Fixture struct {
	Description     string                  `json:"description"`
	Config          FixtureConfig           `json:"config"`
	Sessions        []session.IngestRequest `json:"sessions"`
	ExpectedResults []FixtureExpectedResult `json:"expected_results"`
}

// FixtureConfig overrides analyzer settings; zero values keep the defaults.
type FixtureConfig struct {
	OverwipeThreshold int            `json:"overwipe_threshold,omitempty"`
	Weights           *FixtureWeight `json:"weights,omitempty"`
	OverwipePenalty   float64        `json:"overwipe_penalty,omitempty"`
	RushedUnder       string         `json:"rushed_under,omitempty"`
	SimilarK          int            `json:"similar_k,omitempty"`
	MinScore          float64        `json:"min_score,omitempty"`
}

// FixtureWeight mirrors analysis.Weights with JSON tags.
type FixtureWeight struct {
	Coverage   float64 `json:"coverage"`
	HighTouch  float64 `json:"high_touch"`
	Uniformity float64 `json:"uniformity"`
}

// FixtureExpectedResult captures the expected outcome per session. Unset
// metrics are not checked.
type FixtureExpectedResult struct {
	SessionID       string   `json:"session_id"`
	Outcome         string   `json:"outcome"`
	CoveragePercent *float64 `json:"coverage_percent,omitempty"`
	QualityScore    *float64 `json:"quality_score,omitempty"`
	Protocol        string   `json:"protocol,omitempty"`
	Flags           []string `json:"flags,omitempty"`
	TopSimilar      *string  `json:"top_similar,omitempty"` // "" means no similar sessions
	Tolerance       float64  `json:"tolerance,omitempty"`
}

// #endregion fixture-types

// #region fixture-loader

// LoadFixture reads and parses a JSON fixture file.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture %s: %w", path, err)
	}
	var f Fixture
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse fixture %s: %w", path, err)
	}
	return &f, nil
}

// ToReplayConfig converts a FixtureConfig to a domain ReplayConfig.
func (fc *FixtureConfig) ToReplayConfig() (ReplayConfig, error) {
	cfg := DefaultReplayConfig()
	if fc.OverwipeThreshold > 0 {
		cfg.Analysis.OverwipeThreshold = fc.OverwipeThreshold
	}
	if fc.Weights != nil {
		cfg.Analysis.Weights = analysis.Weights{
			Coverage:   fc.Weights.Coverage,
			HighTouch:  fc.Weights.HighTouch,
			Uniformity: fc.Weights.Uniformity,
		}
	}
	if fc.OverwipePenalty > 0 {
		cfg.Analysis.OverwipePenalty = fc.OverwipePenalty
	}
	if fc.RushedUnder != "" {
		d, err := time.ParseDuration(fc.RushedUnder)
		if err != nil {
			return ReplayConfig{}, fmt.Errorf("rushed_under: %w", err)
		}
		cfg.Analysis.RushedUnder = d
	}
	if fc.SimilarK > 0 {
		cfg.SimilarK = fc.SimilarK
	}
	cfg.MinScore = fc.MinScore
	return cfg, nil
}

// #endregion fixture-loader

// #region check

// Mismatch is one difference between a replay result and its expectation.
type Mismatch struct {
	SessionID string
	Field     string
	Want      string
	Got       string
}

func (m Mismatch) String() string {
	return fmt.Sprintf("%s: %s want %s, got %s", m.SessionID, m.Field, m.Want, m.Got)
}

// Check compares results with expectations position by position.
func Check(results []ReplayResult, expected []FixtureExpectedResult) []Mismatch {
	var out []Mismatch
	if len(results) != len(expected) {
		out = append(out, Mismatch{Field: "count", Want: fmt.Sprint(len(expected)), Got: fmt.Sprint(len(results))})
	}
	for i := 0; i < len(results) && i < len(expected); i++ {
		out = append(out, checkOne(results[i], expected[i])...)
	}
	return out
}

func checkOne(r ReplayResult, e FixtureExpectedResult) []Mismatch {
	var out []Mismatch
	add := func(field string, want, got any) {
		out = append(out, Mismatch{SessionID: e.SessionID, Field: field, Want: fmt.Sprint(want), Got: fmt.Sprint(got)})
	}
	if r.SessionID != e.SessionID {
		add("session_id", e.SessionID, r.SessionID)
	}
	if r.Outcome != e.Outcome {
		add("outcome", e.Outcome, r.Outcome+" ("+r.Reason+")")
		return out
	}
	if r.Analysis == nil {
		return out
	}
	tol := e.Tolerance
	if tol == 0 {
		tol = 1e-3
	}
	if e.CoveragePercent != nil && math.Abs(*e.CoveragePercent-r.Analysis.CoveragePercent) > tol {
		add("coverage_percent", *e.CoveragePercent, r.Analysis.CoveragePercent)
	}
	if e.QualityScore != nil && math.Abs(*e.QualityScore-r.Analysis.QualityScore) > tol {
		add("quality_score", *e.QualityScore, r.Analysis.QualityScore)
	}
	if e.Protocol != "" && e.Protocol != r.Analysis.Protocol {
		add("protocol", e.Protocol, r.Analysis.Protocol)
	}
	if e.Flags != nil {
		got := make([]string, len(r.Analysis.Flags))
		for i, f := range r.Analysis.Flags {
			got[i] = string(f)
		}
		if !slices.Equal(e.Flags, got) {
			add("flags", e.Flags, got)
		}
	}
	if e.TopSimilar != nil {
		top := ""
		if len(r.Similar) > 0 {
			top = r.Similar[0].SessionID
		}
		if top != *e.TopSimilar {
			add("top_similar", *e.TopSimilar, top)
		}
	}
	return out
}

// #endregion check
