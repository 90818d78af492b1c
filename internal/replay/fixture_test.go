package replay

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

// #region fixture-tests

// TestFixture_WardRound loads the ward_round fixture, runs Replay(), and
// compares every session against its expected outcome and metrics. If the
// analyzer weights or the fingerprint layout drift, this catches it.
func TestFixture_WardRound(t *testing.T) {
	f, err := LoadFixture(filepath.Join("testdata", "ward_round.json"))
	if err != nil {
		t.Fatalf("LoadFixture: %v", err)
	}
	config, err := f.Config.ToReplayConfig()
	if err != nil {
		t.Fatalf("ToReplayConfig: %v", err)
	}

	results := Replay(context.Background(), f.Sessions, config)

	for _, m := range Check(results, f.ExpectedResults) {
		t.Errorf("mismatch: %s", m)
	}

	s := Summarize(results)
	if s.TotalSessions != 7 || s.Analyzed != 4 || s.Rejected != 2 || s.Failed != 1 {
		t.Errorf("unexpected summary: %+v", s)
	}
}

// TestLoadFixture_NotFound verifies error on missing file.
func TestLoadFixture_NotFound(t *testing.T) {
	_, err := LoadFixture("testdata/nonexistent.json")
	if err == nil {
		t.Fatal("expected error for missing file, got nil")
	}
}

// TestLoadFixture_Malformed verifies error on invalid JSON.
func TestLoadFixture_Malformed(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(path, []byte("{not valid json}"), 0644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}

	_, err := LoadFixture(path)
	if err == nil {
		t.Fatal("expected error for malformed JSON, got nil")
	}
}

func TestToReplayConfig_Overrides(t *testing.T) {
	fc := FixtureConfig{
		OverwipeThreshold: 5,
		Weights:           &FixtureWeight{Coverage: 1},
		RushedUnder:       "45s",
		SimilarK:          7,
		MinScore:          0.2,
	}
	cfg, err := fc.ToReplayConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Analysis.OverwipeThreshold != 5 || cfg.Analysis.Weights.Coverage != 1 || cfg.Analysis.Weights.HighTouch != 0 {
		t.Errorf("analysis overrides not applied: %+v", cfg.Analysis)
	}
	if cfg.Analysis.RushedUnder.Seconds() != 45 || cfg.SimilarK != 7 || cfg.MinScore != 0.2 {
		t.Errorf("unexpected config: %+v", cfg)
	}
	if cfg.Analysis.OverwipePenalty != 20 {
		t.Errorf("expected default penalty to survive, got %v", cfg.Analysis.OverwipePenalty)
	}

	if _, err := (&FixtureConfig{RushedUnder: "soon"}).ToReplayConfig(); err == nil {
		t.Error("expected error for bad duration")
	}
}

// #endregion fixture-tests

// #region check-tests

func TestCheck_ReportsMismatches(t *testing.T) {
	f, err := LoadFixture(filepath.Join("testdata", "ward_round.json"))
	if err != nil {
		t.Fatalf("LoadFixture: %v", err)
	}
	results := Replay(context.Background(), f.Sessions[:1], DefaultReplayConfig())

	wrong := 50.0
	none := "S-999"
	got := Check(results, []FixtureExpectedResult{{
		SessionID:    "S-100",
		Outcome:      OutcomeAnalyzed,
		QualityScore: &wrong,
		Protocol:     "Standard wipe-down",
		Flags:        []string{},
		TopSimilar:   &none,
	}})
	fields := map[string]bool{}
	for _, m := range got {
		fields[m.Field] = true
	}
	for _, want := range []string{"quality_score", "protocol", "flags", "top_similar"} {
		if !fields[want] {
			t.Errorf("expected a %s mismatch, got %v", want, got)
		}
	}

	if len(Check(results, nil)) != 1 {
		t.Error("expected a count mismatch")
	}
}

// #endregion check-tests
