// Package replay re-runs recorded sessions through validation, analysis and
// similarity ranking in memory, for regression fixtures and the replay
// command.
package replay

import (
	"context"
	"errors"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/cleansight/analytics/internal/analysis"
	"github.com/cleansight/analytics/internal/fingerprint"
	"github.com/cleansight/analytics/internal/index"
	"github.com/cleansight/analytics/internal/session"
)

// #region types
// Outcomes of one replayed session.
const (
	OutcomeAnalyzed = "analyzed"
	OutcomeRejected = "rejected" // validation failed
	OutcomeFailed   = "failed"   // computation failed
)

// ReplayConfig bundles analyzer and ranking settings for a replay run.
type ReplayConfig struct {
	Analysis analysis.Options
	SimilarK int
	MinScore float64
}

// DefaultReplayConfig returns the analyzer defaults and k=3.
func DefaultReplayConfig() ReplayConfig {
	return ReplayConfig{Analysis: analysis.DefaultOptions(), SimilarK: 3}
}

// ReplayResult captures the outcome of replaying one session.
type ReplayResult struct {
	SessionID string `json:"session_id"`
	Outcome   string `json:"outcome"`
	Reason    string `json:"reason,omitempty"`

	// nil unless Outcome is analyzed
	Analysis *analysis.Analysis     `json:"analysis,omitempty"`
	Similar  []index.SimilarSession `json:"similar,omitempty"`
}

// ReplaySummary provides aggregate stats from a replay run.
type ReplaySummary struct {
	TotalSessions int            `json:"total_sessions"`
	Analyzed      int            `json:"analyzed"`
	Rejected      int            `json:"rejected"`
	Failed        int            `json:"failed"`
	MeanQuality   float64        `json:"mean_quality"`
	Protocols     map[string]int `json:"protocols"`
}
// #endregion types

// #region replay
// Replay processes requests in order. Each analyzed session is indexed
// after it is ranked, so it only ever matches sessions replayed before it.
// Duplicate session ids are rejected, as at ingest.
func Replay(ctx context.Context, reqs []session.IngestRequest, config ReplayConfig) []ReplayResult {
	store := newMemStore()
	idx := index.NewClient(store, index.Options{Timeout: index.DefaultOptions().Timeout, MinScore: config.MinScore}, zap.NewNop())
	seen := make(map[string]bool, len(reqs))
	results := make([]ReplayResult, 0, len(reqs))

	for _, req := range reqs {
		// 1. Validate
		s, err := session.Validate(req)
		if err == nil && seen[s.ID] {
			err = &session.ValidationError{Field: "session_id", Reason: "already exists", Err: session.ErrDuplicateSession}
		}
		if err != nil {
			results = append(results, ReplayResult{SessionID: req.SessionID, Outcome: OutcomeRejected, Reason: err.Error()})
			continue
		}
		seen[s.ID] = true

		// 2. Analyze
		a, err := analysis.Analyze(analysis.Input{Grid: s.Grid, Mask: s.Mask, Duration: s.Duration()}, config.Analysis)
		if err != nil {
			outcome := OutcomeFailed
			if session.IsValidation(err) {
				outcome = OutcomeRejected
			}
			results = append(results, ReplayResult{SessionID: s.ID, Outcome: outcome, Reason: err.Error()})
			continue
		}

		// 3. Rank against earlier sessions, then index
		vec := fingerprint.Encode(s.Grid, s.Mask, a)
		similar, _ := idx.Query(ctx, vec, config.SimilarK, s.ID)
		_ = idx.Upsert(ctx, s.ID, vec, index.Metadata{
			RoomID:          s.RoomID,
			SurfaceID:       s.SurfaceID,
			SurfaceType:     s.SurfaceType,
			CoveragePercent: a.CoveragePercent,
			WorstRisk:       string(a.RiskCounts.Worst()),
			Protocol:        a.Protocol,
		})

		results = append(results, ReplayResult{
			SessionID: s.ID,
			Outcome:   OutcomeAnalyzed,
			Analysis:  &a,
			Similar:   similar,
		})
	}
	return results
}

// Summarize computes aggregate stats from replay results.
func Summarize(results []ReplayResult) ReplaySummary {
	s := ReplaySummary{TotalSessions: len(results), Protocols: make(map[string]int)}
	var quality float64
	for _, r := range results {
		switch r.Outcome {
		case OutcomeAnalyzed:
			s.Analyzed++
			quality += r.Analysis.QualityScore
			s.Protocols[r.Analysis.Protocol]++
		case OutcomeRejected:
			s.Rejected++
		case OutcomeFailed:
			s.Failed++
		}
	}
	if s.Analyzed > 0 {
		s.MeanQuality = quality / float64(s.Analyzed)
	}
	return s
}
// #endregion replay

// #region mem-store
// memStore is an in-memory index.Store for replay runs.
type memStore struct {
	mu   sync.Mutex
	rows map[string]memRow
}

type memRow struct {
	vec  []float32
	meta index.Metadata
}

func newMemStore() *memStore {
	return &memStore{rows: make(map[string]memRow)}
}

func (m *memStore) Upsert(_ context.Context, sessionID string, vec []float32, meta index.Metadata) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	meta.SessionID = sessionID
	m.rows[sessionID] = memRow{vec: append([]float32(nil), vec...), meta: meta}
	return nil
}

func (m *memStore) Search(_ context.Context, vec []float32, k int) ([]index.Hit, error) {
	if len(vec) != fingerprint.Dimension {
		return nil, errors.New("replay index: wrong vector dimension")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	hits := make([]index.Hit, 0, len(m.rows))
	for id, row := range m.rows {
		hits = append(hits, index.Hit{SessionID: id, Score: fingerprint.Cosine(vec, row.vec), Metadata: row.meta})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].SessionID < hits[j].SessionID
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func (m *memStore) Health(context.Context) error { return nil }
// #endregion mem-store
