package ingest

import (
	"context"

	"go.uber.org/zap"

	"github.com/cleansight/analytics/internal/analysis"
	"github.com/cleansight/analytics/internal/fingerprint"
	"github.com/cleansight/analytics/internal/index"
	"github.com/cleansight/analytics/internal/narrative"
	"github.com/cleansight/analytics/internal/session"
)

// Fingerprint encodes a validated session for the similarity index.
func Fingerprint(s session.Session, a analysis.Analysis) fingerprint.Vector {
	return fingerprint.Encode(s.Grid, s.Mask, a)
}

// #region similar
// Similar ranks stored sessions against req without storing it. The result
// is empty, never nil, when the index is disabled or unreachable.
func (o *Orchestrator) Similar(ctx context.Context, req session.IngestRequest, k int) ([]index.SimilarSession, error) {
	s, a, err := o.Prepare(req)
	if err != nil {
		return nil, err
	}
	if k <= 0 {
		k = o.opts.SimilarK
	}
	if o.index == nil {
		return []index.SimilarSession{}, nil
	}
	found, err := o.index.Query(ctx, Fingerprint(s, a), k, s.ID)
	if err != nil {
		o.logger.Debug("ad hoc similar query degraded", zap.String("session_id", s.ID), zap.Error(err))
	}
	return found, nil
}
// #endregion similar

// #region narrate
// Narrate streams the narrative for req on the caller's context. observe
// sees every snapshot; the session is not published to the hub.
func (o *Orchestrator) Narrate(ctx context.Context, req session.IngestRequest, observe func(narrative.Snapshot)) (narrative.Result, error) {
	s, a, err := o.Prepare(req)
	if err != nil {
		return nil, err
	}
	return o.streamer.Run(ctx, narrative.BuildPrompt(s, a), narrative.FallbackSteps(a), observe)
}
// #endregion narrate

// #region health
// Dependency reachability values in a HealthReport.
const (
	Reachable   = "reachable"
	Unreachable = "unreachable"
	Disabled    = "disabled"
)

// HealthReport summarizes dependency reachability. Status is "degraded"
// when any configured dependency is unreachable; ingest still works then.
type HealthReport struct {
	Status            string `json:"status"`
	SimilarityIndex   string `json:"similarity_index"`
	NarrativeProvider string `json:"narrative_provider"`
}

// Health checks the similarity index and the narrative provider.
func (o *Orchestrator) Health(ctx context.Context) HealthReport {
	r := HealthReport{Status: "ok", SimilarityIndex: Disabled, NarrativeProvider: Disabled}
	if o.index != nil {
		r.SimilarityIndex = reachability(o.index.Health(ctx))
	}
	if p := o.streamer.Provider(); p != nil {
		pctx, cancel := context.WithTimeout(ctx, o.opts.HealthTimeout)
		r.NarrativeProvider = reachability(p.Health(pctx))
		cancel()
	}
	if r.SimilarityIndex == Unreachable || r.NarrativeProvider == Unreachable {
		r.Status = "degraded"
	}
	return r
}

func reachability(err error) string {
	if err != nil {
		return Unreachable
	}
	return Reachable
}
// #endregion health
