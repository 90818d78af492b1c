// Package ingest accepts cleaning sessions, returns their analysis at once
// and refines the published view in the background.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cleansight/analytics/internal/analysis"
	"github.com/cleansight/analytics/internal/index"
	"github.com/cleansight/analytics/internal/logging"
	"github.com/cleansight/analytics/internal/narrative"
	"github.com/cleansight/analytics/internal/session"
	"github.com/cleansight/analytics/internal/view"
)

// ErrClosed is returned by Ingest after Close.
var ErrClosed = errors.New("orchestrator closed")

// #region options
// Options configures the orchestrator.
type Options struct {
	Analysis      analysis.Options
	SimilarK      int           // similar sessions published per ingest
	Salt          string        // pseudonymization salt for cleaner ids
	HealthTimeout time.Duration // bound on the narrative provider health check
}

// DefaultOptions returns k=3, an 8s health check and the analyzer defaults.
func DefaultOptions() Options {
	return Options{Analysis: analysis.DefaultOptions(), SimilarK: 3, HealthTimeout: 8 * time.Second}
}
// #endregion options

// #region orchestrator-struct
// Orchestrator is the top-level coordinator for one ingest: validation and
// analysis on the caller's goroutine, then similarity and narrative
// refinements on a context it owns.
type Orchestrator struct {
	hub      *view.Hub
	index    *index.Client // nil disables similarity
	streamer *narrative.Streamer
	outcomes *logging.OutcomeLog // nil disables the outcome log
	opts     Options
	logger   *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	group  errgroup.Group

	mu     sync.Mutex
	closed bool
}
// #endregion orchestrator-struct

// #region constructor
// New creates a fully wired orchestrator. idx and outcomes may be nil.
func New(hub *view.Hub, idx *index.Client, streamer *narrative.Streamer, outcomes *logging.OutcomeLog, opts Options, logger *zap.Logger) *Orchestrator {
	if streamer == nil {
		streamer = narrative.NewStreamer(nil, narrative.DefaultOptions(), logger)
	}
	if opts.SimilarK <= 0 {
		opts.SimilarK = DefaultOptions().SimilarK
	}
	if opts.HealthTimeout <= 0 {
		opts.HealthTimeout = DefaultOptions().HealthTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		hub:      hub,
		index:    idx,
		streamer: streamer,
		outcomes: outcomes,
		opts:     opts,
		logger:   logging.Component(logger, "ingest"),
		ctx:      ctx,
		cancel:   cancel,
	}
}
// #endregion constructor

// Hub returns the view hub the orchestrator publishes to.
func (o *Orchestrator) Hub() *view.Hub { return o.hub }

// #region prepare
// Prepare validates req, pseudonymizes the cleaner and analyzes the grid.
func (o *Orchestrator) Prepare(req session.IngestRequest) (session.Session, analysis.Analysis, error) {
	s, err := session.Validate(req)
	if err != nil {
		return session.Session{}, analysis.Analysis{}, err
	}
	s.CleanerID = session.Pseudonymize(s.CleanerID, o.opts.Salt)
	a, err := analysis.Analyze(analysis.Input{Grid: s.Grid, Mask: s.Mask, Duration: s.Duration()}, o.opts.Analysis)
	if err != nil {
		return session.Session{}, analysis.Analysis{}, err
	}
	return s, a, nil
}
// #endregion prepare

// #region ingest
// Ingest publishes the initial view and returns it without waiting for any
// external service. Similarity and narrative refinements continue in the
// background and update the view as they land.
func (o *Orchestrator) Ingest(ctx context.Context, req session.IngestRequest) (view.SessionView, error) {
	s, a, err := o.Prepare(req)
	if err != nil {
		return view.SessionView{}, err
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return view.SessionView{}, ErrClosed
	}
	v, err := o.hub.Create(view.New(s, a))
	if errors.Is(err, view.ErrExists) {
		return view.SessionView{}, &session.ValidationError{Field: "session_id", Reason: "already exists", Err: session.ErrDuplicateSession}
	}
	if err != nil {
		return view.SessionView{}, err
	}

	runID := logging.NewRunID()
	o.logger.Info("session analyzed",
		zap.String("session_id", s.ID),
		zap.String("run_id", runID),
		zap.Float64("coverage_percent", a.CoveragePercent),
		zap.Float64("quality_score", a.QualityScore),
		zap.String("protocol", a.Protocol),
	)
	_ = o.record(ctx, logging.OutcomeEntry{
		RunID: runID, SessionID: s.ID, Stage: logging.StageAnalysis, Outcome: logging.OutcomeOK,
		DetailJSON: analysisDetail(a),
	})

	o.group.Go(func() error { return o.refineSimilar(o.ctx, s, a, runID) })
	o.group.Go(func() error { return o.refineNarrative(o.ctx, s, a, runID) })
	return v, nil
}
// #endregion ingest

// #region refine-similar
// refineSimilar always publishes a similar list. Its error is only ever an
// outcome log write failure.
func (o *Orchestrator) refineSimilar(ctx context.Context, s session.Session, a analysis.Analysis, runID string) error {
	similar := []index.SimilarSession{}
	if o.index == nil {
		o.publish(s.ID, func(v view.SessionView) view.SessionView { return v.WithSimilar(similar) })
		return o.record(ctx, logging.OutcomeEntry{RunID: runID, SessionID: s.ID, Stage: logging.StageSimilar, Outcome: logging.OutcomeDegraded, Reason: "similarity index disabled"})
	}

	vec := Fingerprint(s, a)
	meta := index.Metadata{
		RoomID:          s.RoomID,
		SurfaceID:       s.SurfaceID,
		SurfaceType:     s.SurfaceType,
		CoveragePercent: a.CoveragePercent,
		WorstRisk:       string(a.RiskCounts.Worst()),
		Protocol:        a.Protocol,
	}
	err := o.index.Upsert(ctx, s.ID, vec, meta)
	logErr := o.record(ctx, stageEntry(ctx, runID, s.ID, logging.StageIndex, err))

	found, err := o.index.Query(ctx, vec, o.opts.SimilarK, s.ID)
	if err == nil {
		similar = found
	}
	o.publish(s.ID, func(v view.SessionView) view.SessionView { return v.WithSimilar(similar) })
	return errors.Join(logErr, o.record(ctx, stageEntry(ctx, runID, s.ID, logging.StageSimilar, err)))
}
// #endregion refine-similar

// #region refine-narrative
func (o *Orchestrator) refineNarrative(ctx context.Context, s session.Session, a analysis.Analysis, runID string) error {
	observe := func(snap narrative.Snapshot) {
		o.publish(s.ID, func(v view.SessionView) view.SessionView { return v.WithNarrative(snap) })
	}
	res, err := o.streamer.Run(ctx, narrative.BuildPrompt(s, a), narrative.FallbackSteps(a), observe)
	if err != nil {
		return o.record(ctx, stageEntry(ctx, runID, s.ID, logging.StageNarrative, err))
	}
	entry := logging.OutcomeEntry{RunID: runID, SessionID: s.ID, Stage: logging.StageNarrative, Outcome: logging.OutcomeOK}
	if fb, ok := res.(*narrative.FallbackResult); ok {
		entry.Outcome = logging.OutcomeDegraded
		if fb.Cause != nil {
			entry.Reason = fb.Cause.Error()
		}
	}
	return o.record(ctx, entry)
}
// #endregion refine-narrative

// #region close
// Close cancels in-flight refinements and waits for them. It returns the
// first outcome log write failure seen by any refinement. Ingest fails with
// ErrClosed afterwards.
func (o *Orchestrator) Close() error {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()

	o.cancel()
	return o.group.Wait()
}
// #endregion close

func (o *Orchestrator) publish(id string, fn func(view.SessionView) view.SessionView) {
	if _, err := o.hub.Update(id, fn); err != nil {
		o.logger.Warn("publish failed", zap.String("session_id", id), zap.Error(err))
	}
}

// record logs a non-ok entry and appends it to the outcome log. The write
// outlives ctx so cancelled runs are still recorded.
func (o *Orchestrator) record(ctx context.Context, entry logging.OutcomeEntry) error {
	if entry.Outcome != logging.OutcomeOK {
		o.logger.Info("refinement degraded",
			zap.String("session_id", entry.SessionID),
			zap.String("stage", string(entry.Stage)),
			zap.String("outcome", string(entry.Outcome)),
			zap.String("reason", entry.Reason),
		)
	}
	if o.outcomes == nil {
		return nil
	}
	if err := o.outcomes.Log(context.WithoutCancel(ctx), entry); err != nil {
		o.logger.Warn("outcome log write failed", zap.Error(err))
		return err
	}
	return nil
}

func stageEntry(ctx context.Context, runID, sessionID string, stage logging.Stage, err error) logging.OutcomeEntry {
	e := logging.OutcomeEntry{RunID: runID, SessionID: sessionID, Stage: stage, Outcome: logging.OutcomeOK}
	switch {
	case err == nil:
	case ctx.Err() != nil:
		e.Outcome, e.Reason = logging.OutcomeCancelled, ctx.Err().Error()
	default:
		e.Outcome, e.Reason = logging.OutcomeDegraded, err.Error()
	}
	return e
}

func analysisDetail(a analysis.Analysis) string {
	raw, err := json.Marshal(struct {
		Coverage float64  `json:"coverage_percent"`
		Quality  float64  `json:"quality_score"`
		Protocol string   `json:"protocol"`
		Flags    []string `json:"flags"`
	}{a.CoveragePercent, a.QualityScore, a.Protocol, flagNames(a.Flags)})
	if err != nil {
		return ""
	}
	return string(raw)
}

func flagNames(flags []analysis.Flag) []string {
	out := make([]string, len(flags))
	for i, f := range flags {
		out[i] = string(f)
	}
	return out
}
