// Package view holds the per-session record that observers read. A
// SessionView is a value; transitions return a new one and never touch the
// analysis delivered first.
package view

import (
	"time"

	"github.com/cleansight/analytics/internal/analysis"
	"github.com/cleansight/analytics/internal/index"
	"github.com/cleansight/analytics/internal/narrative"
	"github.com/cleansight/analytics/internal/session"
)

// #region types
// NarrativeView is the observable narrative buffer.
type NarrativeView struct {
	State narrative.State `json:"state"`
	Mode  narrative.Mode  `json:"mode,omitempty"`
	Text  string          `json:"text"`
	Cause string          `json:"cause,omitempty"`
}

// SessionView is everything known about one ingested session.
type SessionView struct {
	SessionID    string                 `json:"session_id"`
	RoomID       string                 `json:"room_id"`
	SurfaceID    string                 `json:"surface_id"`
	SurfaceType  string                 `json:"surface_type,omitempty"`
	CleanerID    string                 `json:"cleaner_id,omitempty"`
	Revision     uint64                 `json:"revision"`
	Analysis     analysis.Analysis      `json:"analysis"`
	Similar      []index.SimilarSession `json:"similar"`
	SimilarReady bool                   `json:"similar_ready"`
	Narrative    NarrativeView          `json:"narrative"`
	UpdatedAt    time.Time              `json:"updated_at"`
}
// #endregion types

// #region transitions
// New is the initial view: analysis present, refinements pending.
func New(s session.Session, a analysis.Analysis) SessionView {
	return SessionView{
		SessionID:   s.ID,
		RoomID:      s.RoomID,
		SurfaceID:   s.SurfaceID,
		SurfaceType: s.SurfaceType,
		CleanerID:   s.CleanerID,
		Analysis:    a,
		Similar:     []index.SimilarSession{},
		Narrative:   NarrativeView{State: narrative.Idle},
	}
}

// WithSimilar records the similarity refinement. It applies once; later
// calls are ignored.
func (v SessionView) WithSimilar(similar []index.SimilarSession) SessionView {
	if v.SimilarReady {
		return v
	}
	v.Similar = append(make([]index.SimilarSession, 0, len(similar)), similar...)
	v.SimilarReady = true
	return v
}

// WithNarrative records a narrative snapshot. Nothing changes once the
// narrative is Done.
func (v SessionView) WithNarrative(s narrative.Snapshot) SessionView {
	if v.Narrative.State == narrative.Done {
		return v
	}
	v.Narrative = NarrativeView{State: s.State, Mode: s.Mode, Text: s.Text, Cause: s.Cause}
	return v
}

// Settled reports whether no refinement is still pending.
func (v SessionView) Settled() bool {
	return v.SimilarReady && v.Narrative.State == narrative.Done
}
// #endregion transitions
