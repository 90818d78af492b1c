package index

import (
	"context"
	"time"
)

// #region config
// Options holds the query policy of the similarity client.
type Options struct {
	Timeout  time.Duration // single bounded attempt per call
	MinScore float64       // hits below this cosine similarity are dropped; 0 keeps all
}

// DefaultOptions returns the documented defaults.
func DefaultOptions() Options {
	return Options{Timeout: 8 * time.Second}
}
// #endregion config

// #region metadata
// Metadata is stored alongside each fingerprint. Cleaner identity is never
// part of it.
type Metadata struct {
	SessionID       string  `json:"session_id"`
	RoomID          string  `json:"room_id,omitempty"`
	SurfaceID       string  `json:"surface_id,omitempty"`
	SurfaceType     string  `json:"surface_type,omitempty"`
	CoveragePercent float64 `json:"coverage_percent"`
	WorstRisk       string  `json:"worst_risk,omitempty"`
	Protocol        string  `json:"protocol,omitempty"`
}
// #endregion metadata

// #region results
// Hit is a raw backend search result.
type Hit struct {
	SessionID string
	Score     float64
	Metadata  Metadata
}

// SimilarSession is a historical session ranked by fingerprint similarity.
type SimilarSession struct {
	SessionID       string  `json:"session_id"`
	SimilarityScore float64 `json:"similarity_score"`
	RoomID          string  `json:"room_id,omitempty"`
	Protocol        string  `json:"protocol,omitempty"`
}
// #endregion results

// #region store
// Store is a nearest-neighbor backend keyed by session id. Implementations
// return *session.ExternalServiceError on transport failures.
type Store interface {
	Upsert(ctx context.Context, sessionID string, vec []float32, meta Metadata) error
	Search(ctx context.Context, vec []float32, k int) ([]Hit, error)
	Health(ctx context.Context) error
}

// Deleter is implemented by stores that can forget a session.
type Deleter interface {
	Delete(ctx context.Context, sessionID string) error
}
// #endregion store
