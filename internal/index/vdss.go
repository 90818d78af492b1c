package index

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cleansight/analytics/internal/vectordb"
)

// VDSSStore adapts the VDSS gRPC client to Store. The store only knows
// vector UUIDs, so the session id travels in the JSON payload.
type VDSSStore struct {
	client *vectordb.Client
}

// NewVDSSStore wraps an already constructed VDSS client.
func NewVDSSStore(client *vectordb.Client) *VDSSStore {
	return &VDSSStore{client: client}
}

// Upsert stores vec with meta as payload.
func (s *VDSSStore) Upsert(ctx context.Context, sessionID string, vec []float32, meta Metadata) error {
	meta.SessionID = sessionID
	payload, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	return s.client.Upsert(ctx, sessionID, vec, string(payload))
}

// Search maps matches back to session ids. Matches without a readable
// payload cannot be attributed and are dropped.
func (s *VDSSStore) Search(ctx context.Context, vec []float32, k int) ([]Hit, error) {
	matches, err := s.client.Search(ctx, vec, k)
	if err != nil {
		return nil, err
	}
	hits := make([]Hit, 0, len(matches))
	for _, m := range matches {
		var meta Metadata
		if err := json.Unmarshal([]byte(m.PayloadJSON), &meta); err != nil || meta.SessionID == "" {
			continue
		}
		hits = append(hits, Hit{SessionID: meta.SessionID, Score: float64(m.Score), Metadata: meta})
	}
	return hits, nil
}

// Health delegates to the gRPC health check.
func (s *VDSSStore) Health(ctx context.Context) error {
	return s.client.Health(ctx)
}

// Delete removes the fingerprint of sessionID.
func (s *VDSSStore) Delete(ctx context.Context, sessionID string) error {
	return s.client.Delete(ctx, sessionID)
}
