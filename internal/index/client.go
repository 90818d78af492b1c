// Package index is the similarity-search boundary: it ranks historical
// sessions by fingerprint similarity over a pluggable Store and contains
// every backend failure.
package index

import (
	"context"
	"sort"

	"go.uber.org/zap"
)

// #region client
// Client applies the query policy on top of a Store: one bounded attempt
// per call, self exclusion, dedupe and minimum score. Failures are logged
// and turned into empty results; the error is still returned so callers can
// record the outcome.
type Client struct {
	store  Store
	opts   Options
	logger *zap.Logger
}

// NewClient wraps store with the given policy.
func NewClient(store Store, opts Options, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultOptions().Timeout
	}
	return &Client{store: store, opts: opts, logger: logger.With(zap.String("component", "similarity"))}
}
// #endregion client

// #region upsert
// Upsert stores the fingerprint for meta.SessionID.
func (c *Client) Upsert(ctx context.Context, sessionID string, vec []float32, meta Metadata) error {
	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	meta.SessionID = sessionID
	if err := c.store.Upsert(ctx, sessionID, vec, meta); err != nil {
		c.logger.Warn("upsert failed", zap.String("session_id", sessionID), zap.Error(err))
		return err
	}
	return nil
}
// #endregion upsert

// #region query
// Query returns up to k sessions most similar to vec, excluding excludeID,
// in descending score order. The result is never nil; on backend failure it
// is empty and the error is returned alongside it.
func (c *Client) Query(ctx context.Context, vec []float32, k int, excludeID string) ([]SimilarSession, error) {
	out := make([]SimilarSession, 0, max(k, 0))
	if k <= 0 {
		return out, nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	// one extra so excluding the session itself still leaves k
	hits, err := c.store.Search(ctx, vec, k+1)
	if err != nil {
		c.logger.Warn("query failed, returning no similar sessions", zap.Error(err))
		return out, err
	}

	seen := make(map[string]bool, len(hits))
	for _, h := range hits {
		if h.SessionID == "" || h.SessionID == excludeID || seen[h.SessionID] {
			continue
		}
		if c.opts.MinScore > 0 && h.Score < c.opts.MinScore {
			continue
		}
		seen[h.SessionID] = true
		out = append(out, SimilarSession{
			SessionID:       h.SessionID,
			SimilarityScore: h.Score,
			RoomID:          h.Metadata.RoomID,
			Protocol:        h.Metadata.Protocol,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].SimilarityScore != out[j].SimilarityScore {
			return out[i].SimilarityScore > out[j].SimilarityScore
		}
		return out[i].SessionID < out[j].SessionID
	})
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}
// #endregion query

// #region health
// Health reports whether the backend is reachable within the timeout.
func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()
	return c.store.Health(ctx)
}
// #endregion health
