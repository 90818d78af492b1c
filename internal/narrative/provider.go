// Package narrative streams an AI-written summary of a session from an
// external text-generation provider and falls back to canned reasoning
// lines when the provider fails.
package narrative

import (
	"context"
	"errors"
)

// #region provider
// Chunk is one item of a provider stream: a token or a terminal error.
type Chunk struct {
	Token string
	Err   error
}

// Provider opens token streams against a text-generation backend.
//
// Stream returns a channel that yields tokens and is closed when the stream
// ends. A clean close means the terminal sentinel was seen. A failure is
// delivered as a final Chunk with Err set before the close. Once ctx is
// cancelled the provider must release its connection and close the channel
// promptly, and a Stream call still connecting must return.
type Provider interface {
	Name() string
	Stream(ctx context.Context, prompt string) (<-chan Chunk, error)
	Health(ctx context.Context) error
}
// #endregion provider

var (
	// ErrNoProvider is the fallback cause when no provider is configured.
	ErrNoProvider = errors.New("no narrative provider configured")
	// ErrTruncated reports a stream that ended without the sentinel.
	ErrTruncated = errors.New("stream ended without terminal sentinel")
	// ErrChunkTimeout reports a stream that went silent for too long.
	ErrChunkTimeout = errors.New("no token within chunk timeout")
	// ErrOverallCap reports a stream that exceeded its total time budget.
	ErrOverallCap = errors.New("stream exceeded overall time cap")
)
