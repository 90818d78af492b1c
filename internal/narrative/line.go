package narrative

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/cleansight/analytics/internal/session"
)

const providerService = "narrative_provider"

// #region line-provider
// LineProvider streams tokens from an HTTP endpoint speaking the
// line-delimited event protocol ({"token":...} / {"error":...} / [DONE]).
type LineProvider struct {
	url        string
	healthURL  string
	apiKey     string
	model      string
	httpClient *http.Client
	logger     *zap.Logger
}

// LineConfig configures a LineProvider.
type LineConfig struct {
	URL       string
	HealthURL string // defaults to URL
	APIKey    string
	Model     string
}

// NewLineProvider creates a LineProvider. The client carries no timeout;
// the streamer bounds every read.
func NewLineProvider(cfg LineConfig, httpClient *http.Client, logger *zap.Logger) *LineProvider {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	health := cfg.HealthURL
	if health == "" {
		health = cfg.URL
	}
	return &LineProvider{
		url:        cfg.URL,
		healthURL:  health,
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		httpClient: httpClient,
		logger:     logger.With(zap.String("component", "line_provider")),
	}
}

// Name implements Provider.
func (p *LineProvider) Name() string { return "line" }
// #endregion line-provider

type lineRequest struct {
	Model  string `json:"model,omitempty"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

// #region stream
// Stream posts the prompt and decodes the response body in a goroutine.
// Cancelling ctx closes the body, which unblocks the reader.
func (p *LineProvider) Stream(ctx context.Context, prompt string) (<-chan Chunk, error) {
	body, err := json.Marshal(lineRequest{Model: p.model, Prompt: prompt, Stream: true})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, &session.ExternalServiceError{Service: providerService, Op: "stream", Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, &session.ExternalServiceError{
			Service: providerService, Op: "stream",
			Err: fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))),
		}
	}

	out := make(chan Chunk)
	go func() {
		defer close(out)
		defer resp.Body.Close()
		stop := context.AfterFunc(ctx, func() { resp.Body.Close() })
		defer stop()

		dec := NewDecoder(resp.Body)
		dec.OnMalformed = func(e *session.StreamProtocolError) {
			p.logger.Debug("skipping malformed line", zap.Error(e))
		}
		for {
			ev, err := dec.Next()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				if errors.Is(err, io.EOF) {
					err = ErrTruncated
				}
				send(ctx, out, Chunk{Err: &session.ExternalServiceError{Service: providerService, Op: "read", Err: err}})
				return
			}
			switch {
			case ev.Done:
				return
			case ev.Err != "":
				send(ctx, out, Chunk{Err: &session.ExternalServiceError{Service: providerService, Op: "stream", Err: errors.New(ev.Err)}})
				return
			case ev.Token != "":
				if !send(ctx, out, Chunk{Token: ev.Token}) {
					return
				}
			}
		}
	}()
	return out, nil
}
// #endregion stream

// #region health
// Health issues a GET against the health URL; any status below 500 counts
// as reachable.
func (p *LineProvider) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.healthURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return &session.ExternalServiceError{Service: providerService, Op: "health", Err: err}
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode >= 500 {
		return &session.ExternalServiceError{Service: providerService, Op: "health", Err: fmt.Errorf("status %d", resp.StatusCode)}
	}
	return nil
}
// #endregion health

// send delivers c unless ctx is cancelled first.
func send(ctx context.Context, out chan<- Chunk, c Chunk) bool {
	select {
	case out <- c:
		return true
	case <-ctx.Done():
		return false
	}
}
