package narrative

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"github.com/cleansight/analytics/internal/session"
)

const defaultGeminiModel = "gemini-2.5-flash"

// GeminiConfig configures a GeminiProvider.
type GeminiConfig struct {
	APIKey  string
	Model   string
	BaseURL string // optional endpoint override
}

// GeminiProvider streams tokens from Google's Gemini API.
type GeminiProvider struct {
	client *genai.Client
	model  string
}

// NewGeminiProvider creates a Gemini client. The API key is required.
func NewGeminiProvider(ctx context.Context, cfg GeminiConfig) (*GeminiProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	model := cfg.Model
	if model == "" {
		model = defaultGeminiModel
	}
	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &GeminiProvider{client: client, model: model}, nil
}

// Name implements Provider.
func (p *GeminiProvider) Name() string { return "gemini" }

// Stream runs GenerateContentStream in a goroutine. The iterator ends on
// ctx cancellation, which also closes the channel.
func (p *GeminiProvider) Stream(ctx context.Context, prompt string) (<-chan Chunk, error) {
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(
			"You are a clinical infection control analyst. Reason spatially over hospital surface data.", genai.RoleUser),
		Temperature: genai.Ptr[float32](0.3),
	}
	out := make(chan Chunk)
	go func() {
		defer close(out)
		for resp, err := range p.client.Models.GenerateContentStream(ctx, p.model, genai.Text(prompt), cfg) {
			if err != nil {
				if ctx.Err() == nil {
					send(ctx, out, Chunk{Err: &session.ExternalServiceError{Service: providerService, Op: "stream", Err: err}})
				}
				return
			}
			if text := resp.Text(); text != "" {
				if !send(ctx, out, Chunk{Token: text}) {
					return
				}
			}
		}
	}()
	return out, nil
}

// Health fetches the configured model's metadata.
func (p *GeminiProvider) Health(ctx context.Context) error {
	if _, err := p.client.Models.Get(ctx, p.model, nil); err != nil {
		return &session.ExternalServiceError{Service: providerService, Op: "health", Err: err}
	}
	return nil
}
