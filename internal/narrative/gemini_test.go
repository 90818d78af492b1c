package narrative

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewGeminiProvider_RequiresKey(t *testing.T) {
	_, err := NewGeminiProvider(context.Background(), GeminiConfig{})
	assert.Error(t, err)
}

func TestGeminiProvider_Stream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.Contains(r.URL.Path, "streamGenerateContent"):
			w.Header().Set("Content-Type", "text/event-stream")
			for _, text := range []string{"Critical ", "zones: 2."} {
				fmt.Fprintf(w, "data: {\"candidates\":[{\"content\":{\"role\":\"model\",\"parts\":[{\"text\":%q}]}}]}\n\n", text)
				w.(http.Flusher).Flush()
			}
		case r.Method == http.MethodGet:
			fmt.Fprint(w, `{"name":"models/test-model"}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	p, err := NewGeminiProvider(context.Background(), GeminiConfig{APIKey: "test", Model: "test-model", BaseURL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, "gemini", p.Name())

	ch, err := p.Stream(context.Background(), "prompt")
	require.NoError(t, err)
	tokens, err := drain(ch)
	require.NoError(t, err)
	assert.Equal(t, "Critical zones: 2.", strings.Join(tokens, ""))

	assert.NoError(t, p.Health(context.Background()))
}

func TestGeminiProvider_StreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"code":500,"message":"internal"}}`, http.StatusInternalServerError)
	}))
	defer srv.Close()

	p, err := NewGeminiProvider(context.Background(), GeminiConfig{APIKey: "test", Model: "test-model", BaseURL: srv.URL})
	require.NoError(t, err)

	res, err := NewStreamer(p, fastOpts(), nil).Run(context.Background(), "prompt", steps, nil)
	require.NoError(t, err)
	assert.IsType(t, &FallbackResult{}, res)
	assert.Error(t, p.Health(context.Background()))
}
