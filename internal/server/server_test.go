package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/cleansight/analytics/internal/analysis"
	"github.com/cleansight/analytics/internal/config"
	"github.com/cleansight/analytics/internal/index"
	"github.com/cleansight/analytics/internal/ingest"
	"github.com/cleansight/analytics/internal/narrative"
	"github.com/cleansight/analytics/internal/session"
	"github.com/cleansight/analytics/internal/view"
)

// #region fakes
type tokenProvider struct {
	tokens []string
	err    error
}

func (p *tokenProvider) Name() string                 { return "fake" }
func (p *tokenProvider) Health(context.Context) error { return nil }

func (p *tokenProvider) Stream(ctx context.Context, _ string) (<-chan narrative.Chunk, error) {
	out := make(chan narrative.Chunk)
	go func() {
		defer close(out)
		for _, tok := range p.tokens {
			select {
			case out <- narrative.Chunk{Token: tok}:
			case <-ctx.Done():
				return
			}
		}
		if p.err != nil {
			select {
			case out <- narrative.Chunk{Err: p.err}:
			case <-ctx.Done():
			}
		}
	}()
	return out, nil
}
// #endregion fakes

// #region helpers
const body = `{
	"session_id": "S-001",
	"surface_id": "bedrail-3",
	"room_id": "ICU-4",
	"grid_h": 3,
	"grid_w": 4,
	"coverage_count_grid": [[0,1,0,0],[1,2,0,0],[0,0,0,4]],
	"high_touch_mask": [[0,1,1,0],[0,1,1,0],[0,0,0,0]]
}`

func withID(id string) string {
	return strings.Replace(body, "S-001", id, 1)
}

func newTestServer(t *testing.T, p narrative.Provider) (*httptest.Server, *ingest.Orchestrator) {
	t.Helper()
	store, err := index.NewLocalStore(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	idx := index.NewClient(store, index.DefaultOptions(), zap.NewNop())
	streamer := narrative.NewStreamer(p, narrative.Options{
		ChunkTimeout:     time.Second,
		OverallCap:       2 * time.Second,
		FallbackInterval: time.Millisecond,
	}, zap.NewNop())
	orch := ingest.New(view.NewHub(), idx, streamer, nil, ingest.DefaultOptions(), zap.NewNop())
	srv := httptest.NewServer(New(config.DefaultServer, orch, zap.NewNop()).Handler())
	t.Cleanup(func() {
		srv.Close()
		orch.Close()
		store.Close()
	})
	return srv, orch
}

func post(t *testing.T, url, payload string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(payload))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeJSON(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

// dataLines reads an event stream to the end and returns its data payloads.
func dataLines(t *testing.T, resp *http.Response) []string {
	t.Helper()
	var out []string
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		if rest, ok := strings.CutPrefix(sc.Text(), "data: "); ok {
			out = append(out, rest)
		}
	}
	return out
}
// #endregion helpers

// #region ingest-tests
func TestIngest_OK(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	resp := post(t, srv.URL+"/ingest/session", body)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	got := decodeJSON(t, resp)
	assert.Equal(t, "S-001", got["session_id"])
	assert.InDelta(t, 33.333, got["coverage_percent"], 0.001)
	assert.Equal(t, analysis.ProtocolUVDoubleWipe, got["recommended_protocol"])
	assert.Len(t, got["hotspots"], 2)
}

func TestIngest_Errors(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	resp := post(t, srv.URL+"/ingest/session", `{"session_id": "x"`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = post(t, srv.URL+"/ingest/session", strings.Replace(body, `"room_id": "ICU-4",`, "", 1))
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "room_id", decodeJSON(t, resp)["field"])

	resp = post(t, srv.URL+"/ingest/session", `{"session_id":"z","surface_id":"s","room_id":"r","grid_h":0,"grid_w":0,"coverage_count_grid":[],"high_touch_mask":[]}`)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	require.Equal(t, http.StatusOK, post(t, srv.URL+"/ingest/session", withID("dup")).StatusCode)
	resp = post(t, srv.URL+"/ingest/session", withID("dup"))
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "session_id", decodeJSON(t, resp)["field"])

	resp, err := http.Get(srv.URL + "/ingest/session")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}
// #endregion ingest-tests

// #region session-tests
func TestSessionEvents_EndWhenSettled(t *testing.T) {
	srv, _ := newTestServer(t, &tokenProvider{tokens: []string{"Clean ", "rail."}})
	require.Equal(t, http.StatusOK, post(t, srv.URL+"/ingest/session", body).StatusCode)

	resp, err := http.Get(srv.URL + "/sessions/S-001/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	events := dataLines(t, resp)
	require.NotEmpty(t, events)
	var last view.SessionView
	var prev uint64
	for _, e := range events {
		require.NoError(t, json.Unmarshal([]byte(e), &last))
		assert.Greater(t, last.Revision, prev)
		prev = last.Revision
	}
	assert.True(t, last.SimilarReady)
	assert.Equal(t, "Clean rail.", last.Narrative.Text)

	resp, err = http.Get(srv.URL + "/sessions/S-001")
	require.NoError(t, err)
	defer resp.Body.Close()
	got := decodeJSON(t, resp)
	assert.Equal(t, "done", got["narrative"].(map[string]any)["state"])
}

func TestSession_NotFound(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	for _, path := range []string{"/sessions/nope", "/sessions/nope/events"} {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, path)
	}
}
// #endregion session-tests

// #region similar-tests
func TestSimilar(t *testing.T) {
	srv, orch := newTestServer(t, nil)
	require.Equal(t, http.StatusOK, post(t, srv.URL+"/ingest/session", body).StatusCode)

	sub, err := orch.Hub().Subscribe("S-001")
	require.NoError(t, err)
	deadline := time.After(5 * time.Second)
	for ready := false; !ready; {
		select {
		case v := <-sub.C:
			ready = v.SimilarReady
		case <-deadline:
			t.Fatal("similar refinement never landed")
		}
	}
	sub.Close()

	resp := post(t, srv.URL+"/similar?k=2", withID("Q-1"))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	similar := decodeJSON(t, resp)["similar"].([]any)
	require.Len(t, similar, 1)
	assert.Equal(t, "S-001", similar[0].(map[string]any)["session_id"])

	resp = post(t, srv.URL+"/similar?k=zero", withID("Q-1"))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
// #endregion similar-tests

// #region narrative-tests
func TestNarrativeStream_Live(t *testing.T) {
	srv, _ := newTestServer(t, &tokenProvider{tokens: []string{"Critical ", "zones: 2."}})
	resp := post(t, srv.URL+"/narrative/stream", body)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	lines := dataLines(t, resp)
	assert.Equal(t, []string{`{"token":"Critical "}`, `{"token":"zones: 2."}`, "[DONE]"}, lines)
}

func TestNarrativeStream_Fallback(t *testing.T) {
	srv, orch := newTestServer(t, &tokenProvider{tokens: []string{"par"}, err: errors.New("model overloaded")})
	resp := post(t, srv.URL+"/narrative/stream", body)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	lines := dataLines(t, resp)
	require.GreaterOrEqual(t, len(lines), 4)
	assert.Equal(t, `{"token":"par"}`, lines[0])
	assert.Equal(t, `{"error":"model overloaded"}`, lines[1])
	assert.Contains(t, lines[2], "Analysing surface grid")
	assert.Equal(t, "[DONE]", lines[len(lines)-1])

	var text strings.Builder
	for _, l := range lines[2 : len(lines)-1] {
		var ev tokenEvent
		require.NoError(t, json.Unmarshal([]byte(l), &ev))
		text.WriteString(ev.Token)
	}
	var req session.IngestRequest
	require.NoError(t, json.Unmarshal([]byte(body), &req))
	_, a, err := orch.Prepare(req)
	require.NoError(t, err)
	assert.Equal(t, strings.Join(narrative.FallbackSteps(a), ""), text.String())
}

func TestNarrativeStream_Invalid(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	resp := post(t, srv.URL+"/narrative/stream", `{"session_id":"x"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
}
// #endregion narrative-tests

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t, &tokenProvider{})
	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decodeJSON(t, resp)
	assert.Equal(t, "ok", got["status"])
	assert.Equal(t, "reachable", got["similarity_index"])
	assert.Equal(t, "reachable", got["narrative_provider"])
}

func TestServe_ShutsDownOnCancel(t *testing.T) {
	orch := ingest.New(view.NewHub(), nil, nil, nil, ingest.DefaultOptions(), zap.NewNop())
	defer orch.Close()
	s := New(config.DefaultServer, orch, zap.NewNop())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
