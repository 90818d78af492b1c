package view

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cleansight/analytics/internal/analysis"
	"github.com/cleansight/analytics/internal/index"
	"github.com/cleansight/analytics/internal/narrative"
	"github.com/cleansight/analytics/internal/session"
)

func initial() SessionView {
	s := session.Session{ID: "S-1", RoomID: "ICU-4", SurfaceID: "rail", CleanerID: "c-1"}
	return New(s, analysis.Analysis{CoveragePercent: 42, Protocol: analysis.ProtocolStandard})
}

func TestNew(t *testing.T) {
	v := initial()
	assert.Equal(t, "S-1", v.SessionID)
	assert.False(t, v.SimilarReady)
	assert.NotNil(t, v.Similar)
	assert.Equal(t, narrative.Idle, v.Narrative.State)
	assert.False(t, v.Settled())
}

func TestTransitions_AreValues(t *testing.T) {
	v := initial()
	similar := []index.SimilarSession{{SessionID: "S-0", SimilarityScore: 0.9}}
	w := v.WithSimilar(similar)
	similar[0].SessionID = "mutated"

	assert.False(t, v.SimilarReady, "original view changed")
	assert.True(t, w.SimilarReady)
	assert.Equal(t, "S-0", w.Similar[0].SessionID)

	again := w.WithSimilar(nil)
	assert.Len(t, again.Similar, 1)
}

func TestWithNarrative_FrozenAfterDone(t *testing.T) {
	v := initial().WithNarrative(narrative.Snapshot{State: narrative.Done, Mode: narrative.ModeLive, Text: "final"})
	v = v.WithNarrative(narrative.Snapshot{State: narrative.Streaming, Text: "late"})
	assert.Equal(t, "final", v.Narrative.Text)
	assert.Equal(t, narrative.Done, v.Narrative.State)

	assert.True(t, v.WithSimilar(nil).Settled())
}

func TestSessionView_JSON(t *testing.T) {
	v := initial().WithNarrative(narrative.Snapshot{State: narrative.Fallback, Mode: narrative.ModeFallback, Text: "x"})
	raw, err := json.Marshal(v)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, "S-1", got["session_id"])
	assert.Equal(t, false, got["similar_ready"])
	assert.Equal(t, []any{}, got["similar"])
	n := got["narrative"].(map[string]any)
	assert.Equal(t, "fallback", n["state"])
	assert.Equal(t, "fallback", n["mode"])
}

func TestHub_CreateDuplicate(t *testing.T) {
	h := NewHub()
	v, err := h.Create(initial())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), v.Revision)
	assert.False(t, v.UpdatedAt.IsZero())

	_, err = h.Create(initial())
	assert.ErrorIs(t, err, ErrExists)
	assert.Equal(t, 1, h.Len())
}

func TestHub_UpdateKeepsAnalysis(t *testing.T) {
	h := NewHub()
	_, err := h.Create(initial())
	require.NoError(t, err)

	v, err := h.Update("S-1", func(v SessionView) SessionView {
		v.Analysis.CoveragePercent = 0
		return v.WithSimilar(nil)
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), v.Revision)
	assert.Equal(t, 42.0, v.Analysis.CoveragePercent)

	_, err = h.Update("missing", func(v SessionView) SessionView { return v })
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestHub_NoOpUpdateNotPublished(t *testing.T) {
	h := NewHub()
	_, err := h.Create(initial())
	require.NoError(t, err)
	sub, err := h.Subscribe("S-1")
	require.NoError(t, err)
	defer sub.Close()
	<-sub.C

	v, err := h.Update("S-1", func(v SessionView) SessionView { return v })
	require.NoError(t, err)
	assert.Equal(t, uint64(1), v.Revision)
	select {
	case got := <-sub.C:
		t.Fatalf("unexpected publish of revision %d", got.Revision)
	default:
	}
}

func TestHub_SubscribeLatestOnly(t *testing.T) {
	h := NewHub()
	_, err := h.Create(initial())
	require.NoError(t, err)

	_, err = h.Subscribe("missing")
	assert.ErrorIs(t, err, ErrNotFound)

	sub, err := h.Subscribe("S-1")
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		text := string(rune('a' + i))
		_, err := h.Update("S-1", func(v SessionView) SessionView {
			return v.WithNarrative(narrative.Snapshot{State: narrative.Streaming, Text: text})
		})
		require.NoError(t, err)
	}

	got := <-sub.C
	assert.Equal(t, uint64(6), got.Revision)
	assert.Equal(t, "e", got.Narrative.Text)

	sub.Close()
	sub.Close()
	_, open := <-sub.C
	assert.False(t, open)

	_, err = h.Update("S-1", func(v SessionView) SessionView { return v.WithSimilar(nil) })
	require.NoError(t, err)
}

func TestHub_RevisionsMonotonic(t *testing.T) {
	h := NewHub()
	_, err := h.Create(initial())
	require.NoError(t, err)
	sub, err := h.Subscribe("S-1")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = h.Update("S-1", func(v SessionView) SessionView {
				return v.WithNarrative(narrative.Snapshot{State: narrative.Streaming, Text: string(rune('A' + i))})
			})
		}(i)
	}

	done := make(chan struct{})
	var seen []uint64
	go func() {
		defer close(done)
		for v := range sub.C {
			seen = append(seen, v.Revision)
		}
	}()
	wg.Wait()
	sub.Close()
	<-done

	for i := 1; i < len(seen); i++ {
		assert.Greater(t, seen[i], seen[i-1])
	}
	final, ok := h.Get("S-1")
	require.True(t, ok)
	assert.LessOrEqual(t, seen[len(seen)-1], final.Revision)
}
