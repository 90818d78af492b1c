package session

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intp(v int) *int { return &v }

func validRequest() IngestRequest {
	return IngestRequest{
		SessionID:         "S-001",
		SurfaceID:         "tray-1",
		RoomID:            "ICU_12",
		GridH:             intp(3),
		GridW:             intp(4),
		CoverageCountGrid: Grid{{0, 1, 0, 0}, {1, 2, 0, 0}, {0, 0, 0, 4}},
		HighTouchMask:     Mask{{0, 1, 1, 0}, {0, 1, 1, 0}, {0, 0, 0, 0}},
	}
}

func TestValidate_OK(t *testing.T) {
	s, err := Validate(validRequest())
	require.NoError(t, err)
	assert.Equal(t, "S-001", s.ID)
	assert.Equal(t, 3, s.GridH)
	assert.Equal(t, 4, s.GridW)
	assert.Equal(t, 4, s.Grid[2][3])
}

func TestValidate_RowCountMismatchNamesField(t *testing.T) {
	req := validRequest()
	req.CoverageCountGrid = Grid{{0, 1, 0, 0}, {1, 2, 0, 0}}

	_, err := Validate(req)
	require.Error(t, err)

	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "coverage_count_grid", verr.Field)
	assert.Contains(t, verr.Reason, "2 rows")
}

func TestValidate_MissingFields(t *testing.T) {
	cases := map[string]func(*IngestRequest){
		"session_id":          func(r *IngestRequest) { r.SessionID = "  " },
		"surface_id":          func(r *IngestRequest) { r.SurfaceID = "" },
		"room_id":             func(r *IngestRequest) { r.RoomID = "" },
		"grid_h":              func(r *IngestRequest) { r.GridH = nil },
		"grid_w":              func(r *IngestRequest) { r.GridW = nil },
		"coverage_count_grid": func(r *IngestRequest) { r.CoverageCountGrid = nil },
		"high_touch_mask":     func(r *IngestRequest) { r.HighTouchMask = nil },
	}
	for field, mutate := range cases {
		t.Run(field, func(t *testing.T) {
			req := validRequest()
			mutate(&req)
			_, err := Validate(req)
			var verr *ValidationError
			require.True(t, errors.As(err, &verr), "expected ValidationError, got %v", err)
			assert.Equal(t, field, verr.Field)
		})
	}
}

func TestValidate_BadCells(t *testing.T) {
	req := validRequest()
	req.CoverageCountGrid[1][2] = -1
	_, err := Validate(req)
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "coverage_count_grid[1][2]", verr.Field)

	req = validRequest()
	req.HighTouchMask[0][3] = 2
	_, err = Validate(req)
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "high_touch_mask[0][3]", verr.Field)
}

func TestValidate_ColumnMismatch(t *testing.T) {
	req := validRequest()
	req.HighTouchMask[2] = []int{0, 0, 0}
	_, err := Validate(req)
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "high_touch_mask[2]", verr.Field)
}

func TestValidate_EndBeforeStart(t *testing.T) {
	req := validRequest()
	start := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	end := start.Add(-time.Minute)
	req.StartTime, req.EndTime = &start, &end
	_, err := Validate(req)
	assert.True(t, IsValidation(err))
}

func TestValidate_CopiesGrids(t *testing.T) {
	req := validRequest()
	s, err := Validate(req)
	require.NoError(t, err)
	req.CoverageCountGrid[0][0] = 99
	assert.Equal(t, 0, s.Grid[0][0])
}

func TestValidate_ZeroAreaPasses(t *testing.T) {
	req := validRequest()
	req.GridH = intp(0)
	req.CoverageCountGrid = Grid{}
	req.HighTouchMask = Mask{}
	_, err := Validate(req)
	assert.NoError(t, err)
}

func TestSessionDuration(t *testing.T) {
	start := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	s := Session{StartTime: start, EndTime: start.Add(95 * time.Second)}
	assert.Equal(t, 95*time.Second, s.Duration())
	assert.Zero(t, Session{StartTime: start}.Duration())
}

func TestPseudonymize(t *testing.T) {
	a := Pseudonymize("cleaner-7", "salt")
	assert.Equal(t, a, Pseudonymize("cleaner-7", "salt"))
	assert.NotEqual(t, a, Pseudonymize("cleaner-7", "other"))
	assert.Len(t, a, len("anon_")+12)
	assert.Empty(t, Pseudonymize("", "salt"))
}

func TestErrorClassification(t *testing.T) {
	ext := &ExternalServiceError{Service: "similarity_index", Op: "query", Err: errors.New("unavailable")}
	wrapped := errors.Join(errors.New("ctx"), ext)
	assert.True(t, IsExternal(wrapped))
	assert.False(t, IsValidation(wrapped))
	assert.ErrorIs(t, ext, ext.Err)
	assert.True(t, IsComputation(&ComputationError{Reason: "zero-area grid"}))
}
