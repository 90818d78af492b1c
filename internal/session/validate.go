package session

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Validate checks required fields and shape consistency and returns an
// immutable Session. The grids are copied so later changes to req do not
// leak into the session.
//
// A zero-area grid passes validation; the analyzer rejects it with a
// ComputationError.
func Validate(req IngestRequest) (Session, error) {
	if strings.TrimSpace(req.SessionID) == "" {
		return Session{}, invalid("session_id", "required")
	}
	if strings.TrimSpace(req.SurfaceID) == "" {
		return Session{}, invalid("surface_id", "required")
	}
	if strings.TrimSpace(req.RoomID) == "" {
		return Session{}, invalid("room_id", "required")
	}
	if req.GridH == nil {
		return Session{}, invalid("grid_h", "required")
	}
	if req.GridW == nil {
		return Session{}, invalid("grid_w", "required")
	}
	h, w := *req.GridH, *req.GridW
	if h < 0 {
		return Session{}, invalid("grid_h", "must not be negative, got %d", h)
	}
	if w < 0 {
		return Session{}, invalid("grid_w", "must not be negative, got %d", w)
	}
	if req.CoverageCountGrid == nil {
		return Session{}, invalid("coverage_count_grid", "required")
	}
	if req.HighTouchMask == nil {
		return Session{}, invalid("high_touch_mask", "required")
	}
	if err := CheckShape(req.CoverageCountGrid, req.HighTouchMask, h, w); err != nil {
		return Session{}, err
	}
	if req.StartTime != nil && req.EndTime != nil && req.EndTime.Before(*req.StartTime) {
		return Session{}, invalid("end_time", "must not be before start_time")
	}

	s := Session{
		ID:          strings.TrimSpace(req.SessionID),
		SurfaceID:   req.SurfaceID,
		SurfaceType: req.SurfaceType,
		RoomID:      req.RoomID,
		CleanerID:   req.CleanerID,
		CameraID:    req.CameraID,
		GridH:       h,
		GridW:       w,
		Grid:        copyGrid(req.CoverageCountGrid),
		Mask:        Mask(copyGrid(Grid(req.HighTouchMask))),
		WipeEvents:  append([]WipeEvent(nil), req.WipeEvents...),
	}
	if req.StartTime != nil {
		s.StartTime = req.StartTime.UTC()
	}
	if req.EndTime != nil {
		s.EndTime = req.EndTime.UTC()
	}
	return s, nil
}

// CheckShape verifies that grid and mask both have h rows of w columns,
// counts are non-negative and mask values are 0 or 1.
func CheckShape(grid Grid, mask Mask, h, w int) error {
	if len(grid) != h {
		return invalid("coverage_count_grid", "has %d rows, grid_h declares %d", len(grid), h)
	}
	if len(mask) != h {
		return invalid("high_touch_mask", "has %d rows, grid_h declares %d", len(mask), h)
	}
	for r := 0; r < h; r++ {
		if len(grid[r]) != w {
			return invalid(fmt.Sprintf("coverage_count_grid[%d]", r), "has %d columns, grid_w declares %d", len(grid[r]), w)
		}
		if len(mask[r]) != w {
			return invalid(fmt.Sprintf("high_touch_mask[%d]", r), "has %d columns, grid_w declares %d", len(mask[r]), w)
		}
		for c := 0; c < w; c++ {
			if grid[r][c] < 0 {
				return invalid(fmt.Sprintf("coverage_count_grid[%d][%d]", r, c), "negative count %d", grid[r][c])
			}
			if m := mask[r][c]; m != 0 && m != 1 {
				return invalid(fmt.Sprintf("high_touch_mask[%d][%d]", r, c), "must be 0 or 1, got %d", m)
			}
		}
	}
	return nil
}

// Pseudonymize replaces an opaque cleaner id with a salted, truncated
// SHA-256 digest. Empty ids stay empty.
func Pseudonymize(id, salt string) string {
	id = strings.TrimSpace(id)
	if id == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(salt + ":" + id))
	return "anon_" + hex.EncodeToString(sum[:])[:12]
}

func copyGrid(g Grid) Grid {
	out := make(Grid, len(g))
	for i, row := range g {
		out[i] = append([]int(nil), row...)
	}
	return out
}
