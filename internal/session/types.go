package session

import "time"

// #region grid

// Grid holds per-cell wipe counts, indexed [row][col].
type Grid [][]int

// Mask flags high-touch cells with 1, indexed [row][col].
type Mask [][]int

// Cell addresses one grid cell.
type Cell struct {
	Row int `json:"row"`
	Col int `json:"col"`
}

// #endregion grid

// #region wipe-event

// WipeEvent is one recorded wipe. Either a point with radius or a list of
// [row, col] cells is set; both are optional narrative context.
type WipeEvent struct {
	T      time.Time `json:"t"`
	X      float64   `json:"x,omitempty"`
	Y      float64   `json:"y,omitempty"`
	Radius float64   `json:"radius,omitempty"`
	Cells  [][2]int  `json:"cells,omitempty"`
}

// #endregion wipe-event

// #region ingest-request

// IngestRequest is the JSON body accepted by the ingest endpoint. Pointer
// fields distinguish "absent" from zero values so validation can name the
// missing field.
type IngestRequest struct {
	SessionID string `json:"session_id"`
	SurfaceID string `json:"surface_id"`
	RoomID    string `json:"room_id"`
	GridH     *int   `json:"grid_h"`
	GridW     *int   `json:"grid_w"`

	CoverageCountGrid Grid `json:"coverage_count_grid"`
	HighTouchMask     Mask `json:"high_touch_mask"`

	SurfaceType string      `json:"surface_type,omitempty"`
	CleanerID   string      `json:"cleaner_id,omitempty"`
	CameraID    string      `json:"camera_id,omitempty"`
	StartTime   *time.Time  `json:"start_time,omitempty"`
	EndTime     *time.Time  `json:"end_time,omitempty"`
	WipeEvents  []WipeEvent `json:"wipe_events,omitempty"`
}

// #endregion ingest-request

// #region session

// Session is a validated, immutable cleaning session.
type Session struct {
	ID          string      `json:"session_id"`
	SurfaceID   string      `json:"surface_id"`
	SurfaceType string      `json:"surface_type,omitempty"`
	RoomID      string      `json:"room_id"`
	CleanerID   string      `json:"cleaner_id,omitempty"`
	CameraID    string      `json:"camera_id,omitempty"`
	StartTime   time.Time   `json:"start_time,omitempty"`
	EndTime     time.Time   `json:"end_time,omitempty"`
	GridH       int         `json:"grid_h"`
	GridW       int         `json:"grid_w"`
	Grid        Grid        `json:"coverage_count_grid"`
	Mask        Mask        `json:"high_touch_mask"`
	WipeEvents  []WipeEvent `json:"wipe_events,omitempty"`
}

// Duration returns the session length, or zero when either timestamp is
// missing.
func (s Session) Duration() time.Duration {
	if s.StartTime.IsZero() || s.EndTime.IsZero() {
		return 0
	}
	return s.EndTime.Sub(s.StartTime)
}

// #endregion session
