package view

import (
	"errors"
	"sync"
	"time"
)

// ErrExists is returned when a session id is already registered.
var ErrExists = errors.New("session already exists")

// ErrNotFound is returned for unknown session ids.
var ErrNotFound = errors.New("session not found")

// #region hub
// Hub stores the current view of each session and fans out every new
// revision to subscribers. Each subscriber holds at most one undelivered
// view; a newer one replaces it, so a slow reader never blocks publishers.
type Hub struct {
	mu    sync.Mutex
	views map[string]SessionView
	subs  map[string]map[*Subscription]struct{}
	now   func() time.Time
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{
		views: make(map[string]SessionView),
		subs:  make(map[string]map[*Subscription]struct{}),
		now:   time.Now,
	}
}

// Subscription receives views for one session on C.
type Subscription struct {
	C <-chan SessionView

	ch   chan SessionView
	hub  *Hub
	id   string
	once sync.Once
}
// #endregion hub

// #region create
// Create registers v as revision 1. It fails with ErrExists if the id is
// already known.
func (h *Hub) Create(v SessionView) (SessionView, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.views[v.SessionID]; ok {
		return SessionView{}, ErrExists
	}
	v.Revision = 1
	v.UpdatedAt = h.now().UTC()
	h.views[v.SessionID] = v
	h.publishLocked(v)
	return v, nil
}
// #endregion create

// #region update
// Update applies fn to the current view, stores the result with the next
// revision and publishes it. Transitions that change nothing are not
// published.
func (h *Hub) Update(id string, fn func(SessionView) SessionView) (SessionView, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	cur, ok := h.views[id]
	if !ok {
		return SessionView{}, ErrNotFound
	}
	next := fn(cur)
	next.Revision = cur.Revision
	next.UpdatedAt = cur.UpdatedAt
	if equalViews(cur, next) {
		return cur, nil
	}
	next.SessionID = cur.SessionID
	next.Analysis = cur.Analysis
	next.Revision = cur.Revision + 1
	next.UpdatedAt = h.now().UTC()
	h.views[id] = next
	h.publishLocked(next)
	return next, nil
}
// #endregion update

// Get returns the current view.
func (h *Hub) Get(id string) (SessionView, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	v, ok := h.views[id]
	return v, ok
}

// Len returns the number of known sessions.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.views)
}

// #region subscribe
// Subscribe returns a subscription primed with the current view.
func (h *Hub) Subscribe(id string) (*Subscription, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	v, ok := h.views[id]
	if !ok {
		return nil, ErrNotFound
	}
	ch := make(chan SessionView, 1)
	ch <- v
	s := &Subscription{C: ch, ch: ch, hub: h, id: id}
	if h.subs[id] == nil {
		h.subs[id] = make(map[*Subscription]struct{})
	}
	h.subs[id][s] = struct{}{}
	return s, nil
}

// Close detaches the subscription and closes C.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.mu.Lock()
		defer s.hub.mu.Unlock()
		delete(s.hub.subs[s.id], s)
		if len(s.hub.subs[s.id]) == 0 {
			delete(s.hub.subs, s.id)
		}
		close(s.ch)
	})
}

func (h *Hub) publishLocked(v SessionView) {
	for s := range h.subs[v.SessionID] {
		// replace any undelivered view with the newer one
		select {
		case <-s.ch:
		default:
		}
		select {
		case s.ch <- v:
		default:
		}
	}
}
// #endregion subscribe

func equalViews(a, b SessionView) bool {
	if a.SimilarReady != b.SimilarReady || a.Narrative != b.Narrative || len(a.Similar) != len(b.Similar) {
		return false
	}
	for i := range a.Similar {
		if a.Similar[i] != b.Similar[i] {
			return false
		}
	}
	return a.RoomID == b.RoomID && a.SurfaceID == b.SurfaceID &&
		a.SurfaceType == b.SurfaceType && a.CleanerID == b.CleanerID
}
