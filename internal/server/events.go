package server

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// eventWriter writes text/event-stream frames and flushes each one.
type eventWriter struct {
	w  http.ResponseWriter
	rc *http.ResponseController
}

func startEvents(w http.ResponseWriter) *eventWriter {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	e := &eventWriter{w: w, rc: http.NewResponseController(w)}
	_ = e.rc.Flush()
	return e
}

func (e *eventWriter) data(v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return e.raw(string(raw))
}

func (e *eventWriter) event(id string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(e.w, "id: %s\ndata: %s\n\n", id, raw); err != nil {
		return err
	}
	return e.rc.Flush()
}

func (e *eventWriter) raw(payload string) error {
	if _, err := fmt.Fprintf(e.w, "data: %s\n\n", payload); err != nil {
		return err
	}
	return e.rc.Flush()
}
