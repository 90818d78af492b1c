package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/cleansight/analytics/internal/analysis"
	"github.com/cleansight/analytics/internal/index"
	"github.com/cleansight/analytics/internal/ingest"
	"github.com/cleansight/analytics/internal/narrative"
	"github.com/cleansight/analytics/internal/session"
)

// #region ingest
type ingestResponse struct {
	SessionID string `json:"session_id"`
	analysis.Analysis
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decode(w, r)
	if !ok {
		return
	}
	v, err := s.orch.Ingest(r.Context(), req)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, ingestResponse{SessionID: v.SessionID, Analysis: v.Analysis})
}
// #endregion ingest

// #region sessions
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	v, ok := s.orch.Hub().Get(r.PathValue("id"))
	if !ok {
		s.writeError(w, http.StatusNotFound, "session not found")
		return
	}
	s.writeJSON(w, http.StatusOK, v)
}

// handleEvents streams every new revision of a session view and ends once
// the view is settled.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	sub, err := s.orch.Hub().Subscribe(r.PathValue("id"))
	if err != nil {
		s.writeError(w, http.StatusNotFound, "session not found")
		return
	}
	defer sub.Close()

	sse := startEvents(w)
	for {
		select {
		case v, open := <-sub.C:
			if !open {
				return
			}
			if err := sse.event(strconv.FormatUint(v.Revision, 10), v); err != nil {
				return
			}
			if v.Settled() {
				return
			}
		case <-r.Context().Done():
			return
		case <-s.streams.Done():
			return
		}
	}
}
// #endregion sessions

// #region similar
type similarResponse struct {
	Similar []index.SimilarSession `json:"similar"`
}

func (s *Server) handleSimilar(w http.ResponseWriter, r *http.Request) {
	k := 0
	if raw := r.URL.Query().Get("k"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.writeJSON(w, http.StatusBadRequest, errorBody{Error: "k must be a positive integer", Field: "k"})
			return
		}
		k = n
	}
	req, ok := s.decode(w, r)
	if !ok {
		return
	}
	similar, err := s.orch.Similar(r.Context(), req, k)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, similarResponse{Similar: similar})
}
// #endregion similar

// #region narrative
type tokenEvent struct {
	Token string `json:"token"`
}

type errorEvent struct {
	Error string `json:"error"`
}

// handleNarrative streams narrative text as token events. A provider
// failure is reported as an error event, followed by the fallback text as
// tokens and the terminal sentinel.
func (s *Server) handleNarrative(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decode(w, r)
	if !ok {
		return
	}

	var (
		sse   *eventWriter
		mode  narrative.Mode
		sent  int
		wrErr error
	)
	observe := func(snap narrative.Snapshot) {
		if sse == nil {
			sse = startEvents(w)
		}
		if wrErr != nil {
			return
		}
		if snap.State == narrative.Failed {
			wrErr = sse.data(errorEvent{Error: snap.Cause})
			return
		}
		if snap.Mode != mode {
			mode, sent = snap.Mode, 0
		}
		if len(snap.Text) > sent {
			wrErr = sse.data(tokenEvent{Token: snap.Text[sent:]})
			sent = len(snap.Text)
		}
	}

	_, err := s.orch.Narrate(r.Context(), req, observe)
	if sse == nil {
		s.writeFailure(w, err)
		return
	}
	if err != nil || wrErr != nil {
		return
	}
	if err := sse.raw(narrative.DoneSentinel); err != nil {
		s.logger.Debug("narrative stream closed early", zap.Error(err))
	}
}
// #endregion narrative

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.orch.Health(r.Context()))
}

// #region helpers
func (s *Server) decode(w http.ResponseWriter, r *http.Request) (session.IngestRequest, bool) {
	var req session.IngestRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON body: %v", err))
		return req, false
	}
	return req, true
}

// writeFailure maps ingest errors to status codes.
func (s *Server) writeFailure(w http.ResponseWriter, err error) {
	var ve *session.ValidationError
	switch {
	case err == nil:
		s.writeError(w, http.StatusInternalServerError, "no response")
	case errors.As(err, &ve):
		status := http.StatusBadRequest
		if errors.Is(err, session.ErrDuplicateSession) {
			status = http.StatusConflict
		}
		s.writeJSON(w, status, errorBody{Error: err.Error(), Field: ve.Field})
	case session.IsComputation(err):
		s.writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, ingest.ErrClosed):
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		s.logger.Error("request failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "internal error")
	}
}
// #endregion helpers
