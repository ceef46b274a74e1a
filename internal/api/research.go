package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/Keyring-Network/keyring-gavryn/market-research/internal/events"
	"github.com/Keyring-Network/keyring-gavryn/market-research/internal/session"
	"github.com/Keyring-Network/keyring-gavryn/market-research/internal/store"
)

func setSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

func writeSSE(w http.ResponseWriter, event events.Event) error {
	data := event.Data
	if data == nil {
		data = map[string]any{}
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Name, payload)
	return err
}

func (s *Server) streamResearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	topic := strings.TrimSpace(query.Get("topic"))
	if topic == "" {
		writeJSONStatus(w, map[string]string{"error": "topic is required"}, http.StatusBadRequest)
		return
	}
	maxTurns := 0
	if raw := strings.TrimSpace(query.Get("max_turns")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeJSONStatus(w, map[string]string{"error": "max_turns must be an integer"}, http.StatusBadRequest)
			return
		}
		maxTurns = parsed
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	setSSEHeaders(w)

	wrote := false
	emit := func(event events.Event) error {
		if err := writeSSE(w, event); err != nil {
			return err
		}
		wrote = true
		flusher.Flush()
		return nil
	}

	err := s.research.Stream(r.Context(), session.Request{
		Topic:        topic,
		Instructions: query.Get("prompt"),
		MaxTurns:     maxTurns,
	}, emit)
	if err == nil || r.Context().Err() != nil {
		return
	}
	s.logger.Warn("research stream ended", zap.String("topic", topic), zap.Error(err))
	if !wrote {
		writeJSONStatus(w, map[string]string{"error": err.Error()}, http.StatusInternalServerError)
	}
}

type cancelRequest struct {
	SessionID string `json:"session_id"`
}

func (s *Server) cancelResearch(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONStatus(w, map[string]string{"error": "invalid request body"}, http.StatusBadRequest)
		return
	}
	if s.research.Cancel(req.SessionID) {
		writeJSON(w, map[string]string{"status": "cancelled", "session_id": req.SessionID})
		return
	}
	writeJSONStatus(w, map[string]string{"status": "not_found", "session_id": req.SessionID}, http.StatusNotFound)
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	sessions := s.research.Active()
	if sessions == nil {
		sessions = []store.Session{}
	}
	writeJSON(w, map[string]any{"sessions": sessions})
}

func (s *Server) watchSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	if _, ok := s.research.Lookup(sessionID); !ok {
		writeJSONStatus(w, map[string]string{"error": "session not found"}, http.StatusNotFound)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	setSSEHeaders(w)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	eventsChan := s.broker.Subscribe(ctx, sessionID)
	heartbeat := time.NewTicker(s.keepAlive)
	defer heartbeat.Stop()

	for {
		select {
		case event, ok := <-eventsChan:
			if !ok {
				return
			}
			if err := writeSSE(w, event); err != nil {
				return
			}
			flusher.Flush()
			if events.IsTerminal(event.Name) {
				return
			}
		case <-heartbeat.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		case <-ctx.Done():
			return
		}
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}
