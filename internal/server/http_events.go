package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mredag/eformLockerRoom-sub013/internal/events"
	"github.com/mredag/eformLockerRoom-sub013/internal/eventstore"
	"github.com/mredag/eformLockerRoom-sub013/internal/model"
)

type emitRequest struct {
	Type       model.EventType `json:"type"`
	Data       json.RawMessage `json:"data"`
	Namespace  string          `json:"namespace,omitempty"`
	Room       string          `json:"room,omitempty"`
	TTLSeconds int             `json:"ttl_seconds,omitempty"`
}

// handleEmitEvent handles POST /v1/events.
func (s *Server) handleEmitEvent(w http.ResponseWriter, r *http.Request) {
	var req emitRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.TTLSeconds < 0 {
		writeError(w, http.StatusBadRequest, "invalid_argument", "ttl_seconds must not be negative")
		return
	}
	ev, err := events.NewEvent(req.Type, req.Data, req.Namespace, req.Room)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if err := s.engine.EmitTTL(r.Context(), ev, time.Duration(req.TTLSeconds)*time.Second); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ev)
}

// handleReplay handles GET /v1/events. Query parameters: namespace, room,
// type (repeatable), since (RFC 3339), limit, include_expired.
func (s *Server) handleReplay(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := eventstore.Query{
		Namespace: q.Get("namespace"),
		Room:      q.Get("room"),
	}
	for _, t := range q["type"] {
		for _, part := range strings.Split(t, ",") {
			if part = strings.TrimSpace(part); part != "" {
				query.EventTypes = append(query.EventTypes, model.EventType(part))
			}
		}
	}
	if v := q.Get("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_argument", "since must be an RFC 3339 timestamp")
			return
		}
		query.Since = since
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid_argument", "limit must be a non-negative integer")
			return
		}
		query.Limit = n
	}
	if v := q.Get("include_expired"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_argument", "include_expired must be a boolean")
			return
		}
		query.IncludeExpired = b
	}

	evs := s.store.Replay(query)
	if evs == nil {
		evs = []*model.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": evs, "total": len(evs)})
}

type broadcastRequest struct {
	Namespace string `json:"namespace"`
	Room      string `json:"room,omitempty"`
	Type      string `json:"type"`
	Data      any    `json:"data,omitempty"`
}

// handleBroadcast handles POST /v1/broadcast. The frame is not persisted.
func (s *Server) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	var req broadcastRequest
	if !decodeBody(w, r, &req) {
		return
	}
	n, err := s.engine.BroadcastToRoom(req.Namespace, req.Room, req.Type, req.Data)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"delivered": n})
}
