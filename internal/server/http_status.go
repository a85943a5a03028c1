package server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/mredag/eformLockerRoom-sub013/internal/broadcast"
	"github.com/mredag/eformLockerRoom-sub013/internal/eventstore"
	"github.com/mredag/eformLockerRoom-sub013/internal/model"
)

const healthCheckTimeout = 2 * time.Second

type healthResponse struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components,omitempty"`
}

// handleHealth handles GET /v1/health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok"}
	if len(s.checks) > 0 {
		resp.Components = make(map[string]string, len(s.checks))
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()
		for name, p := range s.checks {
			if err := p.Ping(ctx); err != nil {
				s.logger.Warn("server: health check failed", "component", name, "err", err)
				resp.Components[name] = "unavailable"
				resp.Status = "degraded"
				continue
			}
			resp.Components[name] = "ok"
		}
	}
	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

type statsResponse struct {
	Engine           broadcast.Statistics  `json:"engine"`
	Events           eventstore.Statistics `json:"events"`
	CommandsInFlight int                   `json:"commands_in_flight"`
}

// handleStats handles GET /v1/stats.
func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, statsResponse{
		Engine:           s.engine.Statistics(),
		Events:           s.store.Statistics(),
		CommandsInFlight: s.dispatcher.InFlight(),
	})
}

// handleLatency handles GET /v1/latency.
func (s *Server) handleLatency(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.LatencyMetrics())
}

type lockResponse struct {
	Key        string     `json:"key"`
	Locked     bool       `json:"locked"`
	AcquiredAt *time.Time `json:"acquired_at,omitempty"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
}

// handleLockInfo handles GET /v1/locks/{kiosk}/{locker}.
func (s *Server) handleLockInfo(w http.ResponseWriter, r *http.Request) {
	lockerID, err := strconv.Atoi(r.PathValue("locker"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_argument", "locker must be an integer")
		return
	}
	key := model.ResourceKey(r.PathValue("kiosk"), lockerID)
	resp := lockResponse{Key: key}
	if acquired, expires, ok := s.gate.LockInfo(key); ok {
		resp.Locked = true
		resp.AcquiredAt = &acquired
		resp.ExpiresAt = &expires
	}
	writeJSON(w, http.StatusOK, resp)
}
