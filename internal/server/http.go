package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mredag/eformLockerRoom-sub013/internal/model"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 20

// NewHTTPHandler returns an http.Handler with all routes registered.
// When authToken is non-empty, requests other than GET /v1/health,
// /metrics and the WebSocket endpoint must include a valid
// Authorization: Bearer <token> header.
func (s *Server) NewHTTPHandler(authToken string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/health", s.handleHealth)
	mux.HandleFunc("GET /v1/stats", s.handleStats)
	mux.HandleFunc("GET /v1/latency", s.handleLatency)
	mux.HandleFunc("POST /v1/events", s.handleEmitEvent)
	mux.HandleFunc("GET /v1/events", s.handleReplay)
	mux.HandleFunc("POST /v1/broadcast", s.handleBroadcast)
	mux.HandleFunc("POST /v1/commands", s.handleDispatch)
	mux.HandleFunc("POST /v1/commands/bulk", s.handleDispatchBulk)
	mux.HandleFunc("POST /v1/commands/{id}/complete", s.handleComplete)
	mux.HandleFunc("GET /v1/locks/{kiosk}/{locker}", s.handleLockInfo)
	mux.Handle("GET /ws/", s.ws)
	if s.gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return MetricsMiddleware(s.metrics, AuthMiddleware(authToken, mux))
}

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Code: code, Message: message})
}

// writeServiceError maps a component error to its HTTP status.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		ve *model.ValidationError
		ce *model.ConflictError
		re *model.RejectedError
		ue *model.UpstreamError
	)
	switch {
	case errors.As(err, &ve):
		writeError(w, http.StatusBadRequest, "invalid_argument", err.Error())
	case errors.As(err, &ce):
		writeError(w, http.StatusConflict, "conflict", err.Error())
	case errors.As(err, &re):
		writeError(w, http.StatusForbidden, "rejected", err.Error())
	case errors.As(err, &ue):
		s.logger.Error("server: upstream failure", "method", r.Method, "path", r.URL.Path, "err", err)
		writeError(w, http.StatusBadGateway, "upstream_unavailable", err.Error())
	case errors.Is(err, model.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	default:
		s.logger.Error("server: request failed", "method", r.Method, "path", r.URL.Path, "err", err)
		writeError(w, http.StatusInternalServerError, "internal", "internal server error")
	}
}

// decodeBody reads a JSON request body into v, writing a 400 on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_argument", "invalid JSON body: "+err.Error())
		return false
	}
	return true
}
