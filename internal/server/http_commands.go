package server

import (
	"net/http"

	"github.com/mredag/eformLockerRoom-sub013/internal/commands"
	"github.com/mredag/eformLockerRoom-sub013/internal/model"
)

// handleDispatch handles POST /v1/commands.
func (s *Server) handleDispatch(w http.ResponseWriter, r *http.Request) {
	var req commands.Request
	if !decodeBody(w, r, &req) {
		return
	}
	cmd, err := s.dispatcher.Dispatch(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, cmd)
}

// handleDispatchBulk handles POST /v1/commands/bulk.
func (s *Server) handleDispatchBulk(w http.ResponseWriter, r *http.Request) {
	var req commands.BulkRequest
	if !decodeBody(w, r, &req) {
		return
	}
	cmd, err := s.dispatcher.DispatchBulk(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, cmd)
}

type completeResponse struct {
	Event *model.Event `json:"event"`
}

// handleComplete handles POST /v1/commands/{id}/complete.
func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	var res commands.Result
	if !decodeBody(w, r, &res) {
		return
	}
	ev, err := s.dispatcher.Complete(r.Context(), r.PathValue("id"), res)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, completeResponse{Event: ev})
}
