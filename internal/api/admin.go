package api

import (
	"net/http"
	"time"
)

type heartbeatRequest struct {
	Online *bool `json:"online"`
}

// handleHeartbeat refreshes the calling admin's presence. An empty body means online.
func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var req heartbeatRequest
	if r.ContentLength != 0 && !decode(w, r, &req) {
		return
	}
	online := req.Online == nil || *req.Online

	if err := s.store.Heartbeat(r.Context(), principal(r).Id, online, time.Now().UTC()); err != nil {
		fail(w, r, "heartbeat", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"online": online})
}

func (s *Server) handleAssignPending(w http.ResponseWriter, r *http.Request) {
	limit, _, ok := page(w, r)
	if !ok {
		return
	}
	if limit == 0 {
		limit = maxPageSize
	}
	assigned, waiting, err := s.engine.AssignPending(r.Context(), limit)
	if err != nil {
		fail(w, r, "assign_pending", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"assigned": assigned, "waiting": waiting})
}
