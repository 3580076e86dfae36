package api

import (
	"net/http"
	"strconv"

	"trade-settlement-go/internal/chat"
	"trade-settlement-go/internal/models"

	"github.com/go-chi/chi/v5"
)

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	var afterSeq int64
	if v := r.URL.Query().Get("after_seq"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "after_seq must be a non-negative integer")
			return
		}
		afterSeq = n
	}
	limit, _, ok := page(w, r)
	if !ok {
		return
	}

	msgs, err := s.chat.History(r.Context(), principal(r), chi.URLParam(r, "tradeId"), afterSeq, limit)
	if err != nil {
		fail(w, r, "chat_history", err)
		return
	}
	if msgs == nil {
		msgs = []models.ChatMessage{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

func (s *Server) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	var req chat.PostMessageRequest
	if !decode(w, r, &req) {
		return
	}
	req.TradeId = chi.URLParam(r, "tradeId")
	req.Sender = principal(r)

	msg, err := s.chat.PostMessage(r.Context(), req)
	if err != nil {
		fail(w, r, "post_message", err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (s *Server) handleRaiseDispute(w http.ResponseWriter, r *http.Request) {
	var req chat.RaiseDisputeRequest
	if !decode(w, r, &req) {
		return
	}
	req.TradeId = chi.URLParam(r, "tradeId")
	req.UserId = principal(r).Id

	dispute, err := s.chat.RaiseDispute(r.Context(), req)
	if err != nil {
		fail(w, r, "raise_dispute", err)
		return
	}
	writeJSON(w, http.StatusCreated, dispute)
}
