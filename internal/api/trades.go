package api

import (
	"errors"
	"net/http"
	"strconv"

	"trade-settlement-go/internal/models"
	"trade-settlement-go/internal/settlement"
	"trade-settlement-go/internal/store"

	"github.com/go-chi/chi/v5"
)

const maxPageSize = 200

func (s *Server) handleCreateTrade(w http.ResponseWriter, r *http.Request) {
	var req settlement.CreateTradeRequest
	if !decode(w, r, &req) {
		return
	}
	req.UserId = principal(r).Id

	result, err := s.engine.CreateTrade(r.Context(), req)
	if err != nil {
		fail(w, r, "create_trade", err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (s *Server) handleListTrades(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, offset, ok := page(w, r)
	if !ok {
		return
	}
	filter := models.TradeFilter{
		UserId:  q.Get("user_id"),
		AdminId: q.Get("admin_id"),
		Status:  models.TradeStatus(q.Get("status")),
		Limit:   limit,
		Offset:  offset,
	}

	trades, err := s.engine.ListTrades(r.Context(), principal(r), filter)
	if err != nil {
		fail(w, r, "list_trades", err)
		return
	}
	if trades == nil {
		trades = []models.Trade{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"trades": trades})
}

func (s *Server) handleGetTrade(w http.ResponseWriter, r *http.Request) {
	trade, err := s.engine.GetTrade(r.Context(), principal(r), chi.URLParam(r, "tradeId"))
	if err != nil {
		fail(w, r, "get_trade", err)
		return
	}
	writeJSON(w, http.StatusOK, trade)
}

type proofRequest struct {
	Proof string `json:"proof"`
}

func (s *Server) handleUploadProof(w http.ResponseWriter, r *http.Request) {
	var req proofRequest
	if !decode(w, r, &req) {
		return
	}
	result, err := s.engine.UploadProof(r.Context(), chi.URLParam(r, "tradeId"), principal(r).Id, req.Proof)
	if err != nil {
		fail(w, r, "upload_proof", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleCancelTrade(w http.ResponseWriter, r *http.Request) {
	result, err := s.engine.CancelTrade(r.Context(), chi.URLParam(r, "tradeId"), principal(r).Id)
	if err != nil {
		fail(w, r, "cancel_trade", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type settleResponse struct {
	*models.TradeResult
	AlreadySettled bool `json:"already_settled,omitempty"`
}

func (s *Server) handleSettle(w http.ResponseWriter, r *http.Request) {
	var req settlement.SettleRequest
	if !decode(w, r, &req) {
		return
	}
	req.TradeId = chi.URLParam(r, "tradeId")
	req.AdminId = principal(r).Id

	result, err := s.engine.Settle(r.Context(), req)
	if errors.Is(err, store.ErrAlreadySettled) && result != nil {
		writeJSON(w, http.StatusOK, settleResponse{TradeResult: result, AlreadySettled: true})
		return
	}
	if err != nil {
		fail(w, r, "settle", err)
		return
	}
	writeJSON(w, http.StatusOK, settleResponse{TradeResult: result})
}

type resolveResponse struct {
	Result         *models.TradeResult `json:"result"`
	Dispute        *models.Dispute     `json:"dispute"`
	AlreadySettled bool                `json:"already_settled,omitempty"`
}

func (s *Server) handleResolveDispute(w http.ResponseWriter, r *http.Request) {
	var req settlement.ResolveDisputeRequest
	if !decode(w, r, &req) {
		return
	}
	req.TradeId = chi.URLParam(r, "tradeId")
	req.AdminId = principal(r).Id

	result, dispute, err := s.engine.ResolveDispute(r.Context(), req)
	if errors.Is(err, store.ErrAlreadySettled) && result != nil {
		writeJSON(w, http.StatusOK, resolveResponse{Result: result, Dispute: dispute, AlreadySettled: true})
		return
	}
	if err != nil {
		fail(w, r, "resolve_dispute", err)
		return
	}
	writeJSON(w, http.StatusOK, resolveResponse{Result: result, Dispute: dispute})
}

// page reads limit and offset query parameters.
func page(w http.ResponseWriter, r *http.Request) (limit, offset int, ok bool) {
	q := r.URL.Query()
	var err error
	if v := q.Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return 0, 0, false
		}
	}
	if v := q.Get("offset"); v != "" {
		if offset, err = strconv.Atoi(v); err != nil || offset < 0 {
			writeError(w, http.StatusBadRequest, "offset must be a non-negative integer")
			return 0, 0, false
		}
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	return limit, offset, true
}
