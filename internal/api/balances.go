/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package api

import (
	"net/http"

	"trade-settlement-go/internal/models"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const defaultHistoryLimit = 20

// subject resolves whose funds a request is about. Admins may name any user with
// ?user_id=, everybody else only sees their own.
func subject(r *http.Request) string {
	p := principal(r)
	if p.IsAdmin() {
		if id := r.URL.Query().Get("user_id"); id != "" {
			return id
		}
	}
	return p.Id
}

// handleBalances returns all balances for the caller
func (s *Server) handleBalances(w http.ResponseWriter, r *http.Request) {
	userId := subject(r)
	balances, err := s.funds.Balances(r.Context(), userId)
	if err != nil {
		zap.L().Error("Failed to get user balances", zap.String("user_id", userId), zap.Error(err))
		fail(w, r, "balances", err)
		return
	}
	if balances == nil {
		balances = []models.Balance{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"user_id": userId, "balances": balances})
}

// handleLedgerEntries returns paginated ledger history for one currency
func (s *Server) handleLedgerEntries(w http.ResponseWriter, r *http.Request) {
	currency, err := models.ParseCurrency(chi.URLParam(r, "currency"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, offset, ok := page(w, r)
	if !ok {
		return
	}
	if limit == 0 {
		limit = defaultHistoryLimit
	}

	userId := subject(r)
	entries, err := s.store.GetLedgerEntries(r.Context(), userId, currency, limit, offset)
	if err != nil {
		zap.L().Error("Failed to get ledger history",
			zap.String("user_id", userId),
			zap.String("currency", string(currency)),
			zap.Error(err))
		fail(w, r, "ledger_entries", err)
		return
	}
	if entries == nil {
		entries = []models.LedgerEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}
