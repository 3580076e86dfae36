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

	"trade-settlement-go/internal/funds"
	"trade-settlement-go/internal/models"
)

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	var req funds.WithdrawRequest
	if !decode(w, r, &req) {
		return
	}
	req.UserId = principal(r).Id

	withdrawal, err := s.funds.Withdraw(r.Context(), req)
	if err != nil {
		fail(w, r, "withdraw", err)
		return
	}
	writeJSON(w, http.StatusCreated, withdrawal)
}

func (s *Server) handleListWithdrawals(w http.ResponseWriter, r *http.Request) {
	limit, _, ok := page(w, r)
	if !ok {
		return
	}
	if limit == 0 {
		limit = defaultHistoryLimit
	}
	withdrawals, err := s.funds.ListWithdrawals(r.Context(), subject(r), limit)
	if err != nil {
		fail(w, r, "list_withdrawals", err)
		return
	}
	if withdrawals == nil {
		withdrawals = []models.Withdrawal{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"withdrawals": withdrawals})
}
