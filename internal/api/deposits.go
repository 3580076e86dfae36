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
	"bytes"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"

	"trade-settlement-go/internal/funds"

	"go.uber.org/zap"
)

// CallbackSecretHeader carries the shared secret configured on the SasaPay callback URL.
const CallbackSecretHeader = "X-Callback-Secret"

func (s *Server) handleInitiateDeposit(w http.ResponseWriter, r *http.Request) {
	var req funds.DepositRequest
	if !decode(w, r, &req) {
		return
	}
	req.UserId = principal(r).Id

	deposit, err := s.funds.InitiateDeposit(r.Context(), req)
	if err != nil {
		fail(w, r, "initiate_deposit", err)
		return
	}
	writeJSON(w, http.StatusAccepted, deposit)
}

// resultCode accepts SasaPay's ResultCode as either a JSON string or number.
type resultCode string

func (c *resultCode) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*c = resultCode(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*c = resultCode(n.String())
	return nil
}

type sasaPayCallback struct {
	MerchantRequestID string     `json:"MerchantRequestID"`
	CheckoutRequestID string     `json:"CheckoutRequestID"`
	ResultCode        resultCode `json:"ResultCode"`
	ResultDesc        string     `json:"ResultDesc"`
}

// handleSasaPayCallback confirms or fails a pending deposit. Replayed callbacks are
// harmless: the deposit is only moved out of pending once.
func (s *Server) handleSasaPayCallback(w http.ResponseWriter, r *http.Request) {
	if s.callbackSecret == "" ||
		subtle.ConstantTimeCompare([]byte(r.Header.Get(CallbackSecretHeader)), []byte(s.callbackSecret)) != 1 {
		writeError(w, http.StatusUnauthorized, "invalid callback secret")
		return
	}

	var cb sasaPayCallback
	if !decode(w, r, &cb) {
		return
	}
	if cb.CheckoutRequestID == "" {
		writeError(w, http.StatusBadRequest, "CheckoutRequestID is required")
		return
	}

	success := cb.ResultCode == "0"
	deposit, err := s.funds.ConfirmDeposit(r.Context(), cb.CheckoutRequestID, success)
	if err != nil {
		fail(w, r, "sasapay_callback", err)
		return
	}
	zap.L().Info("Processed SasaPay callback",
		zap.String("checkout_request_id", cb.CheckoutRequestID),
		zap.String("result_code", string(cb.ResultCode)),
		zap.String("result_desc", cb.ResultDesc),
		zap.String("deposit_status", string(deposit.Status)))
	writeJSON(w, http.StatusOK, map[string]string{"status": string(deposit.Status)})
}
