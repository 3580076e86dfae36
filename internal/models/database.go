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

package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// EscrowAccount is the system ledger account that holds crypto locked by open sell trades.
const EscrowAccount = "platform:escrow"

// Balance is the current state of one (user, currency) ledger row
type Balance struct {
	UserId    string          `db:"user_id" json:"user_id"`
	Currency  Currency        `db:"currency" json:"currency"`
	Amount    decimal.Decimal `db:"amount" json:"amount"`
	Version   int64           `db:"version" json:"version"`
	UpdatedAt time.Time       `db:"updated_at" json:"updated_at"`
}

type EntryType string

const (
	EntryCredit EntryType = "credit"
	EntryDebit  EntryType = "debit"
)

// LedgerEntry is the immutable audit record of a single balance movement
type LedgerEntry struct {
	Id            string          `db:"id" json:"id"`
	UserId        string          `db:"user_id" json:"user_id"`
	Currency      Currency        `db:"currency" json:"currency"`
	EntryType     EntryType       `db:"entry_type" json:"entry_type"`
	Amount        decimal.Decimal `db:"amount" json:"amount"` // signed: negative for debits
	BalanceBefore decimal.Decimal `db:"balance_before" json:"balance_before"`
	BalanceAfter  decimal.Decimal `db:"balance_after" json:"balance_after"`
	Version       int64           `db:"version" json:"version"`
	Reference     string          `db:"reference" json:"reference,omitempty"`
	Counterparty  string          `db:"counterparty" json:"counterparty,omitempty"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
}

// Reconciliation compares a stored balance against the sum of its ledger entries
type Reconciliation struct {
	UserId     string
	Currency   Currency
	Stored     decimal.Decimal
	Calculated decimal.Decimal
	Matched    bool
}
