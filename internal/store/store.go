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

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"trade-settlement-go/internal/models"

	"github.com/shopspring/decimal"
)

// Sentinel errors shared across the settlement core. Callers match them with errors.Is.
var (
	ErrNotFound               = errors.New("not found")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrInsufficientFunds      = errors.New("insufficient funds")
	ErrConcurrentModification = errors.New("concurrent modification detected")
	ErrProviderFailure        = errors.New("provider failure")
	ErrRateLimited            = errors.New("rate limited")
	ErrDuplicateTransaction   = errors.New("duplicate transaction")
	ErrForbidden              = errors.New("forbidden")
	ErrInvalidArgument        = errors.New("invalid argument")

	// ErrAlreadySettled is returned when a trade is settled again with the decision it
	// already carries. It matches ErrInvalidStateTransition.
	ErrAlreadySettled = fmt.Errorf("%w: trade already settled", ErrInvalidStateTransition)
)

// MovementParams describes a single credit or debit against a (user, currency) balance.
type MovementParams struct {
	UserId   string
	Currency models.Currency
	Amount   decimal.Decimal // always positive; direction comes from Credit or Debit
	// ExpectedVersion, when set, makes the movement fail with
	// ErrConcurrentModification unless the row is still at that version.
	ExpectedVersion *int64
	// Reference makes the movement idempotent per (user, currency).
	Reference    string
	Counterparty string
}

// BalanceKey identifies a ledger row for lock ordering.
type BalanceKey struct {
	UserId   string
	Currency models.Currency
}

// Ledger is the balance API. Every mutation increments the row version.
type Ledger interface {
	GetBalance(ctx context.Context, userId string, currency models.Currency) (decimal.Decimal, error)
	// GetBalanceEntry returns a zero balance at version 0 when the row does not exist yet.
	GetBalanceEntry(ctx context.Context, userId string, currency models.Currency) (*models.Balance, error)
	GetBalances(ctx context.Context, userId string) ([]models.Balance, error)
	Credit(ctx context.Context, params MovementParams) (int64, error)
	Debit(ctx context.Context, params MovementParams) (int64, error)
	// LockBalances row-locks the given balances in sorted order, creating missing rows.
	LockBalances(ctx context.Context, keys []BalanceKey) error
}

type TradeRepository interface {
	InsertTrade(ctx context.Context, trade *models.Trade) error
	GetTrade(ctx context.Context, tradeId string) (*models.Trade, error)
	// LockTrade reads a trade and holds its row lock until the transaction ends.
	LockTrade(ctx context.Context, tradeId string) (*models.Trade, error)
	// UpdateTrade persists trade, failing with ErrConcurrentModification unless
	// the stored status still equals from.
	UpdateTrade(ctx context.Context, trade *models.Trade, from models.TradeStatus) error
	ListTrades(ctx context.Context, filter models.TradeFilter) ([]models.Trade, error)
	ListUnassignedTrades(ctx context.Context, limit int) ([]models.Trade, error)
}

type ChatRepository interface {
	// AppendMessage assigns the next sequence number and a strictly increasing
	// timestamp to msg and stores it.
	AppendMessage(ctx context.Context, msg *models.ChatMessage) error
	ListMessages(ctx context.Context, tradeId string, afterSeq int64, limit int) ([]models.ChatMessage, error)
}

type DisputeRepository interface {
	InsertDispute(ctx context.Context, dispute *models.Dispute) error
	GetOpenDispute(ctx context.Context, tradeId string) (*models.Dispute, error)
	GetLatestDispute(ctx context.Context, tradeId string) (*models.Dispute, error)
	CountDisputesSince(ctx context.Context, userId string, since time.Time) (int, error)
	ResolveDispute(ctx context.Context, dispute *models.Dispute) error
}

type AdminRepository interface {
	UpsertAdmin(ctx context.Context, admin *models.Admin) error
	GetAdmin(ctx context.Context, adminId string) (*models.Admin, error)
	ListAdmins(ctx context.Context, onlineOnly bool) ([]models.Admin, error)
	// AdjustAdminLoad adds delta to current_load, never going below zero.
	AdjustAdminLoad(ctx context.Context, adminId string, delta int) error
	Heartbeat(ctx context.Context, adminId string, online bool, at time.Time) error
	MarkStaleAdminsOffline(ctx context.Context, before time.Time) (int64, error)
}

type FundsRepository interface {
	InsertDeposit(ctx context.Context, deposit *models.Deposit) error
	LockDepositByProviderTx(ctx context.Context, providerTxId string) (*models.Deposit, error)
	UpdateDepositStatus(ctx context.Context, depositId string, from, to models.FundsStatus, at time.Time) error
	InsertWithdrawal(ctx context.Context, withdrawal *models.Withdrawal) error
	// ConfirmWithdrawal moves a pending withdrawal to confirmed with the provider's id.
	ConfirmWithdrawal(ctx context.Context, withdrawalId, providerTxId string) error
	GetPayout(ctx context.Context, reference string) (*models.Payout, error)
	SavePayout(ctx context.Context, payout *models.Payout) error
	ListWithdrawals(ctx context.Context, userId string, limit int) ([]models.Withdrawal, error)
}

// Tx is the full repository surface bound to one database transaction.
type Tx interface {
	Ledger
	TradeRepository
	ChatRepository
	DisputeRepository
	AdminRepository
	FundsRepository
}

// Store is the injected persistence handle. Outside WithTx every call runs in its own
// transaction; inside WithTx all calls share fn's transaction, which is rolled back
// when fn returns an error.
type Store interface {
	Tx
	WithTx(ctx context.Context, fn func(tx Tx) error) error
	GetLedgerEntries(ctx context.Context, userId string, currency models.Currency, limit, offset int) ([]models.LedgerEntry, error)
	ListAllBalances(ctx context.Context) ([]models.Balance, error)
	ReconcileBalance(ctx context.Context, userId string, currency models.Currency) (*models.Reconciliation, error)
	Ping(ctx context.Context) error
	Close()
}
