package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type FundsStatus string

const (
	FundsPending   FundsStatus = "pending"
	FundsConfirmed FundsStatus = "confirmed"
	FundsFailed    FundsStatus = "failed"
)

// Deposit is a fiat top-up initiated through a mobile-money STK push
type Deposit struct {
	Id           string          `db:"id" json:"id"`
	UserId       string          `db:"user_id" json:"user_id"`
	Currency     Currency        `db:"currency" json:"currency"`
	Amount       decimal.Decimal `db:"amount" json:"amount"`
	Phone        string          `db:"phone" json:"phone"`
	Provider     string          `db:"provider" json:"provider"`
	ProviderTxId string          `db:"provider_tx_id" json:"provider_tx_id"`
	Status       FundsStatus     `db:"status" json:"status"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time       `db:"updated_at" json:"updated_at"`
}

// Withdrawal is a user payout. Its row commits only once the provider accepted it
type Withdrawal struct {
	Id           string          `db:"id" json:"id"`
	UserId       string          `db:"user_id" json:"user_id"`
	Currency     Currency        `db:"currency" json:"currency"`
	Amount       decimal.Decimal `db:"amount" json:"amount"`
	Destination  string          `db:"destination" json:"destination"`
	Provider     string          `db:"provider" json:"provider"`
	ProviderTxId string          `db:"provider_tx_id" json:"provider_tx_id"`
	Status       FundsStatus     `db:"status" json:"status"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
}

// Payout marks an outbound provider payment by its ledger reference, for example
// "trade:<id>:payout" or "withdrawal:<id>". It is committed as pending before the
// provider is called, so a retry can tell a payment that went out from one that never did.
type Payout struct {
	Reference    string      `db:"reference" json:"reference"`
	Provider     string      `db:"provider" json:"provider"`
	ProviderTxId string      `db:"provider_tx_id" json:"provider_tx_id"`
	Status       FundsStatus `db:"status" json:"status"`
	CreatedAt    time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time   `db:"updated_at" json:"updated_at"`
}
