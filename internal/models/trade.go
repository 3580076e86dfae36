package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type TradeType string

const (
	TradeBuy  TradeType = "buy"
	TradeSell TradeType = "sell"
)

type TradeStatus string

const (
	TradePending              TradeStatus = "pending"
	TradeAwaitingVerification TradeStatus = "awaiting_verification"
	TradeCompleted            TradeStatus = "completed"
	TradeRejected             TradeStatus = "rejected"
	TradeDisputed             TradeStatus = "disputed"
	TradeCancelled            TradeStatus = "cancelled"
)

// IsTerminal reports whether no further transition is allowed.
func (s TradeStatus) IsTerminal() bool {
	return s == TradeCompleted || s == TradeRejected || s == TradeCancelled
}

// IsOpen reports whether the trade can still be settled, cancelled or disputed.
func (s TradeStatus) IsOpen() bool {
	return s == TradePending || s == TradeAwaitingVerification
}

type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

func (d Decision) Valid() bool {
	return d == DecisionApprove || d == DecisionReject
}

// Outcome is the terminal status a decision leads to.
func (d Decision) Outcome() TradeStatus {
	if d == DecisionApprove {
		return TradeCompleted
	}
	return TradeRejected
}

// Trade is a single buy or sell order settled by an admin
type Trade struct {
	Id              string          `db:"id" json:"id"`
	UserId          string          `db:"user_id" json:"user_id"`
	Type            TradeType       `db:"type" json:"type"`
	Crypto          Currency        `db:"crypto" json:"crypto"`
	CryptoAmount    decimal.Decimal `db:"crypto_amount" json:"crypto_amount"`
	FiatAmount      decimal.Decimal `db:"fiat_amount" json:"fiat_amount"`
	FiatCurrency    Currency        `db:"fiat_currency" json:"fiat_currency"`
	Country         string          `db:"country" json:"country"`
	PaymentMethod   string          `db:"payment_method" json:"payment_method"`
	BankDetails     string          `db:"bank_details" json:"bank_details,omitempty"`
	PaymentProof    string          `db:"payment_proof" json:"payment_proof,omitempty"`
	AssignedAdminId string          `db:"assigned_admin_id" json:"assigned_admin_id,omitempty"`
	Status          TradeStatus     `db:"status" json:"status"`
	DecisionReason  string          `db:"decision_reason" json:"decision_reason,omitempty"`
	SettledBy       string          `db:"settled_by" json:"settled_by,omitempty"`
	ProviderTxId    string          `db:"provider_tx_id" json:"provider_tx_id,omitempty"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at" json:"updated_at"`
	SettledAt       *time.Time      `db:"settled_at" json:"settled_at,omitempty"`
}

// TradeResult is returned by every settlement operation
type TradeResult struct {
	Trade    *Trade       `json:"trade"`
	Decision Decision     `json:"decision,omitempty"`
	Balances []Balance    `json:"balances,omitempty"`
	Message  *ChatMessage `json:"message,omitempty"`
}

// TradeFilter narrows trade listings; empty fields match everything
type TradeFilter struct {
	UserId  string
	AdminId string
	Status  TradeStatus
	Limit   int
	Offset  int
}
