package provider

import (
	"context"
	"fmt"

	"trade-settlement-go/internal/metrics"
	"trade-settlement-go/internal/models"

	"github.com/shopspring/decimal"
)

// Result is what every provider call reports back
type Result struct {
	Success      bool
	ProviderTxId string
	Error        string
}

// DepositRequest asks the fiat provider to pull funds from the user (STK push)
type DepositRequest struct {
	Reference string
	UserId    string
	Currency  models.Currency
	Amount    decimal.Decimal
	Phone     string
}

// PayoutRequest pays fiat out to the user's bank or mobile wallet
type PayoutRequest struct {
	Reference   string
	UserId      string
	Currency    models.Currency
	Amount      decimal.Decimal
	Method      string
	Destination string // phone number or opaque bank details
}

// CryptoSendRequest sends crypto from platform custody to an external address
type CryptoSendRequest struct {
	Reference string
	Currency  models.Currency
	Amount    decimal.Decimal
	Address   string
	Network   string
}

// FiatGateway is implemented by mobile-money and bank providers
type FiatGateway interface {
	Name() string
	InitiateDeposit(ctx context.Context, req DepositRequest) (*Result, error)
	InitiatePayout(ctx context.Context, req PayoutRequest) (*Result, error)
}

// CryptoGateway is implemented by custody providers
type CryptoGateway interface {
	Name() string
	SendCrypto(ctx context.Context, req CryptoSendRequest) (*Result, error)
}

// Failure converts a call outcome into an error; a nil error means the provider accepted it.
func Failure(name, op string, res *Result, err error) error {
	outcome := "success"
	defer func() { metrics.ProviderCalls.WithLabelValues(name, op, outcome).Inc() }()

	if err != nil {
		outcome = "error"
		return fmt.Errorf("%s %s: %w", name, op, err)
	}
	if res == nil || !res.Success {
		outcome = "rejected"
		reason := "no result"
		if res != nil && res.Error != "" {
			reason = res.Error
		}
		return fmt.Errorf("%s %s rejected: %s", name, op, reason)
	}
	return nil
}

// Disabled rejects every call. It stands in when a provider is not configured.
type Disabled struct{}

func (Disabled) Name() string { return "disabled" }

func (Disabled) InitiateDeposit(context.Context, DepositRequest) (*Result, error) {
	return &Result{Error: "fiat provider not configured"}, nil
}

func (Disabled) InitiatePayout(context.Context, PayoutRequest) (*Result, error) {
	return &Result{Error: "fiat provider not configured"}, nil
}

func (Disabled) SendCrypto(context.Context, CryptoSendRequest) (*Result, error) {
	return &Result{Error: "crypto provider not configured"}, nil
}
