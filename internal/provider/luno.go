package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"
)

const (
	lunoName    = "luno"
	lunoBaseURL = "https://api.luno.com"
)

// Luno sends crypto from the platform's exchange account.
type Luno struct {
	baseURL   string
	keyId     string
	keySecret string
	client    *http.Client
}

func NewLuno(baseURL, keyId, keySecret string, client *http.Client) *Luno {
	if baseURL == "" {
		baseURL = lunoBaseURL
	}
	return &Luno{
		baseURL:   strings.TrimRight(baseURL, "/"),
		keyId:     keyId,
		keySecret: keySecret,
		client:    client,
	}
}

func (l *Luno) Name() string { return lunoName }

type lunoSendResponse struct {
	Success      bool   `json:"success"`
	WithdrawalId string `json:"withdrawal_id"`
	ErrorCode    string `json:"error_code"`
	Error        string `json:"error"`
}

// SendCrypto posts a send. The reference doubles as Luno's external id so a retried
// request is not paid twice.
func (l *Luno) SendCrypto(ctx context.Context, req CryptoSendRequest) (*Result, error) {
	form := url.Values{}
	form.Set("amount", req.Amount.String())
	form.Set("currency", lunoCurrency(string(req.Currency)))
	form.Set("address", req.Address)
	form.Set("description", req.Reference)
	form.Set("external_id", req.Reference)
	if req.Network != "" {
		form.Set("network", req.Network)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, l.baseURL+"/api/1/send", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.SetBasicAuth(l.keyId, l.keySecret)

	var out lunoSendResponse
	if err := send(l.client, httpReq, &out); err != nil {
		return nil, err
	}

	zap.L().Info("Luno send requested",
		zap.String("reference", req.Reference),
		zap.String("currency", string(req.Currency)),
		zap.String("withdrawal_id", out.WithdrawalId),
		zap.Bool("accepted", out.Success))
	if !out.Success {
		reason := out.Error
		if out.ErrorCode != "" {
			reason = out.ErrorCode + ": " + reason
		}
		return &Result{Error: reason}, nil
	}
	return &Result{Success: true, ProviderTxId: out.WithdrawalId}, nil
}

// lunoCurrency maps our symbols to Luno's, which lists bitcoin as XBT.
func lunoCurrency(symbol string) string {
	if symbol == "BTC" {
		return "XBT"
	}
	return symbol
}
