package provider

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"trade-settlement-go/internal/models"

	"go.uber.org/zap"
)

const sasaPayName = "sasapay"

// SasaPay is the mobile-money gateway: STK push for deposits, B2C for payouts.
type SasaPay struct {
	cfg    models.SasaPayConfig
	client *http.Client
	now    func() time.Time

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

func NewSasaPay(cfg models.SasaPayConfig, client *http.Client) *SasaPay {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &SasaPay{cfg: cfg, client: client, now: time.Now}
}

func (s *SasaPay) Name() string { return sasaPayName }

type sasaPayToken struct {
	Status      bool   `json:"status"`
	Detail      string `json:"detail"`
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

// accessToken returns a cached bearer token, refreshing it a minute before expiry.
func (s *SasaPay) accessToken(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token != "" && s.now().Before(s.tokenExpiry) {
		return s.token, nil
	}

	var out sasaPayToken
	url := s.cfg.BaseURL + "/api/v1/auth/token/?grant_type=client_credentials"
	err := doJSON(ctx, s.client, http.MethodGet, url, nil, &out, func(req *http.Request) {
		req.SetBasicAuth(s.cfg.ClientId, s.cfg.ClientSecret)
	})
	if err != nil {
		return "", fmt.Errorf("token request: %w", err)
	}
	if !out.Status || out.AccessToken == "" {
		return "", fmt.Errorf("token request rejected: %s", out.Detail)
	}

	ttl := time.Duration(out.ExpiresIn) * time.Second
	if ttl > time.Minute {
		ttl -= time.Minute
	}
	s.token = out.AccessToken
	s.tokenExpiry = s.now().Add(ttl)
	return s.token, nil
}

func (s *SasaPay) post(ctx context.Context, path string, body any, out any) error {
	token, err := s.accessToken(ctx)
	if err != nil {
		return err
	}
	return doJSON(ctx, s.client, http.MethodPost, s.cfg.BaseURL+path, body, out, func(req *http.Request) {
		req.Header.Set("Authorization", "Bearer "+token)
	})
}

type stkPushRequest struct {
	MerchantCode     string `json:"MerchantCode"`
	NetworkCode      string `json:"NetworkCode"`
	PhoneNumber      string `json:"PhoneNumber"`
	TransactionDesc  string `json:"TransactionDesc"`
	AccountReference string `json:"AccountReference"`
	Currency         string `json:"Currency"`
	Amount           string `json:"Amount"`
	CallBackURL      string `json:"CallBackURL"`
}

type stkPushResponse struct {
	Status            bool   `json:"status"`
	Detail            string `json:"detail"`
	CheckoutRequestID string `json:"CheckoutRequestID"`
	MerchantRequestID string `json:"MerchantRequestID"`
}

// InitiateDeposit prompts the user's phone to approve the payment. The result carries
// the checkout id that the confirmation callback will quote.
func (s *SasaPay) InitiateDeposit(ctx context.Context, req DepositRequest) (*Result, error) {
	var out stkPushResponse
	err := s.post(ctx, "/api/v1/payments/request-payment/", stkPushRequest{
		MerchantCode:     s.cfg.MerchantCode,
		NetworkCode:      networkCode(req.Currency),
		PhoneNumber:      req.Phone,
		TransactionDesc:  "Wallet deposit",
		AccountReference: req.Reference,
		Currency:         string(req.Currency),
		Amount:           req.Amount.String(),
		CallBackURL:      s.cfg.CallbackURL,
	}, &out)
	if err != nil {
		return nil, err
	}

	zap.L().Info("SasaPay STK push requested",
		zap.String("reference", req.Reference),
		zap.String("checkout_request_id", out.CheckoutRequestID),
		zap.Bool("accepted", out.Status))
	if !out.Status {
		return &Result{Error: out.Detail}, nil
	}
	return &Result{Success: true, ProviderTxId: out.CheckoutRequestID}, nil
}

type b2cRequest struct {
	MerchantCode                 string `json:"MerchantCode"`
	MerchantTransactionReference string `json:"MerchantTransactionReference"`
	Currency                     string `json:"Currency"`
	Amount                       string `json:"Amount"`
	ReceiverNumber               string `json:"ReceiverNumber"`
	Channel                      string `json:"Channel"`
	Reason                       string `json:"Reason"`
	CallBackURL                  string `json:"CallBackURL"`
}

type b2cResponse struct {
	Status         bool   `json:"status"`
	Detail         string `json:"detail"`
	B2CRequestID   string `json:"B2CRequestID"`
	ConversationID string `json:"ConversationID"`
}

// InitiatePayout sends fiat to a phone number or bank account.
func (s *SasaPay) InitiatePayout(ctx context.Context, req PayoutRequest) (*Result, error) {
	var out b2cResponse
	err := s.post(ctx, "/api/v1/payments/b2c/", b2cRequest{
		MerchantCode:                 s.cfg.MerchantCode,
		MerchantTransactionReference: req.Reference,
		Currency:                     string(req.Currency),
		Amount:                       req.Amount.String(),
		ReceiverNumber:               req.Destination,
		Channel:                      payoutChannel(req.Method),
		Reason:                       "Trade settlement",
		CallBackURL:                  s.cfg.CallbackURL,
	}, &out)
	if err != nil {
		return nil, err
	}

	zap.L().Info("SasaPay payout requested",
		zap.String("reference", req.Reference),
		zap.String("b2c_request_id", out.B2CRequestID),
		zap.Bool("accepted", out.Status))
	if !out.Status {
		return &Result{Error: out.Detail}, nil
	}
	return &Result{Success: true, ProviderTxId: out.B2CRequestID}, nil
}

// networkCode picks the mobile network SasaPay routes the STK push through.
func networkCode(c models.Currency) string {
	if c == models.KES {
		return "63902" // M-Pesa
	}
	return "0"
}

func payoutChannel(method string) string {
	switch strings.ToLower(method) {
	case "", "mpesa", "mobile_money":
		return "63902"
	default:
		return method
	}
}
