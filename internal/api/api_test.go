package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"trade-settlement-go/internal/auth"
	"trade-settlement-go/internal/chat"
	"trade-settlement-go/internal/database"
	"trade-settlement-go/internal/funds"
	"trade-settlement-go/internal/models"
	"trade-settlement-go/internal/provider"
	"trade-settlement-go/internal/ratelimit"
	"trade-settlement-go/internal/settlement"
	"trade-settlement-go/internal/store"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type fakeGateway struct{}

func (fakeGateway) Name() string { return "fake" }

func (fakeGateway) InitiateDeposit(context.Context, provider.DepositRequest) (*provider.Result, error) {
	return &provider.Result{Success: true, ProviderTxId: "checkout-1"}, nil
}

func (fakeGateway) InitiatePayout(_ context.Context, req provider.PayoutRequest) (*provider.Result, error) {
	return &provider.Result{Success: true, ProviderTxId: "b2c-" + req.Reference}, nil
}

func (fakeGateway) SendCrypto(_ context.Context, req provider.CryptoSendRequest) (*provider.Result, error) {
	return &provider.Result{Success: true, ProviderTxId: "send-" + req.Reference}, nil
}

type fixture struct {
	server   *httptest.Server
	store    *database.Service
	verifier *auth.Verifier
	ctx      context.Context
}

func setup(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	db, err := database.NewService(ctx, database.MemoryConfig())
	require.NoError(t, err)
	t.Cleanup(db.Close)

	verifier, err := auth.NewVerifier(testSecret, "test")
	require.NoError(t, err)

	limiter := ratelimit.NewMemoryLimiter(2, time.Minute)
	t.Cleanup(limiter.Close)

	s := NewServer(Deps{
		Store:       db,
		Engine:      settlement.NewEngine(db, models.SettlementConfig{}, models.AssignmentConfig{}),
		Chat:        chat.NewCoordinator(db, models.DisputeConfig{Limit: 3, Window: time.Hour}),
		Funds:       funds.NewService(db, fakeGateway{}, fakeGateway{}),
		Tokens:      verifier,
		ChatLimiter: limiter,
	}, models.ServerConfig{CallbackSecret: "s3cret", RequestTimeout: 5 * time.Second})

	srv := httptest.NewServer(s.Routes())
	t.Cleanup(srv.Close)

	require.NoError(t, db.UpsertAdmin(ctx, &models.Admin{Id: "A", Name: "Admin A", Region: "KE", Rating: 4.5, IsOnline: true}))
	return &fixture{server: srv, store: db, verifier: verifier, ctx: ctx}
}

func (f *fixture) token(t *testing.T, id string, role models.Role) string {
	t.Helper()
	tok, err := f.verifier.Issue(models.Principal{Id: id, Role: role}, time.Hour)
	require.NoError(t, err)
	return tok
}

func (f *fixture) fund(t *testing.T, userId string, currency models.Currency, amount string) {
	t.Helper()
	_, err := f.store.Credit(f.ctx, store.MovementParams{
		UserId: userId, Currency: currency, Amount: decimal.RequireFromString(amount), Reference: "seed:" + userId,
	})
	require.NoError(t, err)
}

// do sends body as JSON and decodes the JSON reply into out when given.
func (f *fixture) do(t *testing.T, method, path, token string, body any, out any) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, f.server.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func sellBody() map[string]any {
	return map[string]any{
		"type":           "sell",
		"crypto":         "ETH",
		"crypto_amount":  "0.5",
		"fiat_amount":    "150000",
		"country":        "KE",
		"payment_method": "mpesa",
		"bank_details":   "254700000000",
	}
}

func TestHealth(t *testing.T) {
	f := setup(t)
	var body map[string]string
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/health", "", nil, &body))
	assert.Equal(t, "healthy", body["status"])
}

func TestAuthRequired(t *testing.T) {
	f := setup(t)
	assert.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodGet, "/trades", "", nil, nil))
	assert.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodGet, "/trades", "not-a-jwt", nil, nil))

	user := f.token(t, "user1", models.RoleUser)
	assert.Equal(t, http.StatusForbidden, f.do(t, http.MethodPost, "/admin/heartbeat", user, nil, nil))
}

func TestTradeLifecycle(t *testing.T) {
	f := setup(t)
	f.fund(t, "user1", models.ETH, "2")
	user := f.token(t, "user1", models.RoleUser)
	other := f.token(t, "user2", models.RoleUser)
	admin := f.token(t, "A", models.RoleAdmin)

	var created models.TradeResult
	require.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, "/trades", user, sellBody(), &created))
	tradeId := created.Trade.Id
	assert.Equal(t, models.TradePending, created.Trade.Status)

	assert.Equal(t, http.StatusForbidden, f.do(t, http.MethodGet, "/trades/"+tradeId, other, nil, nil))
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/trades/missing", user, nil, nil))

	var proofed models.TradeResult
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/trades/"+tradeId+"/proof", user,
		map[string]string{"proof": "https://example.com/receipt.png"}, &proofed))
	assert.Equal(t, models.TradeAwaitingVerification, proofed.Trade.Status)

	decision := map[string]string{"decision": "approve", "reason": "funds received"}
	assert.Equal(t, http.StatusForbidden, f.do(t, http.MethodPost, "/trades/"+tradeId+"/settle", user, decision, nil))

	var settled map[string]any
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/trades/"+tradeId+"/settle", admin, decision, &settled))
	assert.Nil(t, settled["already_settled"])

	var again map[string]any
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/trades/"+tradeId+"/settle", admin, decision, &again))
	assert.Equal(t, true, again["already_settled"])

	assert.Equal(t, http.StatusConflict, f.do(t, http.MethodPost, "/trades/"+tradeId+"/settle", admin,
		map[string]string{"decision": "reject", "reason": "changed my mind"}, nil))

	var listed struct {
		Trades []models.Trade `json:"trades"`
	}
	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/trades?status=completed", user, nil, &listed))
	require.Len(t, listed.Trades, 1)
	assert.Equal(t, tradeId, listed.Trades[0].Id)

	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/trades", other, nil, &listed))
	assert.Empty(t, listed.Trades)
}

func TestCreateTrade_InsufficientFunds(t *testing.T) {
	f := setup(t)
	user := f.token(t, "user1", models.RoleUser)
	assert.Equal(t, http.StatusUnprocessableEntity, f.do(t, http.MethodPost, "/trades", user, sellBody(), nil))
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/trades", user, map[string]any{"type": "swap"}, nil))
}

func TestChatAndDispute(t *testing.T) {
	f := setup(t)
	f.fund(t, "user1", models.ETH, "1")
	user := f.token(t, "user1", models.RoleUser)
	admin := f.token(t, "A", models.RoleAdmin)

	var created models.TradeResult
	require.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, "/trades", user, sellBody(), &created))
	base := "/trades/" + created.Trade.Id

	for i := 0; i < 2; i++ {
		assert.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, base+"/messages", user,
			map[string]string{"message": fmt.Sprintf("hello %d", i)}, nil))
	}
	assert.Equal(t, http.StatusTooManyRequests, f.do(t, http.MethodPost, base+"/messages", user,
		map[string]string{"message": "one too many"}, nil))

	var history struct {
		Messages []models.ChatMessage `json:"messages"`
	}
	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, base+"/messages", admin, nil, &history))
	require.NotEmpty(t, history.Messages)
	last := history.Messages[len(history.Messages)-1]
	assert.Equal(t, "hello 1", last.Message)

	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, fmt.Sprintf("%s/messages?after_seq=%d", base, last.Seq), user, nil, &history))
	assert.Empty(t, history.Messages)

	var dispute models.Dispute
	require.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, base+"/dispute", user,
		map[string]string{"reason": "admin is not responding"}, &dispute))
	assert.Equal(t, models.DisputeOpen, dispute.Status)

	assert.Equal(t, http.StatusConflict, f.do(t, http.MethodPost, base+"/cancel", user, nil, nil))

	var resolved struct {
		Result  models.TradeResult `json:"result"`
		Dispute models.Dispute     `json:"dispute"`
	}
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, base+"/dispute/resolve", admin,
		map[string]string{"decision": "reject", "reason": "no payment seen"}, &resolved))
	assert.Equal(t, models.TradeRejected, resolved.Result.Trade.Status)
	assert.Equal(t, models.DisputeResolved, resolved.Dispute.Status)

	var repeated struct {
		Dispute        models.Dispute `json:"dispute"`
		AlreadySettled bool           `json:"already_settled"`
	}
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, base+"/dispute/resolve", admin,
		map[string]string{"decision": "reject"}, &repeated))
	assert.True(t, repeated.AlreadySettled)
	assert.Equal(t, resolved.Dispute.Id, repeated.Dispute.Id)

	assert.Equal(t, http.StatusConflict, f.do(t, http.MethodPost, base+"/dispute/resolve", admin,
		map[string]string{"decision": "approve"}, nil))
}

func TestDepositCallback(t *testing.T) {
	f := setup(t)
	user := f.token(t, "user1", models.RoleUser)

	var deposit models.Deposit
	require.Equal(t, http.StatusAccepted, f.do(t, http.MethodPost, "/deposits", user,
		map[string]any{"currency": "KES", "amount": "2500", "phone": "+254700000000"}, &deposit))
	assert.Equal(t, "checkout-1", deposit.ProviderTxId)

	callback := func(secret string, body string) int {
		req, err := http.NewRequest(http.MethodPost, f.server.URL+"/callbacks/sasapay", strings.NewReader(body))
		require.NoError(t, err)
		if secret != "" {
			req.Header.Set(CallbackSecretHeader, secret)
		}
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}

	payload := `{"CheckoutRequestID":"checkout-1","ResultCode":0,"ResultDesc":"Success"}`
	assert.Equal(t, http.StatusUnauthorized, callback("", payload))
	assert.Equal(t, http.StatusUnauthorized, callback("wrong", payload))
	assert.Equal(t, http.StatusNotFound, callback("s3cret", `{"CheckoutRequestID":"unknown","ResultCode":"0"}`))
	assert.Equal(t, http.StatusOK, callback("s3cret", payload))
	assert.Equal(t, http.StatusOK, callback("s3cret", payload))

	var balances struct {
		Balances []models.Balance `json:"balances"`
	}
	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/balances", user, nil, &balances))
	require.Len(t, balances.Balances, 1)
	assert.True(t, decimal.NewFromInt(2500).Equal(balances.Balances[0].Amount))

	var entries struct {
		Entries []models.LedgerEntry `json:"entries"`
	}
	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/balances/kes/entries", user, nil, &entries))
	require.Len(t, entries.Entries, 1)
	assert.Equal(t, "deposit:"+deposit.Id, entries.Entries[0].Reference)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/balances/XYZ/entries", user, nil, nil))
}

func TestWithdrawals(t *testing.T) {
	f := setup(t)
	f.fund(t, "user1", models.KES, "1000")
	user := f.token(t, "user1", models.RoleUser)
	admin := f.token(t, "A", models.RoleAdmin)

	body := map[string]any{"currency": "KES", "amount": "400", "destination": "254700000000", "method": "mpesa"}
	var withdrawal models.Withdrawal
	require.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, "/withdrawals", user, body, &withdrawal))
	assert.Equal(t, models.FundsConfirmed, withdrawal.Status)

	body["amount"] = "5000"
	assert.Equal(t, http.StatusUnprocessableEntity, f.do(t, http.MethodPost, "/withdrawals", user, body, nil))

	var listed struct {
		Withdrawals []models.Withdrawal `json:"withdrawals"`
	}
	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/withdrawals?user_id=user1", admin, nil, &listed))
	require.Len(t, listed.Withdrawals, 1)
	assert.Equal(t, withdrawal.Id, listed.Withdrawals[0].Id)
}

func TestAdminEndpoints(t *testing.T) {
	f := setup(t)
	admin := f.token(t, "A", models.RoleAdmin)

	var hb map[string]bool
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/admin/heartbeat", admin, map[string]bool{"online": false}, &hb))
	assert.False(t, hb["online"])

	online, err := f.store.ListAdmins(f.ctx, true)
	require.NoError(t, err)
	assert.Empty(t, online)

	var counts map[string]int
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/admin/assign", admin, nil, &counts))
	assert.Equal(t, 0, counts["assigned"])
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("x: %w", store.ErrInvalidArgument), http.StatusBadRequest},
		{store.ErrForbidden, http.StatusForbidden},
		{store.ErrNotFound, http.StatusNotFound},
		{store.ErrAlreadySettled, http.StatusConflict},
		{store.ErrConcurrentModification, http.StatusConflict},
		{store.ErrInsufficientFunds, http.StatusUnprocessableEntity},
		{store.ErrRateLimited, http.StatusTooManyRequests},
		{store.ErrProviderFailure, http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}

func TestResultCodeUnmarshal(t *testing.T) {
	var cb sasaPayCallback
	require.NoError(t, json.Unmarshal([]byte(`{"ResultCode":"0"}`), &cb))
	assert.Equal(t, resultCode("0"), cb.ResultCode)
	require.NoError(t, json.Unmarshal([]byte(`{"ResultCode":1032}`), &cb))
	assert.Equal(t, resultCode("1032"), cb.ResultCode)
}
