package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"trade-settlement-go/internal/models"

	"github.com/coinbase-samples/prime-sdk-go/model"
	"github.com/coinbase-samples/prime-sdk-go/transactions"
	"github.com/coinbase-samples/prime-sdk-go/wallets"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSasaPayServer(t *testing.T, tokenCalls *int32, handler http.HandlerFunc) *SasaPay {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/auth/token/", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(tokenCalls, 1)
		user, pass, ok := r.BasicAuth()
		if !ok || user != "id" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"status": true, "access_token": "tok", "expires_in": 3600})
	})
	mux.HandleFunc("/api/v1/payments/", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		handler(w, r)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return NewSasaPay(models.SasaPayConfig{
		BaseURL:      server.URL + "/",
		ClientId:     "id",
		ClientSecret: "secret",
		MerchantCode: "600980",
		CallbackURL:  "https://example.com/callbacks/sasapay",
	}, server.Client())
}

func TestSasaPay_DepositCachesToken(t *testing.T) {
	var tokenCalls int32
	var seen stkPushRequest
	gw := newSasaPayServer(t, &tokenCalls, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/payments/request-payment/", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&seen))
		json.NewEncoder(w).Encode(map[string]any{"status": true, "CheckoutRequestID": "ws_CO_1"})
	})

	req := DepositRequest{
		Reference: "dep-1",
		UserId:    "user1",
		Currency:  models.KES,
		Amount:    decimal.NewFromInt(1500),
		Phone:     "254700000000",
	}
	for i := 0; i < 2; i++ {
		res, err := gw.InitiateDeposit(context.Background(), req)
		require.NoError(t, err)
		assert.True(t, res.Success)
		assert.Equal(t, "ws_CO_1", res.ProviderTxId)
	}

	assert.Equal(t, int32(1), atomic.LoadInt32(&tokenCalls))
	assert.Equal(t, "600980", seen.MerchantCode)
	assert.Equal(t, "63902", seen.NetworkCode)
	assert.Equal(t, "1500", seen.Amount)
	assert.Equal(t, "dep-1", seen.AccountReference)
}

func TestSasaPay_PayoutRejected(t *testing.T) {
	var tokenCalls int32
	gw := newSasaPayServer(t, &tokenCalls, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/payments/b2c/", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{"status": false, "detail": "insufficient float"})
	})

	res, err := gw.InitiatePayout(context.Background(), PayoutRequest{
		Reference:   "trade:t1:payout",
		Currency:    models.KES,
		Amount:      decimal.NewFromInt(150000),
		Method:      "mpesa",
		Destination: "254700000000",
	})
	require.NoError(t, err)
	assert.False(t, res.Success)

	err = Failure(gw.Name(), "payout", res, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insufficient float")
}

func TestSasaPay_HttpError(t *testing.T) {
	var tokenCalls int32
	gw := newSasaPayServer(t, &tokenCalls, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("upstream down"))
	})

	res, err := gw.InitiatePayout(context.Background(), PayoutRequest{Reference: "r", Currency: models.KES, Amount: decimal.NewFromInt(1)})
	require.Error(t, err)
	assert.Nil(t, res)
	assert.Contains(t, err.Error(), "502")
	assert.Contains(t, Failure(gw.Name(), "payout", res, err).Error(), "upstream down")
}

func TestLuno_SendCrypto(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/1/send", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		assert.Equal(t, "key", user)
		assert.Equal(t, "secret", pass)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "XBT", r.PostForm.Get("currency"))
		assert.Equal(t, "0.01", r.PostForm.Get("amount"))
		assert.Equal(t, "wd-1", r.PostForm.Get("external_id"))

		if r.PostForm.Get("address") == "bad" {
			json.NewEncoder(w).Encode(map[string]any{"success": false, "error_code": "ErrInvalidAddress", "error": "invalid address"})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"success": true, "withdrawal_id": "1234"})
	}))
	defer server.Close()

	gw := NewLuno(server.URL, "key", "secret", server.Client())
	req := CryptoSendRequest{Reference: "wd-1", Currency: models.BTC, Amount: decimal.RequireFromString("0.01"), Address: "bc1qexample"}

	res, err := gw.SendCrypto(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, &Result{Success: true, ProviderTxId: "1234"}, res)

	req.Address = "bad"
	res, err = gw.SendCrypto(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "ErrInvalidAddress: invalid address", res.Error)
}

type fakeWithdrawer struct {
	requests []*transactions.CreateWalletWithdrawalRequest
	err      error
}

func (f *fakeWithdrawer) CreateWalletWithdrawal(_ context.Context, req *transactions.CreateWalletWithdrawalRequest) (*transactions.CreateWalletWithdrawalResponse, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	return &transactions.CreateWalletWithdrawalResponse{ActivityId: "activity-1"}, nil
}

type fakeWalletLister struct {
	ids []string
}

func (f *fakeWalletLister) ListWallets(_ context.Context, _ *wallets.ListWalletsRequest) (*wallets.ListWalletsResponse, error) {
	resp := &wallets.ListWalletsResponse{}
	for _, id := range f.ids {
		resp.Wallets = append(resp.Wallets, &model.Wallet{Id: id})
	}
	return resp, nil
}

func TestPrime_SendCrypto(t *testing.T) {
	withdrawer := &fakeWithdrawer{}
	p := &Prime{
		portfolioId: "portfolio-1",
		wallets: map[models.Currency]PrimeWallet{
			models.ETH: {Symbol: "ETH", WalletId: "wallet-eth", Network: "ethereum-mainnet"},
		},
		transactionsSvc: withdrawer,
	}

	req := CryptoSendRequest{Reference: "wd-9", Currency: models.ETH, Amount: decimal.RequireFromString("0.5"), Address: "0xabc"}
	res, err := p.SendCrypto(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "activity-1", res.ProviderTxId)

	_, err = p.SendCrypto(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, withdrawer.requests, 2)

	first := withdrawer.requests[0]
	assert.Equal(t, "wallet-eth", first.SourceWalletId)
	assert.Equal(t, "0.5", first.Amount)
	assert.Equal(t, "DESTINATION_BLOCKCHAIN", first.DestinationType)
	assert.Equal(t, "ethereum", first.BlockchainAddress.Network.Id)
	assert.Equal(t, "mainnet", first.BlockchainAddress.Network.Type)
	assert.Equal(t, first.IdempotencyKey, withdrawer.requests[1].IdempotencyKey)

	res, err = p.SendCrypto(context.Background(), CryptoSendRequest{Reference: "x", Currency: models.BTC, Amount: decimal.NewFromInt(1)})
	require.NoError(t, err)
	assert.False(t, res.Success)

	withdrawer.err = errors.New("boom")
	_, err = p.SendCrypto(context.Background(), req)
	assert.Error(t, err)
}

func TestPrime_VerifyWallets(t *testing.T) {
	p := &Prime{
		portfolioId: "portfolio-1",
		wallets: map[models.Currency]PrimeWallet{
			models.BTC: {Symbol: "BTC", WalletId: "wallet-btc"},
			models.ETH: {Symbol: "ETH", WalletId: "wallet-eth"},
		},
		walletsSvc: &fakeWalletLister{ids: []string{"wallet-btc"}},
	}
	err := p.VerifyWallets(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "wallet-eth")

	p.walletsSvc = &fakeWalletLister{ids: []string{"wallet-btc", "wallet-eth"}}
	assert.NoError(t, p.VerifyWallets(context.Background()))
}

func TestLoadPrimeWallets(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wallets.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
wallets:
  - symbol: btc
    wallet_id: w-btc
    network: bitcoin-mainnet
  - symbol: USDT
    wallet_id: w-usdt
`), 0o600))

	got, err := LoadPrimeWallets(path)
	require.NoError(t, err)
	assert.Equal(t, "w-btc", got[models.BTC].WalletId)
	assert.Equal(t, "w-usdt", got[models.USDT].WalletId)

	require.NoError(t, os.WriteFile(path, []byte("wallets:\n  - symbol: NGN\n    wallet_id: w\n"), 0o600))
	_, err = LoadPrimeWallets(path)
	assert.Error(t, err)
}

func TestDisabled(t *testing.T) {
	var d Disabled
	res, err := d.InitiatePayout(context.Background(), PayoutRequest{})
	require.NoError(t, err)
	assert.ErrorContains(t, Failure(d.Name(), "payout", res, err), "not configured")
}
