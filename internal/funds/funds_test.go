package funds

import (
	"context"
	"errors"
	"testing"

	"trade-settlement-go/internal/database"
	"trade-settlement-go/internal/models"
	"trade-settlement-go/internal/provider"
	"trade-settlement-go/internal/store"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGateway struct {
	fail     bool
	err      error
	deposits []provider.DepositRequest
	payouts  []provider.PayoutRequest
	sends    []provider.CryptoSendRequest
}

func (f *fakeGateway) Name() string { return "fake" }

func (f *fakeGateway) result(id string) (*provider.Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.fail {
		return &provider.Result{Error: "declined"}, nil
	}
	return &provider.Result{Success: true, ProviderTxId: id}, nil
}

func (f *fakeGateway) InitiateDeposit(_ context.Context, req provider.DepositRequest) (*provider.Result, error) {
	f.deposits = append(f.deposits, req)
	return f.result("checkout-1")
}

func (f *fakeGateway) InitiatePayout(_ context.Context, req provider.PayoutRequest) (*provider.Result, error) {
	f.payouts = append(f.payouts, req)
	return f.result("b2c-1")
}

func (f *fakeGateway) SendCrypto(_ context.Context, req provider.CryptoSendRequest) (*provider.Result, error) {
	f.sends = append(f.sends, req)
	return f.result("send-1")
}

func setup(t *testing.T) (*Service, *database.Service, *fakeGateway) {
	t.Helper()
	db, err := database.NewService(context.Background(), database.MemoryConfig())
	require.NoError(t, err)
	t.Cleanup(db.Close)
	gw := &fakeGateway{}
	return NewService(db, gw, gw), db, gw
}

func balance(t *testing.T, db *database.Service, userId string, c models.Currency) string {
	t.Helper()
	b, err := db.GetBalance(context.Background(), userId, c)
	require.NoError(t, err)
	return b.String()
}

func TestDeposit_ConfirmIsIdempotent(t *testing.T) {
	svc, db, gw := setup(t)
	ctx := context.Background()

	deposit, err := svc.InitiateDeposit(ctx, DepositRequest{
		UserId: "user1", Currency: models.KES, Amount: decimal.NewFromInt(2500), Phone: "+254700000000",
	})
	require.NoError(t, err)
	assert.Equal(t, models.FundsPending, deposit.Status)
	assert.Equal(t, "checkout-1", deposit.ProviderTxId)
	require.Len(t, gw.deposits, 1)
	assert.Equal(t, "254700000000", gw.deposits[0].Phone)
	assert.Equal(t, "0", balance(t, db, "user1", models.KES))

	for i := 0; i < 3; i++ {
		confirmed, err := svc.ConfirmDeposit(ctx, "checkout-1", true)
		require.NoError(t, err)
		assert.Equal(t, models.FundsConfirmed, confirmed.Status)
	}
	assert.Equal(t, "2500", balance(t, db, "user1", models.KES))

	// A late failure callback does not undo a confirmed deposit.
	late, err := svc.ConfirmDeposit(ctx, "checkout-1", false)
	require.NoError(t, err)
	assert.Equal(t, models.FundsConfirmed, late.Status)
	assert.Equal(t, "2500", balance(t, db, "user1", models.KES))
}

func TestDeposit_FailedCallbackCreditsNothing(t *testing.T) {
	svc, db, _ := setup(t)
	ctx := context.Background()

	_, err := svc.InitiateDeposit(ctx, DepositRequest{
		UserId: "user1", Currency: models.NGN, Amount: decimal.NewFromInt(5000), Phone: "2348000000000",
	})
	require.NoError(t, err)

	failed, err := svc.ConfirmDeposit(ctx, "checkout-1", false)
	require.NoError(t, err)
	assert.Equal(t, models.FundsFailed, failed.Status)

	again, err := svc.ConfirmDeposit(ctx, "checkout-1", true)
	require.NoError(t, err)
	assert.Equal(t, models.FundsFailed, again.Status)
	assert.Equal(t, "0", balance(t, db, "user1", models.NGN))

	_, err = svc.ConfirmDeposit(ctx, "unknown", true)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestDeposit_Validation(t *testing.T) {
	svc, _, gw := setup(t)
	ctx := context.Background()

	cases := []DepositRequest{
		{UserId: "user1", Currency: models.BTC, Amount: decimal.NewFromInt(1), Phone: "254700000000"},
		{UserId: "user1", Currency: models.KES, Amount: decimal.NewFromInt(-1), Phone: "254700000000"},
		{UserId: "user1", Currency: models.KES, Amount: decimal.RequireFromString("1.001"), Phone: "254700000000"},
		{UserId: "user1", Currency: models.KES, Amount: decimal.NewFromInt(1), Phone: "call me"},
		{Currency: models.KES, Amount: decimal.NewFromInt(1), Phone: "254700000000"},
	}
	for _, req := range cases {
		_, err := svc.InitiateDeposit(ctx, req)
		assert.ErrorIs(t, err, store.ErrInvalidArgument)
	}
	assert.Empty(t, gw.deposits)

	gw.fail = true
	_, err := svc.InitiateDeposit(ctx, DepositRequest{
		UserId: "user1", Currency: models.KES, Amount: decimal.NewFromInt(1), Phone: "254700000000",
	})
	assert.ErrorIs(t, err, store.ErrProviderFailure)
}

func TestWithdraw_Crypto(t *testing.T) {
	svc, db, gw := setup(t)
	ctx := context.Background()
	_, err := db.Credit(ctx, store.MovementParams{
		UserId: "user1", Currency: models.ETH, Amount: decimal.NewFromInt(2), Reference: "seed",
	})
	require.NoError(t, err)

	w, err := svc.Withdraw(ctx, WithdrawRequest{
		UserId: "user1", Currency: models.ETH, Amount: decimal.RequireFromString("0.75"),
		Destination: "0xabc", Network: "ethereum-mainnet",
	})
	require.NoError(t, err)
	assert.Equal(t, "send-1", w.ProviderTxId)
	assert.Equal(t, "1.25", balance(t, db, "user1", models.ETH))
	require.Len(t, gw.sends, 1)
	assert.Equal(t, "withdrawal:"+w.Id, gw.sends[0].Reference)
	assert.Empty(t, gw.payouts)

	listed, err := svc.ListWithdrawals(ctx, "user1", 10)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, w.Id, listed[0].Id)
}

func TestWithdraw_ProviderFailureRollsBack(t *testing.T) {
	svc, db, gw := setup(t)
	ctx := context.Background()
	_, err := db.Credit(ctx, store.MovementParams{
		UserId: "user1", Currency: models.KES, Amount: decimal.NewFromInt(1000), Reference: "seed",
	})
	require.NoError(t, err)

	req := WithdrawRequest{
		UserId: "user1", Currency: models.KES, Amount: decimal.NewFromInt(400),
		Destination: "254700000000", Method: "mpesa",
	}

	gw.fail = true
	_, err = svc.Withdraw(ctx, req)
	assert.ErrorIs(t, err, store.ErrProviderFailure)
	assert.Equal(t, "1000", balance(t, db, "user1", models.KES))

	gw.fail = false
	gw.err = errors.New("connection reset")
	_, err = svc.Withdraw(ctx, req)
	assert.ErrorIs(t, err, store.ErrProviderFailure)
	assert.Equal(t, "1000", balance(t, db, "user1", models.KES))

	listed, err := svc.ListWithdrawals(ctx, "user1", 10)
	require.NoError(t, err)
	assert.Empty(t, listed)

	gw.err = nil
	_, err = svc.Withdraw(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "600", balance(t, db, "user1", models.KES))
	require.Len(t, gw.payouts, 3)
	assert.Equal(t, "mpesa", gw.payouts[2].Method)
}

func TestWithdraw_InsufficientFunds(t *testing.T) {
	svc, _, gw := setup(t)
	_, err := svc.Withdraw(context.Background(), WithdrawRequest{
		UserId: "user1", Currency: models.BTC, Amount: decimal.NewFromInt(1), Destination: "bc1q",
	})
	assert.ErrorIs(t, err, store.ErrInsufficientFunds)
	assert.Empty(t, gw.sends)
}

var errDiskFull = errors.New("disk full")

// flakyStore fails chosen writes inside transactions opened through it.
type flakyStore struct {
	*database.Service
	failInsert  bool
	failConfirm bool
	failMarker  bool
}

func (s *flakyStore) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	return s.Service.WithTx(ctx, func(tx store.Tx) error {
		return fn(&flakyTx{Tx: tx, s: s})
	})
}

type flakyTx struct {
	store.Tx
	s *flakyStore
}

func (t *flakyTx) InsertWithdrawal(ctx context.Context, w *models.Withdrawal) error {
	if t.s.failInsert {
		return errDiskFull
	}
	return t.Tx.InsertWithdrawal(ctx, w)
}

func (t *flakyTx) ConfirmWithdrawal(ctx context.Context, withdrawalId, providerTxId string) error {
	if t.s.failConfirm {
		return errDiskFull
	}
	return t.Tx.ConfirmWithdrawal(ctx, withdrawalId, providerTxId)
}

func (t *flakyTx) SavePayout(ctx context.Context, p *models.Payout) error {
	if t.s.failMarker {
		return errDiskFull
	}
	return t.Tx.SavePayout(ctx, p)
}

type recordingNotifier struct{ texts []string }

func (n *recordingNotifier) Notify(_ context.Context, text string) error {
	n.texts = append(n.texts, text)
	return nil
}

func setupFlaky(t *testing.T) (*Service, *flakyStore, *fakeGateway, *recordingNotifier) {
	t.Helper()
	db, err := database.NewService(context.Background(), database.MemoryConfig())
	require.NoError(t, err)
	t.Cleanup(db.Close)
	_, err = db.Credit(context.Background(), store.MovementParams{
		UserId: "user1", Currency: models.KES, Amount: decimal.NewFromInt(1000), Reference: "seed",
	})
	require.NoError(t, err)

	flaky := &flakyStore{Service: db}
	gw := &fakeGateway{}
	n := &recordingNotifier{}
	return NewService(flaky, gw, gw, WithNotifier(n)), flaky, gw, n
}

var kesWithdrawal = WithdrawRequest{
	UserId: "user1", Currency: models.KES, Amount: decimal.NewFromInt(400),
	Destination: "254700000000", Method: "mpesa",
}

func TestWithdraw_FailedInsertNeverReachesProvider(t *testing.T) {
	svc, flaky, gw, _ := setupFlaky(t)
	ctx := context.Background()

	flaky.failInsert = true
	_, err := svc.Withdraw(ctx, kesWithdrawal)
	require.ErrorIs(t, err, errDiskFull)
	assert.Empty(t, gw.payouts)
	assert.Equal(t, "1000", balance(t, flaky.Service, "user1", models.KES))

	listed, err := svc.ListWithdrawals(ctx, "user1", 10)
	require.NoError(t, err)
	assert.Empty(t, listed)
}

func TestWithdraw_SentWithdrawalIsBookedAfterRollback(t *testing.T) {
	svc, flaky, gw, n := setupFlaky(t)
	ctx := context.Background()

	flaky.failConfirm = true
	w, err := svc.Withdraw(ctx, kesWithdrawal)
	require.NoError(t, err)
	require.Len(t, gw.payouts, 1)
	assert.Equal(t, "b2c-1", w.ProviderTxId)
	assert.Equal(t, models.FundsConfirmed, w.Status)
	assert.Equal(t, "600", balance(t, flaky.Service, "user1", models.KES))
	assert.Empty(t, n.texts)

	listed, err := svc.ListWithdrawals(ctx, "user1", 10)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, w.Id, listed[0].Id)
	assert.Equal(t, "b2c-1", listed[0].ProviderTxId)
	assert.Equal(t, models.FundsConfirmed, listed[0].Status)

	marker, err := flaky.GetPayout(ctx, "withdrawal:"+w.Id)
	require.NoError(t, err)
	assert.Equal(t, models.FundsConfirmed, marker.Status)
	assert.Equal(t, "b2c-1", marker.ProviderTxId)
}

func TestWithdraw_UnbookedWithdrawalAlertsOperators(t *testing.T) {
	svc, flaky, gw, n := setupFlaky(t)
	ctx := context.Background()

	flaky.failMarker = true
	_, err := svc.Withdraw(ctx, kesWithdrawal)
	require.ErrorIs(t, err, errDiskFull)
	require.Len(t, gw.payouts, 1)
	require.Len(t, n.texts, 1)
	assert.Contains(t, n.texts[0], "b2c-1")
	assert.Equal(t, "1000", balance(t, flaky.Service, "user1", models.KES))

	marker, err := flaky.GetPayout(ctx, gw.payouts[0].Reference)
	require.NoError(t, err)
	assert.Equal(t, models.FundsConfirmed, marker.Status)
	assert.Equal(t, "b2c-1", marker.ProviderTxId)
}
