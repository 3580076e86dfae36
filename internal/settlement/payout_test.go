package settlement

import (
	"context"
	"errors"
	"testing"

	"trade-settlement-go/internal/database"
	"trade-settlement-go/internal/models"
	"trade-settlement-go/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errDiskFull = errors.New("disk full")

// flakyStore fails chosen writes inside transactions opened through it.
type flakyStore struct {
	*database.Service
	failAppend bool
	failRecord bool
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

func (t *flakyTx) AppendMessage(ctx context.Context, msg *models.ChatMessage) error {
	if t.s.failAppend {
		return errDiskFull
	}
	return t.Tx.AppendMessage(ctx, msg)
}

// UpdateTrade fails only the write that records the provider's transaction id.
func (t *flakyTx) UpdateTrade(ctx context.Context, trade *models.Trade, from models.TradeStatus) error {
	if t.s.failRecord && trade.ProviderTxId != "" {
		return errDiskFull
	}
	return t.Tx.UpdateTrade(ctx, trade, from)
}

func setupFlakyEngine(t *testing.T) (*fixture, *flakyStore) {
	t.Helper()
	f := setupEngine(t, models.SettlementConfig{AutoPayout: true})
	flaky := &flakyStore{Service: f.store}
	f.engine = NewEngine(flaky, models.SettlementConfig{AutoPayout: true}, models.AssignmentConfig{},
		WithPublisher(f.events), WithPayouts(f.payouts), WithNotifier(f.notifier))
	return f, flaky
}

func (f *fixture) payoutMarker(t *testing.T, tradeId string) *models.Payout {
	t.Helper()
	p, err := f.store.GetPayout(f.ctx, reference(tradeId, "payout"))
	require.NoError(t, err)
	return p
}

func TestSettle_FailedWriteNeverReachesProvider(t *testing.T) {
	f, flaky := setupFlakyEngine(t)
	f.addAdmin(t, "K", "KE", 4.5, true)
	f.fund(t, "user1", models.ETH, "0.5")

	created, err := f.engine.CreateTrade(f.ctx, sellRequest("user1"))
	require.NoError(t, err)

	flaky.failAppend = true
	req := SettleRequest{TradeId: created.Trade.Id, AdminId: "K", Decision: models.DecisionApprove}
	_, err = f.engine.Settle(f.ctx, req)
	require.ErrorIs(t, err, errDiskFull)
	assert.Zero(t, f.payouts.calls)

	stored, err := f.store.GetTrade(f.ctx, created.Trade.Id)
	require.NoError(t, err)
	assert.Equal(t, models.TradePending, stored.Status)
	assertDecimal(t, "0.5", f.balance(t, models.EscrowAccount, models.ETH))
	assert.Equal(t, models.FundsFailed, f.payoutMarker(t, created.Trade.Id).Status)

	flaky.failAppend = false
	result, err := f.engine.Settle(f.ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 1, f.payouts.calls)
	assert.Equal(t, models.TradeCompleted, result.Trade.Status)
	assert.Equal(t, models.FundsConfirmed, f.payoutMarker(t, created.Trade.Id).Status)
}

func TestSettle_SentPayoutIsReusedAfterRollback(t *testing.T) {
	f, flaky := setupFlakyEngine(t)
	f.addAdmin(t, "K", "KE", 4.5, true)
	f.fund(t, "user1", models.ETH, "0.5")

	created, err := f.engine.CreateTrade(f.ctx, sellRequest("user1"))
	require.NoError(t, err)
	payoutTxId := "payout-trade:" + created.Trade.Id + ":payout"

	flaky.failRecord = true
	req := SettleRequest{TradeId: created.Trade.Id, AdminId: "K", Decision: models.DecisionApprove}
	_, err = f.engine.Settle(f.ctx, req)
	require.ErrorIs(t, err, errDiskFull)
	assert.Equal(t, 1, f.payouts.calls)

	stored, err := f.store.GetTrade(f.ctx, created.Trade.Id)
	require.NoError(t, err)
	assert.Equal(t, models.TradePending, stored.Status)
	assertDecimal(t, "0.5", f.balance(t, models.EscrowAccount, models.ETH))

	marker := f.payoutMarker(t, created.Trade.Id)
	assert.Equal(t, models.FundsConfirmed, marker.Status)
	assert.Equal(t, payoutTxId, marker.ProviderTxId)

	flaky.failRecord = false
	result, err := f.engine.Settle(f.ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 1, f.payouts.calls, "a retry must not pay the user twice")
	assert.Equal(t, models.TradeCompleted, result.Trade.Status)
	assert.Equal(t, payoutTxId, result.Trade.ProviderTxId)
	assertDecimal(t, "0", f.balance(t, models.EscrowAccount, models.ETH))
}

func TestSettle_UnresolvedPayoutBlocksRetry(t *testing.T) {
	f := setupEngine(t, models.SettlementConfig{AutoPayout: true})
	f.addAdmin(t, "K", "KE", 4.5, true)
	f.fund(t, "user1", models.ETH, "0.5")

	created, err := f.engine.CreateTrade(f.ctx, sellRequest("user1"))
	require.NoError(t, err)
	f.notifier.texts = nil

	require.NoError(t, f.store.SavePayout(f.ctx, &models.Payout{
		Reference: reference(created.Trade.Id, "payout"), Provider: "fake", Status: models.FundsPending,
	}))

	_, err = f.engine.Settle(f.ctx, SettleRequest{TradeId: created.Trade.Id, AdminId: "K", Decision: models.DecisionApprove})
	require.ErrorIs(t, err, store.ErrProviderFailure)
	assert.Zero(t, f.payouts.calls)
	require.Len(t, f.notifier.texts, 1)
	assert.Contains(t, f.notifier.texts[0], created.Trade.Id)

	// Rejecting pays nothing, so the marker does not stand in the way.
	result, err := f.engine.Settle(f.ctx, SettleRequest{TradeId: created.Trade.Id, AdminId: "K", Decision: models.DecisionReject})
	require.NoError(t, err)
	assert.Equal(t, models.TradeRejected, result.Trade.Status)
	assertDecimal(t, "0.5", f.balance(t, "user1", models.ETH))
}

func TestResolveDispute_SellRejectRefundsEscrow(t *testing.T) {
	f := setupEngine(t, models.SettlementConfig{AutoPayout: true})
	f.addAdmin(t, "K", "KE", 4.5, true)
	f.fund(t, "user1", models.ETH, "2")

	created, err := f.engine.CreateTrade(f.ctx, sellRequest("user1"))
	require.NoError(t, err)
	f.dispute(t, created.Trade.Id, "user1")
	assertDecimal(t, "1.5", f.balance(t, "user1", models.ETH))

	result, dispute, err := f.engine.ResolveDispute(f.ctx, ResolveDisputeRequest{
		TradeId: created.Trade.Id, AdminId: "K", Decision: models.DecisionReject, Reason: "buyer never paid",
	})
	require.NoError(t, err)
	assert.Equal(t, models.TradeRejected, result.Trade.Status)
	assert.Equal(t, models.DecisionReject, dispute.Resolution)
	assert.Zero(t, f.payouts.calls)
	assertDecimal(t, "2", f.balance(t, "user1", models.ETH))
	assertDecimal(t, "0", f.balance(t, models.EscrowAccount, models.ETH))
	assert.Equal(t, 0, f.adminLoad(t, "K"))

	_, repeated, err := f.engine.ResolveDispute(f.ctx, ResolveDisputeRequest{
		TradeId: created.Trade.Id, AdminId: "K", Decision: models.DecisionReject,
	})
	require.ErrorIs(t, err, store.ErrAlreadySettled)
	assert.Equal(t, dispute.Id, repeated.Id)
	assertDecimal(t, "2", f.balance(t, "user1", models.ETH))
}

func TestResolveDispute_ProviderFailureKeepsDispute(t *testing.T) {
	f := setupEngine(t, models.SettlementConfig{AutoPayout: true})
	f.addAdmin(t, "K", "KE", 4.5, true)
	f.fund(t, "user1", models.ETH, "0.5")

	created, err := f.engine.CreateTrade(f.ctx, sellRequest("user1"))
	require.NoError(t, err)
	f.dispute(t, created.Trade.Id, "user1")

	f.payouts.fail = true
	req := ResolveDisputeRequest{TradeId: created.Trade.Id, AdminId: "K", Decision: models.DecisionApprove}
	_, _, err = f.engine.ResolveDispute(f.ctx, req)
	require.ErrorIs(t, err, store.ErrProviderFailure)
	assert.Equal(t, 1, f.payouts.calls)

	stored, err := f.store.GetTrade(f.ctx, created.Trade.Id)
	require.NoError(t, err)
	assert.Equal(t, models.TradeDisputed, stored.Status)
	_, err = f.store.GetOpenDispute(f.ctx, created.Trade.Id)
	require.NoError(t, err)
	assertDecimal(t, "0.5", f.balance(t, models.EscrowAccount, models.ETH))
	assert.Equal(t, 1, f.adminLoad(t, "K"))
	assert.Equal(t, models.FundsFailed, f.payoutMarker(t, created.Trade.Id).Status)

	f.payouts.fail = false
	result, _, err := f.engine.ResolveDispute(f.ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 2, f.payouts.calls)
	assert.Equal(t, models.TradeCompleted, result.Trade.Status)
	assert.NotEmpty(t, result.Trade.ProviderTxId)
	assertDecimal(t, "0", f.balance(t, models.EscrowAccount, models.ETH))
	assert.Equal(t, 0, f.adminLoad(t, "K"))
}
