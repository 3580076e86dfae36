package settlement

import (
	"context"
	"errors"
	"fmt"

	"trade-settlement-go/internal/models"
	"trade-settlement-go/internal/provider"
	"trade-settlement-go/internal/store"

	"go.uber.org/zap"
)

// payoutAttempt tracks one automatic fiat payout across the settlement transaction.
// The marker is committed as pending before the transaction opens; sentTxId is set
// once the provider accepted the payment, whatever happens to the transaction.
type payoutAttempt struct {
	marker   *models.Payout
	sentTxId string
}

// paysOut reports whether closing trade to outcome sends fiat through the gateway.
func (e *Engine) paysOut(trade *models.Trade, outcome models.TradeStatus) bool {
	return e.autoPayout && outcome == models.TradeCompleted && trade.Type == models.TradeSell
}

// claimPayout commits the pending payout marker for a trade about to be approved.
// It returns nil when no payout is due. A confirmed marker from an earlier attempt is
// returned as is so the provider is not called again; a marker still pending means an
// earlier attempt was interrupted mid-call and its outcome must be checked by hand.
func (e *Engine) claimPayout(ctx context.Context, tradeId string, outcome models.TradeStatus) (*payoutAttempt, error) {
	if !e.autoPayout || outcome != models.TradeCompleted {
		return nil, nil
	}
	trade, err := e.store.GetTrade(ctx, tradeId)
	if err != nil {
		return nil, err
	}
	if !e.paysOut(trade, outcome) || trade.Status.IsTerminal() {
		return nil, nil
	}

	ref := reference(trade.Id, "payout")
	var marker *models.Payout
	err = e.store.WithTx(ctx, func(tx store.Tx) error {
		existing, err := tx.GetPayout(ctx, ref)
		switch {
		case errors.Is(err, store.ErrNotFound):
			marker = &models.Payout{Reference: ref, Provider: e.payouts.Name(), Status: models.FundsPending}
			return tx.SavePayout(ctx, marker)
		case err != nil:
			return err
		}
		switch existing.Status {
		case models.FundsConfirmed:
			marker = existing
			return nil
		case models.FundsPending:
			return fmt.Errorf("%w: payout %s has an unresolved attempt at %s, check the provider before retrying",
				store.ErrProviderFailure, ref, existing.Provider)
		}
		existing.Provider = e.payouts.Name()
		existing.Status = models.FundsPending
		marker = existing
		return tx.SavePayout(ctx, marker)
	})
	if err != nil {
		if errors.Is(err, store.ErrProviderFailure) {
			e.alert(ctx, fmt.Sprintf("Trade %s: %v", tradeId, err))
		}
		return nil, err
	}
	return &payoutAttempt{marker: marker}, nil
}

// sendPayout is the last step of a settling transaction: every database write of the
// transition is already done. A payout confirmed by an earlier attempt is reused.
func (e *Engine) sendPayout(ctx context.Context, tx store.Tx, trade *models.Trade, attempt *payoutAttempt) error {
	if attempt == nil || attempt.marker == nil {
		return fmt.Errorf("payout for trade %s was not claimed", trade.Id)
	}
	txId := attempt.marker.ProviderTxId
	if attempt.marker.Status == models.FundsConfirmed {
		zap.L().Info("Reusing fiat payout from an earlier attempt",
			zap.String("trade_id", trade.Id),
			zap.String("provider_tx_id", txId))
	} else {
		var err error
		if txId, err = e.payout(ctx, trade); err != nil {
			return err
		}
	}
	attempt.sentTxId = txId

	confirmed := *attempt.marker
	confirmed.ProviderTxId = txId
	confirmed.Status = models.FundsConfirmed
	if err := tx.SavePayout(ctx, &confirmed); err != nil {
		return err
	}
	trade.ProviderTxId = txId
	return tx.UpdateTrade(ctx, trade, trade.Status)
}

func (e *Engine) payout(ctx context.Context, trade *models.Trade) (string, error) {
	req := provider.PayoutRequest{
		Reference:   reference(trade.Id, "payout"),
		UserId:      trade.UserId,
		Currency:    trade.FiatCurrency,
		Amount:      trade.FiatAmount,
		Method:      trade.PaymentMethod,
		Destination: trade.BankDetails,
	}
	res, err := e.payouts.InitiatePayout(ctx, req)
	if err := provider.Failure(e.payouts.Name(), "payout", res, err); err != nil {
		return "", fmt.Errorf("%w: %v", store.ErrProviderFailure, err)
	}
	zap.L().Info("Fiat payout accepted",
		zap.String("trade_id", trade.Id),
		zap.String("provider", e.payouts.Name()),
		zap.String("provider_tx_id", res.ProviderTxId))
	return res.ProviderTxId, nil
}

// resolvePayout settles the marker after the transaction ended. On commit the marker
// was already confirmed inside it. On rollback a payout the provider accepted is still
// recorded as confirmed; one that never went out is marked failed so it can be retried.
func (e *Engine) resolvePayout(ctx context.Context, tradeId string, attempt *payoutAttempt, txErr error) {
	if attempt == nil || txErr == nil || attempt.marker.Status == models.FundsConfirmed {
		return
	}
	marker := *attempt.marker
	marker.Status = models.FundsFailed
	if attempt.sentTxId != "" {
		marker.Status = models.FundsConfirmed
		marker.ProviderTxId = attempt.sentTxId
		zap.L().Error("Fiat payout sent but settlement rolled back",
			zap.String("trade_id", tradeId),
			zap.String("provider_tx_id", attempt.sentTxId),
			zap.Error(txErr))
	}
	if err := e.store.SavePayout(ctx, &marker); err != nil {
		zap.L().Error("Failed to record payout outcome",
			zap.String("reference", marker.Reference),
			zap.String("status", string(marker.Status)),
			zap.Error(err))
		e.alert(ctx, fmt.Sprintf("Payout %s is %s at %s (provider tx %q) but could not be recorded: %v",
			marker.Reference, marker.Status, marker.Provider, marker.ProviderTxId, err))
	}
}

func (e *Engine) alert(ctx context.Context, text string) {
	if err := e.notifier.Notify(ctx, text); err != nil {
		zap.L().Warn("Failed to notify operators", zap.Error(err))
	}
}
