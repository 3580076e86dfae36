package settlement

import (
	"context"
	"errors"
	"fmt"

	"trade-settlement-go/internal/metrics"
	"trade-settlement-go/internal/models"
	"trade-settlement-go/internal/store"

	"go.uber.org/zap"
)

// SettleRequest is an admin's approve or reject decision on a trade.
type SettleRequest struct {
	TradeId  string          `json:"-" validate:"required"`
	AdminId  string          `json:"-" validate:"required"`
	Decision models.Decision `json:"decision" validate:"required,oneof=approve reject"`
	Reason   string          `json:"reason" validate:"max=1024"`
}

func settledMessage(d models.Decision, reason string) string {
	if d == models.DecisionApprove {
		return "Trade approved and completed."
	}
	if reason == "" {
		return "Trade rejected by admin."
	}
	return fmt.Sprintf("Trade rejected by admin: %s", reason)
}

// Settle approves or rejects a trade. Settling a trade again with the decision it
// already carries changes nothing and returns the stored result with
// store.ErrAlreadySettled; any other attempt on a closed or disputed trade fails
// with store.ErrInvalidStateTransition.
func (e *Engine) Settle(ctx context.Context, req SettleRequest) (*models.TradeResult, error) {
	if err := e.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrInvalidArgument, err)
	}
	outcome := req.Decision.Outcome()
	if _, err := e.store.GetAdmin(ctx, req.AdminId); err != nil {
		return nil, err
	}
	attempt, err := e.claimPayout(ctx, req.TradeId, outcome)
	if err != nil {
		e.recordFailure("settle", req.TradeId, err)
		return nil, err
	}

	var result *models.TradeResult
	err = e.store.WithTx(ctx, func(tx store.Tx) error {
		trade, err := e.lockTrade(ctx, tx, req.TradeId, outcome)
		if err != nil {
			return err
		}

		if trade.Status.IsTerminal() {
			if trade.Status == outcome {
				result = &models.TradeResult{Trade: trade, Decision: req.Decision}
				return store.ErrAlreadySettled
			}
			return fmt.Errorf("trade %s is already %s: %w", trade.Id, trade.Status, store.ErrInvalidStateTransition)
		}
		if trade.Status == models.TradeDisputed {
			return fmt.Errorf("trade %s is frozen by an open dispute: %w", trade.Id, store.ErrInvalidStateTransition)
		}

		result, err = e.close(ctx, tx, trade, closing{
			outcome: outcome,
			actor:   req.AdminId,
			reason:  req.Reason,
			message: settledMessage(req.Decision, req.Reason),
			payout:  attempt,
		})
		if err != nil {
			return err
		}
		result.Decision = req.Decision
		return nil
	})
	e.resolvePayout(ctx, req.TradeId, attempt, err)
	if errors.Is(err, store.ErrAlreadySettled) {
		e.fillBalances(ctx, result)
		return result, err
	}
	if err != nil {
		e.recordFailure("settle", req.TradeId, err)
		return nil, err
	}

	metrics.TradeTransitions.WithLabelValues(string(outcome)).Inc()
	zap.L().Info("Trade settled",
		zap.String("trade_id", req.TradeId),
		zap.String("admin_id", req.AdminId),
		zap.String("decision", string(req.Decision)))
	e.emit(models.EventForStatus(outcome), result.Trade, result.Message, nil)
	return result, nil
}

// ResolveDisputeRequest closes the open dispute on a trade with a final decision.
type ResolveDisputeRequest struct {
	TradeId  string          `json:"-" validate:"required"`
	AdminId  string          `json:"-" validate:"required"`
	Decision models.Decision `json:"decision" validate:"required,oneof=approve reject"`
	Reason   string          `json:"reason" validate:"max=1024"`
}

// ResolveDispute is the only way out of the disputed state. It resolves the open
// dispute and settles the trade with the admin's decision in one transaction.
// Resolving again with the decision the dispute already carries returns the stored
// trade and dispute with store.ErrAlreadySettled, the same rule Settle follows.
func (e *Engine) ResolveDispute(ctx context.Context, req ResolveDisputeRequest) (*models.TradeResult, *models.Dispute, error) {
	if err := e.validate.Struct(req); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", store.ErrInvalidArgument, err)
	}
	outcome := req.Decision.Outcome()
	if _, err := e.store.GetAdmin(ctx, req.AdminId); err != nil {
		return nil, nil, err
	}
	attempt, err := e.claimPayout(ctx, req.TradeId, outcome)
	if err != nil {
		e.recordFailure("resolve_dispute", req.TradeId, err)
		return nil, nil, err
	}

	var result *models.TradeResult
	var dispute *models.Dispute
	err = e.store.WithTx(ctx, func(tx store.Tx) error {
		trade, err := e.lockTrade(ctx, tx, req.TradeId, outcome)
		if err != nil {
			return err
		}
		if trade.Status == outcome {
			latest, err := tx.GetLatestDispute(ctx, trade.Id)
			if err == nil && latest.Status == models.DisputeResolved && latest.Resolution == req.Decision {
				result = &models.TradeResult{Trade: trade, Decision: req.Decision}
				dispute = latest
				return store.ErrAlreadySettled
			}
		}
		if trade.Status != models.TradeDisputed {
			return fmt.Errorf("trade %s is %s, not disputed: %w", trade.Id, trade.Status, store.ErrInvalidStateTransition)
		}

		dispute, err = tx.GetOpenDispute(ctx, trade.Id)
		if err != nil {
			return err
		}
		now := e.clock()
		dispute.Status = models.DisputeResolved
		dispute.Resolution = req.Decision
		dispute.ResolvedBy = req.AdminId
		dispute.ResolvedAt = &now
		if err := tx.ResolveDispute(ctx, dispute); err != nil {
			return err
		}

		verdict := "approved"
		if req.Decision == models.DecisionReject {
			verdict = "rejected"
		}
		text := fmt.Sprintf("Dispute resolved: trade %s.", verdict)
		if req.Reason != "" {
			text = fmt.Sprintf("Dispute resolved: trade %s. %s", verdict, req.Reason)
		}
		result, err = e.close(ctx, tx, trade, closing{
			outcome: outcome,
			actor:   req.AdminId,
			reason:  req.Reason,
			message: text,
			payout:  attempt,
		})
		if err != nil {
			return err
		}
		result.Decision = req.Decision
		return nil
	})
	e.resolvePayout(ctx, req.TradeId, attempt, err)
	if errors.Is(err, store.ErrAlreadySettled) {
		e.fillBalances(ctx, result)
		return result, dispute, err
	}
	if err != nil {
		e.recordFailure("resolve_dispute", req.TradeId, err)
		return nil, nil, err
	}

	metrics.TradeTransitions.WithLabelValues(string(outcome)).Inc()
	zap.L().Info("Dispute resolved",
		zap.String("trade_id", req.TradeId),
		zap.String("dispute_id", dispute.Id),
		zap.String("decision", string(req.Decision)))
	e.emit(models.EventDisputeResolved, result.Trade, nil, dispute)
	e.emit(models.EventForStatus(outcome), result.Trade, result.Message, nil)
	return result, dispute, nil
}

// fillBalances attaches the owner's current balances to a repeated settlement.
func (e *Engine) fillBalances(ctx context.Context, result *models.TradeResult) {
	zap.L().Info("Trade already settled with the same decision",
		zap.String("trade_id", result.Trade.Id),
		zap.String("decision", string(result.Decision)))
	if balances, err := e.store.GetBalances(ctx, result.Trade.UserId); err == nil {
		result.Balances = balances
	}
}
