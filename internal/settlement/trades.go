package settlement

import (
	"context"
	"fmt"
	"strings"

	"trade-settlement-go/internal/assignment"
	"trade-settlement-go/internal/metrics"
	"trade-settlement-go/internal/models"
	"trade-settlement-go/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// CreateTradeRequest is the user's order. UserId comes from the authenticated principal.
type CreateTradeRequest struct {
	UserId        string           `json:"-" validate:"required"`
	Type          models.TradeType `json:"type" validate:"required,oneof=buy sell"`
	Crypto        models.Currency  `json:"crypto" validate:"required,oneof=BTC ETH USDT"`
	CryptoAmount  decimal.Decimal  `json:"crypto_amount"`
	FiatAmount    decimal.Decimal  `json:"fiat_amount"`
	Country       string           `json:"country" validate:"required,len=2,alpha"`
	PaymentMethod string           `json:"payment_method" validate:"required,max=64"`
	BankDetails   string           `json:"bank_details" validate:"max=2048"`
}

func (e *Engine) validateCreate(req *CreateTradeRequest) (models.Currency, error) {
	req.Crypto = models.Currency(strings.ToUpper(string(req.Crypto)))
	req.Country = strings.ToUpper(strings.TrimSpace(req.Country))
	if err := e.validate.Struct(req); err != nil {
		return "", fmt.Errorf("%w: %v", store.ErrInvalidArgument, err)
	}
	fiat, ok := models.FiatForCountry(req.Country)
	if !ok {
		return "", fmt.Errorf("%w: unsupported country %s", store.ErrInvalidArgument, req.Country)
	}
	if err := req.Crypto.ValidateAmount(req.CryptoAmount); err != nil {
		return "", fmt.Errorf("%w: crypto amount: %v", store.ErrInvalidArgument, err)
	}
	if err := fiat.ValidateAmount(req.FiatAmount); err != nil {
		return "", fmt.Errorf("%w: fiat amount: %v", store.ErrInvalidArgument, err)
	}
	return fiat, nil
}

// CreateTrade opens a pending trade, escrows a sell trade's crypto and assigns an
// admin when one is eligible. A trade nobody can take is still created; operators
// are notified and the assignment job retries it.
func (e *Engine) CreateTrade(ctx context.Context, req CreateTradeRequest) (*models.TradeResult, error) {
	fiat, err := e.validateCreate(&req)
	if err != nil {
		return nil, err
	}

	now := e.clock()
	trade := &models.Trade{
		Id:            uuid.New().String(),
		UserId:        req.UserId,
		Type:          req.Type,
		Crypto:        req.Crypto,
		CryptoAmount:  req.CryptoAmount,
		FiatAmount:    req.FiatAmount,
		FiatCurrency:  fiat,
		Country:       req.Country,
		PaymentMethod: req.PaymentMethod,
		BankDetails:   req.BankDetails,
		Status:        models.TradePending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	var result *models.TradeResult
	err = e.store.WithTx(ctx, func(tx store.Tx) error {
		var legs []leg
		if trade.Type == models.TradeSell {
			legs = escrowLegs(trade)
			if err := tx.LockBalances(ctx, keysOf(legs)); err != nil {
				return err
			}
		}

		adminId, err := assignment.NewPolicy(tx, e.maxLoad).PickAdmin(ctx, assignment.Query{
			Region: trade.Country, TradeType: trade.Type, Amount: trade.FiatAmount,
		})
		if err != nil {
			return err
		}
		trade.AssignedAdminId = adminId

		if err := tx.InsertTrade(ctx, trade); err != nil {
			return err
		}
		if err := applyLegs(ctx, tx, legs); err != nil {
			return err
		}
		if adminId != "" {
			if err := tx.AdjustAdminLoad(ctx, adminId, 1); err != nil {
				return err
			}
		}

		text := fmt.Sprintf("Trade created: %s %s %s for %s %s.", trade.Type, trade.CryptoAmount, trade.Crypto,
			trade.FiatAmount, trade.FiatCurrency)
		if adminId != "" {
			text += " An admin has been assigned."
		} else {
			text += " Waiting for an available admin."
		}
		msg := models.NewSystemMessage(trade.Id, text)
		if err := tx.AppendMessage(ctx, msg); err != nil {
			return err
		}

		balances, err := userBalances(ctx, tx, trade.UserId, legs)
		if err != nil {
			return err
		}
		result = &models.TradeResult{Trade: trade, Balances: balances, Message: msg}
		return nil
	})
	if err != nil {
		e.recordFailure("create", trade.Id, err)
		return nil, err
	}

	assigned := trade.AssignedAdminId != ""
	metrics.TradesCreated.WithLabelValues(string(trade.Type), fmt.Sprint(assigned)).Inc()
	zap.L().Info("Trade created",
		zap.String("trade_id", trade.Id),
		zap.String("user_id", trade.UserId),
		zap.String("type", string(trade.Type)),
		zap.String("assigned_admin_id", trade.AssignedAdminId))

	e.emit(models.EventTradeCreated, trade, result.Message, nil)
	if !assigned {
		e.alertUnassigned(ctx, trade)
	}
	return result, nil
}

func (e *Engine) alertUnassigned(ctx context.Context, trade *models.Trade) {
	text := fmt.Sprintf("No admin available for trade %s (%s %s %s, %s %s, %s)",
		trade.Id, trade.Type, trade.CryptoAmount, trade.Crypto, trade.FiatAmount, trade.FiatCurrency, trade.Country)
	if err := e.notifier.Notify(ctx, text); err != nil {
		zap.L().Error("Failed to notify ops about unassigned trade", zap.String("trade_id", trade.Id), zap.Error(err))
	}
}

// UploadProof records the user's payment proof and moves a pending trade to
// awaiting_verification. A second upload replaces the proof.
func (e *Engine) UploadProof(ctx context.Context, tradeId, userId, proof string) (*models.TradeResult, error) {
	proof = strings.TrimSpace(proof)
	if proof == "" {
		return nil, fmt.Errorf("%w: payment proof is required", store.ErrInvalidArgument)
	}

	var result *models.TradeResult
	err := e.store.WithTx(ctx, func(tx store.Tx) error {
		trade, err := tx.LockTrade(ctx, tradeId)
		if err != nil {
			return err
		}
		if trade.UserId != userId {
			return fmt.Errorf("trade %s belongs to another user: %w", tradeId, store.ErrForbidden)
		}
		if !trade.Status.IsOpen() {
			return fmt.Errorf("cannot upload proof to %s trade %s: %w", trade.Status, tradeId, store.ErrInvalidStateTransition)
		}

		from := trade.Status
		trade.PaymentProof = proof
		trade.Status = models.TradeAwaitingVerification
		trade.UpdatedAt = e.clock()
		if err := tx.UpdateTrade(ctx, trade, from); err != nil {
			return err
		}

		msg := models.NewSystemMessage(trade.Id, "Payment proof uploaded. Waiting for admin verification.")
		if err := tx.AppendMessage(ctx, msg); err != nil {
			return err
		}
		result = &models.TradeResult{Trade: trade, Message: msg}
		return nil
	})
	if err != nil {
		e.recordFailure("upload_proof", tradeId, err)
		return nil, err
	}

	metrics.TradeTransitions.WithLabelValues(string(result.Trade.Status)).Inc()
	e.emit(models.EventProofUploaded, result.Trade, result.Message, nil)
	return result, nil
}

// CancelTrade lets the owner withdraw an open trade. Escrow is refunded. Disputed and
// terminal trades cannot be cancelled.
func (e *Engine) CancelTrade(ctx context.Context, tradeId, userId string) (*models.TradeResult, error) {
	var result *models.TradeResult
	err := e.store.WithTx(ctx, func(tx store.Tx) error {
		trade, err := e.lockTrade(ctx, tx, tradeId, models.TradeCancelled)
		if err != nil {
			return err
		}
		if trade.UserId != userId {
			return fmt.Errorf("trade %s belongs to another user: %w", tradeId, store.ErrForbidden)
		}
		if !trade.Status.IsOpen() {
			return fmt.Errorf("cannot cancel %s trade %s: %w", trade.Status, tradeId, store.ErrInvalidStateTransition)
		}

		result, err = e.close(ctx, tx, trade, closing{
			outcome: models.TradeCancelled,
			message: "Trade cancelled by the user.",
		})
		return err
	})
	if err != nil {
		e.recordFailure("cancel", tradeId, err)
		return nil, err
	}

	metrics.TradeTransitions.WithLabelValues(string(models.TradeCancelled)).Inc()
	zap.L().Info("Trade cancelled", zap.String("trade_id", tradeId), zap.String("user_id", userId))
	e.emit(models.EventTradeCancelled, result.Trade, result.Message, nil)
	return result, nil
}

// AssignTrade attaches the best eligible admin to an unassigned, non-terminal trade.
// It reports false when the trade needs no admin or nobody qualifies.
func (e *Engine) AssignTrade(ctx context.Context, tradeId string) (*models.Trade, bool, error) {
	var trade *models.Trade
	var msg *models.ChatMessage
	err := e.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		trade, err = tx.LockTrade(ctx, tradeId)
		if err != nil {
			return err
		}
		if trade.AssignedAdminId != "" || trade.Status.IsTerminal() {
			return nil
		}

		adminId, err := assignment.NewPolicy(tx, e.maxLoad).PickAdmin(ctx, assignment.Query{
			Region: trade.Country, TradeType: trade.Type, Amount: trade.FiatAmount,
		})
		if err != nil || adminId == "" {
			return err
		}

		trade.AssignedAdminId = adminId
		trade.UpdatedAt = e.clock()
		if err := tx.UpdateTrade(ctx, trade, trade.Status); err != nil {
			return err
		}
		if err := tx.AdjustAdminLoad(ctx, adminId, 1); err != nil {
			return err
		}
		msg = models.NewSystemMessage(trade.Id, "An admin has been assigned to this trade.")
		return tx.AppendMessage(ctx, msg)
	})
	if err != nil {
		return nil, false, err
	}
	if msg == nil {
		return trade, false, nil
	}

	zap.L().Info("Trade assigned", zap.String("trade_id", trade.Id), zap.String("admin_id", trade.AssignedAdminId))
	e.emit(models.EventTradeAssigned, trade, msg, nil)
	return trade, true, nil
}

// AssignPending retries assignment for unassigned trades, oldest first, and alerts
// operators about the ones still waiting.
func (e *Engine) AssignPending(ctx context.Context, limit int) (assigned, waiting int, err error) {
	trades, err := e.store.ListUnassignedTrades(ctx, limit)
	if err != nil {
		return 0, 0, err
	}
	for _, t := range trades {
		if ctx.Err() != nil {
			return assigned, waiting, ctx.Err()
		}
		_, ok, err := e.AssignTrade(ctx, t.Id)
		if err != nil {
			zap.L().Warn("Failed to assign trade", zap.String("trade_id", t.Id), zap.Error(err))
			waiting++
			continue
		}
		if ok {
			assigned++
		} else {
			waiting++
		}
	}
	if waiting > 0 {
		text := fmt.Sprintf("%d trade(s) are still waiting for an admin", waiting)
		if err := e.notifier.Notify(ctx, text); err != nil {
			zap.L().Error("Failed to notify ops about waiting trades", zap.Error(err))
		}
	}
	return assigned, waiting, nil
}

// GetTrade returns a trade visible to p. Users see only their own trades.
func (e *Engine) GetTrade(ctx context.Context, p models.Principal, tradeId string) (*models.Trade, error) {
	trade, err := e.store.GetTrade(ctx, tradeId)
	if err != nil {
		return nil, err
	}
	if !p.IsAdmin() && trade.UserId != p.Id {
		return nil, fmt.Errorf("trade %s: %w", tradeId, store.ErrForbidden)
	}
	return trade, nil
}

// ListTrades lists trades visible to p.
func (e *Engine) ListTrades(ctx context.Context, p models.Principal, filter models.TradeFilter) ([]models.Trade, error) {
	if !p.IsAdmin() {
		filter.UserId = p.Id
		filter.AdminId = ""
	}
	return e.store.ListTrades(ctx, filter)
}
