// Package settlement owns the trade lifecycle. Every transition runs in one store
// transaction that moves the ledger, updates the trade and appends the system chat
// message together. Events are published only after the commit.
//
// Escrow policy: a sell trade debits the user's crypto into the platform escrow
// account when it is created. Approval releases the escrow to the platform and pays
// the user in fiat; rejection or cancellation refunds it. Buy trades are paid in fiat
// outside the ledger, so nothing moves until approval credits the user's crypto.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"trade-settlement-go/internal/events"
	"trade-settlement-go/internal/metrics"
	"trade-settlement-go/internal/models"
	"trade-settlement-go/internal/notify"
	"trade-settlement-go/internal/provider"
	"trade-settlement-go/internal/store"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// PlatformSettlementAccount is the counterparty of settled trade legs.
const PlatformSettlementAccount = "platform:settlement"

type Engine struct {
	store      store.Store
	publisher  events.Publisher
	payouts    provider.FiatGateway
	notifier   notify.Notifier
	validate   *validator.Validate
	autoPayout bool
	maxLoad    int
	now        func() time.Time
}

// Option customises an Engine.
type Option func(*Engine)

func WithPublisher(p events.Publisher) Option { return func(e *Engine) { e.publisher = p } }

func WithPayouts(g provider.FiatGateway) Option { return func(e *Engine) { e.payouts = g } }

func WithNotifier(n notify.Notifier) Option { return func(e *Engine) { e.notifier = n } }

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

func NewEngine(st store.Store, settlement models.SettlementConfig, assignment models.AssignmentConfig, opts ...Option) *Engine {
	e := &Engine{
		store:      st,
		publisher:  events.Discard{},
		payouts:    provider.Disabled{},
		notifier:   notify.Log{},
		validate:   validator.New(),
		autoPayout: settlement.AutoPayout,
		maxLoad:    assignment.MaxLoad,
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) clock() time.Time {
	return e.now().UTC().Truncate(time.Microsecond)
}

// leg is one ledger movement of a transition.
type leg struct {
	credit bool
	params store.MovementParams
}

func reference(tradeId, step string) string {
	return fmt.Sprintf("trade:%s:%s", tradeId, step)
}

// escrowLegs move a sell trade's crypto from the user into escrow.
func escrowLegs(t *models.Trade) []leg {
	ref := reference(t.Id, "escrow")
	return []leg{
		{credit: false, params: store.MovementParams{
			UserId: t.UserId, Currency: t.Crypto, Amount: t.CryptoAmount,
			Reference: ref, Counterparty: models.EscrowAccount,
		}},
		{credit: true, params: store.MovementParams{
			UserId: models.EscrowAccount, Currency: t.Crypto, Amount: t.CryptoAmount,
			Reference: ref, Counterparty: t.UserId,
		}},
	}
}

// closingLegs are the movements that take trade t to outcome.
func (e *Engine) closingLegs(t *models.Trade, outcome models.TradeStatus) []leg {
	switch {
	case outcome == models.TradeCompleted && t.Type == models.TradeBuy:
		return []leg{
			{credit: true, params: store.MovementParams{
				UserId: t.UserId, Currency: t.Crypto, Amount: t.CryptoAmount,
				Reference: reference(t.Id, "settle"), Counterparty: PlatformSettlementAccount,
			}},
		}
	case outcome == models.TradeCompleted && t.Type == models.TradeSell:
		legs := []leg{
			{credit: false, params: store.MovementParams{
				UserId: models.EscrowAccount, Currency: t.Crypto, Amount: t.CryptoAmount,
				Reference: reference(t.Id, "release"), Counterparty: PlatformSettlementAccount,
			}},
		}
		if !e.autoPayout {
			legs = append(legs, leg{credit: true, params: store.MovementParams{
				UserId: t.UserId, Currency: t.FiatCurrency, Amount: t.FiatAmount,
				Reference: reference(t.Id, "settle"), Counterparty: PlatformSettlementAccount,
			}})
		}
		return legs
	case t.Type == models.TradeSell:
		ref := reference(t.Id, "refund")
		return []leg{
			{credit: false, params: store.MovementParams{
				UserId: models.EscrowAccount, Currency: t.Crypto, Amount: t.CryptoAmount,
				Reference: ref, Counterparty: t.UserId,
			}},
			{credit: true, params: store.MovementParams{
				UserId: t.UserId, Currency: t.Crypto, Amount: t.CryptoAmount,
				Reference: ref, Counterparty: models.EscrowAccount,
			}},
		}
	}
	return nil
}

func keysOf(legs []leg) []store.BalanceKey {
	keys := make([]store.BalanceKey, 0, len(legs))
	for _, l := range legs {
		keys = append(keys, store.BalanceKey{UserId: l.params.UserId, Currency: l.params.Currency})
	}
	return keys
}

func applyLegs(ctx context.Context, tx store.Tx, legs []leg) error {
	for _, l := range legs {
		var err error
		if l.credit {
			_, err = tx.Credit(ctx, l.params)
		} else {
			_, err = tx.Debit(ctx, l.params)
		}
		if err != nil {
			return fmt.Errorf("ledger movement %s for %s/%s: %w",
				l.params.Reference, l.params.UserId, l.params.Currency, err)
		}
	}
	return nil
}

// userBalances reads the trade owner's balances touched by legs.
func userBalances(ctx context.Context, tx store.Tx, userId string, legs []leg) ([]models.Balance, error) {
	var balances []models.Balance
	seen := make(map[models.Currency]bool)
	for _, l := range legs {
		if l.params.UserId != userId || seen[l.params.Currency] {
			continue
		}
		seen[l.params.Currency] = true
		b, err := tx.GetBalanceEntry(ctx, userId, l.params.Currency)
		if err != nil {
			return nil, err
		}
		balances = append(balances, *b)
	}
	return balances, nil
}

// lockTrade locks the balance rows a transition to outcome will touch, in sorted
// order, and then the trade row. The trade is re-read under its lock.
func (e *Engine) lockTrade(ctx context.Context, tx store.Tx, tradeId string, outcome models.TradeStatus) (*models.Trade, error) {
	if tradeId == "" {
		return nil, fmt.Errorf("%w: trade id is required", store.ErrInvalidArgument)
	}
	peek, err := tx.GetTrade(ctx, tradeId)
	if err != nil {
		return nil, err
	}
	if legs := e.closingLegs(peek, outcome); len(legs) > 0 {
		if err := tx.LockBalances(ctx, keysOf(legs)); err != nil {
			return nil, err
		}
	}
	return tx.LockTrade(ctx, tradeId)
}

// closing describes a terminal transition.
type closing struct {
	outcome models.TradeStatus
	actor   string // admin id for approve/reject, empty for a user cancel
	reason  string
	message string
	payout  *payoutAttempt // claimed before the transaction when the close pays fiat out
}

// close applies the legs and persists the terminal state of trade. When the close
// pays fiat out, the provider call comes after every database write so a failing
// write can never follow money that already left. It must run inside tx with trade locked.
func (e *Engine) close(ctx context.Context, tx store.Tx, trade *models.Trade, c closing) (*models.TradeResult, error) {
	from := trade.Status
	legs := e.closingLegs(trade, c.outcome)
	if err := applyLegs(ctx, tx, legs); err != nil {
		return nil, err
	}

	if trade.AssignedAdminId != "" {
		if err := tx.AdjustAdminLoad(ctx, trade.AssignedAdminId, -1); err != nil {
			return nil, err
		}
	}

	now := e.clock()
	if c.actor != "" {
		trade.AssignedAdminId = c.actor
		trade.SettledBy = c.actor
	}
	trade.Status = c.outcome
	trade.DecisionReason = c.reason
	trade.UpdatedAt = now
	trade.SettledAt = &now
	if err := tx.UpdateTrade(ctx, trade, from); err != nil {
		return nil, err
	}

	msg := models.NewSystemMessage(trade.Id, c.message)
	if err := tx.AppendMessage(ctx, msg); err != nil {
		return nil, err
	}

	balances, err := userBalances(ctx, tx, trade.UserId, legs)
	if err != nil {
		return nil, err
	}

	if e.paysOut(trade, c.outcome) {
		if err := e.sendPayout(ctx, tx, trade, c.payout); err != nil {
			return nil, err
		}
	}
	return &models.TradeResult{Trade: trade, Balances: balances, Message: msg}, nil
}

// emit publishes events after commit. It never blocks on consumers.
func (e *Engine) emit(eventType models.EventType, trade *models.Trade, msg *models.ChatMessage, dispute *models.Dispute) {
	now := e.clock()
	snapshot := *trade
	e.publisher.Publish(models.TradeEvent{
		Type: eventType, TradeId: trade.Id, Trade: &snapshot, Dispute: dispute, OccurredAt: now,
	})
	if msg != nil {
		metrics.ChatMessages.WithLabelValues(string(msg.SenderType)).Inc()
		e.publisher.Publish(models.TradeEvent{
			Type: models.EventChatMessage, TradeId: trade.Id, Message: msg, OccurredAt: now,
		})
	}
}

func (e *Engine) recordFailure(op, tradeId string, err error) {
	reason := failureReason(err)
	metrics.SettlementFailures.WithLabelValues(reason).Inc()
	zap.L().Warn("Trade operation rolled back",
		zap.String("operation", op),
		zap.String("trade_id", tradeId),
		zap.String("reason", reason),
		zap.Error(err))
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, store.ErrProviderFailure):
		return "provider_failure"
	case errors.Is(err, store.ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, store.ErrConcurrentModification):
		return "concurrent_modification"
	case errors.Is(err, store.ErrInvalidStateTransition):
		return "invalid_state"
	case errors.Is(err, store.ErrNotFound):
		return "not_found"
	case errors.Is(err, store.ErrForbidden):
		return "forbidden"
	case errors.Is(err, store.ErrInvalidArgument):
		return "invalid_argument"
	}
	return "internal"
}
