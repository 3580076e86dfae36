// Package chat keeps the message thread attached to each trade and handles the
// dispute sub-state. The stored message is the durable record; realtime fan-out
// happens after commit and may be missed, so clients re-read History by sequence.
package chat

import (
	"context"
	"fmt"
	"strings"
	"time"

	"trade-settlement-go/internal/events"
	"trade-settlement-go/internal/metrics"
	"trade-settlement-go/internal/models"
	"trade-settlement-go/internal/notify"
	"trade-settlement-go/internal/ratelimit"
	"trade-settlement-go/internal/store"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"
)

const maxMessageLength = 4000

type Coordinator struct {
	store     store.Store
	publisher events.Publisher
	notifier  notify.Notifier
	limiter   ratelimit.Limiter
	policy    *bluemonday.Policy
	validate  *validator.Validate

	disputeLimit  int
	disputeWindow time.Duration
	now           func() time.Time
}

// Option customises a Coordinator.
type Option func(*Coordinator)

func WithPublisher(p events.Publisher) Option { return func(c *Coordinator) { c.publisher = p } }

func WithNotifier(n notify.Notifier) Option { return func(c *Coordinator) { c.notifier = n } }

// WithDisputeThrottle adds a fast pre-check in front of the durable per-user dispute count.
func WithDisputeThrottle(l ratelimit.Limiter) Option { return func(c *Coordinator) { c.limiter = l } }

func WithClock(now func() time.Time) Option { return func(c *Coordinator) { c.now = now } }

func NewCoordinator(st store.Store, disputes models.DisputeConfig, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:         st,
		publisher:     events.Discard{},
		notifier:      notify.Log{},
		limiter:       ratelimit.Unlimited{},
		policy:        bluemonday.StrictPolicy(),
		validate:      validator.New(),
		disputeLimit:  disputes.Limit,
		disputeWindow: disputes.Window,
		now:           func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// PostMessageRequest is a chat message from a trade participant.
type PostMessageRequest struct {
	TradeId     string             `json:"-"`
	Sender      models.Principal   `json:"-"`
	Message     string             `json:"message"`
	MessageType models.MessageType `json:"message_type"`
}

func (c *Coordinator) clean(req *PostMessageRequest) error {
	if req.MessageType == "" {
		req.MessageType = models.MessageText
	}
	switch req.MessageType {
	case models.MessageText:
		req.Message = strings.TrimSpace(c.policy.Sanitize(req.Message))
		if req.Message == "" {
			return fmt.Errorf("%w: message is empty", store.ErrInvalidArgument)
		}
		if len(req.Message) > maxMessageLength {
			return fmt.Errorf("%w: message longer than %d bytes", store.ErrInvalidArgument, maxMessageLength)
		}
	case models.MessageImage:
		req.Message = strings.TrimSpace(req.Message)
		if err := c.validate.Var(req.Message, "required,url,max=2048"); err != nil {
			return fmt.Errorf("%w: image reference: %v", store.ErrInvalidArgument, err)
		}
	default:
		return fmt.Errorf("%w: unsupported message type %q", store.ErrInvalidArgument, req.MessageType)
	}
	return nil
}

func senderType(p models.Principal) models.SenderType {
	if p.IsAdmin() {
		return models.SenderAdmin
	}
	return models.SenderUser
}

// canAccess lets the trade owner and any admin into the thread.
func canAccess(p models.Principal, trade *models.Trade) bool {
	return p.IsAdmin() || (p.Id != "" && trade.UserId == p.Id)
}

// PostMessage appends a message to the trade thread and broadcasts it. Closed trades
// still accept messages.
func (c *Coordinator) PostMessage(ctx context.Context, req PostMessageRequest) (*models.ChatMessage, error) {
	if err := c.clean(&req); err != nil {
		return nil, err
	}

	msg := &models.ChatMessage{
		TradeId:     req.TradeId,
		SenderId:    req.Sender.Id,
		SenderType:  senderType(req.Sender),
		Message:     req.Message,
		MessageType: req.MessageType,
	}
	err := c.store.WithTx(ctx, func(tx store.Tx) error {
		// The trade row lock serializes appends to one thread.
		trade, err := tx.LockTrade(ctx, req.TradeId)
		if err != nil {
			return err
		}
		if !canAccess(req.Sender, trade) {
			return fmt.Errorf("trade %s: %w", req.TradeId, store.ErrForbidden)
		}
		return tx.AppendMessage(ctx, msg)
	})
	if err != nil {
		return nil, err
	}

	metrics.ChatMessages.WithLabelValues(string(msg.SenderType)).Inc()
	c.publisher.Publish(models.TradeEvent{
		Type: models.EventChatMessage, TradeId: msg.TradeId, Message: msg, OccurredAt: msg.CreatedAt,
	})
	return msg, nil
}

// History returns the thread after afterSeq in posting order.
func (c *Coordinator) History(ctx context.Context, p models.Principal, tradeId string, afterSeq int64, limit int) ([]models.ChatMessage, error) {
	trade, err := c.store.GetTrade(ctx, tradeId)
	if err != nil {
		return nil, err
	}
	if !canAccess(p, trade) {
		return nil, fmt.Errorf("trade %s: %w", tradeId, store.ErrForbidden)
	}
	return c.store.ListMessages(ctx, tradeId, afterSeq, limit)
}

// RaiseDisputeRequest is the trade owner's complaint.
type RaiseDisputeRequest struct {
	TradeId  string `json:"-" validate:"required"`
	UserId   string `json:"-" validate:"required"`
	Reason   string `json:"reason" validate:"required,max=2000"`
	Evidence string `json:"evidence" validate:"max=2048"`
}

// RaiseDispute freezes an open trade. Only the owner may dispute, at most one dispute
// is open per trade, and each user may raise a limited number per rolling window.
func (c *Coordinator) RaiseDispute(ctx context.Context, req RaiseDisputeRequest) (*models.Dispute, error) {
	req.Reason = strings.TrimSpace(c.policy.Sanitize(req.Reason))
	req.Evidence = strings.TrimSpace(req.Evidence)
	if err := c.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrInvalidArgument, err)
	}

	now := c.now().UTC().Truncate(time.Microsecond)
	dispute := &models.Dispute{
		Id:        uuid.New().String(),
		TradeId:   req.TradeId,
		UserId:    req.UserId,
		Reason:    req.Reason,
		Evidence:  req.Evidence,
		Status:    models.DisputeOpen,
		CreatedAt: now,
	}

	var trade *models.Trade
	var msg *models.ChatMessage
	err := c.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		trade, err = tx.LockTrade(ctx, req.TradeId)
		if err != nil {
			return err
		}
		if trade.UserId != req.UserId {
			return fmt.Errorf("trade %s belongs to another user: %w", req.TradeId, store.ErrForbidden)
		}
		if trade.Status == models.TradeDisputed {
			return fmt.Errorf("trade %s already has an open dispute: %w", req.TradeId, store.ErrInvalidStateTransition)
		}
		if !trade.Status.IsOpen() {
			return fmt.Errorf("cannot dispute %s trade %s: %w", trade.Status, req.TradeId, store.ErrInvalidStateTransition)
		}

		if c.disputeLimit > 0 {
			n, err := tx.CountDisputesSince(ctx, req.UserId, now.Add(-c.disputeWindow))
			if err != nil {
				return err
			}
			if n >= c.disputeLimit {
				return fmt.Errorf("user %s raised %d disputes in %s: %w", req.UserId, n, c.disputeWindow, store.ErrRateLimited)
			}
		}

		// Only a dispute that passed every check takes a throttle slot.
		ok, err := c.limiter.Allow(ctx, req.UserId)
		if err != nil {
			zap.L().Warn("Dispute throttle unavailable, relying on stored count", zap.Error(err))
		} else if !ok {
			return fmt.Errorf("user %s: %w", req.UserId, store.ErrRateLimited)
		}

		if err := tx.InsertDispute(ctx, dispute); err != nil {
			return err
		}
		from := trade.Status
		trade.Status = models.TradeDisputed
		trade.UpdatedAt = now
		if err := tx.UpdateTrade(ctx, trade, from); err != nil {
			return err
		}

		msg = models.NewSystemMessage(trade.Id, fmt.Sprintf("Dispute raised: %s", req.Reason))
		return tx.AppendMessage(ctx, msg)
	})
	if err != nil {
		return nil, err
	}

	metrics.DisputesRaised.Inc()
	metrics.TradeTransitions.WithLabelValues(string(models.TradeDisputed)).Inc()
	metrics.ChatMessages.WithLabelValues(string(msg.SenderType)).Inc()
	zap.L().Info("Dispute raised",
		zap.String("trade_id", trade.Id),
		zap.String("dispute_id", dispute.Id),
		zap.String("user_id", req.UserId))

	snapshot := *trade
	c.publisher.Publish(models.TradeEvent{
		Type: models.EventTradeDisputed, TradeId: trade.Id, Trade: &snapshot, Dispute: dispute, OccurredAt: now,
	})
	c.publisher.Publish(models.TradeEvent{
		Type: models.EventChatMessage, TradeId: trade.Id, Message: msg, OccurredAt: msg.CreatedAt,
	})

	text := fmt.Sprintf("Dispute %s raised on trade %s: %s", dispute.Id, trade.Id, req.Reason)
	if err := c.notifier.Notify(ctx, text); err != nil {
		zap.L().Error("Failed to notify ops about dispute", zap.String("trade_id", trade.Id), zap.Error(err))
	}
	return dispute, nil
}
