package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"trade-settlement-go/internal/models"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const publishTimeout = 5 * time.Second

// AmqpSink publishes every trade event to a topic exchange, routed by event type.
type AmqpSink struct {
	exchange string

	mu       sync.Mutex
	conn     *amqp.Connection
	channel  *amqp.Channel
	declared bool
}

func NewAmqpSink(amqpURL, exchange string) (*AmqpSink, error) {
	cleanURL, err := sanitizeAmqpURL(amqpURL)
	if err != nil {
		return nil, err
	}
	if exchange == "" {
		exchange = "trade.events"
	}

	conn, err := amqp.DialConfig(cleanURL, amqp.Config{Dial: amqp.DefaultDial(10 * time.Second)})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to broker: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	zap.L().Info("AMQP event sink connected", zap.String("exchange", exchange))
	return &AmqpSink{exchange: exchange, conn: conn, channel: channel}, nil
}

func (s *AmqpSink) Name() string { return "amqp" }

func (s *AmqpSink) Handle(ctx context.Context, event models.TradeEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.declared {
		if err := s.channel.ExchangeDeclare(s.exchange, "topic", true, false, false, false, nil); err != nil {
			return fmt.Errorf("failed to declare exchange: %w", err)
		}
		s.declared = true
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	return s.channel.PublishWithContext(pubCtx, s.exchange, string(event.Type), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    event.TradeId,
		Timestamp:    event.OccurredAt,
		Body:         payload,
	})
}

func (s *AmqpSink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.channel != nil {
		s.channel.Close()
	}
	if s.conn != nil {
		s.conn.Close()
	}
}

func sanitizeAmqpURL(raw string) (string, error) {
	clean := strings.Trim(strings.TrimSpace(raw), "\"'")
	parsed, err := url.Parse(clean)
	if err != nil {
		return "", err
	}
	if parsed.Scheme != "amqp" && parsed.Scheme != "amqps" {
		return "", errors.New("AMQP scheme must be either 'amqp://' or 'amqps://'")
	}
	return clean, nil
}
