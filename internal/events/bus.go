// Package events fans committed trade events out to sinks without ever blocking the
// writer that produced them. Delivery is at most once.
package events

import (
	"context"
	"sync"

	"trade-settlement-go/internal/metrics"
	"trade-settlement-go/internal/models"

	"go.uber.org/zap"
)

const defaultBufferSize = 256

// Publisher is the hook the settlement core calls after each commit.
type Publisher interface {
	Publish(event models.TradeEvent)
}

// Sink receives events on the bus goroutine. A slow sink delays the others, so sinks
// that do network I/O should bound their own calls.
type Sink interface {
	Name() string
	Handle(ctx context.Context, event models.TradeEvent) error
}

// Discard drops every event.
type Discard struct{}

func (Discard) Publish(models.TradeEvent) {}

// Bus buffers events and delivers them to every registered sink in publish order.
type Bus struct {
	events chan models.TradeEvent
	sinks  []Sink

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewBus(bufferSize int, sinks ...Sink) *Bus {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	return &Bus{
		events: make(chan models.TradeEvent, bufferSize),
		sinks:  sinks,
	}
}

// Subscribe adds a sink. It must be called before Start.
func (b *Bus) Subscribe(sink Sink) {
	b.sinks = append(b.sinks, sink)
}

// Publish enqueues event, dropping it when the buffer is full or the bus is closed.
func (b *Bus) Publish(event models.TradeEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}

	select {
	case b.events <- event:
	default:
		metrics.EventsDropped.Inc()
		zap.L().Warn("Event buffer full, dropping event",
			zap.String("type", string(event.Type)),
			zap.String("trade_id", event.TradeId))
	}
}

// Start runs the delivery loop until Close drains the buffer.
func (b *Bus) Start(ctx context.Context) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for event := range b.events {
			b.deliver(ctx, event)
		}
	}()
	zap.L().Info("Event bus started", zap.Int("sinks", len(b.sinks)))
}

func (b *Bus) deliver(ctx context.Context, event models.TradeEvent) {
	for _, sink := range b.sinks {
		if err := sink.Handle(ctx, event); err != nil {
			metrics.SinkErrors.WithLabelValues(sink.Name()).Inc()
			zap.L().Error("Event sink failed",
				zap.String("sink", sink.Name()),
				zap.String("type", string(event.Type)),
				zap.String("trade_id", event.TradeId),
				zap.Error(err))
		}
	}
}

// Close stops accepting events and waits for buffered ones to be delivered.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	close(b.events)
	b.mu.Unlock()

	b.wg.Wait()
	zap.L().Info("Event bus stopped")
}
