// Package events provides the process-wide audit event bus. It replaces an
// in-memory log with ad-hoc listener callbacks by an explicit
// publish/subscribe instance with documented init and teardown.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"autotrader/internal/domain"
	"autotrader/internal/ports"
)

// Publisher is the write side of the bus, all the engine components need.
type Publisher interface {
	Publish(ctx context.Context, event domain.AutoTradeEvent)
}

// Subscriber consumes published events. Handlers must not block; slow sinks
// should queue internally.
type Subscriber func(ctx context.Context, event domain.AutoTradeEvent)

// Bus fans published audit events out to subscribers. One instance per
// process, created in main and closed on shutdown. Publish after Close is a
// no-op.
type Bus struct {
	mu          sync.RWMutex
	subscribers []Subscriber
	closed      bool
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers a sink for all subsequently published events.
func (b *Bus) Subscribe(s Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.subscribers = append(b.subscribers, s)
}

// Publish assigns the event an id and timestamp if missing and delivers it to
// every subscriber in registration order.
func (b *Bus) Publish(ctx context.Context, event domain.AutoTradeEvent) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	b.mu.RLock()
	closed := b.closed
	subs := make([]Subscriber, len(b.subscribers))
	copy(subs, b.subscribers)
	b.mu.RUnlock()

	if closed {
		return
	}
	for _, s := range subs {
		s(ctx, event)
	}
}

// Close tears the bus down; later publishes and subscribes are ignored.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.subscribers = nil
}

// LedgerSink persists every event through the repository. Append failures are
// logged and dropped; the audit trail must never fail a trading operation.
func LedgerSink(repo ports.EventRepository, logger ports.Logger) Subscriber {
	return func(ctx context.Context, event domain.AutoTradeEvent) {
		if err := repo.Append(ctx, &event); err != nil {
			logger.Warn(ctx, "Failed to persist audit event", map[string]interface{}{
				"ticker":  event.Ticker,
				"message": event.Message,
				"error":   err.Error(),
			})
		}
	}
}

// LogSink mirrors every event into the application log.
func LogSink(logger ports.Logger) Subscriber {
	return func(ctx context.Context, event domain.AutoTradeEvent) {
		fields := map[string]interface{}{
			"ticker": event.Ticker,
			"action": string(event.Action),
			"source": string(event.Source),
		}
		if event.SkipReason != "" {
			fields["skipReason"] = event.SkipReason
		}
		switch event.Severity {
		case domain.SeverityError:
			logger.Error(ctx, nil, event.Message, fields)
		case domain.SeverityWarning:
			logger.Warn(ctx, event.Message, fields)
		default:
			logger.Info(ctx, event.Message, fields)
		}
	}
}
