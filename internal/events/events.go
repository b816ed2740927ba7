// Package events publishes sync notifications to in-process subscribers and,
// optionally, to a Kafka topic.
package events

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Type names an event.
type Type string

// Events emitted by the sync core.
const (
	AvailabilityPushed  Type = "availability_pushed"
	RatesPushed         Type = "rates_pushed"
	ReservationsPulled  Type = "reservations_pulled"
	ReservationImported Type = "reservation_imported"
)

// Event is one notification. Payload is one of the *Payload types below.
type Event struct {
	Type      Type      `json:"type"`
	Channel   string    `json:"channel"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

// PushPayload accompanies AvailabilityPushed and RatesPushed.
type PushPayload struct {
	SyncLogID        int64  `json:"sync_log_id"`
	Status           string `json:"status"`
	RecordsProcessed int    `json:"records_processed"`
	Message          string `json:"message,omitempty"`
}

// PullPayload accompanies ReservationsPulled.
type PullPayload struct {
	SyncLogID          int64   `json:"sync_log_id"`
	Status             string  `json:"status"`
	Received           int     `json:"received"`
	ImportedBookingIDs []int64 `json:"imported_booking_ids"`
	Message            string  `json:"message,omitempty"`
}

// ImportPayload accompanies ReservationImported.
type ImportPayload struct {
	BookingID  int64  `json:"booking_id"`
	ExternalID string `json:"external_id"`
}

// Handler receives published events. Handlers run synchronously on the
// publishing goroutine.
type Handler func(ctx context.Context, e Event)

// Bus fans events out to subscribers. It is safe for concurrent use.
type Bus struct {
	mu     sync.RWMutex
	byType map[Type][]Handler
	all    []Handler
	log    *slog.Logger
}

// NewBus creates an empty bus.
func NewBus(logger *slog.Logger) *Bus {
	return &Bus{byType: make(map[Type][]Handler), log: logger}
}

// Subscribe registers h for events of type t.
func (b *Bus) Subscribe(t Type, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.byType[t] = append(b.byType[t], h)
}

// SubscribeAll registers h for every event.
func (b *Bus) SubscribeAll(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.all = append(b.all, h)
}

// Publish delivers e to the type-specific subscribers, then to the catch-all
// subscribers, in registration order. A panicking handler is logged and
// does not stop delivery to the others.
func (b *Bus) Publish(ctx context.Context, e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.byType[e.Type])+len(b.all))
	handlers = append(handlers, b.byType[e.Type]...)
	handlers = append(handlers, b.all...)
	b.mu.RUnlock()

	for _, h := range handlers {
		b.deliver(ctx, h, e)
	}
}

func (b *Bus) deliver(ctx context.Context, h Handler, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("event handler panicked", "event", e.Type, "channel", e.Channel, "panic", r)
		}
	}()
	h(ctx, e)
}
