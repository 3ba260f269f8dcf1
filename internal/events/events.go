// Package events is a small synchronous in-process pub/sub used to fan out
// booking facts (journal, metrics) without coupling the engine to them.
package events

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"prenotabot/internal/models"
)

// Event types published by the engine.
const (
	TypeBookingConfirmed = "booking_confirmed"
	TypeBookingConflict  = "booking_conflict"
)

// Event is one domain fact.
type Event struct {
	ID          string
	Type        string
	Reservation models.Reservation
	CreatedAt   time.Time
}

// Handler reacts to an event. Handlers run synchronously on the publishing
// goroutine; the caller decides the concurrency model.
type Handler func(event Event) error

// Bus routes events to subscribers by type.
type Bus struct {
	subscribers map[string][]Handler
	mu          sync.RWMutex
}

// NewBus constructs an empty bus.
func NewBus() *Bus {
	return &Bus{subscribers: make(map[string][]Handler)}
}

// Subscribe registers a handler for a given event type.
func (b *Bus) Subscribe(eventType string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// Publish notifies subscribers of the event type. A failing handler never
// fails the booking that caused the event.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	handlers := append([]Handler(nil), b.subscribers[event.Type]...)
	b.mu.RUnlock()

	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	for _, handler := range handlers {
		_ = handler(event)
	}
}
