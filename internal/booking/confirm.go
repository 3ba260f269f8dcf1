// Package booking turns a chosen candidate into a durable calendar
// reservation exactly once. The capacity re-check here is the authoritative
// guard against the race between "slot offered" and "slot confirmed"; the
// deterministic booking key makes repeated confirmations collapse onto the
// same event.
package booking

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"prenotabot/internal/events"
	"prenotabot/internal/models"
)

// Outcome of a confirmation attempt.
type Outcome int

const (
	// OutcomeBooked: a new calendar event was written.
	OutcomeBooked Outcome = iota
	// OutcomeAlreadyBooked: an event with the same booking key already
	// existed; no duplicate was written.
	OutcomeAlreadyBooked
	// OutcomeConflict: the slot was taken between offer and confirmation.
	OutcomeConflict
)

// Result carries the outcome and, when booked, the reservation.
type Result struct {
	Outcome     Outcome
	Reservation models.Reservation
}

// Calendar is the slice of the calendar collaborator confirmation needs.
type Calendar interface {
	SlotAvailable(ctx context.Context, calendarID string, start, end time.Time, capacity int) (bool, error)
	FindByBookingKey(ctx context.Context, calendarID, key string) (string, error)
	InsertReservation(ctx context.Context, calendarID string, res models.Reservation, timezone string) (string, error)
}

// CustomerStore updates the per-shop visit history after a booking.
type CustomerStore interface {
	Customer(ctx context.Context, shopID, phone string) (*models.Customer, error)
	UpsertCustomer(ctx context.Context, cust models.Customer) error
}

// Confirmer performs race-safe, idempotent confirmation.
type Confirmer struct {
	calendar  Calendar
	customers CustomerStore
	bus       *events.Bus
	logger    *zerolog.Logger
}

// NewConfirmer wires the confirmation dependencies. bus may be nil.
func NewConfirmer(calendar Calendar, customers CustomerStore, bus *events.Bus, logger *zerolog.Logger) *Confirmer {
	return &Confirmer{calendar: calendar, customers: customers, bus: bus, logger: logger}
}

// Key derives the deterministic idempotency key of a booking from its
// defining fields. Two confirmation attempts for the same booking always
// produce the same key.
func Key(shopID, phone, serviceName string, start time.Time) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s|%s", shopID, phone, serviceName, start.UTC().Format(time.RFC3339))))
	return hex.EncodeToString(sum[:])
}

// Confirm re-checks the slot, then writes the reservation unless an event
// with the same booking key already exists.
func (c *Confirmer) Confirm(ctx context.Context, shop models.Shop, svc models.Service, cand models.Candidate, phone string) (Result, error) {
	free, err := c.calendar.SlotAvailable(ctx, cand.Operator.CalendarID, cand.Start, cand.End, shop.Capacity)
	if err != nil {
		return Result{}, fmt.Errorf("re-check slot: %w", err)
	}

	res := models.Reservation{
		ShopID:      shop.ID,
		Phone:       phone,
		ServiceName: svc.Name,
		Operator:    cand.Operator,
		Start:       cand.Start,
		End:         cand.End,
		BookingKey:  Key(shop.ID, phone, svc.Name, cand.Start),
	}

	if !free {
		// The key may already be ours from a previous delivery of the same
		// confirmation; a duplicate webhook must not read as a conflict.
		eventID, ferr := c.calendar.FindByBookingKey(ctx, cand.Operator.CalendarID, res.BookingKey)
		if ferr == nil && eventID != "" {
			res.EventID = eventID
			return Result{Outcome: OutcomeAlreadyBooked, Reservation: res}, nil
		}
		c.publish(events.TypeBookingConflict, res)
		return Result{Outcome: OutcomeConflict, Reservation: res}, nil
	}

	eventID, err := c.calendar.FindByBookingKey(ctx, cand.Operator.CalendarID, res.BookingKey)
	if err != nil {
		return Result{}, fmt.Errorf("idempotency lookup: %w", err)
	}
	if eventID != "" {
		res.EventID = eventID
		return Result{Outcome: OutcomeAlreadyBooked, Reservation: res}, nil
	}

	res.EventID, err = c.calendar.InsertReservation(ctx, cand.Operator.CalendarID, res, shop.Timezone)
	if err != nil {
		return Result{}, fmt.Errorf("insert reservation: %w", err)
	}

	c.updateHistory(ctx, shop, svc, phone, cand.Start)
	c.publish(events.TypeBookingConfirmed, res)
	return Result{Outcome: OutcomeBooked, Reservation: res}, nil
}

// updateHistory best-effort increments the visit history; the booking stands
// even when the history write fails.
func (c *Confirmer) updateHistory(ctx context.Context, shop models.Shop, svc models.Service, phone string, start time.Time) {
	cust, err := c.customers.Customer(ctx, shop.ID, phone)
	if err != nil {
		c.warn(err, "load customer history")
		return
	}
	if cust == nil {
		cust = &models.Customer{ShopID: shop.ID, Phone: phone}
	}
	cust.LastService = svc.Name
	cust.TotalVisits++
	cust.LastVisit = start
	if err := c.customers.UpsertCustomer(ctx, *cust); err != nil {
		c.warn(err, "update customer history")
	}
}

func (c *Confirmer) publish(eventType string, res models.Reservation) {
	if c.bus != nil {
		c.bus.Publish(events.Event{Type: eventType, Reservation: res})
	}
}

func (c *Confirmer) warn(err error, msg string) {
	if c.logger != nil {
		c.logger.Warn().Err(err).Msg(msg)
	}
}
