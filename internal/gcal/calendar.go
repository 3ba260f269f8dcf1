// Package gcal is the Google Calendar collaborator: capacity checks for
// availability search and idempotent event writes for confirmed bookings.
package gcal

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2/google"
	calendar "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"prenotabot/internal/models"
)

// bookingKeyProp is the private extended property carrying the idempotency
// key of an event created by us.
const bookingKeyProp = "booking_key"

// closureKeywords in an event summary block the whole slot regardless of the
// event's busy/free marking and of spare capacity.
var closureKeywords = []string{"chiuso", "chiusura", "ferie", "vacanza", "malattia"}

// Client wraps the Calendar API with bounded per-call timeouts.
type Client struct {
	service *calendar.Service
	timeout time.Duration
}

// NewClient builds a client from a service-account credentials file.
func NewClient(ctx context.Context, credentialsFile string, timeout time.Duration) (*Client, error) {
	credentialsJSON, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("unable to read credentials file: %w", err)
	}

	config, err := google.JWTConfigFromJSON(credentialsJSON, calendar.CalendarScope)
	if err != nil {
		return nil, fmt.Errorf("unable to parse credentials: %w", err)
	}

	srv, err := calendar.NewService(ctx, option.WithHTTPClient(config.Client(ctx)))
	if err != nil {
		return nil, fmt.Errorf("unable to create Calendar service: %w", err)
	}

	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{service: srv, timeout: timeout}, nil
}

// SlotAvailable reports whether fewer than capacity blocking events overlap
// [start,end) on the calendar. A closure-keyword event blocks outright.
func (c *Client) SlotAvailable(ctx context.Context, calendarID string, start, end time.Time, capacity int) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	list, err := c.service.Events.List(calendarID).
		TimeMin(start.Format(time.RFC3339)).
		TimeMax(end.Format(time.RFC3339)).
		SingleEvents(true).
		Context(ctx).
		Do()
	if err != nil {
		return false, fmt.Errorf("list events for %s: %w", calendarID, err)
	}

	return slotOpen(list.Items, capacity), nil
}

// slotOpen counts blocking events against the capacity. Cancelled and
// transparent events do not count; a closure-keyword event blocks even when
// marked transparent.
func slotOpen(items []*calendar.Event, capacity int) bool {
	if capacity <= 0 {
		capacity = 1
	}
	blocking := 0
	for _, ev := range items {
		if ev.Status == "cancelled" {
			continue
		}
		if hasClosureKeyword(ev.Summary) {
			return false
		}
		if ev.Transparency == "transparent" {
			continue
		}
		blocking++
	}
	return blocking < capacity
}

// FindByBookingKey returns the id of an event previously written with the
// key, or "" when none exists.
func (c *Client) FindByBookingKey(ctx context.Context, calendarID, key string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	list, err := c.service.Events.List(calendarID).
		PrivateExtendedProperty(bookingKeyProp + "=" + key).
		MaxResults(1).
		Context(ctx).
		Do()
	if err != nil {
		return "", fmt.Errorf("find event by booking key: %w", err)
	}
	if len(list.Items) == 0 {
		return "", nil
	}
	return list.Items[0].Id, nil
}

// InsertReservation writes the reservation as a calendar event carrying the
// booking key and correlation metadata in private extended properties.
func (c *Client) InsertReservation(ctx context.Context, calendarID string, res models.Reservation, timezone string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	event := &calendar.Event{
		Summary:     fmt.Sprintf("%s – %s", res.ServiceName, res.Phone),
		Description: fmt.Sprintf("Prenotazione via bot\nServizio: %s\nCliente: %s\nOperatore: %s", res.ServiceName, res.Phone, res.Operator.Name),
		Start:       &calendar.EventDateTime{DateTime: res.Start.Format(time.RFC3339), TimeZone: timezone},
		End:         &calendar.EventDateTime{DateTime: res.End.Format(time.RFC3339), TimeZone: timezone},
		ExtendedProperties: &calendar.EventExtendedProperties{
			Private: map[string]string{
				bookingKeyProp: res.BookingKey,
				"shop_id":      res.ShopID,
				"phone":        res.Phone,
				"service":      res.ServiceName,
				"operator_id":  res.Operator.ID,
			},
		},
	}

	created, err := c.service.Events.Insert(calendarID, event).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("insert event: %w", err)
	}
	return created.Id, nil
}

func hasClosureKeyword(summary string) bool {
	summary = strings.ToLower(summary)
	for _, kw := range closureKeywords {
		if strings.Contains(summary, kw) {
			return true
		}
	}
	return false
}
