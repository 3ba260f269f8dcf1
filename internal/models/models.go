// Package models holds the typed entities the booking engine operates on.
// External rows (spreadsheet tabs, calendar events) are mapped into these
// types at the collaborator boundary; the core never sees raw key-value rows.
package models

import (
	"fmt"
	"time"
)

// Shop is one tenant of the booking system.
type Shop struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Timezone        string `json:"timezone"`
	CalendarID      string `json:"calendar_id"`
	Capacity        int    `json:"capacity"`     // concurrent bookings per slot
	SlotMinutes     int    `json:"slot_minutes"` // slot granularity
	TransportNumber string `json:"transport_number"`
}

// Location resolves the shop timezone, falling back to UTC on a bad value.
func (s Shop) Location() *time.Location {
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Service is a bookable service of a shop.
type Service struct {
	ShopID   string   `json:"shop_id"`
	Name     string   `json:"name"`
	Duration int      `json:"duration"` // minutes
	Active   bool     `json:"active"`
	Aliases  []string `json:"aliases,omitempty"`
}

// Operator is a service-provider within a shop with an independent calendar.
type Operator struct {
	ShopID     string `json:"shop_id"`
	ID         string `json:"operator_id"`
	Name       string `json:"name"`
	CalendarID string `json:"calendar_id"`
	Priority   int    `json:"priority"` // lower = preferred
	Active     bool   `json:"active"`
}

// TimeOfDay is a wall-clock time within a day.
type TimeOfDay struct {
	Hour   int `json:"hour"`
	Minute int `json:"minute"`
}

// Minutes returns minutes since midnight.
func (t TimeOfDay) Minutes() int { return t.Hour*60 + t.Minute }

func (t TimeOfDay) String() string { return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute) }

// On places the time of day onto a calendar date in the date's location.
func (t TimeOfDay) On(date time.Time) time.Time {
	return time.Date(date.Year(), date.Month(), date.Day(), t.Hour, t.Minute, 0, 0, date.Location())
}

// OpenInterval is one [Start,End) opening window of a weekday.
type OpenInterval struct {
	Start TimeOfDay `json:"start"`
	End   TimeOfDay `json:"end"`
}

// OperatingHours maps a weekday to its open intervals. No entry = closed.
type OperatingHours map[time.Weekday][]OpenInterval

// Intervals returns the open intervals for a weekday.
func (h OperatingHours) Intervals(day time.Weekday) []OpenInterval { return h[day] }

// ShopConfig bundles everything loaded from the config store for one turn.
type ShopConfig struct {
	Shop      Shop
	Services  []Service
	Hours     OperatingHours
	Operators []Operator
}

// ActiveServices filters the catalog to active services, catalog order kept.
func (c ShopConfig) ActiveServices() []Service {
	var out []Service
	for _, s := range c.Services {
		if s.Active {
			out = append(out, s)
		}
	}
	return out
}

// ActiveOperators filters to active operators, catalog order kept.
func (c ShopConfig) ActiveOperators() []Operator {
	var out []Operator
	for _, o := range c.Operators {
		if o.Active {
			out = append(out, o)
		}
	}
	return out
}

// Candidate is a bookable (start, end, operator) produced by availability
// search. It lives only inside a session's offer list until chosen.
type Candidate struct {
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	Operator Operator  `json:"operator"`
}

// Customer is the per-shop history of a phone number. Unlike a session it
// never expires; it is updated only on confirmed bookings.
type Customer struct {
	ShopID      string    `json:"shop_id"`
	Phone       string    `json:"phone"`
	LastService string    `json:"last_service"`
	TotalVisits int       `json:"total_visits"`
	LastVisit   time.Time `json:"last_visit"`
}

// Reservation is the durable record of a confirmed booking.
type Reservation struct {
	ShopID      string    `json:"shop_id"`
	Phone       string    `json:"phone"`
	ServiceName string    `json:"service_name"`
	Operator    Operator  `json:"operator"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	BookingKey  string    `json:"booking_key"`
	EventID     string    `json:"event_id,omitempty"`
}
