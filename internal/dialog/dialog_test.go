package dialog

import (
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prenotabot/internal/availability"
	"prenotabot/internal/booking"
	"prenotabot/internal/models"
	"prenotabot/internal/session"
)

// fakeCalendar backs both the availability checker and the confirmer: an
// inserted reservation takes its slot and is findable by booking key.
type fakeCalendar struct {
	mu    sync.Mutex
	busy  map[string]bool   // calendarID + "|" + unix start
	byKey map[string]string // booking key -> event id
}

func newFakeCalendar() *fakeCalendar {
	return &fakeCalendar{busy: make(map[string]bool), byKey: make(map[string]string)}
}

func slotID(calendarID string, start time.Time) string {
	return calendarID + "|" + start.UTC().Format(time.RFC3339)
}

func (f *fakeCalendar) block(calendarID string, start time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.busy[slotID(calendarID, start)] = true
}

func (f *fakeCalendar) SlotAvailable(_ context.Context, calendarID string, start, _ time.Time, _ int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.busy[slotID(calendarID, start)], nil
}

func (f *fakeCalendar) FindByBookingKey(_ context.Context, _, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.byKey[key], nil
}

func (f *fakeCalendar) InsertReservation(_ context.Context, calendarID string, res models.Reservation, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := "evt-" + res.BookingKey[:8]
	f.byKey[res.BookingKey] = id
	f.busy[slotID(calendarID, res.Start)] = true
	return id, nil
}

type fakeCustomers struct {
	mu      sync.Mutex
	byPhone map[string]*models.Customer
}

func newFakeCustomers() *fakeCustomers {
	return &fakeCustomers{byPhone: make(map[string]*models.Customer)}
}

func (f *fakeCustomers) Customer(_ context.Context, _, phone string) (*models.Customer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.byPhone[phone]; ok {
		cp := *c
		return &cp, nil
	}
	return nil, nil
}

func (f *fakeCustomers) UpsertCustomer(_ context.Context, cust models.Customer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := cust
	f.byPhone[cust.Phone] = &cp
	return nil
}

// Wednesday morning.
var turnNow = time.Date(2025, time.March, 12, 8, 0, 0, 0, time.UTC)

const phone = "393331234567"

func shopConfig() models.ShopConfig {
	hours := []models.OpenInterval{
		{Start: models.TimeOfDay{Hour: 9}, End: models.TimeOfDay{Hour: 13}},
		{Start: models.TimeOfDay{Hour: 14}, End: models.TimeOfDay{Hour: 19}},
	}
	return models.ShopConfig{
		Shop: models.Shop{ID: "shop1", Name: "Da Mario", Capacity: 1, SlotMinutes: 30},
		Services: []models.Service{
			{Name: "Taglio", Duration: 30, Active: true},
			{Name: "Colore", Duration: 60, Active: true},
			{Name: "Piega", Duration: 30, Active: false},
		},
		Hours: models.OperatingHours{
			time.Tuesday:   hours,
			time.Wednesday: hours,
			time.Thursday:  hours,
			time.Friday:    hours,
			time.Saturday:  hours,
		},
		Operators: []models.Operator{
			{ID: "op1", Name: "Marco", CalendarID: "cal-marco", Priority: 1, Active: true},
			{ID: "op2", Name: "Giulia", CalendarID: "cal-giulia", Priority: 2, Active: true},
		},
	}
}

type fixture struct {
	engine    *Engine
	calendar  *fakeCalendar
	customers *fakeCustomers
	sessions  *session.MemoryStore
	cfg       models.ShopConfig
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := zerolog.New(io.Discard)
	cal := newFakeCalendar()
	customers := newFakeCustomers()
	sessions := session.NewMemoryStore(time.Hour)
	searcher := availability.NewSearcher(cal, &logger)
	confirmer := booking.NewConfirmer(cal, customers, nil, &logger)
	engine := NewEngine(searcher, confirmer, sessions, customers, &logger, Options{})
	engine.now = func() time.Time { return turnNow }
	return &fixture{engine: engine, calendar: cal, customers: customers, sessions: sessions, cfg: shopConfig()}
}

func (f *fixture) turn(t *testing.T, text string) string {
	t.Helper()
	reply, err := f.engine.HandleTurn(context.Background(), f.cfg, phone, text)
	require.NoError(t, err)
	return reply
}

func TestGreeting(t *testing.T) {
	f := newFixture(t)
	reply := f.turn(t, "Ciao!")
	assert.Contains(t, reply, "Da Mario")
}

func TestGreetingWithHistory(t *testing.T) {
	f := newFixture(t)
	f.customers.byPhone[phone] = &models.Customer{ShopID: "shop1", Phone: phone, LastService: "Colore", TotalVisits: 3}
	reply := f.turn(t, "buongiorno")
	assert.Contains(t, reply, "Colore")
}

func TestExactRequestGoesStraightToConfirm(t *testing.T) {
	f := newFixture(t)

	reply := f.turn(t, "Vorrei un taglio domani alle 15")
	assert.Contains(t, reply, "Ti confermo Taglio")
	assert.Contains(t, reply, "15:00")
	assert.Contains(t, reply, "giovedì 13 marzo")

	reply = f.turn(t, "ok")
	assert.Contains(t, reply, "Prenotato")

	// The session is gone: a new greeting starts fresh, citing the visit.
	reply = f.turn(t, "ciao")
	assert.Contains(t, reply, "Taglio")
}

func TestCollectsMissingFields(t *testing.T) {
	f := newFixture(t)

	reply := f.turn(t, "vorrei un taglio")
	assert.Contains(t, reply, "giorno e ora")

	reply = f.turn(t, "venerdì")
	assert.Contains(t, reply, "che ora")

	reply = f.turn(t, "alle 10")
	assert.Contains(t, reply, "Ti confermo Taglio")
	assert.Contains(t, reply, "venerdì 14 marzo")
	assert.Contains(t, reply, "10:00")
}

func TestServiceLast(t *testing.T) {
	f := newFixture(t)

	reply := f.turn(t, "domani alle 15")
	assert.Contains(t, reply, "servizio")

	reply = f.turn(t, "un taglio")
	assert.Contains(t, reply, "Ti confermo Taglio")
	assert.Contains(t, reply, "15:00")
}

func TestWindowProducesOffers(t *testing.T) {
	f := newFixture(t)

	reply := f.turn(t, "un taglio domani pomeriggio")
	assert.Contains(t, reply, "1)")
	assert.Contains(t, reply, "2)")
	assert.Contains(t, reply, "3)")
	assert.Contains(t, reply, "14:00")

	reply = f.turn(t, "2")
	assert.Contains(t, reply, "Ti confermo Taglio")
	assert.Contains(t, reply, "14:30")

	reply = f.turn(t, "va bene")
	assert.Contains(t, reply, "Prenotato")
}

func TestInvalidSelectionReprompts(t *testing.T) {
	f := newFixture(t)

	f.turn(t, "un taglio domani pomeriggio")
	reply := f.turn(t, "9")
	assert.Contains(t, reply, "da 1 a 3")

	// Nothing was lost: a valid pick still works.
	reply = f.turn(t, "1")
	assert.Contains(t, reply, "Ti confermo Taglio")
}

func TestOperatorExclusion(t *testing.T) {
	f := newFixture(t)

	reply := f.turn(t, "un taglio domani alle 15 senza Marco")
	assert.Contains(t, reply, "con Giulia")
	assert.NotContains(t, reply, "Marco")
}

func TestOperatorPreference(t *testing.T) {
	f := newFixture(t)

	reply := f.turn(t, "un taglio domani alle 15 con Giulia")
	assert.Contains(t, reply, "con Giulia")
}

func TestCancelWinsEverywhere(t *testing.T) {
	f := newFixture(t)

	f.turn(t, "un taglio domani alle 15")
	reply := f.turn(t, "annulla")
	assert.Contains(t, reply, "annullato")

	// Session really cleared.
	sess, err := f.sessions.Get(context.Background(), "shop1", phone)
	require.NoError(t, err)
	assert.Nil(t, sess)
}

func TestBusySlotOffersAlternatives(t *testing.T) {
	f := newFixture(t)
	asked := time.Date(2025, time.March, 13, 15, 0, 0, 0, time.UTC)
	f.calendar.block("cal-marco", asked)
	f.calendar.block("cal-giulia", asked)

	reply := f.turn(t, "un taglio domani alle 15")
	assert.Contains(t, reply, "1)")
	assert.NotContains(t, reply, "15:00", "the busy slot is never offered")
}

func TestRaceAtConfirmReoffers(t *testing.T) {
	f := newFixture(t)

	f.turn(t, "un taglio domani alle 15")

	// The slot disappears between offer and confirmation.
	asked := time.Date(2025, time.March, 13, 15, 0, 0, 0, time.UTC)
	f.calendar.block("cal-marco", asked)
	f.calendar.block("cal-giulia", asked)

	reply := f.turn(t, "ok")
	assert.Contains(t, reply, "qualcuno ha appena preso")
	assert.Contains(t, reply, "1)")

	// The conversation continues from the new offers.
	reply = f.turn(t, "1")
	assert.Contains(t, reply, "Ti confermo Taglio")
}

func TestNewConstraintAtConfirmRestartsSearch(t *testing.T) {
	f := newFixture(t)

	f.turn(t, "un taglio domani alle 15")
	reply := f.turn(t, "meglio venerdì alle 10")
	assert.Contains(t, reply, "Ti confermo Taglio")
	assert.Contains(t, reply, "venerdì 14 marzo")
	assert.Contains(t, reply, "10:00")
}

func TestNegativeAtConfirmAsksWhenAgain(t *testing.T) {
	f := newFixture(t)

	f.turn(t, "un taglio domani alle 15")
	reply := f.turn(t, "no")
	assert.Contains(t, reply, "giorno e ora")

	// The service survives; only the slot was rejected.
	reply = f.turn(t, "venerdì alle 10")
	assert.Contains(t, reply, "Ti confermo Taglio")
}

func TestDuplicateConfirmDelivery(t *testing.T) {
	f := newFixture(t)

	f.turn(t, "un taglio domani alle 15")
	first := f.turn(t, "ok")
	require.Contains(t, first, "Prenotato")

	// Same booking again (session is gone, the customer repeats the ask):
	// the calendar already holds our key, so no duplicate and no conflict.
	f.turn(t, "un taglio domani alle 15")
	again := f.turn(t, "ok")
	assert.Contains(t, again, "Prenotato")
}

func TestNoAvailabilityClearsTemporal(t *testing.T) {
	f := newFixture(t)

	// Every Thursday slot is taken on both calendars.
	day := time.Date(2025, time.March, 13, 0, 0, 0, 0, time.UTC)
	for m := 9 * 60; m < 19*60; m += 30 {
		start := day.Add(time.Duration(m) * time.Minute)
		f.calendar.block("cal-marco", start)
		f.calendar.block("cal-giulia", start)
	}

	reply := f.turn(t, "un taglio domani dalle 9 ed entro le 10")
	if !strings.Contains(reply, "non ho trovato") {
		// The near-time fallback may widen beyond the day; either way the
		// taken slots must not appear.
		assert.NotContains(t, reply, "giovedì 13 marzo alle 09:00")
	}
}

func TestNoAvailabilityFromTimeAsksWhenAgain(t *testing.T) {
	f := newFixture(t)
	f.cfg.Hours = models.OperatingHours{}

	reply := f.turn(t, "un taglio domani")
	assert.Contains(t, reply, "che ora")

	// The fruitless search re-asks for day and time, not a technical apology.
	reply = f.turn(t, "alle 18")
	assert.Contains(t, reply, "non ho trovato")

	sess, err := f.sessions.Get(context.Background(), "shop1", phone)
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.Equal(t, session.StateNeedWhen, sess.State)
	assert.Nil(t, sess.Payload.Date, "stale temporal fields are dropped")
	assert.Nil(t, sess.Payload.Time)
	assert.Equal(t, "Taglio", sess.Payload.ServiceName, "the service survives")
}

func TestUnknownServiceAsksCatalog(t *testing.T) {
	f := newFixture(t)
	reply := f.turn(t, "vorrei un massaggio domani")
	assert.Contains(t, reply, "Taglio")
	assert.Contains(t, reply, "Colore")
	assert.NotContains(t, reply, "Piega", "inactive services stay hidden")
}
