// Package sheets is the tabular configuration collaborator. Shops, services,
// hours, operators and customer history live in one Google Spreadsheet, one
// tab each, column-named rows. Rows are mapped to typed entities here; the
// engine never sees raw cells.
package sheets

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	sheetsapi "google.golang.org/api/sheets/v4"

	"prenotabot/internal/models"
)

// Tab names inside the spreadsheet.
const (
	tabShops     = "shops"
	tabServices  = "services"
	tabHours     = "hours"
	tabOperators = "operators"
	tabCustomers = "customers"
)

// ErrUnknownTenant means no shop row matches the conversation.
var ErrUnknownTenant = fmt.Errorf("no shop configured for this conversation")

// Store reads the spreadsheet with a short read-through cache on the
// configuration tabs, so one turn costs at most one fetch per tab.
type Store struct {
	service       *sheetsapi.Service
	spreadsheetID string
	timeout       time.Duration

	cacheTTL time.Duration
	mu       sync.Mutex
	cache    map[string]cachedTab
}

type cachedTab struct {
	rows []row
	at   time.Time
}

type row map[string]string

// NewStore builds a store from a service-account credentials file.
func NewStore(ctx context.Context, credentialsFile, spreadsheetID string, cacheTTL, timeout time.Duration) (*Store, error) {
	credentialsJSON, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("unable to read credentials file: %w", err)
	}

	config, err := google.JWTConfigFromJSON(credentialsJSON, sheetsapi.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("unable to parse credentials: %w", err)
	}

	srv, err := sheetsapi.NewService(ctx, option.WithHTTPClient(config.Client(ctx)))
	if err != nil {
		return nil, fmt.Errorf("unable to create Sheets service: %w", err)
	}

	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Store{
		service:       srv,
		spreadsheetID: spreadsheetID,
		timeout:       timeout,
		cacheTTL:      cacheTTL,
		cache:         make(map[string]cachedTab),
	}, nil
}

// NormalizePhone strips everything but digits: "+39 348 111111" and
// "whatsapp:+39348..." compare equal after normalization.
func NormalizePhone(p string) string {
	var b strings.Builder
	for _, r := range p {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ShopByTransportNumber resolves the tenant owning the transport number.
func (s *Store) ShopByTransportNumber(ctx context.Context, number string) (*models.ShopConfig, error) {
	number = NormalizePhone(number)
	rows, err := s.tab(ctx, tabShops, true)
	if err != nil {
		return nil, err
	}
	for _, r := range rows {
		if NormalizePhone(r["whatsapp_number"]) == number {
			return s.bundle(ctx, shopFromRow(r))
		}
	}
	return nil, ErrUnknownTenant
}

// ShopByID resolves a tenant by its id (diagnostic entry point).
func (s *Store) ShopByID(ctx context.Context, shopID string) (*models.ShopConfig, error) {
	rows, err := s.tab(ctx, tabShops, true)
	if err != nil {
		return nil, err
	}
	for _, r := range rows {
		if r["shop_id"] == shopID {
			return s.bundle(ctx, shopFromRow(r))
		}
	}
	return nil, ErrUnknownTenant
}

func (s *Store) bundle(ctx context.Context, shop models.Shop) (*models.ShopConfig, error) {
	services, err := s.services(ctx, shop.ID)
	if err != nil {
		return nil, err
	}
	hours, err := s.hours(ctx, shop.ID)
	if err != nil {
		return nil, err
	}
	operators, err := s.operators(ctx, shop.ID)
	if err != nil {
		return nil, err
	}
	return &models.ShopConfig{Shop: shop, Services: services, Hours: hours, Operators: operators}, nil
}

func shopFromRow(r row) models.Shop {
	return models.Shop{
		ID:              r["shop_id"],
		Name:            r["name"],
		Timezone:        r["timezone"],
		CalendarID:      r["calendar_id"],
		Capacity:        atoiDefault(r["capacity"], 1),
		SlotMinutes:     atoiDefault(r["slot_minutes"], 30),
		TransportNumber: NormalizePhone(r["whatsapp_number"]),
	}
}

func (s *Store) services(ctx context.Context, shopID string) ([]models.Service, error) {
	rows, err := s.tab(ctx, tabServices, true)
	if err != nil {
		return nil, err
	}
	var out []models.Service
	for _, r := range rows {
		if r["shop_id"] != shopID {
			continue
		}
		out = append(out, models.Service{
			ShopID:   shopID,
			Name:     r["name"],
			Duration: atoiDefault(r["duration"], 30),
			Active:   parseBool(r["active"]),
			Aliases:  splitList(r["aliases"]),
		})
	}
	return out, nil
}

func (s *Store) hours(ctx context.Context, shopID string) (models.OperatingHours, error) {
	rows, err := s.tab(ctx, tabHours, true)
	if err != nil {
		return nil, err
	}
	hours := make(models.OperatingHours)
	for _, r := range rows {
		if r["shop_id"] != shopID {
			continue
		}
		weekday, err := strconv.Atoi(r["weekday"])
		if err != nil || weekday < 0 || weekday > 6 {
			continue
		}
		start, okS := parseClock(r["start"])
		end, okE := parseClock(r["end"])
		if !okS || !okE || end.Minutes() <= start.Minutes() {
			continue
		}
		wd := time.Weekday(weekday)
		hours[wd] = append(hours[wd], models.OpenInterval{Start: start, End: end})
	}
	return hours, nil
}

func (s *Store) operators(ctx context.Context, shopID string) ([]models.Operator, error) {
	rows, err := s.tab(ctx, tabOperators, true)
	if err != nil {
		return nil, err
	}
	var out []models.Operator
	for _, r := range rows {
		if r["shop_id"] != shopID {
			continue
		}
		out = append(out, models.Operator{
			ShopID:     shopID,
			ID:         r["operator_id"],
			Name:       r["name"],
			CalendarID: r["calendar_id"],
			Priority:   atoiDefault(r["priority"], 100),
			Active:     parseBool(r["active"]),
		})
	}
	return out, nil
}

// Customer returns the history row for (shop, phone), or nil when absent.
func (s *Store) Customer(ctx context.Context, shopID, phone string) (*models.Customer, error) {
	cust, _, err := s.findCustomer(ctx, shopID, phone)
	return cust, err
}

// UpsertCustomer updates the existing history row in place or appends a new
// one.
func (s *Store) UpsertCustomer(ctx context.Context, cust models.Customer) error {
	_, rowIdx, err := s.findCustomer(ctx, cust.ShopID, cust.Phone)
	if err != nil {
		return err
	}

	values := []interface{}{
		cust.ShopID,
		cust.Phone,
		cust.LastService,
		strconv.Itoa(cust.TotalVisits),
		cust.LastVisit.Format(time.RFC3339),
		time.Now().Format(time.RFC3339),
	}
	valueRange := &sheetsapi.ValueRange{Values: [][]interface{}{values}}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if rowIdx > 0 {
		rangeData := fmt.Sprintf("%s!A%d:F%d", tabCustomers, rowIdx, rowIdx)
		_, err = s.service.Spreadsheets.Values.Update(s.spreadsheetID, rangeData, valueRange).
			ValueInputOption("RAW").
			Context(callCtx).
			Do()
	} else {
		_, err = s.service.Spreadsheets.Values.Append(s.spreadsheetID, tabCustomers+"!A:A", valueRange).
			ValueInputOption("RAW").
			InsertDataOption("INSERT_ROWS").
			Context(callCtx).
			Do()
	}
	if err != nil {
		return fmt.Errorf("write customer row: %w", err)
	}
	return nil
}

// findCustomer returns the customer and its 1-based sheet row (0 = absent).
func (s *Store) findCustomer(ctx context.Context, shopID, phone string) (*models.Customer, int, error) {
	rows, err := s.tab(ctx, tabCustomers, false)
	if err != nil {
		return nil, 0, err
	}
	phone = NormalizePhone(phone)
	for i, r := range rows {
		if r["shop_id"] != shopID || NormalizePhone(r["phone"]) != phone {
			continue
		}
		lastVisit, _ := time.Parse(time.RFC3339, r["last_visit"])
		return &models.Customer{
			ShopID:      shopID,
			Phone:       phone,
			LastService: r["last_service"],
			TotalVisits: atoiDefault(r["total_visits"], 0),
			LastVisit:   lastVisit,
		}, i + 2, nil // +1 header row, +1 one-based
	}
	return nil, 0, nil
}

// tab fetches a tab as header-keyed rows, optionally through the cache.
func (s *Store) tab(ctx context.Context, name string, cacheable bool) ([]row, error) {
	if cacheable && s.cacheTTL > 0 {
		s.mu.Lock()
		if entry, ok := s.cache[name]; ok && time.Since(entry.at) < s.cacheTTL {
			s.mu.Unlock()
			return entry.rows, nil
		}
		s.mu.Unlock()
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	result, err := s.service.Spreadsheets.Values.Get(s.spreadsheetID, name).Context(callCtx).Do()
	if err != nil {
		return nil, fmt.Errorf("load tab %s: %w", name, err)
	}
	if len(result.Values) == 0 {
		return nil, nil
	}

	headers := make([]string, len(result.Values[0]))
	for i, h := range result.Values[0] {
		headers[i] = strings.TrimSpace(fmt.Sprint(h))
	}

	rows := make([]row, 0, len(result.Values)-1)
	for _, raw := range result.Values[1:] {
		r := make(row, len(headers))
		for i, h := range headers {
			if i < len(raw) {
				r[h] = strings.TrimSpace(fmt.Sprint(raw[i]))
			} else {
				r[h] = ""
			}
		}
		rows = append(rows, r)
	}

	if cacheable && s.cacheTTL > 0 {
		s.mu.Lock()
		s.cache[name] = cachedTab{rows: rows, at: time.Now()}
		s.mu.Unlock()
	}
	return rows, nil
}

func atoiDefault(s string, def int) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func parseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "si", "sì", "x":
		return true
	}
	return false
}

func splitList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == '|' || r == ';' })
	var out []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseClock(s string) (models.TimeOfDay, bool) {
	parts := strings.SplitN(strings.TrimSpace(s), ":", 2)
	if len(parts) != 2 {
		return models.TimeOfDay{}, false
	}
	hour, err1 := strconv.Atoi(parts[0])
	minute, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil || hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return models.TimeOfDay{}, false
	}
	return models.TimeOfDay{Hour: hour, Minute: minute}, true
}
