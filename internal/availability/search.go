// Package availability turns shop hours, operator calendars and customer
// constraints into an ordered list of bookable candidates.
package availability

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"prenotabot/internal/models"
)

// Defaults applied when the query leaves them zero.
const (
	DefaultLimit       = 3
	DefaultHorizonDays = 14
	defaultGranularity = 30
	// nearWindow bounds the same-day fallback around a requested exact time.
	nearWindow = 2 * time.Hour
)

// ErrNoOperators marks a misconfigured shop: searching is impossible and the
// condition is surfaced, never silently worked around.
var ErrNoOperators = errors.New("shop has no eligible operators")

// SlotChecker answers whether a calendar still has spare capacity for a slot.
// The calendar is the source of truth; implementations must not guess.
type SlotChecker interface {
	SlotAvailable(ctx context.Context, calendarID string, start, end time.Time, capacity int) (bool, error)
}

// Query carries everything one search needs. Operators must already be
// eligibility-filtered and preference-ordered (see EligibleOperators).
type Query struct {
	Shop      models.Shop
	Hours     models.OperatingHours
	Operators []models.Operator
	Duration  int // minutes
	Date      *time.Time
	Time      *models.TimeOfDay
	After     *models.TimeOfDay
	Before    *models.TimeOfDay
	Limit     int
	Horizon   int // days
	Now       time.Time
}

// Searcher runs availability queries against operator calendars.
type Searcher struct {
	checker SlotChecker
	logger  *zerolog.Logger
}

// NewSearcher creates a searcher backed by the given capacity checker.
func NewSearcher(checker SlotChecker, logger *zerolog.Logger) *Searcher {
	return &Searcher{checker: checker, logger: logger}
}

// EligibleOperators filters and orders operators: the explicitly preferred
// one first, the rest by priority rank, exclusions removed entirely.
func EligibleOperators(operators []models.Operator, preferred string, excluded []string) []models.Operator {
	var out []models.Operator
	for _, op := range operators {
		if !op.Active || isExcluded(op, excluded) {
			continue
		}
		out = append(out, op)
	}
	sort.SliceStable(out, func(i, j int) bool {
		pi, pj := matchesOperator(out[i], preferred), matchesOperator(out[j], preferred)
		if pi != pj {
			return pi
		}
		return out[i].Priority < out[j].Priority
	})
	return out
}

func isExcluded(op models.Operator, excluded []string) bool {
	for _, name := range excluded {
		if matchesOperator(op, name) {
			return true
		}
	}
	return false
}

func matchesOperator(op models.Operator, name string) bool {
	if name == "" {
		return false
	}
	return strings.EqualFold(op.Name, name) || strings.EqualFold(op.ID, name)
}

// Find returns up to Limit chronological candidates satisfying the query.
func (s *Searcher) Find(ctx context.Context, q Query) ([]models.Candidate, error) {
	if len(q.Operators) == 0 {
		return nil, ErrNoOperators
	}
	if q.Limit <= 0 {
		q.Limit = DefaultLimit
	}
	if q.Horizon <= 0 {
		q.Horizon = DefaultHorizonDays
	}
	if q.Duration <= 0 {
		q.Duration = q.Shop.SlotMinutes
	}

	if q.Date != nil && q.Time != nil {
		start := q.Time.On(*q.Date)
		if cand, ok := s.trySlot(ctx, q, start); ok {
			return []models.Candidate{cand}, nil
		}
		return s.exactTimeFallback(ctx, q, start)
	}

	// A time with no date means that clock on the next open days.
	if q.Time != nil {
		return s.sameClockForward(ctx, q), nil
	}

	return s.scan(ctx, q, scanStart(q), q.Horizon, q.Limit, nil), nil
}

func (s *Searcher) sameClockForward(ctx context.Context, q Query) []models.Candidate {
	from := scanStart(q)
	var out []models.Candidate
	for d := 0; d <= q.Horizon && len(out) < q.Limit; d++ {
		if cand, ok := s.trySlot(ctx, q, q.Time.On(from.AddDate(0, 0, d))); ok {
			out = append(out, cand)
		}
	}
	return out
}

// trySlot tests one exact start: inside an open interval, strictly in the
// future, and with spare capacity on some eligible operator.
func (s *Searcher) trySlot(ctx context.Context, q Query, start time.Time) (models.Candidate, bool) {
	end := start.Add(time.Duration(q.Duration) * time.Minute)
	if !start.After(q.Now) || !s.insideHours(q, start, end) {
		return models.Candidate{}, false
	}
	op, err := s.probe(ctx, q, start, end)
	if err != nil || op == nil {
		return models.Candidate{}, false
	}
	return models.Candidate{Start: start, End: end, Operator: *op}, true
}

// exactTimeFallback applies the preferred order when the asked slot is gone:
// nearby times the same day, the same clock time on later days, then the
// generic scan. Results are deduplicated and capped.
func (s *Searcher) exactTimeFallback(ctx context.Context, q Query, asked time.Time) ([]models.Candidate, error) {
	seen := map[int64]bool{asked.Unix(): true}
	var out []models.Candidate

	day := s.scanDay(ctx, q, *q.Date)
	for _, cand := range day {
		if len(out) >= q.Limit {
			break
		}
		delta := cand.Start.Sub(asked)
		if delta < 0 {
			delta = -delta
		}
		if delta <= nearWindow && !seen[cand.Start.Unix()] {
			seen[cand.Start.Unix()] = true
			out = append(out, cand)
		}
	}

	for d := 1; d <= q.Horizon && len(out) < q.Limit; d++ {
		start := asked.AddDate(0, 0, d)
		if seen[start.Unix()] {
			continue
		}
		if cand, ok := s.trySlot(ctx, q, start); ok {
			seen[start.Unix()] = true
			out = append(out, cand)
		}
	}

	if len(out) < q.Limit {
		out = append(out, s.scan(ctx, q, *q.Date, q.Horizon, q.Limit-len(out), seen)...)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

func scanStart(q Query) time.Time {
	today := time.Date(q.Now.Year(), q.Now.Month(), q.Now.Day(), 0, 0, 0, 0, q.Now.Location())
	if q.Date != nil && q.Date.After(today) {
		return *q.Date
	}
	return today
}

// scan walks forward day by day collecting up to limit candidates.
func (s *Searcher) scan(ctx context.Context, q Query, from time.Time, days, limit int, seen map[int64]bool) []models.Candidate {
	var out []models.Candidate
	for d := 0; d < days && len(out) < limit; d++ {
		for _, cand := range s.scanDay(ctx, q, from.AddDate(0, 0, d)) {
			if len(out) >= limit {
				break
			}
			if seen != nil {
				if seen[cand.Start.Unix()] {
					continue
				}
				seen[cand.Start.Unix()] = true
			}
			out = append(out, cand)
		}
	}
	return out
}

// scanDay generates the candidates of a single date. A calendar error aborts
// that day only; no availability is ever fabricated.
func (s *Searcher) scanDay(ctx context.Context, q Query, date time.Time) []models.Candidate {
	granularity := q.Shop.SlotMinutes
	if granularity <= 0 {
		granularity = defaultGranularity
	}
	duration := time.Duration(q.Duration) * time.Minute

	var out []models.Candidate
	for _, interval := range q.Hours.Intervals(date.Weekday()) {
		startMin := roundUp(interval.Start.Minutes(), granularity)
		endMin := interval.End.Minutes()
		if q.After != nil && q.After.Minutes() > startMin {
			startMin = roundUp(q.After.Minutes(), granularity)
		}
		for m := startMin; m+q.Duration <= endMin; m += granularity {
			if q.Before != nil && m >= q.Before.Minutes() {
				break
			}
			start := models.TimeOfDay{Hour: m / 60, Minute: m % 60}.On(date)
			if !start.After(q.Now) {
				continue
			}
			op, err := s.probe(ctx, q, start, start.Add(duration))
			if err != nil {
				if s.logger != nil {
					s.logger.Warn().Err(err).Str("shop", q.Shop.ID).
						Time("date", date).Msg("calendar query failed, skipping day")
				}
				return out
			}
			if op != nil {
				out = append(out, models.Candidate{Start: start, End: start.Add(duration), Operator: *op})
			}
		}
	}
	return out
}

// probe returns the first operator in order with spare capacity, nil when all
// are busy, or the first query error.
func (s *Searcher) probe(ctx context.Context, q Query, start, end time.Time) (*models.Operator, error) {
	for i := range q.Operators {
		free, err := s.checker.SlotAvailable(ctx, q.Operators[i].CalendarID, start, end, q.Shop.Capacity)
		if err != nil {
			return nil, err
		}
		if free {
			return &q.Operators[i], nil
		}
	}
	return nil, nil
}

func (s *Searcher) insideHours(q Query, start, end time.Time) bool {
	startMin := start.Hour()*60 + start.Minute()
	endMin := startMin + int(end.Sub(start).Minutes())
	for _, interval := range q.Hours.Intervals(start.Weekday()) {
		if startMin >= interval.Start.Minutes() && endMin <= interval.End.Minutes() {
			return true
		}
	}
	return false
}

func roundUp(minutes, granularity int) int {
	if rem := minutes % granularity; rem != 0 {
		return minutes + granularity - rem
	}
	return minutes
}
