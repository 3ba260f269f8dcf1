// Package timeparse extracts dates, clock times and time bounds from free-form
// Italian chat messages. It recognizes a bounded set of patterns; anything it
// does not recognize simply stays unset, so the dialog layer can ask for it.
package timeparse

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"prenotabot/internal/models"
)

// Result is the partial temporal reading of one message. Any subset of the
// fields may be nil; the parser never fails.
type Result struct {
	Date   *time.Time        // midnight in the caller's location
	Time   *models.TimeOfDay // exact requested time
	After  *models.TimeOfDay // lower bound, inclusive
	Before *models.TimeOfDay // upper bound, exclusive: the slot starts before it
}

// HasDate reports whether a calendar date was recognized.
func (r Result) HasDate() bool { return r.Date != nil }

// HasTimeInfo reports whether any clock information was recognized.
func (r Result) HasTimeInfo() bool { return r.Time != nil || r.After != nil || r.Before != nil }

var accentReplacer = strings.NewReplacer(
	"à", "a", "è", "e", "é", "e", "ì", "i", "í", "i",
	"ò", "o", "ó", "o", "ù", "u", "ú", "u",
)

// Normalize lowercases and strips the accents Italian keyboards produce, so
// "lunedì" and "lunedi" read the same.
func Normalize(text string) string {
	return accentReplacer.Replace(strings.ToLower(text))
}

var weekdays = map[string]time.Weekday{
	"lunedi":    time.Monday,
	"martedi":   time.Tuesday,
	"mercoledi": time.Wednesday,
	"giovedi":   time.Thursday,
	"venerdi":   time.Friday,
	"sabato":    time.Saturday,
	"domenica":  time.Sunday,
}

type daypart struct {
	after  models.TimeOfDay
	before models.TimeOfDay
}

// Coarse dayparts used only when no explicit bound is present.
var dayparts = map[string]daypart{
	"mattina":    {models.TimeOfDay{Hour: 9}, models.TimeOfDay{Hour: 12}},
	"mattino":    {models.TimeOfDay{Hour: 9}, models.TimeOfDay{Hour: 12}},
	"pomeriggio": {models.TimeOfDay{Hour: 14}, models.TimeOfDay{Hour: 18}},
	"sera":       {models.TimeOfDay{Hour: 17}, models.TimeOfDay{Hour: 20}},
}

var (
	reNumericDate = regexp.MustCompile(`\b(\d{1,2})[/\-](\d{1,2})(?:[/\-](\d{2,4}))?\b`)
	reDottedDate  = regexp.MustCompile(`\b(\d{1,2})\.(\d{1,2})\.(\d{2,4})\b`)
	reAfter       = regexp.MustCompile(`\b(?:dopo le|dopo l'|dalle|dalle ore|dal)\s*(\d{1,2})(?:[:.](\d{2}))?\b`)
	reBefore      = regexp.MustCompile(`\b(?:prima delle|prima dell'|entro le|entro l'|entro)\s*(\d{1,2})(?:[:.](\d{2}))?\b`)
	reClock       = regexp.MustCompile(`\b(\d{1,2})[:.](\d{2})\b`)
	reCueHour     = regexp.MustCompile(`\b(?:alle|all'|ore|verso le|verso)\s*(\d{1,2})(?:[:.](\d{2}))?\b`)
	reCompact     = regexp.MustCompile(`\b(\d{3,4})\b`)
)

// Parse reads the message against "now" in the shop's timezone. The returned
// date, if any, is midnight of the resolved day in now's location.
func Parse(text string, now time.Time) Result {
	var res Result
	text = Normalize(text)

	text = parseDate(text, now, &res)
	text = parseBounds(text, &res)
	text = parseClock(text, &res)

	// Dayparts are a fallback window, never an override of explicit bounds.
	if res.After == nil && res.Before == nil {
		for word, dp := range dayparts {
			if containsWord(text, word) || (word == "sera" && containsWord(text, "stasera")) ||
				(word == "mattina" && containsWord(text, "stamattina")) {
				a, b := dp.after, dp.before
				res.After, res.Before = &a, &b
				break
			}
		}
	}

	// "stasera"/"stamattina" imply today, "domattina" implies tomorrow.
	if res.Date == nil {
		if containsWord(text, "stasera") || containsWord(text, "stamattina") {
			res.Date = datePtr(midnight(now))
		} else if containsWord(text, "domattina") {
			res.Date = datePtr(midnight(now).AddDate(0, 0, 1))
		}
	}

	return res
}

func parseDate(text string, now time.Time, res *Result) string {
	today := midnight(now)

	switch {
	case strings.Contains(text, "dopodomani") || strings.Contains(text, "dopo domani"):
		res.Date = datePtr(today.AddDate(0, 0, 2))
		return text
	case containsWord(text, "domani"):
		res.Date = datePtr(today.AddDate(0, 0, 1))
		return text
	case containsWord(text, "oggi"):
		res.Date = datePtr(today)
		return text
	}

	for name, wd := range weekdays {
		if !containsWord(text, name) {
			continue
		}
		// Always the next future occurrence: naming today's weekday means
		// next week, never today.
		delta := (int(wd) - int(now.Weekday()) + 7) % 7
		if delta == 0 {
			delta = 7
		}
		res.Date = datePtr(today.AddDate(0, 0, delta))
		return text
	}

	if m := reDottedDate.FindStringSubmatch(text); m != nil {
		if d, ok := numericDate(m[1], m[2], m[3], now); ok {
			res.Date = datePtr(d)
			return strings.Replace(text, m[0], " ", 1)
		}
	}
	if m := reNumericDate.FindStringSubmatch(text); m != nil {
		if d, ok := numericDate(m[1], m[2], m[3], now); ok {
			res.Date = datePtr(d)
			return strings.Replace(text, m[0], " ", 1)
		}
	}
	return text
}

// numericDate validates day/month(/year); an out-of-range component means the
// match is silently rejected rather than produce a bogus date.
func numericDate(dayStr, monthStr, yearStr string, now time.Time) (time.Time, bool) {
	day, _ := strconv.Atoi(dayStr)
	month, _ := strconv.Atoi(monthStr)
	if day < 1 || day > 31 || month < 1 || month > 12 {
		return time.Time{}, false
	}
	year := now.Year()
	if yearStr != "" {
		year, _ = strconv.Atoi(yearStr)
		if year < 100 {
			year += 2000
		}
	}
	d := time.Date(year, time.Month(month), day, 0, 0, 0, 0, now.Location())
	if d.Day() != day { // e.g. 31/02 normalized away by time.Date
		return time.Time{}, false
	}
	// A day/month with no year that already passed this year means next year.
	if yearStr == "" && d.Before(midnight(now)) {
		d = d.AddDate(1, 0, 0)
	}
	return d, true
}

func parseBounds(text string, res *Result) string {
	if m := reAfter.FindStringSubmatch(text); m != nil {
		if t, ok := clockFrom(m[1], m[2]); ok {
			res.After = &t
			text = strings.Replace(text, m[0], " ", 1)
		}
	}
	if m := reBefore.FindStringSubmatch(text); m != nil {
		if t, ok := clockFrom(m[1], m[2]); ok {
			res.Before = &t
			text = strings.Replace(text, m[0], " ", 1)
		}
	}
	return text
}

func parseClock(text string, res *Result) string {
	if m := reCueHour.FindStringSubmatch(text); m != nil {
		if t, ok := clockFrom(m[1], m[2]); ok {
			res.Time = &t
			return strings.Replace(text, m[0], " ", 1)
		}
	}
	if m := reClock.FindStringSubmatch(text); m != nil {
		if t, ok := clockFrom(m[1], m[2]); ok {
			res.Time = &t
			return strings.Replace(text, m[0], " ", 1)
		}
	}
	// Compact HHMM ("1830") with a valid minute part.
	if m := reCompact.FindStringSubmatch(text); m != nil {
		raw := m[1]
		hour, _ := strconv.Atoi(raw[:len(raw)-2])
		minute, _ := strconv.Atoi(raw[len(raw)-2:])
		if hour >= 0 && hour <= 23 && minute <= 59 {
			res.Time = &models.TimeOfDay{Hour: hour, Minute: minute}
			return strings.Replace(text, m[0], " ", 1)
		}
	}
	return text
}

func clockFrom(hourStr, minuteStr string) (models.TimeOfDay, bool) {
	hour, _ := strconv.Atoi(hourStr)
	if hour > 23 {
		return models.TimeOfDay{}, false
	}
	minute := 0
	if minuteStr != "" {
		minute, _ = strconv.Atoi(minuteStr)
		if minute > 59 {
			return models.TimeOfDay{}, false
		}
	}
	return models.TimeOfDay{Hour: hour, Minute: minute}, true
}

func containsWord(text, word string) bool {
	idx := 0
	for {
		i := strings.Index(text[idx:], word)
		if i < 0 {
			return false
		}
		i += idx
		before := i == 0 || !isWordChar(text[i-1])
		afterIdx := i + len(word)
		after := afterIdx >= len(text) || !isWordChar(text[afterIdx])
		if before && after {
			return true
		}
		idx = i + len(word)
	}
}

func isWordChar(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= '0' && b <= '9'
}

func midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func datePtr(t time.Time) *time.Time { return &t }
