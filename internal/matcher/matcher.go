// Package matcher resolves a free-form message to at most one configured
// service. It never guesses: when nothing matches the caller gets nil and
// must ask the customer instead.
package matcher

import (
	"strings"

	"prenotabot/internal/models"
	"prenotabot/internal/timeparse"
)

// SimilarityThreshold is the minimum normalized similarity accepted by the
// fuzzy stage. Tuned to tolerate one or two typos in short service names.
const SimilarityThreshold = 0.72

// categoryKeywords maps a word a customer may use to the category word a
// service name is expected to contain.
var categoryKeywords = map[string]string{
	"capelli":    "taglio",
	"sfumatura":  "taglio",
	"rasatura":   "taglio",
	"tinta":      "colore",
	"tintura":    "colore",
	"ricrescita": "colore",
	"meches":     "colore",
	"colpi":      "colore",
	"barba":      "barba",
	"phon":       "piega",
	"messa":      "piega",
	"unghie":     "manicure",
	"smalto":     "manicure",
}

// Match picks the best service for the text, or nil.
// Order: verbatim name/alias containment, then keyword categories, then
// per-token fuzzy similarity above SimilarityThreshold (ties broken by
// catalog order).
func Match(text string, services []models.Service) *models.Service {
	norm := timeparse.Normalize(text)

	for i := range services {
		if containsName(norm, services[i].Name) {
			return &services[i]
		}
		for _, alias := range services[i].Aliases {
			if containsName(norm, alias) {
				return &services[i]
			}
		}
	}

	// Token order of the message keeps keyword resolution deterministic.
	for _, tok := range strings.Fields(norm) {
		category, ok := categoryKeywords[tok]
		if !ok {
			continue
		}
		for i := range services {
			if strings.Contains(timeparse.Normalize(services[i].Name), category) {
				return &services[i]
			}
		}
	}

	return fuzzyMatch(norm, services)
}

func fuzzyMatch(norm string, services []models.Service) *models.Service {
	best := -1
	bestScore := 0.0
	for i := range services {
		name := timeparse.Normalize(services[i].Name)
		for _, token := range strings.Fields(norm) {
			if len(token) < 3 {
				continue
			}
			score := Similarity(token, name)
			// Also compare against each word of a multi-word name.
			for _, part := range strings.Fields(name) {
				if s := Similarity(token, part); s > score {
					score = s
				}
			}
			if score >= SimilarityThreshold && score > bestScore {
				best, bestScore = i, score
			}
		}
	}
	if best < 0 {
		return nil
	}
	return &services[best]
}

func containsName(norm, name string) bool {
	name = timeparse.Normalize(strings.TrimSpace(name))
	return name != "" && strings.Contains(norm, name)
}

// Similarity is 1 - levenshtein(a,b)/max(len(a),len(b)), on runes.
func Similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	ra, rb := []rune(a), []rune(b)
	longest := len(ra)
	if len(rb) > longest {
		longest = len(rb)
	}
	if longest == 0 {
		return 1
	}
	return 1 - float64(levenshtein(ra, rb))/float64(longest)
}

func levenshtein(a, b []rune) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		cur[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			cur[j] = min3(cur[j-1]+1, prev[j]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}
