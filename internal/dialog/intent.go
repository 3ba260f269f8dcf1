package dialog

import (
	"regexp"
	"strconv"
	"strings"

	"prenotabot/internal/models"
	"prenotabot/internal/timeparse"
)

// Utterance classes the engine reacts to. Classification works on the
// normalized text; anything unrecognized is simply content for the parsers.
var (
	greetingWords = []string{"ciao", "salve", "buongiorno", "buonasera", "hey"}
	cancelWords   = []string{"annulla", "annullare", "cancella", "cancellare", "lascia stare", "niente"}
	affirmWords   = []string{"ok", "si", "va bene", "confermo", "conferma", "perfetto", "certo"}
	negativeWords = []string{"no", "non va", "cambia", "altro orario"}
)

var reSelection = regexp.MustCompile(`^(?:la |il |n\.?\s?|numero )?(\d{1,2})$`)

func isGreeting(norm string) bool { return matchesAny(norm, greetingWords) }
func isCancel(norm string) bool   { return matchesAny(norm, cancelWords) }
func isAffirm(norm string) bool   { return matchesAny(norm, affirmWords) }
func isNegative(norm string) bool { return matchesAny(norm, negativeWords) }

func matchesAny(norm string, words []string) bool {
	for _, w := range words {
		if strings.Contains(w, " ") {
			if strings.Contains(norm, w) {
				return true
			}
		} else if hasWord(norm, w) {
			return true
		}
	}
	return false
}

// selection extracts a 1-based numeric choice when the message is essentially
// just that number. Returns 0 when the message is not a selection at all.
func selection(norm string) int {
	m := reSelection.FindStringSubmatch(strings.TrimSpace(norm))
	if m == nil {
		return 0
	}
	n, _ := strconv.Atoi(m[1])
	return n
}

// operatorPrefs scans the text for "con X"/"da X" preferences and
// "non X"/"senza X" exclusions against the configured operator names.
func operatorPrefs(norm string, operators []models.Operator) (preferred string, excluded []string) {
	tokens := strings.Fields(strings.Map(stripPunct, norm))
	for _, op := range operators {
		name := timeparse.Normalize(op.Name)
		idx := wordIndex(tokens, name)
		if idx < 0 {
			continue
		}
		if precededBy(tokens, idx, "non", "senza") {
			excluded = append(excluded, op.Name)
		} else {
			preferred = op.Name
		}
	}
	return preferred, excluded
}

func wordIndex(tokens []string, word string) int {
	for i, t := range tokens {
		if t == word {
			return i
		}
	}
	return -1
}

// precededBy checks the two tokens before idx ("non con marco" still reads as
// an exclusion of marco).
func precededBy(tokens []string, idx int, words ...string) bool {
	for back := 1; back <= 2; back++ {
		if idx-back < 0 {
			break
		}
		for _, w := range words {
			if tokens[idx-back] == w {
				return true
			}
		}
	}
	return false
}

func hasWord(norm, word string) bool {
	for _, t := range strings.Fields(strings.Map(stripPunct, norm)) {
		if t == word {
			return true
		}
	}
	return false
}

func stripPunct(r rune) rune {
	switch r {
	case '!', '?', '.', ',', ';', ':':
		return ' '
	}
	return r
}
