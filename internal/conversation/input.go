package conversation

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"prenotazioni/internal/models"
)

var (
	errDateFields   = errors.New("date must have exactly three fields")
	errNotANumber   = errors.New("not a number")
	errNotPositive  = errors.New("must be positive")
	errOverCapacity = errors.New("over capacity")
)

var yesTokens = map[string]bool{
	"si": true, "sì": true, "s": true, "yes": true, "y": true, "ok": true, "conferma": true, "confermo": true,
}

var noTokens = map[string]bool{
	"no": true, "n": true, "annulla": true, "cancel": true,
}

var noneLiterals = map[string]bool{
	"nessuna": true, "nessuno": true, "none": true, "no": true, "-": true,
}

// ParseDate parses input with layout in loc after checking it has as many
// slash-separated fields as the layout. The result is the civil date at UTC midnight.
func ParseDate(input, layout string, loc *time.Location) (time.Time, error) {
	input = strings.TrimSpace(input)
	if strings.Contains(layout, "/") {
		fields := strings.Split(input, "/")
		if len(fields) != strings.Count(layout, "/")+1 {
			return time.Time{}, errDateFields
		}
		for _, f := range fields {
			if f == "" {
				return time.Time{}, errDateFields
			}
		}
	}
	if loc == nil {
		loc = time.UTC
	}
	t, err := time.ParseInLocation(layout, input, loc)
	if err != nil {
		return time.Time{}, err
	}
	return models.CalendarDate(t), nil
}

// ParseGuests accepts a positive integer no larger than maxGuests (0 means no cap).
func ParseGuests(input string, maxGuests int) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(input))
	if err != nil {
		return 0, errNotANumber
	}
	if n <= 0 {
		return 0, errNotPositive
	}
	if maxGuests > 0 && n > maxGuests {
		return 0, errOverCapacity
	}
	return n, nil
}

type answer int

const (
	answerUnknown answer = iota
	answerYes
	answerNo
)

func normalizeToken(input string) string {
	return strings.Trim(strings.ToLower(strings.TrimSpace(input)), ".!?")
}

func parseAnswer(input string) answer {
	token := normalizeToken(input)
	switch {
	case yesTokens[token]:
		return answerYes
	case noTokens[token]:
		return answerNo
	}
	return answerUnknown
}

// normalizeRequests maps the none-literals to the empty string.
func normalizeRequests(input string) string {
	trimmed := strings.TrimSpace(input)
	if noneLiterals[normalizeToken(trimmed)] {
		return ""
	}
	return trimmed
}
