package plan

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

// ErrUnparseableDue is returned when a due value is neither a relative token
// nor a recognizable date.
var ErrUnparseableDue = errors.New("plan: unparseable due date")

// DefaultDue is the offset applied when a card carries no usable due date.
const DefaultDue = "+7d"

var relativeDue = regexp.MustCompile(`^\+(\d+)([dwmq])$`)

// ParseDue resolves raw against now. Relative tokens are "+<N>" followed by
// d (days), w (weeks), m (months) or q (quarters); anything else is parsed as
// an absolute date, ISO first.
func ParseDue(raw string, now time.Time) (time.Time, error) {
	value := strings.ToLower(strings.TrimSpace(raw))
	if value == "" {
		return time.Time{}, fmt.Errorf("%w: empty value", ErrUnparseableDue)
	}

	if m := relativeDue.FindStringSubmatch(value); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: %q: %v", ErrUnparseableDue, raw, err)
		}
		switch m[2] {
		case "d":
			return now.AddDate(0, 0, n), nil
		case "w":
			return now.AddDate(0, 0, 7*n), nil
		case "m":
			return now.AddDate(0, n, 0), nil
		default:
			return now.AddDate(0, 3*n, 0), nil
		}
	}

	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.ParseInLocation(layout, strings.TrimSpace(raw), now.Location()); err == nil {
			return t, nil
		}
	}
	t, err := dateparse.ParseIn(strings.TrimSpace(raw), now.Location())
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrUnparseableDue, raw)
	}
	return t, nil
}

// ResolveDue applies ParseDue and falls back to fallback (itself a relative
// token) when raw cannot be used. The returned error reports why the fallback
// was taken so the caller can log it; the time is always usable.
func ResolveDue(raw, fallback string, now time.Time) (time.Time, error) {
	due, err := ParseDue(raw, now)
	if err == nil {
		return due, nil
	}
	def, ferr := ParseDue(fallback, now)
	if ferr != nil {
		def, _ = ParseDue(DefaultDue, now)
	}
	return def, err
}
