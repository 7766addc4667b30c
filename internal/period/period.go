// Package period turns a (period, date) request pair into an inclusive
// calendar window.
package period

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidWindow is returned for any period/date pair that does not
// describe a calendar window.
var ErrInvalidWindow = errors.New("invalid window")

const dateLayout = "2006-01-02"

// Period names accepted by Parse.
const (
	Day   = "day"
	Week  = "week"
	Month = "month"
	Year  = "year"
	Range = "range"
)

// Window is an inclusive range of calendar dates. Start and End are at
// midnight in the location they were parsed in.
type Window struct {
	Period string
	Start  time.Time
	End    time.Time
}

// StartString returns the first day as YYYY-MM-DD.
func (w Window) StartString() string {
	return w.Start.Format(dateLayout)
}

// EndString returns the last day as YYYY-MM-DD.
func (w Window) EndString() string {
	return w.End.Format(dateLayout)
}

// Lower returns the first instant of the window (start 00:00:00).
func (w Window) Lower() time.Time {
	return w.Start
}

// Upper returns the last second of the window (end 23:59:59).
func (w Window) Upper() time.Time {
	y, m, d := w.End.Date()
	return time.Date(y, m, d, 23, 59, 59, 0, w.End.Location())
}

// Contains reports whether t falls inside [Lower, Upper].
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Lower()) && !t.After(w.Upper())
}

// Days returns the number of calendar days in the window.
func (w Window) Days() int {
	return civilDay(w.End) - civilDay(w.Start) + 1
}

// civilDay numbers the calendar date of t, ignoring its zone offset.
func civilDay(t time.Time) int {
	y, m, d := t.Date()
	return int(time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Unix() / 86400)
}

func (w Window) String() string {
	return fmt.Sprintf("%s:%s,%s", w.Period, w.StartString(), w.EndString())
}

// Parse resolves period and date relative to now. Dates are interpreted in
// now's location.
func Parse(period, date string, now time.Time) (Window, error) {
	period = strings.ToLower(strings.TrimSpace(period))
	date = strings.TrimSpace(date)
	if date == "" {
		return Window{}, fmt.Errorf("%w: date is required", ErrInvalidWindow)
	}

	today := midnight(now)

	if period == Range {
		return parseRange(date, today)
	}

	day, err := parseDate(date, today)
	if err != nil {
		return Window{}, err
	}

	switch period {
	case Day:
		return Window{Period: Day, Start: day, End: day}, nil
	case Week:
		// Weeks run Monday to Sunday.
		offset := (int(day.Weekday()) + 6) % 7
		start := day.AddDate(0, 0, -offset)
		return Window{Period: Week, Start: start, End: start.AddDate(0, 0, 6)}, nil
	case Month:
		start := time.Date(day.Year(), day.Month(), 1, 0, 0, 0, 0, day.Location())
		return Window{Period: Month, Start: start, End: start.AddDate(0, 1, -1)}, nil
	case Year:
		start := time.Date(day.Year(), time.January, 1, 0, 0, 0, 0, day.Location())
		return Window{Period: Year, Start: start, End: start.AddDate(1, 0, -1)}, nil
	default:
		return Window{}, fmt.Errorf("%w: unknown period %q", ErrInvalidWindow, period)
	}
}

// MustParse is Parse for tests and constants; it panics on error.
func MustParse(period, date string, now time.Time) Window {
	w, err := Parse(period, date, now)
	if err != nil {
		panic(err)
	}
	return w
}

func parseRange(date string, today time.Time) (Window, error) {
	lower := strings.ToLower(date)
	switch {
	case strings.HasPrefix(lower, "last"):
		n, err := parseCount(lower[len("last"):])
		if err != nil {
			return Window{}, err
		}
		return Window{Period: Range, Start: today.AddDate(0, 0, -(n - 1)), End: today}, nil
	case strings.HasPrefix(lower, "previous"):
		n, err := parseCount(lower[len("previous"):])
		if err != nil {
			return Window{}, err
		}
		end := today.AddDate(0, 0, -1)
		return Window{Period: Range, Start: end.AddDate(0, 0, -(n - 1)), End: end}, nil
	}

	parts := strings.Split(date, ",")
	if len(parts) != 2 {
		return Window{}, fmt.Errorf("%w: range must be START,END", ErrInvalidWindow)
	}
	start, err := parseDate(strings.TrimSpace(parts[0]), today)
	if err != nil {
		return Window{}, err
	}
	end, err := parseDate(strings.TrimSpace(parts[1]), today)
	if err != nil {
		return Window{}, err
	}
	if start.After(end) {
		return Window{}, fmt.Errorf("%w: range start %s after end %s", ErrInvalidWindow,
			start.Format(dateLayout), end.Format(dateLayout))
	}
	return Window{Period: Range, Start: start, End: end}, nil
}

func parseDate(s string, today time.Time) (time.Time, error) {
	switch strings.ToLower(s) {
	case "today", "now":
		return today, nil
	case "yesterday":
		return today.AddDate(0, 0, -1), nil
	}
	t, err := time.ParseInLocation(dateLayout, s, today.Location())
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: bad date %q", ErrInvalidWindow, s)
	}
	return t, nil
}

func parseCount(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("%w: bad range length %q", ErrInvalidWindow, s)
	}
	return n, nil
}

func midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
