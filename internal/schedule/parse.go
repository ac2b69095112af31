// Package schedule turns extracted (title, date, time) strings into
// timezone-aware events. It is the only place a calendar year is chosen.
package schedule

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"schedcal/internal/model"
)

var (
	ErrEmptyDate = errors.New("empty date")
	ErrEmptyTime = errors.New("empty time")
)

// Date layouts that carry an explicit year.
var datedLayouts = []string{
	"2-January-2006",
	"2-Jan-2006",
	"2 January 2006",
	"2 Jan 2006",
	"January 2, 2006",
	"January 2 2006",
	"Jan 2, 2006",
	"Jan 2 2006",
	"2006-01-02",
	"1/2/2006",
}

// Date layouts without a year; Parser.Year is applied.
var yearlessLayouts = []string{
	"2-January",
	"2-Jan",
	"2 January",
	"2 Jan",
	"January 2",
	"Jan 2",
	"1/2",
}

var clockLayouts = []string{
	"3:04 PM",
	"3:04PM",
	"3 PM",
	"3PM",
	"15:04",
	"15:04:05",
}

var (
	ordinalSuffix = regexp.MustCompile(`(\d)(st|nd|rd|th)\b`)
	weekdayPrefix = regexp.MustCompile(`(?i)^(mon|tue|tues|wed|thu|thur|thurs|fri|sat|sun)[a-z]*\.?,?\s+`)
	spaces        = regexp.MustCompile(`\s+`)
)

// RecordError is a record that could not be turned into an event.
type RecordError struct {
	Index  int
	Record model.Record
	Err    error
}

func (e RecordError) Error() string {
	return fmt.Sprintf("record %d (%q, %q %q): %v", e.Index, e.Record.Title, e.Record.Date, e.Record.Time, e.Err)
}

func (e RecordError) Unwrap() error {
	return e.Err
}

// Parser converts records into events in a single location.
type Parser struct {
	// Location every timestamp is constructed in. Nil means time.Local.
	Location *time.Location

	// Year applies to dates without an explicit year.
	Year int
}

// Parse converts records in order. Malformed records are skipped and
// returned as RecordErrors; the remaining events are still returned.
func (p Parser) Parse(records []model.Record) ([]model.Event, []RecordError) {
	events := make([]model.Event, 0, len(records))
	var bad []RecordError

	for i, rec := range records {
		start, err := p.ParseStart(rec.Date, rec.Time)
		if err != nil {
			bad = append(bad, RecordError{Index: i, Record: rec, Err: err})
			continue
		}
		events = append(events, model.Event{
			Title: strings.TrimSpace(rec.Title),
			Start: start,
		})
	}
	return events, bad
}

// ParseStart combines a date string and a clock string into a time in the
// parser's location. The value is built with time.Date, so the zone offset
// is the one in effect at that wall-clock time.
func (p Parser) ParseStart(date, clock string) (time.Time, error) {
	loc := p.Location
	if loc == nil {
		loc = time.Local
	}

	y, m, d, err := p.parseDate(date)
	if err != nil {
		return time.Time{}, err
	}
	hh, mm, ss, err := parseClock(clock)
	if err != nil {
		return time.Time{}, err
	}

	t := time.Date(y, m, d, hh, mm, ss, 0, loc)
	if t.Day() != d || t.Month() != m {
		// e.g. 29-February in a non-leap year.
		return time.Time{}, fmt.Errorf("date %q does not exist in %d", date, y)
	}
	return t, nil
}

func (p Parser) parseDate(s string) (int, time.Month, int, error) {
	s = cleanDate(s)
	if s == "" {
		return 0, 0, 0, ErrEmptyDate
	}

	for _, layout := range datedLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Year(), t.Month(), t.Day(), nil
		}
	}
	for _, layout := range yearlessLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			if p.Year <= 0 {
				return 0, 0, 0, fmt.Errorf("date %q has no year and no default year is set", s)
			}
			return p.Year, t.Month(), t.Day(), nil
		}
	}
	return 0, 0, 0, fmt.Errorf("unrecognized date %q", s)
}

func cleanDate(s string) string {
	s = strings.TrimSpace(s)
	s = spaces.ReplaceAllString(s, " ")
	s = weekdayPrefix.ReplaceAllString(s, "")
	s = ordinalSuffix.ReplaceAllString(s, "$1")
	s = strings.TrimSuffix(s, ".")
	// Models sometimes return "12 - January". Month names match
	// case-insensitively in time.Parse.
	return strings.ReplaceAll(s, " - ", "-")
}

func parseClock(s string) (int, int, int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, 0, 0, ErrEmptyTime
	}

	s = strings.ToUpper(spaces.ReplaceAllString(s, " "))
	s = strings.NewReplacer("A.M.", "AM", "P.M.", "PM", ".", ":").Replace(s)
	switch s {
	case "NOON":
		return 12, 0, 0, nil
	case "MIDNIGHT":
		return 0, 0, 0, nil
	}

	for _, layout := range clockLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Hour(), t.Minute(), t.Second(), nil
		}
	}
	return 0, 0, 0, fmt.Errorf("unrecognized time %q", s)
}

// ResolveYear returns configured when set, otherwise the year of now in loc.
// Callers pass the clock in so runs are reproducible in tests.
func ResolveYear(configured int, now time.Time, loc *time.Location) int {
	if configured > 0 {
		return configured
	}
	if loc != nil {
		now = now.In(loc)
	}
	return now.Year()
}
