// Package ics renders inferred entries as an iCalendar feed and reads a
// previously written feed back for comparison.
package ics

import (
	"fmt"
	"strconv"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/google/uuid"

	"schedcal/internal/config"
	appLog "schedcal/internal/log"
	"schedcal/internal/model"
)

// PropBound records which constraint chose DTEND.
var PropBound = ical.ComponentProperty("X-SCHEDCAL-BOUND")

// PropOverlaps is "TRUE" on an entry that runs past the next same-day start.
var PropOverlaps = ical.ComponentProperty("X-SCHEDCAL-OVERLAPS")

// uidNamespace scopes the name-based UIDs of emitted events.
var uidNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://schedcal/events"))

// EmitOptions holds the calendar-level properties.
type EmitOptions struct {
	ProductID    string
	CalendarName string

	// Timezone is advertised as X-WR-TIMEZONE. DTSTART/DTEND are always
	// written in UTC.
	Timezone string

	// Now is stamped as DTSTAMP; zero means time.Now().
	Now time.Time
}

// Emit builds a calendar with one VEVENT per entry. UIDs depend only on
// title and start, so a client re-importing the feed updates events in
// place instead of duplicating them.
func Emit(entries []model.Entry, opts EmitOptions) *ical.Calendar {
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}

	cal := ical.NewCalendar()
	if opts.ProductID != "" {
		cal.SetProductId(opts.ProductID)
	}
	cal.SetMethod(ical.MethodPublish)
	if opts.CalendarName != "" {
		cal.SetXWRCalName(opts.CalendarName)
	}
	if opts.Timezone != "" {
		cal.SetXWRTimezone(opts.Timezone)
	}

	seen := make(map[string]int, len(entries))
	for _, e := range entries {
		uid := EventUID(e.Title, e.Start)
		if n := seen[uid]; n > 0 {
			// Same title at the same time more than once.
			seen[uid] = n + 1
			uid = uid + "-" + strconv.Itoa(n)
		} else {
			seen[uid] = 1
		}

		ev := cal.AddEvent(uid)
		ev.SetDtStampTime(now)
		ev.SetSummary(e.Title)
		ev.SetStartAt(e.Start)
		ev.SetEndAt(e.End)
		if e.Bound != "" {
			ev.SetProperty(PropBound, string(e.Bound))
		}
		if e.OverlapsNext {
			ev.SetProperty(PropOverlaps, "TRUE")
		}
	}

	appLog.Debug("ics emit completed", "event_count", len(entries))
	return cal
}

// EventUID returns the stable UID for a meeting.
func EventUID(title string, start time.Time) string {
	key := title + "\x00" + start.UTC().Format(time.RFC3339)
	return uuid.NewSHA1(uidNamespace, []byte(key)).String() + "@schedcal"
}

// WriteFile serializes cal and replaces path atomically, so a reader never
// sees a partially written feed.
func WriteFile(path string, cal *ical.Calendar) error {
	if err := config.WriteFileAtomic(path, []byte(cal.Serialize()), 0o644); err != nil {
		return fmt.Errorf("ics: write %s: %w", path, err)
	}
	return nil
}
