package infer

import (
	"fmt"
	"time"
)

const (
	defaultElapsedCap = 5 * time.Hour
	defaultFloor      = 15 * time.Minute
)

// defaultCutoff is the end-of-day clock time (19:00:00).
var defaultCutoff = Clock{Hour: 19}

// FloorMode decides how the floor duration interacts with the next-event cap.
type FloorMode string

const (
	// FloorAlways applies the floor unconditionally. An entry may then end
	// after the next same-day start; Entry.OverlapsNext reports it.
	FloorAlways FloorMode = "always"

	// FloorClampToNext never lets the floor extend an entry past the next
	// same-day start. Such an entry can be shorter than the floor.
	FloorClampToNext FloorMode = "clamp_to_next"
)

// ParseFloorMode converts a config value into a FloorMode. An empty string
// yields FloorAlways.
func ParseFloorMode(s string) (FloorMode, error) {
	switch FloorMode(s) {
	case "", FloorAlways:
		return FloorAlways, nil
	case FloorClampToNext:
		return FloorClampToNext, nil
	default:
		return "", fmt.Errorf("infer: unknown floor mode %q", s)
	}
}

// Policy holds the numeric/time configuration of the engine.
// Zero fields are replaced by defaults in Normalize.
type Policy struct {
	// ElapsedCap is the maximum assumed meeting length (default 5h).
	ElapsedCap time.Duration

	// Cutoff is the local clock time past which meetings are assumed not
	// to run (default 19:00:00). A zero Clock means the default.
	Cutoff Clock

	// Floor is the minimum length of any entry (default 15m).
	Floor time.Duration

	// FloorMode selects the floor-vs-next precedence (default FloorAlways).
	FloorMode FloorMode
}

// DefaultPolicy returns the documented defaults.
func DefaultPolicy() Policy {
	return Policy{
		ElapsedCap: defaultElapsedCap,
		Cutoff:     defaultCutoff,
		Floor:      defaultFloor,
		FloorMode:  FloorAlways,
	}
}

// Normalize fills in zero or invalid values with defaults.
func (p *Policy) Normalize() {
	if p.ElapsedCap <= 0 {
		p.ElapsedCap = defaultElapsedCap
	}
	if p.Cutoff.IsZero() || !p.Cutoff.Valid() {
		p.Cutoff = defaultCutoff
	}
	if p.Floor <= 0 {
		p.Floor = defaultFloor
	}
	if p.FloorMode != FloorClampToNext {
		p.FloorMode = FloorAlways
	}
}

// Clock is a wall-clock time of day.
type Clock struct {
	Hour   int
	Minute int
	Second int
}

// ParseClock parses "15:04" or "15:04:05".
func ParseClock(s string) (Clock, error) {
	for _, layout := range []string{"15:04:05", "15:04"} {
		if t, err := time.Parse(layout, s); err == nil {
			return Clock{Hour: t.Hour(), Minute: t.Minute(), Second: t.Second()}, nil
		}
	}
	return Clock{}, fmt.Errorf("infer: invalid clock time %q", s)
}

// IsZero reports whether c is midnight, which Policy treats as unset.
func (c Clock) IsZero() bool {
	return c == Clock{}
}

// Valid reports whether every field is within range.
func (c Clock) Valid() bool {
	return c.Hour >= 0 && c.Hour < 24 &&
		c.Minute >= 0 && c.Minute < 60 &&
		c.Second >= 0 && c.Second < 60
}

// On returns c on t's calendar date, in t's location. Built with time.Date
// so the result is the local wall-clock time even on DST transition days.
func (c Clock) On(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, c.Hour, c.Minute, c.Second, 0, t.Location())
}

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d:%02d", c.Hour, c.Minute, c.Second)
}
