package model

import "time"

// Record is a single meeting as returned by the extraction step, before any
// date/time parsing. Date and Time are free-form strings such as
// "12-January" and "1:30 PM".
type Record struct {
	Title string `json:"title" yaml:"title"`
	Date  string `json:"date" yaml:"date"`
	Time  string `json:"time" yaml:"time"`
}

// Event is a parsed meeting: a title plus a timezone-aware start.
// All events of one batch share the same location.
type Event struct {
	Title string
	Start time.Time
}

// Bound names the constraint that determined an entry's end time.
type Bound string

const (
	BoundElapsed Bound = "elapsed" // start + elapsed cap
	BoundCutoff  Bound = "cutoff"  // end-of-day clock time
	BoundNext    Bound = "next"    // next same-day start
	BoundFloor   Bound = "floor"   // floor duration override
	BoundClamped Bound = "clamped" // floor clamped back to the next start
)

// Entry is a calendar entry with an inferred end time.
type Entry struct {
	Title string    `json:"title"`
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`

	// Bound records which candidate (or override) produced End.
	Bound Bound `json:"bound,omitempty"`

	// OverlapsNext is true when End falls after the start of the next
	// entry on the same calendar date. Only the floor override can cause it.
	OverlapsNext bool `json:"overlaps_next,omitempty"`
}

// Duration returns End - Start.
func (e Entry) Duration() time.Duration {
	return e.End.Sub(e.Start)
}

// SameDate reports whether a and b fall on the same calendar date in a's
// location.
func SameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.In(a.Location()).Date()
	return ay == by && am == bm && ad == bd
}
