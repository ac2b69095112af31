package infer

import (
	"fmt"

	"schedcal/internal/model"
)

// ViolationKind classifies a broken batch invariant.
type ViolationKind string

const (
	ViolationOrder   ViolationKind = "order"   // start before the previous start
	ViolationEmpty   ViolationKind = "empty"   // end not after start
	ViolationFloor   ViolationKind = "floor"   // shorter than the floor
	ViolationCap     ViolationKind = "cap"     // longer than the cap without the floor forcing it
	ViolationOverlap ViolationKind = "overlap" // runs into the next same-day entry
)

// Violation describes one entry that breaks a batch invariant.
type Violation struct {
	Index  int           `json:"index"`
	Kind   ViolationKind `json:"kind"`
	Detail string        `json:"detail"`
}

func (v Violation) String() string {
	return fmt.Sprintf("entry %d: %s: %s", v.Index, v.Kind, v.Detail)
}

// Check evaluates the output invariants of Infer against entries.
//
// Entries shortened by FloorClampToNext are not reported as floor
// violations, and floor-widened entries are not reported as cap violations;
// overlaps are always reported.
func Check(entries []model.Entry, p Policy) []Violation {
	p.Normalize()

	var out []Violation
	for i, e := range entries {
		d := e.Duration()

		if i > 0 && e.Start.Before(entries[i-1].Start) {
			out = append(out, Violation{Index: i, Kind: ViolationOrder,
				Detail: fmt.Sprintf("start %s before previous %s", e.Start, entries[i-1].Start)})
		}
		if !e.End.After(e.Start) {
			out = append(out, Violation{Index: i, Kind: ViolationEmpty,
				Detail: fmt.Sprintf("end %s not after start %s", e.End, e.Start)})
		}
		if d < p.Floor && e.Bound != model.BoundClamped {
			out = append(out, Violation{Index: i, Kind: ViolationFloor,
				Detail: fmt.Sprintf("duration %s below floor %s", d, p.Floor)})
		}
		if d > p.ElapsedCap && e.Bound != model.BoundFloor {
			out = append(out, Violation{Index: i, Kind: ViolationCap,
				Detail: fmt.Sprintf("duration %s above cap %s", d, p.ElapsedCap)})
		}
		if i+1 < len(entries) {
			next := entries[i+1]
			if model.SameDate(e.Start, next.Start) && e.End.After(next.Start) {
				out = append(out, Violation{Index: i, Kind: ViolationOverlap,
					Detail: fmt.Sprintf("end %s after next start %s", e.End, next.Start)})
			}
		}
	}
	return out
}
