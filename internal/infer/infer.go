// Package infer synthesizes end times for meetings whose source only states
// when they begin.
//
// Each end is the earliest of three candidates:
//
//   - start + elapsed cap (always present)
//   - the end-of-day cutoff on the start's date, if after start
//   - the next meeting's start, if on the same date and after start
//
// An interval shorter than the floor duration is then widened to the floor
// (see FloorMode for how that interacts with the next meeting).
package infer

import (
	"sort"
	"time"

	"schedcal/internal/model"
)

// Infer sorts events by start (stable) and returns one Entry per event in
// the same order. The input slice is not modified. An empty input yields an
// empty, non-nil result.
func Infer(events []model.Event, p Policy) []model.Entry {
	p.Normalize()

	sorted := make([]model.Event, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Start.Before(sorted[j].Start)
	})

	out := make([]model.Entry, 0, len(sorted))
	for i, ev := range sorted {
		var next *time.Time
		if i+1 < len(sorted) {
			n := sorted[i+1].Start
			next = &n
		}
		out = append(out, inferOne(ev, next, p))
	}
	return out
}

func inferOne(ev model.Event, next *time.Time, p Policy) model.Entry {
	start := ev.Start

	end, bound := start.Add(p.ElapsedCap), model.BoundElapsed

	if cutoff := p.Cutoff.On(start); cutoff.After(start) && cutoff.Before(end) {
		end, bound = cutoff, model.BoundCutoff
	}

	// sameDay is any next start on the same date, including duplicates;
	// only a strictly later one is a candidate.
	sameDay := next != nil && model.SameDate(start, *next)
	hasNext := sameDay && next.After(start)
	if hasNext && next.Before(end) {
		end, bound = *next, model.BoundNext
	}

	if end.Sub(start) < p.Floor {
		floorEnd := start.Add(p.Floor)
		if p.FloorMode == FloorClampToNext && hasNext && floorEnd.After(*next) {
			end, bound = *next, model.BoundClamped
		} else {
			end, bound = floorEnd, model.BoundFloor
		}
	}

	return model.Entry{
		Title:        ev.Title,
		Start:        start,
		End:          end,
		Bound:        bound,
		OverlapsNext: sameDay && end.After(*next),
	}
}
