package ics

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	ical "github.com/arran4/golang-ical"

	appLog "schedcal/internal/log"
	"schedcal/internal/model"
)

// ReadEntries parses a feed written by Emit back into entries, sorted by
// start. Events without a usable DTSTART/DTEND are logged and skipped.
func ReadEntries(r io.Reader) ([]model.Entry, error) {
	cal, err := ical.ParseCalendar(r)
	if err != nil {
		return nil, fmt.Errorf("ics: parse calendar: %w", err)
	}

	entries := make([]model.Entry, 0)
	for _, ve := range cal.Events() {
		e, perr := readVEvent(ve)
		if perr != nil {
			appLog.Warn("ics vevent skipped", "uid", ve.Id(), "err", perr)
			continue
		}
		entries = append(entries, e)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Start.Before(entries[j].Start)
	})
	return entries, nil
}

// ReadFile is ReadEntries on a file. A missing file yields no entries.
func ReadFile(path string) ([]model.Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()
	return ReadEntries(f)
}

func readVEvent(ve *ical.VEvent) (model.Entry, error) {
	var out model.Entry

	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		out.Title = p.Value
	}

	start, err := ve.GetStartAt()
	if err != nil {
		return out, fmt.Errorf("DTSTART: %w", err)
	}
	end, err := ve.GetEndAt()
	if err != nil {
		return out, fmt.Errorf("DTEND: %w", err)
	}
	out.Start = start
	out.End = end

	if p := ve.GetProperty(PropBound); p != nil {
		out.Bound = model.Bound(p.Value)
	}
	if p := ve.GetProperty(PropOverlaps); p != nil {
		out.OverlapsNext = strings.EqualFold(p.Value, "TRUE")
	}
	return out, nil
}
