package ics

import (
	"time"

	"schedcal/internal/model"
)

// Changes is the difference between two feeds.
type Changes struct {
	Added   []model.Entry `json:"added"`
	Removed []model.Entry `json:"removed"`

	// Rescheduled holds entries whose meeting still exists but whose end
	// moved. The new entry is reported.
	Rescheduled []model.Entry `json:"rescheduled"`
}

// Empty reports whether nothing changed.
func (c Changes) Empty() bool {
	return len(c.Added) == 0 && len(c.Removed) == 0 && len(c.Rescheduled) == 0
}

type entryKey struct {
	title string
	start int64
}

func keyOf(e model.Entry) entryKey {
	return entryKey{title: e.Title, start: e.Start.Unix()}
}

// Diff matches entries by title and start instant.
func Diff(old, cur []model.Entry) Changes {
	prev := make(map[entryKey][]time.Time, len(old))
	for _, e := range old {
		k := keyOf(e)
		prev[k] = append(prev[k], e.End)
	}

	var c Changes
	for _, e := range cur {
		k := keyOf(e)
		ends := prev[k]
		if len(ends) == 0 {
			c.Added = append(c.Added, e)
			continue
		}
		if !ends[0].Equal(e.End) {
			c.Rescheduled = append(c.Rescheduled, e)
		}
		prev[k] = ends[1:]
	}

	for _, e := range old {
		k := keyOf(e)
		if ends := prev[k]; len(ends) > 0 {
			c.Removed = append(c.Removed, e)
			prev[k] = ends[1:]
		}
	}
	return c
}
