package schedule

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schedcal/internal/model"
)

func eastern(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	return loc
}

func TestParseStart(t *testing.T) {
	loc := eastern(t)
	p := Parser{Location: loc, Year: 2026}

	tests := []struct {
		date, clock string
		want        time.Time
	}{
		{"12-January", "1:30 PM", time.Date(2026, time.January, 12, 13, 30, 0, 0, loc)},
		{"02-Jan", "9:00AM", time.Date(2026, time.January, 2, 9, 0, 0, 0, loc)},
		{"March 3", "10 AM", time.Date(2026, time.March, 3, 10, 0, 0, 0, loc)},
		{"3 march", "14:15", time.Date(2026, time.March, 3, 14, 15, 0, 0, loc)},
		{"Tuesday, April 21st", "9:30 a.m.", time.Date(2026, time.April, 21, 9, 30, 0, 0, loc)},
		{"12 - January", "noon", time.Date(2026, time.January, 12, 12, 0, 0, 0, loc)},
		{"5-February-2027", "8:00 AM", time.Date(2027, time.February, 5, 8, 0, 0, 0, loc)},
		{"January 5, 2025", "3:00 PM", time.Date(2025, time.January, 5, 15, 0, 0, 0, loc)},
		{"2026-07-01", "09:00", time.Date(2026, time.July, 1, 9, 0, 0, 0, loc)},
	}

	for _, tt := range tests {
		t.Run(tt.date+" "+tt.clock, func(t *testing.T) {
			got, err := p.ParseStart(tt.date, tt.clock)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %s, want %s", got, tt.want)
			assert.Equal(t, loc, got.Location())
		})
	}
}

func TestParseStart_ZoneOffsetFollowsDate(t *testing.T) {
	loc := eastern(t)
	p := Parser{Location: loc, Year: 2026}

	winter, err := p.ParseStart("15-January", "9:00 AM")
	require.NoError(t, err)
	summer, err := p.ParseStart("15-July", "9:00 AM")
	require.NoError(t, err)

	_, winterOffset := winter.Zone()
	_, summerOffset := summer.Zone()
	assert.Equal(t, -5*3600, winterOffset)
	assert.Equal(t, -4*3600, summerOffset)
	assert.Equal(t, 9, summer.Hour())
}

func TestParseStart_Errors(t *testing.T) {
	p := Parser{Location: time.UTC, Year: 2026}

	_, err := p.ParseStart("", "9:00 AM")
	assert.ErrorIs(t, err, ErrEmptyDate)

	_, err = p.ParseStart("12-January", " ")
	assert.ErrorIs(t, err, ErrEmptyTime)

	_, err = p.ParseStart("29-February", "9:00 AM")
	assert.ErrorContains(t, err, "does not exist")

	_, err = p.ParseStart("sometime next week", "9:00 AM")
	assert.ErrorContains(t, err, "unrecognized date")

	_, err = p.ParseStart("12-January", "after lunch")
	assert.ErrorContains(t, err, "unrecognized time")

	_, err = Parser{Location: time.UTC}.ParseStart("12-January", "9:00 AM")
	assert.ErrorContains(t, err, "no default year")
}

func TestParse_DropsMalformedRecords(t *testing.T) {
	loc := eastern(t)
	p := Parser{Location: loc, Year: 2026}

	records := []model.Record{
		{Title: " Revenue Estimating Conference ", Date: "12-January", Time: "1:30 PM"},
		{Title: "Broken", Date: "32-January", Time: "1:30 PM"},
		{Title: "Economic Estimating Conference", Date: "13-January", Time: "9:00 AM"},
		{Title: "No time", Date: "14-January", Time: ""},
	}

	events, bad := p.Parse(records)

	require.Len(t, events, 2)
	assert.Equal(t, "Revenue Estimating Conference", events[0].Title)
	assert.Equal(t, "Economic Estimating Conference", events[1].Title)

	require.Len(t, bad, 2)
	assert.Equal(t, 1, bad[0].Index)
	assert.Equal(t, "Broken", bad[0].Record.Title)
	assert.Equal(t, 3, bad[1].Index)
	assert.True(t, errors.Is(bad[1], ErrEmptyTime))
	assert.Contains(t, bad[0].Error(), `"Broken"`)
}

func TestParse_Empty(t *testing.T) {
	events, bad := Parser{Location: time.UTC, Year: 2026}.Parse(nil)
	assert.NotNil(t, events)
	assert.Empty(t, events)
	assert.Empty(t, bad)
}

func TestResolveYear(t *testing.T) {
	loc := eastern(t)

	// 2026-01-01 03:00 UTC is still 2025 in New York.
	now := time.Date(2026, time.January, 1, 3, 0, 0, 0, time.UTC)

	assert.Equal(t, 2030, ResolveYear(2030, now, loc))
	assert.Equal(t, 2025, ResolveYear(0, now, loc))
	assert.Equal(t, 2026, ResolveYear(0, now, nil))
}
