package ics

import (
	"errors"
	"testing"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"caldavcal/internal/ics/icstest"
	"caldavcal/internal/model"
)

func parseOne(t *testing.T, lines ...string) *ical.VEvent {
	t.Helper()
	events, err := Parse(icstest.Calendar(icstest.Event(lines...)))
	require.NoError(t, err)
	require.Len(t, events, 1)
	return events[0]
}

func TestParseMultipleEventsInOneRecord(t *testing.T) {
	blob := icstest.Calendar(
		icstest.AllDay("Holiday", "20240101", "20240102"),
		icstest.Timed("Standup", "20240101T090000Z", "20240101T091500Z"),
	)

	events, err := Parse(blob)
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestParseRejectsEmptyAndGarbage(t *testing.T) {
	_, err := Parse(nil)
	var perr *ParseError
	require.ErrorAs(t, err, &perr)

	_, err = Parse([]byte("   \r\n"))
	require.ErrorAs(t, err, &perr)

	for _, garbage := range []string{"not ical", "<html><body>login</body></html>", "BEGIN:VEVENT\r\nEND:VEVENT\r\n"} {
		_, err = Parse([]byte(garbage))
		assert.ErrorAs(t, err, &perr, garbage)
	}
}

func TestConvert(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skip("tzdata not available")
	}

	tests := []struct {
		name      string
		lines     []string
		wantStart model.TemporalPoint
		wantEnd   model.TemporalPoint
		wantSum   string
		wantLoc   string
		wantDesc  string
	}{
		{
			name:      "all-day with VALUE=DATE",
			lines:     []string{"SUMMARY:Holiday", "DTSTART;VALUE=DATE:20240101", "DTEND;VALUE=DATE:20240102"},
			wantStart: model.AllDay(2024, time.January, 1),
			wantEnd:   model.AllDay(2024, time.January, 2),
			wantSum:   "Holiday",
		},
		{
			name:      "bare date without VALUE parameter",
			lines:     []string{"SUMMARY:Bare", "DTSTART:20240301", "DTEND:20240302"},
			wantStart: model.AllDay(2024, time.March, 1),
			wantEnd:   model.AllDay(2024, time.March, 2),
			wantSum:   "Bare",
		},
		{
			name: "utc date-time with location and description",
			lines: []string{
				"SUMMARY:Standup",
				"DTSTART:20240101T090000Z",
				"DTEND:20240101T091500Z",
				"LOCATION:Room 4",
				"DESCRIPTION:Daily sync",
			},
			wantStart: model.Instant(time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)),
			wantEnd:   model.Instant(time.Date(2024, 1, 1, 9, 15, 0, 0, time.UTC)),
			wantSum:   "Standup",
			wantLoc:   "Room 4",
			wantDesc:  "Daily sync",
		},
		{
			name:      "tzid date-time",
			lines:     []string{"SUMMARY:Call", "DTSTART;TZID=America/New_York:20240101T090000", "DTEND;TZID=America/New_York:20240101T100000"},
			wantStart: model.Instant(time.Date(2024, 1, 1, 9, 0, 0, 0, ny)),
			wantEnd:   model.Instant(time.Date(2024, 1, 1, 10, 0, 0, 0, ny)),
			wantSum:   "Call",
		},
		{
			name:      "floating date-time is read as utc",
			lines:     []string{"DTSTART:20240101T090000", "DTEND;VALUE=DATE-TIME:20240101T100000"},
			wantStart: model.Instant(time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)),
			wantEnd:   model.Instant(time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)),
		},
		{
			name:      "unknown tzid falls back to floating",
			lines:     []string{"SUMMARY:Exchange", "DTSTART;TZID=Mars/Olympus_Mons:20240101T090000", "DTEND;TZID=Mars/Olympus_Mons:20240101T100000"},
			wantStart: model.Instant(time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)),
			wantEnd:   model.Instant(time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)),
			wantSum:   "Exchange",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := Convert(parseOne(t, tt.lines...))
			require.NoError(t, err)

			assert.True(t, tt.wantStart.Equal(ev.Start), "start: want %s got %s", tt.wantStart, ev.Start)
			assert.True(t, tt.wantEnd.Equal(ev.End), "end: want %s got %s", tt.wantEnd, ev.End)
			assert.Equal(t, tt.wantStart.Kind(), ev.Start.Kind())
			assert.Equal(t, tt.wantSum, ev.Summary)
			assert.Equal(t, tt.wantLoc, ev.Location)
			assert.Equal(t, tt.wantDesc, ev.Description)
		})
	}
}

func TestConvertRejectsBadTemporalFields(t *testing.T) {
	tests := []struct {
		name      string
		lines     []string
		wantField string
		wantErr   error
	}{
		{
			name:      "missing dtend",
			lines:     []string{"SUMMARY:Open", "DTSTART:20240101T090000Z"},
			wantField: "DTEND",
			wantErr:   ErrMissingField,
		},
		{
			name:      "missing dtstart",
			lines:     []string{"SUMMARY:Open", "DTEND:20240101T090000Z"},
			wantField: "DTSTART",
			wantErr:   ErrMissingField,
		},
		{
			name:      "period value",
			lines:     []string{"DTSTART;VALUE=PERIOD:20240101T090000Z/PT1H", "DTEND:20240101T100000Z"},
			wantField: "DTSTART",
			wantErr:   ErrUnsupportedValue,
		},
		{
			name:      "garbage value",
			lines:     []string{"DTSTART:soon", "DTEND:20240101T100000Z"},
			wantField: "DTSTART",
			wantErr:   ErrUnsupportedValue,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Convert(parseOne(t, tt.lines...))
			var terr *TemporalFieldError
			require.ErrorAs(t, err, &terr)
			assert.Equal(t, tt.wantField, terr.Field)
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
		})
	}
}

func TestConvertRejectsMalformedDateTime(t *testing.T) {
	_, err := Convert(parseOne(t, "DTSTART:20241399T250000Z", "DTEND:20240101T100000Z"))
	var terr *TemporalFieldError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, "DTSTART", terr.Field)
	assert.Equal(t, "20241399T250000Z", terr.Value)
}

func TestConvertAllStopsAtFirstFailure(t *testing.T) {
	events, err := Parse(icstest.Calendar(
		icstest.Timed("ok", "20240101T090000Z", "20240101T100000Z"),
		icstest.Event("SUMMARY:broken", "DTSTART:20240101T090000Z"),
	))
	require.NoError(t, err)

	out, err := ConvertAll(events)
	assert.Nil(t, out)
	var terr *TemporalFieldError
	assert.ErrorAs(t, err, &terr)
}
