package model

import (
	"fmt"
	"time"
)

// TemporalKind tags which variant a TemporalPoint holds.
type TemporalKind int

const (
	// KindInvalid is the zero value; conversion never produces it.
	KindInvalid TemporalKind = iota
	// KindAllDay is a calendar date without a time of day (iCalendar DATE).
	KindAllDay
	// KindInstant is a timezone-aware date-time (iCalendar DATE-TIME).
	KindInstant
)

func (k TemporalKind) String() string {
	switch k {
	case KindAllDay:
		return "all-day"
	case KindInstant:
		return "instant"
	default:
		return "invalid"
	}
}

// TemporalPoint is either an all-day date or an instant. Build it with
// AllDay or Instant; the zero value is invalid.
type TemporalPoint struct {
	kind TemporalKind
	t    time.Time
}

// AllDay returns a date-only point.
func AllDay(year int, month time.Month, day int) TemporalPoint {
	return TemporalPoint{
		kind: KindAllDay,
		t:    time.Date(year, month, day, 0, 0, 0, 0, time.UTC),
	}
}

// Instant returns a date-time point. t keeps its location.
func Instant(t time.Time) TemporalPoint {
	return TemporalPoint{kind: KindInstant, t: t}
}

func (p TemporalPoint) Kind() TemporalKind { return p.kind }

func (p TemporalPoint) IsAllDay() bool { return p.kind == KindAllDay }

func (p TemporalPoint) Valid() bool { return p.kind == KindAllDay || p.kind == KindInstant }

// Date returns the calendar date of the point in its own location.
func (p TemporalPoint) Date() (int, time.Month, int) {
	return p.t.Date()
}

// Time returns the point as a time.Time. All-day points resolve to midnight
// in loc (UTC when loc is nil); instants are returned unchanged.
func (p TemporalPoint) Time(loc *time.Location) time.Time {
	if p.kind == KindAllDay {
		if loc == nil {
			loc = time.UTC
		}
		y, m, d := p.t.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, loc)
	}
	return p.t
}

// ISO renders the point as ISO-8601: 2006-01-02 for all-day dates and
// RFC 3339 for instants.
func (p TemporalPoint) ISO() string {
	switch p.kind {
	case KindAllDay:
		return p.t.Format(time.DateOnly)
	case KindInstant:
		return p.t.Format(time.RFC3339)
	default:
		return ""
	}
}

func (p TemporalPoint) String() string {
	return fmt.Sprintf("%s(%s)", p.kind, p.ISO())
}

// Equal reports whether both points hold the same variant and the same
// moment (or date).
func (p TemporalPoint) Equal(o TemporalPoint) bool {
	return p.kind == o.kind && p.t.Equal(o.t)
}

// Event is a normalized VEVENT as tracked by a calendar data source.
type Event struct {
	Summary     string
	Start       TemporalPoint
	End         TemporalPoint
	Location    string
	Description string
}

// AllDay reports whether the event starts on a date rather than an instant.
func (e Event) AllDay() bool {
	return e.Start.IsAllDay()
}
