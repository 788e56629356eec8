package ics

import (
	"bytes"
	"errors"
	"fmt"

	ical "github.com/arran4/golang-ical"

	appLog "caldavcal/internal/log"
	"caldavcal/internal/model"
)

// ParseError wraps a calendar-data document that could not be decoded.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string {
	return "ics: parse calendar data: " + e.Err.Error()
}

func (e *ParseError) Unwrap() error { return e.Err }

// Parse decodes a single iCalendar document and returns every VEVENT in it.
// A CalDAV calendar object resource may carry more than one VEVENT (for
// example a recurring master plus overridden instances).
func Parse(blob []byte) ([]*ical.VEvent, error) {
	trimmed := bytes.TrimSpace(blob)
	if len(trimmed) == 0 {
		return nil, &ParseError{Err: errors.New("empty calendar data")}
	}
	if !bytes.HasPrefix(bytes.ToUpper(trimmed), []byte("BEGIN:VCALENDAR")) {
		return nil, &ParseError{Err: errors.New("calendar data does not start with BEGIN:VCALENDAR")}
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(blob))
	if err != nil {
		return nil, &ParseError{Err: err}
	}

	events := cal.Events()
	appLog.Debug("ics parse completed", "event_count", len(events))
	return events, nil
}

// Convert turns a VEVENT into a normalized event. SUMMARY, LOCATION and
// DESCRIPTION default to the empty string; DTSTART and DTEND must both be a
// DATE or DATE-TIME value, otherwise a *TemporalFieldError is returned.
func Convert(ve *ical.VEvent) (model.Event, error) {
	if ve == nil {
		return model.Event{}, errors.New("ics: nil event")
	}

	start, err := Temporal(ve, ical.ComponentPropertyDtStart)
	if err != nil {
		return model.Event{}, err
	}
	end, err := Temporal(ve, ical.ComponentPropertyDtEnd)
	if err != nil {
		return model.Event{}, err
	}

	return model.Event{
		Summary:     text(ve, ical.ComponentPropertySummary),
		Start:       start,
		End:         end,
		Location:    text(ve, ical.ComponentPropertyLocation),
		Description: text(ve, ical.ComponentPropertyDescription),
	}, nil
}

// ConvertAll converts every event and stops at the first failure.
func ConvertAll(events []*ical.VEvent) ([]model.Event, error) {
	out := make([]model.Event, 0, len(events))
	for i, ve := range events {
		ev, err := Convert(ve)
		if err != nil {
			return nil, fmt.Errorf("event %d (uid %q): %w", i, uid(ve), err)
		}
		out = append(out, ev)
	}
	return out, nil
}

func text(ve *ical.VEvent, p ical.ComponentProperty) string {
	if prop := ve.GetProperty(p); prop != nil {
		return prop.Value
	}
	return ""
}

func uid(ve *ical.VEvent) string {
	if ve == nil {
		return ""
	}
	return text(ve, ical.ComponentPropertyUniqueId)
}
