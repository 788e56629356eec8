package ics

import (
	"errors"
	"fmt"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "caldavcal/internal/log"
	"caldavcal/internal/model"
)

const (
	layoutDate     = "20060102"
	layoutDateTime = "20060102T150405"
	layoutUTC      = "20060102T150405Z"
)

var (
	// ErrMissingField is wrapped when DTSTART or DTEND is absent.
	ErrMissingField = errors.New("property is missing")
	// ErrUnsupportedValue is wrapped when the property is neither DATE nor DATE-TIME.
	ErrUnsupportedValue = errors.New("value is neither DATE nor DATE-TIME")
)

// TemporalFieldError reports a DTSTART/DTEND that could not be read as a
// date or a date-time.
type TemporalFieldError struct {
	Field string
	Value string
	Err   error
}

func (e *TemporalFieldError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("ics: invalid %s: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("ics: invalid %s %q: %v", e.Field, e.Value, e.Err)
}

func (e *TemporalFieldError) Unwrap() error { return e.Err }

// Temporal reads a DATE or DATE-TIME property of ve into a TemporalPoint.
//
// A VALUE=DATE parameter, or an 8-digit value without one, yields an
// all-day point. A DATE-TIME in UTC ("Z" suffix) or with a TZID yields an
// instant in that zone; a floating DATE-TIME is read as UTC. Anything else
// is rejected.
func Temporal(ve *ical.VEvent, field ical.ComponentProperty) (model.TemporalPoint, error) {
	name := string(field)
	prop := ve.GetProperty(field)
	if prop == nil {
		return model.TemporalPoint{}, &TemporalFieldError{Field: name, Err: ErrMissingField}
	}

	value := strings.TrimSpace(prop.Value)
	fail := func(err error) (model.TemporalPoint, error) {
		return model.TemporalPoint{}, &TemporalFieldError{Field: name, Value: value, Err: err}
	}

	switch valueType := strings.ToUpper(param(prop, "VALUE")); valueType {
	case "DATE":
		return parseDate(value, fail)
	case "DATE-TIME":
		return parseDateTime(value, param(prop, "TZID"), fail)
	case "":
		if len(value) == len(layoutDate) && !strings.Contains(value, "T") {
			return parseDate(value, fail)
		}
		if strings.Contains(value, "T") {
			return parseDateTime(value, param(prop, "TZID"), fail)
		}
		return fail(ErrUnsupportedValue)
	default:
		return fail(fmt.Errorf("%w: VALUE=%s", ErrUnsupportedValue, valueType))
	}
}

func parseDate(value string, fail func(error) (model.TemporalPoint, error)) (model.TemporalPoint, error) {
	t, err := time.Parse(layoutDate, value)
	if err != nil {
		return fail(err)
	}
	return model.AllDay(t.Year(), t.Month(), t.Day()), nil
}

func parseDateTime(value, tzid string, fail func(error) (model.TemporalPoint, error)) (model.TemporalPoint, error) {
	if strings.HasSuffix(value, "Z") {
		t, err := time.Parse(layoutUTC, value)
		if err != nil {
			return fail(err)
		}
		return model.Instant(t), nil
	}

	loc := time.UTC
	if tzid != "" {
		l, err := time.LoadLocation(strings.TrimPrefix(tzid, "/"))
		if err != nil {
			appLog.Warn("ics: unknown TZID, treating time as floating", "tzid", tzid, "value", value)
		} else {
			loc = l
		}
	}

	t, err := time.ParseInLocation(layoutDateTime, value, loc)
	if err != nil {
		return fail(err)
	}
	return model.Instant(t), nil
}

func param(prop *ical.IANAProperty, key string) string {
	if prop.ICalParameters == nil {
		return ""
	}
	if vs := prop.ICalParameters[key]; len(vs) > 0 {
		return strings.Trim(vs[0], `"`)
	}
	return ""
}
