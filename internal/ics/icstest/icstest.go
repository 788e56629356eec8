// Package icstest builds small iCalendar documents for tests.
package icstest

import "strings"

// Event renders a VEVENT from raw content lines, e.g. "SUMMARY:Standup".
// A UID line is added when none is given.
func Event(lines ...string) string {
	var b strings.Builder
	b.WriteString("BEGIN:VEVENT\r\n")
	hasUID := false
	for _, l := range lines {
		if strings.HasPrefix(l, "UID") {
			hasUID = true
		}
	}
	if !hasUID {
		b.WriteString("UID:" + uidFor(lines) + "\r\n")
	}
	b.WriteString("DTSTAMP:20240101T000000Z\r\n")
	for _, l := range lines {
		b.WriteString(l)
		b.WriteString("\r\n")
	}
	b.WriteString("END:VEVENT\r\n")
	return b.String()
}

// Calendar wraps rendered VEVENTs in a VCALENDAR document.
func Calendar(events ...string) []byte {
	var b strings.Builder
	b.WriteString("BEGIN:VCALENDAR\r\n")
	b.WriteString("VERSION:2.0\r\n")
	b.WriteString("PRODID:-//caldavcal//test//EN\r\n")
	for _, e := range events {
		b.WriteString(e)
	}
	b.WriteString("END:VCALENDAR\r\n")
	return []byte(b.String())
}

// AllDay is an all-day event on date (YYYYMMDD) ending the next day.
func AllDay(summary, date, nextDate string) string {
	return Event(
		"SUMMARY:"+summary,
		"DTSTART;VALUE=DATE:"+date,
		"DTEND;VALUE=DATE:"+nextDate,
	)
}

// Timed is a UTC-timed event; start and end are YYYYMMDDTHHMMSSZ.
func Timed(summary, start, end string) string {
	return Event(
		"SUMMARY:"+summary,
		"DTSTART:"+start,
		"DTEND:"+end,
	)
}

func uidFor(lines []string) string {
	r := strings.NewReplacer(":", "-", ";", "-", "=", "-", " ", "-")
	return "test-" + r.Replace(strings.Join(lines, "_")) + "@caldavcal"
}
