package entity

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// offsetPattern matches "<marker>[+-]M" or "<marker>[+-]H:MM". An empty
// marker disables offsets and yields nil.
func offsetPattern(marker string) *regexp.Regexp {
	if marker == "" {
		return nil
	}
	return regexp.MustCompile(regexp.QuoteMeta(marker) + `([+-]?[0-9]{0,2}(?::[0-9]{0,2})?)`)
}

// extractOffset returns summary without the offset token plus the parsed
// offset. A bare number is minutes. Without a token the summary is returned
// with whitespace collapsed and a zero offset.
func extractOffset(summary string, re *regexp.Regexp) (string, time.Duration) {
	if re == nil {
		return collapse(summary), 0
	}
	loc := re.FindStringSubmatchIndex(summary)
	if loc == nil || loc[3] <= loc[2] {
		return collapse(summary), 0
	}

	token := summary[loc[2]:loc[3]]
	stripped := summary[:loc[0]] + " " + summary[loc[1]:]
	return collapse(stripped), parseOffset(token)
}

func parseOffset(token string) time.Duration {
	sign := time.Duration(1)
	switch {
	case strings.HasPrefix(token, "-"):
		sign = -1
		token = token[1:]
	case strings.HasPrefix(token, "+"):
		token = token[1:]
	}

	hours, minutes := "0", token
	if h, m, ok := strings.Cut(token, ":"); ok {
		hours, minutes = h, m
	}
	return sign * (time.Duration(atoi(hours))*time.Hour + time.Duration(atoi(minutes))*time.Minute)
}

func atoi(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
