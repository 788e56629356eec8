package caldav

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	appLog "caldavcal/internal/log"
)

// Calendar is a calendar collection discovered under the home set. It
// borrows the session of the Client that listed it.
type Calendar struct {
	client      *Client
	url         *url.URL
	DisplayName string
}

// Object is one calendar object resource returned by a time-range query.
type Object struct {
	Href string
	ETag string
	Data []byte
}

// Name is the collection's display name, or the last path segment of its
// URL when the server does not report one.
func (c *Calendar) Name() string {
	if c.DisplayName != "" {
		return c.DisplayName
	}
	return path.Base(strings.TrimSuffix(c.url.Path, "/"))
}

// URL returns the absolute collection URL.
func (c *Calendar) URL() string {
	return c.url.String()
}

// discover walks server URL → current-user-principal → calendar-home-set.
// Candidate start points are the configured URL, /.well-known/caldav and the
// server root, in that order.
func (c *Client) discover(ctx context.Context) error {
	candidates := []*url.URL{}
	if c.base.Path != "" && c.base.Path != "/" {
		candidates = append(candidates, c.base)
	}
	candidates = append(candidates,
		c.base.ResolveReference(&url.URL{Path: "/.well-known/caldav"}),
		c.base.ResolveReference(&url.URL{Path: "/"}),
	)

	body, err := buildPropfind(propCurrentUserPrincipal, propCalendarHomeSet)
	if err != nil {
		return err
	}

	var lastErr error
	for _, cand := range candidates {
		data, at, err := c.do(ctx, "PROPFIND", cand, 0, body, http.StatusMultiStatus)
		if err != nil {
			var terr *TransportError
			if errors.As(err, &terr) && (terr.Unauthorized() || terr.StatusCode == 0) {
				// Bad credentials or an unreachable host will not improve on
				// another candidate.
				return err
			}
			lastErr = err
			continue
		}
		responses, err := parseMultistatus(data)
		if err != nil {
			lastErr = &TransportError{Op: "PROPFIND", URL: at.String(), Err: err}
			continue
		}
		for _, r := range responses {
			if home := r.href(propCalendarHomeSet.name); home != "" && c.homeSet == nil {
				if c.homeSet, err = c.resolve(home, at); err != nil {
					return err
				}
			}
			if p := r.href(propCurrentUserPrincipal.name); p != "" && c.principal == nil {
				if c.principal, err = c.resolve(p, at); err != nil {
					return err
				}
			}
		}
		if c.principal != nil {
			break
		}
	}

	if c.principal == nil {
		if lastErr != nil {
			return fmt.Errorf("caldav: current-user-principal not found: %w", lastErr)
		}
		return errors.New("caldav: current-user-principal not found")
	}

	if c.homeSet == nil {
		body, err := buildPropfind(propCalendarHomeSet)
		if err != nil {
			return err
		}
		data, at, err := c.do(ctx, "PROPFIND", c.principal, 0, body, http.StatusMultiStatus)
		if err != nil {
			return err
		}
		responses, err := parseMultistatus(data)
		if err != nil {
			return &TransportError{Op: "PROPFIND", URL: at.String(), Err: err}
		}
		for _, r := range responses {
			if home := r.href(propCalendarHomeSet.name); home != "" {
				if c.homeSet, err = c.resolve(home, at); err != nil {
					return err
				}
				break
			}
		}
	}
	if c.homeSet == nil {
		return errors.New("caldav: calendar-home-set not found")
	}
	return nil
}

// ListCalendars returns every calendar collection directly under the home set.
func (c *Client) ListCalendars(ctx context.Context) ([]*Calendar, error) {
	body, err := buildPropfind(propResourceType, propDisplayName)
	if err != nil {
		return nil, err
	}
	data, at, err := c.do(ctx, "PROPFIND", c.homeSet, 1, body, http.StatusMultiStatus)
	if err != nil {
		return nil, err
	}
	responses, err := parseMultistatus(data)
	if err != nil {
		return nil, &TransportError{Op: "PROPFIND", URL: at.String(), Err: err}
	}

	calendars := make([]*Calendar, 0, len(responses))
	for _, r := range responses {
		if !r.isCalendar() {
			continue
		}
		u, err := c.resolve(r.Href, at)
		if err != nil {
			appLog.Warn("caldav: skipping calendar with bad href", "href", r.Href)
			continue
		}
		calendars = append(calendars, &Calendar{
			client:      c,
			url:         u,
			DisplayName: r.text(propDisplayName.name),
		})
	}

	appLog.Info("caldav calendars listed", "count", len(calendars))
	return calendars, nil
}

// DateSearch returns the raw calendar objects with a VEVENT overlapping
// [start, end). Recurrence is not expanded client-side.
func (c *Calendar) DateSearch(ctx context.Context, start, end time.Time) ([]Object, error) {
	body, err := buildCalendarQuery(start, end)
	if err != nil {
		return nil, err
	}
	data, at, err := c.client.do(ctx, "REPORT", c.url, 1, body, http.StatusMultiStatus)
	if err != nil {
		return nil, err
	}
	responses, err := parseMultistatus(data)
	if err != nil {
		return nil, &TransportError{Op: "REPORT", URL: at.String(), Err: err}
	}

	objects := make([]Object, 0, len(responses))
	for _, r := range responses {
		cd := r.text("calendar-data")
		if cd == "" {
			continue
		}
		objects = append(objects, Object{
			Href: r.Href,
			ETag: r.text("getetag"),
			Data: []byte(cd + "\r\n"),
		})
	}

	appLog.Debug("caldav date search", "calendar", c.Name(), "objects", len(objects),
		"start", start.UTC().Format(time.RFC3339), "end", end.UTC().Format(time.RFC3339))
	return objects, nil
}
