// Package calendar polls one remote calendar collection and reduces the
// events of the next day to a single current event.
package calendar

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/samber/mo"

	"caldavcal/internal/caldav"
	"caldavcal/internal/ics"
	appLog "caldavcal/internal/log"
	"caldavcal/internal/model"
)

const (
	// DefaultInterval is the minimum time between two remote queries of the
	// same source.
	DefaultInterval = 15 * time.Minute
	// DefaultWindow is the lookahead of each query.
	DefaultWindow = 24 * time.Hour
)

// Collection is the remote calendar a Source reads from.
type Collection interface {
	Name() string
	DateSearch(ctx context.Context, start, end time.Time) ([]caldav.Object, error)
}

// Option configures a Source.
type Option func(*Source)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Source) { s.now = now }
}

// WithInterval sets the throttle interval.
func WithInterval(d time.Duration) Option {
	return func(s *Source) { s.interval = d }
}

// WithWindow sets the query lookahead.
func WithWindow(d time.Duration) Option {
	return func(s *Source) { s.window = d }
}

// Source wraps one calendar collection plus an optional summary filter and
// holds the last known current event.
type Source struct {
	collection Collection
	search     mo.Option[string]
	now        func() time.Time
	interval   time.Duration
	window     time.Duration

	// updating serialises remote queries; mu guards the fields below and is
	// never held across a query.
	updating    sync.Mutex
	mu          sync.RWMutex
	current     mo.Option[model.Event]
	lastAttempt time.Time
	attempted   bool
	lastOK      bool
	lastErr     error
}

// NewSource returns a Source for c. An empty search string means no filter.
func NewSource(c Collection, search mo.Option[string], opts ...Option) *Source {
	if v, ok := search.Get(); ok && v == "" {
		search = mo.None[string]()
	}
	s := &Source{
		collection: c,
		search:     search,
		now:        time.Now,
		interval:   DefaultInterval,
		window:     DefaultWindow,
		current:    mo.None[model.Event](),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name is the name of the underlying collection.
func (s *Source) Name() string {
	return s.collection.Name()
}

// Search returns the configured summary filter.
func (s *Source) Search() mo.Option[string] {
	return s.search
}

// Current returns the last known current event. It only changes on a
// successful update.
func (s *Source) Current() mo.Option[model.Event] {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// LastUpdate reports when the last remote query was attempted and how it
// ended. ok is false before the first attempt.
func (s *Source) LastUpdate() (at time.Time, ok bool, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastAttempt, s.lastOK, s.lastErr
}

// Update refreshes the current event at most once per interval. Calls that
// land inside the interval return the result of the previous attempt
// without querying the server; failed attempts are throttled too.
func (s *Source) Update(ctx context.Context) (bool, error) {
	s.updating.Lock()
	defer s.updating.Unlock()

	now := s.now()
	s.mu.RLock()
	throttled := s.attempted && now.Sub(s.lastAttempt) < s.interval
	lastAttempt, ok, err := s.lastAttempt, s.lastOK, s.lastErr
	s.mu.RUnlock()

	if throttled {
		appLog.Debug("calendar update throttled", "calendar", s.collection.Name(),
			"next_in", s.interval-now.Sub(lastAttempt))
		return ok, err
	}
	return s.update(ctx, now)
}

// ForceUpdate queries the server regardless of the throttle and restarts
// the interval.
func (s *Source) ForceUpdate(ctx context.Context) (bool, error) {
	s.updating.Lock()
	defer s.updating.Unlock()
	return s.update(ctx, s.now())
}

// update must be called with s.updating held. Readers see the previous
// state until the result is committed.
func (s *Source) update(ctx context.Context, now time.Time) (bool, error) {
	s.mu.Lock()
	s.attempted = true
	s.lastAttempt = now
	s.mu.Unlock()

	events, err := s.fetch(ctx, now)
	if err != nil {
		s.mu.Lock()
		s.lastOK, s.lastErr = false, err
		s.mu.Unlock()
		appLog.Error("calendar update failed", err, "calendar", s.collection.Name())
		return false, err
	}

	matches := s.filter(events)
	// No match and several simultaneous matches are both "no event".
	current := mo.None[model.Event]()
	if len(matches) == 1 {
		current = mo.Some(matches[0])
	}

	s.mu.Lock()
	s.current = current
	s.lastOK, s.lastErr = true, nil
	s.mu.Unlock()

	appLog.Info("calendar updated",
		"calendar", s.collection.Name(),
		"events", len(events),
		"matches", len(matches),
		"current", current.IsPresent(),
	)
	return true, nil
}

// fetch queries [now, now+window) in UTC and converts every VEVENT of every
// returned object. The first conversion error fails the whole fetch.
func (s *Source) fetch(ctx context.Context, now time.Time) ([]model.Event, error) {
	start := now.UTC()
	end := start.Add(s.window)

	objects, err := s.collection.DateSearch(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("date search %q: %w", s.collection.Name(), err)
	}

	var events []model.Event
	for _, obj := range objects {
		vevents, err := ics.Parse(obj.Data)
		if err != nil {
			return nil, fmt.Errorf("object %s: %w", obj.Href, err)
		}
		converted, err := ics.ConvertAll(vevents)
		if err != nil {
			return nil, fmt.Errorf("object %s: %w", obj.Href, err)
		}
		events = append(events, converted...)
	}
	return events, nil
}

func (s *Source) filter(events []model.Event) []model.Event {
	needle, ok := s.search.Get()
	if !ok {
		return events
	}
	out := make([]model.Event, 0, len(events))
	for _, ev := range events {
		if strings.Contains(ev.Summary, needle) {
			out = append(out, ev)
		}
	}
	return out
}
