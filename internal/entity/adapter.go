// Package entity exposes a calendar data source as a host-visible calendar
// entity with an on/off state and event attributes.
package entity

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/samber/mo"

	"caldavcal/internal/model"
)

const (
	StateOn  = "on"
	StateOff = "off"

	// DefaultOffsetMarker prefixes an offset in an event summary, e.g. "!!-15".
	DefaultOffsetMarker = "!!"
)

// ConfigurationError reports a configured calendar name that is not among the
// collections the server offers. The entity is not created.
type ConfigurationError struct {
	Calendar  string
	Available []string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("entity: calendar %q not found (available: %v)", e.Calendar, e.Available)
}

// Named is anything that can be looked up by display name.
type Named interface {
	Name() string
}

// Resolve returns the first collection whose name equals name exactly.
func Resolve[T Named](name string, collections []T) (T, error) {
	names := make([]string, 0, len(collections))
	for _, c := range collections {
		if c.Name() == name {
			return c, nil
		}
		names = append(names, c.Name())
	}
	var zero T
	return zero, &ConfigurationError{Calendar: name, Available: names}
}

// DataSource is what an Adapter reads its state from.
type DataSource interface {
	Update(ctx context.Context) (bool, error)
	ForceUpdate(ctx context.Context) (bool, error)
	Current() mo.Option[model.Event]
}

// State is the entity state reported to the host.
type State struct {
	EntityID   string         `json:"entity_id"`
	Name       string         `json:"name"`
	State      string         `json:"state"`
	Attributes map[string]any `json:"attributes"`
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithOffsetMarker sets the token that introduces an offset in summaries.
func WithOffsetMarker(marker string) Option {
	return func(a *Adapter) {
		if marker != "" {
			a.offsetMarker = marker
		}
	}
}

// WithClock replaces time.Now for offset_reached.
func WithClock(now func() time.Time) Option {
	return func(a *Adapter) { a.now = now }
}

// WithLocation sets the zone all-day events are placed in when computing
// offset_reached. Defaults to time.Local.
func WithLocation(loc *time.Location) Option {
	return func(a *Adapter) {
		if loc != nil {
			a.loc = loc
		}
	}
}

// Adapter binds one DataSource to one calendar entity.
type Adapter struct {
	id           string
	name         string
	source       DataSource
	offsetMarker string
	offsetRe     *regexp.Regexp
	now          func() time.Time
	loc          *time.Location
}

// New returns an adapter for the entity id with display name name.
func New(id, name string, src DataSource, opts ...Option) *Adapter {
	a := &Adapter{
		id:           id,
		name:         name,
		source:       src,
		offsetMarker: DefaultOffsetMarker,
		now:          time.Now,
		loc:          time.Local,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.offsetRe = offsetPattern(a.offsetMarker)
	return a
}

func (a *Adapter) ID() string   { return a.id }
func (a *Adapter) Name() string { return a.name }

// Refresh runs a (throttled) update of the data source.
func (a *Adapter) Refresh(ctx context.Context) error {
	_, err := a.source.Update(ctx)
	return err
}

// ForceRefresh updates the data source ignoring its throttle.
func (a *Adapter) ForceRefresh(ctx context.Context) error {
	_, err := a.source.ForceUpdate(ctx)
	return err
}

// State derives the entity state from the source's current event: "on"
// with the event's fields as attributes when there is one, "off" otherwise.
func (a *Adapter) State() State {
	st := State{
		EntityID:   a.id,
		Name:       a.name,
		State:      StateOff,
		Attributes: map[string]any{},
	}

	ev, ok := a.source.Current().Get()
	if !ok {
		return st
	}

	message, offset := extractOffset(ev.Summary, a.offsetRe)
	start := ev.Start.Time(a.loc)

	st.State = StateOn
	st.Attributes = map[string]any{
		"summary":        ev.Summary,
		"message":        message,
		"all_day":        ev.AllDay(),
		"start_time":     ev.Start.ISO(),
		"end_time":       ev.End.ISO(),
		"location":       ev.Location,
		"description":    ev.Description,
		"offset_reached": !start.Add(offset).After(a.now()),
	}
	return st
}
