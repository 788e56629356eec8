// Package platform turns the configured calendars and sensors into a set of
// calendar entities.
package platform

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/samber/mo"

	"caldavcal/internal/caldav"
	"caldavcal/internal/calendar"
	"caldavcal/internal/config"
	"caldavcal/internal/entity"
	appLog "caldavcal/internal/log"
)

// Lister lists the calendar collections of the connected account.
type Lister interface {
	ListCalendars(ctx context.Context) ([]*caldav.Calendar, error)
}

// Registry holds the created entities in configuration order.
type Registry struct {
	order []*entity.Adapter
	byID  map[string]*entity.Adapter
}

func newRegistry() *Registry {
	return &Registry{byID: make(map[string]*entity.Adapter)}
}

func (r *Registry) add(a *entity.Adapter) {
	r.order = append(r.order, a)
	r.byID[a.ID()] = a
}

// All returns every entity in configuration order.
func (r *Registry) All() []*entity.Adapter {
	out := make([]*entity.Adapter, len(r.order))
	copy(out, r.order)
	return out
}

// Get returns the entity with the given id.
func (r *Registry) Get(id string) (*entity.Adapter, bool) {
	a, ok := r.byID[id]
	return a, ok
}

// Len is the number of registered entities.
func (r *Registry) Len() int { return len(r.order) }

// Setup lists the account's calendars once and builds one entity per tracked
// sensor. Sensors whose calendar cannot be found are logged and skipped.
func Setup(ctx context.Context, cfg *config.Config, lister Lister) (*Registry, error) {
	if cfg == nil {
		return nil, errors.New("platform: config is nil")
	}
	cals, err := lister.ListCalendars(ctx)
	if err != nil {
		return nil, fmt.Errorf("platform: list calendars: %w", err)
	}

	cols := make([]calendar.Collection, len(cals))
	for i, c := range cals {
		cols[i] = c
	}

	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	return build(cfg.Entities, cols, loc), nil
}

func build(entries []config.CalendarConfig, cols []calendar.Collection, loc *time.Location, opts ...calendar.Option) *Registry {
	reg := newRegistry()
	for _, entry := range entries {
		for _, sensor := range entry.Sensors {
			if !sensor.Track {
				appLog.Debug("sensor not tracked", "device_id", sensor.DeviceID)
				continue
			}
			if _, dup := reg.Get(sensor.DeviceID); dup {
				appLog.Warn("duplicate device_id, skipping", "device_id", sensor.DeviceID)
				continue
			}

			col, err := entity.Resolve(entry.CalendarID, cols)
			if err != nil {
				appLog.Error("calendar entity not created", err,
					"device_id", sensor.DeviceID,
					"cal_id", entry.CalendarID,
				)
				continue
			}

			src := calendar.NewSource(col, mo.Some(sensor.Search), opts...)
			reg.add(entity.New(sensor.DeviceID, sensor.Name, src,
				entity.WithOffsetMarker(sensor.Offset),
				entity.WithLocation(loc),
			))
			appLog.Info("calendar entity created",
				"device_id", sensor.DeviceID,
				"calendar", col.Name(),
				"search", sensor.Search,
			)
		}
	}
	return reg
}
