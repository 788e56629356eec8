// Package scheduler refreshes every calendar entity on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/sourcegraph/conc/pool"

	"caldavcal/internal/entity"
	appLog "caldavcal/internal/log"
)

const (
	// DefaultSpec refreshes every five minutes. Each source still limits
	// itself to one remote query per throttle interval.
	DefaultSpec = "*/5 * * * *"

	defaultWorkers = 4
)

// Registry is the set of entities a Scheduler refreshes.
type Registry interface {
	All() []*entity.Adapter
}

// Scheduler runs RunOnce on a cron schedule.
type Scheduler struct {
	spec    string
	reg     Registry
	workers int
	cron    *cron.Cron

	ctx    context.Context
	cancel context.CancelFunc
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithWorkers bounds how many entities refresh concurrently.
func WithWorkers(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.workers = n
		}
	}
}

// New validates spec (standard five-field cron, or descriptors like
// "@every 10m") and returns a stopped Scheduler.
func New(spec string, reg Registry, opts ...Option) (*Scheduler, error) {
	if spec == "" {
		spec = DefaultSpec
	}
	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, fmt.Errorf("scheduler: invalid schedule %q: %w", spec, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		spec:    spec,
		reg:     reg,
		workers: defaultWorkers,
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(s)
	}

	logger := cronLogger{}
	s.cron = cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	if _, err := s.cron.AddFunc(spec, func() { _ = s.RunOnce(s.ctx) }); err != nil {
		cancel()
		return nil, fmt.Errorf("scheduler: %w", err)
	}
	return s, nil
}

// Spec is the effective schedule.
func (s *Scheduler) Spec() string { return s.spec }

// RunOnce refreshes every entity once. Failures are logged per entity and
// returned combined; one failing entity never stops the others.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	runID := uuid.NewString()
	entities := s.reg.All()
	started := time.Now()

	appLog.Debug("refresh run starting", "run_id", runID, "entities", len(entities))

	var failed atomic.Int32
	p := pool.New().WithMaxGoroutines(s.workers).WithContext(ctx)
	for _, a := range entities {
		a := a // per-iteration copy; go directive is below 1.22
		p.Go(func(ctx context.Context) error {
			if err := a.Refresh(ctx); err != nil {
				failed.Add(1)
				appLog.Error("entity refresh failed", err, "run_id", runID, "entity_id", a.ID())
				return fmt.Errorf("%s: %w", a.ID(), err)
			}
			return nil
		})
	}
	err := p.Wait()

	appLog.Info("refresh run finished",
		"run_id", runID,
		"entities", len(entities),
		"failed", failed.Load(),
		"took", time.Since(started).Round(time.Millisecond).String(),
	)
	return err
}

// Start begins running on the schedule in the background.
func (s *Scheduler) Start() {
	appLog.Info("scheduler started", "spec", s.spec)
	s.cron.Start()
}

// Stop halts the schedule and waits for a running refresh to finish, or
// for ctx to be done, whichever comes first. In-flight requests are
// cancelled when ctx expires.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	defer s.cancel()

	select {
	case <-done.Done():
		appLog.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// cronLogger routes cron's own messages to the application log. cron logs
// every wake-up at info level, which is debug noise here.
type cronLogger struct{}

func (cronLogger) Info(msg string, kv ...interface{}) {
	appLog.Debug("cron: "+msg, kv...)
}

func (cronLogger) Error(err error, msg string, kv ...interface{}) {
	appLog.Error("cron: "+msg, err, kv...)
}
