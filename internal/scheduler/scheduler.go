// Package scheduler runs background jobs on fixed intervals or at a daily
// wall-clock time. A job that is still running when its next trigger fires
// is skipped for that trigger.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Job is one unit of scheduled work.
type Job func(ctx context.Context) error

type entry struct {
	name    string
	job     Job
	running atomic.Bool
	runs    atomic.Int64
	skipped atomic.Int64
	next    func(now time.Time) time.Time
}

type Scheduler struct {
	logger  *slog.Logger
	mu      sync.Mutex
	entries []*entry
	wg      sync.WaitGroup
	started bool
}

func New(logger *slog.Logger) *Scheduler {
	return &Scheduler{logger: logger.With("component", "scheduler")}
}

// Every runs job after initialDelay and then every interval.
func (s *Scheduler) Every(name string, interval, initialDelay time.Duration, job Job) {
	first := true
	s.add(&entry{
		name: name,
		job:  job,
		next: func(now time.Time) time.Time {
			if first {
				first = false
				return now.Add(initialDelay)
			}
			return now.Add(interval)
		},
	})
}

// DailyAt runs job every day at hour:minute in loc.
func (s *Scheduler) DailyAt(name string, hour, minute int, loc *time.Location, job Job) {
	s.add(&entry{
		name: name,
		job:  job,
		next: func(now time.Time) time.Time {
			return NextDailyRun(now, hour, minute, loc)
		},
	})
}

func (s *Scheduler) add(e *entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		panic("scheduler: job registered after Start")
	}
	s.entries = append(s.entries, e)
}

// Start launches one loop per registered job. Loops stop when ctx is done;
// Wait blocks until they and any running jobs have returned.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.started = true
	entries := s.entries
	s.mu.Unlock()

	for _, e := range entries {
		s.wg.Add(1)
		go s.loop(ctx, e)
	}
	s.logger.Info("scheduler started", "jobs", len(entries))
}

func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, e *entry) {
	defer s.wg.Done()

	for {
		now := time.Now()
		at := e.next(now)
		s.logger.Debug("job scheduled", "job", e.name, "at", at)

		timer := time.NewTimer(at.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info("job loop stopped", "job", e.name)
			return
		case <-timer.C:
			s.trigger(ctx, e)
		}
	}
}

func (s *Scheduler) trigger(ctx context.Context, e *entry) {
	if !e.running.CompareAndSwap(false, true) {
		e.skipped.Add(1)
		s.logger.Warn("job still running, skipping trigger", "job", e.name)
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer e.running.Store(false)
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("job panicked", "job", e.name, "panic", rec)
			}
		}()

		e.runs.Add(1)
		start := time.Now()
		if err := e.job(ctx); err != nil {
			s.logger.Error("job failed", "job", e.name, "error", err, "duration", time.Since(start))
			return
		}
		s.logger.Info("job finished", "job", e.name, "duration", time.Since(start))
	}()
}

// Stats reports how often the named job ran and how many triggers it skipped.
func (s *Scheduler) Stats(name string) (runs, skipped int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.name == name {
			return e.runs.Load(), e.skipped.Load()
		}
	}
	return 0, 0
}

// NextDailyRun returns the first hour:minute in loc strictly after now.
func NextDailyRun(now time.Time, hour, minute int, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	local := now.In(loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, loc)
	if !next.After(local) {
		next = time.Date(local.Year(), local.Month(), local.Day()+1, hour, minute, 0, 0, loc)
	}
	return next
}
