// Package scheduler triggers refreshes on a cron schedule with a random
// start delay.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	appLog "schedcal/internal/log"
)

// Jitter bounds the random delay before each triggered run.
type Jitter struct {
	Min time.Duration
	Max time.Duration
}

// pick returns a delay in [Min, Max].
func (j Jitter) pick() time.Duration {
	if j.Max <= j.Min {
		if j.Min < 0 {
			return 0
		}
		return j.Min
	}
	return j.Min + time.Duration(rand.Int64N(int64(j.Max-j.Min)+1))
}

// Job is the work to run on each trigger.
type Job func(ctx context.Context)

type options struct {
	loc        *time.Location
	runAtStart bool
}

// Option configures Start.
type Option func(*options)

// WithLocation interprets the cron spec in loc instead of time.Local.
func WithLocation(loc *time.Location) Option {
	return func(o *options) { o.loc = loc }
}

// WithRunAtStart also triggers one run (after jitter) immediately.
func WithRunAtStart() Option {
	return func(o *options) { o.runAtStart = true }
}

// Scheduler is a started cron loop.
type Scheduler struct {
	cron *cron.Cron
	id   cron.EntryID
	done chan struct{}

	// startup tracks the WithRunAtStart run, which cron does not.
	startup sync.WaitGroup
}

// Start parses spec (five-field cron or a descriptor such as "@every 1h"),
// schedules fn, and stops when ctx is cancelled. A trigger that fires while
// the previous run is still going is skipped.
func Start(ctx context.Context, spec string, jitter Jitter, fn Job, opts ...Option) (*Scheduler, error) {
	if fn == nil {
		return nil, errors.New("scheduler: nil job")
	}
	o := options{loc: time.Local}
	for _, opt := range opts {
		opt(&o)
	}

	logger := cronLogger{}
	c := cron.New(cron.WithLocation(o.loc), cron.WithLogger(logger))

	job := cron.NewChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)).Then(cron.FuncJob(func() {
		delay := jitter.pick()
		if delay > 0 {
			appLog.Debug("scheduler jitter", "delay", delay)
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
		}
		fn(ctx)
	}))

	id, err := c.AddJob(spec, job)
	if err != nil {
		return nil, fmt.Errorf("scheduler: spec %q: %w", spec, err)
	}

	s := &Scheduler{cron: c, id: id, done: make(chan struct{})}
	c.Start()
	appLog.Info("scheduler started", "spec", spec, "next", s.Next(), "jitter_min", jitter.Min, "jitter_max", jitter.Max)

	if o.runAtStart {
		s.startup.Add(1)
		go func() {
			defer s.startup.Done()
			job.Run()
		}()
	}

	go func() {
		<-ctx.Done()
		<-c.Stop().Done()
		s.startup.Wait()
		appLog.Info("scheduler stopped")
		close(s.done)
	}()
	return s, nil
}

// Next returns the next trigger time.
func (s *Scheduler) Next() time.Time {
	return s.cron.Entry(s.id).Next
}

// Done is closed after ctx is cancelled and any running job has returned.
func (s *Scheduler) Done() <-chan struct{} {
	return s.done
}

// cronLogger adapts the cron library's logger to appLog.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	appLog.Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	appLog.Error("cron: "+msg, err, keysAndValues...)
}
