// Package scheduler drives the periodic chase run: one tick followed by a
// dispatch pass, under the distributed lock.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/unclebandit/chaser-backend/internal/lock"
	"github.com/unclebandit/chaser-backend/internal/service"
)

// parser accepts standard 5-field expressions and descriptors like @hourly.
var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

type Ticker interface {
	Tick(ctx context.Context, now time.Time) (service.TickSummary, error)
}

type QueueDispatcher interface {
	DispatchQueued(ctx context.Context) (service.DispatchSummary, error)
}

// Result is the outcome of one scheduled run. Ran is false when another
// instance held the lock.
type Result struct {
	Ran      bool                    `json:"ran"`
	Tick     service.TickSummary     `json:"tick"`
	Dispatch service.DispatchSummary `json:"dispatch"`
}

type Scheduler struct {
	chase    Ticker
	dispatch QueueDispatcher
	locker   lock.Locker
	now      func() time.Time
	log      *slog.Logger

	cron *cron.Cron
	mu   sync.Mutex
	ctx  context.Context
}

type Options struct {
	Spec     string
	Chase    Ticker
	Dispatch QueueDispatcher
	// Locker may be nil for a single-instance deployment.
	Locker lock.Locker
	Now    func() time.Time
	Log    *slog.Logger
}

func New(opts Options) (*Scheduler, error) {
	if opts.Chase == nil {
		return nil, fmt.Errorf("scheduler: chase service is required")
	}
	if _, err := parser.Parse(opts.Spec); err != nil {
		return nil, fmt.Errorf("scheduler: invalid cron expression %q: %w", opts.Spec, err)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	s := &Scheduler{
		chase:    opts.Chase,
		dispatch: opts.Dispatch,
		locker:   opts.Locker,
		now:      opts.Now,
		log:      opts.Log,
		ctx:      context.Background(),
	}
	s.cron = cron.New(
		cron.WithParser(parser),
		cron.WithLocation(time.UTC),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	if _, err := s.cron.AddFunc(opts.Spec, s.scheduled); err != nil {
		return nil, fmt.Errorf("scheduler: %w", err)
	}
	return s, nil
}

// RunOnce performs one tick and dispatch pass if the lock is free.
func (s *Scheduler) RunOnce(ctx context.Context) (Result, error) {
	var res Result
	run := func(ctx context.Context) error {
		summary, err := s.chase.Tick(ctx, s.now())
		if err != nil {
			return err
		}
		res.Tick = summary
		if s.dispatch == nil {
			return nil
		}
		dispatched, err := s.dispatch.DispatchQueued(ctx)
		res.Dispatch = dispatched
		return err
	}

	if s.locker == nil {
		res.Ran = true
		return res, run(ctx)
	}
	ran, err := lock.Run(ctx, s.locker, run)
	res.Ran = ran
	if err != nil {
		return res, err
	}
	if !ran {
		s.log.Info("chase run skipped, lock held elsewhere")
	}
	return res, nil
}

func (s *Scheduler) scheduled() {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx.Err() != nil {
		return
	}

	start := time.Now()
	res, err := s.RunOnce(ctx)
	if err != nil {
		s.log.Error("chase run failed", "error", err)
		return
	}
	if res.Ran {
		s.log.Info("chase run finished",
			"duration", time.Since(start),
			"chased", res.Tick.Processed, "completed", res.Tick.Completed, "tick_errors", res.Tick.Errors,
			"sent", res.Dispatch.Sent, "failed", res.Dispatch.Failed, "opted_out", res.Dispatch.OptedOut)
	}
}

// Start runs the schedule in the background until ctx is done or Stop is
// called. Runs in progress see ctx cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()
	s.cron.Start()
	go func() {
		<-ctx.Done()
		s.cron.Stop()
	}()
}

// Stop halts the schedule and waits for a running job to return.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// Next reports when the schedule fires after t.
func Next(spec string, t time.Time) (time.Time, error) {
	sched, err := parser.Parse(spec)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(t), nil
}
