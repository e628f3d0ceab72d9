/*
scheduler.go - Background accrual and rollover scheduler

PURPOSE:
  Periodically runs the accrual batch so entitlement keeps flowing
  without an operator, and triggers the year-end rollover once the
  calendar crosses into a new year.

DESIGN:
  - One background goroutine on a configurable ticker
  - The accrual batch itself is idempotent per period boundary, so an
    extra tick is harmless
  - Rollover fires when a tick lands in a later year than the previous
    tick; draining makes a repeated rollover a no-op

USAGE:
  sched := api.NewScheduler(runner, logger)
  sched.Start()
  defer sched.Stop()

SEE ALSO:
  - accrual/runner.go: The batch this drives
  - handlers.go: RunAccrual / RunRollover (manual triggers)
*/
package api

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/warp/leave-engine/accrual"
)

// Scheduler drives the accrual runner on a fixed interval.
type Scheduler struct {
	Runner   *accrual.Runner
	Interval time.Duration
	Logger   *slog.Logger

	Clock func() time.Time

	ticker   *time.Ticker
	stop     chan struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex
	lastTick time.Time
}

func NewScheduler(runner *accrual.Runner, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		Runner:   runner,
		Interval: time.Hour,
		Logger:   logger,
		Clock:    time.Now,
	}
}

// Start begins the background loop. The first pass runs immediately.
// A stopped scheduler may be started again.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ticker != nil {
		return
	}
	s.lastTick = s.Clock()
	s.ticker = time.NewTicker(s.Interval)
	s.stop = make(chan struct{})
	s.wg.Add(1)
	go s.run(s.ticker, s.stop)
	s.Logger.Info("scheduler started", "interval", s.Interval)
}

// Stop halts the loop and waits for an in-flight pass to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ticker == nil {
		return
	}
	s.ticker.Stop()
	close(s.stop)
	s.wg.Wait()
	s.ticker = nil
	s.Logger.Info("scheduler stopped")
}

func (s *Scheduler) run(ticker *time.Ticker, stop chan struct{}) {
	defer s.wg.Done()

	s.tick()
	for {
		select {
		case <-ticker.C:
			s.tick()
		case <-stop:
			return
		}
	}
}

func (s *Scheduler) tick() {
	ctx := context.Background()
	now := s.Clock()

	// Year boundary crossed since the last tick: close the old year first
	// so the accrual pass credits into drained entries.
	if now.Year() > s.lastTick.Year() {
		closing := s.lastTick.Year()
		if _, err := s.Runner.Rollover(ctx, closing); err != nil {
			s.Logger.Error("scheduled rollover failed", "year", closing, "err", err)
		}
	}
	s.lastTick = now

	if _, err := s.Runner.Run(ctx); err != nil {
		s.Logger.Error("scheduled accrual failed", "err", err)
	}
}
