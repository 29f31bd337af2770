// Package daemon runs the projection engine on a fixed interval.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sauerdaniel/ticketsync/internal/projection"
)

const (
	DefaultStopTimeout = 30 * time.Second
	DefaultTickTimeout = 2 * time.Minute
)

var (
	ErrAlreadyRunning = errors.New("scheduler already running")
	ErrStopped        = errors.New("scheduler stopped")
	ErrStopTimeout    = errors.New("timed out waiting for in-flight tick")
)

// Runner is one reconciliation pass. *projection.Engine satisfies it.
type Runner interface {
	Tick(ctx context.Context) projection.TickResult
}

// Options tune the scheduler. Zero values take the defaults.
type Options struct {
	StopTimeout time.Duration
	TickTimeout time.Duration

	// OnTick sees every result, on the scheduler goroutine.
	OnTick func(projection.TickResult)
	Logger projection.Logger
}

// Scheduler triggers a Runner immediately and then once per interval.
// It is single use: once stopped it cannot be started again.
type Scheduler struct {
	runner   Runner
	interval time.Duration
	opts     Options

	mu      sync.Mutex
	running bool
	stopped bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewScheduler creates a scheduler for runner.
func NewScheduler(runner Runner, interval time.Duration, opts Options) *Scheduler {
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = DefaultStopTimeout
	}
	if opts.TickTimeout <= 0 {
		opts.TickTimeout = DefaultTickTimeout
	}
	return &Scheduler{
		runner:   runner,
		interval: interval,
		opts:     opts,
	}
}

// Start launches the loop and returns at once. The first tick runs
// immediately; the loop ends when ctx is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.interval <= 0 {
		return fmt.Errorf("invalid interval %v", s.interval)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrStopped
	}
	if s.running {
		return ErrAlreadyRunning
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.running = true
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.run(loopCtx, s.done)
	return nil
}

// Done is closed when the loop has exited. It is nil before Start.
func (s *Scheduler) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// Stop ends the loop and waits for an in-flight tick, bounded by
// StopTimeout and ctx. The in-flight tick is not cancelled.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.stopped = true
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	cancel()

	timer := time.NewTimer(s.opts.StopTimeout)
	defer timer.Stop()
	select {
	case <-done:
		return nil
	case <-timer.C:
		return ErrStopTimeout
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrStopTimeout, ctx.Err())
	}
}

func (s *Scheduler) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	s.logf("Scheduler starting (interval: %v, tick timeout: %v)", s.interval, s.opts.TickTimeout)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Run initial tick immediately
	s.tick(ctx)

	for {
		select {
		case <-ticker.C:
			s.tick(ctx)
		case <-ctx.Done():
			s.logf("Scheduler shutting down")
			return
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	// Detached from the loop context so Stop lets the tick finish.
	tickCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.TickTimeout)
	defer cancel()

	res := s.runner.Tick(tickCtx)
	if s.opts.OnTick != nil {
		s.opts.OnTick(res)
	}
}

func (s *Scheduler) logf(format string, args ...any) {
	if s.opts.Logger != nil {
		s.opts.Logger.Printf(format, args...)
	}
}
