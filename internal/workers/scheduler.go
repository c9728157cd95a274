package workers

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"
)

// Scheduler runs background tasks and delayed callbacks that all stop with a
// single cancellation.
type Scheduler struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	stopped bool
	wg      sync.WaitGroup
}

func NewScheduler(parent context.Context) *Scheduler {
	ctx, cancel := context.WithCancel(parent)
	return &Scheduler{ctx: ctx, cancel: cancel}
}

func (s *Scheduler) track() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	s.wg.Add(1)
	return true
}

// Go runs fn in its own goroutine. Panics are logged, not propagated.
// It reports false once the scheduler has been stopped.
func (s *Scheduler) Go(name string, fn func(ctx context.Context)) bool {
	if !s.track() {
		return false
	}
	go func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				slog.ErrorContext(s.ctx, "Background task panicked",
					slog.String("task", name),
					slog.Any("panic", r),
					slog.String("stack", string(debug.Stack())))
			}
		}()
		fn(s.ctx)
	}()
	return true
}

// After calls fn once d has elapsed unless the scheduler stops first.
func (s *Scheduler) After(d time.Duration, fn func()) bool {
	return s.Go("after", func(ctx context.Context) {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-ctx.Done():
		case <-t.C:
			fn()
		}
	})
}

// Stop cancels running tasks and pending callbacks and waits for them.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	s.cancel()
	s.wg.Wait()
}

// Wait blocks until every task started so far has returned.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}
