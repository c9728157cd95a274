package workers

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestRunLoopStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var runs atomic.Int32
	done := make(chan struct{})
	go func() {
		RunLoop(ctx, "test", 5*time.Millisecond, time.Second, func(context.Context) (int, error) {
			if runs.Add(1) == 2 {
				return 0, errors.New("transient")
			}
			return 1, nil
		})
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for runs.Load() < 3 {
		select {
		case <-deadline:
			t.Fatalf("only %d runs", runs.Load())
		case <-time.After(time.Millisecond):
		}
	}
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunLoop did not stop")
	}
}

func TestSchedulerAfterFires(t *testing.T) {
	s := NewScheduler(context.Background())
	fired := make(chan struct{})
	s.After(10*time.Millisecond, func() { close(fired) })
	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("callback did not fire")
	}
	s.Stop()
}

func TestSchedulerStopCancelsPending(t *testing.T) {
	s := NewScheduler(context.Background())
	var fired atomic.Bool
	s.After(time.Hour, func() { fired.Store(true) })

	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop() blocked on pending callback")
	}
	if fired.Load() {
		t.Error("pending callback fired after Stop")
	}
	if s.Go("late", func(context.Context) {}) {
		t.Error("Go() accepted work after Stop")
	}
}

func TestSchedulerRecoversPanics(t *testing.T) {
	s := NewScheduler(context.Background())
	s.Go("boom", func(context.Context) { panic("boom") })
	ran := make(chan struct{})
	s.Go("next", func(context.Context) { close(ran) })
	<-ran
	s.Wait()
}

func TestSchedulerParentCancel(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	s := NewScheduler(parent)
	got := make(chan error, 1)
	s.Go("wait", func(ctx context.Context) {
		<-ctx.Done()
		got <- ctx.Err()
	})
	cancel()
	if err := <-got; !errors.Is(err, context.Canceled) {
		t.Errorf("ctx.Err() = %v", err)
	}
	s.Wait()
}
