package dispatch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jkaninda/radkit-mcp/internal/apperr"
)

func TestRun_ReturnsResult(t *testing.T) {
	p := NewPool(2)
	got, err := Run(context.Background(), p, 0, func(context.Context) (string, error) {
		return "ok", nil
	})
	if err != nil || got != "ok" {
		t.Fatalf("Run = %q, %v; want ok", got, err)
	}
}

func TestRun_PropagatesError(t *testing.T) {
	boom := errors.New("boom")
	_, err := Run(context.Background(), NewPool(1), time.Second, func(context.Context) (int, error) {
		return 0, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
}

func TestRun_TimeoutAbandonsWaitNotWork(t *testing.T) {
	p := NewPool(1)
	release := make(chan struct{})
	var finished atomic.Bool

	_, err := Run(context.Background(), p, 20*time.Millisecond, func(context.Context) (int, error) {
		<-release
		finished.Store(true)
		return 1, nil
	})
	if !errors.Is(err, apperr.ErrTimeout) {
		t.Fatalf("err = %v, want timeout", err)
	}
	if p.InFlight() != 1 {
		t.Errorf("InFlight = %d, abandoned call should still hold its worker", p.InFlight())
	}

	close(release)
	deadline := time.Now().Add(time.Second)
	for p.InFlight() != 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if !finished.Load() {
		t.Error("abandoned call should run to completion")
	}
	if p.InFlight() != 0 {
		t.Error("worker not released after abandoned call finished")
	}
}

func TestRun_ZeroTimeoutWaits(t *testing.T) {
	got, err := Run(context.Background(), NewPool(1), 0, func(context.Context) (int, error) {
		time.Sleep(30 * time.Millisecond)
		return 7, nil
	})
	if err != nil || got != 7 {
		t.Fatalf("Run = %d, %v; want 7", got, err)
	}
}

func TestRun_BoundsConcurrency(t *testing.T) {
	p := NewPool(3)
	var running, peak atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = Run(context.Background(), p, 0, func(context.Context) (struct{}, error) {
				n := running.Add(1)
				for {
					old := peak.Load()
					if n <= old || peak.CompareAndSwap(old, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				running.Add(-1)
				return struct{}{}, nil
			})
		}()
	}
	wg.Wait()
	if peak.Load() > 3 {
		t.Errorf("peak concurrency = %d, want <= 3", peak.Load())
	}
}

func TestRun_RecoversPanic(t *testing.T) {
	p := NewPool(1)
	_, err := Run(context.Background(), p, time.Second, func(context.Context) (int, error) {
		panic("driver bug")
	})
	if err == nil {
		t.Fatal("expected error from panicking call")
	}
	deadline := time.Now().Add(time.Second)
	for p.InFlight() != 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if p.InFlight() != 0 {
		t.Error("worker not released after panic")
	}
}

func TestRun_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := NewPool(1)
	p.sem <- struct{}{} // occupy the only worker
	_, err := Run(ctx, p, 0, func(context.Context) (int, error) { return 1, nil })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}
