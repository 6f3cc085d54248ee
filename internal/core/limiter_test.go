package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestLimiter_AcquireRelease(t *testing.T) {
	l := NewLimiter(2)
	ctx := context.Background()

	if got := l.Status(); got.Active != 0 || got.Available != 2 {
		t.Fatalf("initial status = %+v", got)
	}

	if err := l.Acquire(ctx); err != nil {
		t.Fatalf("first Acquire: %v", err)
	}
	if err := l.Acquire(ctx); err != nil {
		t.Fatalf("second Acquire: %v", err)
	}
	if got := l.Active(); got != 2 {
		t.Errorf("Active = %d, want 2", got)
	}
	if l.TryAcquire() {
		t.Error("TryAcquire succeeded on a full limiter")
	}

	l.Release()
	if got := l.Status().Available; got != 1 {
		t.Errorf("Available after Release = %d, want 1", got)
	}
	if !l.TryAcquire() {
		t.Error("TryAcquire failed with a free slot")
	}
	l.Release()
	l.Release()

	if got := l.Active(); got != 0 {
		t.Errorf("Active after releases = %d, want 0", got)
	}
}

func TestLimiter_AcquireHonorsContext(t *testing.T) {
	l := NewLimiter(1)
	if err := l.Acquire(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer l.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := l.Acquire(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Acquire on full limiter = %v, want DeadlineExceeded", err)
	}
}

func TestLimiter_DefaultCapacity(t *testing.T) {
	if got := NewLimiter(0).Capacity(); got != DefaultWorkers {
		t.Errorf("Capacity = %d, want %d", got, DefaultWorkers)
	}
}

func TestLimiter_WaitForDrain(t *testing.T) {
	l := NewLimiter(3)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		if err := l.Acquire(ctx); err != nil {
			t.Fatal(err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			time.Sleep(30 * time.Millisecond)
			l.Release()
		}()
	}

	drainCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := l.WaitForDrain(drainCtx); err != nil {
		t.Fatalf("WaitForDrain: %v", err)
	}
	wg.Wait()

	if got := l.Active(); got != 0 {
		t.Errorf("Active after drain = %d, want 0", got)
	}
}

func TestLimiter_WaitForDrainTimeout(t *testing.T) {
	l := NewLimiter(1)
	if err := l.Acquire(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer l.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	if err := l.WaitForDrain(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("WaitForDrain = %v, want DeadlineExceeded", err)
	}
}
