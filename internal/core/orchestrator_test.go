package core

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestOrchestrator_RunsDispatchedBatch(t *testing.T) {
	o := NewOrchestrator(OrchestratorOptions{Workers: 2})
	var calls atomic.Int32
	done := make(chan uuid.UUID, 1)
	o.Start(context.Background(), func(_ context.Context, id uuid.UUID) error {
		calls.Add(1)
		done <- id
		return nil
	})
	defer o.Shutdown(context.Background())

	id := uuid.New()
	if err := o.Dispatch(context.Background(), id); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	select {
	case got := <-done:
		if got != id {
			t.Errorf("handled %s, want %s", got, id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("batch never ran")
	}
	waitFor(t, "slot release", func() bool { return o.Status().Active == 0 })
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestOrchestrator_DispatchWhileRunningRerunsOnce(t *testing.T) {
	o := NewOrchestrator(OrchestratorOptions{Workers: 1})
	release := make(chan struct{})
	var calls atomic.Int32
	o.Start(context.Background(), func(_ context.Context, _ uuid.UUID) error {
		if calls.Add(1) == 1 {
			<-release
		}
		return nil
	})
	defer o.Shutdown(context.Background())

	id := uuid.New()
	o.Dispatch(context.Background(), id)
	waitFor(t, "batch running", func() bool { return o.Running(id) })

	// several dispatches during one run collapse into one rerun
	for i := 0; i < 3; i++ {
		if err := o.Dispatch(context.Background(), id); err != nil {
			t.Fatal(err)
		}
	}
	close(release)

	waitFor(t, "rerun", func() bool { return calls.Load() == 2 })
	time.Sleep(20 * time.Millisecond)
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}
}

func TestOrchestrator_CancelStopsRunningBatch(t *testing.T) {
	o := NewOrchestrator(OrchestratorOptions{Workers: 1})
	cancelled := make(chan struct{})
	o.Start(context.Background(), func(ctx context.Context, _ uuid.UUID) error {
		<-ctx.Done()
		close(cancelled)
		return ctx.Err()
	})
	defer o.Shutdown(context.Background())

	id := uuid.New()
	o.Dispatch(context.Background(), id)
	waitFor(t, "batch running", func() bool { return o.Running(id) })

	o.Cancel(id)
	select {
	case <-cancelled:
	case <-time.After(2 * time.Second):
		t.Fatal("handler context not cancelled")
	}
	waitFor(t, "batch stopped", func() bool { return !o.Running(id) })
}

func TestOrchestrator_BoundsConcurrency(t *testing.T) {
	const workers = 2
	o := NewOrchestrator(OrchestratorOptions{Workers: workers})

	var mu sync.Mutex
	var current, peak, total int
	o.Start(context.Background(), func(_ context.Context, _ uuid.UUID) error {
		mu.Lock()
		current++
		total++
		peak = max(peak, current)
		mu.Unlock()

		time.Sleep(10 * time.Millisecond)

		mu.Lock()
		current--
		mu.Unlock()
		return nil
	})
	defer o.Shutdown(context.Background())

	for i := 0; i < 6; i++ {
		if err := o.Dispatch(context.Background(), uuid.New()); err != nil {
			t.Fatal(err)
		}
	}
	waitFor(t, "all batches", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return total == 6
	})

	mu.Lock()
	defer mu.Unlock()
	if peak > workers {
		t.Errorf("peak concurrency = %d, want <= %d", peak, workers)
	}
}

func TestOrchestrator_QueueFull(t *testing.T) {
	// not started: nothing drains the queue
	o := NewOrchestrator(OrchestratorOptions{Workers: 1, QueueSize: 1, EnqueueWait: 10 * time.Millisecond})

	first := uuid.New()
	if err := o.Dispatch(context.Background(), first); err != nil {
		t.Fatal(err)
	}
	if err := o.Dispatch(context.Background(), first); err != nil {
		t.Errorf("duplicate dispatch = %v, want ignored", err)
	}
	if err := o.Dispatch(context.Background(), uuid.New()); !errors.Is(err, ErrQueueFull) {
		t.Errorf("Dispatch = %v, want ErrQueueFull", err)
	}
}

func TestOrchestrator_CancelQueuedBatch(t *testing.T) {
	o := NewOrchestrator(OrchestratorOptions{Workers: 1})
	block := make(chan struct{})
	var ran sync.Map
	o.Start(context.Background(), func(_ context.Context, id uuid.UUID) error {
		ran.Store(id, true)
		<-block
		return nil
	})
	defer o.Shutdown(context.Background())

	busy, queued := uuid.New(), uuid.New()
	o.Dispatch(context.Background(), busy)
	waitFor(t, "busy batch", func() bool { return o.Running(busy) })
	o.Dispatch(context.Background(), queued)
	o.Cancel(queued)
	close(block)

	waitFor(t, "drain", func() bool { return o.Status().Active == 0 })
	time.Sleep(20 * time.Millisecond)
	if _, ok := ran.Load(queued); ok {
		t.Error("cancelled queued batch ran")
	}
}

func TestOrchestrator_Shutdown(t *testing.T) {
	o := NewOrchestrator(OrchestratorOptions{Workers: 1})
	o.Start(context.Background(), func(ctx context.Context, _ uuid.UUID) error {
		<-ctx.Done()
		return ctx.Err()
	})

	id := uuid.New()
	o.Dispatch(context.Background(), id)
	waitFor(t, "batch running", func() bool { return o.Running(id) })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := o.Shutdown(ctx); err == nil {
		t.Error("Shutdown with a stuck batch should report the drain timeout")
	}
	waitFor(t, "batch cancelled", func() bool { return !o.Running(id) })

	if err := o.Dispatch(context.Background(), uuid.New()); !errors.Is(err, ErrOrchestratorStopped) {
		t.Errorf("Dispatch after shutdown = %v", err)
	}
}

func TestOrchestrator_CancelledThenRedispatchedRunsOnce(t *testing.T) {
	o := NewOrchestrator(OrchestratorOptions{Workers: 2})
	id, next := uuid.New(), uuid.New()

	// queued twice: once cancelled before the loop starts, once live
	if err := o.Dispatch(context.Background(), id); err != nil {
		t.Fatal(err)
	}
	o.Cancel(id)
	if err := o.Dispatch(context.Background(), id); err != nil {
		t.Fatal(err)
	}
	if err := o.Dispatch(context.Background(), next); err != nil {
		t.Fatal(err)
	}

	release := make(chan struct{})
	nextRan := make(chan struct{})
	var calls atomic.Int32
	o.Start(context.Background(), func(_ context.Context, got uuid.UUID) error {
		if got == next {
			close(nextRan)
			return nil
		}
		calls.Add(1)
		<-release
		return nil
	})

	select {
	case <-nextRan:
	case <-time.After(2 * time.Second):
		t.Fatal("later batch never ran")
	}
	waitFor(t, "redispatched batch", func() bool { return calls.Load() >= 1 })
	if n := calls.Load(); n != 1 {
		t.Errorf("runs of the redispatched batch = %d, want 1", n)
	}
	close(release)
	if err := o.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
}
