package core

// orchestrator.go runs batches in-process.
//
// Dispatched batch ids go through a bounded queue. A dispatch loop takes a
// limiter slot per batch and runs it on its own goroutine, so at most
// Workers batches are in flight. A batch already queued or running is not
// queued twice. Cancel stops a running batch through its context.

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrQueueFull is returned when the dispatch queue has no room.
var ErrQueueFull = errors.New("too many queued batches")

// ErrOrchestratorStopped is returned by Dispatch after Shutdown.
var ErrOrchestratorStopped = errors.New("orchestrator stopped")

// DefaultQueueSize is the default dispatch queue capacity.
const DefaultQueueSize = 256

// Handler processes one batch.
type Handler func(ctx context.Context, id uuid.UUID) error

// OrchestratorOptions configure an Orchestrator.
type OrchestratorOptions struct {
	Workers   int
	QueueSize int
	// EnqueueWait bounds how long Dispatch waits for queue room.
	EnqueueWait time.Duration
}

// Orchestrator is the in-process Dispatcher.
type Orchestrator struct {
	queue       chan uuid.UUID
	limiter     *Limiter
	enqueueWait time.Duration

	mu      sync.Mutex
	pending map[uuid.UUID]bool // queued or running
	running map[uuid.UUID]context.CancelFunc
	again   map[uuid.UUID]bool // dispatched while running
	stopped bool

	loopDone chan struct{}
	cancel   context.CancelFunc
}

// NewOrchestrator creates an orchestrator; call Start before dispatching.
func NewOrchestrator(opts OrchestratorOptions) *Orchestrator {
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.EnqueueWait <= 0 {
		opts.EnqueueWait = 5 * time.Second
	}
	return &Orchestrator{
		queue:       make(chan uuid.UUID, opts.QueueSize),
		limiter:     NewLimiter(opts.Workers),
		enqueueWait: opts.EnqueueWait,
		pending:     make(map[uuid.UUID]bool),
		running:     make(map[uuid.UUID]context.CancelFunc),
		again:       make(map[uuid.UUID]bool),
		loopDone:    make(chan struct{}),
	}
}

// Start launches the dispatch loop. Batches run under contexts derived
// from ctx; cancelling ctx stops them.
func (o *Orchestrator) Start(ctx context.Context, h Handler) {
	ctx, o.cancel = context.WithCancel(ctx)
	slog.Info("orchestrator started", "workers", o.limiter.Capacity(), "queue_size", cap(o.queue))
	go o.loop(ctx, h)
}

func (o *Orchestrator) loop(ctx context.Context, h Handler) {
	defer close(o.loopDone)
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-o.queue:
			if err := o.limiter.Acquire(ctx); err != nil {
				return
			}
			o.launch(ctx, id, h)
		}
	}
}

func (o *Orchestrator) launch(ctx context.Context, id uuid.UUID, h Handler) {
	runCtx, cancel := context.WithCancel(ctx)

	o.mu.Lock()
	_, busy := o.running[id]
	if busy {
		// stale queue entry left by a cancel; the batch is already running
		o.mu.Unlock()
		cancel()
		o.limiter.Release()
		return
	}
	if !o.pending[id] || o.stopped {
		// cancelled while queued, or shutting down
		delete(o.pending, id)
		o.mu.Unlock()
		cancel()
		o.limiter.Release()
		return
	}
	o.running[id] = cancel
	o.mu.Unlock()

	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("panic in batch", "batch_id", id, "panic", r)
			}
			stopped := runCtx.Err() != nil
			cancel()
			o.mu.Lock()
			delete(o.running, id)
			delete(o.pending, id)
			rerun := o.again[id] && !stopped
			delete(o.again, id)
			o.mu.Unlock()
			o.limiter.Release()

			if rerun {
				go o.Dispatch(context.Background(), id)
			}
		}()

		if err := h(runCtx, id); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("batch processing", "batch_id", id, "error", err)
		}
	}()
}

// Dispatch queues a batch. Already queued or running batches are ignored.
func (o *Orchestrator) Dispatch(ctx context.Context, id uuid.UUID) error {
	o.mu.Lock()
	if o.stopped {
		o.mu.Unlock()
		return ErrOrchestratorStopped
	}
	if o.pending[id] {
		if _, ok := o.running[id]; ok {
			o.again[id] = true
		}
		o.mu.Unlock()
		return nil
	}
	o.pending[id] = true
	o.mu.Unlock()

	timer := time.NewTimer(o.enqueueWait)
	defer timer.Stop()

	select {
	case o.queue <- id:
		return nil
	case <-timer.C:
		o.forget(id)
		return fmt.Errorf("%w: batch %s", ErrQueueFull, id)
	case <-ctx.Done():
		o.forget(id)
		return ctx.Err()
	}
}

// Cancel stops a running batch or drops a queued one.
func (o *Orchestrator) Cancel(id uuid.UUID) {
	o.mu.Lock()
	defer o.mu.Unlock()

	delete(o.again, id)
	if cancel, ok := o.running[id]; ok {
		cancel()
		return
	}
	delete(o.pending, id)
}

func (o *Orchestrator) forget(id uuid.UUID) {
	o.mu.Lock()
	delete(o.pending, id)
	o.mu.Unlock()
}

// Running reports whether a batch is currently being processed.
func (o *Orchestrator) Running(id uuid.UUID) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.running[id]
	return ok
}

// Status reports worker occupancy.
func (o *Orchestrator) Status() LimiterStatus {
	return o.limiter.Status()
}

// Shutdown stops accepting work and waits for running batches until ctx is
// done, then cancels whatever is left. Queued batches stay pending in
// storage and are recovered on the next start.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	o.stopped = true
	o.mu.Unlock()

	err := o.limiter.WaitForDrain(ctx)
	if o.cancel != nil {
		o.cancel()
		<-o.loopDone
	}
	return err
}
