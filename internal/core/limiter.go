package core

// limiter.go bounds how many batches are processed at once.
//
// The orchestrator acquires one slot per running batch. When all slots are
// busy, queued batches wait; WaitForDrain blocks shutdown until every running
// batch has released its slot.

import (
	"context"
	"sync/atomic"
	"time"
)

// DefaultWorkers is the default number of concurrently processed batches.
const DefaultWorkers = 8

// drainPollInterval is how often WaitForDrain checks for idle.
const drainPollInterval = 100 * time.Millisecond

// Limiter is a counting semaphore with observable occupancy.
type Limiter struct {
	slots  chan struct{}
	active atomic.Int64
}

// NewLimiter creates a limiter with n slots (DefaultWorkers when n <= 0).
func NewLimiter(n int) *Limiter {
	if n <= 0 {
		n = DefaultWorkers
	}
	return &Limiter{slots: make(chan struct{}, n)}
}

// Acquire blocks until a slot is free or ctx is done.
// Callers must Release after a nil return.
func (l *Limiter) Acquire(ctx context.Context) error {
	select {
	case l.slots <- struct{}{}:
		l.active.Add(1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryAcquire takes a slot without blocking.
func (l *Limiter) TryAcquire() bool {
	select {
	case l.slots <- struct{}{}:
		l.active.Add(1)
		return true
	default:
		return false
	}
}

// Release frees a slot taken by Acquire or TryAcquire.
func (l *Limiter) Release() {
	l.active.Add(-1)
	<-l.slots
}

// Active returns the number of held slots.
func (l *Limiter) Active() int {
	return int(l.active.Load())
}

// Capacity returns the total number of slots.
func (l *Limiter) Capacity() int {
	return cap(l.slots)
}

// WaitForDrain blocks until no slot is held or ctx is done.
func (l *Limiter) WaitForDrain(ctx context.Context) error {
	if l.Active() == 0 {
		return nil
	}

	ticker := time.NewTicker(drainPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if l.Active() == 0 {
				return nil
			}
		}
	}
}

// LimiterStatus is a snapshot of limiter occupancy.
type LimiterStatus struct {
	Active    int `json:"active"`
	Available int `json:"available"`
	Capacity  int `json:"capacity"`
}

// Status returns the current occupancy for health reporting.
func (l *Limiter) Status() LimiterStatus {
	active := l.Active()
	return LimiterStatus{
		Active:    active,
		Available: l.Capacity() - active,
		Capacity:  l.Capacity(),
	}
}
