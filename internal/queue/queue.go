// Package queue dispatches batches through asynq so several worker
// processes can share the pipeline. One task id per batch keeps a batch from
// being queued twice; a Redis lock keeps it from being advanced twice.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

// TypeAdvanceBatch is the asynq task type of a batch run.
const TypeAdvanceBatch = "batch:advance"

// DefaultQueue is the asynq queue batch tasks go to.
const DefaultQueue = "ingest"

// rerunDelay defers the follow-up run of a batch dispatched while queued or running.
const rerunDelay = 5 * time.Second

type payload struct {
	BatchID uuid.UUID `json:"batch_id"`
}

// NewAdvanceTask builds the task for one batch.
func NewAdvanceTask(id uuid.UUID) (*asynq.Task, error) {
	data, err := json.Marshal(payload{BatchID: id})
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return asynq.NewTask(TypeAdvanceBatch, data), nil
}

// BatchID extracts the batch id of a task.
func BatchID(t *asynq.Task) (uuid.UUID, error) {
	var p payload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return uuid.Nil, fmt.Errorf("unmarshal payload: %w", err)
	}
	if p.BatchID == uuid.Nil {
		return uuid.Nil, errors.New("payload without batch id")
	}
	return p.BatchID, nil
}

func taskID(id uuid.UUID) string { return "batch:" + id.String() }

func rerunTaskID(id uuid.UUID) string { return taskID(id) + ":rerun" }

// Dispatcher is the asynq core.Dispatcher.
type Dispatcher struct {
	client    *asynq.Client
	inspector *asynq.Inspector
	queue     string
	maxRetry  int
}

// NewDispatcher connects a client and an inspector to Redis.
func NewDispatcher(opt asynq.RedisClientOpt, queue string, maxRetry int) *Dispatcher {
	if queue == "" {
		queue = DefaultQueue
	}
	return &Dispatcher{
		client:    asynq.NewClient(opt),
		inspector: asynq.NewInspector(opt),
		queue:     queue,
		maxRetry:  maxRetry,
	}
}

// Dispatch enqueues a batch run. When a run is already queued or active,
// one deferred follow-up run is enqueued instead, so a state change made
// during the run is not lost.
func (d *Dispatcher) Dispatch(ctx context.Context, id uuid.UUID) error {
	task, err := NewAdvanceTask(id)
	if err != nil {
		return err
	}

	_, err = d.client.EnqueueContext(ctx, task, asynq.TaskID(taskID(id)), asynq.Queue(d.queue), asynq.MaxRetry(d.maxRetry))
	if !errors.Is(err, asynq.ErrTaskIDConflict) {
		if err != nil {
			return fmt.Errorf("enqueue batch %s: %w", id, err)
		}
		return nil
	}

	_, err = d.client.EnqueueContext(ctx, task, asynq.TaskID(rerunTaskID(id)), asynq.Queue(d.queue),
		asynq.MaxRetry(d.maxRetry), asynq.ProcessIn(rerunDelay))
	if err != nil && !errors.Is(err, asynq.ErrTaskIDConflict) {
		return fmt.Errorf("enqueue batch rerun %s: %w", id, err)
	}
	return nil
}

// Cancel drops queued runs of a batch and signals an active one to stop.
func (d *Dispatcher) Cancel(id uuid.UUID) {
	for _, tid := range []string{taskID(id), rerunTaskID(id)} {
		if err := d.inspector.DeleteTask(d.queue, tid); err != nil && !errors.Is(err, asynq.ErrTaskNotFound) {
			slog.Debug("delete queued task", "task_id", tid, "error", err)
		}
	}
	for _, tid := range []string{taskID(id), rerunTaskID(id)} {
		if err := d.inspector.CancelProcessing(tid); err != nil {
			slog.Debug("cancel active task", "task_id", tid, "error", err)
		}
	}
}

// Close releases the Redis connections.
func (d *Dispatcher) Close() error {
	return errors.Join(d.client.Close(), d.inspector.Close())
}
