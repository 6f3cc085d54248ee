// Package notify delivers batch events to collaborators. Delivery is best
// effort: the pipeline logs notifier errors and moves on.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/JonMunkholm/salesingest/internal/core"
)

// DefaultChannel is the Redis channel batch events are published on.
const DefaultChannel = "salesingest:batches"

// LogNotifier writes events to the structured log.
type LogNotifier struct{}

func (LogNotifier) Notify(ctx context.Context, e core.Event) error {
	level := slog.LevelInfo
	if e.State == core.StateFailed {
		level = slog.LevelWarn
	}
	slog.Log(ctx, level, "batch event",
		"batch_id", e.BatchID,
		"tenant_id", e.TenantID,
		"reseller_id", e.ResellerID,
		"state", e.State,
		"rows_total", e.Counts.Total,
		"rows_committed", e.Counts.Committed,
		"rows_failed", e.Counts.Failed,
		"cause", e.Cause,
	)
	return nil
}

// Publisher is the part of a Redis client used for events.
type Publisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// RedisNotifier publishes events as JSON on a Redis channel.
type RedisNotifier struct {
	client  Publisher
	channel string
}

func NewRedisNotifier(client Publisher, channel string) *RedisNotifier {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisNotifier{client: client, channel: channel}
}

func (n *RedisNotifier) Notify(ctx context.Context, e core.Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := n.client.Publish(ctx, n.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Multi fans an event out to several notifiers. Every notifier is called;
// errors are joined.
type Multi []core.Notifier

func (m Multi) Notify(ctx context.Context, e core.Event) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
