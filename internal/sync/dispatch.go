package sync

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// EventTypeEmailSynced is the outbox event type written for each inserted email.
const EventTypeEmailSynced = "email.synced"

// OutboxMessage is an event waiting to be published.
type OutboxMessage struct {
	ID      int64
	Subject string
	Payload []byte
	MsgID   string
}

// Outbox is the store side of the transactional outbox.
type Outbox interface {
	DequeueOutbox(ctx context.Context, limit int) ([]OutboxMessage, error)
	MarkPublished(ctx context.Context, id int64) error
	MarkOutboxRetry(ctx context.Context, id int64, backoff time.Duration) error
}

// Publisher delivers an event with broker-side deduplication on msgID.
type Publisher interface {
	Publish(subject string, payload []byte, msgID string) error
}

// Dispatcher drains the outbox into the event broker.
type Dispatcher struct {
	Outbox    Outbox
	Publisher Publisher
	Log       *zap.Logger

	BatchSize    int
	IdleInterval time.Duration
	ErrorBackoff time.Duration
	RetryBackoff time.Duration
}

// Run dispatches until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	idle := durationOr(d.IdleInterval, 500*time.Millisecond)
	errBackoff := durationOr(d.ErrorBackoff, time.Second)

	for {
		n, err := d.DispatchOnce(ctx)
		wait := time.Duration(0)
		switch {
		case err != nil:
			d.logger().Error("dispatch outbox", zap.Error(err))
			wait = errBackoff
		case n == 0:
			wait = idle
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// DispatchOnce publishes one batch and returns how many messages were taken
// from the outbox. Failed publishes are rescheduled, not returned as errors.
func (d *Dispatcher) DispatchOnce(ctx context.Context) (int, error) {
	batch := d.BatchSize
	if batch <= 0 {
		batch = 100
	}

	messages, err := d.Outbox.DequeueOutbox(ctx, batch)
	if err != nil {
		return 0, fmt.Errorf("dequeue outbox: %w", err)
	}

	for _, msg := range messages {
		if err := d.Publisher.Publish(msg.Subject, msg.Payload, msg.MsgID); err != nil {
			d.logger().Warn("publish outbox message", zap.Int64("id", msg.ID), zap.Error(err))
			if err := d.Outbox.MarkOutboxRetry(ctx, msg.ID, durationOr(d.RetryBackoff, 10*time.Second)); err != nil {
				d.logger().Error("reschedule outbox message", zap.Int64("id", msg.ID), zap.Error(err))
			}
			continue
		}

		if err := d.Outbox.MarkPublished(ctx, msg.ID); err != nil {
			d.logger().Error("mark outbox message published", zap.Int64("id", msg.ID), zap.Error(err))
		}
	}

	return len(messages), nil
}

func (d *Dispatcher) logger() *zap.Logger {
	if d.Log == nil {
		return zap.NewNop()
	}
	return d.Log
}

func durationOr(d, fallback time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return fallback
}
