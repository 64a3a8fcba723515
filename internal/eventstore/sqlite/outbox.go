package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/IdrisKulubi/Student-Mail/internal/sync"
)

// DequeueOutbox returns up to limit unpublished entries that are due.
func (s *Store) DequeueOutbox(ctx context.Context, limit int) ([]sync.OutboxMessage, error) {
	var rows []struct {
		ID      int64  `db:"id"`
		Subject string `db:"subject"`
		Payload []byte `db:"payload"`
		MsgID   string `db:"msg_id"`
	}
	err := s.DB.SelectContext(ctx, &rows, `
		SELECT id, subject, payload, msg_id
		FROM outbox
		WHERE published_at IS NULL AND next_attempt_at <= ?
		ORDER BY id
		LIMIT ?
	`, time.Now().Unix(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query outbox: %w", err)
	}

	messages := make([]sync.OutboxMessage, 0, len(rows))
	for _, r := range rows {
		messages = append(messages, sync.OutboxMessage{
			ID:      r.ID,
			Subject: r.Subject,
			Payload: r.Payload,
			MsgID:   r.MsgID,
		})
	}
	return messages, nil
}

// MarkPublished marks an outbox entry as delivered.
func (s *Store) MarkPublished(ctx context.Context, id int64) error {
	_, err := s.DB.ExecContext(ctx,
		`UPDATE outbox SET published_at = ? WHERE id = ?`, time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("failed to mark published: %w", err)
	}
	return nil
}

// MarkOutboxRetry schedules another delivery attempt after backoff.
func (s *Store) MarkOutboxRetry(ctx context.Context, id int64, backoff time.Duration) error {
	_, err := s.DB.ExecContext(ctx,
		`UPDATE outbox SET retries = retries + 1, next_attempt_at = ? WHERE id = ?`,
		time.Now().Add(backoff).Unix(), id)
	if err != nil {
		return fmt.Errorf("failed to schedule retry: %w", err)
	}
	return nil
}

// PendingOutbox counts entries not yet published.
func (s *Store) PendingOutbox(ctx context.Context) (int, error) {
	var n int
	if err := s.DB.GetContext(ctx, &n, `SELECT COUNT(*) FROM outbox WHERE published_at IS NULL`); err != nil {
		return 0, fmt.Errorf("failed to count outbox: %w", err)
	}
	return n, nil
}
