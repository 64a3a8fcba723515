package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/IdrisKulubi/Student-Mail/internal/sync"
)

type runRow struct {
	ID         string `db:"id"`
	UserID     string `db:"user_id"`
	StartedAt  int64  `db:"started_at"`
	FinishedAt int64  `db:"finished_at"`
	Status     string `db:"status"`
	Synced     int    `db:"synced"`
	Errors     int    `db:"errors"`
	Skipped    int    `db:"skipped"`
	LastError  string `db:"last_error"`
}

// RecordRun appends one entry to the sync history.
func (s *Store) RecordRun(ctx context.Context, run sync.SyncRun) error {
	_, err := s.DB.NamedExecContext(ctx, `
		INSERT INTO sync_runs (id, user_id, started_at, finished_at, status, synced, errors, skipped, last_error)
		VALUES (:id, :user_id, :started_at, :finished_at, :status, :synced, :errors, :skipped, :last_error)
	`, runRow{
		ID:         run.ID,
		UserID:     run.UserID,
		StartedAt:  run.StartedAt.UnixMilli(),
		FinishedAt: run.FinishedAt.UnixMilli(),
		Status:     run.Status,
		Synced:     run.Synced,
		Errors:     run.Errors,
		Skipped:    run.Skipped,
		LastError:  run.LastError,
	})
	if err != nil {
		return fmt.Errorf("failed to record sync run: %w", err)
	}
	return nil
}

// LatestRun returns the most recent sync run of userID, or nil when the user
// has never synced.
func (s *Store) LatestRun(ctx context.Context, userID string) (*sync.SyncRun, error) {
	var row runRow
	err := s.DB.GetContext(ctx, &row, `
		SELECT id, user_id, started_at, finished_at, status, synced, errors, skipped, last_error
		FROM sync_runs WHERE user_id = ?
		ORDER BY finished_at DESC, rowid DESC LIMIT 1
	`, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load sync run: %w", err)
	}

	return &sync.SyncRun{
		ID:         row.ID,
		UserID:     row.UserID,
		StartedAt:  time.UnixMilli(row.StartedAt).UTC(),
		FinishedAt: time.UnixMilli(row.FinishedAt).UTC(),
		Status:     row.Status,
		Synced:     row.Synced,
		Errors:     row.Errors,
		Skipped:    row.Skipped,
		LastError:  row.LastError,
	}, nil
}
