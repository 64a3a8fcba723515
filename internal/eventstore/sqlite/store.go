package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	sqlitedrv "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/IdrisKulubi/Student-Mail/internal/sync"
)

//go:embed schema.sql
var schemaSQL string

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// ErrNotFound is returned when a record does not exist for the user.
var ErrNotFound = errors.New("record not found")

// Store is the email store shared by all users; every query is scoped by user_id.
type Store struct {
	DB *sqlx.DB
}

// Open opens or creates the database at dbPath and applies the schema.
func Open(dbPath string) (*Store, error) {
	dsn := dbPath
	if dbPath != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
		dsn = dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if dbPath == MemoryPath {
		// Each connection would otherwise see its own empty database.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(time.Hour)
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Store{DB: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.DB.Close()
}

const emailColumns = `id, user_id, external_id, thread_id, subject, sender_email, sender_name,
	body_preview, full_body, category, received_at, is_read, is_important,
	ai_summary, read_at, created_at`

type emailRow struct {
	ID          string         `db:"id"`
	UserID      string         `db:"user_id"`
	ExternalID  string         `db:"external_id"`
	ThreadID    string         `db:"thread_id"`
	Subject     string         `db:"subject"`
	SenderEmail string         `db:"sender_email"`
	SenderName  sql.NullString `db:"sender_name"`
	BodyPreview string         `db:"body_preview"`
	FullBody    string         `db:"full_body"`
	Category    string         `db:"category"`
	ReceivedAt  int64          `db:"received_at"`
	IsRead      bool           `db:"is_read"`
	IsImportant bool           `db:"is_important"`
	AISummary   sql.NullString `db:"ai_summary"`
	ReadAt      sql.NullInt64  `db:"read_at"`
	CreatedAt   int64          `db:"created_at"`
}

func (r emailRow) toEmail() *sync.Email {
	e := &sync.Email{
		ID:          r.ID,
		UserID:      r.UserID,
		ExternalID:  r.ExternalID,
		ThreadID:    r.ThreadID,
		Subject:     r.Subject,
		SenderEmail: r.SenderEmail,
		BodyPreview: r.BodyPreview,
		FullBody:    r.FullBody,
		Category:    sync.Category(r.Category),
		ReceivedAt:  time.UnixMilli(r.ReceivedAt).UTC(),
		IsRead:      r.IsRead,
		IsImportant: r.IsImportant,
		CreatedAt:   time.UnixMilli(r.CreatedAt).UTC(),
	}
	if r.SenderName.Valid {
		name := r.SenderName.String
		e.SenderName = &name
	}
	if r.AISummary.Valid {
		summary := r.AISummary.String
		e.AISummary = &summary
	}
	if r.ReadAt.Valid {
		readAt := time.UnixMilli(r.ReadAt.Int64).UTC()
		e.ReadAt = &readAt
	}
	return e
}

// emailSyncedEvent is the outbox payload for a newly stored email.
type emailSyncedEvent struct {
	EventID     string    `json:"event_id"`
	TS          int64     `json:"ts"`
	UserID      string    `json:"user_id"`
	EmailID     string    `json:"email_id"`
	ExternalID  string    `json:"external_id"`
	Category    string    `json:"category"`
	Subject     string    `json:"subject"`
	SenderEmail string    `json:"sender_email"`
	ReceivedAt  time.Time `json:"received_at"`
}

// FindByExternalID returns the user's email with the provider id, or nil.
func (s *Store) FindByExternalID(ctx context.Context, userID, externalID string) (*sync.Email, error) {
	var row emailRow
	err := s.DB.GetContext(ctx, &row,
		`SELECT `+emailColumns+` FROM emails WHERE user_id = ? AND external_id = ?`,
		userID, externalID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find email: %w", err)
	}
	return row.toEmail(), nil
}

// GetByID returns one email owned by userID.
func (s *Store) GetByID(ctx context.Context, id, userID string) (*sync.Email, error) {
	var row emailRow
	err := s.DB.GetContext(ctx, &row,
		`SELECT `+emailColumns+` FROM emails WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get email: %w", err)
	}
	return row.toEmail(), nil
}

// Insert stores a new email and its email.synced outbox entry in one
// transaction. It returns sync.ErrDuplicate when (user_id, external_id) exists.
func (s *Store) Insert(ctx context.Context, email *sync.Email) (*sync.Email, error) {
	if email.UserID == "" || email.ExternalID == "" {
		return nil, fmt.Errorf("email requires user_id and external_id")
	}

	stored := *email
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	if stored.Category == "" {
		stored.Category = sync.CategoryOther
	}
	now := time.Now().UTC()
	stored.CreatedAt = now

	event := emailSyncedEvent{
		EventID:     uuid.NewString(),
		TS:          now.Unix(),
		UserID:      stored.UserID,
		EmailID:     stored.ID,
		ExternalID:  stored.ExternalID,
		Category:    string(stored.Category),
		Subject:     stored.Subject,
		SenderEmail: stored.SenderEmail,
		ReceivedAt:  stored.ReceivedAt,
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to encode event: %w", err)
	}

	tx, err := s.DB.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO emails (`+emailColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, stored.ID, stored.UserID, stored.ExternalID, stored.ThreadID, stored.Subject,
		stored.SenderEmail, nullString(stored.SenderName), stored.BodyPreview, stored.FullBody,
		string(stored.Category), stored.ReceivedAt.UnixMilli(), boolToInt(stored.IsRead),
		boolToInt(stored.IsImportant), nullString(stored.AISummary), nullTime(stored.ReadAt),
		now.UnixMilli())
	if err != nil {
		if isUniqueViolation(err) {
			return nil, sync.ErrDuplicate
		}
		return nil, fmt.Errorf("failed to insert email: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO outbox (ts, subject, event_type, payload, msg_id, next_attempt_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, now.Unix(), syncedSubject(stored.UserID), sync.EventTypeEmailSynced, payload,
		fmt.Sprintf("%s|%s|%s", sync.EventTypeEmailSynced, stored.UserID, stored.ExternalID), now.Unix())
	if err != nil {
		if isUniqueViolation(err) {
			return nil, sync.ErrDuplicate
		}
		return nil, fmt.Errorf("failed to insert outbox entry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return &stored, nil
}

// Delete removes one email owned by userID.
func (s *Store) Delete(ctx context.Context, id, userID string) error {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM emails WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("failed to delete email: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete email: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func syncedSubject(userID string) string {
	return fmt.Sprintf("user.%s.email.synced", userID)
}

func isUniqueViolation(err error) bool {
	var sqlErr *sqlitedrv.Error
	if !errors.As(err, &sqlErr) {
		return false
	}
	switch sqlErr.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return true
	case sqlite3.SQLITE_CONSTRAINT:
		return strings.Contains(sqlErr.Error(), "UNIQUE")
	}
	return false
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullTime(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
