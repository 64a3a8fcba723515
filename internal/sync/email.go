package sync

import (
	"context"
	"time"
)

// Category is the fixed classification applied to every stored email.
type Category string

const (
	CategoryEvents  Category = "Events"
	CategoryJobs    Category = "Jobs"
	CategoryFinance Category = "Finance"
	CategoryClass   Category = "Class"
	CategoryOther   Category = "Other"
)

// Categories lists every valid category.
var Categories = []Category{CategoryEvents, CategoryJobs, CategoryFinance, CategoryClass, CategoryOther}

// Valid reports whether c is one of the five known categories.
func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// Email is the local record derived 1:1 from a RemoteMessage.
type Email struct {
	ID          string     `json:"id"`
	UserID      string     `json:"user_id"`
	ExternalID  string     `json:"external_id"`
	ThreadID    string     `json:"thread_id"`
	Subject     string     `json:"subject"`
	SenderEmail string     `json:"sender_email"`
	SenderName  *string    `json:"sender_name"`
	BodyPreview string     `json:"body_preview"`
	FullBody    string     `json:"full_body"`
	Category    Category   `json:"category"`
	ReceivedAt  time.Time  `json:"received_at"`
	IsRead      bool       `json:"is_read"`
	IsImportant bool       `json:"is_important"`
	AISummary   *string    `json:"ai_summary"`
	ReadAt      *time.Time `json:"read_at"`
	CreatedAt   time.Time  `json:"created_at"`
}

// SyncSummary is the outcome of one sync run. Skipped counts messages that
// were irrelevant or already stored; it is diagnostic only.
type SyncSummary struct {
	Synced  int `json:"synced"`
	Errors  int `json:"errors"`
	Skipped int `json:"skipped"`
}

// Run statuses recorded in the sync history.
const (
	RunStatusCompleted     = "completed"
	RunStatusFailed        = "failed"
	RunStatusNoCredentials = "no_credentials"
)

// SyncRun is one recorded sync invocation.
type SyncRun struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Status     string    `json:"status"`
	Synced     int       `json:"synced"`
	Errors     int       `json:"errors"`
	Skipped    int       `json:"skipped"`
	LastError  string    `json:"last_error,omitempty"`
}

// Store is the persistence the sync engine needs. FindByExternalID returns
// (nil, nil) when no record exists; Insert returns ErrDuplicate when the
// (user_id, external_id) key is taken.
type Store interface {
	FindByExternalID(ctx context.Context, userID, externalID string) (*Email, error)
	Insert(ctx context.Context, email *Email) (*Email, error)
}

// RunRecorder persists the sync history.
type RunRecorder interface {
	RecordRun(ctx context.Context, run SyncRun) error
}

// RunObserver receives metrics for each finished run.
type RunObserver interface {
	ObserveRun(status string, summary SyncSummary, elapsed time.Duration)
}
