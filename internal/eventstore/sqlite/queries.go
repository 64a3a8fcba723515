package sqlite

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/IdrisKulubi/Student-Mail/internal/sync"
)

const (
	DefaultListLimit = 50
	MaxListLimit     = 200
)

// ListFilter narrows List. Nil pointers and empty strings match everything.
type ListFilter struct {
	Category    sync.Category
	IsRead      *bool
	IsImportant *bool
	Search      string
	Limit       int
	Offset      int
}

// FlagPatch is a partial update of the user-editable fields of an email.
type FlagPatch struct {
	IsRead      *bool
	IsImportant *bool
	Category    *sync.Category
	AISummary   *string
}

// Empty reports whether the patch changes nothing.
func (p FlagPatch) Empty() bool {
	return p.IsRead == nil && p.IsImportant == nil && p.Category == nil && p.AISummary == nil
}

// Stats is the per-user mailbox overview.
type Stats struct {
	Total      int                   `json:"total"`
	Unread     int                   `json:"unread"`
	Important  int                   `json:"important"`
	Categories map[sync.Category]int `json:"categories"`
}

// List returns the user's emails newest first.
func (s *Store) List(ctx context.Context, userID string, f ListFilter) ([]*sync.Email, error) {
	where := []string{"user_id = ?"}
	args := []any{userID}

	if f.Category != "" {
		where = append(where, "category = ?")
		args = append(args, string(f.Category))
	}
	if f.IsRead != nil {
		where = append(where, "is_read = ?")
		args = append(args, boolToInt(*f.IsRead))
	}
	if f.IsImportant != nil {
		where = append(where, "is_important = ?")
		args = append(args, boolToInt(*f.IsImportant))
	}
	if q := strings.TrimSpace(f.Search); q != "" {
		like := "%" + strings.ToLower(q) + "%"
		where = append(where, "(LOWER(subject) LIKE ? OR LOWER(sender_email) LIKE ? OR LOWER(COALESCE(sender_name, '')) LIKE ? OR LOWER(body_preview) LIKE ?)")
		args = append(args, like, like, like, like)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	limit = min(limit, MaxListLimit)
	offset := max(f.Offset, 0)
	args = append(args, limit, offset)

	query := `SELECT ` + emailColumns + ` FROM emails WHERE ` + strings.Join(where, " AND ") +
		` ORDER BY received_at DESC, id LIMIT ? OFFSET ?`

	var rows []emailRow
	if err := s.DB.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list emails: %w", err)
	}

	emails := make([]*sync.Email, 0, len(rows))
	for _, r := range rows {
		emails = append(emails, r.toEmail())
	}
	return emails, nil
}

// UpdateFlags applies patch to one email owned by userID and returns the
// updated record. Setting IsRead stamps read_at; clearing it resets read_at.
func (s *Store) UpdateFlags(ctx context.Context, id, userID string, patch FlagPatch) (*sync.Email, error) {
	if patch.Category != nil && !patch.Category.Valid() {
		return nil, fmt.Errorf("invalid category %q", *patch.Category)
	}
	if patch.Empty() {
		return s.GetByID(ctx, id, userID)
	}

	var (
		sets []string
		args []any
	)
	if patch.IsRead != nil {
		sets = append(sets, "is_read = ?")
		args = append(args, boolToInt(*patch.IsRead))
		if *patch.IsRead {
			sets = append(sets, "read_at = COALESCE(read_at, ?)")
			args = append(args, time.Now().UTC().UnixMilli())
		} else {
			sets = append(sets, "read_at = NULL")
		}
	}
	if patch.IsImportant != nil {
		sets = append(sets, "is_important = ?")
		args = append(args, boolToInt(*patch.IsImportant))
	}
	if patch.Category != nil {
		sets = append(sets, "category = ?")
		args = append(args, string(*patch.Category))
	}
	if patch.AISummary != nil {
		sets = append(sets, "ai_summary = ?")
		args = append(args, *patch.AISummary)
	}
	args = append(args, id, userID)

	res, err := s.DB.ExecContext(ctx,
		`UPDATE emails SET `+strings.Join(sets, ", ")+` WHERE id = ? AND user_id = ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to update email: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to update email: %w", err)
	}
	if n == 0 {
		return nil, ErrNotFound
	}
	return s.GetByID(ctx, id, userID)
}

// MarkManyRead marks the given emails of userID as read and returns how many
// changed state.
func (s *Store) MarkManyRead(ctx context.Context, userID string, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	query, args, err := sqlx.In(
		`UPDATE emails SET is_read = 1, read_at = ? WHERE user_id = ? AND is_read = 0 AND id IN (?)`,
		time.Now().UTC().UnixMilli(), userID, ids)
	if err != nil {
		return 0, fmt.Errorf("failed to build bulk update: %w", err)
	}

	res, err := s.DB.ExecContext(ctx, s.DB.Rebind(query), args...)
	if err != nil {
		return 0, fmt.Errorf("failed to mark emails read: %w", err)
	}
	return res.RowsAffected()
}

// Stats counts the user's emails.
func (s *Store) Stats(ctx context.Context, userID string) (*Stats, error) {
	var totals struct {
		Total     int `db:"total"`
		Unread    int `db:"unread"`
		Important int `db:"important"`
	}
	err := s.DB.GetContext(ctx, &totals, `
		SELECT COUNT(*) AS total,
		       COALESCE(SUM(CASE WHEN is_read = 0 THEN 1 ELSE 0 END), 0) AS unread,
		       COALESCE(SUM(CASE WHEN is_important = 1 THEN 1 ELSE 0 END), 0) AS important
		FROM emails WHERE user_id = ?
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to count emails: %w", err)
	}

	var perCategory []struct {
		Category string `db:"category"`
		Count    int    `db:"n"`
	}
	err = s.DB.SelectContext(ctx, &perCategory,
		`SELECT category, COUNT(*) AS n FROM emails WHERE user_id = ? GROUP BY category`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to count categories: %w", err)
	}

	stats := &Stats{
		Total:      totals.Total,
		Unread:     totals.Unread,
		Important:  totals.Important,
		Categories: make(map[sync.Category]int, len(sync.Categories)),
	}
	for _, c := range sync.Categories {
		stats.Categories[c] = 0
	}
	for _, c := range perCategory {
		stats.Categories[sync.Category(c.Category)] = c.Count
	}
	return stats, nil
}
