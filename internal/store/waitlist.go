package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Martian-dev/mail-gateway/internal/model"
)

var _ model.WaitlistStore = (*Store)(nil)

type waitlistRow struct {
	Email     string `db:"email"`
	Status    string `db:"status"`
	Inbox     string `db:"inbox"`
	CreatedAt int64  `db:"created_at"`
	UpdatedAt int64  `db:"updated_at"`
}

func (s *Store) GetWaitlistEntry(ctx context.Context, email string) (*model.WaitlistEntry, error) {
	var row waitlistRow
	err := s.db.GetContext(ctx, &row, `
		SELECT email, status, inbox, created_at, updated_at
		FROM waitlist_entries WHERE email = ?
	`, model.NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get waitlist entry: %w", err)
	}

	return &model.WaitlistEntry{
		Email:     row.Email,
		Status:    model.WaitlistStatus(row.Status),
		Inbox:     row.Inbox,
		CreatedAt: time.Unix(row.CreatedAt, 0),
		UpdatedAt: time.Unix(row.UpdatedAt, 0),
	}, nil
}

// UpsertWaitlistEntry inserts the entry or updates status and inbox of an existing one.
func (s *Store) UpsertWaitlistEntry(ctx context.Context, e *model.WaitlistEntry) error {
	now := s.now()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.UpdatedAt = now
	e.Email = model.NormalizeEmail(e.Email)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO waitlist_entries (email, status, inbox, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(email) DO UPDATE SET
			status = excluded.status,
			inbox = excluded.inbox,
			updated_at = excluded.updated_at
	`, e.Email, string(e.Status), e.Inbox, e.CreatedAt.Unix(), e.UpdatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to upsert waitlist entry: %w", err)
	}
	return nil
}
