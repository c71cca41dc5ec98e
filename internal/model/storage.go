package model

import (
	"context"

	"github.com/google/uuid"
)

// AccountStore persists accounts and their provider credentials.
type AccountStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Account, error)
	GetByEmail(ctx context.Context, email string) (*Account, error)
	// Create inserts the account and its credentials atomically.
	Create(ctx context.Context, account *Account) error
	// Update rewrites the account row and its credentials atomically. The
	// first-login flag and the refresh token are left alone; they change only
	// through ConsumeFirstLogin, SetRefreshToken and SwapRefreshToken.
	Update(ctx context.Context, account *Account) error
	// RecordLogin applies a federated login to an existing account in one
	// write against the stored row. It fails with ErrAccountInactive when the
	// account is no longer active.
	RecordLogin(ctx context.Context, id uuid.UUID, login *LoginUpdate) error
	Delete(ctx context.Context, id uuid.UUID) error

	// SetRefreshToken overwrites the stored refresh token; nil logs the account out.
	SetRefreshToken(ctx context.Context, id uuid.UUID, token *string) error
	// SwapRefreshToken replaces old with next only if old is still stored.
	// It reports whether the swap happened.
	SwapRefreshToken(ctx context.Context, id uuid.UUID, old, next string) (bool, error)
	// ConsumeFirstLogin clears the first-login flag and reports whether this call cleared it.
	ConsumeFirstLogin(ctx context.Context, id uuid.UUID) (bool, error)
	UpdateProviderCredential(ctx context.Context, id uuid.UUID, provider Provider, cred *ProviderCredential) error
	SetImportantKeywords(ctx context.Context, id uuid.UUID, keywords []string) error
}

// WaitlistStore reads and writes waitlist entries.
type WaitlistStore interface {
	GetWaitlistEntry(ctx context.Context, email string) (*WaitlistEntry, error)
	UpsertWaitlistEntry(ctx context.Context, entry *WaitlistEntry) error
}
