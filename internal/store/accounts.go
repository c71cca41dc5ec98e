package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/Martian-dev/mail-gateway/internal/model"
)

var _ model.AccountStore = (*Store)(nil)

type accountRow struct {
	ID                 string         `db:"id"`
	Email              string         `db:"email"`
	Name               string         `db:"name"`
	Role               string         `db:"role"`
	AuthProvider       string         `db:"auth_provider"`
	PasswordHash       string         `db:"password_hash"`
	RefreshToken       sql.NullString `db:"refresh_token"`
	FirstLogin         bool           `db:"first_login"`
	Verified           bool           `db:"verified"`
	Status             string         `db:"status"`
	InboxList          string         `db:"inbox_list"`
	ImportantKeywords  string         `db:"important_keywords"`
	Picture            string         `db:"picture"`
	SubscriptionPlan   string         `db:"subscription_plan"`
	SubscriptionStatus string         `db:"subscription_status"`
	LastSync           sql.NullInt64  `db:"last_sync"`
	CreatedAt          int64          `db:"created_at"`
	UpdatedAt          int64          `db:"updated_at"`
}

type credentialRow struct {
	AccountID            string        `db:"account_id"`
	Provider             string        `db:"provider"`
	ProviderID           string        `db:"provider_id"`
	AccessToken          string        `db:"access_token"`
	RefreshToken         string        `db:"refresh_token"`
	AccessTokenExpiresAt sql.NullInt64 `db:"access_token_expires_at"`
}

const accountColumns = `id, email, name, role, auth_provider, password_hash, refresh_token,
	first_login, verified, status, inbox_list, important_keywords, picture,
	subscription_plan, subscription_status, last_sync, created_at, updated_at`

func (s *Store) GetByID(ctx context.Context, id uuid.UUID) (*model.Account, error) {
	return s.getAccount(ctx, "SELECT "+accountColumns+" FROM accounts WHERE id = ?", id.String())
}

func (s *Store) GetByEmail(ctx context.Context, email string) (*model.Account, error) {
	return s.getAccount(ctx, "SELECT "+accountColumns+" FROM accounts WHERE email = ?", model.NormalizeEmail(email))
}

func (s *Store) getAccount(ctx context.Context, query string, arg any) (*model.Account, error) {
	var row accountRow
	if err := s.db.GetContext(ctx, &row, query, arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}

	var creds []credentialRow
	err := s.db.SelectContext(ctx, &creds, `
		SELECT account_id, provider, provider_id, access_token, refresh_token, access_token_expires_at
		FROM provider_credentials WHERE account_id = ?
	`, row.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to get provider credentials: %w", err)
	}

	return row.toModel(creds)
}

func (s *Store) Create(ctx context.Context, a *model.Account) error {
	row, err := fromModel(a)
	if err != nil {
		return err
	}

	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.NamedExecContext(ctx, `
			INSERT INTO accounts (`+accountColumns+`)
			VALUES (:id, :email, :name, :role, :auth_provider, :password_hash, :refresh_token,
				:first_login, :verified, :status, :inbox_list, :important_keywords, :picture,
				:subscription_plan, :subscription_status, :last_sync, :created_at, :updated_at)
		`, row)
		if err != nil {
			if isUniqueViolation(err) {
				return model.ErrEmailTaken
			}
			return fmt.Errorf("failed to insert account: %w", err)
		}
		return writeCredentials(ctx, tx, a)
	})
}

func (s *Store) Update(ctx context.Context, a *model.Account) error {
	a.UpdatedAt = s.now()
	row, err := fromModel(a)
	if err != nil {
		return err
	}

	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.NamedExecContext(ctx, `
			UPDATE accounts SET
				email = :email, name = :name, role = :role, auth_provider = :auth_provider,
				password_hash = :password_hash, verified = :verified, status = :status,
				inbox_list = :inbox_list, important_keywords = :important_keywords,
				picture = :picture, subscription_plan = :subscription_plan,
				subscription_status = :subscription_status, last_sync = :last_sync,
				updated_at = :updated_at
			WHERE id = :id
		`, row)
		if err != nil {
			return fmt.Errorf("failed to update account: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return model.ErrNotFound
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM provider_credentials WHERE account_id = ?`, row.ID); err != nil {
			return fmt.Errorf("failed to clear provider credentials: %w", err)
		}
		return writeCredentials(ctx, tx, a)
	})
}

func (s *Store) RecordLogin(ctx context.Context, id uuid.UUID, login *model.LoginUpdate) error {
	keywords, err := json.Marshal(model.DefaultImportantKeywords)
	if err != nil {
		return fmt.Errorf("failed to encode keywords: %w", err)
	}
	alias := model.NormalizeEmail(login.InboxAlias)
	cred := login.Credential
	at := login.At.Unix()

	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE accounts SET
				auth_provider = ?,
				verified = 1,
				last_sync = ?,
				updated_at = ?,
				name = CASE WHEN name = '' THEN ? ELSE name END,
				picture = CASE WHEN ? <> '' THEN ? ELSE picture END,
				important_keywords = CASE WHEN important_keywords IN ('', '[]', 'null') THEN ? ELSE important_keywords END,
				inbox_list = CASE
					WHEN ? = '' OR EXISTS (SELECT 1 FROM json_each(accounts.inbox_list) WHERE lower(value) = ?)
					THEN inbox_list
					ELSE json_insert(inbox_list, '$[#]', ?)
				END
			WHERE id = ? AND status = ?
		`, string(login.Provider), at, at,
			login.Name,
			login.Picture, login.Picture,
			string(keywords),
			alias, alias, alias,
			id.String(), string(model.StatusActive))
		if err != nil {
			return fmt.Errorf("failed to record login: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			var status string
			err := tx.GetContext(ctx, &status, `SELECT status FROM accounts WHERE id = ?`, id.String())
			if errors.Is(err, sql.ErrNoRows) {
				return model.ErrNotFound
			}
			if err != nil {
				return fmt.Errorf("failed to get account status: %w", err)
			}
			return model.ErrAccountInactive
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO provider_credentials
			(account_id, provider, provider_id, access_token, refresh_token, access_token_expires_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(account_id, provider) DO UPDATE SET
				provider_id = excluded.provider_id,
				access_token = excluded.access_token,
				refresh_token = excluded.refresh_token,
				access_token_expires_at = excluded.access_token_expires_at
		`, id.String(), string(login.Provider), cred.ProviderID, cred.AccessToken, cred.RefreshToken,
			unixOrNil(cred.AccessTokenExpiresAt))
		if err != nil {
			return fmt.Errorf("failed to write %s credential: %w", login.Provider, err)
		}
		return nil
	})
}

func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM provider_credentials WHERE account_id = ?`, id.String()); err != nil {
			return fmt.Errorf("failed to delete provider credentials: %w", err)
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM accounts WHERE id = ?`, id.String())
		if err != nil {
			return fmt.Errorf("failed to delete account: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return model.ErrNotFound
		}
		return nil
	})
}

func (s *Store) SetRefreshToken(ctx context.Context, id uuid.UUID, token *string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE accounts SET refresh_token = ?, updated_at = ? WHERE id = ?
	`, nullString(token), s.now().Unix(), id.String())
	if err != nil {
		return fmt.Errorf("failed to set refresh token: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.ErrNotFound
	}
	return nil
}

func (s *Store) SwapRefreshToken(ctx context.Context, id uuid.UUID, old, next string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE accounts SET refresh_token = ?, updated_at = ?
		WHERE id = ? AND refresh_token = ?
	`, next, s.now().Unix(), id.String(), old)
	if err != nil {
		return false, fmt.Errorf("failed to rotate refresh token: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to rotate refresh token: %w", err)
	}
	return n == 1, nil
}

func (s *Store) ConsumeFirstLogin(ctx context.Context, id uuid.UUID) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE accounts SET first_login = 0, updated_at = ?
		WHERE id = ? AND first_login = 1
	`, s.now().Unix(), id.String())
	if err != nil {
		return false, fmt.Errorf("failed to clear first login: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to clear first login: %w", err)
	}
	return n == 1, nil
}

func (s *Store) UpdateProviderCredential(ctx context.Context, id uuid.UUID, provider model.Provider, cred *model.ProviderCredential) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE provider_credentials
		SET provider_id = ?, access_token = ?, refresh_token = ?, access_token_expires_at = ?
		WHERE account_id = ? AND provider = ?
	`, cred.ProviderID, cred.AccessToken, cred.RefreshToken, unixOrNil(cred.AccessTokenExpiresAt),
		id.String(), string(provider))
	if err != nil {
		return fmt.Errorf("failed to update provider credential: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.ErrNotFound
	}
	return nil
}

func (s *Store) SetImportantKeywords(ctx context.Context, id uuid.UUID, keywords []string) error {
	raw, err := json.Marshal(nonNil(keywords))
	if err != nil {
		return fmt.Errorf("failed to encode keywords: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE accounts SET important_keywords = ?, updated_at = ? WHERE id = ?
	`, string(raw), s.now().Unix(), id.String())
	if err != nil {
		return fmt.Errorf("failed to set keywords: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.ErrNotFound
	}
	return nil
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func writeCredentials(ctx context.Context, tx *sqlx.Tx, a *model.Account) error {
	for provider, cred := range a.Credentials {
		if cred == nil {
			continue
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO provider_credentials
			(account_id, provider, provider_id, access_token, refresh_token, access_token_expires_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, a.ID.String(), string(provider), cred.ProviderID, cred.AccessToken, cred.RefreshToken,
			unixOrNil(cred.AccessTokenExpiresAt))
		if err != nil {
			return fmt.Errorf("failed to write %s credential: %w", provider, err)
		}
	}
	return nil
}

func fromModel(a *model.Account) (accountRow, error) {
	inbox, err := json.Marshal(nonNil(a.InboxList))
	if err != nil {
		return accountRow{}, fmt.Errorf("failed to encode inbox list: %w", err)
	}
	keywords, err := json.Marshal(nonNil(a.ImportantKeywords))
	if err != nil {
		return accountRow{}, fmt.Errorf("failed to encode keywords: %w", err)
	}

	return accountRow{
		ID:                 a.ID.String(),
		Email:              model.NormalizeEmail(a.Email),
		Name:               a.Name,
		Role:               string(a.Role),
		AuthProvider:       string(a.AuthProvider),
		PasswordHash:       a.PasswordHash,
		RefreshToken:       nullString(a.RefreshToken),
		FirstLogin:         a.FirstLogin,
		Verified:           a.Verified,
		Status:             string(a.Status),
		InboxList:          string(inbox),
		ImportantKeywords:  string(keywords),
		Picture:            a.Picture,
		SubscriptionPlan:   a.SubscriptionPlan,
		SubscriptionStatus: a.SubscriptionStatus,
		LastSync:           unixOrNil(a.LastSync),
		CreatedAt:          a.CreatedAt.Unix(),
		UpdatedAt:          a.UpdatedAt.Unix(),
	}, nil
}

func (r accountRow) toModel(creds []credentialRow) (*model.Account, error) {
	id, err := uuid.Parse(r.ID)
	if err != nil {
		return nil, fmt.Errorf("invalid account id %q: %w", r.ID, err)
	}

	a := &model.Account{
		ID:                 id,
		Email:              r.Email,
		Name:               r.Name,
		Role:               model.Role(r.Role),
		AuthProvider:       model.Provider(r.AuthProvider),
		PasswordHash:       r.PasswordHash,
		Credentials:        make(map[model.Provider]*model.ProviderCredential, len(creds)),
		FirstLogin:         r.FirstLogin,
		Verified:           r.Verified,
		Status:             model.Status(r.Status),
		Picture:            r.Picture,
		SubscriptionPlan:   r.SubscriptionPlan,
		SubscriptionStatus: r.SubscriptionStatus,
		LastSync:           timeOrNil(r.LastSync),
		CreatedAt:          time.Unix(r.CreatedAt, 0),
		UpdatedAt:          time.Unix(r.UpdatedAt, 0),
	}
	if r.RefreshToken.Valid {
		tok := r.RefreshToken.String
		a.RefreshToken = &tok
	}
	if err := json.Unmarshal([]byte(r.InboxList), &a.InboxList); err != nil {
		return nil, fmt.Errorf("invalid inbox list: %w", err)
	}
	if err := json.Unmarshal([]byte(r.ImportantKeywords), &a.ImportantKeywords); err != nil {
		return nil, fmt.Errorf("invalid keywords: %w", err)
	}

	for _, c := range creds {
		a.Credentials[model.Provider(c.Provider)] = &model.ProviderCredential{
			ProviderID:           c.ProviderID,
			AccessToken:          c.AccessToken,
			RefreshToken:         c.RefreshToken,
			AccessTokenExpiresAt: timeOrNil(c.AccessTokenExpiresAt),
		}
	}

	return a, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nonNil(list []string) []string {
	if list == nil {
		return []string{}
	}
	return list
}
