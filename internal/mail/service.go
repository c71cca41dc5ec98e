package mail

import (
	"context"
	"errors"
	"fmt"
	netmail "net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/Martian-dev/mail-gateway/internal/auth"
	"github.com/Martian-dev/mail-gateway/internal/logger"
	"github.com/Martian-dev/mail-gateway/internal/model"
)

// Refresher obtains a new provider access token from a refresh token.
type Refresher interface {
	Refresh(ctx context.Context, provider model.Provider, refreshToken string) (*oauth2.Token, error)
}

// Service runs uniform operations for an account against the Mailbox
// variant of its auth provider. Expired or rejected provider access tokens
// are refreshed once; idempotent operations are then retried once.
type Service struct {
	accounts   model.AccountStore
	registry   Registry
	refresher  Refresher
	cipher     auth.TokenCipher
	summarizer Summarizer
	log        *logger.Logger
	now        func() time.Time
}

func NewService(accounts model.AccountStore, registry Registry, refresher Refresher, cipher auth.TokenCipher, summarizer Summarizer, log *logger.Logger) *Service {
	if cipher == nil {
		cipher = auth.NoopCipher{}
	}
	if summarizer == nil {
		summarizer = ExtractiveSummarizer{}
	}
	return &Service{
		accounts:   accounts,
		registry:   registry,
		refresher:  refresher,
		cipher:     cipher,
		summarizer: summarizer,
		log:        log,
		now:        time.Now,
	}
}

func (s *Service) Fetch(ctx context.Context, accountID uuid.UUID, opts ListOptions) (*Page, error) {
	var page *Page
	err := s.do(ctx, accountID, "fetch", true, func(m Mailbox) error {
		var err error
		page, err = m.List(ctx, opts.Normalize())
		return err
	})
	return page, err
}

func (s *Service) Search(ctx context.Context, accountID uuid.UUID, opts ListOptions) (*Page, error) {
	if strings.TrimSpace(opts.Query) == "" {
		return nil, &model.ValidationError{Field: "query", Message: "is required"}
	}
	var page *Page
	err := s.do(ctx, accountID, "search", true, func(m Mailbox) error {
		var err error
		page, err = m.Search(ctx, opts.Normalize())
		return err
	})
	return page, err
}

func (s *Service) Read(ctx context.Context, accountID uuid.UUID, id string) (*Message, error) {
	if err := requireID(id); err != nil {
		return nil, err
	}
	var msg *Message
	err := s.do(ctx, accountID, "read", true, func(m Mailbox) error {
		var err error
		msg, err = m.Get(ctx, id)
		return err
	})
	return msg, err
}

func (s *Service) Send(ctx context.Context, accountID uuid.UUID, msg OutgoingMessage) error {
	if err := validateOutgoing(msg, true); err != nil {
		return err
	}
	return s.do(ctx, accountID, "send", false, func(m Mailbox) error {
		return m.Send(ctx, msg)
	})
}

func (s *Service) Reply(ctx context.Context, accountID uuid.UUID, id string, msg OutgoingMessage) error {
	if err := requireID(id); err != nil {
		return err
	}
	if err := validateOutgoing(msg, false); err != nil {
		return err
	}
	return s.do(ctx, accountID, "reply", false, func(m Mailbox) error {
		return m.Reply(ctx, id, msg)
	})
}

func (s *Service) Trash(ctx context.Context, accountID uuid.UUID, id string) error {
	if err := requireID(id); err != nil {
		return err
	}
	return s.do(ctx, accountID, "trash", true, func(m Mailbox) error {
		return m.Trash(ctx, id)
	})
}

func (s *Service) MarkRead(ctx context.Context, accountID uuid.UUID, id string) error {
	if err := requireID(id); err != nil {
		return err
	}
	return s.do(ctx, accountID, "mark-read", true, func(m Mailbox) error {
		return m.MarkRead(ctx, id)
	})
}

func (s *Service) Move(ctx context.Context, accountID uuid.UUID, id, folder string) error {
	if err := requireID(id); err != nil {
		return err
	}
	if strings.TrimSpace(folder) == "" {
		return &model.ValidationError{Field: "folder", Message: "is required"}
	}
	return s.do(ctx, accountID, "move", true, func(m Mailbox) error {
		return m.Move(ctx, id, folder)
	})
}

func (s *Service) CreateFolder(ctx context.Context, accountID uuid.UUID, name string) (*Folder, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, &model.ValidationError{Field: "name", Message: "is required"}
	}
	var folder *Folder
	// Creating an existing folder fails on every provider, so a retry is harmless.
	err := s.do(ctx, accountID, "create-folder", true, func(m Mailbox) error {
		var err error
		folder, err = m.CreateFolder(ctx, name)
		return err
	})
	return folder, err
}

// Summarize reads the message and hands it to the configured Summarizer.
func (s *Service) Summarize(ctx context.Context, accountID uuid.UUID, id string) (*Summary, error) {
	msg, err := s.Read(ctx, accountID, id)
	if err != nil {
		return nil, err
	}
	a, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to load account: %w", err)
	}
	return s.summarizer.Summarize(ctx, msg, a.Keywords())
}

func (s *Service) do(ctx context.Context, accountID uuid.UUID, op string, idempotent bool, fn func(Mailbox) error) error {
	a, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return &model.AuthenticationError{Err: model.ErrNotFound}
		}
		return fmt.Errorf("failed to load account: %w", err)
	}
	if !a.IsActive() {
		return &model.AuthenticationError{Err: model.ErrAccountInactive}
	}

	provider := a.AuthProvider
	factory, err := s.registry.Lookup(provider)
	if err != nil {
		return err
	}

	stored := a.Credential(provider)
	if stored == nil || stored.AccessToken == "" {
		return &model.ProviderAuthExpiredError{Provider: provider, Err: model.ErrProviderUnauthorized}
	}
	cred, err := auth.OpenCredential(s.cipher, stored)
	if err != nil {
		return &model.ProviderAuthExpiredError{Provider: provider, Err: err}
	}

	refreshed := false
	if cred.Expired(s.now()) {
		if cred, err = s.refresh(ctx, a, provider, cred); err != nil {
			return err
		}
		refreshed = true
	}

	err = s.call(ctx, factory, a, cred, fn)
	if err == nil {
		return nil
	}
	if !model.IsProviderUnauthorized(err) {
		return &model.ProviderOperationError{Provider: provider, Operation: op, Err: err}
	}
	if refreshed {
		return &model.ProviderAuthExpiredError{Provider: provider, Err: err}
	}

	s.log.Info("provider rejected access token, refreshing", "account", a.ID, "provider", provider, "operation", op)
	if cred, err = s.refresh(ctx, a, provider, cred); err != nil {
		return err
	}
	if !idempotent {
		return &model.ProviderOperationError{Provider: provider, Operation: op, Err: model.ErrProviderUnauthorized}
	}

	err = s.call(ctx, factory, a, cred, fn)
	switch {
	case err == nil:
		return nil
	case model.IsProviderUnauthorized(err):
		return &model.ProviderAuthExpiredError{Provider: provider, Err: err}
	default:
		return &model.ProviderOperationError{Provider: provider, Operation: op, Err: err}
	}
}

func (s *Service) call(ctx context.Context, factory Factory, a *model.Account, cred *model.ProviderCredential, fn func(Mailbox) error) error {
	box, err := factory(ctx, Credentials{
		Email:        a.Email,
		AccessToken:  cred.AccessToken,
		RefreshToken: cred.RefreshToken,
		Expiry:       cred.AccessTokenExpiresAt,
		Password:     cred.IsPassword(),
	})
	if err != nil {
		return err
	}
	return fn(box)
}

// refresh exchanges the refresh token and persists the new access token.
// Any failure to obtain a token is ProviderAuthExpiredError; a failure to
// persist it is returned as is.
func (s *Service) refresh(ctx context.Context, a *model.Account, provider model.Provider, cred *model.ProviderCredential) (*model.ProviderCredential, error) {
	if s.refresher == nil || cred.RefreshToken == "" {
		return nil, &model.ProviderAuthExpiredError{Provider: provider, Err: model.ErrProviderUnauthorized}
	}

	tok, err := s.refresher.Refresh(ctx, provider, cred.RefreshToken)
	if err != nil {
		s.log.Warn("provider token refresh failed", "account", a.ID, "provider", provider, "error", err)
		return nil, &model.ProviderAuthExpiredError{Provider: provider, Err: err}
	}

	next := &model.ProviderCredential{
		ProviderID:   cred.ProviderID,
		AccessToken:  tok.AccessToken,
		RefreshToken: cred.RefreshToken,
	}
	if tok.RefreshToken != "" {
		next.RefreshToken = tok.RefreshToken
	}
	if !tok.Expiry.IsZero() {
		exp := tok.Expiry
		next.AccessTokenExpiresAt = &exp
	}

	sealed, err := auth.SealCredential(s.cipher, next)
	if err != nil {
		return nil, fmt.Errorf("failed to seal refreshed credential: %w", err)
	}
	if err := s.accounts.UpdateProviderCredential(ctx, a.ID, provider, sealed); err != nil {
		return nil, fmt.Errorf("failed to store refreshed credential: %w", err)
	}

	return next, nil
}

func requireID(id string) error {
	if strings.TrimSpace(id) == "" {
		return &model.ValidationError{Field: "id", Message: "is required"}
	}
	return nil
}

func validateOutgoing(msg OutgoingMessage, needRecipient bool) error {
	if needRecipient && len(msg.To) == 0 {
		return &model.ValidationError{Field: "to", Message: "at least one recipient is required"}
	}
	for _, addr := range msg.Recipients() {
		if _, err := netmail.ParseAddress(addr); err != nil {
			return &model.ValidationError{Field: "to", Message: fmt.Sprintf("invalid address %q", addr)}
		}
	}
	if msg.Text == "" && msg.HTML == "" {
		return &model.ValidationError{Field: "text", Message: "message body is required"}
	}
	return nil
}
