package identity

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/Martian-dev/mail-gateway/internal/auth"
	"github.com/Martian-dev/mail-gateway/internal/logger"
	"github.com/Martian-dev/mail-gateway/internal/model"
)

// Notifier dispatches the one-time welcome notification.
type Notifier interface {
	NotifyWelcome(ctx context.Context, account *model.Account) error
}

// PictureFetcher resolves a profile picture for the signed-in identity.
type PictureFetcher interface {
	FetchPicture(ctx context.Context, profile Profile, accessToken string) (string, error)
}

// Result is a completed link.
type Result struct {
	Account *model.Account
	Tokens  *auth.TokenPair
	Created bool
}

// Linker finds or creates the account for a federated identity, merges the
// provider credential into it and issues internal tokens. Callers must have
// passed the waitlist gate for the profile's email first.
type Linker struct {
	accounts model.AccountStore
	tokens   *auth.TokenService
	cipher   auth.TokenCipher
	notifier Notifier
	pictures map[model.Provider]PictureFetcher
	log      *logger.Logger
	now      func() time.Time
}

type Option func(*Linker)

func WithNotifier(n Notifier) Option {
	return func(l *Linker) { l.notifier = n }
}

func WithPictureFetcher(p model.Provider, f PictureFetcher) Option {
	return func(l *Linker) { l.pictures[p] = f }
}

func NewLinker(accounts model.AccountStore, tokens *auth.TokenService, cipher auth.TokenCipher, log *logger.Logger, opts ...Option) *Linker {
	if cipher == nil {
		cipher = auth.NoopCipher{}
	}
	l := &Linker{
		accounts: accounts,
		tokens:   tokens,
		cipher:   cipher,
		pictures: make(map[model.Provider]PictureFetcher),
		log:      log,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Link merges the identity into the account for its email. entry is the
// approved waitlist entry; its inbox alias is added to the account.
func (l *Linker) Link(ctx context.Context, provider model.Provider, profile Profile, tokens Tokens, entry *model.WaitlistEntry) (*Result, error) {
	if !slices.Contains(model.FederatedProviders, provider) {
		return nil, &model.UnsupportedProviderError{Provider: string(provider)}
	}

	email, err := ExtractEmail(provider, profile)
	if err != nil {
		return nil, err
	}

	cred, err := l.sealedCredential(profile, tokens)
	if err != nil {
		return nil, err
	}

	alias := email
	if entry != nil {
		alias = entry.InboxAlias()
	}

	account, created, err := l.upsert(ctx, provider, email, profile, tokens, cred, alias)
	if err != nil {
		return nil, err
	}

	pair, err := l.tokens.Issue(ctx, account)
	if err != nil {
		return nil, err
	}

	if err := l.welcome(ctx, account); err != nil {
		return nil, err
	}

	return &Result{Account: account, Tokens: pair, Created: created}, nil
}

func (l *Linker) upsert(ctx context.Context, provider model.Provider, email string, profile Profile, tokens Tokens, cred *model.ProviderCredential, alias string) (*model.Account, bool, error) {
	for attempt := 0; attempt < 2; attempt++ {
		account, err := l.accounts.GetByEmail(ctx, email)
		switch {
		case err == nil:
			if !account.IsActive() {
				return nil, false, &model.AuthenticationError{Err: model.ErrAccountInactive}
			}
			login := l.login(ctx, account, provider, profile, tokens, cred, alias)
			if err := l.accounts.RecordLogin(ctx, account.ID, login); err != nil {
				if errors.Is(err, model.ErrAccountInactive) {
					return nil, false, &model.AuthenticationError{Err: err}
				}
				return nil, false, fmt.Errorf("failed to update account: %w", err)
			}
			account, err = l.accounts.GetByID(ctx, account.ID)
			if err != nil {
				return nil, false, fmt.Errorf("failed to reload account: %w", err)
			}
			return account, false, nil

		case errors.Is(err, model.ErrNotFound):
			account = model.NewAccount(email, profile.DisplayName, provider, l.now())
			account.ApplyLogin(l.login(ctx, account, provider, profile, tokens, cred, alias))
			err := l.accounts.Create(ctx, account)
			if errors.Is(err, model.ErrEmailTaken) {
				// Lost a race with a concurrent first login; link into theirs.
				continue
			}
			if err != nil {
				return nil, false, fmt.Errorf("failed to create account: %w", err)
			}
			return account, true, nil

		default:
			return nil, false, fmt.Errorf("failed to load account: %w", err)
		}
	}
	return nil, false, fmt.Errorf("failed to link %s: %w", email, model.ErrEmailTaken)
}

func (l *Linker) login(ctx context.Context, a *model.Account, provider model.Provider, profile Profile, tokens Tokens, cred *model.ProviderCredential, alias string) *model.LoginUpdate {
	return &model.LoginUpdate{
		Provider:   provider,
		Credential: cred,
		Name:       profile.DisplayName,
		Picture:    l.picture(ctx, a, provider, profile, tokens.AccessToken),
		InboxAlias: alias,
		At:         l.now(),
	}
}

func (l *Linker) picture(ctx context.Context, a *model.Account, provider model.Provider, profile Profile, accessToken string) string {
	if profile.PictureURL != "" {
		return profile.PictureURL
	}
	fetcher, ok := l.pictures[provider]
	if !ok {
		return ""
	}
	picture, err := fetcher.FetchPicture(ctx, profile, accessToken)
	if err != nil {
		l.log.Warn("profile picture fetch failed", "account", a.ID, "provider", provider, "error", err)
		return ""
	}
	return picture
}

// welcome clears firstLogin before dispatching, so only the caller whose
// write flipped the flag notifies, and a failed dispatch is never retried.
func (l *Linker) welcome(ctx context.Context, a *model.Account) error {
	if !a.FirstLogin {
		return nil
	}

	consumed, err := l.accounts.ConsumeFirstLogin(ctx, a.ID)
	if err != nil {
		return fmt.Errorf("failed to clear first login: %w", err)
	}
	a.FirstLogin = false
	if !consumed || l.notifier == nil {
		return nil
	}

	if err := l.notifier.NotifyWelcome(ctx, a); err != nil {
		l.log.Warn("welcome notification failed", "account", a.ID, "error", err)
	}
	return nil
}

func (l *Linker) sealedCredential(profile Profile, tokens Tokens) (*model.ProviderCredential, error) {
	cred := &model.ProviderCredential{
		ProviderID:   profile.ID,
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
	}
	if !tokens.Expiry.IsZero() {
		exp := tokens.Expiry
		cred.AccessTokenExpiresAt = &exp
	}

	sealed, err := auth.SealCredential(l.cipher, cred)
	if err != nil {
		return nil, fmt.Errorf("failed to seal provider credential: %w", err)
	}
	return sealed, nil
}
