package oauth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/oauth2"

	"github.com/Martian-dev/mail-gateway/internal/identity"
	"github.com/Martian-dev/mail-gateway/internal/logger"
	"github.com/Martian-dev/mail-gateway/internal/mail"
	"github.com/Martian-dev/mail-gateway/internal/model"
	"github.com/Martian-dev/mail-gateway/internal/waitlist"
)

// Outcome is the terminal state of one login attempt.
type Outcome int

const (
	Linked Outcome = iota
	Denied
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Linked:
		return "linked"
	case Denied:
		return "denied"
	default:
		return "failed"
	}
}

const (
	msgFailed          = "Authentication failed. Please try again."
	msgProviderDenied  = "Access was denied by the provider."
	msgNoEmail         = "We could not read an email address from your account."
	msgAccountInactive = "Your account is not active."
)

// Callback is what the provider sends back to the redirect URL.
type Callback struct {
	Code             string
	State            string
	Error            string
	ErrorDescription string
}

// Result is the outcome of a callback. Message is safe to show the user;
// Err is the cause and is for logs only.
type Result struct {
	Outcome  Outcome
	Provider model.Provider
	Redirect string
	Link     *identity.Result
	Message  string
	Err      error
}

// PasswordVerifier proves a mailbox password by authenticating once.
type PasswordVerifier func(ctx context.Context, creds mail.Credentials) error

// Controller drives the authorization-code flow.
type Controller struct {
	registry *Registry
	gate     *waitlist.Gate
	linker   *identity.Linker
	verify   PasswordVerifier
	log      *logger.Logger
}

func NewController(registry *Registry, gate *waitlist.Gate, linker *identity.Linker, verify PasswordVerifier, log *logger.Logger) *Controller {
	return &Controller{registry: registry, gate: gate, linker: linker, verify: verify, log: log}
}

// Providers lists the providers with an OAuth flow.
func (c *Controller) Providers() []model.Provider {
	return c.registry.Names()
}

// Begin returns the provider authorization URL. An unknown provider fails
// with *model.UnsupportedProviderError.
func (c *Controller) Begin(provider, redirect string) (string, error) {
	p, err := c.registry.Lookup(provider)
	if err != nil {
		return "", err
	}
	return p.Config.AuthCodeURL(EncodeState(redirect), p.Options...), nil
}

// Complete resolves a callback to exactly one outcome.
func (c *Controller) Complete(ctx context.Context, provider string, cb Callback) *Result {
	res := &Result{Provider: model.Provider(provider), Redirect: DecodeState(cb.State)}

	p, err := c.registry.Lookup(provider)
	if err != nil {
		return c.fail(res, err)
	}

	if cb.Error != "" {
		res.Outcome = Denied
		res.Message = msgProviderDenied
		res.Err = fmt.Errorf("provider returned %s: %s", cb.Error, cb.ErrorDescription)
		c.log.Info("oauth login denied by provider", "provider", p.Name, "error", cb.Error)
		return res
	}
	if cb.Code == "" {
		return c.fail(res, &model.ValidationError{Field: "code", Message: "missing authorization code"})
	}

	token, err := p.Config.Exchange(ctx, cb.Code)
	if err != nil {
		return c.fail(res, fmt.Errorf("failed to exchange code: %w", err))
	}

	profile, err := p.Profiles.FetchProfile(ctx, token)
	if err != nil {
		return c.fail(res, err)
	}

	link, err := c.authorizeAndLink(ctx, p.Name, profile, tokensFrom(token))
	if err != nil {
		return c.resolve(res, err)
	}

	res.Outcome = Linked
	res.Link = link
	c.log.Info("oauth login", "provider", p.Name, "account_id", link.Account.ID, "created", link.Created)
	return res
}

// PasswordLogin links a Yahoo mailbox by its app password.
func (c *Controller) PasswordLogin(ctx context.Context, email, password string) (*identity.Result, error) {
	email = model.NormalizeEmail(email)
	if email == "" || !strings.Contains(email, "@") {
		return nil, &model.ValidationError{Field: "email", Message: "a valid email is required"}
	}
	if password == "" {
		return nil, &model.ValidationError{Field: "password", Message: "password is required"}
	}
	if c.verify == nil {
		return nil, &model.UnsupportedProviderError{Provider: string(model.ProviderYahoo)}
	}

	if err := c.verify(ctx, mail.Credentials{Email: email, AccessToken: password, Password: true}); err != nil {
		if model.IsProviderUnauthorized(err) {
			return nil, &model.AuthenticationError{Err: model.ErrInvalidCredentials}
		}
		return nil, fmt.Errorf("failed to verify mailbox: %w", err)
	}

	return c.authorizeAndLink(ctx, model.ProviderYahoo, identity.Profile{Emails: []string{email}}, identity.Tokens{AccessToken: password})
}

func (c *Controller) authorizeAndLink(ctx context.Context, provider model.Provider, profile identity.Profile, tokens identity.Tokens) (*identity.Result, error) {
	email, err := identity.ExtractEmail(provider, profile)
	if err != nil {
		return nil, err
	}

	entry, _, err := c.gate.Authorize(ctx, email)
	if err != nil {
		return nil, err
	}

	return c.linker.Link(ctx, provider, profile, tokens, entry)
}

func (c *Controller) resolve(res *Result, err error) *Result {
	var denied *model.AuthorizationDenied
	if errors.As(err, &denied) {
		res.Outcome = Denied
		res.Message = denied.Reason
		res.Err = err
		c.log.Info("oauth login denied by waiting list", "provider", res.Provider, "email", denied.Email)
		return res
	}
	if errors.Is(err, model.ErrAccountInactive) {
		res.Outcome = Denied
		res.Message = msgAccountInactive
		res.Err = err
		return res
	}
	return c.fail(res, err)
}

func (c *Controller) fail(res *Result, err error) *Result {
	res.Outcome = Failed
	res.Err = err
	res.Message = msgFailed
	var extraction *model.ProfileExtractionError
	if errors.As(err, &extraction) {
		res.Message = msgNoEmail
	}
	c.log.Error("oauth login failed", "provider", res.Provider, "error", err)
	return res
}

func tokensFrom(t *oauth2.Token) identity.Tokens {
	return identity.Tokens{AccessToken: t.AccessToken, RefreshToken: t.RefreshToken, Expiry: t.Expiry}
}
