package oauth

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/oauth2"

	"github.com/Martian-dev/mail-gateway/internal/model"
)

// Refresher exchanges stored provider refresh tokens. It implements
// mail.Refresher.
type Refresher struct {
	registry *Registry
}

func NewRefresher(registry *Registry) *Refresher {
	return &Refresher{registry: registry}
}

func (r *Refresher) Refresh(ctx context.Context, provider model.Provider, refreshToken string) (*oauth2.Token, error) {
	if refreshToken == "" {
		return nil, fmt.Errorf("no refresh token for %s: %w", provider, model.ErrProviderUnauthorized)
	}
	p, err := r.registry.Lookup(string(provider))
	if err != nil {
		return nil, err
	}

	token, err := p.Config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		var retrieve *oauth2.RetrieveError
		if errors.As(err, &retrieve) {
			return nil, fmt.Errorf("refresh rejected by %s: %w", provider, model.ErrProviderUnauthorized)
		}
		return nil, fmt.Errorf("failed to refresh %s token: %w", provider, err)
	}
	if token.RefreshToken == "" {
		token.RefreshToken = refreshToken
	}
	return token, nil
}
