package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/Martian-dev/mail-gateway/internal/model"
)

const (
	AccessTokenTTL  = 24 * time.Hour
	RefreshTokenTTL = 30 * 24 * time.Hour

	claimType             = "typ"
	claimEmail            = "email"
	claimRole             = "role"
	claimAuthProvider     = "authProvider"
	claimHasGoogleAuth    = "hasGoogleAuth"
	claimHasMicrosoftAuth = "hasMicrosoftAuth"

	typeAccess  = "access"
	typeRefresh = "refresh"
)

// TokenPair is the internal access/refresh credential pair.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// Claims is the access token payload. The capability flags are a snapshot
// taken at issuance and are not re-derived until the next issuance.
type Claims struct {
	AccountID        uuid.UUID      `json:"id"`
	Email            string         `json:"email"`
	Role             model.Role     `json:"role"`
	AuthProvider     model.Provider `json:"authProvider"`
	HasGoogleAuth    bool           `json:"hasGoogleAuth"`
	HasMicrosoftAuth bool           `json:"hasMicrosoftAuth"`
	ExpiresAt        time.Time      `json:"-"`
}

// TokenService issues, verifies, rotates and revokes internal tokens.
// Access tokens are stateless. Only the refresh token stored on the
// account is accepted by Refresh.
type TokenService struct {
	accounts   model.AccountStore
	accessKey  jwk.Key
	refreshKey jwk.Key
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// NewTokenService returns a ConfigurationError when either secret is missing.
func NewTokenService(accounts model.AccountStore, accessSecret, refreshSecret string) (*TokenService, error) {
	if accessSecret == "" {
		return nil, &model.ConfigurationError{Setting: "JWT_ACCESS_SECRET", Message: "must be set"}
	}
	if refreshSecret == "" {
		return nil, &model.ConfigurationError{Setting: "JWT_REFRESH_SECRET", Message: "must be set"}
	}

	accessKey, err := jwk.FromRaw([]byte(accessSecret))
	if err != nil {
		return nil, fmt.Errorf("failed to build access key: %w", err)
	}
	refreshKey, err := jwk.FromRaw([]byte(refreshSecret))
	if err != nil {
		return nil, fmt.Errorf("failed to build refresh key: %w", err)
	}

	return &TokenService{
		accounts:   accounts,
		accessKey:  accessKey,
		refreshKey: refreshKey,
		accessTTL:  AccessTokenTTL,
		refreshTTL: RefreshTokenTTL,
		now:        time.Now,
	}, nil
}

// Issue mints a pair for the account and stores the refresh token on it,
// invalidating any previously issued refresh token.
func (s *TokenService) Issue(ctx context.Context, a *model.Account) (*TokenPair, error) {
	pair, err := s.mint(a)
	if err != nil {
		return nil, err
	}

	if err := s.accounts.SetRefreshToken(ctx, a.ID, &pair.RefreshToken); err != nil {
		return nil, fmt.Errorf("failed to store refresh token: %w", err)
	}
	a.RefreshToken = &pair.RefreshToken

	return pair, nil
}

// Verify checks signature and expiry of an access token. Account status is
// not consulted.
func (s *TokenService) Verify(accessToken string) (*Claims, error) {
	tok, err := s.parse(accessToken, s.accessKey, typeAccess)
	if err != nil {
		return nil, err
	}

	id, err := uuid.Parse(tok.Subject())
	if err != nil {
		return nil, &model.AuthenticationError{Err: model.ErrTokenInvalid}
	}

	return &Claims{
		AccountID:        id,
		Email:            stringClaim(tok, claimEmail),
		Role:             model.Role(stringClaim(tok, claimRole)),
		AuthProvider:     model.Provider(stringClaim(tok, claimAuthProvider)),
		HasGoogleAuth:    boolClaim(tok, claimHasGoogleAuth),
		HasMicrosoftAuth: boolClaim(tok, claimHasMicrosoftAuth),
		ExpiresAt:        tok.Expiration(),
	}, nil
}

// Refresh exchanges the stored refresh token for a new pair. The presented
// token must verify, resolve to an active account and equal the stored
// value. Rotation is a compare-and-swap, so of two concurrent refreshes with
// the same token exactly one succeeds.
func (s *TokenService) Refresh(ctx context.Context, refreshToken string) (*TokenPair, *model.Account, error) {
	invalid := &model.AuthenticationError{Err: model.ErrInvalidRefreshToken}

	tok, err := s.parse(refreshToken, s.refreshKey, typeRefresh)
	if err != nil {
		return nil, nil, invalid
	}
	id, err := uuid.Parse(tok.Subject())
	if err != nil {
		return nil, nil, invalid
	}

	a, err := s.accounts.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, nil, invalid
		}
		return nil, nil, fmt.Errorf("failed to load account: %w", err)
	}
	if !a.IsActive() {
		return nil, nil, &model.AuthenticationError{Err: model.ErrAccountInactive}
	}
	if a.RefreshToken == nil || subtle.ConstantTimeCompare([]byte(*a.RefreshToken), []byte(refreshToken)) != 1 {
		return nil, nil, invalid
	}

	pair, err := s.mint(a)
	if err != nil {
		return nil, nil, err
	}

	swapped, err := s.accounts.SwapRefreshToken(ctx, a.ID, refreshToken, pair.RefreshToken)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to rotate refresh token: %w", err)
	}
	if !swapped {
		return nil, nil, invalid
	}
	a.RefreshToken = &pair.RefreshToken

	return pair, a, nil
}

// Revoke clears the stored refresh token.
func (s *TokenService) Revoke(ctx context.Context, accountID uuid.UUID) error {
	if err := s.accounts.SetRefreshToken(ctx, accountID, nil); err != nil {
		return fmt.Errorf("failed to revoke refresh token: %w", err)
	}
	return nil
}

func (s *TokenService) mint(a *model.Account) (*TokenPair, error) {
	now := s.now()

	access, err := jwt.NewBuilder().
		Subject(a.ID.String()).
		JwtID(uuid.NewString()).
		IssuedAt(now).
		Expiration(now.Add(s.accessTTL)).
		Claim(claimType, typeAccess).
		Claim(claimEmail, a.Email).
		Claim(claimRole, string(a.Role)).
		Claim(claimAuthProvider, string(a.AuthProvider)).
		Claim(claimHasGoogleAuth, a.HasProviderAuth(model.ProviderGoogle)).
		Claim(claimHasMicrosoftAuth, a.HasProviderAuth(model.ProviderMicrosoft)).
		Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build access token: %w", err)
	}

	refresh, err := jwt.NewBuilder().
		Subject(a.ID.String()).
		JwtID(uuid.NewString()).
		IssuedAt(now).
		Expiration(now.Add(s.refreshTTL)).
		Claim(claimType, typeRefresh).
		Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build refresh token: %w", err)
	}

	signedAccess, err := jwt.Sign(access, jwt.WithKey(jwa.HS256, s.accessKey))
	if err != nil {
		return nil, fmt.Errorf("failed to sign access token: %w", err)
	}
	signedRefresh, err := jwt.Sign(refresh, jwt.WithKey(jwa.HS256, s.refreshKey))
	if err != nil {
		return nil, fmt.Errorf("failed to sign refresh token: %w", err)
	}

	return &TokenPair{AccessToken: string(signedAccess), RefreshToken: string(signedRefresh)}, nil
}

func (s *TokenService) parse(raw string, key jwk.Key, typ string) (jwt.Token, error) {
	if raw == "" {
		return nil, &model.AuthenticationError{Err: model.ErrTokenInvalid}
	}

	tok, err := jwt.Parse([]byte(raw),
		jwt.WithKey(jwa.HS256, key),
		jwt.WithValidate(true),
		jwt.WithClock(jwt.ClockFunc(s.now)),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired()) {
			return nil, &model.AuthenticationError{Err: model.ErrTokenExpired}
		}
		return nil, &model.AuthenticationError{Err: model.ErrTokenInvalid}
	}
	if stringClaim(tok, claimType) != typ {
		return nil, &model.AuthenticationError{Err: model.ErrTokenInvalid}
	}

	return tok, nil
}

func stringClaim(tok jwt.Token, name string) string {
	v, ok := tok.Get(name)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

func boolClaim(tok jwt.Token, name string) bool {
	v, ok := tok.Get(name)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}
