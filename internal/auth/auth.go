package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/Martian-dev/mail-gateway/internal/model"
)

const minPasswordLength = 8

// LocalService registers and logs in password accounts.
type LocalService struct {
	accounts model.AccountStore
	tokens   *TokenService
	cost     int
	now      func() time.Time
}

func NewLocalService(accounts model.AccountStore, tokens *TokenService) *LocalService {
	return &LocalService{
		accounts: accounts,
		tokens:   tokens,
		cost:     bcrypt.DefaultCost,
		now:      time.Now,
	}
}

// Register creates a local account on the free tier and issues its tokens.
func (s *LocalService) Register(ctx context.Context, email, password, name string) (*model.Account, *TokenPair, error) {
	email = model.NormalizeEmail(email)
	if err := validateCredentials(email, password); err != nil {
		return nil, nil, err
	}
	if len(password) < minPasswordLength {
		return nil, nil, &model.ValidationError{Field: "password", Message: fmt.Sprintf("must be at least %d characters", minPasswordLength)}
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to hash password: %w", err)
	}

	a := model.NewAccount(email, strings.TrimSpace(name), model.ProviderLocal, s.now())
	a.PasswordHash = string(hashedPassword)

	if err := s.accounts.Create(ctx, a); err != nil {
		if errors.Is(err, model.ErrEmailTaken) {
			return nil, nil, &model.ValidationError{Field: "email", Message: "already registered"}
		}
		return nil, nil, err
	}

	pair, err := s.tokens.Issue(ctx, a)
	if err != nil {
		return nil, nil, err
	}

	return a, pair, nil
}

// Login checks the password and issues a fresh pair. Federated-only
// accounts have no password and cannot log in here.
func (s *LocalService) Login(ctx context.Context, email, password string) (*model.Account, *TokenPair, error) {
	email = model.NormalizeEmail(email)
	if err := validateCredentials(email, password); err != nil {
		return nil, nil, err
	}

	a, err := s.accounts.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, nil, &model.AuthenticationError{Err: model.ErrInvalidCredentials}
		}
		return nil, nil, err
	}
	if a.PasswordHash == "" {
		return nil, nil, &model.AuthenticationError{Err: model.ErrInvalidCredentials}
	}
	if err := bcrypt.CompareHashAndPassword([]byte(a.PasswordHash), []byte(password)); err != nil {
		return nil, nil, &model.AuthenticationError{Err: model.ErrInvalidCredentials}
	}
	if !a.IsActive() {
		return nil, nil, &model.AuthenticationError{Err: model.ErrAccountInactive}
	}

	pair, err := s.tokens.Issue(ctx, a)
	if err != nil {
		return nil, nil, err
	}

	return a, pair, nil
}

func validateCredentials(email, password string) error {
	if email == "" {
		return &model.ValidationError{Field: "email", Message: "is required"}
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return &model.ValidationError{Field: "email", Message: "is not a valid address"}
	}
	if password == "" {
		return &model.ValidationError{Field: "password", Message: "is required"}
	}
	return nil
}
