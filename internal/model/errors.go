package model

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound             = errors.New("not found")
	ErrEmailTaken           = errors.New("email already registered")
	ErrInvalidCredentials   = errors.New("invalid email or password")
	ErrAccountInactive      = errors.New("account is not active")
	ErrTokenExpired         = errors.New("token expired")
	ErrTokenInvalid         = errors.New("token invalid")
	ErrInvalidRefreshToken  = errors.New("invalid refresh token")
	ErrProviderUnauthorized = errors.New("provider rejected credentials")
)

// ValidationError is missing or malformed, user-correctable input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// AuthenticationError covers bad credentials and expired or invalid internal tokens.
type AuthenticationError struct {
	Err error
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("authentication failed: %v", e.Err)
}

func (e *AuthenticationError) Unwrap() error {
	return e.Err
}

// AuthorizationDenied is a waitlist denial. Reason is safe to show to the user.
type AuthorizationDenied struct {
	Email  string
	Reason string
}

func (e *AuthorizationDenied) Error() string {
	return e.Reason
}

// ProviderOperationError is a failed downstream provider call.
type ProviderOperationError struct {
	Provider  Provider
	Operation string
	Err       error
}

func (e *ProviderOperationError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Provider, e.Operation, e.Err)
}

func (e *ProviderOperationError) Unwrap() error {
	return e.Err
}

// ProviderAuthExpiredError means the provider credential cannot be recovered
// without the user re-running the OAuth flow.
type ProviderAuthExpiredError struct {
	Provider Provider
	Err      error
}

func (e *ProviderAuthExpiredError) Error() string {
	return fmt.Sprintf("%s authorization expired, sign in again: %v", e.Provider, e.Err)
}

func (e *ProviderAuthExpiredError) Unwrap() error {
	return e.Err
}

// ConfigurationError is fatal at startup.
type ConfigurationError struct {
	Setting string
	Message string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Setting, e.Message)
}

// UnsupportedProviderError is returned for an unknown provider tag.
type UnsupportedProviderError struct {
	Provider string
}

func (e *UnsupportedProviderError) Error() string {
	return fmt.Sprintf("unsupported provider %q", e.Provider)
}

// ProfileExtractionError means no usable email was found in a provider profile.
type ProfileExtractionError struct {
	Provider Provider
}

func (e *ProfileExtractionError) Error() string {
	return fmt.Sprintf("no usable email address in %s profile", e.Provider)
}

// IsProviderUnauthorized reports whether err signals rejected provider credentials.
func IsProviderUnauthorized(err error) bool {
	return errors.Is(err, ErrProviderUnauthorized)
}
