package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Provider identifies how an account authenticates.
type Provider string

const (
	ProviderLocal     Provider = "local"
	ProviderGoogle    Provider = "google"
	ProviderMicrosoft Provider = "microsoft"
	ProviderYahoo     Provider = "yahoo"
)

// FederatedProviders lists the providers that carry a credential tuple.
var FederatedProviders = []Provider{ProviderGoogle, ProviderMicrosoft, ProviderYahoo}

// ParseProvider maps a provider tag to a Provider.
func ParseProvider(tag string) (Provider, error) {
	switch p := Provider(strings.ToLower(strings.TrimSpace(tag))); p {
	case ProviderLocal, ProviderGoogle, ProviderMicrosoft, ProviderYahoo:
		return p, nil
	default:
		return "", &UnsupportedProviderError{Provider: tag}
	}
}

// Role is the authorization role of an account.
type Role string

const (
	RoleUser       Role = "user"
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "super_admin"
)

// IsAdmin reports whether the role may use administrative endpoints.
func (r Role) IsAdmin() bool {
	return r == RoleAdmin || r == RoleSuperAdmin
}

// Status is the lifecycle state of an account. Only active accounts authenticate.
type Status string

const (
	StatusActive   Status = "active"
	StatusPending  Status = "pending"
	StatusCanceled Status = "canceled"
	StatusBlocked  Status = "blocked"
)

const (
	PlanFree                 = "free"
	SubscriptionStatusActive = "active"
)

// DefaultImportantKeywords is merged into every account's keywords at read time.
var DefaultImportantKeywords = []string{
	"urgent",
	"important",
	"asap",
	"action required",
	"deadline",
	"invoice",
	"payment",
	"meeting",
	"interview",
	"contract",
}

// ProviderCredential is the per-provider identity and token tuple.
// For Yahoo password logins AccessToken holds the IMAP app password and
// AccessTokenExpiresAt stays nil.
type ProviderCredential struct {
	ProviderID           string
	AccessToken          string
	RefreshToken         string
	AccessTokenExpiresAt *time.Time
}

// Expired reports whether the access token is past its expiry at now.
// Credentials without an expiry never expire.
func (c *ProviderCredential) Expired(now time.Time) bool {
	if c.AccessTokenExpiresAt == nil {
		return false
	}
	return !now.Before(*c.AccessTokenExpiresAt)
}

// IsPassword reports whether AccessToken is a mailbox password. Password
// logins store neither a refresh token nor an expiry; OAuth grants always
// carry at least one of them.
func (c *ProviderCredential) IsPassword() bool {
	return c.RefreshToken == "" && c.AccessTokenExpiresAt == nil
}

// Account is the CredentialStore record.
type Account struct {
	ID                 uuid.UUID
	Email              string
	Name               string
	Role               Role
	AuthProvider       Provider
	PasswordHash       string
	Credentials        map[Provider]*ProviderCredential
	RefreshToken       *string
	FirstLogin         bool
	Verified           bool
	Status             Status
	InboxList          []string
	ImportantKeywords  []string
	Picture            string
	SubscriptionPlan   string
	SubscriptionStatus string
	LastSync           *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// NewAccount returns an account with free-tier defaults for email.
func NewAccount(email, name string, provider Provider, now time.Time) *Account {
	email = NormalizeEmail(email)
	return &Account{
		ID:                 uuid.New(),
		Email:              email,
		Name:               name,
		Role:               RoleUser,
		AuthProvider:       provider,
		Credentials:        make(map[Provider]*ProviderCredential),
		FirstLogin:         true,
		Status:             StatusActive,
		InboxList:          []string{email},
		ImportantKeywords:  append([]string(nil), DefaultImportantKeywords...),
		SubscriptionPlan:   PlanFree,
		SubscriptionStatus: SubscriptionStatusActive,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

// NormalizeEmail lowercases and trims an address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Credential returns the credential tuple for p, or nil.
func (a *Account) Credential(p Provider) *ProviderCredential {
	if a.Credentials == nil {
		return nil
	}
	return a.Credentials[p]
}

// SetCredential stores the tuple for p and makes p the auth provider.
// The two are only ever changed together.
func (a *Account) SetCredential(p Provider, cred *ProviderCredential) {
	if a.Credentials == nil {
		a.Credentials = make(map[Provider]*ProviderCredential)
	}
	a.Credentials[p] = cred
	a.AuthProvider = p
}

// LoginUpdate is what a successful federated login changes on an account.
type LoginUpdate struct {
	Provider   Provider
	Credential *ProviderCredential
	// Name and Picture only fill an empty name and replace the picture when set.
	Name       string
	Picture    string
	InboxAlias string
	At         time.Time
}

// ApplyLogin merges u into a. It never touches the first-login flag, the
// refresh token, the status or keywords a user already chose.
func (a *Account) ApplyLogin(u *LoginUpdate) {
	at := u.At
	a.SetCredential(u.Provider, u.Credential)
	a.Verified = true
	a.LastSync = &at
	a.UpdatedAt = at
	a.AddInbox(u.InboxAlias)
	if len(a.ImportantKeywords) == 0 {
		a.ImportantKeywords = append([]string(nil), DefaultImportantKeywords...)
	}
	if a.Name == "" {
		a.Name = u.Name
	}
	if u.Picture != "" {
		a.Picture = u.Picture
	}
}

// HasProviderAuth reports whether the account holds a usable credential for p.
func (a *Account) HasProviderAuth(p Provider) bool {
	c := a.Credential(p)
	return c != nil && c.AccessToken != ""
}

// IsActive reports whether the account may authenticate.
func (a *Account) IsActive() bool {
	return a.Status == StatusActive
}

// AddInbox appends addr to the inbox list unless it is already present.
func (a *Account) AddInbox(addr string) bool {
	addr = NormalizeEmail(addr)
	if addr == "" {
		return false
	}
	for _, existing := range a.InboxList {
		if strings.EqualFold(existing, addr) {
			return false
		}
	}
	a.InboxList = append(a.InboxList, addr)
	return true
}

// Keywords returns the default keywords merged with the account's own,
// de-duplicated case-insensitively, defaults first.
func (a *Account) Keywords() []string {
	return MergeKeywords(DefaultImportantKeywords, a.ImportantKeywords)
}

// MergeKeywords concatenates lists, keeping the first spelling of each keyword.
func MergeKeywords(lists ...[]string) []string {
	seen := make(map[string]struct{})
	var merged []string
	for _, list := range lists {
		for _, kw := range list {
			kw = strings.TrimSpace(kw)
			key := strings.ToLower(kw)
			if kw == "" {
				continue
			}
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			merged = append(merged, kw)
		}
	}
	return merged
}
