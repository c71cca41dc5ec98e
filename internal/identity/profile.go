package identity

import (
	"net/mail"
	"strings"
	"time"

	"github.com/Martian-dev/mail-gateway/internal/model"
)

// Profile is the identity assertion returned by a provider's profile endpoint.
type Profile struct {
	ID            string
	Emails        []string
	Mail          string
	PrincipalName string
	DisplayName   string
	PictureURL    string
}

// Tokens are the provider credentials obtained by the code exchange.
type Tokens struct {
	AccessToken  string
	RefreshToken string
	// Expiry is zero for credentials that do not expire.
	Expiry time.Time
}

// ExtractEmail returns the canonical address from p, trying the verified
// email list, then the mail attribute, then the principal name.
func ExtractEmail(provider model.Provider, p Profile) (string, error) {
	candidates := append(append([]string{}, p.Emails...), p.Mail, p.PrincipalName)
	for _, c := range candidates {
		if addr, ok := usableAddress(c); ok {
			return addr, nil
		}
	}
	return "", &model.ProfileExtractionError{Provider: provider}
}

func usableAddress(s string) (string, bool) {
	s = model.NormalizeEmail(s)
	if s == "" || !strings.Contains(s, "@") {
		return "", false
	}
	addr, err := mail.ParseAddress(s)
	if err != nil {
		return "", false
	}
	return model.NormalizeEmail(addr.Address), true
}
