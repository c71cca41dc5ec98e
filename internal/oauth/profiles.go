package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
	oauth2v2 "google.golang.org/api/oauth2/v2"
	"google.golang.org/api/option"

	"github.com/Martian-dev/mail-gateway/internal/identity"
	"github.com/Martian-dev/mail-gateway/internal/providers/outlook"
)

const yahooUserinfoURL = "https://api.login.yahoo.com/openid/v1/userinfo"

// GoogleProfiles reads the OpenID userinfo through the oauth2/v2 API.
type GoogleProfiles struct {
	Options []option.ClientOption
}

func (g *GoogleProfiles) FetchProfile(ctx context.Context, token *oauth2.Token) (identity.Profile, error) {
	opts := append([]option.ClientOption{option.WithTokenSource(oauth2.StaticTokenSource(token))}, g.Options...)
	svc, err := oauth2v2.NewService(ctx, opts...)
	if err != nil {
		return identity.Profile{}, fmt.Errorf("failed to create userinfo client: %w", err)
	}

	info, err := svc.Userinfo.Get().Context(ctx).Do()
	if err != nil {
		return identity.Profile{}, fmt.Errorf("failed to fetch google profile: %w", err)
	}

	profile := identity.Profile{
		ID:          info.Id,
		DisplayName: info.Name,
		PictureURL:  info.Picture,
	}
	if info.Email != "" && info.VerifiedEmail != nil && *info.VerifiedEmail {
		profile.Emails = []string{info.Email}
	}
	return profile, nil
}

// MicrosoftProfiles reads /me through Microsoft Graph.
type MicrosoftProfiles struct {
	Graph *outlook.Profiles
}

func (m *MicrosoftProfiles) FetchProfile(ctx context.Context, token *oauth2.Token) (identity.Profile, error) {
	return m.Graph.FetchProfile(ctx, token.AccessToken)
}

// YahooProfiles reads Yahoo's OpenID Connect userinfo endpoint.
type YahooProfiles struct {
	URL string
}

func NewYahooProfiles(url string) *YahooProfiles {
	if url == "" {
		url = yahooUserinfoURL
	}
	return &YahooProfiles{URL: url}
}

type yahooUserinfo struct {
	Sub           string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
}

func (y *YahooProfiles) FetchProfile(ctx context.Context, token *oauth2.Token) (identity.Profile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, y.URL, nil)
	if err != nil {
		return identity.Profile{}, fmt.Errorf("failed to build userinfo request: %w", err)
	}

	resp, err := oauth2.NewClient(ctx, oauth2.StaticTokenSource(token)).Do(req)
	if err != nil {
		return identity.Profile{}, fmt.Errorf("failed to fetch yahoo profile: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return identity.Profile{}, fmt.Errorf("failed to fetch yahoo profile: status %d", resp.StatusCode)
	}

	var info yahooUserinfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return identity.Profile{}, fmt.Errorf("failed to decode yahoo profile: %w", err)
	}

	profile := identity.Profile{ID: info.Sub, DisplayName: info.Name, PictureURL: info.Picture}
	if info.Email != "" && info.EmailVerified {
		profile.Emails = []string{info.Email}
	}
	return profile, nil
}
