package oauth

import (
	"context"
	"slices"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/oauth2/microsoft"
	"google.golang.org/api/gmail/v1"
	oauth2v2 "google.golang.org/api/oauth2/v2"

	"github.com/Martian-dev/mail-gateway/internal/config"
	"github.com/Martian-dev/mail-gateway/internal/identity"
	"github.com/Martian-dev/mail-gateway/internal/model"
	"github.com/Martian-dev/mail-gateway/internal/providers/outlook"
)

var yahooEndpoint = oauth2.Endpoint{
	AuthURL:   "https://api.login.yahoo.com/oauth2/request_auth",
	TokenURL:  "https://api.login.yahoo.com/oauth2/get_token",
	AuthStyle: oauth2.AuthStyleInHeader,
}

// ProfileFetcher reads the identity behind a freshly exchanged token.
type ProfileFetcher interface {
	FetchProfile(ctx context.Context, token *oauth2.Token) (identity.Profile, error)
}

// Provider is the static configuration of one OAuth provider.
type Provider struct {
	Name     model.Provider
	Config   *oauth2.Config
	Options  []oauth2.AuthCodeOption
	Profiles ProfileFetcher
}

// Registry holds the configured providers. It is built once at startup
// and never mutated.
type Registry struct {
	providers map[model.Provider]*Provider
}

func NewRegistry(providers ...*Provider) *Registry {
	r := &Registry{providers: make(map[model.Provider]*Provider, len(providers))}
	for _, p := range providers {
		r.providers[p.Name] = p
	}
	return r
}

// FromConfig registers every provider whose client is configured. Yahoo is
// registered only when its OAuth variant is enabled.
func FromConfig(cfg *config.Config) *Registry {
	var providers []*Provider

	if cfg.Google.Enabled() {
		providers = append(providers, &Provider{
			Name: model.ProviderGoogle,
			Config: &oauth2.Config{
				ClientID:     cfg.Google.ClientID,
				ClientSecret: cfg.Google.ClientSecret,
				RedirectURL:  cfg.Google.RedirectURL,
				Endpoint:     google.Endpoint,
				Scopes: []string{
					oauth2v2.OpenIDScope,
					oauth2v2.UserinfoEmailScope,
					oauth2v2.UserinfoProfileScope,
					gmail.GmailModifyScope,
					gmail.GmailLabelsScope,
					gmail.GmailSendScope,
				},
			},
			Options:  []oauth2.AuthCodeOption{oauth2.AccessTypeOffline, oauth2.ApprovalForce},
			Profiles: &GoogleProfiles{},
		})
	}

	if cfg.Microsoft.Enabled() {
		providers = append(providers, &Provider{
			Name: model.ProviderMicrosoft,
			Config: &oauth2.Config{
				ClientID:     cfg.Microsoft.ClientID,
				ClientSecret: cfg.Microsoft.ClientSecret,
				RedirectURL:  cfg.Microsoft.RedirectURL,
				Endpoint:     microsoft.AzureADEndpoint(cfg.Microsoft.Tenant),
				Scopes: []string{
					"openid", "email", "profile", "offline_access",
					"User.Read", "Mail.ReadWrite", "Mail.Send",
				},
			},
			Profiles: &MicrosoftProfiles{Graph: outlook.NewProfiles(nil)},
		})
	}

	if cfg.Yahoo.OAuthEnabled {
		providers = append(providers, &Provider{
			Name: model.ProviderYahoo,
			Config: &oauth2.Config{
				ClientID:     cfg.Yahoo.ClientID,
				ClientSecret: cfg.Yahoo.ClientSecret,
				RedirectURL:  cfg.Yahoo.RedirectURL,
				Endpoint:     yahooEndpoint,
				Scopes:       []string{"openid", "email", "profile", "mail-w"},
			},
			Profiles: NewYahooProfiles(""),
		})
	}

	return NewRegistry(providers...)
}

// Lookup resolves a provider name as it appears in a route.
func (r *Registry) Lookup(name string) (*Provider, error) {
	p, ok := r.providers[model.Provider(strings.ToLower(name))]
	if !ok {
		return nil, &model.UnsupportedProviderError{Provider: name}
	}
	return p, nil
}

// Names lists the registered providers in a stable order.
func (r *Registry) Names() []model.Provider {
	names := make([]model.Provider, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
