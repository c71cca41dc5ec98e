package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
	"google.golang.org/api/option"

	"github.com/Martian-dev/mail-gateway/internal/auth"
	"github.com/Martian-dev/mail-gateway/internal/config"
	"github.com/Martian-dev/mail-gateway/internal/identity"
	"github.com/Martian-dev/mail-gateway/internal/logger"
	"github.com/Martian-dev/mail-gateway/internal/mail"
	"github.com/Martian-dev/mail-gateway/internal/model"
	"github.com/Martian-dev/mail-gateway/internal/store"
	"github.com/Martian-dev/mail-gateway/internal/waitlist"
)

// newTokenServer is a minimal OAuth token endpoint. Code "good" and
// refresh token "good-rt" succeed.
func newTokenServer(t *testing.T) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		ok := (r.Form.Get("grant_type") == "authorization_code" && r.Form.Get("code") == "good") ||
			(r.Form.Get("grant_type") == "refresh_token" && r.Form.Get("refresh_token") == "good-rt")

		w.Header().Set("Content-Type", "application/json")
		if !ok {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "provider-at",
			"refresh_token": "provider-rt",
			"token_type":    "Bearer",
			"expires_in":    3600,
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

type staticProfiles struct {
	profile identity.Profile
	err     error
}

func (s staticProfiles) FetchProfile(context.Context, *oauth2.Token) (identity.Profile, error) {
	return s.profile, s.err
}

type fixture struct {
	store      *store.Store
	controller *Controller
	registry   *Registry
}

func newFixture(t *testing.T, profiles ProfileFetcher, verify PasswordVerifier, extra ...*Provider) *fixture {
	t.Helper()
	srv := newTokenServer(t)

	s, err := store.Open(context.Background(), store.DriverModernc, filepath.Join(t.TempDir(), "oauth.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	tokens, err := auth.NewTokenService(s, "access", "refresh")
	require.NoError(t, err)

	registry := NewRegistry(append([]*Provider{{
		Name: model.ProviderGoogle,
		Config: &oauth2.Config{
			ClientID:     "client",
			ClientSecret: "secret",
			RedirectURL:  "http://localhost:8080/google/callback",
			Endpoint:     oauth2.Endpoint{AuthURL: srv.URL + "/auth", TokenURL: srv.URL + "/token", AuthStyle: oauth2.AuthStyleInParams},
			Scopes:       []string{"email"},
		},
		Options:  []oauth2.AuthCodeOption{oauth2.AccessTypeOffline},
		Profiles: profiles,
	}}, extra...)...)

	linker := identity.NewLinker(s, tokens, auth.NoopCipher{}, logger.Noop())
	return &fixture{
		store:      s,
		registry:   registry,
		controller: NewController(registry, waitlist.NewGate(s), linker, verify, logger.Noop()),
	}
}

func (f *fixture) approve(t *testing.T, email string, status model.WaitlistStatus) {
	require.NoError(t, f.store.UpsertWaitlistEntry(context.Background(), &model.WaitlistEntry{Email: email, Status: status}))
}

func adaProfile() staticProfiles {
	return staticProfiles{profile: identity.Profile{ID: "g-1", Emails: []string{"ada@x.com"}, DisplayName: "Ada"}}
}

func TestController_Begin(t *testing.T) {
	f := newFixture(t, adaProfile(), nil)

	raw, err := f.controller.Begin("google", "/inbox")
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, "client", q.Get("client_id"))
	assert.Equal(t, "offline", q.Get("access_type"))
	assert.Equal(t, "/inbox", DecodeState(q.Get("state")))

	_, err = f.controller.Begin("myspace", "/")
	var unsupported *model.UnsupportedProviderError
	assert.ErrorAs(t, err, &unsupported)
}

func TestController_CompleteLinksApprovedAccount(t *testing.T) {
	f := newFixture(t, adaProfile(), nil)
	f.approve(t, "ada@x.com", model.WaitlistApproved)

	res := f.controller.Complete(context.Background(), "google", Callback{Code: "good", State: EncodeState("/inbox")})
	require.Equal(t, Linked, res.Outcome, res.Err)
	assert.Equal(t, "/inbox", res.Redirect)
	require.NotNil(t, res.Link)
	assert.True(t, res.Link.Created)
	assert.NotEmpty(t, res.Link.Tokens.AccessToken)

	account, err := f.store.GetByEmail(context.Background(), "ada@x.com")
	require.NoError(t, err)
	cred := account.Credentials[model.ProviderGoogle]
	require.NotNil(t, cred)
	assert.Equal(t, "provider-at", cred.AccessToken)
	assert.Equal(t, "provider-rt", cred.RefreshToken)
}

func TestController_CompleteDenied(t *testing.T) {
	tests := []struct {
		name    string
		status  model.WaitlistStatus
		message string
	}{
		{name: "not on list", message: "not found in our waiting list"},
		{name: "pending", status: model.WaitlistPending, message: "has not been approved yet"},
		{name: "rejected", status: model.WaitlistRejected, message: "was not approved"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, adaProfile(), nil)
			if tt.status != "" {
				f.approve(t, "ada@x.com", tt.status)
			}

			res := f.controller.Complete(context.Background(), "google", Callback{Code: "good"})
			assert.Equal(t, Denied, res.Outcome)
			assert.Contains(t, res.Message, tt.message)
			assert.Equal(t, "/", res.Redirect)

			_, err := f.store.GetByEmail(context.Background(), "ada@x.com")
			assert.ErrorIs(t, err, model.ErrNotFound)
		})
	}
}

func TestController_CompleteFailures(t *testing.T) {
	tests := []struct {
		name     string
		profiles staticProfiles
		cb       Callback
		outcome  Outcome
		message  string
	}{
		{name: "provider denial", profiles: adaProfile(), cb: Callback{Error: "access_denied"}, outcome: Denied, message: msgProviderDenied},
		{name: "missing code", profiles: adaProfile(), cb: Callback{}, outcome: Failed, message: msgFailed},
		{name: "bad code", profiles: adaProfile(), cb: Callback{Code: "stolen"}, outcome: Failed, message: msgFailed},
		{name: "profile error", profiles: staticProfiles{err: errors.New("upstream 500: secret body")}, cb: Callback{Code: "good"}, outcome: Failed, message: msgFailed},
		{name: "no email", profiles: staticProfiles{profile: identity.Profile{ID: "g-1"}}, cb: Callback{Code: "good"}, outcome: Failed, message: msgNoEmail},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.profiles, nil)
			f.approve(t, "ada@x.com", model.WaitlistApproved)

			res := f.controller.Complete(context.Background(), "google", tt.cb)
			assert.Equal(t, tt.outcome, res.Outcome)
			assert.Equal(t, tt.message, res.Message)
			assert.Error(t, res.Err)
			assert.Nil(t, res.Link)
			assert.NotContains(t, res.Message, "secret body")
		})
	}
}

func TestController_CompleteInactiveAccount(t *testing.T) {
	f := newFixture(t, adaProfile(), nil)
	f.approve(t, "ada@x.com", model.WaitlistApproved)

	account := model.NewAccount("ada@x.com", "Ada", model.ProviderGoogle, time.Now())
	account.Status = model.StatusBlocked
	require.NoError(t, f.store.Create(context.Background(), account))

	res := f.controller.Complete(context.Background(), "google", Callback{Code: "good"})
	assert.Equal(t, Denied, res.Outcome)
	assert.Equal(t, msgAccountInactive, res.Message)
}

func TestController_PasswordLogin(t *testing.T) {
	verify := func(_ context.Context, creds mail.Credentials) error {
		if creds.AccessToken != "app-password" {
			return fmt.Errorf("authenticate: %w", model.ErrProviderUnauthorized)
		}
		return nil
	}

	t.Run("links approved mailbox", func(t *testing.T) {
		f := newFixture(t, adaProfile(), verify)
		f.approve(t, "ada@yahoo.com", model.WaitlistApproved)

		res, err := f.controller.PasswordLogin(context.Background(), "Ada@Yahoo.com", "app-password")
		require.NoError(t, err)
		assert.Equal(t, "ada@yahoo.com", res.Account.Email)
		cred := res.Account.Credentials[model.ProviderYahoo]
		require.NotNil(t, cred)
		assert.Equal(t, "app-password", cred.AccessToken)
		assert.Nil(t, cred.AccessTokenExpiresAt)
	})

	t.Run("yahoo oauth enabled", func(t *testing.T) {
		var got mail.Credentials
		capture := func(ctx context.Context, creds mail.Credentials) error {
			got = creds
			return verify(ctx, creds)
		}
		yahoo := &Provider{
			Name:   model.ProviderYahoo,
			Config: &oauth2.Config{ClientID: "y", ClientSecret: "ys", Endpoint: yahooEndpoint},
		}
		f := newFixture(t, adaProfile(), capture, yahoo)
		_, err := f.registry.Lookup("yahoo")
		require.NoError(t, err)
		f.approve(t, "ada@yahoo.com", model.WaitlistApproved)

		res, err := f.controller.PasswordLogin(context.Background(), "ada@yahoo.com", "app-password")
		require.NoError(t, err)
		assert.True(t, got.Password)
		assert.True(t, res.Account.Credentials[model.ProviderYahoo].IsPassword())
	})

	t.Run("wrong password", func(t *testing.T) {
		f := newFixture(t, adaProfile(), verify)
		f.approve(t, "ada@yahoo.com", model.WaitlistApproved)

		_, err := f.controller.PasswordLogin(context.Background(), "ada@yahoo.com", "nope")
		var authErr *model.AuthenticationError
		require.ErrorAs(t, err, &authErr)
		assert.ErrorIs(t, err, model.ErrInvalidCredentials)
	})

	t.Run("not approved", func(t *testing.T) {
		f := newFixture(t, adaProfile(), verify)

		_, err := f.controller.PasswordLogin(context.Background(), "ada@yahoo.com", "app-password")
		var denied *model.AuthorizationDenied
		assert.ErrorAs(t, err, &denied)
	})

	t.Run("invalid input", func(t *testing.T) {
		f := newFixture(t, adaProfile(), verify)

		_, err := f.controller.PasswordLogin(context.Background(), "not-an-email", "x")
		var verr *model.ValidationError
		assert.ErrorAs(t, err, &verr)

		_, err = f.controller.PasswordLogin(context.Background(), "ada@yahoo.com", "")
		assert.ErrorAs(t, err, &verr)
	})

	t.Run("no verifier", func(t *testing.T) {
		f := newFixture(t, adaProfile(), nil)

		_, err := f.controller.PasswordLogin(context.Background(), "ada@yahoo.com", "app-password")
		var unsupported *model.UnsupportedProviderError
		assert.ErrorAs(t, err, &unsupported)
	})
}

func TestRefresher(t *testing.T) {
	f := newFixture(t, adaProfile(), nil)
	r := NewRefresher(f.registry)
	ctx := context.Background()

	token, err := r.Refresh(ctx, model.ProviderGoogle, "good-rt")
	require.NoError(t, err)
	assert.Equal(t, "provider-at", token.AccessToken)

	_, err = r.Refresh(ctx, model.ProviderGoogle, "revoked")
	assert.True(t, model.IsProviderUnauthorized(err))

	_, err = r.Refresh(ctx, model.ProviderGoogle, "")
	assert.True(t, model.IsProviderUnauthorized(err))

	_, err = r.Refresh(ctx, model.ProviderYahoo, "good-rt")
	var unsupported *model.UnsupportedProviderError
	assert.ErrorAs(t, err, &unsupported)
}

func TestState(t *testing.T) {
	tests := []struct {
		name     string
		redirect string
		want     string
	}{
		{name: "path", redirect: "/inbox?tab=1", want: "/inbox?tab=1"},
		{name: "empty", redirect: "", want: "/"},
		{name: "absolute url", redirect: "https://evil.example/", want: "/"},
		{name: "protocol relative", redirect: "//evil.example", want: "/"},
		{name: "backslash", redirect: "/\\evil.example", want: "/"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DecodeState(EncodeState(tt.redirect)))
		})
	}

	assert.Equal(t, "/", DecodeState("!!not-base64"))
	assert.Equal(t, "/", DecodeState("bm90IGpzb24"))
	assert.Equal(t, "/", DecodeState(""))
}

func TestFromConfig(t *testing.T) {
	cfg := &config.Config{}
	cfg.Google.ClientID, cfg.Google.ClientSecret = "g", "gs"
	cfg.Microsoft.ClientID, cfg.Microsoft.ClientSecret, cfg.Microsoft.Tenant = "m", "ms", "common"

	r := FromConfig(cfg)
	assert.Equal(t, []model.Provider{model.ProviderGoogle, model.ProviderMicrosoft}, r.Names())

	ms, err := r.Lookup("Microsoft")
	require.NoError(t, err)
	assert.Contains(t, ms.Config.Endpoint.AuthURL, "/common/")
	assert.Contains(t, ms.Config.Scopes, "offline_access")

	_, err = r.Lookup("yahoo")
	assert.Error(t, err)

	cfg.Yahoo.OAuthEnabled = true
	cfg.Yahoo.ClientID, cfg.Yahoo.ClientSecret = "y", "ys"
	_, err = FromConfig(cfg).Lookup("yahoo")
	assert.NoError(t, err)
}

func TestGoogleProfiles(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer at", r.Header.Get("Authorization"))
		assert.Equal(t, "/oauth2/v2/userinfo", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"g-1","email":"ada@x.com","verified_email":true,"name":"Ada","picture":"https://p/ada.png"}`))
	}))
	defer srv.Close()

	g := &GoogleProfiles{Options: []option.ClientOption{option.WithEndpoint(srv.URL + "/")}}
	profile, err := g.FetchProfile(context.Background(), &oauth2.Token{AccessToken: "at"})
	require.NoError(t, err)
	assert.Equal(t, identity.Profile{ID: "g-1", Emails: []string{"ada@x.com"}, DisplayName: "Ada", PictureURL: "https://p/ada.png"}, profile)
}

func TestYahooProfiles(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer at" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"sub":"y-1","email":"ada@yahoo.com","email_verified":true,"name":"Ada"}`))
	}))
	defer srv.Close()

	y := NewYahooProfiles(srv.URL)
	profile, err := y.FetchProfile(context.Background(), &oauth2.Token{AccessToken: "at"})
	require.NoError(t, err)
	assert.Equal(t, []string{"ada@yahoo.com"}, profile.Emails)
	assert.Equal(t, "y-1", profile.ID)

	_, err = y.FetchProfile(context.Background(), &oauth2.Token{AccessToken: "bad"})
	assert.Error(t, err)
}
