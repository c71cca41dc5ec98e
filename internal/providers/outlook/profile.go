package outlook

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"

	msgraphsdk "github.com/microsoftgraph/msgraph-sdk-go"
	"github.com/microsoftgraph/msgraph-sdk-go/users"

	"github.com/Martian-dev/mail-gateway/internal/identity"
)

// ClientFunc builds a Graph client for an access token.
type ClientFunc func(accessToken string) (*msgraphsdk.GraphServiceClient, error)

func defaultClient(accessToken string) (*msgraphsdk.GraphServiceClient, error) {
	return NewGraphClient(accessToken, nil)
}

// Profiles reads the signed-in user's identity and photo from Graph.
type Profiles struct {
	client ClientFunc
}

func NewProfiles(client ClientFunc) *Profiles {
	if client == nil {
		client = defaultClient
	}
	return &Profiles{client: client}
}

// FetchProfile returns the /me profile.
func (p *Profiles) FetchProfile(ctx context.Context, accessToken string) (identity.Profile, error) {
	client, err := p.client(accessToken)
	if err != nil {
		return identity.Profile{}, err
	}

	me, err := client.Me().Get(ctx, &users.UserItemRequestBuilderGetRequestConfiguration{
		QueryParameters: &users.UserItemRequestBuilderGetQueryParameters{
			Select: []string{"id", "displayName", "mail", "userPrincipalName"},
		},
	})
	if err != nil {
		return identity.Profile{}, classify("fetch profile", err)
	}

	return identity.Profile{
		ID:            deref(me.GetId()),
		Mail:          deref(me.GetMail()),
		PrincipalName: deref(me.GetUserPrincipalName()),
		DisplayName:   deref(me.GetDisplayName()),
	}, nil
}

// FetchPicture returns the user's photo as a data URL. Graph serves photos
// only through the authenticated content endpoint.
func (p *Profiles) FetchPicture(ctx context.Context, _ identity.Profile, accessToken string) (string, error) {
	client, err := p.client(accessToken)
	if err != nil {
		return "", err
	}

	content, err := client.Me().Photo().Content().Get(ctx, nil)
	if err != nil {
		if statusCode(err) == http.StatusNotFound {
			return "", nil
		}
		return "", classify("fetch photo", err)
	}
	if len(content) == 0 {
		return "", nil
	}

	return fmt.Sprintf("data:%s;base64,%s", http.DetectContentType(content), base64.StdEncoding.EncodeToString(content)), nil
}
