package notification

import (
	"context"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/greenfield-iot/agrialert/internal/conf"
)

// NewTokenSource picks the bearer token strategy from settings: the OAuth2
// client-credentials flow when configured, otherwise the static token.
// It returns nil when neither is set. client, when non-nil, is used for
// token requests.
func NewTokenSource(ctx context.Context, settings *conf.NotificationSettings, client *http.Client) oauth2.TokenSource {
	if settings.OAuth2.Enabled() {
		if client != nil {
			ctx = context.WithValue(ctx, oauth2.HTTPClient, client)
		}
		cc := &clientcredentials.Config{
			ClientID:     settings.OAuth2.ClientID,
			ClientSecret: settings.OAuth2.ClientSecret,
			TokenURL:     settings.OAuth2.TokenURL,
			Scopes:       settings.OAuth2.Scopes,
		}
		return cc.TokenSource(ctx)
	}
	if settings.Token != "" {
		return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: settings.Token, TokenType: "Bearer"})
	}
	return nil
}
