package auth

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/icodeforyou/netztransparenz-go/types"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const DefaultTokenURL = "https://identity.netztransparenz.de/users/connect/token"

type AuthError struct {
	Err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("token acquisition failed: %v", e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// ClientCredentials fetches and caches an OAuth2 client-credentials token.
// Refreshes are serialised, concurrent callers see either the old or the new token.
type ClientCredentials struct {
	config *clientcredentials.Config
	client *http.Client

	once   sync.Once
	source oauth2.TokenSource
}

var _ types.TokenProvider = (*ClientCredentials)(nil)

func NewClientCredentials(clientID, clientSecret, tokenURL string, client *http.Client) *ClientCredentials {
	if tokenURL == "" {
		tokenURL = DefaultTokenURL
	}
	return &ClientCredentials{
		config: &clientcredentials.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			TokenURL:     tokenURL,
			AuthStyle:    oauth2.AuthStyleInParams,
		},
		client: client,
	}
}

func (c *ClientCredentials) Token(ctx context.Context) (string, error) {
	c.once.Do(func() {
		// The token source keeps this context for every refresh, so it must not
		// be the caller's request context.
		base := context.Background()
		if c.client != nil {
			base = context.WithValue(base, oauth2.HTTPClient, c.client)
		}
		c.source = oauth2.ReuseTokenSource(nil, c.config.TokenSource(base))
	})

	if err := ctx.Err(); err != nil {
		return "", &AuthError{Err: err}
	}
	tok, err := c.source.Token()
	if err != nil {
		return "", &AuthError{Err: err}
	}
	if tok.AccessToken == "" {
		return "", &AuthError{Err: fmt.Errorf("empty access token")}
	}
	return tok.AccessToken, nil
}

// Static hands out a fixed token.
type Static string

func (s Static) Token(context.Context) (string, error) {
	if s == "" {
		return "", &AuthError{Err: fmt.Errorf("no token configured")}
	}
	return string(s), nil
}
