package graph

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// tokenExpiryBuffer is the time before actual expiry when we consider a token expired.
// This prevents using a token that is about to expire during a request.
const tokenExpiryBuffer = 5 * time.Minute

// graphScope is the client-credentials scope for Microsoft Graph.
const graphScope = "https://graph.microsoft.com/.default"

// credentialsSource fetches a fresh token on every call.
type credentialsSource struct {
	ctx    context.Context
	config *clientcredentials.Config
}

func (s credentialsSource) Token() (*oauth2.Token, error) {
	return s.config.Token(s.ctx)
}

// tokenCache hands out cached client-credentials access tokens and
// refreshes them before they expire.
type tokenCache struct {
	mu     sync.Mutex
	fetch  credentialsSource
	source oauth2.TokenSource
}

// newTokenCache creates a token cache for the given OAuth2 client credentials.
func newTokenCache(tokenURL, clientID, clientSecret string, httpClient *http.Client) *tokenCache {
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, httpClient)
	tc := &tokenCache{
		fetch: credentialsSource{
			ctx: ctx,
			config: &clientcredentials.Config{
				ClientID:     clientID,
				ClientSecret: clientSecret,
				TokenURL:     tokenURL,
				Scopes:       []string{graphScope},
				AuthStyle:    oauth2.AuthStyleInParams,
			},
		},
	}
	tc.source = tc.newSource()
	return tc
}

func (tc *tokenCache) newSource() oauth2.TokenSource {
	return oauth2.ReuseTokenSourceWithExpiry(nil, tc.fetch, tokenExpiryBuffer)
}

// Token returns a valid access token, refreshing it if necessary.
// This method is safe for concurrent use.
func (tc *tokenCache) Token() (string, error) {
	tc.mu.Lock()
	src := tc.source
	tc.mu.Unlock()

	return accessToken(src)
}

// ForceRefresh discards the current token and acquires a new one.
// This is used when a 401 response indicates the token is invalid.
func (tc *tokenCache) ForceRefresh() (string, error) {
	tc.mu.Lock()
	tc.source = tc.newSource()
	src := tc.source
	tc.mu.Unlock()

	return accessToken(src)
}

func accessToken(src oauth2.TokenSource) (string, error) {
	tok, err := src.Token()
	if err != nil {
		return "", fmt.Errorf("token request failed: %w", err)
	}
	return tok.AccessToken, nil
}
