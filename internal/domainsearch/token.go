package domainsearch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/sync/singleflight"
)

const (
	// tokenExpiryMargin is subtracted from the provider's stated expiry.
	tokenExpiryMargin    = 5 * time.Minute
	defaultTokenLifetime = time.Hour
	tokenRefreshTimeout  = 15 * time.Second
)

// Token is a bearer token with the expiry the cache will honour.
type Token struct {
	AccessToken string
	ExpiresAt   time.Time
}

// TokenCache fetches client-credentials tokens and reuses them until shortly
// before they expire. Concurrent refreshes share one round trip.
type TokenCache struct {
	cfg        *clientcredentials.Config
	httpClient *http.Client
	now        func() time.Time

	mu      sync.Mutex
	current Token
	group   singleflight.Group
}

// NewTokenCache builds a cache for the given OAuth client credentials.
func NewTokenCache(tokenURL, clientID, clientSecret string, httpClient *http.Client) *TokenCache {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &TokenCache{
		cfg: &clientcredentials.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			TokenURL:     tokenURL,
			AuthStyle:    oauth2.AuthStyleInParams,
		},
		httpClient: httpClient,
		now:        time.Now,
	}
}

// Token returns the cached token while it is valid, otherwise fetches a new one.
func (c *TokenCache) Token(ctx context.Context) (Token, error) {
	if c.cfg.ClientID == "" || c.cfg.ClientSecret == "" {
		return Token{}, &AuthError{Message: "client id and secret must be configured"}
	}

	c.mu.Lock()
	cached := c.current
	c.mu.Unlock()
	if cached.AccessToken != "" && c.now().Before(cached.ExpiresAt) {
		return cached, nil
	}

	// The shared refresh is detached from any one caller's cancellation.
	ch := c.group.DoChan("token", func() (any, error) {
		refreshCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), tokenRefreshTimeout)
		defer cancel()
		return c.refresh(refreshCtx)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return Token{}, res.Err
		}
		return res.Val.(Token), nil
	case <-ctx.Done():
		return Token{}, ctx.Err()
	}
}

// Invalidate drops the cached token, forcing the next call to authenticate.
func (c *TokenCache) Invalidate() {
	c.mu.Lock()
	c.current = Token{}
	c.mu.Unlock()
}

func (c *TokenCache) refresh(ctx context.Context) (Token, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	tok, err := c.cfg.Token(ctx)
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) {
			status := 0
			if retrieveErr.Response != nil {
				status = retrieveErr.Response.StatusCode
			}
			return Token{}, &AuthError{StatusCode: status, Message: string(retrieveErr.Body)}
		}
		return Token{}, fmt.Errorf("fetch access token: %w", err)
	}
	if tok.AccessToken == "" {
		return Token{}, &AuthError{Message: "token endpoint returned an empty access token"}
	}

	expiry := tok.Expiry
	if expiry.IsZero() {
		expiry = c.now().Add(defaultTokenLifetime)
	}
	fresh := Token{AccessToken: tok.AccessToken, ExpiresAt: expiry.Add(-tokenExpiryMargin)}

	c.mu.Lock()
	c.current = fresh
	c.mu.Unlock()

	log.Printf("domainsearch: access token acquired expires_at=%s", fresh.ExpiresAt.Format(time.RFC3339))
	return fresh, nil
}
