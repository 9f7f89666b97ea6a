package auth

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// Issuer obtains a fresh access token.
type Issuer interface {
	Issue(ctx context.Context) (*AccessToken, error)
}

// TokenCache shares one access token between all callers and replaces it
// once it expires. Only one caller issues a replacement at a time; the others
// wait for it and reuse the result.
type TokenCache struct {
	issuer Issuer
	scheme Scheme

	mu      sync.Mutex
	current atomic.Pointer[AccessToken]
}

// NewTokenCache creates a cache backed by issuer.
func NewTokenCache(scheme Scheme, issuer Issuer) *TokenCache {
	return &TokenCache{issuer: issuer, scheme: scheme}
}

// Token returns a valid token, issuing a new one if the cached one is
// missing or expired. Issue failures are returned as *AuthError and are not
// retried; the expired token stays cached.
func (c *TokenCache) Token(ctx context.Context) (*AccessToken, error) {
	if tok := c.current.Load(); tok != nil && !tok.Expired() {
		return tok, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if tok := c.current.Load(); tok != nil && !tok.Expired() {
		return tok, nil
	}

	tok, err := c.issuer.Issue(ctx)
	if err != nil {
		var ae *AuthError
		if errors.As(err, &ae) {
			return nil, err
		}
		return nil, &AuthError{Scheme: c.scheme, Err: err}
	}

	c.current.Store(tok)
	return tok, nil
}

// BearerToken returns the Authorization header value for a valid token.
func (c *TokenCache) BearerToken(ctx context.Context) (string, error) {
	tok, err := c.Token(ctx)
	if err != nil {
		return "", err
	}
	return tok.HeaderValue(), nil
}

// Invalidate drops the cached token so the next call issues a new one.
func (c *TokenCache) Invalidate() {
	c.current.Store(nil)
}
