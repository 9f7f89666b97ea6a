package auth

import (
	"strings"
	"sync"
	"time"
)

// now is swapped in tests.
var now = time.Now

// AccessToken is an OAuth2 token endpoint response.
// The expiry instant is fixed the first time it is checked and never moves.
type AccessToken struct {
	Value        string `json:"access_token"`
	Type         string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	Scope        string `json:"scope,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`

	issuedAt   time.Time
	expiryOnce sync.Once
	expiresAt  time.Time
}

func newAccessToken() *AccessToken {
	return &AccessToken{issuedAt: now()}
}

// IssuedAt returns when the token response was received.
func (t *AccessToken) IssuedAt() time.Time {
	return t.issuedAt
}

// ExpiresAt returns the expiry instant, fixing it on first use.
func (t *AccessToken) ExpiresAt() time.Time {
	t.expiryOnce.Do(func() {
		t.expiresAt = t.issuedAt.Add(time.Duration(t.ExpiresIn) * time.Second)
	})
	return t.expiresAt
}

// Expired reports whether the token can no longer be used.
func (t *AccessToken) Expired() bool {
	return !now().Before(t.ExpiresAt())
}

// HeaderValue returns the Authorization header value for the token.
func (t *AccessToken) HeaderValue() string {
	typ := t.Type
	if typ == "" || strings.EqualFold(typ, "bearer") {
		typ = "Bearer"
	}
	return typ + " " + t.Value
}
