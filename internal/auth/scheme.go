// Package auth authenticates outbound requests to the FHIR server and
// hashes inbound API keys.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Scheme selects how outbound requests are authenticated.
type Scheme string

const (
	SchemeNone              Scheme = "none"
	SchemeBasic             Scheme = "basic"
	SchemeClientCredentials Scheme = "client_credentials"
	SchemeJWTBearer         Scheme = "jwt_bearer"
	SchemeAuthorizationCode Scheme = "authorization_code"
)

// ParseScheme converts a case-insensitive name to a Scheme. Empty means none.
func ParseScheme(name string) (Scheme, error) {
	switch s := Scheme(strings.ToLower(strings.TrimSpace(name))); s {
	case "":
		return SchemeNone, nil
	case SchemeNone, SchemeBasic, SchemeClientCredentials, SchemeJWTBearer, SchemeAuthorizationCode:
		return s, nil
	}
	return "", fmt.Errorf("unknown auth scheme %q", name)
}

// DefaultScope is requested by the client_credentials grant when none is configured.
const DefaultScope = "patient/*.read"

// Config holds outbound authentication settings.
type Config struct {
	Scheme         Scheme
	ClientID       string
	ClientSecret   string
	Username       string
	Password       string
	Scope          string
	PrivateKeyFile string
	Code           string
	RedirectURI    string
}

// Authenticator adds credentials to an outbound request.
type Authenticator interface {
	Authorize(ctx context.Context, req *http.Request) error
}

// New builds the authenticator for cfg.Scheme. Token based schemes look up the
// token endpoint through resolver on first use.
func New(cfg Config, resolver EndpointResolver, client *http.Client) (Authenticator, error) {
	if client == nil {
		client = http.DefaultClient
	}
	te := &tokenEndpoint{scheme: cfg.Scheme, client: client, resolver: resolver}

	switch cfg.Scheme {
	case SchemeNone, "":
		return noAuth{}, nil

	case SchemeBasic:
		if cfg.Username == "" {
			return nil, errors.New("basic auth requires a username")
		}
		return basicAuth{username: cfg.Username, password: cfg.Password}, nil

	case SchemeClientCredentials:
		if cfg.ClientID == "" {
			return nil, errors.New("client_credentials requires a client id")
		}
		scope := cfg.Scope
		if scope == "" {
			scope = DefaultScope
		}
		return NewBearer(NewTokenCache(cfg.Scheme, &ClientCredentialsIssuer{
			endpoint:     te,
			clientID:     cfg.ClientID,
			clientSecret: cfg.ClientSecret,
			scope:        scope,
		})), nil

	case SchemeJWTBearer:
		if cfg.ClientID == "" {
			return nil, errors.New("jwt_bearer requires a client id")
		}
		signer, err := LoadAssertionSigner(cfg.PrivateKeyFile)
		if err != nil {
			return nil, err
		}
		return NewBearer(NewTokenCache(cfg.Scheme, &JWTBearerIssuer{
			endpoint: te,
			clientID: cfg.ClientID,
			signer:   signer,
		})), nil

	case SchemeAuthorizationCode:
		if cfg.ClientID == "" || cfg.Code == "" {
			return nil, errors.New("authorization_code requires a client id and an authorization code")
		}
		return NewBearer(NewTokenCache(cfg.Scheme, &AuthorizationCodeIssuer{
			endpoint:     te,
			clientID:     cfg.ClientID,
			clientSecret: cfg.ClientSecret,
			redirectURI:  cfg.RedirectURI,
			code:         cfg.Code,
		})), nil
	}

	return nil, fmt.Errorf("unknown auth scheme %q", cfg.Scheme)
}

type noAuth struct{}

func (noAuth) Authorize(context.Context, *http.Request) error { return nil }

type basicAuth struct {
	username, password string
}

func (b basicAuth) Authorize(_ context.Context, req *http.Request) error {
	req.SetBasicAuth(b.username, b.password)
	return nil
}

// Bearer sets the Authorization header from a shared token cache.
type Bearer struct {
	cache *TokenCache
}

// NewBearer creates an authenticator backed by cache.
func NewBearer(cache *TokenCache) *Bearer {
	return &Bearer{cache: cache}
}

// Authorize sets a bearer token on req.
func (b *Bearer) Authorize(ctx context.Context, req *http.Request) error {
	header, err := b.cache.BearerToken(ctx)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", header)
	return nil
}

// Invalidate forces the next request to use a fresh token.
func (b *Bearer) Invalidate() {
	b.cache.Invalidate()
}
