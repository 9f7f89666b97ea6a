package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
)

const clientAssertionType = "urn:ietf:params:oauth:client-assertion-type:jwt-bearer"

// tokenEndpoint posts grant requests to the authorization server.
type tokenEndpoint struct {
	scheme   Scheme
	client   *http.Client
	resolver EndpointResolver
}

func (te *tokenEndpoint) url(ctx context.Context) (string, error) {
	ep, err := te.resolver.Endpoints(ctx)
	if err != nil {
		return "", &AuthError{Scheme: te.scheme, Err: err}
	}
	if ep.Token == "" {
		return "", &AuthError{Scheme: te.scheme, Err: errors.New("no token endpoint configured")}
	}
	return ep.Token, nil
}

// request performs one grant. When user is non-empty the client authenticates with HTTP basic.
func (te *tokenEndpoint) request(ctx context.Context, tokenURL string, form url.Values, user, pass string) (*AccessToken, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, &AuthError{Scheme: te.scheme, Err: fmt.Errorf("failed to build token request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	if user != "" {
		req.SetBasicAuth(user, pass)
	}

	resp, err := te.client.Do(req)
	if err != nil {
		return nil, &AuthError{Scheme: te.scheme, Err: fmt.Errorf("token request failed: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &AuthError{Scheme: te.scheme, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to read token response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &AuthError{Scheme: te.scheme, StatusCode: resp.StatusCode, Err: fmt.Errorf("token endpoint rejected request: %s", strings.TrimSpace(string(body)))}
	}

	tok := newAccessToken()
	if err := json.Unmarshal(body, tok); err != nil {
		return nil, &AuthError{Scheme: te.scheme, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to decode token response: %w", err)}
	}
	if tok.Value == "" {
		return nil, &AuthError{Scheme: te.scheme, StatusCode: resp.StatusCode, Err: errors.New("token response has no access_token")}
	}
	return tok, nil
}

// ClientCredentialsIssuer uses the client_credentials grant with HTTP basic client authentication.
type ClientCredentialsIssuer struct {
	endpoint     *tokenEndpoint
	clientID     string
	clientSecret string
	scope        string
}

// Issue requests a new token.
func (i *ClientCredentialsIssuer) Issue(ctx context.Context) (*AccessToken, error) {
	tokenURL, err := i.endpoint.url(ctx)
	if err != nil {
		return nil, err
	}

	form := url.Values{"grant_type": {"client_credentials"}}
	if i.scope != "" {
		form.Set("scope", i.scope)
	}
	return i.endpoint.request(ctx, tokenURL, form, i.clientID, i.clientSecret)
}

// JWTBearerIssuer uses the client_credentials grant authenticated by a signed client assertion.
type JWTBearerIssuer struct {
	endpoint *tokenEndpoint
	clientID string
	signer   *AssertionSigner
}

// Issue requests a new token.
func (i *JWTBearerIssuer) Issue(ctx context.Context) (*AccessToken, error) {
	tokenURL, err := i.endpoint.url(ctx)
	if err != nil {
		return nil, err
	}

	assertion, err := i.signer.Sign(i.clientID, tokenURL)
	if err != nil {
		return nil, &AuthError{Scheme: SchemeJWTBearer, Err: err}
	}

	form := url.Values{
		"grant_type":            {"client_credentials"},
		"client_assertion_type": {clientAssertionType},
		"client_assertion":      {assertion},
	}
	return i.endpoint.request(ctx, tokenURL, form, "", "")
}

// AuthorizationCodeIssuer exchanges a pre-obtained authorization code once and
// then renews with the refresh token the server returns.
type AuthorizationCodeIssuer struct {
	endpoint     *tokenEndpoint
	clientID     string
	clientSecret string
	redirectURI  string

	mu           sync.Mutex
	code         string
	refreshToken string
}

// Issue requests a new token.
func (i *AuthorizationCodeIssuer) Issue(ctx context.Context) (*AccessToken, error) {
	tokenURL, err := i.endpoint.url(ctx)
	if err != nil {
		return nil, err
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	var form url.Values
	switch {
	case i.refreshToken != "":
		form = url.Values{
			"grant_type":    {"refresh_token"},
			"refresh_token": {i.refreshToken},
		}
	case i.code != "":
		form = url.Values{
			"grant_type":   {"authorization_code"},
			"code":         {i.code},
			"redirect_uri": {i.redirectURI},
		}
		// codes are single use
		i.code = ""
	default:
		return nil, &AuthError{Scheme: SchemeAuthorizationCode, Err: errors.New("no authorization code or refresh token available")}
	}

	user := i.clientID
	if i.clientSecret == "" {
		// public clients identify themselves in the form instead
		form.Set("client_id", i.clientID)
		user = ""
	}

	tok, err := i.endpoint.request(ctx, tokenURL, form, user, i.clientSecret)
	if err != nil {
		return nil, err
	}
	if tok.RefreshToken != "" {
		i.refreshToken = tok.RefreshToken
	}
	return tok, nil
}
