// Package oauth is the Auth0 authorization-code client.
//
// auth0.go -- authorize redirect, code exchange, and profile fetch.
package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/MGallo-Code/gatekeeper/internal/config"
	"golang.org/x/oauth2"
)

// DefaultScopes are requested when AuthorizeURL is given none.
var DefaultScopes = []string{"openid", "profile", "email"}

// ErrProviderUnreachable reports a network, timeout, or cancellation failure.
var ErrProviderUnreachable = errors.New("oauth: provider unreachable")

// ErrNoAuthorization means the callback carried no authorization code.
var ErrNoAuthorization = errors.New("oauth: no authorization in callback")

// ErrIncompleteProfile means /userinfo answered without a usable name.
var ErrIncompleteProfile = errors.New("oauth: profile has no name")

// ExchangeError is a provider-side failure: an error redirect on the callback
// or an error answer from the token endpoint.
type ExchangeError struct {
	Status      int // HTTP status from the token endpoint; 0 for callback errors
	Code        string
	Description string
}

func (e *ExchangeError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("oauth: authorization denied: %s %s", e.Code, e.Description)
	}
	return fmt.Sprintf("oauth: token exchange failed (%d): %s %s", e.Status, e.Code, e.Description)
}

// ProfileError is a non-200 answer from /userinfo.
type ProfileError struct {
	Status int
}

func (e *ProfileError) Error() string {
	return fmt.Sprintf("oauth: profile fetch failed (%d)", e.Status)
}

// Profile is the subset of /userinfo used to reconcile a local user.
type Profile struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Client talks to the Auth0 tenant on behalf of the registered application.
// Safe for concurrent use.
type Client struct {
	config      oauth2.Config
	userInfoURL string
	httpClient  *http.Client
}

// NewClient builds a Client for the tenant at cfg.Auth0BaseURL.
// All outbound calls are bounded by cfg.OAuthTimeout.
func NewClient(cfg *config.Config) *Client {
	return &Client{
		config: oauth2.Config{
			ClientID:     cfg.Auth0ClientID,
			ClientSecret: cfg.Auth0ClientSecret,
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.Auth0BaseURL + "/authorize",
				TokenURL:  cfg.Auth0BaseURL + "/oauth/token",
				AuthStyle: oauth2.AuthStyleInParams,
			},
			Scopes: DefaultScopes,
		},
		userInfoURL: cfg.Auth0BaseURL + "/userinfo",
		httpClient:  &http.Client{Timeout: cfg.OAuthTimeout},
	}
}

// withCallback returns a copy of the base config bound to callbackURL.
func (c *Client) withCallback(callbackURL string, scopes []string) *oauth2.Config {
	cfg := c.config
	cfg.RedirectURL = callbackURL
	if len(scopes) > 0 {
		cfg.Scopes = scopes
	}
	return &cfg
}

// AuthorizeURL builds the provider consent URL. state is passed through unchanged;
// codeChallenge is the PKCE S256 challenge for the verifier later given to Exchange.
func (c *Client) AuthorizeURL(callbackURL string, scopes []string, state, codeChallenge string) string {
	return c.withCallback(callbackURL, scopes).AuthCodeURL(state,
		oauth2.SetAuthURLParam("code_challenge", codeChallenge),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	)
}

// AuthorizationCode extracts the code from callback query params.
// An error param becomes an ExchangeError; a missing code is ErrNoAuthorization.
func AuthorizationCode(q url.Values) (string, error) {
	if code := q.Get("error"); code != "" {
		return "", &ExchangeError{Code: code, Description: q.Get("error_description")}
	}
	code := q.Get("code")
	if code == "" {
		return "", ErrNoAuthorization
	}
	return code, nil
}

// Exchange trades an authorization code for tokens at /oauth/token.
// callbackURL must match the redirect_uri used for AuthorizeURL.
func (c *Client) Exchange(ctx context.Context, code, callbackURL, codeVerifier string) (*oauth2.Token, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	token, err := c.withCallback(callbackURL, nil).Exchange(ctx, code,
		oauth2.SetAuthURLParam("code_verifier", codeVerifier),
	)
	if err == nil {
		return token, nil
	}

	var rerr *oauth2.RetrieveError
	if errors.As(err, &rerr) {
		status := 0
		if rerr.Response != nil {
			status = rerr.Response.StatusCode
		}
		return nil, &ExchangeError{Status: status, Code: rerr.ErrorCode, Description: rerr.ErrorDescription}
	}
	var uerr *url.Error
	if errors.As(err, &uerr) || ctx.Err() != nil {
		return nil, fmt.Errorf("%w: token exchange: %v", ErrProviderUnreachable, err)
	}
	// 2xx without a usable token.
	return nil, &ExchangeError{Status: http.StatusOK, Code: "invalid_token_response", Description: err.Error()}
}

// FetchProfile GETs /userinfo with the access token as bearer credential.
func (c *Client) FetchProfile(ctx context.Context, token *oauth2.Token) (*Profile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.userInfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("oauth: building profile request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: profile fetch: %v", ErrProviderUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &ProfileError{Status: resp.StatusCode}
	}

	var p Profile
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return nil, fmt.Errorf("oauth: decoding profile: %w", err)
	}
	if p.Name == "" {
		return nil, ErrIncompleteProfile
	}
	return &p, nil
}
