// idtoken.go -- local ID token verification against the tenant's JWKS.
package verify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
)

// IDTokenVerifier checks bearer credentials as signed Auth0 ID tokens.
// Keys are fetched from the JWKS endpoint and cached by go-oidc.
type IDTokenVerifier struct {
	verifier *oidc.IDTokenVerifier
}

// NewIDTokenVerifier verifies tokens issued by issuer for clientID using keys.
func NewIDTokenVerifier(issuer, clientID string, keys oidc.KeySet) *IDTokenVerifier {
	return &IDTokenVerifier{
		verifier: oidc.NewVerifier(issuer, keys, &oidc.Config{ClientID: clientID}),
	}
}

// NewRemoteIDTokenVerifier builds a verifier for the tenant at baseURL.
// The issuer is baseURL with a trailing slash, as Auth0 issues it.
func NewRemoteIDTokenVerifier(ctx context.Context, baseURL, clientID string, timeout time.Duration) *IDTokenVerifier {
	// go-oidc uses this client for background JWKS refreshes.
	keyCtx := oidc.ClientContext(context.WithoutCancel(ctx), &http.Client{Timeout: timeout})
	keys := oidc.NewRemoteKeySet(keyCtx, baseURL+"/.well-known/jwks.json")
	return NewIDTokenVerifier(baseURL+"/", clientID, keys)
}

// Verify checks signature, issuer, audience, and expiry.
func (v *IDTokenVerifier) Verify(ctx context.Context, token string) (*Identity, error) {
	idToken, err := v.verifier.Verify(ctx, token)
	if err != nil {
		if ctx.Err() != nil || isKeyFetchError(err) {
			return nil, fmt.Errorf("%w: jwks: %v", ErrUnreachable, err)
		}
		return nil, &RejectedError{Status: http.StatusUnauthorized, Reason: err.Error()}
	}

	var claims map[string]any
	if err := idToken.Claims(&claims); err != nil {
		return nil, &RejectedError{Status: http.StatusUnauthorized, Reason: "undecodable claims"}
	}
	return newIdentity(claims), nil
}

// isKeyFetchError reports whether go-oidc failed to reach the JWKS endpoint.
func isKeyFetchError(err error) bool {
	var netErr interface{ Timeout() bool }
	return errors.As(err, &netErr)
}
