// Package verify checks bearer credentials against a remote identity provider.
//
// verify.go -- shared types, errors, and the strategy factory.
package verify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/MGallo-Code/gatekeeper/internal/config"
)

// ErrRejected is matched by every RejectedError.
var ErrRejected = errors.New("verify: credential rejected")

// ErrUnreachable reports a network, timeout, or cancellation failure talking to the provider.
var ErrUnreachable = errors.New("verify: provider unreachable")

// RejectedError is a non-success answer from the provider.
// Status is the HTTP status returned, or 401 for local rejections.
type RejectedError struct {
	Status int
	Reason string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("verify: credential rejected (%d %s)", e.Status, e.Reason)
}

// Unwrap lets errors.Is(err, ErrRejected) match.
func (e *RejectedError) Unwrap() error { return ErrRejected }

// Identity is the decoded payload of a verified credential.
// Claims are passed through exactly as the provider returned them.
type Identity struct {
	Subject string         `json:"sub"`
	Claims  map[string]any `json:"claims"`
}

// Verifier validates a single opaque credential.
// Implementations issue at most one outbound call per Verify and never retry.
type Verifier interface {
	Verify(ctx context.Context, token string) (*Identity, error)
}

// New returns the Verifier selected by cfg.TokenVerifier.
func New(ctx context.Context, cfg *config.Config) (Verifier, error) {
	switch cfg.TokenVerifier {
	case config.VerifierInline:
		return NewTokenInfoVerifier(cfg.Auth0BaseURL, cfg.VerifyTimeout), nil
	case config.VerifierDelegated:
		return NewAccessAPIVerifier(cfg.AccessAPIURL, cfg.VerifyTimeout), nil
	case config.VerifierJWKS:
		return NewRemoteIDTokenVerifier(ctx, cfg.Auth0BaseURL, cfg.Auth0ClientID, cfg.VerifyTimeout), nil
	default:
		return nil, fmt.Errorf("unknown token verifier %q", cfg.TokenVerifier)
	}
}

// newIdentity builds an Identity from raw claims.
// Subject prefers "sub", then "user_id".
func newIdentity(claims map[string]any) *Identity {
	id := &Identity{Claims: claims}
	for _, key := range []string{"sub", "user_id"} {
		if s, ok := claims[key].(string); ok && s != "" {
			id.Subject = s
			break
		}
	}
	return id
}

// transportError maps a failed round trip to ErrUnreachable, keeping the cause in the message.
func transportError(target string, err error) error {
	// url.Error carries the full URL, which may embed the credential as a query param.
	var uerr *url.Error
	if errors.As(err, &uerr) {
		err = uerr.Err
	}
	return fmt.Errorf("%w: %s: %v", ErrUnreachable, target, err)
}

// maxBodyLog bounds how much of a provider response body reaches debug logs.
const maxBodyLog = 512

// readSnippet reads at most maxBodyLog bytes of body for logging.
func readSnippet(body io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(body, maxBodyLog))
	return string(b)
}

// decodeClaims decodes a JSON object body into claims.
func decodeClaims(resp *http.Response) (map[string]any, error) {
	var claims map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&claims); err != nil {
		return nil, &RejectedError{Status: resp.StatusCode, Reason: "undecodable identity payload"}
	}
	if claims == nil {
		return nil, &RejectedError{Status: resp.StatusCode, Reason: "empty identity payload"}
	}
	return claims, nil
}
