// tokeninfo.go -- inline verification against the provider's tokeninfo endpoint.
package verify

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// TokenInfoVerifier GETs <base>/tokeninfo?id_token=<token>.
// Any non-2xx status is a rejection.
type TokenInfoVerifier struct {
	endpoint   string
	httpClient *http.Client
}

// NewTokenInfoVerifier returns a verifier for the provider at baseURL.
func NewTokenInfoVerifier(baseURL string, timeout time.Duration) *TokenInfoVerifier {
	return &TokenInfoVerifier{
		endpoint:   baseURL + "/tokeninfo",
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Verify issues exactly one GET to the tokeninfo endpoint.
func (v *TokenInfoVerifier) Verify(ctx context.Context, token string) (*Identity, error) {
	target := v.endpoint + "?" + url.Values{"id_token": {token}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("tokeninfo: building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return nil, transportError(v.endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		slog.Debug("tokeninfo rejected credential", "url", v.endpoint, "status", resp.StatusCode)
		return nil, &RejectedError{Status: resp.StatusCode, Reason: http.StatusText(resp.StatusCode)}
	}

	claims, err := decodeClaims(resp)
	if err != nil {
		return nil, err
	}
	return newIdentity(claims), nil
}
