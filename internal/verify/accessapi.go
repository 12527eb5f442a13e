// accessapi.go -- delegated verification against the access-control service.
package verify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// AccessAPIVerifier POSTs {"tokenType":"BEARER","token":...} to <base>/tokens.
type AccessAPIVerifier struct {
	endpoint   string
	httpClient *http.Client
}

// NewAccessAPIVerifier returns a verifier for the access API at baseURL.
func NewAccessAPIVerifier(baseURL string, timeout time.Duration) *AccessAPIVerifier {
	return &AccessAPIVerifier{
		endpoint:   baseURL + "/tokens",
		httpClient: &http.Client{Timeout: timeout},
	}
}

type tokenRequest struct {
	TokenType string `json:"tokenType"`
	Token     string `json:"token"`
}

// Verify issues exactly one POST to the tokens endpoint.
// Non-2xx answers are logged at warn with url, status, and reason; the body
// only reaches debug logs, truncated, since it may carry identity data.
func (v *AccessAPIVerifier) Verify(ctx context.Context, token string) (*Identity, error) {
	payload, err := json.Marshal(tokenRequest{TokenType: "BEARER", Token: token})
	if err != nil {
		return nil, fmt.Errorf("access api: encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("access api: building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := v.httpClient.Do(req)
	if err != nil {
		slog.Warn("access api unreachable", "url", v.endpoint, "error", err)
		return nil, transportError(v.endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		reason := http.StatusText(resp.StatusCode)
		slog.Warn("access api rejected token", "url", v.endpoint, "status", resp.StatusCode, "reason", reason)
		slog.Debug("access api rejection body", "url", v.endpoint, "body", readSnippet(resp.Body))
		return nil, &RejectedError{Status: resp.StatusCode, Reason: reason}
	}

	claims, err := decodeClaims(resp)
	if err != nil {
		slog.Warn("access api returned undecodable payload", "url", v.endpoint, "status", resp.StatusCode)
		return nil, err
	}
	// Fail closed on an explicit negative answer.
	if valid, ok := claims["valid"].(bool); ok && !valid {
		slog.Warn("access api rejected token", "url", v.endpoint, "status", resp.StatusCode, "reason", "valid=false")
		return nil, &RejectedError{Status: http.StatusUnauthorized, Reason: "token not valid"}
	}
	return newIdentity(claims), nil
}
