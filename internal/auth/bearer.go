// bearer.go -- Bearer token guard for API routes.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/MGallo-Code/gatekeeper/internal/verify"
)

// IdentityFromContext retrieves the identity attached by RequireBearer.
// Returns nil and false if RequireBearer hasn't run.
func IdentityFromContext(ctx context.Context) (*verify.Identity, bool) {
	id, ok := ctx.Value(identityKey).(*verify.Identity)
	return id, ok
}

// bearerCredential extracts the credential from an Authorization header.
// The value must be exactly two whitespace-separated fields, the first "bearer" in any case.
func bearerCredential(header string) (string, bool) {
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return parts[1], true
}

// RequireBearer verifies the request's bearer token with exactly one Verifier call.
// Every failure is a 401 with WWW-Authenticate: Negotiate; next is never reached.
// On success the verified identity is attached to the request context.
func (h *AuthHandler) RequireBearer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			bearerDecisions.WithLabelValues("malformed").Inc()
			logDebug(r, "bearer guard failed", "reason", "missing_authorization")
			Challenge(w)
			return
		}
		token, ok := bearerCredential(header)
		if !ok {
			bearerDecisions.WithLabelValues("malformed").Inc()
			logWarn(r, "bearer guard failed", "reason", "malformed_authorization")
			Challenge(w)
			return
		}

		identity, err := h.Verifier.Verify(r.Context(), token)
		if err != nil {
			var rej *verify.RejectedError
			switch {
			case errors.As(err, &rej):
				bearerDecisions.WithLabelValues("rejected").Inc()
				logWarn(r, "bearer guard failed", "reason", "rejected", "status", rej.Status)
			case errors.Is(err, verify.ErrUnreachable):
				bearerDecisions.WithLabelValues("unreachable").Inc()
				logError(r, "bearer guard failed", "reason", "provider_unreachable", "error", err)
			default:
				bearerDecisions.WithLabelValues("rejected").Inc()
				logError(r, "bearer guard failed", "reason", "verifier_error", "error", err)
			}
			Challenge(w)
			return
		}

		bearerDecisions.WithLabelValues("allowed").Inc()
		ctx := context.WithValue(r.Context(), identityKey, identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// WhoAmI handles GET /api/whoami -- echoes the verified bearer identity.
func (h *AuthHandler) WhoAmI(w http.ResponseWriter, r *http.Request) {
	identity, ok := IdentityFromContext(r.Context())
	if !ok {
		InternalServerError(w, r, errors.New("missing identity in context"))
		return
	}
	writeJSON(w, http.StatusOK, identity)
}
