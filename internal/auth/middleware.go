// middleware.go

// Session authentication and authorization middleware.
package auth

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"net/http"
	"time"

	"github.com/MGallo-Code/gatekeeper/internal/store"
	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
)

// contextKey is unexported to prevent collisions with other packages using the same context.
type contextKey string

const (
	userKey      contextKey = "user"
	identityKey  contextKey = "identity"
	tokenHashKey contextKey = "token_hash"
	csrfTokenKey contextKey = "csrf_token"
)

// TokenHashFromContext retrieves session token hash from context.
// Returns nil and false if RequireSession hasn't run.
func TokenHashFromContext(ctx context.Context) ([]byte, bool) {
	hash, ok := ctx.Value(tokenHashKey).([]byte)
	return hash, ok
}

// CSRFTokenFromContext retrieves session CSRF token from context.
// Returns nil and false if RequireSession hasn't run.
func CSRFTokenFromContext(ctx context.Context) ([]byte, bool) {
	token, ok := ctx.Value(csrfTokenKey).([]byte)
	return token, ok
}

// sessionRef is what a session cookie resolves to.
type sessionRef struct {
	userID    uuid.UUID
	csrfToken []byte
}

// lookupSession resolves a token hash, checking Redis then Postgres as fallback.
// A Postgres hit repopulates the cache.
func (h *AuthHandler) lookupSession(r *http.Request, tokenHash []byte) (*sessionRef, error) {
	redisKey := base64.RawURLEncoding.EncodeToString(tokenHash)

	sess, err := h.RS.GetSession(r.Context(), redisKey)
	if err == nil {
		return &sessionRef{userID: sess.UserID, csrfToken: sess.CSRFToken}, nil
	}
	if !errors.Is(err, store.ErrCacheMiss) {
		logError(r, "redis session lookup failed, falling back to postgres", "error", err)
	}

	pgSess, err := h.PS.GetSessionByTokenHash(r.Context(), tokenHash)
	if err != nil {
		return nil, err
	}
	// Redis SET with TTL=0 means no expiry, so skip sessions about to lapse.
	if ttl := int(time.Until(pgSess.ExpiresAt).Seconds()); ttl > 0 {
		if err := h.RS.SetSession(r.Context(), redisKey, *pgSess, ttl); err != nil {
			logWarn(r, "failed to repopulate session cache", "error", err)
		}
	}
	return &sessionRef{userID: pgSess.UserID, csrfToken: pgSess.CSRFToken}, nil
}

// RequireSession validates the __Host-session cookie and loads the local user.
// Injects the user, token hash, and CSRF token into context; returns 401 on failure.
func (h *AuthHandler) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sessCookie, err := r.Cookie(sessionCookieName)
		if err != nil || sessCookie.Value == "" {
			logWarn(r, "require session failed", "reason", "missing_session_cookie")
			Unauthorized(w, r, "unauthorized")
			return
		}
		decoded, err := base64.RawURLEncoding.DecodeString(sessCookie.Value)
		if err != nil {
			logWarn(r, "require session failed", "reason", "invalid_cookie_encoding")
			Unauthorized(w, r, "unauthorized")
			return
		}
		tokenHash := sha256.Sum256(decoded)

		ref, err := h.lookupSession(r, tokenHash[:])
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				logWarn(r, "require session failed", "reason", "session_not_found")
			} else {
				logError(r, "require session failed fetching session from db", "error", err)
			}
			Unauthorized(w, r, "unauthorized")
			return
		}

		user, err := h.PS.GetUserByID(r.Context(), ref.userID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				logWarn(r, "require session failed", "reason", "user_not_found", "user_id", ref.userID)
			} else {
				logError(r, "require session failed fetching user", "error", err)
			}
			Unauthorized(w, r, "unauthorized")
			return
		}

		ctx := context.WithValue(r.Context(), userKey, user)
		ctx = context.WithValue(ctx, tokenHashKey, tokenHash[:])
		ctx = context.WithValue(ctx, csrfTokenKey, ref.csrfToken)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireSuperuser rejects authenticated non-superusers with 403.
// Must run after RequireSession.
func (h *AuthHandler) RequireSuperuser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := CurrentUser(r.Context())
		if !user.IsAuthenticated() {
			Unauthorized(w, r, "unauthorized")
			return
		}
		if !user.User.IsSuperuser {
			logWarn(r, "superuser required", "user_id", user.GetID())
			Forbidden(w)
			return
		}
		next.ServeHTTP(w, r)
	})
}
