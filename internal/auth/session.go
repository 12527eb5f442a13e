// session.go

// Session token generation, cookie management, and session lifecycle.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/MGallo-Code/gatekeeper/internal/store"
	"github.com/gofrs/uuid/v5"
)

const sessionCookieName = "__Host-session"

// GenerateToken returns 256-bit random session token and its SHA-256 hash.
// Token goes in the cookie; hash goes in storage.
func GenerateToken() (*[32]byte, *[32]byte, error) {
	var token [32]byte
	if _, err := rand.Read(token[:]); err != nil {
		return nil, nil, fmt.Errorf("generating token with rand: %w", err)
	}
	hash := sha256.Sum256(token[:])
	return &token, &hash, nil
}

// SetSessionCookie writes __Host-session cookie with HttpOnly, Secure, SameSite=Lax.
func SetSessionCookie(w http.ResponseWriter, rawToken [32]byte, expiresAt time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    base64.RawURLEncoding.EncodeToString(rawToken[:]),
		Path:     "/",
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(time.Until(expiresAt).Seconds()),
	})
}

// ClearSessionCookie overwrites __Host-session with MaxAge=-1 to trigger browser deletion.
func ClearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
}

// clientIP returns the bare remote address for the INET column, or nil if unparseable.
// RealIP middleware may already have stripped the port.
func clientIP(r *http.Request) *string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if net.ParseIP(host) == nil {
		return nil
	}
	return &host
}

// issueSession creates a session for userID in Postgres and Redis and sets the cookie.
// A Redis failure is logged and tolerated; Postgres is the source of truth.
func (h *AuthHandler) issueSession(w http.ResponseWriter, r *http.Request, userID uuid.UUID) error {
	sessionToken, tokenHash, err := GenerateToken()
	if err != nil {
		return err
	}
	csrfToken, err := GenerateCSRFToken()
	if err != nil {
		return err
	}
	sessionID, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("generating session id: %w", err)
	}

	expiresAt := time.Now().Add(h.Config.SessionTTL)
	userAgent := r.UserAgent()

	if err := h.PS.CreateSession(r.Context(), sessionID, userID, tokenHash[:], csrfToken[:], expiresAt, clientIP(r), &userAgent); err != nil {
		return fmt.Errorf("creating session: %w", err)
	}

	if err := h.RS.SetSession(r.Context(), base64.RawURLEncoding.EncodeToString(tokenHash[:]), store.Session{
		ID: sessionID, UserID: userID, TokenHash: tokenHash[:], CSRFToken: csrfToken[:], ExpiresAt: expiresAt,
	}, int(h.Config.SessionTTL.Seconds())); err != nil {
		logWarn(r, "failed to cache session in redis", "error", err)
	}

	SetSessionCookie(w, *sessionToken, expiresAt)
	return nil
}

// destroySession removes a session from Redis, then Postgres.
func (h *AuthHandler) destroySession(ctx context.Context, tokenHash []byte) error {
	if err := h.RS.DeleteSession(ctx, base64.RawURLEncoding.EncodeToString(tokenHash)); err != nil {
		// Stale cache entries would keep the session alive until TTL.
		return fmt.Errorf("deleting cached session: %w", err)
	}
	if err := h.PS.DeleteSession(ctx, tokenHash); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}
