// handler.go -- AuthHandler, its collaborators, and the session-scoped endpoints.
package auth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/MGallo-Code/gatekeeper/internal/config"
	"github.com/MGallo-Code/gatekeeper/internal/oauth"
	"github.com/MGallo-Code/gatekeeper/internal/store"
	"github.com/MGallo-Code/gatekeeper/internal/verify"
	"github.com/go-chi/chi/v5"
	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
	"golang.org/x/oauth2"
)

// SessionCache defines session cache operations needed by auth handlers.
// Satisfied by *store.RedisStore -- defined here (at consumer) per Go convention.
type SessionCache interface {
	// GetSession retrieves cached session by token hash.
	// Returns store.ErrCacheMiss when absent.
	GetSession(ctx context.Context, tokenHash string) (*store.CachedSession, error)

	// SetSession caches session with given TTL in seconds.
	SetSession(ctx context.Context, tokenHash string, sessionData store.Session, ttl int) error

	// DeleteSession removes a cached session.
	DeleteSession(ctx context.Context, tokenHash string) error

	CheckHealth(ctx context.Context) error
}

// Store defines database operations needed by auth handlers.
// Satisfied by *store.PostgresStore -- defined here (at consumer) per Go convention.
type Store interface {
	// FindUserByUsername returns pgx.ErrNoRows when the username is unknown.
	FindUserByUsername(ctx context.Context, username string) (*store.User, error)

	// UpsertUser inserts u or returns the row already holding u.Username.
	UpsertUser(ctx context.Context, u store.User) (*store.User, error)

	// GetUserByID returns pgx.ErrNoRows when the id is unknown.
	GetUserByID(ctx context.Context, id uuid.UUID) (*store.User, error)

	// CreateSession inserts new session row with token hash and CSRF token.
	CreateSession(ctx context.Context, id uuid.UUID, userID uuid.UUID, tokenHash []byte, csrfToken []byte, expiresAt time.Time, ip *string, userAgent *string) error

	// GetSessionByTokenHash fetches valid (non-expired) session by token hash.
	// Returns pgx.ErrNoRows if not found or expired.
	GetSessionByTokenHash(ctx context.Context, tokenHash []byte) (*store.Session, error)

	// DeleteSession removes single session row by token hash.
	DeleteSession(ctx context.Context, tokenHash []byte) error

	CheckHealth(ctx context.Context) error
}

// RunReader is the read-only dag run lookup behind the runs API.
// Satisfied by *store.PostgresStore.
type RunReader interface {
	// GetRun returns pgx.ErrNoRows when the run does not exist.
	GetRun(ctx context.Context, dagID, runID string) (*store.Run, error)

	// DagExists reports whether any run is recorded for dagID.
	DagExists(ctx context.Context, dagID string) (bool, error)
}

// OAuthClient is the provider side of the login flow.
// Satisfied by *oauth.Client.
type OAuthClient interface {
	AuthorizeURL(callbackURL string, scopes []string, state, codeChallenge string) string
	Exchange(ctx context.Context, code, callbackURL, codeVerifier string) (*oauth2.Token, error)
	FetchProfile(ctx context.Context, token *oauth2.Token) (*oauth.Profile, error)
}

// AuthHandler holds dependencies for the login flow, bearer guard, and session middleware.
type AuthHandler struct {
	PS       Store
	RS       SessionCache
	Verifier verify.Verifier
	OAuth    OAuthClient
	Runs     RunReader
	Config   *config.Config
}

// userResponse is the JSON shape of a local user.
type userResponse struct {
	ID          string  `json:"id"`
	Username    string  `json:"username"`
	Email       *string `json:"email"`
	IsSuperuser bool    `json:"is_superuser"`
}

func newUserResponse(u *store.User) userResponse {
	return userResponse{ID: u.ID.String(), Username: u.Username, Email: u.Email, IsSuperuser: u.IsSuperuser}
}

// writeJSON writes v with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// Me handles GET /me -- returns the session user and the CSRF token for state-changing calls.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	user := CurrentUser(r.Context())
	if !user.IsAuthenticated() {
		logError(r, "me called without session user in context")
		InternalServerError(w, r, errors.New("missing session context"))
		return
	}
	csrfToken, _ := CSRFTokenFromContext(r.Context())

	writeJSON(w, http.StatusOK, struct {
		User      userResponse `json:"user"`
		CSRFToken string       `json:"csrf_token"`
	}{newUserResponse(user.User), base64.RawURLEncoding.EncodeToString(csrfToken)})
}

// GetUser handles GET /admin/users/{username} -- superuser lookup of a local user.
func (h *AuthHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	user, err := h.PS.FindUserByUsername(r.Context(), username)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			NotFound(w, "not found")
			return
		}
		InternalServerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newUserResponse(user))
}

// NoAccess handles GET <NO_ACCESS_PATH>, the landing page of a denied login.
func (h *AuthHandler) NoAccess(w http.ResponseWriter, r *http.Request) {
	Forbidden(w)
}

// Logout handles POST /logout -- destroys the current session in Postgres and Redis.
// Requires RequireSession and CSRFMiddleware upstream.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	user := CurrentUser(r.Context())
	tokenHash, ok := TokenHashFromContext(r.Context())
	if !ok {
		logError(r, "logout called without session in context")
		InternalServerError(w, r, errors.New("missing session context"))
		return
	}

	if err := h.destroySession(r.Context(), tokenHash); err != nil {
		InternalServerError(w, r, err)
		return
	}

	ClearSessionCookie(w)
	logInfo(r, "user logged out", "user_id", user.GetID())
	OK(w, "logged out")
}
