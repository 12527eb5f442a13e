// reconcile.go -- maps a provider profile onto a local user and opens a session.
package auth

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/MGallo-Code/gatekeeper/internal/oauth"
	"github.com/MGallo-Code/gatekeeper/internal/store"
	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
)

// reconcile finds the local user whose username is profile.Name, creating it on first
// login, then issues a session for it. An existing user is never modified here, so
// is_superuser is never downgraded. A concurrent first login for the same username
// converges on whichever row the store kept.
func (h *AuthHandler) reconcile(w http.ResponseWriter, r *http.Request, profile *oauth.Profile) (*store.User, error) {
	user, err := h.PS.FindUserByUsername(r.Context(), profile.Name)
	switch {
	case err == nil:
	case errors.Is(err, pgx.ErrNoRows):
		user, err = h.createUser(r, profile)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("looking up user %q: %w", profile.Name, err)
	}

	if err := h.issueSession(w, r, user.ID); err != nil {
		return nil, err
	}
	return user, nil
}

// createUser upserts a non-superuser for profile and returns the stored row.
func (h *AuthHandler) createUser(r *http.Request, profile *oauth.Profile) (*store.User, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generating user id: %w", err)
	}
	user, err := h.PS.UpsertUser(r.Context(), store.User{
		ID:          id,
		Username:    profile.Name,
		Email:       strOrNil(profile.Email),
		IsSuperuser: false,
	})
	if err != nil {
		return nil, err
	}
	if user.ID == id {
		usersCreated.Inc()
		logInfo(r, "user created", "user_id", user.ID)
	} else {
		logInfo(r, "user created concurrently, reusing", "user_id", user.ID)
	}
	return user, nil
}

// strOrNil converts an empty string to nil; non-empty strings are returned as a pointer.
func strOrNil(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
