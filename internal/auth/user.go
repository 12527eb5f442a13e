// user.go -- session user adapter.
package auth

import (
	"context"

	"github.com/MGallo-Code/gatekeeper/internal/store"
)

// SessionUser adapts a local user to the capability set session consumers expect.
// The zero value is the anonymous user.
type SessionUser struct {
	User *store.User
}

// IsActive reports whether the user may hold a session. Every stored user is active.
func (u SessionUser) IsActive() bool { return u.User != nil }

func (u SessionUser) IsAuthenticated() bool { return u.User != nil }

func (u SessionUser) IsAnonymous() bool { return u.User == nil }

// GetID returns the user id as a string, or "" for the anonymous user.
func (u SessionUser) GetID() string {
	if u.User == nil {
		return ""
	}
	return u.User.ID.String()
}

// CurrentUser returns the user resolved by RequireSession, or the anonymous user.
func CurrentUser(ctx context.Context) SessionUser {
	u, _ := ctx.Value(userKey).(*store.User)
	return SessionUser{User: u}
}
