// models.go -- Shared domain types for the store package.
// Used by both Postgres (durable store) and Redis (cache layer).
package store

import (
	"errors"
	"time"

	"github.com/gofrs/uuid/v5"
)

// ErrCacheMiss is returned by GetSession when the key is not in Redis.
// Callers use errors.Is to distinguish a true miss from a Redis infrastructure failure.
var ErrCacheMiss = errors.New("cache miss")

// User represents a row in the users table.
// Username is unique and comes from the identity provider profile name.
// Email is nil when the provider did not return one.
type User struct {
	ID          uuid.UUID
	Username    string
	Email       *string
	IsSuperuser bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Session represents a row in the sessions table.
// Nullable columns are pointers -- nil means SQL NULL.
type Session struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	TokenHash []byte
	CSRFToken []byte
	ExpiresAt time.Time
	IPAddress *string
	UserAgent *string
	CreatedAt time.Time
}

// CachedSession is the JSON shape stored in Redis for cached sessions.
// Only the fields needed for fast session validation -- full metadata lives in Postgres.
type CachedSession struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	CSRFToken []byte    `json:"csrf_token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Run represents a row in the dag_runs table. Read-only from this service.
type Run struct {
	ID            int64
	DagID         string
	RunID         string
	State         string
	ExecutionDate time.Time
	StartDate     *time.Time
}
