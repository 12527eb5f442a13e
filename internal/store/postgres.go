// Package store handles all database and cache interactions.
//
// postgres.go -- pgxpool connection setup and queries.
// Creates a connection pool at startup, shared across all handlers.
// All queries use parameterized statements (no string concatenation).
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is the durable store for users, sessions, and dag runs.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates and returns a verified connection pool
// to PostgreSQL wrapped in a store.
// Call once at startup from main.go...the returned store is safe for concurrent use.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	// Create a pool w/ database url, return if err
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	// Ping db to make sure connection works
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool}, nil
}

// Close shuts down the connection pool and releases all resources.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// CheckHealth pings Postgres.
func (s *PostgresStore) CheckHealth(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

const userColumns = "id, username, email, is_superuser, created_at, updated_at"

// scanUser reads one users row in userColumns order.
func scanUser(row interface{ Scan(...any) error }) (*User, error) {
	var u User
	if err := row.Scan(&u.ID, &u.Username, &u.Email, &u.IsSuperuser, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}

// FindUserByUsername fetches a user by unique username.
// Returns pgx.ErrNoRows if no such user exists.
func (s *PostgresStore) FindUserByUsername(ctx context.Context, username string) (*User, error) {
	return scanUser(s.pool.QueryRow(ctx,
		"SELECT "+userColumns+" FROM users WHERE username = $1", username))
}

// GetUserByID fetches a user by primary key.
// Returns pgx.ErrNoRows if no such user exists.
func (s *PostgresStore) GetUserByID(ctx context.Context, id uuid.UUID) (*User, error) {
	return scanUser(s.pool.QueryRow(ctx,
		"SELECT "+userColumns+" FROM users WHERE id = $1", id))
}

// UpsertUser inserts u keyed by username, or returns the existing row when the
// username is already taken. On conflict only a missing email is filled in;
// is_superuser and id are never overwritten. The unique constraint serializes
// concurrent first logins for the same username into one row.
func (s *PostgresStore) UpsertUser(ctx context.Context, u User) (*User, error) {
	user, err := scanUser(s.pool.QueryRow(ctx, `
		INSERT INTO users (id, username, email, is_superuser)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (username) DO UPDATE
			SET email = COALESCE(users.email, EXCLUDED.email),
			    updated_at = now()
		RETURNING `+userColumns,
		u.ID, u.Username, u.Email, u.IsSuperuser))
	if err != nil {
		return nil, fmt.Errorf("upserting user %q: %w", u.Username, err)
	}
	return user, nil
}

// CreateSession inserts a new session row. ip must be a bare address (no port) or nil.
func (s *PostgresStore) CreateSession(ctx context.Context, id uuid.UUID, userID uuid.UUID, tokenHash []byte, csrfToken []byte, expiresAt time.Time, ip *string, userAgent *string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sessions (id, user_id, token_hash, csrf_token, expires_at, ip_address, user_agent)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		id, userID, tokenHash, csrfToken, expiresAt, ip, userAgent)
	return err
}

// GetSessionByTokenHash fetches a non-expired session by token hash.
// Returns pgx.ErrNoRows if not found or expired.
func (s *PostgresStore) GetSessionByTokenHash(ctx context.Context, tokenHash []byte) (*Session, error) {
	var sess Session
	err := s.pool.QueryRow(ctx, `
		SELECT id, user_id, token_hash, csrf_token, expires_at, ip_address::TEXT, user_agent, created_at
		FROM sessions
		WHERE token_hash = $1 AND expires_at > now()`,
		tokenHash,
	).Scan(&sess.ID, &sess.UserID, &sess.TokenHash, &sess.CSRFToken, &sess.ExpiresAt, &sess.IPAddress, &sess.UserAgent, &sess.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

// DeleteSession removes a single session row by token hash. Deleting a missing row is not an error.
func (s *PostgresStore) DeleteSession(ctx context.Context, tokenHash []byte) error {
	_, err := s.pool.Exec(ctx, "DELETE FROM sessions WHERE token_hash = $1", tokenHash)
	return err
}

// CleanupExpiredSessions deletes sessions that expired more than retention ago.
// Returns the number of rows deleted.
func (s *PostgresStore) CleanupExpiredSessions(ctx context.Context, retention time.Duration) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		"DELETE FROM sessions WHERE expires_at < $1", time.Now().Add(-retention))
	if err != nil {
		return 0, fmt.Errorf("cleaning up sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}

// DagExists reports whether dag_runs holds any row for dagID.
func (s *PostgresStore) DagExists(ctx context.Context, dagID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM dag_runs WHERE dag_id = $1)", dagID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking dag %q: %w", dagID, err)
	}
	return exists, nil
}

// GetRun fetches a single dag run by (dagID, runID).
// Returns pgx.ErrNoRows if the run does not exist.
func (s *PostgresStore) GetRun(ctx context.Context, dagID, runID string) (*Run, error) {
	var run Run
	err := s.pool.QueryRow(ctx, `
		SELECT id, dag_id, run_id, state, execution_date, start_date
		FROM dag_runs
		WHERE dag_id = $1 AND run_id = $2`,
		dagID, runID,
	).Scan(&run.ID, &run.DagID, &run.RunID, &run.State, &run.ExecutionDate, &run.StartDate)
	if err != nil {
		return nil, err
	}
	return &run, nil
}
