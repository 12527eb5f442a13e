// stores.go
//
// Shared mock implementations of auth.Store, auth.SessionCache, and auth.RunReader.
// Imported by test files across packages to avoid duplicate mock definitions.
package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/MGallo-Code/gatekeeper/internal/store"
	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
)

// MockStore implements auth.Store and auth.RunReader for tests.

// Always stateful...Users, Sessions, and Runs are maps, like a real store.
// Use *Err fields to inject errors for specific operations.
// Use NewMockStore to seed users; or construct directly and set *Err fields for error-path tests.
type MockStore struct {
	// Error injection...zero value means no error
	FindUserErr      error
	UpsertUserErr    error
	GetUserByIDErr   error
	CreateSessionErr error
	GetSessionErr    error
	DeleteSessionErr error
	GetRunErr        error
	HealthErr        error

	Users    map[string]*store.User    // keyed by username
	Sessions map[string]*store.Session // keyed by string(tokenHash)
	Runs     map[string]*store.Run     // keyed by dagID + "/" + runID

	// Call counters for asserting no-write paths.
	UpsertCalls int

	mu sync.Mutex
}

// NewMockStore returns a MockStore seeded with the given users, indexed by username.
func NewMockStore(users ...*store.User) *MockStore {
	ms := &MockStore{
		Users:    make(map[string]*store.User),
		Sessions: make(map[string]*store.Session),
		Runs:     make(map[string]*store.Run),
	}
	for _, u := range users {
		ms.Users[u.Username] = u
	}
	return ms
}

func (m *MockStore) FindUserByUsername(_ context.Context, username string) (*store.User, error) {
	if m.FindUserErr != nil {
		return nil, m.FindUserErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.Users[username]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return u, nil
}

// UpsertUser mirrors the SQL: insert when absent, else keep the existing row,
// filling only a missing email.
func (m *MockStore) UpsertUser(_ context.Context, u store.User) (*store.User, error) {
	if m.UpsertUserErr != nil {
		return nil, m.UpsertUserErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.UpsertCalls++
	if m.Users == nil {
		m.Users = make(map[string]*store.User)
	}
	if existing, ok := m.Users[u.Username]; ok {
		if existing.Email == nil {
			existing.Email = u.Email
		}
		existing.UpdatedAt = time.Now()
		return existing, nil
	}
	now := time.Now()
	row := u
	row.CreatedAt, row.UpdatedAt = now, now
	m.Users[u.Username] = &row
	return &row, nil
}

func (m *MockStore) GetUserByID(_ context.Context, id uuid.UUID) (*store.User, error) {
	if m.GetUserByIDErr != nil {
		return nil, m.GetUserByIDErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.Users {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (m *MockStore) CreateSession(_ context.Context, id uuid.UUID, userID uuid.UUID, tokenHash []byte, csrfToken []byte, expiresAt time.Time, ip *string, userAgent *string) error {
	if m.CreateSessionErr != nil {
		return m.CreateSessionErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Sessions == nil {
		m.Sessions = make(map[string]*store.Session)
	}
	m.Sessions[string(tokenHash)] = &store.Session{
		ID:        id,
		UserID:    userID,
		TokenHash: tokenHash,
		CSRFToken: csrfToken,
		ExpiresAt: expiresAt,
		IPAddress: ip,
		UserAgent: userAgent,
	}
	return nil
}

func (m *MockStore) GetSessionByTokenHash(_ context.Context, tokenHash []byte) (*store.Session, error) {
	if m.GetSessionErr != nil {
		return nil, m.GetSessionErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.Sessions[string(tokenHash)]
	if !ok || time.Now().After(s.ExpiresAt) {
		return nil, pgx.ErrNoRows
	}
	return s, nil
}

func (m *MockStore) DeleteSession(_ context.Context, tokenHash []byte) error {
	if m.DeleteSessionErr != nil {
		return m.DeleteSessionErr
	}
	m.mu.Lock()
	delete(m.Sessions, string(tokenHash))
	m.mu.Unlock()
	return nil
}

func (m *MockStore) GetRun(_ context.Context, dagID, runID string) (*store.Run, error) {
	if m.GetRunErr != nil {
		return nil, m.GetRunErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.Runs[dagID+"/"+runID]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return run, nil
}

// DagExists reports whether any seeded run belongs to dagID. GetRunErr applies here too.
func (m *MockStore) DagExists(_ context.Context, dagID string) (bool, error) {
	if m.GetRunErr != nil {
		return false, m.GetRunErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, run := range m.Runs {
		if run.DagID == dagID {
			return true, nil
		}
	}
	return false, nil
}

func (m *MockStore) CheckHealth(_ context.Context) error {
	return m.HealthErr
}

// SessionCount returns the number of stored sessions.
func (m *MockStore) SessionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Sessions)
}

// UserCount returns the number of stored users.
func (m *MockStore) UserCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Users)
}

// MockCache implements auth.SessionCache for tests.
// Always stateful...Sessions is a map, like a real cache.
// Use *Err fields to inject errors for specific operations.
type MockCache struct {
	// Error injection...zero value means no error
	GetSessionErr    error
	SetSessionErr    error
	DeleteSessionErr error
	HealthErr        error

	Sessions map[string]*store.CachedSession // keyed by base64 token hash

	mu sync.Mutex
}

// NewMockCache returns an empty MockCache ready for use.
func NewMockCache() *MockCache {
	return &MockCache{
		Sessions: make(map[string]*store.CachedSession),
	}
}

func (m *MockCache) GetSession(_ context.Context, tokenHash string) (*store.CachedSession, error) {
	if m.GetSessionErr != nil {
		return nil, m.GetSessionErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.Sessions[tokenHash]
	if !ok {
		return nil, store.ErrCacheMiss
	}
	return s, nil
}

func (m *MockCache) SetSession(_ context.Context, tokenHash string, sessionData store.Session, ttl int) error {
	if m.SetSessionErr != nil {
		return m.SetSessionErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Sessions == nil {
		m.Sessions = make(map[string]*store.CachedSession)
	}
	m.Sessions[tokenHash] = &store.CachedSession{
		ID:        sessionData.ID,
		UserID:    sessionData.UserID,
		CSRFToken: sessionData.CSRFToken,
		ExpiresAt: sessionData.ExpiresAt,
	}
	return nil
}

func (m *MockCache) DeleteSession(_ context.Context, tokenHash string) error {
	if m.DeleteSessionErr != nil {
		return m.DeleteSessionErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.Sessions, tokenHash)
	return nil
}

func (m *MockCache) CheckHealth(_ context.Context) error {
	return m.HealthErr
}
