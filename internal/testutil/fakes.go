// fakes.go
//
// Fake identity-provider collaborators: a scripted token verifier and an
// in-process Auth0 tenant serving /authorize, /oauth/token, /userinfo, and /tokeninfo.
package testutil

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"

	"github.com/MGallo-Code/gatekeeper/internal/verify"
)

// MockVerifier implements verify.Verifier with a fixed token table.
// Unknown tokens are rejected with 401. Err, when set, is returned for every call.
type MockVerifier struct {
	Identities map[string]*verify.Identity
	Err        error

	calls atomic.Int32
}

func (m *MockVerifier) Verify(_ context.Context, token string) (*verify.Identity, error) {
	m.calls.Add(1)
	if m.Err != nil {
		return nil, m.Err
	}
	id, ok := m.Identities[token]
	if !ok {
		return nil, &verify.RejectedError{Status: http.StatusUnauthorized, Reason: "Unauthorized"}
	}
	return id, nil
}

// Calls returns how many times Verify ran.
func (m *MockVerifier) Calls() int { return int(m.calls.Load()) }

// FakeAuth0 is an httptest tenant. Codes map authorization codes to the
// profile /userinfo returns for the access token they are exchanged for.
type FakeAuth0 struct {
	*httptest.Server

	mu       sync.Mutex
	profiles map[string]map[string]any // access token -> userinfo body
	codes    map[string]string         // code -> access token

	// UserInfoStatus overrides the /userinfo status when non-zero.
	UserInfoStatus int
	// TokenInfo maps id_token values to tokeninfo payloads; unknown tokens get 401.
	TokenInfo map[string]map[string]any
}

// NewFakeAuth0 starts a fake tenant. Callers must Close it.
func NewFakeAuth0() *FakeAuth0 {
	f := &FakeAuth0{
		profiles:  make(map[string]map[string]any),
		codes:     make(map[string]string),
		TokenInfo: make(map[string]map[string]any),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /authorize", f.authorize)
	mux.HandleFunc("POST /oauth/token", f.token)
	mux.HandleFunc("GET /userinfo", f.userinfo)
	mux.HandleFunc("GET /tokeninfo", f.tokeninfo)
	f.Server = httptest.NewServer(mux)
	return f
}

// AddLogin registers an authorization code that resolves to the given profile.
func (f *FakeAuth0) AddLogin(code, name, email string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	accessToken := "at-" + code
	f.codes[code] = accessToken
	f.profiles[accessToken] = map[string]any{"name": name, "email": email, "sub": "auth0|" + name}
}

// authorize immediately "consents" and redirects back with the first registered code.
// Tests usually call the callback directly instead.
func (f *FakeAuth0) authorize(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f.mu.Lock()
	var code string
	for c := range f.codes {
		code = c
		break
	}
	f.mu.Unlock()
	target, err := url.Parse(q.Get("redirect_uri"))
	if err != nil || code == "" {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	back := url.Values{"code": {code}, "state": {q.Get("state")}}
	target.RawQuery = back.Encode()
	http.Redirect(w, r, target.String(), http.StatusFound)
}

func (f *FakeAuth0) token(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeFakeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid_request"})
		return
	}
	f.mu.Lock()
	accessToken, ok := f.codes[r.PostForm.Get("code")]
	f.mu.Unlock()
	if !ok || r.PostForm.Get("code_verifier") == "" {
		writeFakeJSON(w, http.StatusForbidden, map[string]any{
			"error":             "invalid_grant",
			"error_description": "Invalid authorization code",
		})
		return
	}
	writeFakeJSON(w, http.StatusOK, map[string]any{
		"access_token": accessToken,
		"token_type":   "Bearer",
		"expires_in":   3600,
	})
}

func (f *FakeAuth0) userinfo(w http.ResponseWriter, r *http.Request) {
	if f.UserInfoStatus != 0 {
		w.WriteHeader(f.UserInfoStatus)
		return
	}
	const prefix = "Bearer "
	auth := r.Header.Get("Authorization")
	if len(auth) <= len(prefix) {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	f.mu.Lock()
	profile, ok := f.profiles[auth[len(prefix):]]
	f.mu.Unlock()
	if !ok {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	writeFakeJSON(w, http.StatusOK, profile)
}

func (f *FakeAuth0) tokeninfo(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	payload, ok := f.TokenInfo[r.URL.Query().Get("id_token")]
	f.mu.Unlock()
	if !ok {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	writeFakeJSON(w, http.StatusOK, payload)
}

func writeFakeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
