// main_test.go
//
// Level 3 smoke tests
// chi wiring via httptest.NewServer with in-memory mock stores and a fake Auth0 tenant.
// Catches middleware ordering, route grouping, and real HTTP cookie/header behavior
// that httptest.NewRecorder cannot exercise.

package main

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/MGallo-Code/gatekeeper/internal/auth"
	"github.com/MGallo-Code/gatekeeper/internal/config"
	"github.com/MGallo-Code/gatekeeper/internal/oauth"
	"github.com/MGallo-Code/gatekeeper/internal/store"
	"github.com/MGallo-Code/gatekeeper/internal/testutil"
	"github.com/MGallo-Code/gatekeeper/internal/verify"
)

// --- Helpers ---

// smokeEnv is one wired router plus the collaborators tests poke at.
type smokeEnv struct {
	srv   *httptest.Server
	ps    *testutil.MockStore
	auth0 *testutil.FakeAuth0
}

// noRedirect stops the client at every 302 so tests can inspect Location and cookies.
var noRedirect = &http.Client{
	CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
}

// newSmokeEnv wires buildRouter to mock stores, the real oauth.Client, and the
// inline tokeninfo verifier, both pointed at a fake tenant.
func newSmokeEnv(t *testing.T) *smokeEnv {
	t.Helper()
	fake := testutil.NewFakeAuth0()
	t.Cleanup(fake.Close)

	cfg := &config.Config{
		Auth0BaseURL:        fake.URL,
		Auth0ClientID:       "client-id",
		Auth0ClientSecret:   "client-secret",
		Auth0CallbackRoute:  "/oauth/callback",
		Auth0CallbackScheme: "http",
		TokenVerifier:       config.VerifierInline,
		VerifyTimeout:       5 * time.Second,
		OAuthTimeout:        5 * time.Second,
		HomePath:            "/",
		NoAccessPath:        "/noaccess",
		SessionTTL:          time.Hour,
	}
	ps := testutil.NewMockStore()
	h := &auth.AuthHandler{
		PS:       ps,
		RS:       testutil.NewMockCache(),
		Verifier: verify.NewTokenInfoVerifier(fake.URL, cfg.VerifyTimeout),
		OAuth:    oauth.NewClient(cfg),
		Runs:     ps,
		Config:   cfg,
	}
	srv := httptest.NewServer(buildRouter(h))
	t.Cleanup(srv.Close)
	return &smokeEnv{srv: srv, ps: ps, auth0: fake}
}

// get issues a GET with optional cookies without following redirects.
// Cookies are set by header since __Host- cookies are Secure and the test server is plain http.
func get(t *testing.T, target string, cookies ...*http.Cookie) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, target, nil)
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	for _, c := range cookies {
		req.Header.Add("Cookie", c.Name+"="+c.Value)
	}
	resp, err := noRedirect.Do(req)
	if err != nil {
		t.Fatalf("GET %s: %v", target, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func findCookie(resp *http.Response, name string) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// doSmokeLogin drives /login -> fake /authorize -> callback and returns the callback response.
func (e *smokeEnv) doSmokeLogin(t *testing.T, next string) *http.Response {
	t.Helper()
	login := get(t, e.srv.URL+"/login?next="+url.QueryEscape(next))
	if login.StatusCode != http.StatusFound {
		t.Fatalf("login: expected 302, got %d", login.StatusCode)
	}
	stateCookie := findCookie(login, "__Host-oauth-state")
	if stateCookie == nil {
		t.Fatal("__Host-oauth-state cookie not set")
	}

	consent := get(t, login.Header.Get("Location"))
	if consent.StatusCode != http.StatusFound {
		t.Fatalf("authorize: expected 302, got %d", consent.StatusCode)
	}
	return get(t, consent.Header.Get("Location"), stateCookie)
}

// loginSession logs alice in and returns her session cookie and CSRF token.
func (e *smokeEnv) loginSession(t *testing.T) (*http.Cookie, string) {
	t.Helper()
	e.auth0.AddLogin("code-alice", "alice", "alice@example.com")
	cb := e.doSmokeLogin(t, "/")
	session := findCookie(cb, "__Host-session")
	if session == nil || session.Value == "" {
		t.Fatalf("no session cookie from callback (status %d, location %q)", cb.StatusCode, cb.Header.Get("Location"))
	}

	me := get(t, e.srv.URL+"/me", session)
	if me.StatusCode != http.StatusOK {
		t.Fatalf("/me: expected 200, got %d", me.StatusCode)
	}
	var body struct {
		CSRFToken string `json:"csrf_token"`
	}
	if err := json.NewDecoder(me.Body).Decode(&body); err != nil {
		t.Fatalf("decoding /me: %v", err)
	}
	return session, body.CSRFToken
}

// postLogout sends POST /logout with the session cookie and optional CSRF header.
func (e *smokeEnv) postLogout(t *testing.T, session *http.Cookie, csrf string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, e.srv.URL+"/logout", nil)
	if err != nil {
		t.Fatalf("building logout request: %v", err)
	}
	req.Header.Set("Cookie", session.Name+"="+session.Value)
	if csrf != "" {
		req.Header.Set("X-CSRF-Token", csrf)
	}
	resp, err := noRedirect.Do(req)
	if err != nil {
		t.Fatalf("POST /logout: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

// getBearer issues a GET with an Authorization header.
func getBearer(t *testing.T, target, authorization string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, target, nil)
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET %s: %v", target, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

// --- Smoke tests ---

// TestSmoke_Health verifies /health is mounted and reports both dependencies.
func TestSmoke_Health(t *testing.T) {
	e := newSmokeEnv(t)
	resp := get(t, e.srv.URL+"/health")

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status: expected 200, got %d", resp.StatusCode)
	}
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if body["postgres"] != "ok" || body["redis"] != "ok" {
		t.Errorf("body: expected both ok, got %v", body)
	}
}

// TestSmoke_Bearer verifies RequireBearer guards the /api group.
func TestSmoke_Bearer(t *testing.T) {
	e := newSmokeEnv(t)
	e.auth0.TokenInfo["abc123"] = map[string]any{"user_id": "auth0|alice", "email": "alice@example.com"}

	t.Run("valid token reaches whoami", func(t *testing.T) {
		resp := getBearer(t, e.srv.URL+"/api/whoami", "Bearer abc123")
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status: expected 200, got %d", resp.StatusCode)
		}
		var body struct {
			Subject string `json:"sub"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			t.Fatalf("decoding response: %v", err)
		}
		if body.Subject != "auth0|alice" {
			t.Errorf("sub: expected auth0|alice, got %q", body.Subject)
		}
	})

	for name, header := range map[string]string{
		"missing header": "",
		"wrong scheme":   "Basic abc123",
		"unknown token":  "Bearer expired",
	} {
		t.Run(name+" gets challenge", func(t *testing.T) {
			resp := getBearer(t, e.srv.URL+"/api/whoami", header)
			if resp.StatusCode != http.StatusUnauthorized {
				t.Errorf("status: expected 401, got %d", resp.StatusCode)
			}
			if got := resp.Header.Get("WWW-Authenticate"); got != "Negotiate" {
				t.Errorf("WWW-Authenticate: expected Negotiate, got %q", got)
			}
		})
	}

	t.Run("dag run lookup behind bearer", func(t *testing.T) {
		e.ps.Runs["etl/manual__1"] = &store.Run{
			ID: 7, DagID: "etl", RunID: "manual__1", State: "success",
			ExecutionDate: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		}
		resp := getBearer(t, e.srv.URL+"/api/dags/etl/runs/manual__1", "Bearer abc123")
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status: expected 200, got %d", resp.StatusCode)
		}
		var body struct {
			State     string `json:"state"`
			DagRunURL string `json:"dag_run_url"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			t.Fatalf("decoding response: %v", err)
		}
		if body.State != "success" {
			t.Errorf("state: expected success, got %q", body.State)
		}
		if !strings.HasPrefix(body.DagRunURL, "/graph?") {
			t.Errorf("dag_run_url: expected /graph link, got %q", body.DagRunURL)
		}
	})
}

// TestSmoke_LoginRoundTrip verifies /login -> /authorize -> callback lands on next with a session.
func TestSmoke_LoginRoundTrip(t *testing.T) {
	e := newSmokeEnv(t)
	e.auth0.AddLogin("code-1", "alice", "alice@example.com")

	cb := e.doSmokeLogin(t, "/dashboard")

	if cb.StatusCode != http.StatusFound {
		t.Fatalf("callback: expected 302, got %d", cb.StatusCode)
	}
	if loc := cb.Header.Get("Location"); loc != "/dashboard" {
		t.Errorf("Location: expected /dashboard, got %q", loc)
	}
	if c := findCookie(cb, "__Host-session"); c == nil || c.Value == "" {
		t.Error("__Host-session cookie not set")
	}
	if e.ps.UserCount() != 1 {
		t.Errorf("users: expected 1, got %d", e.ps.UserCount())
	}
}

// TestSmoke_AccessLogOmitsQuery verifies the access log never records the callback's code or state.
func TestSmoke_AccessLogOmitsQuery(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	e := newSmokeEnv(t)
	e.auth0.AddLogin("code-secret", "alice", "alice@example.com")
	if cb := e.doSmokeLogin(t, "/dashboard"); cb.StatusCode != http.StatusFound {
		t.Fatalf("callback: expected 302, got %d", cb.StatusCode)
	}

	out := buf.String()
	if !strings.Contains(out, `"path":"/oauth/callback"`) {
		t.Fatalf("access log missing callback request:\n%s", out)
	}
	for _, leak := range []string{"code-secret", "state="} {
		if strings.Contains(out, leak) {
			t.Errorf("access log contains %q:\n%s", leak, out)
		}
	}
}

// TestSmoke_CallbackWithoutState verifies a forged callback is denied to NO_ACCESS_PATH.
func TestSmoke_CallbackWithoutState(t *testing.T) {
	e := newSmokeEnv(t)
	e.auth0.AddLogin("code-1", "mallory", "")

	resp := get(t, e.srv.URL+"/oauth/callback?code=code-1&state=forged")
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("status: expected 302, got %d", resp.StatusCode)
	}
	if loc := resp.Header.Get("Location"); loc != "/noaccess" {
		t.Errorf("Location: expected /noaccess, got %q", loc)
	}

	landing := get(t, e.srv.URL+"/noaccess")
	if landing.StatusCode != http.StatusForbidden {
		t.Errorf("/noaccess: expected 403, got %d", landing.StatusCode)
	}
}

// TestSmoke_Logout_WithoutSession verifies /logout rejects unauthenticated requests.
func TestSmoke_Logout_WithoutSession(t *testing.T) {
	e := newSmokeEnv(t)

	resp, err := http.Post(e.srv.URL+"/logout", "application/json", nil)
	if err != nil {
		t.Fatalf("POST /logout: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status: expected 401, got %d", resp.StatusCode)
	}
}

// TestSmoke_Logout_WithSessionButNoCSRF verifies CSRFMiddleware is wired to the session group.
func TestSmoke_Logout_WithSessionButNoCSRF(t *testing.T) {
	e := newSmokeEnv(t)
	session, _ := e.loginSession(t)

	resp := e.postLogout(t, session, "")
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("status: expected 403, got %d", resp.StatusCode)
	}
}

// TestSmoke_FullRoundTrip verifies login -> /me -> logout -> /me over real HTTP.
func TestSmoke_FullRoundTrip(t *testing.T) {
	e := newSmokeEnv(t)
	session, csrf := e.loginSession(t)
	if csrf == "" {
		t.Fatal("no csrf_token from /me")
	}

	logout := e.postLogout(t, session, csrf)
	if logout.StatusCode != http.StatusOK {
		t.Fatalf("logout: expected 200, got %d", logout.StatusCode)
	}
	cleared := findCookie(logout, "__Host-session")
	if cleared == nil || cleared.MaxAge != -1 {
		t.Errorf("session cookie not cleared: %+v", cleared)
	}
	if e.ps.SessionCount() != 0 {
		t.Errorf("sessions: expected 0 after logout, got %d", e.ps.SessionCount())
	}

	me := get(t, e.srv.URL+"/me", session)
	if me.StatusCode != http.StatusUnauthorized {
		t.Errorf("/me after logout: expected 401, got %d", me.StatusCode)
	}
}

// TestSmoke_Admin verifies RequireSuperuser sits behind RequireSession on /admin.
func TestSmoke_Admin(t *testing.T) {
	e := newSmokeEnv(t)
	session, _ := e.loginSession(t)

	t.Run("regular user is forbidden", func(t *testing.T) {
		resp := get(t, e.srv.URL+"/admin/users/alice", session)
		if resp.StatusCode != http.StatusForbidden {
			t.Errorf("status: expected 403, got %d", resp.StatusCode)
		}
	})

	t.Run("superuser reads user", func(t *testing.T) {
		u, _ := e.ps.FindUserByUsername(t.Context(), "alice")
		u.IsSuperuser = true

		resp := get(t, e.srv.URL+"/admin/users/alice", session)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status: expected 200, got %d", resp.StatusCode)
		}
		var body struct {
			Username string `json:"username"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			t.Fatalf("decoding response: %v", err)
		}
		if body.Username != "alice" {
			t.Errorf("username: expected alice, got %q", body.Username)
		}
	})

	t.Run("anonymous is unauthorized", func(t *testing.T) {
		resp := get(t, e.srv.URL+"/admin/users/alice")
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("status: expected 401, got %d", resp.StatusCode)
		}
	})
}

// TestSmoke_Metrics verifies the Prometheus endpoint is mounted and exports gatekeeper series.
func TestSmoke_Metrics(t *testing.T) {
	e := newSmokeEnv(t)
	resp := get(t, e.srv.URL+"/metrics")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: expected 200, got %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "gatekeeper_users_created_total") {
		t.Error("metrics output missing gatekeeper_users_created_total")
	}
}

// --- requestTimeout ---

func TestRequestTimeout(t *testing.T) {
	cfg := &config.Config{VerifyTimeout: 120 * time.Second, OAuthTimeout: 30 * time.Second}
	if got := requestTimeout(cfg); got <= cfg.VerifyTimeout {
		t.Errorf("requestTimeout: expected more than %v, got %v", cfg.VerifyTimeout, got)
	}
}
