// reconcile_test.go

// unit tests for reconcile.
package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/MGallo-Code/gatekeeper/internal/oauth"
	"github.com/MGallo-Code/gatekeeper/internal/store"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
)

func reconcileRequest() *http.Request {
	r := httptest.NewRequest(http.MethodGet, "https://app.example/oauth/callback", nil)
	r.RemoteAddr = "203.0.113.7:51234"
	return r
}

func TestReconcile(t *testing.T) {
	t.Run("creates unseen user as non-superuser", func(t *testing.T) {
		h, ps, _ := newTestHandler()
		before := promtestutil.ToFloat64(usersCreated)

		u, err := h.reconcile(httptest.NewRecorder(), reconcileRequest(), &oauth.Profile{Name: "carol", Email: "carol@example.com"})
		if err != nil {
			t.Fatalf("reconcile failed: %v", err)
		}
		if u.Username != "carol" || u.IsSuperuser {
			t.Errorf("unexpected user: %+v", u)
		}
		if ps.UserCount() != 1 {
			t.Errorf("users: expected 1, got %d", ps.UserCount())
		}
		if after := promtestutil.ToFloat64(usersCreated); after != before+1 {
			t.Errorf("users created counter: expected %v, got %v", before+1, after)
		}
	})

	t.Run("empty email is stored as NULL", func(t *testing.T) {
		h, _, _ := newTestHandler()
		u, err := h.reconcile(httptest.NewRecorder(), reconcileRequest(), &oauth.Profile{Name: "dave"})
		if err != nil {
			t.Fatalf("reconcile failed: %v", err)
		}
		if u.Email != nil {
			t.Errorf("email: expected nil, got %q", *u.Email)
		}
	})

	t.Run("idempotent and never downgrades superuser", func(t *testing.T) {
		root := newUser("root", true)
		h, ps, _ := newTestHandler(root)
		profile := &oauth.Profile{Name: "root", Email: "root@example.com"}

		first, err := h.reconcile(httptest.NewRecorder(), reconcileRequest(), profile)
		if err != nil {
			t.Fatalf("first reconcile failed: %v", err)
		}
		second, err := h.reconcile(httptest.NewRecorder(), reconcileRequest(), profile)
		if err != nil {
			t.Fatalf("second reconcile failed: %v", err)
		}
		if first.ID != root.ID || second.ID != root.ID {
			t.Errorf("ids: expected %v twice, got %v and %v", root.ID, first.ID, second.ID)
		}
		if !second.IsSuperuser {
			t.Error("is_superuser was downgraded")
		}
		if ps.UpsertCalls != 0 {
			t.Errorf("upsert calls: expected 0, got %d", ps.UpsertCalls)
		}
		if ps.SessionCount() != 2 {
			t.Errorf("sessions: expected one per login (2), got %d", ps.SessionCount())
		}
	})

	t.Run("concurrent first logins converge on one user", func(t *testing.T) {
		h, ps, _ := newTestHandler()
		profile := &oauth.Profile{Name: "racer"}

		const n = 2
		users := make([]*store.User, n)
		errs := make([]error, n)
		var wg sync.WaitGroup
		for i := range n {
			wg.Add(1)
			go func() {
				defer wg.Done()
				users[i], errs[i] = h.reconcile(httptest.NewRecorder(), reconcileRequest(), profile)
			}()
		}
		wg.Wait()

		for i, err := range errs {
			if err != nil {
				t.Fatalf("reconcile %d failed: %v", i, err)
			}
		}
		if users[0].ID != users[1].ID {
			t.Errorf("ids differ: %v vs %v", users[0].ID, users[1].ID)
		}
		if ps.UserCount() != 1 {
			t.Errorf("users: expected 1, got %d", ps.UserCount())
		}
	})

	t.Run("session records bare client ip", func(t *testing.T) {
		h, ps, _ := newTestHandler()
		if _, err := h.reconcile(httptest.NewRecorder(), reconcileRequest(), &oauth.Profile{Name: "erin"}); err != nil {
			t.Fatalf("reconcile failed: %v", err)
		}
		for _, s := range ps.Sessions {
			if s.IPAddress == nil || *s.IPAddress != "203.0.113.7" {
				t.Errorf("ip: expected 203.0.113.7, got %v", s.IPAddress)
			}
		}
	})

	t.Run("lookup failure is returned", func(t *testing.T) {
		h, ps, _ := newTestHandler()
		ps.FindUserErr = errors.New("db down")
		if _, err := h.reconcile(httptest.NewRecorder(), reconcileRequest(), &oauth.Profile{Name: "x"}); err == nil {
			t.Fatal("expected error, got nil")
		}
		if ps.UpsertCalls != 0 {
			t.Error("upsert should not run after a lookup failure")
		}
	})

	t.Run("session failure is returned without cookie", func(t *testing.T) {
		h, ps, _ := newTestHandler()
		ps.CreateSessionErr = errors.New("db down")
		w := httptest.NewRecorder()
		if _, err := h.reconcile(w, reconcileRequest(), &oauth.Profile{Name: "x"}); err == nil {
			t.Fatal("expected error, got nil")
		}
		if len(w.Result().Cookies()) != 0 {
			t.Error("no cookie should be set when session creation fails")
		}
	})

	t.Run("cache failure is tolerated", func(t *testing.T) {
		h, _, rs := newTestHandler()
		rs.SetSessionErr = errors.New("redis down")
		w := httptest.NewRecorder()
		if _, err := h.reconcile(w, reconcileRequest(), &oauth.Profile{Name: "x"}); err != nil {
			t.Fatalf("reconcile failed: %v", err)
		}
		if len(w.Result().Cookies()) != 1 {
			t.Error("expected session cookie despite cache failure")
		}
	})
}
