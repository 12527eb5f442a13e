// login.go -- Auth0 authorization-code login: redirect and callback handlers.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/MGallo-Code/gatekeeper/internal/oauth"
)

const oauthStateCookieName = "__Host-oauth-state"

// oauthStateCookie is the payload stored in __Host-oauth-state during the OAuth round-trip.
type oauthStateCookie struct {
	State    string `json:"state"`
	Verifier string `json:"verifier"`
}

// encodeState packs a nonce and the post-login destination into the OAuth state value.
func encodeState(nonce, next string) string {
	return nonce + "." + base64.RawURLEncoding.EncodeToString([]byte(next))
}

// nextFromState recovers the destination packed by encodeState, or "" if absent or undecodable.
func nextFromState(state string) string {
	_, packed, ok := strings.Cut(state, ".")
	if !ok {
		return ""
	}
	next, err := base64.RawURLEncoding.DecodeString(packed)
	if err != nil {
		return ""
	}
	return string(next)
}

// safeNext returns next as a local path when it points at this host, else home.
// Accepts absolute paths and http(s) URLs whose host equals host.
func safeNext(next, host, home string) string {
	if next == "" || strings.ContainsAny(next, "\\\r\n") {
		return home
	}
	u, err := url.Parse(next)
	if err != nil {
		return home
	}
	switch {
	case u.Scheme == "" && u.Host == "":
		if !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") {
			return home
		}
		return next
	case (u.Scheme == "http" || u.Scheme == "https") && strings.EqualFold(u.Host, host):
		return u.RequestURI()
	default:
		return home
	}
}

// Login handles GET /login -- captures the post-login destination, generates state and
// PKCE, stores them in a short-lived HttpOnly cookie, and redirects to Auth0.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	next := r.URL.Query().Get("next")
	if next == "" {
		next = r.Referer()
	}

	var nonceBytes, verifierBytes [32]byte
	if _, err := rand.Read(nonceBytes[:]); err != nil {
		InternalServerError(w, r, err)
		return
	}
	if _, err := rand.Read(verifierBytes[:]); err != nil {
		InternalServerError(w, r, err)
		return
	}

	state := encodeState(base64.RawURLEncoding.EncodeToString(nonceBytes[:]), next)
	codeVerifier := base64.RawURLEncoding.EncodeToString(verifierBytes[:])
	challenge := sha256.Sum256([]byte(codeVerifier))
	codeChallenge := base64.RawURLEncoding.EncodeToString(challenge[:])

	setOAuthStateCookie(w, state, codeVerifier)
	authURL := h.OAuth.AuthorizeURL(h.Config.CallbackURL(r.Host), nil, state, codeChallenge)
	http.Redirect(w, r, authURL, http.StatusFound)
}

// Callback handles GET <AUTH0_CALLBACK_ROUTE> -- verifies state, exchanges the code,
// fetches the profile, reconciles the local user, and redirects to the destination.
// Every failure redirects to NO_ACCESS_PATH; nothing is retried.
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	deny := func(msg string, args ...any) {
		logWarn(r, msg, args...)
		loginsTotal.WithLabelValues("denied").Inc()
		http.Redirect(w, r, h.Config.NoAccessPath, http.StatusFound)
	}

	// Read and immediately clear the state cookie to prevent replay.
	sc, ok := readOAuthStateCookie(r)
	clearOAuthStateCookie(w)
	if !ok {
		deny("login callback: missing or invalid state cookie")
		return
	}

	q := r.URL.Query()
	returnedState := q.Get("state")
	// Constant-time comparison prevents timing oracle on state value.
	if subtle.ConstantTimeCompare([]byte(sc.State), []byte(returnedState)) != 1 {
		deny("login callback: state mismatch")
		return
	}

	code, err := oauth.AuthorizationCode(q)
	if err != nil {
		deny("login callback: no authorization", "error", err)
		return
	}

	token, err := h.OAuth.Exchange(r.Context(), code, h.Config.CallbackURL(r.Host), sc.Verifier)
	if err != nil {
		deny("login callback: token exchange failed", "error", err)
		return
	}

	profile, err := h.OAuth.FetchProfile(r.Context(), token)
	if err != nil {
		deny("login callback: profile fetch failed", "error", err)
		return
	}

	user, err := h.reconcile(w, r, profile)
	if err != nil {
		logError(r, "login callback: reconcile failed", "error", err)
		deny("login callback: denied after store failure")
		return
	}

	next := safeNext(nextFromState(returnedState), r.Host, h.Config.HomePath)
	loginsTotal.WithLabelValues("authenticated").Inc()
	logInfo(r, "user logged in", "user_id", user.ID)
	http.Redirect(w, r, next, http.StatusFound)
}

// setOAuthStateCookie stores state + PKCE verifier in a short-lived HttpOnly cookie.
func setOAuthStateCookie(w http.ResponseWriter, state, verifier string) {
	payload, _ := json.Marshal(oauthStateCookie{State: state, Verifier: verifier})
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookieName,
		Value:    base64.RawURLEncoding.EncodeToString(payload),
		Path:     "/",
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   600, // 10 minutes
	})
}

// readOAuthStateCookie decodes __Host-oauth-state. Returns false if absent or malformed.
func readOAuthStateCookie(r *http.Request) (*oauthStateCookie, bool) {
	c, err := r.Cookie(oauthStateCookieName)
	if err != nil {
		return nil, false
	}
	raw, err := base64.RawURLEncoding.DecodeString(c.Value)
	if err != nil {
		return nil, false
	}
	var sc oauthStateCookie
	if err := json.Unmarshal(raw, &sc); err != nil || sc.State == "" || sc.Verifier == "" {
		return nil, false
	}
	return &sc, true
}

// clearOAuthStateCookie expires the OAuth state cookie immediately.
func clearOAuthStateCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
}
