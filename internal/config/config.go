// config.go

// Environment variable loading and validation.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"
)

// Token verification strategies selectable via TOKEN_VERIFIER.
const (
	VerifierInline    = "inline"    // GET <auth0>/tokeninfo?id_token=...
	VerifierDelegated = "delegated" // POST <access api>/tokens
	VerifierJWKS      = "jwks"      // local ID token check against <auth0>/.well-known/jwks.json
)

// Config holds all env configuration vars for gatekeeper.
type Config struct {
	DatabaseURL string
	RedisURL    string
	Port        string
	LogLevel    slog.Level

	// Auth0 tenant. Auth0BaseURL is derived from Auth0Domain unless AUTH0_BASE_URL overrides it.
	Auth0Domain         string
	Auth0BaseURL        string
	Auth0ClientID       string
	Auth0ClientSecret   string
	Auth0CallbackRoute  string // path registered on the router, e.g. /oauth/callback
	Auth0CallbackScheme string // http or https, used to build redirect_uri

	// TokenVerifier picks the bearer verification strategy. Default inline.
	TokenVerifier string
	// AccessAPIURL is the access-control service base URL. Required for delegated verification.
	AccessAPIURL string

	// Outbound call bounds. Defaults: 120s for token verification, 30s for OAuth exchange/profile.
	VerifyTimeout time.Duration
	OAuthTimeout  time.Duration

	// Redirect destinations after login.
	HomePath     string
	NoAccessPath string

	// Session TTL. Default 24h.
	SessionTTL time.Duration
}

// LoadConfig reads environment variables and returns a validated Config.
// Returns an error if any required variable is missing or malformed, so
// misconfiguration surfaces at startup instead of on the first request.
func LoadConfig() (*Config, error) {
	cfg := &Config{}

	// Attempt to get db url, if missing, err
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	// Attempt to get redis url, if missing, err
	cfg.RedisURL = os.Getenv("REDIS_URL")
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("REDIS_URL is required")
	}

	// Attempt to get port num, default to 7865
	cfg.Port = os.Getenv("PORT")
	if cfg.Port == "" {
		cfg.Port = "7865"
	}

	// Parse log level, default to info
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		cfg.LogLevel = slog.LevelDebug
	case "warn":
		cfg.LogLevel = slog.LevelWarn
	case "error":
		cfg.LogLevel = slog.LevelError
	default:
		cfg.LogLevel = slog.LevelInfo
	}

	// Auth0 -- all required.
	required := []struct {
		key string
		dst *string
	}{
		{"AUTH0_DOMAIN", &cfg.Auth0Domain},
		{"AUTH0_CLIENT_ID", &cfg.Auth0ClientID},
		{"AUTH0_CLIENT_SECRET", &cfg.Auth0ClientSecret},
		{"AUTH0_CALLBACK_ROUTE", &cfg.Auth0CallbackRoute},
		{"AUTH0_CALLBACK_SCHEME", &cfg.Auth0CallbackScheme},
	}
	for _, r := range required {
		*r.dst = strings.TrimSpace(os.Getenv(r.key))
		if *r.dst == "" {
			return nil, fmt.Errorf("%s is required", r.key)
		}
	}
	if !strings.HasPrefix(cfg.Auth0CallbackRoute, "/") {
		return nil, fmt.Errorf("AUTH0_CALLBACK_ROUTE must start with /")
	}
	cfg.Auth0CallbackScheme = strings.ToLower(cfg.Auth0CallbackScheme)
	if cfg.Auth0CallbackScheme != "http" && cfg.Auth0CallbackScheme != "https" {
		return nil, fmt.Errorf("AUTH0_CALLBACK_SCHEME must be http or https")
	}

	// Base URL override exists so tests and local setups can point at a fake tenant.
	cfg.Auth0BaseURL = strings.TrimSuffix(os.Getenv("AUTH0_BASE_URL"), "/")
	if cfg.Auth0BaseURL == "" {
		cfg.Auth0BaseURL = "https://" + strings.TrimSuffix(cfg.Auth0Domain, "/")
	}
	if err := validateBaseURL("AUTH0_BASE_URL", cfg.Auth0BaseURL); err != nil {
		return nil, err
	}

	cfg.TokenVerifier = strings.ToLower(os.Getenv("TOKEN_VERIFIER"))
	if cfg.TokenVerifier == "" {
		cfg.TokenVerifier = VerifierInline
	}
	switch cfg.TokenVerifier {
	case VerifierInline, VerifierJWKS:
	case VerifierDelegated:
		cfg.AccessAPIURL = strings.TrimSuffix(os.Getenv("ACCESS_API_URL"), "/")
		if cfg.AccessAPIURL == "" {
			return nil, fmt.Errorf("ACCESS_API_URL is required when TOKEN_VERIFIER=delegated")
		}
		if err := validateBaseURL("ACCESS_API_URL", cfg.AccessAPIURL); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("TOKEN_VERIFIER must be one of inline, delegated, jwks")
	}

	cfg.VerifyTimeout = envDuration("VERIFY_TIMEOUT", 120*time.Second)
	cfg.OAuthTimeout = envDuration("OAUTH_TIMEOUT", 30*time.Second)

	cfg.HomePath = envPath("HOME_PATH", "/")
	cfg.NoAccessPath = envPath("NO_ACCESS_PATH", "/noaccess")

	cfg.SessionTTL = envDuration("SESSION_TTL", 24*time.Hour)

	return cfg, nil
}

// CallbackURL builds the absolute redirect_uri for the given request host.
func (c *Config) CallbackURL(host string) string {
	return c.Auth0CallbackScheme + "://" + host + c.Auth0CallbackRoute
}

// validateBaseURL requires an absolute http(s) URL.
func validateBaseURL(key, raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("%s must be an absolute http(s) URL", key)
	}
	return nil
}

// envDuration reads an env var as time.Duration, returning def if missing or unparseable.
func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		slog.Warn("invalid env var, using default", "key", key, "value", v, "default", def)
		return def
	}
	return d
}

// envPath reads an env var as a local path, returning def unless it starts with a single "/".
func envPath(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if !strings.HasPrefix(v, "/") || strings.HasPrefix(v, "//") {
		slog.Warn("invalid env var, using default", "key", key, "value", v, "default", def)
		return def
	}
	return v
}
