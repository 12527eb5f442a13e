package main

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MGallo-Code/gatekeeper/internal/auth"
	"github.com/MGallo-Code/gatekeeper/internal/config"
	"github.com/MGallo-Code/gatekeeper/internal/oauth"
	"github.com/MGallo-Code/gatekeeper/internal/store"
	"github.com/MGallo-Code/gatekeeper/internal/verify"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Embeds the migration files INTO the go bin

//go:embed migrations/*.sql
var migrationsDir embed.FS

func main() {
	// Load config first so we can set log level
	cfg, err := config.LoadConfig()
	if err != nil {
		// Fallback logger before config is available
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}

	// Include source location in log entries at debug level only.
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     cfg.LogLevel,
		AddSource: cfg.LogLevel == slog.LevelDebug,
	})))

	// Cancel ctx on SIGINT/SIGTERM; run() shuts down when ctx is done.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// run() is a separate func so deferred closes (ps, rs) always execute before os.Exit.
	if err := run(ctx, cfg, nil); err != nil {
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}
}

// run holds all server logic and returns error instead of calling os.Exit.
// Shuts down when ctx is cancelled.
// If ready is non-nil, the server's base URL is sent on it once the listener is bound.
func run(ctx context.Context, cfg *config.Config, ready chan<- string) error {
	ps, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to set up postgres store: %w", err)
	}
	defer ps.Close()

	migrationsFS, err := fs.Sub(migrationsDir, "migrations")
	if err != nil {
		return fmt.Errorf("failed to access embedded migrations: %w", err)
	}
	if err := ps.Migrate(ctx, migrationsFS); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	rs, err := store.NewRedisStore(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("failed to set up redis store: %w", err)
	}
	defer rs.Close()

	verifier, err := verify.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to set up token verifier: %w", err)
	}
	slog.Info("token verifier configured", "strategy", cfg.TokenVerifier)

	h := auth.AuthHandler{
		PS:       ps,
		RS:       rs,
		Verifier: verifier,
		OAuth:    oauth.NewClient(cfg),
		Runs:     ps,
		Config:   cfg,
	}

	// Bind listener; ":0" picks a free port (useful in tests).
	ln, err := net.Listen("tcp", ":"+cfg.Port)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	server := &http.Server{Handler: buildRouter(&h)}

	// Session cleanup goroutine; removes sessions expired >7 days ago, runs every 24h.
	cleanupCtx, cancelCleanup := context.WithCancel(ctx)
	defer cancelCleanup()
	go cleanupSessions(cleanupCtx, ps, 7*24*time.Hour, 24*time.Hour)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("gatekeeper listening", "addr", ln.Addr().String())
		if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Signal readiness to caller (used by tests; nil in production).
	if ready != nil {
		ready <- "http://" + ln.Addr().String()
	}

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	slog.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}

	slog.Info("server stopped")
	return nil
}

// sessionCleaner is the slice of PostgresStore the cleanup loop needs.
type sessionCleaner interface {
	CleanupExpiredSessions(ctx context.Context, retention time.Duration) (int64, error)
}

// cleanupSessions deletes sessions expired longer than retention, once per interval, until ctx is done.
func cleanupSessions(ctx context.Context, ps sessionCleaner, retention, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			n, err := ps.CleanupExpiredSessions(ctx, retention)
			if err != nil {
				slog.Warn("session cleanup failed", "error", err)
			} else {
				slog.Info("session cleanup complete", "deleted", n)
			}
		case <-ctx.Done():
			return
		}
	}
}

// requestTimeout bounds a whole request. It must outlast the slowest outbound
// call a handler makes, or the verifier's own timeout never gets to fire.
func requestTimeout(cfg *config.Config) time.Duration {
	return max(cfg.VerifyTimeout, cfg.OAuthTimeout, 30*time.Second) + 10*time.Second
}

// buildRouter wires all routes and middleware.
// Called from run() and from smoke tests.
func buildRouter(h *auth.AuthHandler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestLogger(accessLogFormatter{}))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout(h.Config)))

	r.Get("/health", h.CheckHealth)
	r.Handle("/metrics", promhttp.Handler())

	// Browser login flow
	r.Get("/login", h.Login)
	r.Get(h.Config.Auth0CallbackRoute, h.Callback)
	r.Get(h.Config.NoAccessPath, h.NoAccess)

	// Machine clients: Authorization: Bearer <token>
	r.Route("/api", func(r chi.Router) {
		r.Use(h.RequireBearer)
		r.Get("/whoami", h.WhoAmI)
		r.Get("/dags/{dag_id}/runs/{run_id}", h.GetRun)
	})

	// Session required routes
	r.Group(func(r chi.Router) {
		r.Use(h.RequireSession)
		// CSRF reads token injected by RequireSession above
		// DO NOT RUN CSRF BEFORE RequireSession
		r.Use(h.CSRFMiddleware)
		r.Get("/me", h.Me)
		r.Post("/logout", h.Logout)

		r.With(h.RequireSuperuser).Get("/admin/users/{username}", h.GetUser)
	})

	return r
}
