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

	"github.com/MGallo-Code/provenance/internal/auth"
	"github.com/MGallo-Code/provenance/internal/cache"
	"github.com/MGallo-Code/provenance/internal/classify"
	"github.com/MGallo-Code/provenance/internal/config"
	"github.com/MGallo-Code/provenance/internal/metrics"
	"github.com/MGallo-Code/provenance/internal/oauth"
	"github.com/MGallo-Code/provenance/internal/provider"
	"github.com/MGallo-Code/provenance/internal/ratelimit"
	"github.com/MGallo-Code/provenance/internal/store"
	"github.com/MGallo-Code/provenance/internal/tasks"
	"github.com/MGallo-Code/provenance/internal/token"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
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
	addSrc := cfg.LogLevel == slog.LevelDebug

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     cfg.LogLevel,
		AddSource: addSrc,
	})))

	// Cancel ctx on SIGINT/SIGTERM; run() shuts down when ctx is done.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// run() is a separate func so deferred closes (ps, rdb) always execute before os.Exit.
	if err := run(ctx, cfg, nil, nil); err != nil {
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}
}

// run holds all server logic and returns error instead of calling os.Exit,
// so deferred resource cleanup (ps.Close, rdb.Close) always runs.
// Shuts down when ctx is cancelled (signal handling is the caller's concern).
// If ready is non-nil, the server's base URL is sent on it once the listener is bound.
// If idp is nil, the Google provider is built from cfg (OIDC discovery).
func run(ctx context.Context, cfg *config.Config, ready chan<- string, idp oauth.Provider) error {
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

	// Create shared Redis client; revocation cache and task queue share one connection pool.
	rdb, err := store.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("failed to set up redis client: %w", err)
	}
	defer rdb.Close()
	rs := store.NewRedisRevocationCache(rdb)

	if idp == nil {
		google, err := oauth.NewGoogleProvider(ctx, cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.GoogleRedirectURL)
		if err != nil {
			return fmt.Errorf("failed to set up google provider: %w", err)
		}
		idp = google
	}

	queue := tasks.NewQueue(rdb, cfg.TaskQueueMax, cfg.CleanupDebounce)

	tokens := token.NewService(cfg.TokenSecret, cfg.TokenTTL, cfg.GoogleClientID, token.Deps{
		Identities:  ps,
		Revocations: ps,
		Cache:       rs,
		IdP:         idp,
		Tasks:       queue,
	})
	queue.Register(token.CleanupTask, func(ctx context.Context) error {
		tokens.CleanupExpired(ctx)
		return nil
	})

	providers := make([]provider.Provider, 0, len(cfg.Providers))
	for _, pc := range cfg.Providers {
		p, err := provider.FromConfig(pc, cfg.ProviderTimeout, cfg.ProviderRPS)
		if err != nil {
			return fmt.Errorf("failed to set up provider: %w", err)
		}
		providers = append(providers, p)
	}
	orch := classify.New(
		ratelimit.New(ps, cfg.DailyLimit, cfg.QuotaLocation),
		cache.New(ps, cfg.CacheTTL),
		providers,
		net.DefaultResolver,
	)

	h := &auth.Handler{
		Tokens:   tokens,
		Analyzer: orch,
		PS:       ps,
		RS:       rs,
	}
	if cfg.CodeFlowEnabled() {
		h.OAuthProviders = map[string]oauth.Provider{idp.Name(): idp}
	}

	metrics.Init()

	// Bind listener; ":0" picks a free port (useful in tests).
	ln, err := net.Listen("tcp", ":"+cfg.Port)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	server := &http.Server{Handler: buildRouter(h, requestTimeout(cfg.ProviderTimeout))}

	// Task worker; stopped via workerCtx when run() returns.
	workerCtx, cancelWorker := context.WithCancel(ctx)
	defer cancelWorker()
	go queue.StartWorker(workerCtx)

	// Start server in a goroutine; run() continues past this.
	errCh := make(chan error, 1)
	go func() {
		slog.Info("provenance listening", "addr", ln.Addr().String(), "providers", len(providers))
		// Send error only if server stops for a reason other than explicit shutdown.
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
	// Stop accepting, let in-flight requests finish, give up after 30s.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}

	slog.Info("server stopped")
	return nil
}

// requestTimeoutMargin covers validation, quota, cache and sign-in work on top
// of the provider budget.
const requestTimeoutMargin = 15 * time.Second

// requestTimeout bounds a whole request. An analysis may call the primary and
// the fallback provider, each with its own providerTimeout.
func requestTimeout(providerTimeout time.Duration) time.Duration {
	return 2*providerTimeout + requestTimeoutMargin
}

// buildRouter wires all routes and middleware.
// Code-flow routes are only mounted when h has OAuth providers.
func buildRouter(h *auth.Handler, timeout time.Duration) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Instrument)
	r.Use(middleware.Timeout(timeout))

	r.Get("/health", h.CheckHealth)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	r.Post("/auth/google", h.SignInGoogle)

	if len(h.OAuthProviders) > 0 {
		r.Get("/oauth/{provider}", h.OAuthRedirect)
		r.Get("/oauth/{provider}/callback", h.OAuthCallback)
	}

	// Authentication required routes
	r.Group(func(r chi.Router) {
		r.Use(h.RequireAuth)
		r.Get("/auth/verify", h.Verify)
		r.Post("/auth/logout", h.Logout)
		r.Post("/analyze", h.Analyze)
	})

	return r
}
