// Trendlens is the web tier for the trend intelligence product.
//
// It serves the browser-facing surface: session auth against the identity
// provider, view models for every page, caching and realtime updates for
// the report and daily digest screens, and the admin console for digest
// access. All domain data lives in the trend backend; this process holds
// only sessions and per-session view state.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"
	"github.com/oklog/run"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/sethvargo/go-envconfig"
	"github.com/sethvargo/go-retry"
	_ "golang.org/x/crypto/x509roots/fallback"
	_ "modernc.org/sqlite"

	"github.com/jmoiron/sqlx"

	"github.com/trendlens/trendlens/internal/access"
	"github.com/trendlens/trendlens/internal/backend"
	"github.com/trendlens/trendlens/internal/digestview"
	"github.com/trendlens/trendlens/internal/identity"
	"github.com/trendlens/trendlens/internal/metrics"
	"github.com/trendlens/trendlens/internal/migrations"
	"github.com/trendlens/trendlens/internal/progress"
	"github.com/trendlens/trendlens/internal/realtime"
	"github.com/trendlens/trendlens/internal/session"
	"github.com/trendlens/trendlens/internal/viewcache"
	"github.com/trendlens/trendlens/internal/web"
	"github.com/trendlens/trendlens/logger"
)

type config struct {
	Port     int    `env:"PORT, default=4080"`
	Database string `env:"DATABASE, required"`

	BackendURL  string `env:"BACKEND_URL, required"`
	IdentityURL string `env:"IDENTITY_URL, required"`
	RedisURL    string `env:"REDIS_URL, required"`

	CookieHashKey  string `env:"COOKIE_HASH_KEY, required"`
	CookieBlockKey string `env:"COOKIE_BLOCK_KEY, required"`
	HTTPSCookies   bool   `env:"HTTPS_COOKIES, default=false"`

	CORSOrigin string `env:"CORS_ORIGIN, default=http://localhost:5173"`

	OAuthClientID     string `env:"OAUTH_CLIENT_ID"`
	OAuthClientSecret string `env:"OAUTH_CLIENT_SECRET"`
	OAuthRedirectURL  string `env:"OAUTH_REDIRECT_URL"`

	SessionTTL     time.Duration `env:"SESSION_TTL, default=168h"`
	AccessCacheTTL time.Duration `env:"ACCESS_CACHE_TTL, default=5m"`
	BackendTimeout time.Duration `env:"BACKEND_TIMEOUT, default=15s"`
	AnalyzeTimeout time.Duration `env:"ANALYZE_TIMEOUT, default=120s"`

	ProgressInterval time.Duration `env:"PROGRESS_INTERVAL, default=2s"`

	RateGeneral int `env:"RATE_GENERAL, default=120"`
	RateAnalyze int `env:"RATE_ANALYZE, default=6"`
	PerPage     int `env:"PER_PAGE, default=10"`

	// Which format to use for logging: either text or json
	LoggerFormat string `env:"LOGGER_FORMAT, default=text"`
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	// A .env is optional; containers set the environment directly.
	_ = godotenv.Load()

	// Parse the config
	var cfg config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		log.Fatalf("error parsing config: %s", err)
	}

	// Determine which logger format to use
	slog.SetDefault(logger.New(os.Stderr, cfg.LoggerFormat))

	// Start the application
	if err := runApp(ctx, cfg); err != nil {
		slog.Error("error running", "error", err)
		os.Exit(1)
	}
}

func runApp(ctx context.Context, cfg config) error {
	slog.Info("running", "port", cfg.Port)

	// Connect to the session db
	dbx, err := sqlx.Open("sqlite", fmt.Sprintf("%s?_txlock=immediate&_journal_mode=WAL&_busy_timeout=5000", cfg.Database))
	if err != nil {
		return fmt.Errorf("error opening database: %s", err)
	}
	defer dbx.Close()

	// Migrate, always
	if err := migrations.Run(dbx); err != nil {
		return fmt.Errorf("error migrating: %s", err)
	}

	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)

	backendCli, err := backend.NewClient(cfg.BackendURL, cfg.BackendTimeout, collector)
	if err != nil {
		return fmt.Errorf("error building backend client: %s", err)
	}

	var oauthCfg *identity.OAuthConfig
	if cfg.OAuthClientID != "" && cfg.OAuthClientSecret != "" && cfg.OAuthRedirectURL != "" {
		oauthCfg = &identity.OAuthConfig{
			ClientID:     cfg.OAuthClientID,
			ClientSecret: cfg.OAuthClientSecret,
			RedirectURL:  cfg.OAuthRedirectURL,
		}
	}
	identityCli, err := identity.NewClient(cfg.IdentityURL, cfg.BackendTimeout, oauthCfg)
	if err != nil {
		return fmt.Errorf("error building identity client: %s", err)
	}

	// Retry until redis is ready
	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("error parsing redis url: %s", err)
	}
	rdb := redis.NewClient(redisOpts)
	defer rdb.Close()
	if err := retry.Fibonacci(ctx, 1*time.Second, func(ctx context.Context) error {
		if err := rdb.Ping(ctx).Err(); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	}); err != nil {
		return fmt.Errorf("error connecting to redis: %s", err)
	}

	store := session.NewStore(dbx)
	cookies := session.NewCookies([]byte(cfg.CookieHashKey), []byte(cfg.CookieBlockKey), cfg.HTTPSCookies)
	sessions := session.NewManager(store, cookies, identityCli, cfg.SessionTTL)
	janitor := session.NewJanitor(store, time.Hour, 24*time.Hour, collector)

	relay := realtime.NewRelay(realtime.NewRedisSource(rdb), collector)
	defer relay.Close()

	tracker := progress.NewTracker(cfg.ProgressInterval, 30*time.Second)
	defer tracker.Close()

	srv := web.NewServer(web.Config{
		Port:           cfg.Port,
		CORSOrigin:     cfg.CORSOrigin,
		PerPage:        cfg.PerPage,
		BackendTimeout: cfg.BackendTimeout,
		AnalyzeTimeout: cfg.AnalyzeTimeout,
		RateGeneral:    cfg.RateGeneral,
		RateAnalyze:    cfg.RateAnalyze,
	}, web.Deps{
		Backend:  backendCli,
		Identity: identityCli,
		Sessions: sessions,
		Access:   access.NewResolver(backendCli, cfg.AccessCacheTTL),
		Caches:   viewcache.NewRegistry(),
		Views:    digestview.NewRegistry(),
		Relay:    relay,
		Progress: tracker,
		Metrics:  collector,
		Gatherer: metrics.Handler(reg),
	})
	defer srv.CloseResources()

	var g run.Group
	g.Add(func() error {
		slog.Info("listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("error listening: %s", err)
		}
		return nil
	}, func(error) {
		downCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(downCtx); err != nil {
			slog.Error("error shutting down server", "error", err)
		}
	})

	jctx, jcancel := context.WithCancel(ctx)
	g.Add(func() error {
		return janitor.Run(jctx)
	}, func(error) {
		jcancel()
	})

	sctx, scancel := context.WithCancel(ctx)
	g.Add(func() error {
		return srv.RunSweepers(sctx)
	}, func(error) {
		scancel()
	})

	g.Add(run.SignalHandler(ctx, os.Interrupt))

	err = g.Run()
	if err == nil || errors.Is(err, context.Canceled) {
		return nil
	}
	var sig run.SignalError
	if errors.As(err, &sig) {
		slog.Info("shutting down", "signal", sig.Signal)
		return nil
	}
	return err
}
