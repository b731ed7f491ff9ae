// Package main provides the entry point for the PBAC server
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hrdesk/pbac/internal/api/rest"
	"github.com/hrdesk/pbac/internal/audit"
	"github.com/hrdesk/pbac/internal/auth"
	"github.com/hrdesk/pbac/internal/cel"
	"github.com/hrdesk/pbac/internal/config"
	"github.com/hrdesk/pbac/internal/db"
	"github.com/hrdesk/pbac/internal/engine"
	"github.com/hrdesk/pbac/internal/metrics"
	"github.com/hrdesk/pbac/internal/notify"
	"github.com/hrdesk/pbac/internal/policy"
	"github.com/hrdesk/pbac/internal/ratelimit"
)

var (
	// Version information (set at build time)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

const hubStatsInterval = 15 * time.Second

// userDirectory is what both the resolver and the seeder need from users
type userDirectory interface {
	auth.UserReader
	policy.UserLookup
}

func main() {
	var (
		configPath  = flag.String("config", "", "Path to the YAML configuration file")
		migrate     = flag.Bool("migrate", false, "Apply database migrations on startup")
		showVersion = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("pbac-server %s\n", Version)
		fmt.Printf("  Build Time: %s\n", BuildTime)
		fmt.Printf("  Git Commit: %s\n", GitCommit)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *migrate {
		cfg.Database.Migrate = true
	}

	logger, level, err := config.NewLogger(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, *configPath, level, logger); err != nil {
		logger.Fatal("Server error", zap.Error(err))
	}
	logger.Info("Server stopped successfully")
}

func run(cfg *config.Config, configPath string, level zap.AtomicLevel, logger *zap.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger.Info("Starting PBAC server",
		zap.String("version", Version),
		zap.String("addr", cfg.Server.Addr),
		zap.String("session_store", cfg.Session.Store),
	)

	// Storage
	var (
		conn  *sql.DB
		store policy.Store
		users userDirectory
	)
	if cfg.Database.DSN != "" {
		var err error
		conn, err = db.Open(cfg.Database.DSN, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns, cfg.Database.ConnMaxLifetime)
		if err != nil {
			return err
		}
		defer conn.Close()

		if cfg.Database.Migrate {
			if err := migrateUp(cfg.Database.DSN, logger); err != nil {
				return err
			}
		}
		store = policy.NewPostgresStore(conn)
		users = auth.NewPostgresUserStore(conn)
	} else {
		logger.Warn("No database configured, using in-memory stores")
		store = policy.NewMemoryStore()
		users = auth.NewMemoryUserStore()
	}

	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
	}

	var sessions auth.SessionStore
	switch cfg.Session.Store {
	case "postgres":
		sessions = auth.NewPostgresSessionStore(conn)
	case "redis":
		sessions = auth.NewRedisSessionStore(rdb)
	default:
		sessions = auth.NewMemorySessionStore()
	}

	m := metrics.NewPrometheusMetrics("pbac")
	hub := notify.NewHub(0, logger)
	defer hub.Close()

	evaluator, err := cel.NewEvaluator()
	if err != nil {
		return err
	}
	svc := policy.NewService(store, cfg.Policy, hub, m, logger).WithConditionValidator(evaluator)

	eng, err := engine.New(cfg.Cache, store, evaluator, hub, m, logger)
	if err != nil {
		return fmt.Errorf("failed to create engine: %w", err)
	}
	eng.InvalidateOnMutations(ctx, hub)

	logger.Info("Decision engine initialized",
		zap.Duration("cache_ttl", cfg.Cache.CacheTTL),
		zap.Int("cache_size", cfg.Cache.CacheSize),
	)

	if cfg.Audit.Enabled {
		w, err := audit.NewWriter(cfg.Audit)
		if err != nil {
			return fmt.Errorf("failed to create audit writer: %w", err)
		}
		recorder := audit.NewRecorder(w, cfg.Audit.IncludeDecisions, logger)
		defer recorder.Close()
		recorder.Start(ctx, hub)
	}

	var limiter ratelimit.Limiter
	if cfg.RateLimit.Enabled {
		limiter, err = ratelimit.New(cfg.RateLimit, rdb)
		if err != nil {
			return fmt.Errorf("failed to create rate limiter: %w", err)
		}
		defer limiter.Close()
	}

	if cfg.Seed.Dir != "" {
		stop, err := seedPolicies(ctx, cfg.Seed, svc, users, logger)
		if err != nil {
			return err
		}
		defer stop()
	}

	if configPath != "" {
		watcher, err := config.NewWatcher(configPath, level, logger)
		if err != nil {
			return err
		}
		go watcher.Run(ctx)
	}

	go reportHubStats(ctx, hub, m)

	resolver := auth.NewResolver(sessions, users, cfg.Session, hub, m, logger)

	srvConfig := rest.DefaultConfig()
	srvConfig.Addr = cfg.Server.Addr
	srvConfig.RequestTimeout = cfg.Server.RequestTimeout
	srvConfig.CORSOrigins = cfg.Server.CORSOrigins
	srvConfig.CookieSecure = cfg.Session.CookieSecure
	srvConfig.TrustForwardedFor = cfg.Server.TrustForwardedFor
	srvConfig.Version = Version

	srv, err := rest.New(srvConfig, rest.Dependencies{
		Engine:   eng,
		Policies: svc,
		Resolver: resolver,
		Users:    users,
		Hub:      hub,
		Limiter:  limiter,
		Metrics:  m,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to create REST server: %w", err)
	}

	errChan := make(chan error, 1)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", cfg.Server.Addr))
		errChan <- srv.Start()
	}()

	select {
	case err := <-errChan:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", zap.String("signal", sig.String()))

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()

		logger.Info("Stopping HTTP server")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Graceful shutdown failed", zap.Error(err))
		}
	}
	return nil
}

// migrateUp applies pending migrations over a dedicated connection, which
// the runner closes when done.
func migrateUp(dsn string, logger *zap.Logger) error {
	conn, err := db.Open(dsn, 1, 1, 0)
	if err != nil {
		return err
	}
	runner, err := db.NewMigrationRunner(conn, logger)
	if err != nil {
		conn.Close()
		return err
	}
	defer func() {
		if err := runner.Close(); err != nil {
			logger.Warn("Failed to close migration runner", zap.Error(err))
		}
	}()
	return runner.Up()
}

// seedPolicies applies the bundles in cfg.Dir and optionally keeps watching
// the directory. The returned func stops the watcher.
func seedPolicies(ctx context.Context, cfg config.SeedConfig, svc *policy.Service, users policy.UserLookup, logger *zap.Logger) (func(), error) {
	loader := policy.NewLoader(logger)
	seeder := policy.NewSeeder(svc, users, logger)

	specs, err := loader.LoadFromDirectory(cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to load policy bundles: %w", err)
	}
	result, err := seeder.Apply(ctx, specs)
	if err != nil {
		logger.Warn("Some policies could not be seeded", zap.Error(err))
	}
	logger.Info("Policy bundles applied",
		zap.String("dir", cfg.Dir),
		zap.Ints("created", result.Created),
		zap.Ints("skipped", result.Skipped),
		zap.Ints("failed", result.Failed),
	)

	if !cfg.Watch {
		return func() {}, nil
	}

	fw, err := policy.NewFileWatcher(cfg.Dir, loader, seeder, logger)
	if err != nil {
		return nil, err
	}
	if cfg.Debounce > 0 {
		fw.SetDebounceTimeout(cfg.Debounce)
	}
	if err := fw.Watch(ctx); err != nil {
		return nil, err
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-fw.EventChan():
				if ev.Error != nil {
					logger.Warn("Policy bundle reload failed", zap.Error(ev.Error))
					continue
				}
				logger.Info("Policy bundles reloaded", zap.Ints("created", ev.Result.Created))
			}
		}
	}()

	return func() { _ = fw.Stop() }, nil
}

func reportHubStats(ctx context.Context, hub *notify.Hub, m metrics.Metrics) {
	ticker := time.NewTicker(hubStatsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			published, dropped := hub.Stats()
			m.UpdateHubStats(published, dropped, hub.SubscriberCount())
		}
	}
}
