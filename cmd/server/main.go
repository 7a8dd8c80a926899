package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/procuredata/console/config"
	"github.com/procuredata/console/internal/api"
	"github.com/procuredata/console/internal/api/middleware"
	"github.com/procuredata/console/internal/approval"
	"github.com/procuredata/console/internal/cache"
	"github.com/procuredata/console/internal/catalog"
	"github.com/procuredata/console/internal/events"
	"github.com/procuredata/console/internal/fiware"
	"github.com/procuredata/console/internal/health"
	"github.com/procuredata/console/internal/ids"
	"github.com/procuredata/console/internal/lock"
	"github.com/procuredata/console/internal/ngsi"
	"github.com/procuredata/console/internal/observability"
	"github.com/procuredata/console/internal/proxy"
	"github.com/procuredata/console/internal/resilience"
	"github.com/procuredata/console/internal/security"
	"github.com/procuredata/console/internal/store"
	"github.com/procuredata/console/internal/store/memory"
	"github.com/procuredata/console/internal/store/postgres"
	"github.com/procuredata/console/internal/store/typesense"
)

var (
	// Build-time variables (set via ldflags)
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "procuredata-server",
		Short: "PROCUREDATA console server",
		Long:  "Data-space console: FIWARE proxy, NGSI-LD entities and the data access approval workflow.",
		RunE:  runServer,
	}
	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to configuration file")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("PROCUREDATA Server\n")
			fmt.Printf("Version: %s\n", version)
			fmt.Printf("Commit: %s\n", commit)
			fmt.Printf("Build Time: %s\n", buildTime)
		},
	})

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage database migrations",
	}
	migrateCmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply pending migrations",
			RunE: func(cmd *cobra.Command, args []string) error {
				return withMigrator(cmd, func(ctx context.Context, m *postgres.Migrator, logger zerolog.Logger) error {
					pending, err := m.Pending(ctx)
					if err != nil {
						return err
					}
					logger.Info().Strs("pending", pending).Msg("Applying migrations")
					return m.Run(ctx)
				})
			},
		},
		&cobra.Command{
			Use:   "reset",
			Short: "Drop all tables and re-apply every migration",
			RunE: func(cmd *cobra.Command, args []string) error {
				return withMigrator(cmd, func(ctx context.Context, m *postgres.Migrator, logger zerolog.Logger) error {
					logger.Warn().Msg("Resetting database")
					return m.Reset(ctx)
				})
			},
		},
	)
	rootCmd.AddCommand(migrateCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServer(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	obs, err := observability.NewManager(cfg.Tracing, cfg.Logging, cfg.Metrics)
	if err != nil {
		return fmt.Errorf("failed to initialize observability: %w", err)
	}
	observability.SetGlobalLogger(obs.Logger())
	logger := obs.Logger().GetZerologLogger()

	logger.Info().
		Str("version", version).
		Str("commit", commit).
		Str("build_time", buildTime).
		Str("config", getConfigSource(configPath)).
		Msg("Starting PROCUREDATA server")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	obs.Start(ctx, version, commit, buildTime)

	app, err := NewApplication(ctx, cfg, obs)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	defer app.Close()

	server := &http.Server{
		Addr:         cfg.GetServerAddress(),
		Handler:      app.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverChan := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", server.Addr).Msg("Server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverChan <- fmt.Errorf("server failed to start: %w", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverChan:
		return err
	case sig := <-quit:
		logger.Info().Str("signal", sig.String()).Msg("Received signal")
	}

	logger.Info().Msg("Shutting down server")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Server forced to shutdown")
		return err
	}
	if err := obs.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("Observability shutdown failed")
	}

	logger.Info().Msg("Server shutdown completed")
	return nil
}

func withMigrator(cmd *cobra.Command, fn func(context.Context, *postgres.Migrator, zerolog.Logger) error) error {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if cfg.Database.Driver != "postgres" {
		return fmt.Errorf("migrations need the postgres driver, got %q", cfg.Database.Driver)
	}

	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		return err
	}
	zl := logger.GetZerologLogger()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pgStore, err := postgres.NewPostgresStore(ctx, cfg.GetDatabaseURL(), poolConfig(cfg.Database))
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pgStore.Close()

	if err := fn(ctx, postgres.NewMigrator(pgStore.GetPool(), zl), zl); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	zl.Info().Msg("Database migrations completed")
	return nil
}

func poolConfig(db config.DatabaseConfig) postgres.PoolConfig {
	return postgres.PoolConfig{
		MaxConns:        db.MaxConns,
		MinConns:        db.MinConns,
		MaxConnLifetime: db.ConnMaxLifetime,
		MaxConnIdleTime: db.ConnMaxIdleTime,
	}
}

// Application holds all components of the console server.
type Application struct {
	cfg           *config.Config
	obs           *observability.Manager
	logger        zerolog.Logger
	primaryStore  store.PrimaryStore
	assetIndex    *typesense.AssetIndex
	cacheManager  *cache.Manager
	locker        lock.DistributedLock
	publisher     events.Publisher
	rateLimiter   *security.RateLimiter
	healthChecker *health.HealthChecker
	router        *api.Router
}

func NewApplication(ctx context.Context, cfg *config.Config, obs *observability.Manager) (*Application, error) {
	app := &Application{
		cfg:    cfg,
		obs:    obs,
		logger: obs.Logger().GetZerologLogger(),
	}
	ok := false
	defer func() {
		if !ok {
			app.Close()
		}
	}()

	if err := app.initStore(ctx); err != nil {
		return nil, err
	}
	if err := app.initIndex(ctx); err != nil {
		return nil, err
	}

	app.cacheManager = cache.NewManager(app.primaryStore, cfg.Cache.TTL, cache.WithRecorder(obs.Metrics()))
	if err := app.cacheManager.Preload(ctx, cfg.Cache.PreloadLimit); err != nil {
		app.logger.Warn().Err(err).Msg("Failed to preload asset cache")
	}
	app.cacheManager.StartCleanupRoutine(ctx, cfg.Cache.CleanupInterval)

	if err := app.initLock(ctx); err != nil {
		return nil, err
	}
	if err := app.initEvents(); err != nil {
		return nil, err
	}

	breakers := resilience.NewCircuitBreakerManager(cfg.Fiware.CircuitBreaker, app.logger)
	breakers.SetObserver(obs.Metrics().SetCircuitBreakerState)
	retry := resilience.NewRetryManager(cfg.Fiware.Retry, resilience.StrategyExponential)

	tokens := proxy.NewTokenCache(
		proxy.Credentials{Host: cfg.IDMHost(), User: cfg.Fiware.User, Password: cfg.Fiware.Password},
		proxy.TokenCacheConfig{TTL: cfg.Fiware.TokenTTL, Margin: cfg.Fiware.TokenMargin, LoginTimeout: cfg.Fiware.Timeout},
		proxy.WithTokenMetrics(obs.Metrics()),
		proxy.WithTokenLogger(app.logger),
	)
	forwarder := proxy.NewForwarder(
		proxy.Config{Host: cfg.Fiware.Host, Tenant: cfg.Fiware.Tenant, Timeout: cfg.Fiware.Timeout},
		tokens,
		proxy.WithUpstream(resilience.NewUpstream("fiware", breakers, retry)),
		proxy.WithObservability(obs),
	)
	if !forwarder.Configured() {
		app.logger.Warn().Msg("FIWARE host not configured, proxy is in standby")
	}
	fiwareClient := fiware.NewClient(forwarder)

	sanitizer := security.NewInputSanitizer(cfg.Security.Sanitizer)

	approvalService := approval.NewService(
		app.primaryStore, app.cacheManager, app.locker, app.publisher, obs, cfg.Workflow,
		approval.WithSanitizer(sanitizer),
	)

	var index store.AssetIndex
	if app.assetIndex != nil {
		index = app.assetIndex
	}
	catalogService := catalog.NewService(app.primaryStore, app.cacheManager, index, sanitizer, obs)

	idsPublisher := ids.NewPublisher(fiwareClient, app.primaryStore, sanitizer, app.logger, cfg.Fiware.IDS)

	app.healthChecker = health.NewHealthChecker(5*time.Second, health.WithLogger(app.logger))
	app.healthChecker.RegisterPinger("database", app.primaryStore, true)
	if app.assetIndex != nil {
		app.healthChecker.RegisterPinger("search", app.assetIndex, false)
	}
	if pinger, isPinger := app.locker.(health.Pinger); isPinger {
		app.healthChecker.RegisterPinger("redis", pinger, false)
	}
	app.healthChecker.RegisterPinger("fiware", fiwareClient, false)
	app.healthChecker.StartPeriodicChecks(ctx, 30*time.Second)

	if cfg.Security.RateLimit.Enabled {
		app.rateLimiter = security.NewRateLimiter(cfg.Security.RateLimit)
	}

	var verifier middleware.TokenVerifier
	if cfg.Auth.Mode == "oidc" {
		v, err := middleware.NewOIDCVerifier(ctx, cfg.Auth.Issuer, cfg.Auth.ClientID)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize OIDC verifier: %w", err)
		}
		verifier = v
	}

	app.router = api.NewRouter(api.Dependencies{
		Fiware:        fiwareClient,
		Adapter:       ngsi.NewAdapter(cfg.NGSI.AppContext),
		Catalog:       catalogService,
		Approval:      approvalService,
		Store:         app.primaryStore,
		Publisher:     idsPublisher,
		HealthChecker: app.healthChecker,
		Observability: obs,
		RateLimiter:   app.rateLimiter,
		Sanitizer:     sanitizer,
		Verifier:      verifier,
	}, api.Config{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		RequestTimeout: cfg.Server.RequestTimeout,
	})

	app.logger.Info().Str("auth_mode", cfg.Auth.Mode).Msg("Application initialization completed")
	ok = true
	return app, nil
}

func (app *Application) initStore(ctx context.Context) error {
	if app.cfg.Database.Driver == "memory" {
		app.logger.Warn().Msg("Using in-memory store, data is lost on restart")
		app.primaryStore = memory.NewStore()
		return nil
	}

	connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	pgStore, err := postgres.NewPostgresStore(connectCtx, app.cfg.GetDatabaseURL(), poolConfig(app.cfg.Database))
	if err != nil {
		return fmt.Errorf("failed to initialize PostgreSQL: %w", err)
	}
	app.primaryStore = pgStore
	app.logger.Info().Msg("PostgreSQL connection established")

	if app.cfg.Database.MigrateOnStart {
		if err := postgres.NewMigrator(pgStore.GetPool(), app.logger).Run(connectCtx); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
		app.logger.Info().Msg("Database migrations completed")
	}
	return nil
}

func (app *Application) initIndex(ctx context.Context) error {
	if !app.cfg.Typesense.Enabled {
		return nil
	}
	index, err := typesense.NewAssetIndex(&typesense.Config{
		ServerURL:         app.cfg.Typesense.URL,
		APIKey:            app.cfg.Typesense.APIKey,
		Collection:        app.cfg.Typesense.Collection,
		ConnectionTimeout: app.cfg.Typesense.Timeout,
	}, app.obs)
	if err != nil {
		return fmt.Errorf("failed to initialize Typesense: %w", err)
	}
	app.assetIndex = index

	if err := index.EnsureCollection(ctx); err != nil {
		// Search falls back to the primary store until the index is reachable.
		app.logger.Warn().Err(err).Msg("Typesense collection not ready")
	}
	return nil
}

func (app *Application) initLock(ctx context.Context) error {
	if !app.cfg.Redis.Enabled {
		app.locker = lock.NewInMemoryLock(app.cfg.Redis.MaxWait)
		return nil
	}
	redisLock, err := lock.NewRedisDistributedLock(ctx, lock.RedisLockConfig{
		Addr:      app.cfg.GetRedisAddr(),
		Password:  app.cfg.Redis.Password,
		DB:        app.cfg.Redis.DB,
		KeyPrefix: app.cfg.Redis.KeyPrefix,
		MaxWait:   app.cfg.Redis.MaxWait,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize Redis lock: %w", err)
	}
	app.locker = redisLock
	return nil
}

func (app *Application) initEvents() error {
	logPublisher := events.NewLogPublisher(app.logger)
	if !app.cfg.Kafka.Enabled {
		app.publisher = logPublisher
		return nil
	}
	kafkaPublisher, err := events.NewKafkaPublisher(app.cfg.Kafka.KafkaConfig, app.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize Kafka publisher: %w", err)
	}
	app.publisher = events.NewFanoutPublisher(logPublisher, kafkaPublisher)
	return nil
}

// Handler returns the HTTP handler for the application
func (app *Application) Handler() http.Handler {
	return app.router.SetupRoutes()
}

// Close releases every component that holds a connection.
func (app *Application) Close() error {
	var errs []error

	if app.rateLimiter != nil {
		app.rateLimiter.Stop()
	}
	if app.publisher != nil {
		if err := app.publisher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("event publisher close failed: %w", err))
		}
	}
	if app.locker != nil {
		if err := app.locker.Close(); err != nil {
			errs = append(errs, fmt.Errorf("lock close failed: %w", err))
		}
	}
	if app.assetIndex != nil {
		if err := app.assetIndex.Close(); err != nil {
			errs = append(errs, fmt.Errorf("asset index close failed: %w", err))
		}
	}
	if app.primaryStore != nil {
		if err := app.primaryStore.Close(); err != nil {
			errs = append(errs, fmt.Errorf("primary store close failed: %w", err))
		}
	}

	if len(errs) > 0 {
		for _, err := range errs {
			app.logger.Error().Err(err).Msg("Component failed to close")
		}
		return errors.Join(errs...)
	}
	app.logger.Info().Msg("Application closed")
	return nil
}

func getConfigSource(configPath string) string {
	if configPath != "" {
		return configPath
	}
	return "defaults and environment variables"
}
