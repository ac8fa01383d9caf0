package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"github.com/matwana-io/matwana-engine/pkg/config"
	"github.com/matwana-io/matwana-engine/pkg/crypto"
	"github.com/matwana-io/matwana-engine/pkg/database"
	"github.com/matwana-io/matwana-engine/pkg/fetchers"
	"github.com/matwana-io/matwana-engine/pkg/handlers"
	"github.com/matwana-io/matwana-engine/pkg/middleware"
	"github.com/matwana-io/matwana-engine/pkg/repositories"
	"github.com/matwana-io/matwana-engine/pkg/retry"
	"github.com/matwana-io/matwana-engine/pkg/services"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := newLogger(cfg.Env)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck // stderr sync failure is not actionable

	logger.Info("configuration loaded",
		zap.String("environment", cfg.Env),
		zap.String("version", cfg.Version),
		zap.Bool("auth_verification", cfg.Auth.EnableVerification),
		zap.String("database", cfg.Database.Host),
		zap.String("redis", cfg.Redis.Host))

	ctx := context.Background()

	// Migrations run over database/sql; the pool below is pgx-native.
	migrationDB, err := sql.Open("pgx", cfg.Database.URL())
	if err != nil {
		logger.Fatal("failed to open migration connection", zap.Error(err))
	}
	if err := retry.Do(ctx, retry.DefaultConfig(), func() error {
		return database.RunMigrations(migrationDB, cfg.Database.MigrationsPath, logger)
	}); err != nil {
		logger.Fatal("failed to run migrations", zap.Error(err))
	}
	_ = migrationDB.Close()

	db, err := retry.DoWithResult(ctx, retry.DefaultConfig(), func() (*database.DB, error) {
		return database.NewConnection(ctx, &database.Config{
			URL:            cfg.Database.URL(),
			MaxConnections: cfg.Database.MaxConnections,
		})
	})
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	redisClient, err := database.NewRedisClient(&cfg.Redis)
	if err != nil {
		logger.Fatal("failed to connect to redis", zap.Error(err))
	}
	if redisClient != nil {
		defer redisClient.Close() //nolint:errcheck
	}

	encryptor, err := crypto.NewCredentialEncryptor(cfg.CredentialsKey)
	if err != nil {
		logger.Fatal("failed to initialize credential encryption", zap.Error(err))
	}

	// Upload and document sources read from here.
	if err := os.MkdirAll(cfg.Uploads.Dir, 0o755); err != nil {
		logger.Fatal("failed to create uploads directory",
			zap.String("dir", cfg.Uploads.Dir), zap.Error(err))
	}

	// Repositories
	orgRepo := repositories.NewOrganizationRepository()
	dsRepo := repositories.NewDataSourceRepository()
	widgetRepo := repositories.NewWidgetRepository()
	dashboardRepo := repositories.NewDashboardRepository()
	logRepo := repositories.NewRefreshLogRepository()

	// Fetch pipeline
	dispatcher := fetchers.NewDispatcher(&cfg.Fetcher, encryptor, logger)
	payloadCache := services.NewPayloadCache(redisClient, logger)
	notifier := services.NewLogNotifier(logger)
	fetcher := services.NewDataFetcher(dispatcher, dsRepo, logRepo, payloadCache, notifier, logger)

	// Services
	processor := services.NewWidgetProcessor(logger)
	dsService := services.NewDataSourceService(dsRepo, logRepo, widgetRepo, fetcher, encryptor, payloadCache, logger)
	widgetService := services.NewWidgetService(widgetRepo, dsRepo, fetcher, processor, logger)
	dashboardService := services.NewDashboardService(dashboardRepo, widgetRepo, dsRepo, fetcher, processor, logger)

	scheduler := services.NewRefreshScheduler(&cfg.Scheduler, db, dsRepo, logRepo, fetcher, logger)
	if err := scheduler.Start(); err != nil {
		logger.Fatal("failed to start refresh scheduler", zap.Error(err))
	}
	defer scheduler.Stop()

	// HTTP surface
	authMiddleware := middleware.NewAuthMiddleware(&cfg.Auth, logger)
	tenantMiddleware := middleware.NewTenantMiddleware(database.NewTenantScopeProvider(db), logger)

	mux := http.NewServeMux()
	handlers.NewHealthHandler(cfg, logger).RegisterRoutes(mux)
	handlers.NewOrganizationsHandler(orgRepo, logger).RegisterRoutes(mux, authMiddleware, tenantMiddleware)
	handlers.NewDataSourcesHandler(dsService, logger).RegisterRoutes(mux, authMiddleware, tenantMiddleware)
	handlers.NewWidgetsHandler(widgetService, logger).RegisterRoutes(mux, authMiddleware, tenantMiddleware)
	handlers.NewDashboardsHandler(dashboardService, logger).RegisterRoutes(mux, authMiddleware, tenantMiddleware)

	server := &http.Server{
		Addr:    cfg.BindAddr + ":" + cfg.Port,
		Handler: mux,
	}

	go func() {
		logger.Info("starting matwana-engine",
			zap.String("addr", server.Addr),
			zap.String("version", cfg.Version))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func newLogger(env string) (*zap.Logger, error) {
	if env == "local" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
