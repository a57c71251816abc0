package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	_ "github.com/jackc/pgx/v5/stdlib" // database/sql driver for migrations
	"go.uber.org/zap"

	"github.com/coursedeck/guest-engine/pkg/config"
	"github.com/coursedeck/guest-engine/pkg/database"
	"github.com/coursedeck/guest-engine/pkg/handlers"
	"github.com/coursedeck/guest-engine/pkg/logging"
	"github.com/coursedeck/guest-engine/pkg/pseudonym"
	"github.com/coursedeck/guest-engine/pkg/repositories"
	"github.com/coursedeck/guest-engine/pkg/services"
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
	defer func() { _ = logger.Sync() }()

	logger.Info("Configuration loaded",
		zap.String("environment", cfg.Env),
		zap.String("storage", cfg.Storage),
		zap.Int("session_ttl_minutes", cfg.Guest.SessionTTLMinutes),
		zap.Int("retention_days", cfg.Guest.RetentionDays))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	key, err := pseudonym.KeyFromString(cfg.PseudonymSecretKey)
	if err != nil {
		logger.Fatal("Failed to derive pseudonymization key", zap.Error(err))
	}
	hasher, err := pseudonym.NewEngine(key)
	if err != nil {
		logger.Fatal("Failed to create pseudonymization engine", zap.Error(err))
	}

	var sessionRepo repositories.SessionRepository
	var auditRepo repositories.AuditRepository
	var consentRepo repositories.ConsentRepository

	if cfg.Storage == config.StoragePostgres {
		db, err := database.Connect(ctx, &cfg.Database)
		if err != nil {
			logger.Fatal("Failed to connect to database",
				zap.String("error", logging.SanitizeError(err)))
		}
		defer db.Close()

		sqlDB, err := sql.Open("pgx", cfg.Database.ConnectionString())
		if err != nil {
			logger.Fatal("Failed to open migration connection",
				zap.String("error", logging.SanitizeError(err)))
		}
		if err := database.RunMigrations(sqlDB, cfg.MigrationsPath, logger); err != nil {
			logger.Fatal("Failed to run migrations", zap.Error(err))
		}
		_ = sqlDB.Close()

		sessionRepo = repositories.NewPostgresSessionRepository(db)
		auditRepo = repositories.NewPostgresAuditRepository(db)
		consentRepo = repositories.NewPostgresConsentRepository(db)
	} else {
		sessionRepo = repositories.NewMemorySessionRepository()
		auditRepo = repositories.NewMemoryAuditRepository()
		consentRepo = repositories.NewMemoryConsentRepository()
	}

	engine := services.NewEngine(sessionRepo, auditRepo, consentRepo, hasher, key,
		services.EngineConfig{
			SessionTTL:        time.Duration(cfg.Guest.SessionTTLMinutes) * time.Minute,
			AIRequestsLimit:   cfg.Guest.AIRequestsLimit,
			DeletionGraceDays: cfg.Guest.DeletionGraceDays,
		}, clock.New(), logger)

	engine.Lifecycle.RunScheduler(ctx,
		time.Duration(cfg.Guest.SweepIntervalMinutes)*time.Minute,
		cfg.Guest.RetentionDays)

	mux := http.NewServeMux()
	healthHandler := handlers.NewHealthHandler(cfg, logger)
	healthHandler.RegisterRoutes(mux)

	server := &http.Server{
		Addr:    cfg.BindAddr + ":" + cfg.Port,
		Handler: mux,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Server shutdown failed", zap.Error(err))
		}
	}()

	logger.Info("Starting guest-engine",
		zap.String("addr", server.Addr),
		zap.String("version", cfg.Version))
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal("Server failed", zap.Error(err))
	}
}

func newLogger(env string) (*zap.Logger, error) {
	if env == "local" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
