package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/farmer-power/collection-engine/pkg/auth"
	"github.com/farmer-power/collection-engine/pkg/blobstore"
	"github.com/farmer-power/collection-engine/pkg/config"
	"github.com/farmer-power/collection-engine/pkg/database"
	"github.com/farmer-power/collection-engine/pkg/events"
	"github.com/farmer-power/collection-engine/pkg/extraction"
	"github.com/farmer-power/collection-engine/pkg/handlers"
	"github.com/farmer-power/collection-engine/pkg/llm"
	"github.com/farmer-power/collection-engine/pkg/logging"
	"github.com/farmer-power/collection-engine/pkg/mcp"
	"github.com/farmer-power/collection-engine/pkg/middleware"
	"github.com/farmer-power/collection-engine/pkg/repositories"
	"github.com/farmer-power/collection-engine/pkg/services"
	"github.com/farmer-power/collection-engine/pkg/sources"
)

// Version is set at build time via ldflags
var Version = "dev"

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load(Version)
	if err != nil {
		// No logger yet.
		_, _ = os.Stderr.WriteString("Failed to load config: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger := newLogger(cfg.Env)
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("Server failed", zap.String("error", logging.SanitizeError(err)))
	}
}

func newLogger(env string) *zap.Logger {
	var logger *zap.Logger
	var err error
	if env == "local" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return zap.NewNop()
	}
	return logger.With(zap.String("service", "collection-engine"))
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("Configuration loaded",
		zap.String("env", cfg.Env),
		zap.String("version", cfg.Version),
		zap.String("base_url", cfg.BaseURL),
		zap.Bool("auth_enabled", cfg.Auth.Enabled),
		zap.String("database", logging.SanitizeConnectionString(cfg.Database.URL())),
		zap.String("blob_mode", cfg.BlobStore.Mode),
		zap.String("extraction_provider", cfg.Extraction.Provider),
		zap.String("events_mode", cfg.Events.Mode),
		zap.Bool("pull_enabled", cfg.Pull.Enabled))

	registry, err := sources.Load(cfg.SourcesFile)
	if err != nil {
		return err
	}
	logger.Info("Source registry loaded", zap.Int("sources", len(registry.List())))

	db, err := database.NewConnection(ctx, &database.Config{
		URL:            cfg.Database.URL(),
		MaxConnections: cfg.Database.MaxConnections,
	})
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.Migrate(cfg.MigrationsPath, logger); err != nil {
		return err
	}

	redisClient, err := database.NewRedisClient(ctx, &cfg.Redis)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer func() { _ = redisClient.Close() }()
	}

	blobs, err := blobstore.New(ctx, cfg.BlobStore, logger)
	if err != nil {
		return err
	}
	if closer, ok := blobs.(interface{ Close() error }); ok {
		defer func() { _ = closer.Close() }()
	}

	publisher, err := events.New(cfg.Events, redisClient, logger)
	if err != nil {
		return err
	}

	extractor, err := newExtractor(cfg.Extraction, logger)
	if err != nil {
		return err
	}
	logger.Info("Extraction ready", zap.String("default_engine", extractor.DefaultEngine()))

	docRepo := repositories.NewDocumentRepository(db)
	idemRepo := repositories.NewIdempotencyRepository(db)
	reconRepo := repositories.NewReconciliationRepository(db)
	outboxRepo := repositories.NewOutboxRepository(db)

	writer := services.NewDocumentWriter(blobs, docRepo, reconRepo, outboxRepo, publisher, cfg.Ingestion, logger)
	ingest := services.NewIngestionService(registry, extractor, writer, docRepo, idemRepo, cfg.Ingestion, logger)
	retrieval := services.NewRetrievalService(docRepo, blobs, cfg.Ingestion, logger)
	reconciler := services.NewReconciliationService(reconRepo, outboxRepo, docRepo, idemRepo, blobs, publisher, cfg.Reconciliation, logger)

	reconciler.RunScheduler(ctx)
	if cfg.Pull.Enabled {
		services.NewPullService(registry, ingest, nil, cfg.Pull, logger).RunScheduler(ctx)
	}

	authMiddleware, closeAuth, err := newAuthMiddleware(cfg.Auth, logger)
	if err != nil {
		return err
	}
	defer closeAuth()

	mux := http.NewServeMux()
	handlers.NewHealthHandler(cfg, healthChecks(db, redisClient), logger).RegisterRoutes(mux)
	handlers.NewIngestHandler(ingest, cfg.Ingestion, logger).RegisterRoutes(mux, authMiddleware)
	handlers.NewDocumentsHandler(retrieval, logger).RegisterRoutes(mux)
	handlers.NewOperationsHandler(reconciler, registry, logger).RegisterRoutes(mux)

	mcpServer := mcp.NewServer("collection-engine", cfg.Version, logger)
	mcpServer.RegisterTools(mcp.ToolDeps{
		Version:    cfg.Version,
		Retrieval:  retrieval,
		Reconciler: reconciler,
	})
	mcpServer.RegisterRoutes(mux)

	srv := newHTTPServer(net.JoinHostPort(cfg.BindAddr, cfg.Port), middleware.RequestLogger(logger)(mux))

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting collection-engine",
			zap.String("addr", srv.Addr),
			zap.Bool("tls", cfg.TLSCertPath != ""))
		var err error
		if cfg.TLSCertPath != "" {
			err = srv.ListenAndServeTLS(cfg.TLSCertPath, cfg.TLSKeyPath)
		} else {
			err = srv.ListenAndServe()
		}
		if !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Graceful shutdown failed", zap.Error(err))
		return err
	}
	return nil
}

// newHTTPServer builds the API server. Request contexts do not derive from
// the signal context: a shutdown drains in-flight requests instead of
// cancelling them.
func newHTTPServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// newExtractor routes sources to the language-model agent when a provider
// is configured, and to direct mapping otherwise.
func newExtractor(cfg config.ExtractionConfig, logger *zap.Logger) (*extraction.Router, error) {
	direct := extraction.NewDirectExtractor(logger)

	client, err := llm.NewFromConfig(cfg, logger)
	if err != nil {
		return nil, err
	}
	if client == nil {
		return extraction.NewRouter(nil, direct, logger), nil
	}

	agent := extraction.NewAgentAdapter(client, extraction.AgentConfig{
		Timeout:     cfg.Timeout,
		Temperature: cfg.Temperature,
		Breaker: llm.CircuitBreakerConfig{
			Threshold:  cfg.BreakerThreshold,
			ResetAfter: cfg.BreakerReset,
		},
	}, logger)
	return extraction.NewRouter(agent, direct, logger), nil
}

// newAuthMiddleware returns a pass-through middleware when auth is disabled.
func newAuthMiddleware(cfg config.AuthConfig, logger *zap.Logger) (*auth.Middleware, func(), error) {
	if !cfg.Enabled {
		logger.Warn("Producer authentication is disabled")
		return auth.NewMiddleware(nil, logger), func() {}, nil
	}

	validator, err := auth.NewJWTValidator(auth.ValidatorConfig{
		JWKSURL:      cfg.JWKSURL,
		SharedSecret: cfg.SharedSecret,
		Issuer:       cfg.Issuer,
	})
	if err != nil {
		return nil, nil, err
	}
	return auth.NewMiddleware(auth.NewAuthService(validator, logger), logger), validator.Close, nil
}

func healthChecks(db *database.DB, redisClient *redis.Client) map[string]handlers.HealthCheck {
	checks := map[string]handlers.HealthCheck{
		"database": db.Ping,
	}
	if redisClient != nil {
		checks["redis"] = func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}
	}
	return checks
}
