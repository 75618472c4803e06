package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/DukeRupert/eightd/internal"
	"github.com/DukeRupert/eightd/internal/handler"
	"github.com/DukeRupert/eightd/internal/i18n"
	"github.com/DukeRupert/eightd/internal/metrics"
	"github.com/DukeRupert/eightd/internal/middleware"
	"github.com/DukeRupert/eightd/internal/report"
	"github.com/DukeRupert/eightd/internal/repository"
	"github.com/DukeRupert/eightd/internal/service"
	"github.com/DukeRupert/eightd/internal/storage"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func run() error {
	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// Load configuration
	cfg, err := internal.NewConfig()
	if err != nil {
		return fmt.Errorf("config initialization failed: %w", err)
	}

	// Configure logger
	logger := internal.NewLogger(os.Stdout, cfg.Env, cfg.LogLevel)

	// Initialize session store
	store, closeStore, err := openSessionStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()
	logger.Info("Session store ready", "backend", cfg.SessionStore)

	// Initialize archive storage
	var archive storage.Storage
	if cfg.ArchiveExports {
		archive, err = openStorage(cfg, logger)
		if err != nil {
			return fmt.Errorf("storage initialization failed: %w", err)
		}
	}

	labels, err := i18n.Default()
	if err != nil {
		return fmt.Errorf("label table initialization failed: %w", err)
	}

	var logo *report.LogoLoader
	if cfg.LogoPath != "" {
		logo = report.NewLogoLoader(cfg.LogoPath, cfg.LogoMaxWidth, cfg.LogoMaxHeight, nil)
	}

	// Initialize services
	reportService := service.NewReportService(service.ReportServiceConfig{
		Store:           store,
		Labels:          labels,
		Logger:          logger,
		Storage:         archive,
		Logo:            logo,
		DefaultLanguage: cfg.DefaultLanguage,
		SessionTTL:      cfg.SessionTTL,
		ArchiveExports:  cfg.ArchiveExports,
	})

	// Initialize middleware
	isSecure := cfg.Env != "development"
	exportLimiter := middleware.NewExportRateLimiter(cfg.ExportsPerMinute, cfg.RestoresPerMinute, logger)
	defer exportLimiter.Close()
	metricsAuth := middleware.NewMetricsAuthMiddleware(cfg.MetricsUsername, cfg.MetricsPassword)
	if !metricsAuth.Enabled() {
		logger.Warn("Metrics endpoint is not protected; set METRICS_USERNAME and METRICS_PASSWORD")
	}

	// Initialize handlers
	reportHandler := handler.NewReportHandler(reportService, logger, cfg.MaxRestoreBytes)

	// ==========================================================================
	// Create router and register routes
	// ==========================================================================

	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		if err := store.Ping(r.Context()); err != nil {
			logger.Error("Health check failed", "error", err)
			http.Error(w, "session store unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Prometheus metrics
	mux.Handle("GET /metrics", metricsAuth.Handler(promhttp.Handler()))

	// Archived exports on local disk
	if cfg.ArchiveExports && cfg.StorageProvider == storage.ProviderLocal {
		files := http.FileServer(http.Dir(cfg.LocalStoragePath))
		mux.Handle("GET /files/", http.StripPrefix("/files/", files))
	}

	// Report API
	reportHandler.RegisterRoutes(mux, exportLimiter.LimitExport, exportLimiter.LimitRestore)

	global := middleware.Stack(
		metrics.Middleware(mux),
		middleware.NewRequestLoggingMiddleware(logger).Handler,
		middleware.NewSecurityHeadersMiddleware(isSecure).Handler,
	)

	// ==========================================================================
	// Background session purge
	// ==========================================================================

	go purgeSessions(ctx, reportService, cfg.PurgeEvery, logger)

	// ==========================================================================
	// Start server
	// ==========================================================================

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           global(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Channel to listen for interrupt signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// Start server in goroutine
	go func() {
		logger.Info("Server started", "address", server.Addr, "env", cfg.Env)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Server failed", "error", err)
		}
	}()

	// Wait for interrupt signal
	<-sigChan
	logger.Info("Shutdown signal received, initiating graceful shutdown...")
	stop()

	// Create shutdown context with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", "error", err)
	}

	logger.Info("Graceful shutdown complete")
	return nil
}

// openSessionStore opens the configured session backend and runs its
// migrations. The returned func releases the database, if any.
func openSessionStore(ctx context.Context, cfg *internal.Config) (repository.SessionStore, func(), error) {
	var (
		db      *sql.DB
		dialect string
		err     error
	)

	switch cfg.SessionStore {
	case "memory":
		return repository.NewMemoryStore(), func() {}, nil
	case "sqlite":
		dialect = repository.DialectSQLite
		db, err = repository.OpenSQLite(cfg.SQLitePath)
	case "postgres":
		dialect = repository.DialectPostgres
		db, err = repository.OpenPostgres(ctx, cfg.DatabaseUrl)
	default:
		return nil, nil, fmt.Errorf("unsupported session store %q", cfg.SessionStore)
	}
	if err != nil {
		return nil, nil, err
	}

	if err := internal.RunMigrations(db, dialect); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("migration failed: %w", err)
	}

	store, err := repository.NewSQLStore(db, dialect)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	return store, func() { db.Close() }, nil
}

func openStorage(cfg *internal.Config, logger *slog.Logger) (storage.Storage, error) {
	switch cfg.StorageProvider {
	case storage.ProviderR2:
		return storage.NewR2Storage(storage.R2Config{
			AccountID:       cfg.R2AccountID,
			AccessKeyID:     cfg.R2AccessKeyID,
			SecretAccessKey: cfg.R2SecretAccessKey,
			BucketName:      cfg.R2BucketName,
			PublicURL:       cfg.R2PublicURL,
			Endpoint:        cfg.R2Endpoint,
		}, logger)
	default:
		return storage.NewLocalStorage(storage.LocalConfig{
			BasePath: cfg.LocalStoragePath,
			BaseURL:  cfg.LocalStorageURL,
		}, logger)
	}
}

func purgeSessions(ctx context.Context, svc service.ReportService, every time.Duration, logger *slog.Logger) {
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := svc.PurgeExpired(ctx)
			if err != nil {
				logger.Error("Session purge failed", "error", err)
				continue
			}
			if n > 0 {
				logger.Info("Purged expired sessions", "count", n)
			}
		}
	}
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
