package internal

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Env             string
	Port            int
	LogLevel        string
	DefaultLanguage string

	// Session store: "memory", "sqlite" or "postgres"
	SessionStore string
	DatabaseUrl  string // required for postgres
	SQLitePath   string
	SessionTTL   time.Duration // idle sessions older than this are purged; 0 disables
	PurgeEvery   time.Duration

	// Archive storage for exported reports
	StorageProvider string // "local" or "r2"
	ArchiveExports  bool

	// Local Storage (development)
	LocalStoragePath string // Base directory for local file storage
	LocalStorageURL  string // Base URL for accessing local files

	// R2 Storage (production)
	R2AccountID       string
	R2AccessKeyID     string
	R2SecretAccessKey string
	R2BucketName      string
	R2PublicURL       string // Optional custom domain URL
	R2Endpoint        string // Optional S3-compatible endpoint override

	// Export branding
	LogoPath      string // file path or http(s) URL; empty disables the logo
	LogoMaxWidth  int
	LogoMaxHeight int

	// Request limits
	MaxRestoreBytes   int64
	ExportsPerMinute  int
	RestoresPerMinute int

	// Metrics endpoint authentication
	// If both are empty, the /metrics endpoint will be unprotected (not recommended)
	MetricsUsername string
	MetricsPassword string
}

func NewConfig() (*Config, error) {
	// Load .env file if it exists (ignored in production)
	_ = godotenv.Load()

	cfg := &Config{
		Env:             getEnv("ENV", "development"),
		Port:            getEnvInt("PORT", 8080),
		LogLevel:        getEnv("LOG_LEVEL", "debug"),
		DefaultLanguage: getEnv("DEFAULT_LANGUAGE", "en"),

		// Sessions default to process memory for development
		SessionStore: strings.ToLower(getEnv("SESSION_STORE", "memory")),
		DatabaseUrl:  os.Getenv("DATABASE_URL"),
		SQLitePath:   getEnv("SQLITE_PATH", "./data/eightd.db"),
		SessionTTL:   getEnvDuration("SESSION_TTL", 24*time.Hour),
		PurgeEvery:   getEnvDuration("SESSION_PURGE_INTERVAL", 10*time.Minute),

		// Storage defaults to local filesystem for development
		StorageProvider:  getEnv("STORAGE_PROVIDER", "local"),
		ArchiveExports:   getEnvBool("ARCHIVE_EXPORTS", false),
		LocalStoragePath: getEnv("LOCAL_STORAGE_PATH", "./storage"),
		LocalStorageURL:  getEnv("LOCAL_STORAGE_URL", "http://localhost:8080/files"),

		// R2 configuration (production only)
		R2AccountID:       getEnv("R2_ACCOUNT_ID", ""),
		R2AccessKeyID:     getEnv("R2_ACCESS_KEY_ID", ""),
		R2SecretAccessKey: getEnv("R2_SECRET_ACCESS_KEY", ""),
		R2BucketName:      getEnv("R2_BUCKET_NAME", ""),
		R2PublicURL:       getEnv("R2_PUBLIC_URL", ""),
		R2Endpoint:        getEnv("R2_ENDPOINT", ""),

		LogoPath:      getEnv("LOGO_PATH", ""),
		LogoMaxWidth:  getEnvInt("LOGO_MAX_WIDTH", 240),
		LogoMaxHeight: getEnvInt("LOGO_MAX_HEIGHT", 80),

		MaxRestoreBytes:   int64(getEnvInt("MAX_RESTORE_BYTES", 1<<20)),
		ExportsPerMinute:  getEnvInt("EXPORTS_PER_MINUTE", 30),
		RestoresPerMinute: getEnvInt("RESTORES_PER_MINUTE", 10),

		// Metrics authentication
		MetricsUsername: getEnv("METRICS_USERNAME", ""),
		MetricsPassword: getEnv("METRICS_PASSWORD", ""),
	}

	// Validate session store configuration
	switch cfg.SessionStore {
	case "memory":
	case "sqlite":
		if cfg.SQLitePath == "" {
			return nil, fmt.Errorf("SQLITE_PATH is required when SESSION_STORE is 'sqlite'")
		}
	case "postgres":
		if cfg.DatabaseUrl == "" {
			return nil, fmt.Errorf("DATABASE_URL is required when SESSION_STORE is 'postgres'")
		}
	default:
		return nil, fmt.Errorf("SESSION_STORE must be 'memory', 'sqlite' or 'postgres', got: %s", cfg.SessionStore)
	}

	// Validate storage configuration
	if cfg.StorageProvider == "r2" {
		if cfg.R2AccountID == "" && cfg.R2Endpoint == "" {
			return nil, fmt.Errorf("R2_ACCOUNT_ID or R2_ENDPOINT is required when STORAGE_PROVIDER is 'r2'")
		}
		if cfg.R2AccessKeyID == "" {
			return nil, fmt.Errorf("R2_ACCESS_KEY_ID is required when STORAGE_PROVIDER is 'r2'")
		}
		if cfg.R2SecretAccessKey == "" {
			return nil, fmt.Errorf("R2_SECRET_ACCESS_KEY is required when STORAGE_PROVIDER is 'r2'")
		}
		if cfg.R2BucketName == "" {
			return nil, fmt.Errorf("R2_BUCKET_NAME is required when STORAGE_PROVIDER is 'r2'")
		}
	} else if cfg.StorageProvider != "local" {
		return nil, fmt.Errorf("STORAGE_PROVIDER must be either 'local' or 'r2', got: %s", cfg.StorageProvider)
	}

	if cfg.MaxRestoreBytes <= 0 {
		return nil, fmt.Errorf("MAX_RESTORE_BYTES must be positive, got: %d", cfg.MaxRestoreBytes)
	}
	if cfg.ExportsPerMinute <= 0 || cfg.RestoresPerMinute <= 0 {
		return nil, fmt.Errorf("EXPORTS_PER_MINUTE and RESTORES_PER_MINUTE must be positive")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}
