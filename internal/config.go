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
	Env         string
	Port        int
	LogLevel    string
	DatabaseUrl string

	// Bearer token the bot glue presents on /v1 routes.
	// Required outside development.
	APIToken string

	// Telegram ids allowed to call admin operations.
	AdminIDs []int64

	// CryptoBot gateway. Disabled when the token is empty.
	CryptoBotToken        string
	CryptoBotAsset        string
	CryptoBotAPIURL       string
	CryptoBotPollInterval time.Duration
	CryptoBotPollTimeout  time.Duration

	// Stripe Checkout gateway. Disabled when the secret key is empty.
	StripeSecretKey     string // sk_test_... or sk_live_...
	StripeWebhookSecret string // whsec_...
	StripeSuccessURL    string
	StripeCancelURL     string

	// Storage Configuration
	StorageProvider string // "local" or "r2"

	// Local Storage (development)
	LocalStoragePath string // Base directory for captured media
	LocalStorageURL  string // Base URL for accessing captured media

	// R2 Storage (production)
	R2AccountID       string
	R2AccessKeyID     string
	R2SecretAccessKey string
	R2BucketName      string
	R2PublicURL       string // Optional custom domain URL

	// Worker Configuration
	WorkerEnabled       bool
	WorkerConcurrency   int
	WorkerPollInterval  time.Duration
	WorkerJobTimeout    time.Duration
	WorkerStaleJobAfter time.Duration

	// Message cache
	PurgeInterval   time.Duration
	PurgeBatchSize  int
	RecentCacheSize int
	MediaMaxSize    int64
	MediaURLExpiry  time.Duration

	// Checkout attempts allowed per user in each window.
	CheckoutRateLimit  int
	CheckoutRateWindow time.Duration

	// Metrics endpoint authentication
	// If both are empty, the /metrics endpoint will be unprotected (not recommended)
	MetricsUsername string
	MetricsPassword string
}

func NewConfig() (*Config, error) {
	// Load .env file if it exists (ignored in production)
	_ = godotenv.Load()

	cfg := &Config{
		Env:      getEnv("ENV", "development"),
		Port:     getEnvInt("PORT", 8080),
		LogLevel: getEnv("LOG_LEVEL", "debug"),

		APIToken: getEnv("API_TOKEN", ""),

		CryptoBotToken:        getEnv("CRYPTOBOT_TOKEN", ""),
		CryptoBotAsset:        getEnv("CRYPTOBOT_ASSET", "USDT"),
		CryptoBotAPIURL:       getEnv("CRYPTOBOT_API_URL", "https://pay.crypt.bot/api/"),
		CryptoBotPollInterval: getEnvDuration("CRYPTOBOT_POLL_INTERVAL", 5*time.Second),
		CryptoBotPollTimeout:  getEnvDuration("CRYPTOBOT_POLL_TIMEOUT", 5*time.Minute),

		StripeSecretKey:     getEnv("STRIPE_SECRET_KEY", ""),
		StripeWebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),
		StripeSuccessURL:    getEnv("STRIPE_SUCCESS_URL", "https://t.me"),
		StripeCancelURL:     getEnv("STRIPE_CANCEL_URL", "https://t.me"),

		// Storage defaults to local filesystem for development
		StorageProvider:  getEnv("STORAGE_PROVIDER", "local"),
		LocalStoragePath: getEnv("LOCAL_STORAGE_PATH", "./storage"),
		LocalStorageURL:  getEnv("LOCAL_STORAGE_URL", "http://localhost:8080/files"),

		// R2 configuration (production only)
		R2AccountID:       getEnv("R2_ACCOUNT_ID", ""),
		R2AccessKeyID:     getEnv("R2_ACCESS_KEY_ID", ""),
		R2SecretAccessKey: getEnv("R2_SECRET_ACCESS_KEY", ""),
		R2BucketName:      getEnv("R2_BUCKET_NAME", ""),
		R2PublicURL:       getEnv("R2_PUBLIC_URL", ""),

		// Worker defaults
		WorkerEnabled:       getEnvBool("WORKER_ENABLED", true),
		WorkerConcurrency:   getEnvInt("WORKER_CONCURRENCY", 2),
		WorkerPollInterval:  getEnvDuration("WORKER_POLL_INTERVAL", 2*time.Second),
		WorkerJobTimeout:    getEnvDuration("WORKER_JOB_TIMEOUT", 6*time.Minute),
		WorkerStaleJobAfter: getEnvDuration("WORKER_STALE_JOB_THRESHOLD", 15*time.Minute),

		PurgeInterval:   getEnvDuration("PURGE_INTERVAL", 10*time.Minute),
		PurgeBatchSize:  getEnvInt("PURGE_BATCH_SIZE", 500),
		RecentCacheSize: getEnvInt("RECENT_CACHE_SIZE", 512),
		MediaMaxSize:    int64(getEnvInt("MEDIA_MAX_SIZE", 20<<20)),
		MediaURLExpiry:  getEnvDuration("MEDIA_URL_EXPIRY", time.Hour),

		CheckoutRateLimit:  getEnvInt("CHECKOUT_RATE_LIMIT", 5),
		CheckoutRateWindow: getEnvDuration("CHECKOUT_RATE_WINDOW", time.Minute),

		// Metrics authentication
		MetricsUsername: getEnv("METRICS_USERNAME", ""),
		MetricsPassword: getEnv("METRICS_PASSWORD", ""),
	}

	// Parse admin ids from comma-separated environment variable
	adminIDs, err := parseIDList(getEnv("ADMIN_IDS", ""))
	if err != nil {
		return nil, fmt.Errorf("ADMIN_IDS: %w", err)
	}
	cfg.AdminIDs = adminIDs

	// Required
	cfg.DatabaseUrl = os.Getenv("DATABASE_URL")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required settings and cross-field constraints.
func (c *Config) Validate() error {
	if c.DatabaseUrl == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.APIToken == "" && !c.IsDevelopment() {
		return fmt.Errorf("API_TOKEN is required when ENV is not 'development'")
	}

	// Validate storage configuration
	if c.StorageProvider == "r2" {
		if c.R2AccountID == "" {
			return fmt.Errorf("R2_ACCOUNT_ID is required when STORAGE_PROVIDER is 'r2'")
		}
		if c.R2AccessKeyID == "" {
			return fmt.Errorf("R2_ACCESS_KEY_ID is required when STORAGE_PROVIDER is 'r2'")
		}
		if c.R2SecretAccessKey == "" {
			return fmt.Errorf("R2_SECRET_ACCESS_KEY is required when STORAGE_PROVIDER is 'r2'")
		}
		if c.R2BucketName == "" {
			return fmt.Errorf("R2_BUCKET_NAME is required when STORAGE_PROVIDER is 'r2'")
		}
	} else if c.StorageProvider != "local" {
		return fmt.Errorf("STORAGE_PROVIDER must be either 'local' or 'r2', got: %s", c.StorageProvider)
	}

	if c.CryptoBotPollInterval <= 0 {
		return fmt.Errorf("CRYPTOBOT_POLL_INTERVAL must be positive, got %v", c.CryptoBotPollInterval)
	}
	if c.CryptoBotPollTimeout < c.CryptoBotPollInterval {
		return fmt.Errorf("CRYPTOBOT_POLL_TIMEOUT (%v) must not be shorter than CRYPTOBOT_POLL_INTERVAL (%v)",
			c.CryptoBotPollTimeout, c.CryptoBotPollInterval)
	}
	// A settlement job polls for the whole poll timeout before it settles.
	if c.WorkerJobTimeout <= c.CryptoBotPollTimeout {
		return fmt.Errorf("WORKER_JOB_TIMEOUT (%v) must exceed CRYPTOBOT_POLL_TIMEOUT (%v)",
			c.WorkerJobTimeout, c.CryptoBotPollTimeout)
	}

	if c.RecentCacheSize < 1 {
		return fmt.Errorf("RECENT_CACHE_SIZE must be at least 1, got %d", c.RecentCacheSize)
	}
	if c.PurgeInterval < time.Second {
		return fmt.Errorf("PURGE_INTERVAL must be at least 1 second, got %v", c.PurgeInterval)
	}
	if c.PurgeBatchSize < 1 {
		return fmt.Errorf("PURGE_BATCH_SIZE must be at least 1, got %d", c.PurgeBatchSize)
	}
	if c.MediaMaxSize < 1 {
		return fmt.Errorf("MEDIA_MAX_SIZE must be at least 1, got %d", c.MediaMaxSize)
	}
	if c.MediaURLExpiry < time.Minute {
		return fmt.Errorf("MEDIA_URL_EXPIRY must be at least 1 minute, got %v", c.MediaURLExpiry)
	}
	if c.CheckoutRateLimit < 1 {
		return fmt.Errorf("CHECKOUT_RATE_LIMIT must be at least 1, got %d", c.CheckoutRateLimit)
	}
	return nil
}

// IsDevelopment reports whether the service runs in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// CryptoBotEnabled reports whether the CryptoBot gateway is configured.
func (c *Config) CryptoBotEnabled() bool {
	return c.CryptoBotToken != ""
}

// StripeEnabled reports whether the Stripe gateway is configured.
func (c *Config) StripeEnabled() bool {
	return c.StripeSecretKey != ""
}

func parseIDList(s string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(s, ",") {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		id, err := strconv.ParseInt(trimmed, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid id %q", trimmed)
		}
		ids = append(ids, id)
	}
	return ids, nil
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
