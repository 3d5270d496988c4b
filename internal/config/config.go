package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	NodeEnv     string
	Port        string
	JWTSecret   string
	EncKey      string
	RedisURL    string
	Database    DatabaseConfig
	Marketplace MarketplaceConfig
	Pipeline    PipelineConfig
	RateLimit   RateLimitConfig
}

// RateLimitConfig holds the per-caller request budgets
type RateLimitConfig struct {
	Window    time.Duration // counting window
	AuthBurst int           // unauthenticated auth attempts per window per address
	APIBurst  int           // API requests per window per user
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	Database string
}

// MarketplaceConfig holds credentials for the marketplace open API
type MarketplaceConfig struct {
	AppKey      string
	AppSecret   string
	RedirectURI string
	APIBaseURL  string
	AuthBaseURL string
}

// PipelineConfig holds the tunables of the ingestion/dispatch pipeline
type PipelineConfig struct {
	PollInterval       time.Duration // marketplace order polling cadence
	PollPageSize       int           // orders fetched per page
	DispatchInterval   time.Duration // dispatch sweep cadence
	DispatchBatch      int           // max jobs claimed per printer per sweep
	DispatchJobDelay   time.Duration // minimum delay between sends to one printer
	PushTimeout        time.Duration // websocket push deadline
	StaleSweepInterval time.Duration // stale-job sweep cadence
	StaleAfter         time.Duration // processing jobs older than this are force-failed
	MaxRetries         int           // default retry budget per job
	RetryBackoff       time.Duration // delay before a retrying job is eligible again (0 = immediate)
	DispatchWindow     time.Duration // heartbeat freshness required for dispatch
	DisplayWindow      time.Duration // heartbeat freshness shown as "online" in listings
	LivenessInterval   time.Duration // offline-marking sweep cadence
	RetentionDays      int           // terminal jobs older than this are deleted
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	return &Config{
		NodeEnv:   getEnv("NODE_ENV", "development"),
		Port:      getEnv("PORT", "5000"),
		JWTSecret: jwtSecret,
		EncKey:    os.Getenv("ENC_KEY"),
		RedisURL:  os.Getenv("REDIS_URL"),
		Database: DatabaseConfig{
			Host:     getEnv("PG_HOST", "localhost"),
			Port:     getEnv("PG_PORT", "5432"),
			Username: getEnv("PG_USERNAME", "postgres"),
			Password: os.Getenv("PG_PASSWORD"),
			Database: getEnv("PG_DATABASE", "printbridge"),
		},
		Marketplace: MarketplaceConfig{
			AppKey:      os.Getenv("MARKETPLACE_APP_KEY"),
			AppSecret:   os.Getenv("MARKETPLACE_APP_SECRET"),
			RedirectURI: os.Getenv("MARKETPLACE_REDIRECT_URI"),
			APIBaseURL:  getEnv("MARKETPLACE_API_BASE_URL", "https://open-api.tiktokglobalshop.com"),
			AuthBaseURL: getEnv("MARKETPLACE_AUTH_BASE_URL", "https://auth.tiktok-shops.com"),
		},
		Pipeline: PipelineConfig{
			PollInterval:       getEnvDuration("POLL_INTERVAL", 2*time.Minute),
			PollPageSize:       getEnvInt("POLL_PAGE_SIZE", 50),
			DispatchInterval:   getEnvDuration("DISPATCH_INTERVAL", 30*time.Second),
			DispatchBatch:      getEnvInt("DISPATCH_BATCH", 5),
			DispatchJobDelay:   getEnvDuration("DISPATCH_JOB_DELAY", time.Second),
			PushTimeout:        getEnvDuration("PUSH_TIMEOUT", 5*time.Second),
			StaleSweepInterval: getEnvDuration("STALE_SWEEP_INTERVAL", 5*time.Minute),
			StaleAfter:         getEnvDuration("STALE_AFTER", 10*time.Minute),
			MaxRetries:         getEnvInt("RETRY_MAX", 3),
			RetryBackoff:       getEnvDuration("RETRY_BACKOFF", 0),
			DispatchWindow:     getEnvDuration("LIVENESS_DISPATCH_WINDOW", 2*time.Minute),
			DisplayWindow:      getEnvDuration("LIVENESS_DISPLAY_WINDOW", 5*time.Minute),
			LivenessInterval:   getEnvDuration("LIVENESS_INTERVAL", time.Minute),
			RetentionDays:      getEnvInt("CLEANUP_RETENTION_DAYS", 30),
		},
		RateLimit: RateLimitConfig{
			Window:    getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
			AuthBurst: getEnvInt("RATE_LIMIT_AUTH", 20),
			APIBurst:  getEnvInt("RATE_LIMIT_API", 300),
		},
	}, nil
}

// getEnv gets environment variable with default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer environment variable with default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

// getEnvDuration gets a duration environment variable with default value
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
