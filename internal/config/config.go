// Package config provides configuration management for fx-insight.
// It loads configuration from environment variables and .env files.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/fx-insight/internal/types"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Cache         CacheConfig
	Forex         ForexConfig
	Analysis      AnalysisConfig
	Notifications NotificationConfig
	RateSync      RateSyncConfig
	RateLimit     RateLimitConfig
	Logging       LoggingConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port string
	Host string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Postgres   PostgresConfig
	ClickHouse ClickHouseConfig
	Redis      RedisConfig
}

// PostgresConfig holds Postgres configuration
type PostgresConfig struct {
	Host           string
	Port           string
	Database       string
	User           string
	Password       string
	MaxConnections int
}

// ClickHouseConfig holds ClickHouse configuration
type ClickHouseConfig struct {
	Host           string
	Port           string
	Database       string
	User           string
	Password       string
	MaxConnections int
	// AsyncInsert buffers single-row rate observations server-side
	AsyncInsert bool
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host           string
	Port           string
	Password       string
	DB             int
	MaxConnections int
}

// CacheConfig holds cache configuration
type CacheConfig struct {
	RateTTL time.Duration
}

// ForexConfig holds the upstream rate source configuration
type ForexConfig struct {
	BaseURL           string
	APIKey            string
	RequestsPerSecond float64
	Timeout           time.Duration
	StaticRatesFile   string // when set, rates come from this YAML table instead of BaseURL
	// BudgetPerMinute caps upstream requests across all processes through
	// Redis; 0 disables the shared budget
	BudgetPerMinute    int
	InteractiveReserve int // part of BudgetPerMinute held back from batch capture
}

// AnalysisConfig holds defaults for the revaluation and risk engine
type AnalysisConfig struct {
	DefaultBaseCurrency   string
	DefaultWindowDays     int
	LookupConcurrency     int
	SnapshotRetentionDays int // 0 keeps snapshots forever
}

// NotificationConfig holds alert queue configuration
type NotificationConfig struct {
	Workers   int
	QueueSize int
	// AlertFxShareThreshold is the |fxAttributedPercentage| above which an
	// fx_impact_alert is raised.
	AlertFxShareThreshold float64
}

// RateSyncConfig holds the rate history worker configuration
type RateSyncConfig struct {
	PollInterval   time.Duration
	BaseCurrencies []string // defaults to the analysis base currency
	Concurrency    int
}

// RateLimitConfig holds per-user API rate limiting configuration
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// LoadConfig loads configuration from .env file and environment variables
func LoadConfig() (*Config, error) {
	// Load .env file (optional in production)
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	config := &Config{
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8080"),
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
		},
		Database: DatabaseConfig{
			Postgres: PostgresConfig{
				Host:           getEnv("POSTGRES_HOST", "localhost"),
				Port:           getEnv("POSTGRES_PORT", "5432"),
				Database:       getEnv("POSTGRES_DB", "fx_insight"),
				User:           getEnv("POSTGRES_USER", "fxinsight"),
				Password:       getEnv("POSTGRES_PASSWORD", ""),
				MaxConnections: getEnvAsInt("POSTGRES_MAX_CONNECTIONS", 50),
			},
			ClickHouse: ClickHouseConfig{
				Host:           getEnv("CLICKHOUSE_HOST", "localhost"),
				Port:           getEnv("CLICKHOUSE_PORT", "9000"),
				Database:       getEnv("CLICKHOUSE_DB", "fx_insight"),
				User:           getEnv("CLICKHOUSE_USER", "default"),
				Password:       getEnv("CLICKHOUSE_PASSWORD", ""),
				MaxConnections: getEnvAsInt("CLICKHOUSE_MAX_CONNECTIONS", 4),
				AsyncInsert:    getEnvAsBool("CLICKHOUSE_ASYNC_INSERT", true),
			},
			Redis: RedisConfig{
				Host:           getEnv("REDIS_HOST", "localhost"),
				Port:           getEnv("REDIS_PORT", "6379"),
				Password:       getEnv("REDIS_PASSWORD", ""),
				DB:             getEnvAsInt("REDIS_DB", 0),
				MaxConnections: getEnvAsInt("REDIS_MAX_CONNECTIONS", 50),
			},
		},
		Cache: CacheConfig{
			RateTTL: getEnvAsDuration("CACHE_RATE_TTL", 5*time.Minute),
		},
		Forex: ForexConfig{
			BaseURL:            getEnv("FOREX_BASE_URL", "https://api.exchangerate.host"),
			APIKey:             getEnv("FOREX_API_KEY", ""),
			RequestsPerSecond:  getEnvAsFloat("FOREX_REQUESTS_PER_SECOND", 5),
			Timeout:            getEnvAsDuration("FOREX_TIMEOUT", 10*time.Second),
			StaticRatesFile:    getEnv("FOREX_STATIC_RATES_FILE", ""),
			BudgetPerMinute:    getEnvAsInt("FOREX_BUDGET_PER_MINUTE", 0),
			InteractiveReserve: getEnvAsInt("FOREX_INTERACTIVE_RESERVE", 0),
		},
		Analysis: AnalysisConfig{
			DefaultBaseCurrency:   getEnv("DEFAULT_BASE_CURRENCY", types.DefaultBaseCurrency),
			DefaultWindowDays:     getEnvAsInt("ANALYSIS_WINDOW_DAYS", 30),
			LookupConcurrency:     getEnvAsInt("ANALYSIS_LOOKUP_CONCURRENCY", 8),
			SnapshotRetentionDays: getEnvAsInt("SNAPSHOT_RETENTION_DAYS", 0),
		},
		Notifications: NotificationConfig{
			Workers:               getEnvAsInt("NOTIFY_WORKERS", 2),
			QueueSize:             getEnvAsInt("NOTIFY_QUEUE_SIZE", 256),
			AlertFxShareThreshold: getEnvAsFloat("NOTIFY_FX_SHARE_THRESHOLD", 50),
		},
		RateSync: RateSyncConfig{
			PollInterval:   getEnvAsDuration("RATE_SYNC_INTERVAL", time.Hour),
			BaseCurrencies: getEnvAsList("RATE_SYNC_BASE_CURRENCIES"),
			Concurrency:    getEnvAsInt("RATE_SYNC_CONCURRENCY", 4),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: getEnvAsFloat("RATE_LIMIT_RPS", 10),
			Burst:             getEnvAsInt("RATE_LIMIT_BURST", 20),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks values that would otherwise fail deep inside a request
func (c *Config) Validate() error {
	base, ok := types.NormalizeCurrency(c.Analysis.DefaultBaseCurrency)
	if !ok {
		return fmt.Errorf("DEFAULT_BASE_CURRENCY %q is not an ISO 4217 code", c.Analysis.DefaultBaseCurrency)
	}
	c.Analysis.DefaultBaseCurrency = base

	if c.Analysis.DefaultWindowDays <= 0 {
		return fmt.Errorf("ANALYSIS_WINDOW_DAYS must be positive, got %d", c.Analysis.DefaultWindowDays)
	}
	if c.Analysis.LookupConcurrency <= 0 {
		c.Analysis.LookupConcurrency = 1
	}
	if c.Forex.BudgetPerMinute > 0 && c.Forex.InteractiveReserve > c.Forex.BudgetPerMinute {
		return fmt.Errorf("FOREX_INTERACTIVE_RESERVE (%d) exceeds FOREX_BUDGET_PER_MINUTE (%d)", c.Forex.InteractiveReserve, c.Forex.BudgetPerMinute)
	}
	if c.Analysis.SnapshotRetentionDays < 0 {
		return fmt.Errorf("SNAPSHOT_RETENTION_DAYS must not be negative, got %d", c.Analysis.SnapshotRetentionDays)
	}
	if len(c.RateSync.BaseCurrencies) == 0 {
		c.RateSync.BaseCurrencies = []string{c.Analysis.DefaultBaseCurrency}
	}
	for i, code := range c.RateSync.BaseCurrencies {
		norm, ok := types.NormalizeCurrency(code)
		if !ok {
			return fmt.Errorf("RATE_SYNC_BASE_CURRENCIES entry %q is not an ISO 4217 code", code)
		}
		c.RateSync.BaseCurrencies[i] = norm
	}
	return nil
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer with a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsFloat gets an environment variable as a float with a default value
func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsBool gets an environment variable as a bool with a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsList splits a comma-separated environment variable, dropping
// empty entries. Unset yields nil.
func getEnvAsList(key string) []string {
	var out []string
	for _, part := range strings.Split(getEnv(key, ""), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// getEnvAsDuration gets an environment variable as a duration with a default value
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
