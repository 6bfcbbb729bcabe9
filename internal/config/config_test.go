package config

import (
	"testing"
	"time"
)

func TestLoadConfig(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("POSTGRES_HOST", "testhost")
	t.Setenv("CACHE_RATE_TTL", "30s")
	t.Setenv("DEFAULT_BASE_CURRENCY", "eur")
	t.Setenv("NOTIFY_FX_SHARE_THRESHOLD", "75.5")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("Server.Port = %v, want %v", cfg.Server.Port, "9090")
	}
	if cfg.Database.Postgres.Host != "testhost" {
		t.Errorf("Database.Postgres.Host = %v, want %v", cfg.Database.Postgres.Host, "testhost")
	}
	if cfg.Cache.RateTTL != 30*time.Second {
		t.Errorf("Cache.RateTTL = %v, want %v", cfg.Cache.RateTTL, 30*time.Second)
	}
	if cfg.Analysis.DefaultBaseCurrency != "EUR" {
		t.Errorf("Analysis.DefaultBaseCurrency = %v, want EUR", cfg.Analysis.DefaultBaseCurrency)
	}
	if cfg.Analysis.DefaultWindowDays != 30 {
		t.Errorf("Analysis.DefaultWindowDays = %v, want 30", cfg.Analysis.DefaultWindowDays)
	}
	if cfg.Notifications.AlertFxShareThreshold != 75.5 {
		t.Errorf("Notifications.AlertFxShareThreshold = %v, want 75.5", cfg.Notifications.AlertFxShareThreshold)
	}
}

func TestLoadConfig_RejectsUnknownBaseCurrency(t *testing.T) {
	t.Setenv("DEFAULT_BASE_CURRENCY", "QQQ")

	if _, err := LoadConfig(); err == nil {
		t.Fatal("LoadConfig() expected error for unknown base currency")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid defaults",
			mutate:  func(*Config) {},
			wantErr: false,
		},
		{
			name:    "non-positive window",
			mutate:  func(c *Config) { c.Analysis.DefaultWindowDays = 0 },
			wantErr: true,
		},
		{
			name:    "negative retention",
			mutate:  func(c *Config) { c.Analysis.SnapshotRetentionDays = -1 },
			wantErr: true,
		},
		{
			name: "reserve above provider budget",
			mutate: func(c *Config) {
				c.Forex.BudgetPerMinute = 30
				c.Forex.InteractiveReserve = 40
			},
			wantErr: true,
		},
		{
			name:    "unknown rate sync base",
			mutate:  func(c *Config) { c.RateSync.BaseCurrencies = []string{"USD", "Q1"} },
			wantErr: true,
		},
		{
			name:    "zero concurrency is clamped",
			mutate:  func(c *Config) { c.Analysis.LookupConcurrency = 0 },
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{Analysis: AnalysisConfig{
				DefaultBaseCurrency: "usd",
				DefaultWindowDays:   30,
				LookupConcurrency:   4,
			}}
			tt.mutate(cfg)

			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && cfg.Analysis.LookupConcurrency < 1 {
				t.Errorf("LookupConcurrency = %d, want >= 1", cfg.Analysis.LookupConcurrency)
			}
		})
	}
}

func TestLoadConfig_RateSyncBases(t *testing.T) {
	t.Setenv("DEFAULT_BASE_CURRENCY", "GBP")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if len(cfg.RateSync.BaseCurrencies) != 1 || cfg.RateSync.BaseCurrencies[0] != "GBP" {
		t.Errorf("RateSync.BaseCurrencies = %v, want [GBP]", cfg.RateSync.BaseCurrencies)
	}

	t.Setenv("RATE_SYNC_BASE_CURRENCIES", " usd, ,eur ")
	cfg, err = LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if got := cfg.RateSync.BaseCurrencies; len(got) != 2 || got[0] != "USD" || got[1] != "EUR" {
		t.Errorf("RateSync.BaseCurrencies = %v, want [USD EUR]", got)
	}
	if cfg.RateSync.PollInterval != time.Hour {
		t.Errorf("RateSync.PollInterval = %v, want 1h", cfg.RateSync.PollInterval)
	}
}

func TestLoadConfig_ClickHouse(t *testing.T) {
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if !cfg.Database.ClickHouse.AsyncInsert {
		t.Errorf("ClickHouse.AsyncInsert = false, want true by default")
	}
	if cfg.Database.ClickHouse.MaxConnections != 4 {
		t.Errorf("ClickHouse.MaxConnections = %v, want 4", cfg.Database.ClickHouse.MaxConnections)
	}

	t.Setenv("CLICKHOUSE_ASYNC_INSERT", "false")
	t.Setenv("CLICKHOUSE_MAX_CONNECTIONS", "10")
	cfg, err = LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Database.ClickHouse.AsyncInsert {
		t.Errorf("ClickHouse.AsyncInsert = true, want false")
	}
	if cfg.Database.ClickHouse.MaxConnections != 10 {
		t.Errorf("ClickHouse.MaxConnections = %v, want 10", cfg.Database.ClickHouse.MaxConnections)
	}
}

func TestGetEnvAsBool(t *testing.T) {
	tests := []struct {
		envValue string
		want     bool
	}{
		{"", true},
		{"false", false},
		{"0", false},
		{"TRUE", true},
		{"maybe", true},
	}

	for _, tt := range tests {
		t.Run(tt.envValue, func(t *testing.T) {
			t.Setenv("TEST_BOOL", tt.envValue)
			if got := getEnvAsBool("TEST_BOOL", true); got != tt.want {
				t.Errorf("getEnvAsBool(%q) = %v, want %v", tt.envValue, got, tt.want)
			}
		})
	}
}

func TestGetEnv(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue string
		envValue     string
		want         string
	}{
		{
			name:         "returns environment variable when set",
			key:          "TEST_KEY",
			defaultValue: "default",
			envValue:     "custom",
			want:         "custom",
		},
		{
			name:         "returns default when environment variable not set",
			key:          "NONEXISTENT_KEY",
			defaultValue: "default",
			envValue:     "",
			want:         "default",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				t.Setenv(tt.key, tt.envValue)
			}

			got := getEnv(tt.key, tt.defaultValue)
			if got != tt.want {
				t.Errorf("getEnv() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetEnvAsInt(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue int
		envValue     string
		want         int
	}{
		{"returns integer when valid", "TEST_INT", 100, "200", 200},
		{"returns default when invalid", "TEST_INT_INVALID", 100, "invalid", 100},
		{"returns default when not set", "TEST_INT_NOTSET", 100, "", 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				t.Setenv(tt.key, tt.envValue)
			}

			got := getEnvAsInt(tt.key, tt.defaultValue)
			if got != tt.want {
				t.Errorf("getEnvAsInt() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetEnvAsFloat(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue float64
		envValue     string
		want         float64
	}{
		{"returns float when valid", "TEST_FLOAT", 1.5, "2.25", 2.25},
		{"returns default when invalid", "TEST_FLOAT_INVALID", 1.5, "abc", 1.5},
		{"returns default when not set", "TEST_FLOAT_NOTSET", 1.5, "", 1.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				t.Setenv(tt.key, tt.envValue)
			}

			got := getEnvAsFloat(tt.key, tt.defaultValue)
			if got != tt.want {
				t.Errorf("getEnvAsFloat() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetEnvAsDuration(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue time.Duration
		envValue     string
		want         time.Duration
	}{
		{"returns duration when valid", "TEST_DURATION", 10 * time.Second, "30s", 30 * time.Second},
		{"returns default when invalid", "TEST_DURATION_INVALID", 10 * time.Second, "invalid", 10 * time.Second},
		{"returns default when not set", "TEST_DURATION_NOTSET", 10 * time.Second, "", 10 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				t.Setenv(tt.key, tt.envValue)
			}

			got := getEnvAsDuration(tt.key, tt.defaultValue)
			if got != tt.want {
				t.Errorf("getEnvAsDuration() = %v, want %v", got, tt.want)
			}
		})
	}
}
