package adapter

import (
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/fx-insight/internal/config"
	"github.com/fx-insight/internal/logging"
	"github.com/fx-insight/internal/ratelimit"
)

// NewSourceFromConfig builds the rate source every binary uses.
//
// With only a static rates file the table is the sole source. With an API
// key the HTTP provider is primary, and a configured static file becomes
// its fallback. When cfg.BudgetPerMinute is positive and rdb is non-nil the
// HTTP provider draws from the Redis-backed shared request budget; an
// unset interactive reserve holds back two thirds of it.
func NewSourceFromConfig(cfg *config.ForexConfig, rdb redis.Cmdable) (RateSource, error) {
	var static *StaticRateSource
	if cfg.StaticRatesFile != "" {
		s, err := LoadStaticRates(cfg.StaticRatesFile)
		if err != nil {
			return nil, err
		}
		static = s
		if cfg.APIKey == "" {
			logging.WithField("file", cfg.StaticRatesFile).Info("using static rate table")
			return static, nil
		}
	}

	clientCfg := ForexClientConfig{
		BaseURL:           cfg.BaseURL,
		APIKey:            cfg.APIKey,
		RequestsPerSecond: cfg.RequestsPerSecond,
		Timeout:           cfg.Timeout,
	}
	if cfg.BudgetPerMinute > 0 && rdb != nil {
		reserve := cfg.InteractiveReserve
		if reserve <= 0 {
			reserve = max(1, cfg.BudgetPerMinute*2/3)
		}
		budget, err := ratelimit.NewProviderBudget(&ratelimit.ProviderBudgetConfig{
			Redis:          rdb,
			Provider:       forexSourceName,
			TotalBudget:    cfg.BudgetPerMinute,
			ReservedBudget: reserve,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create provider budget: %w", err)
		}
		clientCfg.Budget = budget
	}
	client := NewForexClient(clientCfg)

	if static != nil {
		return NewFailoverSource(client, static), nil
	}
	return client, nil
}
