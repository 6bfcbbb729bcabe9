package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/fx-insight/internal/adapter"
	"github.com/fx-insight/internal/config"
	"github.com/fx-insight/internal/logging"
	"github.com/fx-insight/internal/service"
	"github.com/fx-insight/internal/storage"
)

// rootConfig holds the persistent flags shared by every subcommand
type rootConfig struct {
	staticRates string
	userID      string
	base        string
	logLevel    string
	output      string

	// openBackend is replaced in tests
	openBackend func(rc *rootConfig, withStores bool) (*backend, error)
}

// backend is the set of services a command runs against
type backend struct {
	forex       *service.ForexService
	revaluation *service.RevaluationService
	closers     []func()
}

func (b *backend) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

// NewRootCmd builds the fxctl command tree
func NewRootCmd() *cobra.Command {
	return newRootCmd(&rootConfig{openBackend: openBackend})
}

func newRootCmd(rc *rootConfig) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "fxctl",
		Short:         "Multi-currency revaluation and risk reports",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if rc.output != outputJSON && rc.output != outputText {
				return fmt.Errorf("bad --output %q: want %s or %s", rc.output, outputJSON, outputText)
			}
			logger := logging.NewLogger(logging.ParseLogLevel(rc.logLevel), logging.FormatText)
			logger.SetOutput(cmd.ErrOrStderr())
			logging.SetGlobalLogger(logger)
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&rc.staticRates, "static-rates", "", "YAML rate table to use instead of the configured provider")
	cmd.PersistentFlags().StringVar(&rc.userID, "user", "", "user id to report on")
	cmd.PersistentFlags().StringVar(&rc.base, "base", "", "base currency (default from configuration)")
	cmd.PersistentFlags().StringVar(&rc.logLevel, "log-level", "warn", "log level: debug, info, warn, error")
	cmd.PersistentFlags().StringVarP(&rc.output, "output", "o", outputJSON, "output format: json or text (exposure, pl and rates convert)")

	cmd.AddCommand(
		newReportCmd(rc),
		newPLCmd(rc),
		newExposureCmd(rc),
		newRiskCmd(rc),
		newRatesCmd(rc),
	)
	return cmd
}

// openBackend connects to the configured stores. Without withStores only
// the rate layer is built, and Redis and ClickHouse are optional when a
// static rate table is given.
func openBackend(rc *rootConfig, withStores bool) (*backend, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}
	if rc.staticRates != "" {
		cfg.Forex.StaticRatesFile = rc.staticRates
		cfg.Forex.APIKey = ""
	}

	b := &backend{}
	fail := func(err error) (*backend, error) {
		b.Close()
		return nil, err
	}

	var cache service.RateCacheStore
	var history service.RateHistory
	var source adapter.RateSource

	if rc.staticRates == "" || withStores {
		redis, err := storage.NewRedisCache(&cfg.Database.Redis)
		if err != nil {
			return fail(err)
		}
		b.closers = append(b.closers, func() { _ = redis.Close() })

		clickhouse, err := storage.NewClickHouseDB(&cfg.Database.ClickHouse)
		if err != nil {
			return fail(err)
		}
		b.closers = append(b.closers, func() { _ = clickhouse.Close() })

		cache = storage.NewRateCache(redis, cfg.Cache.RateTTL)
		history = storage.NewRateHistoryRepository(clickhouse)
		source, err = adapter.NewSourceFromConfig(&cfg.Forex, redis.Client())
		if err != nil {
			return fail(err)
		}
	} else {
		source, err = adapter.NewSourceFromConfig(&cfg.Forex, nil)
		if err != nil {
			return fail(err)
		}
	}

	b.forex = service.NewForexService(source, cache, history)

	if withStores {
		postgres, err := storage.NewPostgresDB(&cfg.Database.Postgres)
		if err != nil {
			return fail(err)
		}
		b.closers = append(b.closers, postgres.Close)

		b.revaluation = service.NewRevaluationService(
			storage.NewSnapshotRepository(postgres.Pool()),
			storage.NewAccountRepository(postgres.Pool()),
			b.forex,
			service.RevaluationConfig{
				DefaultBaseCurrency: cfg.Analysis.DefaultBaseCurrency,
				DefaultWindowDays:   cfg.Analysis.DefaultWindowDays,
				LookupConcurrency:   cfg.Analysis.LookupConcurrency,
			},
		)
	}
	return b, nil
}

func (rc *rootConfig) requireUser() error {
	if rc.userID == "" {
		return fmt.Errorf("missing --user")
	}
	return nil
}

// printJSON writes v as indented JSON
func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
