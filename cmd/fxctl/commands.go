package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/fx-insight/internal/service"
	"github.com/fx-insight/internal/types"
)

// parseDate accepts RFC3339 or YYYY-MM-DD
func parseDate(flag, raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return &t, nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return nil, fmt.Errorf("bad --%s: %w", flag, err)
	}
	return &t, nil
}

func newReportCmd(rc *rootConfig) *cobra.Command {
	var startStr, endStr string

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Revaluation report over a date range",
		Long: `Report splits the change in net worth between consecutive snapshots into
the part caused by exchange-rate movement and the part caused by balance
changes. The window defaults to the last 30 days.

Example:
  fxctl report --user u-1 --base EUR --start 2024-01-01 --end 2024-03-31`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := rc.requireUser(); err != nil {
				return err
			}
			start, err := parseDate("start", startStr)
			if err != nil {
				return err
			}
			end, err := parseDate("end", endStr)
			if err != nil {
				return err
			}

			b, err := rc.openBackend(rc, true)
			if err != nil {
				return err
			}
			defer b.Close()

			report, err := b.revaluation.GenerateRevaluationReport(cmd.Context(), &service.RevaluationReportInput{
				UserID:       rc.userID,
				BaseCurrency: rc.base,
				StartDate:    start,
				EndDate:      end,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), report)
		},
	}

	cmd.Flags().StringVar(&startStr, "start", "", "window start (RFC3339 or YYYY-MM-DD)")
	cmd.Flags().StringVar(&endStr, "end", "", "window end (RFC3339 or YYYY-MM-DD)")
	return cmd
}

func newPLCmd(rc *rootConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "pl",
		Short: "Current unrealized P&L of foreign-currency accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := rc.requireUser(); err != nil {
				return err
			}
			b, err := rc.openBackend(rc, true)
			if err != nil {
				return err
			}
			defer b.Close()

			report, err := b.revaluation.CalculateCurrentUnrealizedPL(cmd.Context(), rc.userID, rc.base)
			if err != nil {
				return err
			}
			return rc.render(cmd.OutOrStdout(), report, func(w io.Writer) error { return printPLText(w, report) })
		},
	}
}

func newExposureCmd(rc *rootConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "exposure",
		Short: "Net-worth exposure per currency",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := rc.requireUser(); err != nil {
				return err
			}
			b, err := rc.openBackend(rc, true)
			if err != nil {
				return err
			}
			defer b.Close()

			report, err := b.revaluation.GetCurrencyExposure(cmd.Context(), rc.userID, rc.base)
			if err != nil {
				return err
			}
			return rc.render(cmd.OutOrStdout(), report, func(w io.Writer) error { return printExposureText(w, report) })
		},
	}
}

func newRiskCmd(rc *rootConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "risk",
		Short: "Currency risk score, level and recommendations",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := rc.requireUser(); err != nil {
				return err
			}
			b, err := rc.openBackend(rc, true)
			if err != nil {
				return err
			}
			defer b.Close()

			assessment, err := b.revaluation.GenerateRiskAssessment(cmd.Context(), rc.userID, rc.base)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), assessment)
		},
	}
}

func newRatesCmd(rc *rootConfig) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rates",
		Short: "Exchange rate lookups",
	}

	cmd.AddCommand(
		newRatesGetCmd(rc),
		newRatesConvertCmd(rc),
		newRatesHistoryCmd(rc),
		newRatesVolatilityCmd(rc),
	)
	return cmd
}

func newRatesGetCmd(rc *rootConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "get FROM TO",
		Short: "Latest rate for a currency pair",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := rc.openBackend(rc, false)
			if err != nil {
				return err
			}
			defer b.Close()

			quote, err := b.forex.GetRealTimeRate(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), quote)
		},
	}
}

func newRatesConvertCmd(rc *rootConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "convert AMOUNT FROM TO",
		Short: "Convert an amount at the latest rate",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := decimal.NewFromString(args[0])
			if err != nil {
				return fmt.Errorf("bad amount %q: %w", args[0], err)
			}

			b, err := rc.openBackend(rc, false)
			if err != nil {
				return err
			}
			defer b.Close()

			conversion, err := b.forex.ConvertRealTime(cmd.Context(), amount, args[1], args[2])
			if err != nil {
				return err
			}
			return rc.render(cmd.OutOrStdout(), conversion, func(w io.Writer) error { return printConversionText(w, conversion) })
		},
	}
}

func newRatesHistoryCmd(rc *rootConfig) *cobra.Command {
	var atStr string

	cmd := &cobra.Command{
		Use:   "history FROM TO",
		Short: "Last recorded rate at or before a point in time",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			at, err := parseDate("at", atStr)
			if err != nil {
				return err
			}
			if at == nil {
				return fmt.Errorf("missing --at")
			}

			b, err := rc.openBackend(rc, false)
			if err != nil {
				return err
			}
			defer b.Close()

			quote, err := b.forex.GetHistoricalRate(cmd.Context(), args[0], args[1], *at)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), quote)
		},
	}

	cmd.Flags().StringVar(&atStr, "at", "", "point in time (RFC3339 or YYYY-MM-DD)")
	return cmd
}

func newRatesVolatilityCmd(rc *rootConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "volatility CURRENCY",
		Short: "Volatility classification of a currency against the base",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := rc.openBackend(rc, false)
			if err != nil {
				return err
			}
			defer b.Close()

			base := rc.base
			if base == "" {
				base = types.DefaultBaseCurrency
			}
			assessment, err := b.forex.GetVolatility(cmd.Context(), args[0], base)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), assessment)
		},
	}
}
