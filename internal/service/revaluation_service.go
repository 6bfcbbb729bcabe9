package service

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	fxerrors "github.com/fx-insight/internal/errors"
	"github.com/fx-insight/internal/logging"
	"github.com/fx-insight/internal/types"
)

// NoSnapshotsMessage is reported when a window holds no snapshots
const NoSnapshotsMessage = "No snapshots found in date range"

var hundred = decimal.NewFromInt(100)

// RevaluationConfig holds engine defaults
type RevaluationConfig struct {
	DefaultBaseCurrency string
	DefaultWindowDays   int
	LookupConcurrency   int
}

// RevaluationService answers revaluation, unrealized P&L, exposure and
// risk questions for one user at a time. It keeps no state between calls.
type RevaluationService struct {
	snapshots SnapshotStore
	accounts  AccountLookup
	rates     RateProvider
	cfg       RevaluationConfig
	now       func() time.Time
}

// NewRevaluationService creates a new revaluation service
func NewRevaluationService(snapshots SnapshotStore, accounts AccountLookup, rates RateProvider, cfg RevaluationConfig) *RevaluationService {
	if cfg.DefaultBaseCurrency == "" {
		cfg.DefaultBaseCurrency = types.DefaultBaseCurrency
	}
	if cfg.DefaultWindowDays <= 0 {
		cfg.DefaultWindowDays = 30
	}
	if cfg.LookupConcurrency <= 0 {
		cfg.LookupConcurrency = 1
	}
	return &RevaluationService{
		snapshots: snapshots,
		accounts:  accounts,
		rates:     rates,
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// RevaluationReportInput selects the user and window of a period report.
// Nil dates take the defaults: EndDate is now, StartDate is EndDate minus
// the default window.
type RevaluationReportInput struct {
	UserID       string
	BaseCurrency string
	StartDate    *time.Time
	EndDate      *time.Time
}

// ReportSummary is the period total over consecutive snapshot pairs
type ReportSummary struct {
	InitialNetWorth        decimal.Decimal `json:"initialNetWorth"`
	FinalNetWorth          decimal.Decimal `json:"finalNetWorth"`
	TotalChange            decimal.Decimal `json:"totalChange"`
	FxImpact               decimal.Decimal `json:"fxImpact"`
	NonFxChange            decimal.Decimal `json:"nonFxChange"`
	FxAttributedPercentage decimal.Decimal `json:"fxAttributedPercentage"`
	SnapshotsAnalyzed      int             `json:"snapshotsAnalyzed"`
}

// PeriodReport is the result of GenerateRevaluationReport. Summary is nil
// and Message is set when the window holds no snapshots.
type PeriodReport struct {
	UserID       string                 `json:"userId"`
	BaseCurrency string                 `json:"baseCurrency"`
	StartDate    time.Time              `json:"startDate"`
	EndDate      time.Time              `json:"endDate"`
	Message      string                 `json:"message,omitempty"`
	Summary      *ReportSummary         `json:"summary,omitempty"`
	Revaluations []*SnapshotRevaluation `json:"revaluations"`
}

// HasData reports whether the report carries a summary
func (r *PeriodReport) HasData() bool {
	return r.Summary != nil
}

// GenerateRevaluationReport revalues every consecutive pair of snapshots in
// the window and sums the results
func (s *RevaluationService) GenerateRevaluationReport(ctx context.Context, input *RevaluationReportInput) (*PeriodReport, error) {
	if input == nil || strings.TrimSpace(input.UserID) == "" {
		return nil, fxerrors.NewInvalidParameterError("userId", "user id is required")
	}
	base, err := s.resolveBaseCurrency(input.BaseCurrency)
	if err != nil {
		return nil, err
	}

	end := s.now()
	if input.EndDate != nil {
		end = input.EndDate.UTC()
	}
	start := end.AddDate(0, 0, -s.cfg.DefaultWindowDays)
	if input.StartDate != nil {
		start = input.StartDate.UTC()
	}
	if start.After(end) {
		return nil, fxerrors.NewInvalidDateRangeError(start.Format(time.RFC3339), end.Format(time.RFC3339))
	}

	log := logging.FromContext(ctx).WithFields(map[string]interface{}{
		"user_id":       input.UserID,
		"base_currency": base,
	})

	snapshots, err := s.snapshots.FindByUserAndDateRange(ctx, input.UserID, start, end)
	if err != nil {
		return nil, fxerrors.NewDatabaseError("find snapshots", err)
	}

	report := &PeriodReport{
		UserID:       input.UserID,
		BaseCurrency: base,
		StartDate:    start,
		EndDate:      end,
		Revaluations: make([]*SnapshotRevaluation, 0),
	}

	if len(snapshots) == 0 {
		log.Debug("no snapshots in window")
		report.Message = NoSnapshotsMessage
		return report, nil
	}

	for i := 1; i < len(snapshots); i++ {
		report.Revaluations = append(report.Revaluations, RevalueSnapshots(snapshots[i-1], snapshots[i], base))
	}
	report.Summary = summarize(snapshots[0].TotalNetWorth, snapshots[len(snapshots)-1].TotalNetWorth, report.Revaluations, len(snapshots))

	log.WithFields(map[string]interface{}{
		"snapshots": len(snapshots),
		"fx_impact": report.Summary.FxImpact.String(),
	}).Info("revaluation report generated")

	return report, nil
}

func summarize(initial, final decimal.Decimal, revaluations []*SnapshotRevaluation, analyzed int) *ReportSummary {
	totalFx := decimal.Zero
	for _, r := range revaluations {
		totalFx = totalFx.Add(r.FxImpact)
	}
	totalChange := final.Sub(initial)

	pct := decimal.Zero
	if !totalChange.IsZero() {
		pct = totalFx.Div(totalChange.Abs()).Mul(hundred)
	}

	return &ReportSummary{
		InitialNetWorth:        initial,
		FinalNetWorth:          final,
		TotalChange:            totalChange,
		FxImpact:               totalFx,
		NonFxChange:            totalChange.Sub(totalFx),
		FxAttributedPercentage: pct,
		SnapshotsAnalyzed:      analyzed,
	}
}

func (s *RevaluationService) resolveBaseCurrency(code string) (string, error) {
	if strings.TrimSpace(code) == "" {
		return s.cfg.DefaultBaseCurrency, nil
	}
	base, ok := types.NormalizeCurrency(code)
	if !ok {
		return "", fxerrors.NewInvalidCurrencyError(code)
	}
	return base, nil
}
