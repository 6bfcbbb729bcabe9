package service

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	fxerrors "github.com/fx-insight/internal/errors"
	"github.com/fx-insight/internal/logging"
	"github.com/fx-insight/internal/types"
)

var (
	concentrationThreshold = decimal.NewFromInt(30)
	concentrationWeight    = decimal.RequireFromString("0.4")
	volatilityWeight       = decimal.RequireFromString("0.4")
	lossWeight             = decimal.RequireFromString("0.2")
	lossScale              = decimal.NewFromInt(1000)
)

// VolatilityEntry is the volatility classification of one held currency
type VolatilityEntry struct {
	Currency       string                `json:"currency"`
	Exposure       decimal.Decimal       `json:"exposure"`
	Volatility     types.VolatilityScore `json:"volatility"`
	Recommendation string                `json:"recommendation"`
}

// RiskComponents are the three factor scores, each in [0, 100]
type RiskComponents struct {
	Concentration decimal.Decimal `json:"concentration"`
	Volatility    decimal.Decimal `json:"volatility"`
	Loss          decimal.Decimal `json:"loss"`
}

// RiskScore is the output of ScoreRisk
type RiskScore struct {
	Score              int
	Level              types.RiskLevel
	Components         RiskComponents
	ConcentrationRisks []CurrencyExposure
}

// RiskAssessment is the result of GenerateRiskAssessment
type RiskAssessment struct {
	UserID                string             `json:"userId"`
	BaseCurrency          string             `json:"baseCurrency"`
	RiskScore             int                `json:"riskScore"`
	RiskLevel             types.RiskLevel    `json:"riskLevel"`
	Components            RiskComponents     `json:"components"`
	ConcentrationRisks    []CurrencyExposure `json:"concentrationRisks"`
	VolatilityAssessments []VolatilityEntry  `json:"volatilityAssessments"`
	UnrealizedPL          decimal.Decimal    `json:"unrealizedPL"`
	Recommendations       []Recommendation   `json:"recommendations"`
	Failures              []LookupFailure    `json:"failures"`
	Timestamp             time.Time          `json:"timestamp"`
}

// GenerateRiskAssessment combines exposure, unrealized P&L and currency
// volatility into a single 0-100 score with recommendations
func (s *RevaluationService) GenerateRiskAssessment(ctx context.Context, userID, baseCurrency string) (*RiskAssessment, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fxerrors.NewInvalidParameterError("userId", "user id is required")
	}
	base, err := s.resolveBaseCurrency(baseCurrency)
	if err != nil {
		return nil, err
	}

	var (
		exposure *ExposureReport
		pl       *PLReport
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		exposure, err = s.GetCurrencyExposure(gctx, userID, base)
		return err
	})
	g.Go(func() error {
		var err error
		pl, err = s.CalculateCurrentUnrealizedPL(gctx, userID, base)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	volatility, volFailures := s.assessVolatility(ctx, exposure.Exposures, base)
	scored := ScoreRisk(exposure.Exposures, base, volatility, pl.TotalUnrealizedPL)

	failures := make([]LookupFailure, 0, len(exposure.Failures)+len(pl.Failures)+len(volFailures))
	failures = append(failures, exposure.Failures...)
	failures = append(failures, pl.Failures...)
	failures = append(failures, volFailures...)

	assessment := &RiskAssessment{
		UserID:                userID,
		BaseCurrency:          base,
		RiskScore:             scored.Score,
		RiskLevel:             scored.Level,
		Components:            scored.Components,
		ConcentrationRisks:    scored.ConcentrationRisks,
		VolatilityAssessments: volatility,
		UnrealizedPL:          pl.TotalUnrealizedPL,
		Recommendations:       BuildRecommendations(scored.Level, scored.ConcentrationRisks, volatility),
		Failures:              failures,
		Timestamp:             s.now(),
	}

	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"user_id":    userID,
		"risk_score": assessment.RiskScore,
		"risk_level": string(assessment.RiskLevel),
	}).Info("risk assessment generated")

	return assessment, nil
}

// assessVolatility classifies every non-base currency in exposure order. A
// currency whose classification fails is left out and reported.
func (s *RevaluationService) assessVolatility(ctx context.Context, exposures []CurrencyExposure, base string) ([]VolatilityEntry, []LookupFailure) {
	foreign := make([]CurrencyExposure, 0, len(exposures))
	for _, e := range exposures {
		if e.Currency != base {
			foreign = append(foreign, e)
		}
	}

	results := make([]*VolatilityAssessment, len(foreign))
	errs := make([]error, len(foreign))
	var g errgroup.Group
	g.SetLimit(s.cfg.LookupConcurrency)
	for i, e := range foreign {
		g.Go(func() error {
			results[i], errs[i] = s.rates.GetVolatility(ctx, e.Currency, base)
			return nil
		})
	}
	_ = g.Wait()

	entries := make([]VolatilityEntry, 0, len(foreign))
	failures := make([]LookupFailure, 0)
	for i, e := range foreign {
		if errs[i] != nil {
			logging.FromContext(ctx).
				WithField("currency", e.Currency).
				WithError(errs[i]).
				Warn("volatility lookup failed, excluding currency from assessment")
			failures = append(failures, LookupFailure{Currency: e.Currency, Reason: errs[i].Error()})
			continue
		}
		entries = append(entries, VolatilityEntry{
			Currency:       e.Currency,
			Exposure:       e.Percentage,
			Volatility:     results[i].VolatilityScore,
			Recommendation: results[i].Recommendation,
		})
	}
	return entries, failures
}

// ScoreRisk is the pure scoring model:
//
//	concentration = min(100, 2 × Σ percentage of non-base currencies above 30%)
//	volatility    = 100 × elevated currencies / max(1, assessed currencies)
//	loss          = min(100, |unrealizedPL| / 1000) when unrealizedPL < 0
//	score         = round(0.4 × concentration + 0.4 × volatility + 0.2 × loss)
func ScoreRisk(exposures []CurrencyExposure, base string, volatility []VolatilityEntry, unrealizedPL decimal.Decimal) RiskScore {
	risks := make([]CurrencyExposure, 0)
	sum := decimal.Zero
	for _, e := range exposures {
		if e.Percentage.GreaterThan(concentrationThreshold) && e.Currency != base {
			risks = append(risks, e)
			sum = sum.Add(e.Percentage)
		}
	}
	concentration := decimal.Min(hundred, sum.Mul(decimal.NewFromInt(2)))

	elevated := 0
	for _, v := range volatility {
		if v.Volatility.IsElevated() {
			elevated++
		}
	}
	assessed := len(volatility)
	if assessed < 1 {
		assessed = 1
	}
	vol := decimal.NewFromInt(int64(elevated)).Mul(hundred).Div(decimal.NewFromInt(int64(assessed)))

	loss := decimal.Zero
	if unrealizedPL.IsNegative() {
		loss = decimal.Min(hundred, unrealizedPL.Abs().Div(lossScale))
	}

	composite := concentration.Mul(concentrationWeight).
		Add(vol.Mul(volatilityWeight)).
		Add(loss.Mul(lossWeight))
	score := int(composite.Round(0).IntPart())

	return RiskScore{
		Score: score,
		Level: RiskLevelFor(score),
		Components: RiskComponents{
			Concentration: concentration,
			Volatility:    vol,
			Loss:          loss,
		},
		ConcentrationRisks: risks,
	}
}

// RiskLevelFor buckets a score: above 70 is high, above 40 is medium
func RiskLevelFor(score int) types.RiskLevel {
	switch {
	case score > 70:
		return types.RiskHigh
	case score > 40:
		return types.RiskMedium
	default:
		return types.RiskLow
	}
}
