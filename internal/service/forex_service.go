package service

import (
	"context"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fx-insight/internal/adapter"
	fxerrors "github.com/fx-insight/internal/errors"
	"github.com/fx-insight/internal/logging"
	"github.com/fx-insight/internal/types"
)

const (
	identitySource       = "identity"
	volatilityWindowDays = 30
	minVolatilityCloses  = 5
	tradingDaysPerYear   = 252

	methodHistorical = "historical"
	methodReference  = "reference"
)

// volatilityRecommendations is the advice attached to each class
var volatilityRecommendations = map[types.VolatilityScore]string{
	types.VolatilityLow:      "Low volatility. Suitable for holding.",
	types.VolatilityMedium:   "Moderate volatility. Monitor periodically.",
	types.VolatilityHigh:     "High volatility. Consider hedging or limiting exposure.",
	types.VolatilityVeryHigh: "Very high volatility. Minimize holdings or hedge actively.",
}

// referenceVolatility classifies currencies when there is too little rate
// history to measure. Codes not listed are treated as medium.
var referenceVolatility = map[string]types.VolatilityScore{
	"USD": types.VolatilityLow, "EUR": types.VolatilityLow, "GBP": types.VolatilityLow,
	"JPY": types.VolatilityLow, "CHF": types.VolatilityLow, "CAD": types.VolatilityLow,
	"AUD": types.VolatilityLow, "NZD": types.VolatilityLow, "SEK": types.VolatilityLow,
	"NOK": types.VolatilityLow, "DKK": types.VolatilityLow, "SGD": types.VolatilityLow,
	"HKD": types.VolatilityLow,

	"CNY": types.VolatilityMedium, "INR": types.VolatilityMedium, "KRW": types.VolatilityMedium,
	"MXN": types.VolatilityMedium, "PLN": types.VolatilityMedium, "CZK": types.VolatilityMedium,
	"HUF": types.VolatilityMedium, "ILS": types.VolatilityMedium, "THB": types.VolatilityMedium,
	"MYR": types.VolatilityMedium, "TWD": types.VolatilityMedium, "PHP": types.VolatilityMedium,
	"IDR": types.VolatilityMedium, "CLP": types.VolatilityMedium, "COP": types.VolatilityMedium,
	"PEN": types.VolatilityMedium,

	"BRL": types.VolatilityHigh, "ZAR": types.VolatilityHigh, "RUB": types.VolatilityHigh,
	"KZT": types.VolatilityHigh, "UAH": types.VolatilityHigh, "PKR": types.VolatilityHigh,
	"KES": types.VolatilityHigh,

	"TRY": types.VolatilityVeryHigh, "ARS": types.VolatilityVeryHigh, "NGN": types.VolatilityVeryHigh,
	"EGP": types.VolatilityVeryHigh, "VES": types.VolatilityVeryHigh, "LBP": types.VolatilityVeryHigh,
	"GHS": types.VolatilityVeryHigh,
}

// ForexService is the rate provider: latest quotes through a cache, history
// lookups, volatility classification and unrealized P&L
type ForexService struct {
	source  adapter.RateSource
	cache   RateCacheStore
	history RateHistory
	now     func() time.Time
}

// NewForexService creates a new forex service. cache and history may be nil.
func NewForexService(source adapter.RateSource, cache RateCacheStore, history RateHistory) *ForexService {
	return &ForexService{
		source:  source,
		cache:   cache,
		history: history,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// GetRealTimeRate returns the latest quote for from→to
func (s *ForexService) GetRealTimeRate(ctx context.Context, from, to string) (*types.RateQuote, error) {
	from, to, err := normalizePair(from, to)
	if err != nil {
		return nil, err
	}
	if from == to {
		return &types.RateQuote{From: from, To: to, Rate: decimal.NewFromInt(1), AsOf: s.now(), Source: identitySource}, nil
	}

	log := logging.FromContext(ctx).WithFields(map[string]interface{}{"from": from, "to": to})

	if s.cache != nil {
		quote, found, err := s.cache.GetRate(ctx, from, to)
		if err != nil {
			log.WithError(err).Warn("rate cache read failed, falling back to source")
		} else if found {
			return quote, nil
		}
	}

	quote, err := s.source.LatestRate(ctx, from, to)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.SetRate(ctx, quote); err != nil {
			log.WithError(err).Warn("failed to cache rate")
		}
	}
	if s.history != nil {
		if err := s.history.RecordRate(ctx, quote); err != nil {
			log.WithError(err).Warn("failed to record rate observation")
		}
	}

	return quote, nil
}

// ConvertRealTime converts amount at the latest rate
func (s *ForexService) ConvertRealTime(ctx context.Context, amount decimal.Decimal, from, to string) (*Conversion, error) {
	quote, err := s.GetRealTimeRate(ctx, from, to)
	if err != nil {
		return nil, err
	}
	return &Conversion{
		Amount:          amount,
		From:            quote.From,
		To:              quote.To,
		Rate:            quote.Rate,
		ConvertedAmount: amount.Mul(quote.Rate),
		AsOf:            quote.AsOf,
	}, nil
}

// GetHistoricalRate returns the last observed quote at or before at
func (s *ForexService) GetHistoricalRate(ctx context.Context, from, to string, at time.Time) (*types.RateQuote, error) {
	from, to, err := normalizePair(from, to)
	if err != nil {
		return nil, err
	}
	if from == to {
		return &types.RateQuote{From: from, To: to, Rate: decimal.NewFromInt(1), AsOf: at, Source: identitySource}, nil
	}
	if s.history == nil {
		return nil, fxerrors.NewServiceUnavailableError("rate history")
	}

	quote, err := s.history.GetRateAt(ctx, from, to, at)
	if err != nil {
		return nil, fxerrors.NewDatabaseError("get historical rate", err)
	}
	if quote == nil {
		return nil, fxerrors.NewNotFoundError("rate", from+"/"+to+"@"+at.Format(time.RFC3339))
	}
	return quote, nil
}

// GetVolatility classifies currency against base from the annualised
// standard deviation of daily log returns over the last 30 days. With fewer
// than five daily closes it falls back to a reference table.
func (s *ForexService) GetVolatility(ctx context.Context, currency, baseCurrency string) (*VolatilityAssessment, error) {
	currency, baseCurrency, err := normalizePair(currency, baseCurrency)
	if err != nil {
		return nil, err
	}

	assessment := &VolatilityAssessment{Currency: currency, BaseCurrency: baseCurrency}
	if currency == baseCurrency {
		assessment.VolatilityScore = types.VolatilityLow
		assessment.Method = identitySource
		assessment.Recommendation = volatilityRecommendations[types.VolatilityLow]
		return assessment, nil
	}

	if s.history != nil {
		until := s.now()
		since := until.AddDate(0, 0, -volatilityWindowDays)
		closes, err := s.history.GetDailyCloses(ctx, currency, baseCurrency, since, until)
		if err != nil {
			logging.FromContext(ctx).
				WithFields(map[string]interface{}{"currency": currency, "base": baseCurrency}).
				WithError(err).
				Warn("daily closes unavailable, using reference volatility")
		} else if len(closes) >= minVolatilityCloses {
			rates := make([]decimal.Decimal, len(closes))
			for i, c := range closes {
				rates[i] = c.Rate
			}
			if annualized, ok := AnnualizedVolatility(rates); ok {
				score := ClassifyVolatility(annualized)
				pct := decimal.NewFromFloat(annualized).Round(4)
				assessment.VolatilityScore = score
				assessment.AnnualizedVolatility = &pct
				assessment.Observations = len(closes)
				assessment.Method = methodHistorical
				assessment.Recommendation = volatilityRecommendations[score]
				return assessment, nil
			}
		}
	}

	score, ok := referenceVolatility[currency]
	if !ok {
		score = types.VolatilityMedium
	}
	assessment.VolatilityScore = score
	assessment.Method = methodReference
	assessment.Recommendation = volatilityRecommendations[score]
	return assessment, nil
}

// CalculateUnrealizedPL values a position at its acquisition rate and at
// the latest rate
func (s *ForexService) CalculateUnrealizedPL(ctx context.Context, params UnrealizedPLParams) (*UnrealizedPL, error) {
	quote, err := s.GetRealTimeRate(ctx, params.Currency, params.BaseCurrency)
	if err != nil {
		return nil, err
	}
	return ComputeUnrealizedPL(quote.From, quote.To, params.Amount, params.AcquisitionRate, quote.Rate), nil
}

// ComputeUnrealizedPL is the arithmetic behind CalculateUnrealizedPL
func ComputeUnrealizedPL(currency, base string, amount, acquisitionRate, currentRate decimal.Decimal) *UnrealizedPL {
	acquisitionValue := amount.Mul(acquisitionRate)
	currentValue := amount.Mul(currentRate)
	pl := currentValue.Sub(acquisitionValue)

	pct := decimal.Zero
	if !acquisitionValue.IsZero() {
		pct = pl.Div(acquisitionValue.Abs()).Mul(hundred)
	}

	return &UnrealizedPL{
		Currency:            currency,
		BaseCurrency:        base,
		Amount:              amount,
		AcquisitionRate:     acquisitionRate,
		CurrentRate:         currentRate,
		AcquisitionValue:    acquisitionValue,
		CurrentValue:        currentValue,
		UnrealizedPL:        pl,
		UnrealizedPLPercent: pct,
	}
}

// AnnualizedVolatility returns the sample standard deviation of daily log
// returns scaled by sqrt(252), in percent. ok is false when fewer than two
// returns can be formed.
func AnnualizedVolatility(closes []decimal.Decimal) (float64, bool) {
	returns := make([]float64, 0, len(closes))
	for i := 1; i < len(closes); i++ {
		prev, cur := closes[i-1].InexactFloat64(), closes[i].InexactFloat64()
		if prev <= 0 || cur <= 0 {
			continue
		}
		returns = append(returns, math.Log(cur/prev))
	}
	if len(returns) < 2 {
		return 0, false
	}

	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	variance := 0.0
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(returns) - 1)

	return math.Sqrt(variance) * math.Sqrt(tradingDaysPerYear) * 100, true
}

// ClassifyVolatility buckets an annualised volatility given in percent
func ClassifyVolatility(annualizedPct float64) types.VolatilityScore {
	switch {
	case annualizedPct < 5:
		return types.VolatilityLow
	case annualizedPct < 10:
		return types.VolatilityMedium
	case annualizedPct < 20:
		return types.VolatilityHigh
	default:
		return types.VolatilityVeryHigh
	}
}

func normalizePair(from, to string) (string, string, error) {
	f, ok := types.NormalizeCurrency(from)
	if !ok || from == "" {
		return "", "", fxerrors.NewInvalidCurrencyError(from)
	}
	t, ok := types.NormalizeCurrency(to)
	if !ok || to == "" {
		return "", "", fxerrors.NewInvalidCurrencyError(to)
	}
	return f, t, nil
}
