package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fx-insight/internal/models"
	"github.com/fx-insight/internal/storage"
	"github.com/fx-insight/internal/types"
)

// SnapshotStore is the read side of the snapshot repository used by the
// revaluation engine
type SnapshotStore interface {
	FindByUserAndDateRange(ctx context.Context, userID string, from, to time.Time) ([]*models.NetWorthSnapshot, error)
}

// SnapshotWriter is the write side used by snapshot capture and ingestion
type SnapshotWriter interface {
	Create(ctx context.Context, snapshot *models.NetWorthSnapshot) error
	GetLatest(ctx context.Context, userID string) (*models.NetWorthSnapshot, error)
	DeleteOlderThan(ctx context.Context, userID string, cutoff time.Time) (int64, error)
}

// AccountLookup returns a user's active accounts
type AccountLookup interface {
	FindActiveAccounts(ctx context.Context, userID string, filter models.AccountFilter) ([]*models.Account, error)
}

// UserLister enumerates users the daily capture should cover
type UserLister interface {
	ListUsersWithActiveAccounts(ctx context.Context) ([]string, error)
}

// RateProvider is everything the engine needs from the exchange-rate layer.
// ForexService is the production implementation.
type RateProvider interface {
	GetRealTimeRate(ctx context.Context, from, to string) (*types.RateQuote, error)
	ConvertRealTime(ctx context.Context, amount decimal.Decimal, from, to string) (*Conversion, error)
	GetVolatility(ctx context.Context, currency, baseCurrency string) (*VolatilityAssessment, error)
	CalculateUnrealizedPL(ctx context.Context, params UnrealizedPLParams) (*UnrealizedPL, error)
}

// RateCacheStore caches latest quotes between source fetches
type RateCacheStore interface {
	GetRate(ctx context.Context, from, to string) (*types.RateQuote, bool, error)
	SetRate(ctx context.Context, quote *types.RateQuote) error
}

// RateHistory is the time-series store of observed quotes
type RateHistory interface {
	RecordRate(ctx context.Context, quote *types.RateQuote) error
	GetRateAt(ctx context.Context, from, to string, at time.Time) (*types.RateQuote, error)
	GetDailyCloses(ctx context.Context, from, to string, since, until time.Time) ([]storage.DailyClose, error)
}

// Conversion is an amount converted at the latest rate
type Conversion struct {
	Amount          decimal.Decimal `json:"amount"`
	From            string          `json:"from"`
	To              string          `json:"to"`
	Rate            decimal.Decimal `json:"rate"`
	ConvertedAmount decimal.Decimal `json:"convertedAmount"`
	AsOf            time.Time       `json:"asOf"`
}

// VolatilityAssessment classifies how volatile a currency is against a base
type VolatilityAssessment struct {
	Currency        string                `json:"currency"`
	BaseCurrency    string                `json:"baseCurrency"`
	VolatilityScore types.VolatilityScore `json:"volatilityScore"`
	// AnnualizedVolatility is in percent; nil when the static table was used
	AnnualizedVolatility *decimal.Decimal `json:"annualizedVolatility,omitempty"`
	Observations         int              `json:"observations"`
	Method               string           `json:"method"`
	Recommendation       string           `json:"recommendation"`
}

// UnrealizedPLParams describes one foreign-currency position
type UnrealizedPLParams struct {
	Currency        string
	Amount          decimal.Decimal
	AcquisitionRate decimal.Decimal
	BaseCurrency    string
}

// UnrealizedPL is the paper gain or loss on a position at today's rate
type UnrealizedPL struct {
	Currency            string          `json:"currency"`
	BaseCurrency        string          `json:"baseCurrency"`
	Amount              decimal.Decimal `json:"amount"`
	AcquisitionRate     decimal.Decimal `json:"acquisitionRate"`
	CurrentRate         decimal.Decimal `json:"currentRate"`
	AcquisitionValue    decimal.Decimal `json:"acquisitionValue"`
	CurrentValue        decimal.Decimal `json:"currentValue"`
	UnrealizedPL        decimal.Decimal `json:"unrealizedPL"`
	UnrealizedPLPercent decimal.Decimal `json:"unrealizedPLPercent"`
}
