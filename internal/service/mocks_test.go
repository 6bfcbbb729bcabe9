package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fx-insight/internal/models"
	"github.com/fx-insight/internal/ratelimit"
	"github.com/fx-insight/internal/storage"
	"github.com/fx-insight/internal/types"
)

// Mock repositories and rate provider for testing

type mockSnapshotRepository struct {
	mu        sync.Mutex
	snapshots []*models.NetWorthSnapshot
	findErr   error
	createErr error
	deleted   []time.Time
}

func (m *mockSnapshotRepository) FindByUserAndDateRange(ctx context.Context, userID string, from, to time.Time) ([]*models.NetWorthSnapshot, error) {
	if m.findErr != nil {
		return nil, m.findErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*models.NetWorthSnapshot
	for _, s := range m.snapshots {
		if s.UserID == userID && !s.Date.Before(from) && !s.Date.After(to) {
			result = append(result, s)
		}
	}
	sort.SliceStable(result, func(i, j int) bool { return result[i].Date.Before(result[j].Date) })
	return result, nil
}

func (m *mockSnapshotRepository) Create(ctx context.Context, snapshot *models.NetWorthSnapshot) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	snapshot.ID = fmt.Sprintf("snap-%d", len(m.snapshots)+1)
	m.snapshots = append(m.snapshots, snapshot)
	return nil
}

func (m *mockSnapshotRepository) GetLatest(ctx context.Context, userID string) (*models.NetWorthSnapshot, error) {
	if m.findErr != nil {
		return nil, m.findErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *models.NetWorthSnapshot
	for _, s := range m.snapshots {
		if s.UserID == userID && (latest == nil || s.Date.After(latest.Date)) {
			latest = s
		}
	}
	return latest, nil
}

func (m *mockSnapshotRepository) DeleteOlderThan(ctx context.Context, userID string, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, cutoff)
	kept := m.snapshots[:0]
	var n int64
	for _, s := range m.snapshots {
		if s.UserID == userID && s.Date.Before(cutoff) {
			n++
			continue
		}
		kept = append(kept, s)
	}
	m.snapshots = kept
	return n, nil
}

type mockAccountRepository struct {
	accounts []*models.Account
	err      error
	filters  []models.AccountFilter
	mu       sync.Mutex
}

func (m *mockAccountRepository) FindActiveAccounts(ctx context.Context, userID string, filter models.AccountFilter) ([]*models.Account, error) {
	m.mu.Lock()
	m.filters = append(m.filters, filter)
	m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	var result []*models.Account
	for _, a := range m.accounts {
		if a.UserID != userID || !a.IsActive {
			continue
		}
		if filter.NetWorthOnly && !a.IncludeInNetWorth {
			continue
		}
		if filter.ExcludeCurrency != "" && strings.EqualFold(a.Currency, filter.ExcludeCurrency) {
			continue
		}
		result = append(result, a)
	}
	return result, nil
}

func (m *mockAccountRepository) ListUsersWithActiveAccounts(ctx context.Context) ([]string, error) {
	seen := map[string]bool{}
	var users []string
	for _, a := range m.accounts {
		if a.IsActive && !seen[a.UserID] {
			seen[a.UserID] = true
			users = append(users, a.UserID)
		}
	}
	return users, nil
}

// mockRateProvider quotes from a table of rates into the base currency
type mockRateProvider struct {
	rates       map[string]decimal.Decimal // "EUR/USD" -> rate
	volatility  map[string]types.VolatilityScore
	failRate    map[string]error // currency -> error
	failVol     map[string]error
	mu          sync.Mutex
	rateCalls   int
	convertSeen []string
	priorities  []ratelimit.Priority
}

func newMockRateProvider() *mockRateProvider {
	return &mockRateProvider{
		rates:      map[string]decimal.Decimal{},
		volatility: map[string]types.VolatilityScore{},
		failRate:   map[string]error{},
		failVol:    map[string]error{},
	}
}

func (m *mockRateProvider) withRate(from, to, rate string) *mockRateProvider {
	m.rates[from+"/"+to] = decimal.RequireFromString(rate)
	return m
}

func (m *mockRateProvider) GetRealTimeRate(ctx context.Context, from, to string) (*types.RateQuote, error) {
	m.mu.Lock()
	m.rateCalls++
	m.priorities = append(m.priorities, ratelimit.PriorityFromContext(ctx))
	m.mu.Unlock()
	if err := m.failRate[from]; err != nil {
		return nil, err
	}
	if from == to {
		return &types.RateQuote{From: from, To: to, Rate: decimal.NewFromInt(1)}, nil
	}
	r, ok := m.rates[from+"/"+to]
	if !ok {
		return nil, fmt.Errorf("no rate for %s/%s", from, to)
	}
	return &types.RateQuote{From: from, To: to, Rate: r}, nil
}

func (m *mockRateProvider) ConvertRealTime(ctx context.Context, amount decimal.Decimal, from, to string) (*Conversion, error) {
	m.mu.Lock()
	m.convertSeen = append(m.convertSeen, from)
	m.mu.Unlock()
	q, err := m.GetRealTimeRate(ctx, from, to)
	if err != nil {
		return nil, err
	}
	return &Conversion{Amount: amount, From: from, To: to, Rate: q.Rate, ConvertedAmount: amount.Mul(q.Rate)}, nil
}

func (m *mockRateProvider) GetVolatility(ctx context.Context, currency, baseCurrency string) (*VolatilityAssessment, error) {
	if err := m.failVol[currency]; err != nil {
		return nil, err
	}
	score, ok := m.volatility[currency]
	if !ok {
		score = types.VolatilityMedium
	}
	return &VolatilityAssessment{
		Currency:        currency,
		BaseCurrency:    baseCurrency,
		VolatilityScore: score,
		Recommendation:  volatilityRecommendations[score],
	}, nil
}

func (m *mockRateProvider) CalculateUnrealizedPL(ctx context.Context, params UnrealizedPLParams) (*UnrealizedPL, error) {
	q, err := m.GetRealTimeRate(ctx, params.Currency, params.BaseCurrency)
	if err != nil {
		return nil, err
	}
	return ComputeUnrealizedPL(params.Currency, params.BaseCurrency, params.Amount, params.AcquisitionRate, q.Rate), nil
}

// fakeRateSource counts upstream fetches
type fakeRateSource struct {
	rates map[string]decimal.Decimal
	err   error
	calls int
	mu    sync.Mutex
}

func (f *fakeRateSource) Name() string { return "fake" }

func (f *fakeRateSource) LatestRate(ctx context.Context, from, to string) (*types.RateQuote, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	r, ok := f.rates[from+"/"+to]
	if !ok {
		return nil, fmt.Errorf("no rate for %s/%s", from, to)
	}
	return &types.RateQuote{From: from, To: to, Rate: r, AsOf: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), Source: "fake"}, nil
}

type fakeRateHistory struct {
	recorded  []*types.RateQuote
	closes    []storage.DailyClose
	closesErr error
	rateAt    *types.RateQuote
	recordErr error
}

func (f *fakeRateHistory) RecordRate(ctx context.Context, quote *types.RateQuote) error {
	if f.recordErr != nil {
		return f.recordErr
	}
	f.recorded = append(f.recorded, quote)
	return nil
}

func (f *fakeRateHistory) GetRateAt(ctx context.Context, from, to string, at time.Time) (*types.RateQuote, error) {
	return f.rateAt, nil
}

func (f *fakeRateHistory) GetDailyCloses(ctx context.Context, from, to string, since, until time.Time) ([]storage.DailyClose, error) {
	return f.closes, f.closesErr
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func account(id, userID, currency, balance, opening string) *models.Account {
	return &models.Account{
		ID:                id,
		UserID:            userID,
		Name:              "Account " + id,
		Currency:          currency,
		Balance:           dec(balance),
		OpeningBalance:    dec(opening),
		IsActive:          true,
		IncludeInNetWorth: true,
	}
}

func entry(id, currency, balance, rate string) models.SnapshotAccount {
	r := dec(rate)
	v := dec(balance).Mul(r)
	return models.NewSnapshotAccount(id, currency, dec(balance), &r, &v)
}

func snapshotOf(userID string, date time.Time, entries ...models.SnapshotAccount) *models.NetWorthSnapshot {
	s := &models.NetWorthSnapshot{
		UserID:       userID,
		Date:         date,
		BaseCurrency: "USD",
		Accounts:     entries,
	}
	s.TotalNetWorth = s.SumBaseValues()
	return s
}
