package service

import (
	"context"
	"testing"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	fxerrors "github.com/fx-insight/internal/errors"
	"github.com/fx-insight/internal/logging"
	"github.com/fx-insight/internal/models"
	"github.com/fx-insight/internal/ratelimit"
)

var captureNow = time.Date(2024, 5, 20, 0, 0, 5, 0, time.UTC)

func newTestSnapshotService(snaps *mockSnapshotRepository, accounts *mockAccountRepository, rates *mockRateProvider, retentionDays int) (*SnapshotService, *observer.ObservedLogs) {
	core, logs := observer.New(zap.DebugLevel)
	svc := NewSnapshotService(snaps, accounts, accounts, rates, SnapshotConfig{
		BaseCurrency:      "USD",
		RetentionDays:     retentionDays,
		LookupConcurrency: 2,
	}, logging.NewFromZap(zap.New(core)))
	svc.now = func() time.Time { return captureNow }
	return svc, logs
}

func TestCaptureSnapshot(t *testing.T) {
	snaps := &mockSnapshotRepository{}
	accounts := &mockAccountRepository{accounts: []*models.Account{
		account("usd-1", "user-1", "USD", "1000", "1000"),
		account("eur-1", "user-1", "EUR", "500", "500"),
	}}
	rates := newMockRateProvider().withRate("EUR", "USD", "1.1")
	svc, _ := newTestSnapshotService(snaps, accounts, rates, 0)

	snapshot, err := svc.CaptureSnapshot(context.Background(), "user-1", "")
	require.NoError(t, err)

	require.Len(t, snaps.snapshots, 1)
	assert.Equal(t, "snap-1", snapshot.ID)
	assert.Equal(t, "user-1", snapshot.UserID)
	assert.Equal(t, "USD", snapshot.BaseCurrency)

	// snapshot date is today at midnight UTC
	assert.Equal(t, time.Date(2024, 5, 20, 0, 0, 0, 0, time.UTC), snapshot.Date)

	require.Len(t, snapshot.Accounts, 2)
	assert.Equal(t, "usd-1", snapshot.Accounts[0].AccountID)
	assert.True(t, snapshot.Accounts[0].ExchangeRate.Equal(dec("1")))
	assert.Equal(t, "Account eur-1", snapshot.Accounts[1].Name)
	assert.True(t, snapshot.Accounts[1].BalanceInBaseCurrency.Equal(dec("550")))
	assert.True(t, snapshot.TotalNetWorth.Equal(dec("1550")))
}

func TestCaptureSnapshot_OncePerDay(t *testing.T) {
	yesterday := &models.NetWorthSnapshot{
		ID: "snap-0", UserID: "user-1", Date: time.Date(2024, 5, 19, 0, 0, 0, 0, time.UTC),
		BaseCurrency: "USD", TotalNetWorth: dec("900"),
	}
	snaps := &mockSnapshotRepository{snapshots: []*models.NetWorthSnapshot{yesterday}}
	accounts := &mockAccountRepository{accounts: []*models.Account{
		account("usd-1", "user-1", "USD", "1000", "1000"),
	}}
	svc, _ := newTestSnapshotService(snaps, accounts, newMockRateProvider().withRate("USD", "EUR", "0.9"), 0)

	first, err := svc.CaptureSnapshot(context.Background(), "user-1", "USD")
	require.NoError(t, err)
	require.Len(t, snaps.snapshots, 2, "yesterday's snapshot does not block today's")

	again, err := svc.CaptureSnapshot(context.Background(), "user-1", "usd")
	require.NoError(t, err)
	assert.Same(t, first, again)
	assert.Len(t, snaps.snapshots, 2)

	// a different base currency is a separate capture
	_, err = svc.CaptureSnapshot(context.Background(), "user-1", "EUR")
	require.NoError(t, err)
	assert.Len(t, snaps.snapshots, 3)
}

func TestCaptureSnapshot_LatestLookupFails(t *testing.T) {
	snaps := &mockSnapshotRepository{findErr: pkgerrors.New("connection refused")}
	svc, _ := newTestSnapshotService(snaps, &mockAccountRepository{}, newMockRateProvider(), 0)

	_, err := svc.CaptureSnapshot(context.Background(), "user-1", "USD")
	require.Error(t, err)
	assert.True(t, fxerrors.IsSystemError(err))
	assert.Empty(t, snaps.snapshots)
}

func TestCaptureSnapshot_SkipsUnpricedAccounts(t *testing.T) {
	snaps := &mockSnapshotRepository{}
	accounts := &mockAccountRepository{accounts: []*models.Account{
		account("usd-1", "user-1", "USD", "1000", "1000"),
		account("ngn-1", "user-1", "NGN", "90000", "90000"),
	}}
	rates := newMockRateProvider()
	rates.failRate["NGN"] = fxerrors.NewRateUnavailableError("NGN", "USD")
	svc, logs := newTestSnapshotService(snaps, accounts, rates, 0)

	snapshot, err := svc.CaptureSnapshot(context.Background(), "user-1", "USD")
	require.NoError(t, err)

	require.Len(t, snapshot.Accounts, 1)
	assert.True(t, snapshot.TotalNetWorth.Equal(dec("1000")))

	warnings := logs.FilterMessage("account lookup failed, excluding from result").All()
	require.Len(t, warnings, 1)
	assert.Equal(t, "ngn-1", warnings[0].ContextMap()["account_id"])
}

func TestRecordSnapshot(t *testing.T) {
	snaps := &mockSnapshotRepository{}
	svc, _ := newTestSnapshotService(snaps, &mockAccountRepository{}, newMockRateProvider(), 0)

	snapshot := &models.NetWorthSnapshot{
		UserID:        "user-1",
		Date:          day1,
		TotalNetWorth: dec("100"),
		Accounts: []models.SnapshotAccount{
			{AccountID: "a1", Currency: "eur", Balance: dec("100")},
		},
	}
	require.NoError(t, svc.RecordSnapshot(context.Background(), snapshot))

	require.Len(t, snaps.snapshots, 1)
	stored := snaps.snapshots[0]
	assert.Equal(t, "USD", stored.BaseCurrency)
	assert.Equal(t, "EUR", stored.Accounts[0].Currency)
	assert.True(t, stored.Accounts[0].ExchangeRate.Equal(dec("1")), "missing rate defaults to 1")
	assert.Equal(t, captureNow, stored.CreatedAt)
}

func TestRecordSnapshot_Invalid(t *testing.T) {
	snaps := &mockSnapshotRepository{}
	svc, _ := newTestSnapshotService(snaps, &mockAccountRepository{}, newMockRateProvider(), 0)

	tests := []struct {
		name     string
		snapshot *models.NetWorthSnapshot
	}{
		{"nil", nil},
		{"missing user", &models.NetWorthSnapshot{Date: day1}},
		{"missing date", &models.NetWorthSnapshot{UserID: "u1"}},
		{"duplicate account", &models.NetWorthSnapshot{UserID: "u1", Date: day1, Accounts: []models.SnapshotAccount{
			{AccountID: "a1", Currency: "EUR"},
			{AccountID: "a1", Currency: "EUR"},
		}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := svc.RecordSnapshot(context.Background(), tt.snapshot)
			require.Error(t, err)
			assert.Equal(t, "INVALID_SNAPSHOT", fxerrors.Categorize(err).Code)
		})
	}
	assert.Empty(t, snaps.snapshots)
}

func TestRecordSnapshot_StoreFailure(t *testing.T) {
	snaps := &mockSnapshotRepository{createErr: pkgerrors.New("unique violation")}
	svc, _ := newTestSnapshotService(snaps, &mockAccountRepository{}, newMockRateProvider(), 0)

	err := svc.RecordSnapshot(context.Background(), &models.NetWorthSnapshot{UserID: "u1", Date: day1})
	require.Error(t, err)
	assert.Equal(t, fxerrors.CategoryDatabase, fxerrors.Categorize(err).Category)
}

func TestApplyRetentionPolicy(t *testing.T) {
	today := captureNow.Truncate(24 * time.Hour)
	snaps := &mockSnapshotRepository{snapshots: []*models.NetWorthSnapshot{
		{UserID: "user-1", Date: today.AddDate(0, 0, -100)},
		{UserID: "user-1", Date: today.AddDate(0, 0, -10)},
		{UserID: "user-2", Date: today.AddDate(0, 0, -100)},
	}}

	t.Run("keeps everything when retention is disabled", func(t *testing.T) {
		svc, _ := newTestSnapshotService(snaps, &mockAccountRepository{}, newMockRateProvider(), 0)
		deleted, err := svc.ApplyRetentionPolicy(context.Background(), "user-1")
		require.NoError(t, err)
		assert.Zero(t, deleted)
		assert.Empty(t, snaps.deleted)
	})

	t.Run("deletes snapshots past the cutoff", func(t *testing.T) {
		svc, _ := newTestSnapshotService(snaps, &mockAccountRepository{}, newMockRateProvider(), 90)
		deleted, err := svc.ApplyRetentionPolicy(context.Background(), "user-1")
		require.NoError(t, err)
		assert.Equal(t, int64(1), deleted)
		require.Len(t, snaps.deleted, 1)
		assert.Equal(t, today.AddDate(0, 0, -90), snaps.deleted[0])
		assert.Len(t, snaps.snapshots, 2)
	})
}

func TestCaptureAllSnapshots(t *testing.T) {
	snaps := &mockSnapshotRepository{}
	accounts := &mockAccountRepository{accounts: []*models.Account{
		account("a1", "user-1", "USD", "10", "10"),
		account("a2", "user-2", "USD", "20", "20"),
		account("a3", "user-2", "EUR", "20", "20"),
	}}
	rates := newMockRateProvider().withRate("EUR", "USD", "1.5")
	svc, logs := newTestSnapshotService(snaps, accounts, rates, 30)

	require.NoError(t, svc.CaptureAllSnapshots(context.Background()))

	require.Len(t, snaps.snapshots, 2)
	assert.Len(t, snaps.deleted, 2, "retention runs after each capture")
	assert.Equal(t, 1, logs.FilterMessage("snapshot capture complete").Len())

	require.NotEmpty(t, rates.priorities)
	for _, p := range rates.priorities {
		assert.Equal(t, ratelimit.PriorityBatch, p, "scheduled capture draws from the batch budget")
	}
}

// Test scheduler start/stop
func TestSchedulerStartStop(t *testing.T) {
	svc, _ := newTestSnapshotService(&mockSnapshotRepository{}, &mockAccountRepository{}, newMockRateProvider(), 0)

	assert.False(t, svc.IsRunning(), "scheduler should not be running initially")

	require.NoError(t, svc.Start(context.Background()))
	assert.True(t, svc.IsRunning())
	assert.Error(t, svc.Start(context.Background()), "second start is rejected")

	require.NoError(t, svc.Stop())
	assert.False(t, svc.IsRunning())
	assert.Error(t, svc.Stop(), "stop on a stopped scheduler is rejected")

	// the scheduler can be restarted
	require.NoError(t, svc.Start(context.Background()))
	require.NoError(t, svc.Stop())
}
