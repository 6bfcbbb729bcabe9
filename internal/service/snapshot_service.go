package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	fxerrors "github.com/fx-insight/internal/errors"
	"github.com/fx-insight/internal/logging"
	"github.com/fx-insight/internal/models"
	"github.com/fx-insight/internal/ratelimit"
)

// SnapshotConfig holds capture defaults
type SnapshotConfig struct {
	BaseCurrency      string
	RetentionDays     int // 0 keeps snapshots forever
	LookupConcurrency int
}

// SnapshotService captures daily net-worth snapshots and ingests externally
// produced ones
type SnapshotService struct {
	snapshots SnapshotWriter
	accounts  AccountLookup
	users     UserLister
	rates     RateProvider
	cfg       SnapshotConfig
	logger    *logging.Logger
	now       func() time.Time

	mu       sync.Mutex
	stopChan chan struct{}
	done     chan struct{}
	running  bool
}

// NewSnapshotService creates a new snapshot service
func NewSnapshotService(
	snapshots SnapshotWriter,
	accounts AccountLookup,
	users UserLister,
	rates RateProvider,
	cfg SnapshotConfig,
	logger *logging.Logger,
) *SnapshotService {
	if cfg.LookupConcurrency <= 0 {
		cfg.LookupConcurrency = 1
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &SnapshotService{
		snapshots: snapshots,
		accounts:  accounts,
		users:     users,
		rates:     rates,
		cfg:       cfg,
		logger:    logger.WithField("component", "snapshot_service"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Start begins the snapshot scheduler. The first capture runs at the next
// midnight UTC and then every 24 hours.
func (s *SnapshotService) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("snapshot scheduler is already running")
	}

	s.running = true
	s.stopChan = make(chan struct{})
	s.done = make(chan struct{})

	now := s.now()
	nextMidnight := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, time.UTC)
	untilMidnight := nextMidnight.Sub(now)

	s.logger.WithFields(map[string]interface{}{
		"next_run": nextMidnight.Format(time.RFC3339),
		"wait":     untilMidnight.String(),
	}).Info("snapshot scheduler starting")

	go s.loop(ctx, untilMidnight, s.stopChan, s.done)
	return nil
}

func (s *SnapshotService) loop(ctx context.Context, firstWait time.Duration, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	timer := time.NewTimer(firstWait)
	defer timer.Stop()

	select {
	case <-timer.C:
		s.runScheduled(ctx)
	case <-stop:
		return
	case <-ctx.Done():
		return
	}

	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.runScheduled(ctx)
		case <-stop:
			s.logger.Info("snapshot scheduler stopped")
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *SnapshotService) runScheduled(ctx context.Context) {
	if err := s.CaptureAllSnapshots(ctx); err != nil {
		s.logger.WithError(err).Error("daily snapshot capture failed")
	}
}

// Stop stops the scheduler and waits for an in-flight capture to finish
func (s *SnapshotService) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return fmt.Errorf("snapshot scheduler is not running")
	}
	close(s.stopChan)
	done := s.done
	s.running = false
	s.mu.Unlock()

	s.logger.Info("snapshot scheduler stopping")
	<-done
	return nil
}

// IsRunning returns whether the scheduler is currently running
func (s *SnapshotService) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// CaptureAllSnapshots captures a snapshot for every user with active
// accounts and applies the retention policy. A failure for one user does
// not stop the others.
func (s *SnapshotService) CaptureAllSnapshots(ctx context.Context) error {
	ctx = ratelimit.WithPriority(ctx, ratelimit.PriorityBatch)
	started := s.now()
	userIDs, err := s.users.ListUsersWithActiveAccounts(ctx)
	if err != nil {
		return fxerrors.NewDatabaseError("list users", err)
	}

	s.logger.WithField("users", len(userIDs)).Info("starting daily snapshot capture")

	successCount, errorCount := 0, 0
	for _, userID := range userIDs {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, err := s.CaptureSnapshot(ctx, userID, s.cfg.BaseCurrency); err != nil {
			s.logger.WithField("user_id", userID).WithError(err).Error("snapshot capture failed")
			errorCount++
			continue
		}
		successCount++

		if _, err := s.ApplyRetentionPolicy(ctx, userID); err != nil {
			s.logger.WithField("user_id", userID).WithError(err).Warn("retention policy failed")
		}
	}

	s.logger.WithFields(map[string]interface{}{
		"successful": successCount,
		"errors":     errorCount,
		"duration":   s.now().Sub(started).String(),
	}).Info("snapshot capture complete")
	return nil
}

// CaptureSnapshot values every active net-worth account of userID in
// baseCurrency at the latest rate and stores the result as today's
// snapshot. Accounts whose rate cannot be fetched are skipped. When today's
// snapshot in the same base currency already exists it is returned as is.
func (s *SnapshotService) CaptureSnapshot(ctx context.Context, userID, baseCurrency string) (*models.NetWorthSnapshot, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fxerrors.NewInvalidParameterError("userId", "user id is required")
	}
	base := baseCurrency
	if base == "" {
		base = s.cfg.BaseCurrency
	}

	now := s.now()
	today := now.Truncate(24 * time.Hour)

	latest, err := s.snapshots.GetLatest(ctx, userID)
	if err != nil {
		return nil, fxerrors.NewDatabaseError("find latest snapshot", err)
	}
	if latest != nil && latest.Date.Equal(today) && strings.EqualFold(latest.BaseCurrency, base) {
		s.logger.WithFields(map[string]interface{}{
			"user_id": userID,
			"date":    today.Format("2006-01-02"),
		}).Debug("snapshot already captured today")
		return latest, nil
	}

	accounts, err := s.accounts.FindActiveAccounts(ctx, userID, models.AccountFilter{NetWorthOnly: true})
	if err != nil {
		return nil, fxerrors.NewDatabaseError("find active accounts", err)
	}

	outcomes := runAccountLookups(ctx, s.cfg.LookupConcurrency, accounts, func(ctx context.Context, acc *models.Account) (models.SnapshotAccount, error) {
		quote, err := s.rates.GetRealTimeRate(ctx, acc.Currency, base)
		if err != nil {
			return models.SnapshotAccount{}, err
		}
		value := acc.Balance.Mul(quote.Rate)
		entry := models.NewSnapshotAccount(acc.ID, quote.From, acc.Balance, &quote.Rate, &value)
		entry.Name = acc.Name
		return entry, nil
	})
	collectFailures(logging.WithLogger(ctx, s.logger), "snapshot_capture", outcomes)

	snapshot := &models.NetWorthSnapshot{
		UserID:        userID,
		Date:          today,
		BaseCurrency:  base,
		TotalNetWorth: decimal.Zero,
		Accounts:      make([]models.SnapshotAccount, 0, len(accounts)),
		CreatedAt:     now,
	}
	for _, o := range outcomes {
		if o.err == nil {
			snapshot.Accounts = append(snapshot.Accounts, o.value)
		}
	}
	snapshot.TotalNetWorth = snapshot.SumBaseValues()

	if err := s.store(ctx, snapshot); err != nil {
		return nil, err
	}

	s.logger.WithFields(map[string]interface{}{
		"user_id":   userID,
		"date":      snapshot.Date.Format("2006-01-02"),
		"accounts":  len(snapshot.Accounts),
		"net_worth": snapshot.TotalNetWorth.String(),
	}).Info("snapshot captured")
	return snapshot, nil
}

// RecordSnapshot ingests a snapshot produced elsewhere. Entry defaults are
// applied before validation.
func (s *SnapshotService) RecordSnapshot(ctx context.Context, snapshot *models.NetWorthSnapshot) error {
	if snapshot == nil {
		return fxerrors.NewInvalidSnapshotError(fmt.Errorf("snapshot is required"))
	}
	if snapshot.BaseCurrency == "" {
		snapshot.BaseCurrency = s.cfg.BaseCurrency
	}
	if snapshot.CreatedAt.IsZero() {
		snapshot.CreatedAt = s.now()
	}
	return s.store(ctx, snapshot)
}

func (s *SnapshotService) store(ctx context.Context, snapshot *models.NetWorthSnapshot) error {
	snapshot.Normalize()
	if err := snapshot.Validate(); err != nil {
		return fxerrors.NewInvalidSnapshotError(err)
	}
	if err := s.snapshots.Create(ctx, snapshot); err != nil {
		return fxerrors.NewDatabaseError("store snapshot", err)
	}
	return nil
}

// ApplyRetentionPolicy deletes the user's snapshots older than the
// configured retention period and returns how many were removed
func (s *SnapshotService) ApplyRetentionPolicy(ctx context.Context, userID string) (int64, error) {
	if s.cfg.RetentionDays <= 0 {
		return 0, nil
	}

	cutoff := s.now().Truncate(24*time.Hour).AddDate(0, 0, -s.cfg.RetentionDays)
	deleted, err := s.snapshots.DeleteOlderThan(ctx, userID, cutoff)
	if err != nil {
		return 0, fxerrors.NewDatabaseError("delete old snapshots", err)
	}

	if deleted > 0 {
		s.logger.WithFields(map[string]interface{}{
			"user_id": userID,
			"deleted": deleted,
			"cutoff":  cutoff.Format("2006-01-02"),
		}).Info("applied snapshot retention policy")
	}
	return deleted, nil
}
