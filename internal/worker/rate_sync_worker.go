package worker

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/fx-insight/internal/adapter"
	"github.com/fx-insight/internal/logging"
	"github.com/fx-insight/internal/ratelimit"
	"github.com/fx-insight/internal/types"
)

// CurrencyLister returns the currencies currently held by any user.
// storage.AccountRepository satisfies it.
type CurrencyLister interface {
	ListActiveCurrencies(ctx context.Context) ([]string, error)
}

// RateRecorder persists rate observations.
// storage.RateHistoryRepository satisfies it.
type RateRecorder interface {
	RecordBatch(ctx context.Context, quotes []*types.RateQuote) error
}

// RateWarmer refreshes cached quotes. storage.RateCache satisfies it.
type RateWarmer interface {
	SetRate(ctx context.Context, quote *types.RateQuote) error
}

// CurrencyPair is one quoted pair
type CurrencyPair struct {
	From string `json:"from"`
	To   string `json:"to"`
}

func (p CurrencyPair) String() string {
	return p.From + "/" + p.To
}

// PairFailure records a pair whose rate could not be fetched
type PairFailure struct {
	Pair   CurrencyPair `json:"pair"`
	Reason string       `json:"reason"`
}

// SyncResult summarises one poll
type SyncResult struct {
	Pairs    int           `json:"pairs"`
	Recorded int           `json:"recorded"`
	Failures []PairFailure `json:"failures"`
	Duration time.Duration `json:"duration"`
}

// RateSyncWorker periodically records the rate of every held currency
// against the tracked base currencies. The recorded history feeds the
// volatility assessment and historical rate lookups.
type RateSyncWorker struct {
	source         adapter.RateSource
	currencies     CurrencyLister
	history        RateRecorder
	cache          RateWarmer
	baseCurrencies []string
	pollInterval   time.Duration
	concurrency    int
	logger         *logging.Logger

	mu           sync.RWMutex
	running      bool
	stopCh       chan struct{}
	doneCh       chan struct{}
	lastPollTime time.Time
	lastResult   *SyncResult
}

// RateSyncWorkerConfig holds configuration for a rate sync worker
type RateSyncWorkerConfig struct {
	Source         adapter.RateSource
	Currencies     CurrencyLister
	History        RateRecorder
	Cache          RateWarmer // optional
	BaseCurrencies []string
	PollInterval   time.Duration // default 1h
	Concurrency    int           // default 4
	Logger         *logging.Logger
}

// NewRateSyncWorker creates a new rate sync worker
func NewRateSyncWorker(cfg *RateSyncWorkerConfig) (*RateSyncWorker, error) {
	if cfg.Source == nil {
		return nil, fmt.Errorf("rate source cannot be nil")
	}
	if cfg.Currencies == nil {
		return nil, fmt.Errorf("currency lister cannot be nil")
	}
	if cfg.History == nil {
		return nil, fmt.Errorf("rate history cannot be nil")
	}

	bases := make([]string, 0, len(cfg.BaseCurrencies))
	seen := make(map[string]bool)
	for _, b := range cfg.BaseCurrencies {
		code, ok := types.NormalizeCurrency(b)
		if !ok {
			return nil, fmt.Errorf("invalid base currency %q", b)
		}
		if !seen[code] {
			seen[code] = true
			bases = append(bases, code)
		}
	}
	if len(bases) == 0 {
		bases = []string{types.DefaultBaseCurrency}
	}

	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = time.Hour
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	return &RateSyncWorker{
		source:         cfg.Source,
		currencies:     cfg.Currencies,
		history:        cfg.History,
		cache:          cfg.Cache,
		baseCurrencies: bases,
		pollInterval:   pollInterval,
		concurrency:    concurrency,
		logger:         logger.WithField("component", "rate_sync_worker"),
	}, nil
}

// Start polls once immediately and then every poll interval
func (w *RateSyncWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return fmt.Errorf("rate sync worker is already running")
	}
	w.running = true
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})

	w.logger.WithFields(map[string]interface{}{
		"poll_interval":   w.pollInterval.String(),
		"base_currencies": w.baseCurrencies,
	}).Info("starting rate sync worker")

	go w.pollLoop(ctx, w.stopCh, w.doneCh)
	return nil
}

// Stop gracefully stops the worker, waiting for an in-progress poll
func (w *RateSyncWorker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return fmt.Errorf("rate sync worker is not running")
	}
	close(w.stopCh)
	doneCh := w.doneCh
	w.mu.Unlock()

	select {
	case <-doneCh:
	case <-ctx.Done():
		w.logger.Warn("rate sync worker stop timed out")
		return ctx.Err()
	}

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()

	w.logger.Info("rate sync worker stopped")
	return nil
}

// pollLoop is the main polling loop that runs in a goroutine
func (w *RateSyncWorker) pollLoop(ctx context.Context, stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	poll := func() {
		result, err := w.PollRates(ctx)
		if err != nil {
			w.logger.WithError(err).Error("rate poll failed")
			return
		}
		w.logger.WithFields(map[string]interface{}{
			"pairs":    result.Pairs,
			"recorded": result.Recorded,
			"failed":   len(result.Failures),
			"duration": result.Duration.String(),
		}).Info("rate poll complete")
	}

	poll()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			poll()
		}
	}
}

// TrackedPairs returns every held currency paired with every base currency,
// identity pairs excluded, in a stable order
func (w *RateSyncWorker) TrackedPairs(ctx context.Context) ([]CurrencyPair, error) {
	held, err := w.currencies.ListActiveCurrencies(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list held currencies: %w", err)
	}

	seen := make(map[CurrencyPair]bool)
	pairs := make([]CurrencyPair, 0, len(held)*len(w.baseCurrencies))
	for _, c := range held {
		code, ok := types.NormalizeCurrency(c)
		if !ok {
			w.logger.WithField("currency", c).Warn("skipping unknown currency code")
			continue
		}
		for _, base := range w.baseCurrencies {
			p := CurrencyPair{From: code, To: base}
			if code == base || seen[p] {
				continue
			}
			seen[p] = true
			pairs = append(pairs, p)
		}
	}

	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].To != pairs[j].To {
			return pairs[i].To < pairs[j].To
		}
		return pairs[i].From < pairs[j].From
	})
	return pairs, nil
}

// PollRates fetches every tracked pair once, records the quotes that
// succeeded and refreshes the cache. A failing pair never stops the others.
func (w *RateSyncWorker) PollRates(ctx context.Context) (*SyncResult, error) {
	started := time.Now()
	ctx = ratelimit.WithPriority(ctx, ratelimit.PriorityBatch)

	pairs, err := w.TrackedPairs(ctx)
	if err != nil {
		return nil, err
	}

	quotes := make([]*types.RateQuote, len(pairs))
	errs := make([]error, len(pairs))

	var g errgroup.Group
	g.SetLimit(w.concurrency)
	for i, p := range pairs {
		g.Go(func() error {
			quotes[i], errs[i] = w.source.LatestRate(ctx, p.From, p.To)
			return nil
		})
	}
	_ = g.Wait()

	result := &SyncResult{Pairs: len(pairs), Failures: []PairFailure{}}
	fetched := make([]*types.RateQuote, 0, len(pairs))
	for i, p := range pairs {
		if errs[i] != nil {
			w.logger.WithError(errs[i]).WithField("pair", p.String()).Warn("failed to fetch rate")
			result.Failures = append(result.Failures, PairFailure{Pair: p, Reason: errs[i].Error()})
			continue
		}
		fetched = append(fetched, quotes[i])
	}

	if err := w.history.RecordBatch(ctx, fetched); err != nil {
		return nil, fmt.Errorf("failed to record %d rates: %w", len(fetched), err)
	}
	result.Recorded = len(fetched)

	if w.cache != nil {
		w.warmCache(ctx, fetched)
	}

	result.Duration = time.Since(started)
	w.mu.Lock()
	w.lastPollTime = started
	w.lastResult = result
	w.mu.Unlock()

	return result, nil
}

// warmCache stores each quote and its inverse, so lookups from a base
// currency into a held currency hit the cache too
func (w *RateSyncWorker) warmCache(ctx context.Context, quotes []*types.RateQuote) {
	for _, q := range quotes {
		warm := []*types.RateQuote{q}
		if !q.Rate.IsZero() {
			warm = append(warm, q.Invert())
		}
		for _, quote := range warm {
			if err := w.cache.SetRate(ctx, quote); err != nil {
				w.logger.WithError(err).Warn("failed to warm rate cache")
				return
			}
		}
	}
}

// RateSyncStatus represents the current state of the worker
type RateSyncStatus struct {
	Running        bool        `json:"running"`
	BaseCurrencies []string    `json:"baseCurrencies"`
	PollInterval   string      `json:"pollInterval"`
	LastPollTime   time.Time   `json:"lastPollTime"`
	LastResult     *SyncResult `json:"lastResult,omitempty"`
}

// GetStatus returns the current status of the worker
func (w *RateSyncWorker) GetStatus() *RateSyncStatus {
	w.mu.RLock()
	defer w.mu.RUnlock()

	return &RateSyncStatus{
		Running:        w.running,
		BaseCurrencies: append([]string(nil), w.baseCurrencies...),
		PollInterval:   w.pollInterval.String(),
		LastPollTime:   w.lastPollTime,
		LastResult:     w.lastResult,
	}
}
