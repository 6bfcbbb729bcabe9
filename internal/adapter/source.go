// Package adapter holds the exchange-rate sources behind the rate provider.
package adapter

import (
	"context"
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"

	fxerrors "github.com/fx-insight/internal/errors"
	"github.com/fx-insight/internal/logging"
	"github.com/fx-insight/internal/types"
)

// RateSource supplies the current rate for a currency pair
type RateSource interface {
	// Name identifies the source in logs and quotes
	Name() string
	// LatestRate returns how many units of to one unit of from buys
	LatestRate(ctx context.Context, from, to string) (*types.RateQuote, error)
}

// SourceHealth is the request history of one source inside a FailoverSource
type SourceHealth struct {
	Name             string    `json:"name"`
	TotalRequests    int64     `json:"totalRequests"`
	FailedRequests   int64     `json:"failedRequests"`
	ConsecutiveFails int       `json:"consecutiveFails"`
	LastSuccess      time.Time `json:"lastSuccess"`
	LastFailure      time.Time `json:"lastFailure"`
}

// FailoverSource asks its sources in order and returns the first quote.
// A source that has failed maxConsecutiveFails times in a row is moved
// behind the healthy ones until it succeeds again.
type FailoverSource struct {
	sources             []RateSource
	maxConsecutiveFails int

	mu     sync.Mutex
	health []SourceHealth
}

// NewFailoverSource creates a failover chain; the first source is the primary
func NewFailoverSource(sources ...RateSource) *FailoverSource {
	health := make([]SourceHealth, len(sources))
	for i, s := range sources {
		health[i].Name = s.Name()
	}
	return &FailoverSource{
		sources:             sources,
		maxConsecutiveFails: 3,
		health:              health,
	}
}

// Name implements RateSource
func (f *FailoverSource) Name() string {
	return "failover"
}

// LatestRate implements RateSource
func (f *FailoverSource) LatestRate(ctx context.Context, from, to string) (*types.RateQuote, error) {
	var lastErr error
	for _, i := range f.order() {
		quote, err := f.sources[i].LatestRate(ctx, from, to)
		f.record(i, err)
		if err == nil {
			return quote, nil
		}

		logging.FromContext(ctx).WithError(err).WithFields(map[string]interface{}{
			"source": f.sources[i].Name(),
			"pair":   from + "/" + to,
		}).Warn("Rate source failed, trying next")
		lastErr = err

		if ctx.Err() != nil {
			break
		}
	}

	if lastErr == nil {
		return nil, fxerrors.NewRateUnavailableError(from, to)
	}
	return nil, pkgerrors.Wrap(lastErr, "all rate sources failed")
}

// Health returns a copy of every source's request history
func (f *FailoverSource) Health() []SourceHealth {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]SourceHealth, len(f.health))
	copy(out, f.health)
	return out
}

func (f *FailoverSource) order() []int {
	f.mu.Lock()
	defer f.mu.Unlock()

	healthy := make([]int, 0, len(f.sources))
	var degraded []int
	for i := range f.sources {
		if f.health[i].ConsecutiveFails >= f.maxConsecutiveFails {
			degraded = append(degraded, i)
		} else {
			healthy = append(healthy, i)
		}
	}
	return append(healthy, degraded...)
}

func (f *FailoverSource) record(i int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	h := &f.health[i]
	h.TotalRequests++
	if err != nil {
		h.FailedRequests++
		h.ConsecutiveFails++
		h.LastFailure = time.Now()
		return
	}
	h.ConsecutiveFails = 0
	h.LastSuccess = time.Now()
}
