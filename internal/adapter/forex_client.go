package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/fx-insight/internal/circuitbreaker"
	fxerrors "github.com/fx-insight/internal/errors"
	"github.com/fx-insight/internal/ratelimit"
	"github.com/fx-insight/internal/retry"
	"github.com/fx-insight/internal/types"
)

const forexSourceName = "forex"

// ForexClientConfig configures the HTTP rate source
type ForexClientConfig struct {
	BaseURL           string
	APIKey            string
	RequestsPerSecond float64
	Timeout           time.Duration
	// Retry and Breaker fall back to package defaults when nil
	Retry   *retry.RetryConfig
	Breaker *circuitbreaker.Config
	// Budget, when set, is consulted before every upstream request
	Budget RequestBudget
}

// RequestBudget grants upstream requests shared with other processes.
// ratelimit.ProviderBudget satisfies it.
type RequestBudget interface {
	Wait(ctx context.Context, priority ratelimit.Priority) error
}

// ForexClient fetches latest rates from an exchangerate-style JSON API:
// GET {base}/latest?base=EUR&symbols=USD
type ForexClient struct {
	baseURL  string
	apiKey   string
	client   *http.Client
	limiter  *rate.Limiter
	budget   RequestBudget
	breaker  *circuitbreaker.CircuitBreaker
	retryCfg *retry.RetryConfig
}

type latestRatesResponse struct {
	Base  string                     `json:"base"`
	Date  string                     `json:"date"`
	Rates map[string]decimal.Decimal `json:"rates"`
}

// NewForexClient creates a new forex API client
func NewForexClient(cfg ForexClientConfig) *ForexClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 5
	}

	retryCfg := cfg.Retry
	if retryCfg == nil {
		retryCfg = retry.DefaultRetryConfig()
	}
	if retryCfg.Retryable == nil {
		cp := *retryCfg
		cp.Retryable = isRetryableForexError
		retryCfg = &cp
	}

	breakerCfg := cfg.Breaker
	if breakerCfg == nil {
		breakerCfg = circuitbreaker.DefaultConfig(forexSourceName)
	}

	return &ForexClient{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:   cfg.APIKey,
		client:   &http.Client{Timeout: timeout},
		limiter:  rate.NewLimiter(rate.Limit(rps), int(rps)+1),
		budget:   cfg.Budget,
		breaker:  circuitbreaker.NewCircuitBreaker(breakerCfg),
		retryCfg: retryCfg,
	}
}

// Name implements RateSource
func (c *ForexClient) Name() string {
	return forexSourceName
}

// LatestRate implements RateSource
func (c *ForexClient) LatestRate(ctx context.Context, from, to string) (*types.RateQuote, error) {
	from, to = strings.ToUpper(from), strings.ToUpper(to)

	var resp *latestRatesResponse
	result := retry.WithExponentialBackoff(ctx, c.retryCfg, func(ctx context.Context, _ int) error {
		if err := c.limiter.Wait(ctx); err != nil {
			return pkgerrors.Wrap(err, "forex rate limiter")
		}
		if c.budget != nil {
			if err := c.budget.Wait(ctx, ratelimit.PriorityFromContext(ctx)); err != nil {
				return err
			}
		}

		err := c.breaker.Execute(func() error {
			var fetchErr error
			resp, fetchErr = c.fetchLatest(ctx, from, to)
			return fetchErr
		})
		if pkgerrors.Is(err, circuitbreaker.ErrCircuitOpen) || pkgerrors.Is(err, circuitbreaker.ErrTooManyRequests) {
			unavailable := fxerrors.NewServiceUnavailableError(forexSourceName)
			unavailable.Cause = err
			return unavailable
		}
		return err
	})
	if !result.Success {
		return nil, result.LastError
	}

	value, ok := resp.Rates[to]
	if !ok || !value.IsPositive() {
		return nil, fxerrors.NewRateUnavailableError(from, to)
	}

	asOf := time.Now().UTC()
	if resp.Date != "" {
		if d, err := time.Parse("2006-01-02", resp.Date); err == nil {
			asOf = d
		}
	}

	return &types.RateQuote{
		From:   from,
		To:     to,
		Rate:   value,
		AsOf:   asOf,
		Source: forexSourceName,
	}, nil
}

func (c *ForexClient) fetchLatest(ctx context.Context, from, to string) (*latestRatesResponse, error) {
	q := url.Values{}
	q.Set("base", from)
	q.Set("symbols", to)
	if c.apiKey != "" {
		q.Set("access_key", c.apiKey)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/latest?"+q.Encode(), nil)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "failed to create forex request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil || isTimeout(err) {
			timeoutErr := fxerrors.NewProviderTimeoutError(forexSourceName)
			timeoutErr.Cause = err
			return nil, timeoutErr
		}
		return nil, fxerrors.NewProviderError(forexSourceName, pkgerrors.Wrap(err, "forex request failed"))
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fxerrors.NewProviderError(forexSourceName, pkgerrors.Wrap(err, "failed to read forex response"))
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fxerrors.NewProviderRateLimitError(forexSourceName)
	case resp.StatusCode >= 500:
		return nil, fxerrors.NewProviderError(forexSourceName, fmt.Errorf("HTTP %d: %s", resp.StatusCode, truncateBody(body)))
	case resp.StatusCode != http.StatusOK:
		return nil, fxerrors.NewRateUnavailableError(from, to)
	}

	var parsed latestRatesResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fxerrors.NewProviderError(forexSourceName, pkgerrors.Wrap(err, "failed to decode forex response"))
	}
	return &parsed, nil
}

func isRetryableForexError(err error) bool {
	if pkgerrors.Is(err, circuitbreaker.ErrCircuitOpen) || pkgerrors.Is(err, circuitbreaker.ErrTooManyRequests) {
		return false
	}
	if pkgerrors.Is(err, context.Canceled) {
		return false
	}
	return fxerrors.IsRetryable(err)
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return pkgerrors.As(err, &t) && t.Timeout()
}

func truncateBody(body []byte) string {
	const max = 200
	if len(body) > max {
		return string(body[:max]) + "..."
	}
	return string(body)
}
