// Package ratelimit shares the upstream rate provider's request budget
// between every process that calls it (API server, snapshot scheduler, CLI).
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	fxerrors "github.com/fx-insight/internal/errors"
	"github.com/fx-insight/internal/logging"
)

// Default budget configuration values.
const (
	DefaultTotalBudget    = 60          // requests per window
	DefaultReservedBudget = 40          // reserved for interactive requests
	DefaultWindowSize     = time.Minute // fixed window
	DefaultMaxWait        = 5 * time.Second
)

// Redis key prefixes for request accounting.
const (
	KeyPrefixTotal    = "fx:budget:total:"
	KeyPrefixReserved = "fx:budget:reserved:"
	KeyPrefixShared   = "fx:budget:shared:"
)

// Priority levels for budget allocation.
type Priority int

const (
	// PriorityInteractive is for API and CLI requests (uses the reserved pool).
	PriorityInteractive Priority = iota
	// PriorityBatch is for scheduled snapshot capture (uses the shared pool).
	PriorityBatch
)

// String returns a string representation of the priority level.
func (p Priority) String() string {
	switch p {
	case PriorityInteractive:
		return "interactive"
	case PriorityBatch:
		return "batch"
	default:
		return "unknown"
	}
}

type priorityKey struct{}

// WithPriority marks provider calls made with ctx as having priority p
func WithPriority(ctx context.Context, p Priority) context.Context {
	return context.WithValue(ctx, priorityKey{}, p)
}

// PriorityFromContext returns the priority set by WithPriority,
// PriorityInteractive when none was set
func PriorityFromContext(ctx context.Context) Priority {
	if p, ok := ctx.Value(priorityKey{}).(Priority); ok {
		return p
	}
	return PriorityInteractive
}

// consumeScript atomically checks both the total and the pool counter
// before incrementing them.
var consumeScript = redis.NewScript(`
	local totalKey = KEYS[1]
	local poolKey = KEYS[2]
	local n = tonumber(ARGV[1])
	local totalBudget = tonumber(ARGV[2])
	local poolBudget = tonumber(ARGV[3])
	local ttl = tonumber(ARGV[4])

	local totalUsed = tonumber(redis.call('GET', totalKey) or '0')
	local poolUsed = tonumber(redis.call('GET', poolKey) or '0')

	if totalUsed + n > totalBudget then
		return {0, totalUsed, poolUsed}
	end
	if poolUsed + n > poolBudget then
		return {0, totalUsed, poolUsed}
	end

	redis.call('INCRBY', totalKey, n)
	redis.call('EXPIRE', totalKey, ttl)
	redis.call('INCRBY', poolKey, n)
	redis.call('EXPIRE', poolKey, ttl)

	return {1, totalUsed + n, poolUsed + n}
`)

// ProviderBudget coordinates upstream requests across processes using
// Redis. Each window has a reserved pool for interactive requests and a
// shared pool for batch work; both draw from the total.
type ProviderBudget struct {
	redis          redis.Cmdable
	provider       string
	totalBudget    int
	reservedBudget int
	sharedBudget   int
	windowSize     time.Duration
	keyTTL         time.Duration
	maxWait        time.Duration
	now            func() time.Time
}

// ProviderBudgetConfig holds configuration for the budget.
type ProviderBudgetConfig struct {
	// Redis is required; the budget cannot function without it.
	Redis redis.Cmdable

	// Provider namespaces the Redis keys. Default: "forex".
	Provider string

	// TotalBudget is the number of requests allowed per window. Default: 60.
	TotalBudget int

	// ReservedBudget is the part of TotalBudget only interactive requests
	// may use. Default: 40.
	ReservedBudget int

	// WindowSize is the accounting window. Default: 1m.
	WindowSize time.Duration

	// KeyTTL defaults to twice the window.
	KeyTTL time.Duration

	// MaxWait bounds how long Wait blocks for budget. Default: 5s.
	MaxWait time.Duration
}

// UsageStats contains consumption in the current window.
type UsageStats struct {
	TotalUsed      int       `json:"totalUsed"`
	ReservedUsed   int       `json:"reservedUsed"`
	SharedUsed     int       `json:"sharedUsed"`
	TotalBudget    int       `json:"totalBudget"`
	ReservedBudget int       `json:"reservedBudget"`
	SharedBudget   int       `json:"sharedBudget"`
	WindowStart    time.Time `json:"windowStart"`
}

// Validate checks if the configuration is valid.
func (c *ProviderBudgetConfig) Validate() error {
	if c.Redis == nil {
		return errors.New("redis client is required")
	}
	if c.TotalBudget < 0 {
		return errors.New("total budget cannot be negative")
	}
	if c.ReservedBudget < 0 {
		return errors.New("reserved budget cannot be negative")
	}

	totalBudget := c.TotalBudget
	if totalBudget == 0 {
		totalBudget = DefaultTotalBudget
	}
	reservedBudget := c.ReservedBudget
	if reservedBudget == 0 {
		reservedBudget = DefaultReservedBudget
	}
	if reservedBudget > totalBudget {
		return fmt.Errorf("reserved budget (%d) cannot exceed total budget (%d)", reservedBudget, totalBudget)
	}
	return nil
}

// NewProviderBudget creates a budget with the given configuration.
func NewProviderBudget(cfg *ProviderBudgetConfig) (*ProviderBudget, error) {
	if cfg == nil {
		return nil, errors.New("configuration is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	b := &ProviderBudget{
		redis:          cfg.Redis,
		provider:       cfg.Provider,
		totalBudget:    cfg.TotalBudget,
		reservedBudget: cfg.ReservedBudget,
		windowSize:     cfg.WindowSize,
		keyTTL:         cfg.KeyTTL,
		maxWait:        cfg.MaxWait,
		now:            time.Now,
	}
	if b.provider == "" {
		b.provider = "forex"
	}
	if b.totalBudget == 0 {
		b.totalBudget = DefaultTotalBudget
	}
	if b.reservedBudget == 0 {
		b.reservedBudget = DefaultReservedBudget
	}
	b.sharedBudget = b.totalBudget - b.reservedBudget
	if b.windowSize <= 0 {
		b.windowSize = DefaultWindowSize
	}
	if b.keyTTL <= 0 {
		b.keyTTL = 2 * b.windowSize
	}
	if b.maxWait <= 0 {
		b.maxWait = DefaultMaxWait
	}
	return b, nil
}

// windowStart returns the start of the current window.
func (b *ProviderBudget) windowStart() time.Time {
	return b.now().Truncate(b.windowSize)
}

func (b *ProviderBudget) keys(window time.Time) (totalKey, reservedKey, sharedKey string) {
	suffix := b.provider + ":" + strconv.FormatInt(window.UnixMilli(), 10)
	return KeyPrefixTotal + suffix, KeyPrefixReserved + suffix, KeyPrefixShared + suffix
}

// TryConsume attempts to take n requests from the pool for priority.
// When denied it also returns how long until the next window starts.
// Redis failures deny the request.
func (b *ProviderBudget) TryConsume(ctx context.Context, n int, priority Priority) (bool, time.Duration) {
	if n <= 0 {
		return true, 0
	}

	window := b.windowStart()
	totalKey, reservedKey, sharedKey := b.keys(window)

	poolKey, poolBudget := sharedKey, b.sharedBudget
	if priority == PriorityInteractive {
		poolKey, poolBudget = reservedKey, b.reservedBudget
	}

	ttlSeconds := int(b.keyTTL.Seconds())
	if ttlSeconds < 1 {
		ttlSeconds = 1
	}

	result, err := consumeScript.Run(ctx, b.redis, []string{totalKey, poolKey},
		n, b.totalBudget, poolBudget, ttlSeconds).Int64Slice()
	if err != nil {
		logging.FromContext(ctx).WithError(err).WithField("provider", b.provider).Warn("provider budget check failed")
		return false, b.untilNextWindow(window)
	}
	if result[0] != 1 {
		return false, b.untilNextWindow(window)
	}
	return true, 0
}

// Wait blocks until one request is granted for priority. It gives up with
// a PROVIDER_RATE_LIMIT error when the grant would take longer than the
// configured maximum wait.
func (b *ProviderBudget) Wait(ctx context.Context, priority Priority) error {
	deadline := b.now().Add(b.maxWait)
	for {
		allowed, wait := b.TryConsume(ctx, 1, priority)
		if allowed {
			return nil
		}
		if b.now().Add(wait).After(deadline) {
			return fxerrors.NewProviderRateLimitError(b.provider)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// untilNextWindow returns the time until the window after window starts.
func (b *ProviderBudget) untilNextWindow(window time.Time) time.Duration {
	wait := window.Add(b.windowSize).Sub(b.now())
	if wait < 0 {
		wait = 0
	}
	return wait + time.Millisecond
}

// GetUsage returns usage for the current window. Missing keys count as 0.
func (b *ProviderBudget) GetUsage(ctx context.Context) (*UsageStats, error) {
	window := b.windowStart()
	totalKey, reservedKey, sharedKey := b.keys(window)

	pipe := b.redis.Pipeline()
	totalCmd := pipe.Get(ctx, totalKey)
	reservedCmd := pipe.Get(ctx, reservedKey)
	sharedCmd := pipe.Get(ctx, sharedKey)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fxerrors.NewCacheError("read provider budget", err)
	}

	return &UsageStats{
		TotalUsed:      parseIntOrZero(totalCmd),
		ReservedUsed:   parseIntOrZero(reservedCmd),
		SharedUsed:     parseIntOrZero(sharedCmd),
		TotalBudget:    b.totalBudget,
		ReservedBudget: b.reservedBudget,
		SharedBudget:   b.sharedBudget,
		WindowStart:    window,
	}, nil
}

func parseIntOrZero(cmd *redis.StringCmd) int {
	val, err := cmd.Int()
	if err != nil {
		return 0
	}
	return val
}

// AvailableBudget returns the requests left in the pool for priority.
func (b *ProviderBudget) AvailableBudget(ctx context.Context, priority Priority) (int, error) {
	stats, err := b.GetUsage(ctx)
	if err != nil {
		return 0, err
	}

	available := b.sharedBudget - stats.SharedUsed
	if priority == PriorityInteractive {
		available = b.reservedBudget - stats.ReservedUsed
	}
	if remaining := b.totalBudget - stats.TotalUsed; remaining < available {
		available = remaining
	}
	if available < 0 {
		available = 0
	}
	return available, nil
}

// Utilization returns the share of the total budget used in the current
// window as a percentage (0-100).
func (b *ProviderBudget) Utilization(ctx context.Context) (float64, error) {
	stats, err := b.GetUsage(ctx)
	if err != nil {
		return 0, err
	}
	return float64(stats.TotalUsed) * 100 / float64(b.totalBudget), nil
}
