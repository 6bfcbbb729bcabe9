package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fx-insight/internal/types"
)

// RateCache keeps recent exchange-rate quotes in Redis
type RateCache struct {
	redis *RedisCache
	ttl   time.Duration
}

// NewRateCache creates a new rate cache
func NewRateCache(redis *RedisCache, ttl time.Duration) *RateCache {
	return &RateCache{
		redis: redis,
		ttl:   ttl,
	}
}

// RateKey generates the cache key for a currency pair.
// Format: fx:rate:<from>:<to>
func RateKey(from, to string) string {
	return strings.Join([]string{"fx", "rate", strings.ToLower(from), strings.ToLower(to)}, ":")
}

// GetRate returns the cached quote for a pair; found is false on a miss
func (c *RateCache) GetRate(ctx context.Context, from, to string) (quote *types.RateQuote, found bool, err error) {
	data, err := c.redis.Get(ctx, RateKey(from, to))
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to get rate from cache: %w", err)
	}

	quote = &types.RateQuote{}
	if err := json.Unmarshal([]byte(data), quote); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal cached rate: %w", err)
	}
	return quote, true, nil
}

// SetRate stores a quote with the configured TTL
func (c *RateCache) SetRate(ctx context.Context, quote *types.RateQuote) error {
	data, err := json.Marshal(quote)
	if err != nil {
		return fmt.Errorf("failed to marshal rate: %w", err)
	}
	return c.redis.Set(ctx, RateKey(quote.From, quote.To), data, c.ttl)
}

// Invalidate removes cached quotes for the given pairs (from, to, from, to, ...)
func (c *RateCache) Invalidate(ctx context.Context, pairs ...string) error {
	if len(pairs) == 0 {
		return nil
	}
	if len(pairs)%2 != 0 {
		return fmt.Errorf("invalidate expects currency pairs, got %d codes", len(pairs))
	}

	keys := make([]string, 0, len(pairs)/2)
	for i := 0; i < len(pairs); i += 2 {
		keys = append(keys, RateKey(pairs[i], pairs[i+1]))
	}
	return c.redis.Del(ctx, keys...)
}
