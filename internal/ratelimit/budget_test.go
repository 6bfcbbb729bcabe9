package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	fxerrors "github.com/fx-insight/internal/errors"
)

var budgetNow = time.Date(2024, 6, 3, 12, 30, 15, 0, time.UTC)

// getTestRedisClient returns a client backed by an in-process Redis.
func getTestRedisClient(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client, mr
}

func newTestBudget(t *testing.T, client redis.Cmdable, total, reserved int) *ProviderBudget {
	budget, err := NewProviderBudget(&ProviderBudgetConfig{
		Redis:          client,
		TotalBudget:    total,
		ReservedBudget: reserved,
		WindowSize:     time.Minute,
		MaxWait:        time.Second,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	budget.now = func() time.Time { return budgetNow }
	return budget
}

func TestNewProviderBudget(t *testing.T) {
	client, _ := getTestRedisClient(t)

	tests := []struct {
		name    string
		cfg     *ProviderBudgetConfig
		wantErr bool
	}{
		{"nil config", nil, true},
		{"nil redis client", &ProviderBudgetConfig{}, true},
		{"negative total", &ProviderBudgetConfig{Redis: client, TotalBudget: -1}, true},
		{"reserved above total", &ProviderBudgetConfig{Redis: client, TotalBudget: 10, ReservedBudget: 20}, true},
		{"defaults", &ProviderBudgetConfig{Redis: client}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			budget, err := NewProviderBudget(tt.cfg)
			if tt.wantErr {
				if err == nil {
					t.Error("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if budget.totalBudget != DefaultTotalBudget || budget.reservedBudget != DefaultReservedBudget {
				t.Errorf("expected default budgets, got %d/%d", budget.totalBudget, budget.reservedBudget)
			}
			if budget.sharedBudget != DefaultTotalBudget-DefaultReservedBudget {
				t.Errorf("unexpected shared budget %d", budget.sharedBudget)
			}
			if budget.keyTTL != 2*DefaultWindowSize {
				t.Errorf("expected key TTL of two windows, got %v", budget.keyTTL)
			}
		})
	}
}

func TestProviderBudget_TryConsume_SeparatePools(t *testing.T) {
	client, _ := getTestRedisClient(t)
	budget := newTestBudget(t, client, 10, 6)
	ctx := context.Background()

	// shared pool holds 4
	for i := 0; i < 4; i++ {
		if ok, _ := budget.TryConsume(ctx, 1, PriorityBatch); !ok {
			t.Fatalf("batch request %d denied", i)
		}
	}
	allowed, wait := budget.TryConsume(ctx, 1, PriorityBatch)
	if allowed {
		t.Error("expected batch request beyond the shared pool to be denied")
	}
	// 12:30:15 -> next window at 12:31:00
	if want := 45*time.Second + time.Millisecond; wait != want {
		t.Errorf("expected wait %v, got %v", want, wait)
	}

	// interactive requests still have their reserve
	for i := 0; i < 6; i++ {
		if ok, _ := budget.TryConsume(ctx, 1, PriorityInteractive); !ok {
			t.Fatalf("interactive request %d denied", i)
		}
	}
	if ok, _ := budget.TryConsume(ctx, 1, PriorityInteractive); ok {
		t.Error("expected interactive request beyond the reserve to be denied")
	}

	stats, err := budget.GetUsage(ctx)
	if err != nil {
		t.Fatalf("unexpected error getting usage: %v", err)
	}
	if stats.TotalUsed != 10 || stats.ReservedUsed != 6 || stats.SharedUsed != 4 {
		t.Errorf("unexpected usage %+v", stats)
	}
	if !stats.WindowStart.Equal(time.Date(2024, 6, 3, 12, 30, 0, 0, time.UTC)) {
		t.Errorf("unexpected window start %v", stats.WindowStart)
	}
}

func TestProviderBudget_TryConsume_ZeroOrNegative(t *testing.T) {
	client, _ := getTestRedisClient(t)
	budget := newTestBudget(t, client, 10, 5)

	for _, n := range []int{0, -3} {
		if ok, wait := budget.TryConsume(context.Background(), n, PriorityBatch); !ok || wait != 0 {
			t.Errorf("TryConsume(%d) = %v, %v; want allowed without wait", n, ok, wait)
		}
	}
}

func TestProviderBudget_NewWindowResets(t *testing.T) {
	client, _ := getTestRedisClient(t)
	budget := newTestBudget(t, client, 2, 1)
	ctx := context.Background()

	budget.TryConsume(ctx, 1, PriorityBatch)
	if ok, _ := budget.TryConsume(ctx, 1, PriorityBatch); ok {
		t.Fatal("expected shared pool to be exhausted")
	}

	budget.now = func() time.Time { return budgetNow.Add(time.Minute) }
	if ok, _ := budget.TryConsume(ctx, 1, PriorityBatch); !ok {
		t.Error("expected request in the next window to be allowed")
	}
}

func TestProviderBudget_KeysExpire(t *testing.T) {
	client, mr := getTestRedisClient(t)
	budget := newTestBudget(t, client, 10, 5)

	budget.TryConsume(context.Background(), 1, PriorityInteractive)
	totalKey, _, _ := budget.keys(budget.windowStart())
	if ttl := mr.TTL(totalKey); ttl != 2*time.Minute {
		t.Errorf("expected TTL of two windows, got %v", ttl)
	}
}

func TestProviderBudget_Wait(t *testing.T) {
	client, _ := getTestRedisClient(t)
	budget := newTestBudget(t, client, 1, 1)
	ctx := context.Background()

	if err := budget.Wait(ctx, PriorityInteractive); err != nil {
		t.Fatalf("first request should be granted: %v", err)
	}

	// next window is 45s away, beyond the 1s max wait
	err := budget.Wait(ctx, PriorityInteractive)
	if err == nil {
		t.Fatal("expected rate limit error")
	}
	if code := fxerrors.Categorize(err).Code; code != "PROVIDER_RATE_LIMIT" {
		t.Errorf("expected PROVIDER_RATE_LIMIT, got %s", code)
	}
}

func TestProviderBudget_RedisDownDenies(t *testing.T) {
	client, mr := getTestRedisClient(t)
	budget := newTestBudget(t, client, 10, 5)
	mr.Close()

	if ok, _ := budget.TryConsume(context.Background(), 1, PriorityInteractive); ok {
		t.Error("expected request to be denied when Redis is unreachable")
	}
	if _, err := budget.GetUsage(context.Background()); err == nil {
		t.Error("expected usage read to fail when Redis is unreachable")
	}
}

func TestProviderBudget_AvailableAndUtilization(t *testing.T) {
	client, _ := getTestRedisClient(t)
	budget := newTestBudget(t, client, 10, 6)
	ctx := context.Background()

	budget.TryConsume(ctx, 3, PriorityBatch)
	budget.TryConsume(ctx, 5, PriorityInteractive)

	available, err := budget.AvailableBudget(ctx, PriorityInteractive)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if available != 1 {
		t.Errorf("expected 1 interactive request left, got %d", available)
	}

	available, _ = budget.AvailableBudget(ctx, PriorityBatch)
	if available != 1 {
		t.Errorf("expected 1 batch request left, got %d", available)
	}

	utilization, err := budget.Utilization(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if utilization != 80 {
		t.Errorf("expected 80%% utilization, got %v", utilization)
	}
}

func TestPriorityFromContext(t *testing.T) {
	if p := PriorityFromContext(context.Background()); p != PriorityInteractive {
		t.Errorf("expected interactive default, got %s", p)
	}
	ctx := WithPriority(context.Background(), PriorityBatch)
	if p := PriorityFromContext(ctx); p != PriorityBatch {
		t.Errorf("expected batch, got %s", p)
	}
	if Priority(7).String() != "unknown" {
		t.Error("expected unknown priority name")
	}
}
