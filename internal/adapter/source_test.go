package adapter

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fx-insight/internal/types"
)

type stubSource struct {
	name  string
	rate  decimal.Decimal
	err   error
	calls int
}

func (s *stubSource) Name() string { return s.name }

func (s *stubSource) LatestRate(_ context.Context, from, to string) (*types.RateQuote, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &types.RateQuote{From: from, To: to, Rate: s.rate, Source: s.name}, nil
}

func TestFailoverSource_UsesPrimaryFirst(t *testing.T) {
	primary := &stubSource{name: "primary", rate: decimal.NewFromFloat(1.1)}
	secondary := &stubSource{name: "secondary", rate: decimal.NewFromFloat(1.2)}
	src := NewFailoverSource(primary, secondary)

	q, err := src.LatestRate(context.Background(), "EUR", "USD")
	require.NoError(t, err)
	assert.Equal(t, "primary", q.Source)
	assert.Equal(t, 0, secondary.calls)
}

func TestFailoverSource_FallsBack(t *testing.T) {
	primary := &stubSource{name: "primary", err: errors.New("timeout")}
	secondary := &stubSource{name: "secondary", rate: decimal.NewFromFloat(1.2)}
	src := NewFailoverSource(primary, secondary)

	q, err := src.LatestRate(context.Background(), "EUR", "USD")
	require.NoError(t, err)
	assert.Equal(t, "secondary", q.Source)

	health := src.Health()
	assert.Equal(t, 1, health[0].ConsecutiveFails)
	assert.Equal(t, int64(1), health[1].TotalRequests)
}

func TestFailoverSource_DemotesDegradedSource(t *testing.T) {
	primary := &stubSource{name: "primary", err: errors.New("down")}
	secondary := &stubSource{name: "secondary", rate: decimal.NewFromFloat(1.2)}
	src := NewFailoverSource(primary, secondary)

	for i := 0; i < 3; i++ {
		_, err := src.LatestRate(context.Background(), "EUR", "USD")
		require.NoError(t, err)
	}
	assert.Equal(t, 3, primary.calls)

	_, err := src.LatestRate(context.Background(), "EUR", "USD")
	require.NoError(t, err)
	assert.Equal(t, 3, primary.calls, "degraded primary should not be asked first")
}

func TestFailoverSource_AllFail(t *testing.T) {
	boom := errors.New("boom")
	src := NewFailoverSource(&stubSource{name: "a", err: boom}, &stubSource{name: "b", err: boom})

	_, err := src.LatestRate(context.Background(), "EUR", "USD")
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
}

func TestFailoverSource_Empty(t *testing.T) {
	_, err := NewFailoverSource().LatestRate(context.Background(), "EUR", "USD")
	assert.Error(t, err)
}
