package adapter

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fxerrors "github.com/fx-insight/internal/errors"
)

const sampleTable = `
anchor: usd
asOf: 2024-03-01T00:00:00Z
rates:
  EUR: "0.8"
  GBP: 0.5
  JPY: "150"
`

func TestParseStaticRates_CrossRates(t *testing.T) {
	src, err := ParseStaticRates([]byte(sampleTable))
	require.NoError(t, err)
	ctx := context.Background()

	q, err := src.LatestRate(ctx, "EUR", "USD")
	require.NoError(t, err)
	assert.True(t, q.Rate.Equal(decimal.RequireFromString("1.25")), "got %s", q.Rate)
	assert.Equal(t, "static", q.Source)
	assert.Equal(t, 2024, q.AsOf.Year())

	q, err = src.LatestRate(ctx, "gbp", "eur")
	require.NoError(t, err)
	assert.True(t, q.Rate.Equal(decimal.RequireFromString("1.6")), "got %s", q.Rate)

	q, err = src.LatestRate(ctx, "USD", "USD")
	require.NoError(t, err)
	assert.True(t, q.Rate.Equal(decimal.NewFromInt(1)))

	assert.ElementsMatch(t, []string{"USD", "EUR", "GBP", "JPY"}, src.Currencies())
}

func TestStaticRateSource_UnknownPair(t *testing.T) {
	src, err := ParseStaticRates([]byte(sampleTable))
	require.NoError(t, err)

	_, err = src.LatestRate(context.Background(), "EUR", "CHF")
	require.Error(t, err)
	assert.Equal(t, "RATE_UNAVAILABLE", fxerrors.Categorize(err).Code)
}

func TestParseStaticRates_Invalid(t *testing.T) {
	tests := map[string]string{
		"no anchor":      "rates:\n  EUR: \"0.9\"\n",
		"bad number":     "anchor: USD\nrates:\n  EUR: abc\n",
		"unknown code":   "anchor: USD\nrates:\n  QQQ: \"1\"\n",
		"negative rate":  "anchor: USD\nrates:\n  EUR: \"-1\"\n",
		"unknown anchor": "anchor: ZZZ\n",
		"malformed yaml": "anchor: [",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseStaticRates([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadStaticRates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rates.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleTable), 0o600))

	src, err := LoadStaticRates(path)
	require.NoError(t, err)
	assert.Equal(t, "static", src.Name())

	_, err = LoadStaticRates(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
