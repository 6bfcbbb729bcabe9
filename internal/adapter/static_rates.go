package adapter

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	fxerrors "github.com/fx-insight/internal/errors"
	"github.com/fx-insight/internal/types"
)

const staticSourceName = "static"

// staticRatesFile is the YAML layout of a rate table:
//
//	anchor: USD
//	asOf: 2024-03-01T00:00:00Z
//	rates:
//	  EUR: "0.9215"   # 1 USD = 0.9215 EUR
//	  JPY: "149.82"
type staticRatesFile struct {
	Anchor string            `yaml:"anchor"`
	AsOf   time.Time         `yaml:"asOf"`
	Rates  map[string]string `yaml:"rates"`
}

// StaticRateSource quotes every pair from a fixed table against one anchor currency
type StaticRateSource struct {
	anchor string
	asOf   time.Time
	rates  map[string]decimal.Decimal // units of currency per 1 anchor
}

// NewStaticRateSource builds a source from anchor-relative rates
func NewStaticRateSource(anchor string, asOf time.Time, rates map[string]decimal.Decimal) (*StaticRateSource, error) {
	anchor, ok := types.NormalizeCurrency(anchor)
	if !ok {
		return nil, fxerrors.NewInvalidCurrencyError(anchor)
	}

	table := make(map[string]decimal.Decimal, len(rates)+1)
	for code, r := range rates {
		norm, ok := types.NormalizeCurrency(code)
		if !ok {
			return nil, fxerrors.NewInvalidCurrencyError(code)
		}
		if !r.IsPositive() {
			return nil, fmt.Errorf("rate for %s must be positive, got %s", norm, r)
		}
		table[norm] = r
	}
	table[anchor] = decimal.NewFromInt(1)

	return &StaticRateSource{anchor: anchor, asOf: asOf, rates: table}, nil
}

// ParseStaticRates decodes a YAML rate table
func ParseStaticRates(data []byte) (*StaticRateSource, error) {
	var file staticRatesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse rate table: %w", err)
	}
	if file.Anchor == "" {
		return nil, fmt.Errorf("rate table has no anchor currency")
	}

	rates := make(map[string]decimal.Decimal, len(file.Rates))
	for code, raw := range file.Rates {
		r, err := decimal.NewFromString(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("invalid rate %q for %s: %w", raw, code, err)
		}
		rates[code] = r
	}

	return NewStaticRateSource(file.Anchor, file.AsOf, rates)
}

// LoadStaticRates reads a YAML rate table from disk
func LoadStaticRates(path string) (*StaticRateSource, error) {
	data, err := os.ReadFile(path) // #nosec G304 - operator-supplied path
	if err != nil {
		return nil, fmt.Errorf("failed to read rate table: %w", err)
	}
	return ParseStaticRates(data)
}

// Name implements RateSource
func (s *StaticRateSource) Name() string {
	return staticSourceName
}

// LatestRate implements RateSource. Cross rates go through the anchor:
// from→to = rate(to) / rate(from).
func (s *StaticRateSource) LatestRate(_ context.Context, from, to string) (*types.RateQuote, error) {
	from, to = strings.ToUpper(from), strings.ToUpper(to)

	fromRate, okFrom := s.rates[from]
	toRate, okTo := s.rates[to]
	if !okFrom || !okTo {
		return nil, fxerrors.NewRateUnavailableError(from, to)
	}

	asOf := s.asOf
	if asOf.IsZero() {
		asOf = time.Now().UTC()
	}

	return &types.RateQuote{
		From:   from,
		To:     to,
		Rate:   toRate.Div(fromRate),
		AsOf:   asOf,
		Source: staticSourceName,
	}, nil
}

// Currencies lists the codes the table can quote
func (s *StaticRateSource) Currencies() []string {
	codes := make([]string, 0, len(s.rates))
	for code := range s.rates {
		codes = append(codes, code)
	}
	return codes
}
