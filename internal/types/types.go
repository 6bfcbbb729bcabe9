// Package types provides common type definitions for the fx-insight system.
package types

import (
	"strings"
	"time"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

// DefaultBaseCurrency is used whenever a caller omits the base currency
const DefaultBaseCurrency = "USD"

// VolatilityScore classifies how much a currency pair moves
type VolatilityScore string

const (
	// VolatilityLow represents a stable pair
	VolatilityLow VolatilityScore = "low"
	// VolatilityMedium represents a pair with moderate fluctuations
	VolatilityMedium VolatilityScore = "medium"
	// VolatilityHigh represents a pair with significant fluctuations
	VolatilityHigh VolatilityScore = "high"
	// VolatilityVeryHigh represents a pair with extreme fluctuations
	VolatilityVeryHigh VolatilityScore = "very_high"
)

// IsElevated reports whether the score counts towards the volatility risk factor
func (v VolatilityScore) IsElevated() bool {
	return v == VolatilityHigh || v == VolatilityVeryHigh
}

// RiskLevel is the bucketed form of a risk score
type RiskLevel string

const (
	// RiskLow is assigned to scores up to 40
	RiskLow RiskLevel = "low"
	// RiskMedium is assigned to scores above 40 and up to 70
	RiskMedium RiskLevel = "medium"
	// RiskHigh is assigned to scores above 70
	RiskHigh RiskLevel = "high"
)

// Priority tags a recommendation for downstream filtering
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// RecommendationCategory groups recommendations for display
type RecommendationCategory string

const (
	CategoryDiversification RecommendationCategory = "diversification"
	CategoryConcentration   RecommendationCategory = "concentration"
	CategoryVolatility      RecommendationCategory = "volatility"
	CategoryStatus          RecommendationCategory = "status"
)

// ServiceError represents a structured error response
type ServiceError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *ServiceError) Error() string {
	return e.Message
}

// RateQuote is an exchange rate: 1 unit of From is worth Rate units of To
type RateQuote struct {
	From   string          `json:"from"`
	To     string          `json:"to"`
	Rate   decimal.Decimal `json:"rate"`
	AsOf   time.Time       `json:"asOf"`
	Source string          `json:"source,omitempty"`
}

// Invert returns the quote for the opposite direction
func (q *RateQuote) Invert() *RateQuote {
	inverted := &RateQuote{From: q.To, To: q.From, AsOf: q.AsOf, Source: q.Source}
	if !q.Rate.IsZero() {
		inverted.Rate = decimal.NewFromInt(1).Div(q.Rate)
	}
	return inverted
}

// NormalizeCurrency upper-cases and validates an ISO 4217 currency code.
// An empty code resolves to DefaultBaseCurrency.
func NormalizeCurrency(code string) (string, bool) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return DefaultBaseCurrency, true
	}
	if money.GetCurrency(code) == nil {
		return code, false
	}
	return code, true
}

// IsKnownCurrency reports whether code is in the ISO 4217 table
func IsKnownCurrency(code string) bool {
	return money.GetCurrency(strings.ToUpper(code)) != nil
}

// FormatAmount renders a major-unit amount with the currency's symbol and precision
func FormatAmount(amount decimal.Decimal, currency string) string {
	cur := money.GetCurrency(currency)
	if cur == nil {
		return amount.StringFixed(2) + " " + currency
	}
	minor := amount.Shift(int32(cur.Fraction)).Round(0).IntPart()
	return cur.Formatter().Format(minor)
}
