package service

import (
	"fmt"
	"strings"

	"github.com/fx-insight/internal/types"
)

// Recommendation is a single piece of advice attached to a risk assessment
type Recommendation struct {
	Priority types.Priority               `json:"priority"`
	Category types.RecommendationCategory `json:"category"`
	Message  string                       `json:"message"`
}

// BuildRecommendations derives advice from a scored portfolio. The order is
// fixed: diversification, one entry per concentrated currency, a warning
// naming every very_high volatility currency, and the well-balanced status
// only when nothing else applies.
func BuildRecommendations(level types.RiskLevel, concentrationRisks []CurrencyExposure, volatility []VolatilityEntry) []Recommendation {
	recs := make([]Recommendation, 0)

	if level == types.RiskHigh {
		recs = append(recs, Recommendation{
			Priority: types.PriorityHigh,
			Category: types.CategoryDiversification,
			Message:  "Your currency portfolio has high risk. Consider diversifying your holdings.",
		})
	}

	for _, risk := range concentrationRisks {
		recs = append(recs, Recommendation{
			Priority: types.PriorityMedium,
			Category: types.CategoryConcentration,
			Message:  fmt.Sprintf("%s%% of your portfolio is in %s. Consider reducing concentration.", risk.Percentage.StringFixed(1), risk.Currency),
		})
	}

	var extreme []string
	for _, v := range volatility {
		if v.Volatility == types.VolatilityVeryHigh {
			extreme = append(extreme, v.Currency)
		}
	}
	if len(extreme) > 0 {
		recs = append(recs, Recommendation{
			Priority: types.PriorityHigh,
			Category: types.CategoryVolatility,
			Message:  fmt.Sprintf("You have exposure to high-volatility currencies: %s. Monitor closely.", strings.Join(extreme, ", ")),
		})
	}

	if len(recs) == 0 {
		recs = append(recs, Recommendation{
			Priority: types.PriorityLow,
			Category: types.CategoryStatus,
			Message:  "Your currency portfolio appears well-balanced.",
		})
	}

	return recs
}
