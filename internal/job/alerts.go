package job

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/fx-insight/internal/service"
	"github.com/fx-insight/internal/types"
)

// RiskAlertPayload is the body of a risk_level_high notification
type RiskAlertPayload struct {
	BaseCurrency           string          `json:"baseCurrency"`
	RiskScore              int             `json:"riskScore"`
	RiskLevel              types.RiskLevel `json:"riskLevel"`
	ConcentratedCurrencies []string        `json:"concentratedCurrencies"`
	UnrealizedPL           decimal.Decimal `json:"unrealizedPL"`
}

// FxImpactAlertPayload is the body of an fx_impact_alert notification
type FxImpactAlertPayload struct {
	BaseCurrency           string          `json:"baseCurrency"`
	StartDate              time.Time       `json:"startDate"`
	EndDate                time.Time       `json:"endDate"`
	TotalChange            decimal.Decimal `json:"totalChange"`
	FxImpact               decimal.Decimal `json:"fxImpact"`
	FxAttributedPercentage decimal.Decimal `json:"fxAttributedPercentage"`
}

// RiskAlert returns a risk_level_high notification for a high-risk
// assessment, or nil when no alert is due
func RiskAlert(a *service.RiskAssessment) *Notification {
	if a == nil || a.RiskLevel != types.RiskHigh {
		return nil
	}
	currencies := make([]string, 0, len(a.ConcentrationRisks))
	for _, r := range a.ConcentrationRisks {
		currencies = append(currencies, r.Currency)
	}
	return NewNotification(a.UserID, NotificationRiskLevelHigh, RiskAlertPayload{
		BaseCurrency:           a.BaseCurrency,
		RiskScore:              a.RiskScore,
		RiskLevel:              a.RiskLevel,
		ConcentratedCurrencies: currencies,
		UnrealizedPL:           a.UnrealizedPL,
	})
}

// FxImpactAlert returns an fx_impact_alert notification when the share of
// the period's change attributed to exchange rates exceeds threshold
// (in percent, compared by absolute value), or nil otherwise.
// A non-positive threshold disables the alert.
func FxImpactAlert(r *service.PeriodReport, threshold decimal.Decimal) *Notification {
	if r == nil || !r.HasData() || !threshold.IsPositive() {
		return nil
	}
	s := r.Summary
	if !s.FxAttributedPercentage.Abs().GreaterThan(threshold) {
		return nil
	}
	return NewNotification(r.UserID, NotificationFxImpactAlert, FxImpactAlertPayload{
		BaseCurrency:           r.BaseCurrency,
		StartDate:              r.StartDate,
		EndDate:                r.EndDate,
		TotalChange:            s.TotalChange,
		FxImpact:               s.FxImpact,
		FxAttributedPercentage: s.FxAttributedPercentage,
	})
}
