package service

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/fx-insight/internal/models"
)

// CurrencyImpact aggregates the revaluation of all matched accounts held in
// one currency
type CurrencyImpact struct {
	Currency      string          `json:"currency"`
	PreviousRate  decimal.Decimal `json:"previousRate"`
	CurrentRate   decimal.Decimal `json:"currentRate"`
	PreviousValue decimal.Decimal `json:"previousValue"`
	CurrentValue  decimal.Decimal `json:"currentValue"`
	BalanceChange decimal.Decimal `json:"balanceChange"`
	FxImpact      decimal.Decimal `json:"fxImpact"`
}

// SnapshotRevaluation splits the net-worth change between two snapshots
// into the part caused by exchange-rate movement and the rest.
//
// NetWorthChange == FxImpact + NonFxChange always holds exactly.
type SnapshotRevaluation struct {
	StartDate        time.Time        `json:"startDate"`
	EndDate          time.Time        `json:"endDate"`
	BaseCurrency     string           `json:"baseCurrency"`
	PreviousNetWorth decimal.Decimal  `json:"previousNetWorth"`
	CurrentNetWorth  decimal.Decimal  `json:"currentNetWorth"`
	NetWorthChange   decimal.Decimal  `json:"netWorthChange"`
	FxImpact         decimal.Decimal  `json:"fxImpact"`
	NonFxChange      decimal.Decimal  `json:"nonFxChange"`
	CurrencyImpacts  []CurrencyImpact `json:"currencyImpacts"`
}

// RevalueSnapshots compares two snapshots of the same user.
//
// An account contributes only when it appears in both snapshots under the
// same id and currency. Its FX impact is its current balance multiplied by
// the change in its own exchange rate. Accounts that were opened, closed or
// re-denominated between the snapshots fall into NonFxChange.
func RevalueSnapshots(previous, current *models.NetWorthSnapshot, baseCurrency string) *SnapshotRevaluation {
	netWorthChange := current.TotalNetWorth.Sub(previous.TotalNetWorth)

	prevByID := make(map[string]models.SnapshotAccount, len(previous.Accounts))
	for _, acc := range previous.Accounts {
		if acc.AccountID == "" {
			continue
		}
		if _, seen := prevByID[acc.AccountID]; !seen {
			prevByID[acc.AccountID] = acc
		}
	}

	impacts := newImpactAccumulator()
	totalFx := decimal.Zero

	for _, cur := range current.Accounts {
		if cur.AccountID == "" {
			continue
		}
		prev, ok := prevByID[cur.AccountID]
		if !ok || prev.Currency != cur.Currency {
			continue
		}

		fx := cur.Balance.Mul(cur.ExchangeRate.Sub(prev.ExchangeRate))
		totalFx = totalFx.Add(fx)

		impact := impacts.get(cur.Currency, prev.ExchangeRate, cur.ExchangeRate)
		impact.PreviousValue = impact.PreviousValue.Add(prev.BalanceInBaseCurrency)
		impact.CurrentValue = impact.CurrentValue.Add(cur.BalanceInBaseCurrency)
		impact.BalanceChange = impact.BalanceChange.Add(cur.Balance.Sub(prev.Balance))
		impact.FxImpact = impact.FxImpact.Add(fx)
	}

	return &SnapshotRevaluation{
		StartDate:        previous.Date,
		EndDate:          current.Date,
		BaseCurrency:     baseCurrency,
		PreviousNetWorth: previous.TotalNetWorth,
		CurrentNetWorth:  current.TotalNetWorth,
		NetWorthChange:   netWorthChange,
		FxImpact:         totalFx,
		NonFxChange:      netWorthChange.Sub(totalFx),
		CurrencyImpacts:  impacts.list(),
	}
}

// impactAccumulator keeps per-currency groups in first-seen order
type impactAccumulator struct {
	order  []string
	groups map[string]*CurrencyImpact
}

func newImpactAccumulator() *impactAccumulator {
	return &impactAccumulator{groups: make(map[string]*CurrencyImpact)}
}

// get returns the group for currency, creating it with the rates of the
// first matched account
func (a *impactAccumulator) get(currency string, previousRate, currentRate decimal.Decimal) *CurrencyImpact {
	if g, ok := a.groups[currency]; ok {
		return g
	}
	g := &CurrencyImpact{
		Currency:      currency,
		PreviousRate:  previousRate,
		CurrentRate:   currentRate,
		PreviousValue: decimal.Zero,
		CurrentValue:  decimal.Zero,
		BalanceChange: decimal.Zero,
		FxImpact:      decimal.Zero,
	}
	a.groups[currency] = g
	a.order = append(a.order, currency)
	return g
}

func (a *impactAccumulator) list() []CurrencyImpact {
	out := make([]CurrencyImpact, 0, len(a.order))
	for _, c := range a.order {
		out = append(out, *a.groups[c])
	}
	return out
}
