package service

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	fxerrors "github.com/fx-insight/internal/errors"
	"github.com/fx-insight/internal/logging"
	"github.com/fx-insight/internal/models"
)

// ExposureAccount is one account inside a currency bucket
type ExposureAccount struct {
	ID      string          `json:"id"`
	Name    string          `json:"name"`
	Balance decimal.Decimal `json:"balance"`
}

// CurrencyExposure is the holding in one currency
type CurrencyExposure struct {
	Currency     string            `json:"currency"`
	Accounts     []ExposureAccount `json:"accounts"`
	TotalBalance decimal.Decimal   `json:"totalBalance"`
	ValueInBase  decimal.Decimal   `json:"valueInBase"`
	Percentage   decimal.Decimal   `json:"percentage"`
}

// ExposureReport breaks a user's net worth down by currency, largest first
type ExposureReport struct {
	UserID           string             `json:"userId"`
	BaseCurrency     string             `json:"baseCurrency"`
	Exposures        []CurrencyExposure `json:"exposures"`
	TotalValueInBase decimal.Decimal    `json:"totalValueInBase"`
	CurrenciesCount  int                `json:"currenciesCount"`
	Failures         []LookupFailure    `json:"failures"`
	Timestamp        time.Time          `json:"timestamp"`
}

// GetCurrencyExposure groups the user's net-worth accounts by currency and
// values each bucket in the base currency at the latest rate
func (s *RevaluationService) GetCurrencyExposure(ctx context.Context, userID, baseCurrency string) (*ExposureReport, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fxerrors.NewInvalidParameterError("userId", "user id is required")
	}
	base, err := s.resolveBaseCurrency(baseCurrency)
	if err != nil {
		return nil, err
	}

	accounts, err := s.accounts.FindActiveAccounts(ctx, userID, models.AccountFilter{NetWorthOnly: true})
	if err != nil {
		return nil, fxerrors.NewDatabaseError("find active accounts", err)
	}

	outcomes := runAccountLookups(ctx, s.cfg.LookupConcurrency, accounts, func(ctx context.Context, acc *models.Account) (decimal.Decimal, error) {
		if strings.EqualFold(acc.Currency, base) {
			return acc.Balance, nil
		}
		conv, err := s.rates.ConvertRealTime(ctx, acc.Balance, acc.Currency, base)
		if err != nil {
			return decimal.Zero, err
		}
		return conv.ConvertedAmount, nil
	})

	buckets := make(map[string]*CurrencyExposure)
	var order []string
	total := decimal.Zero
	for _, o := range outcomes {
		if o.err != nil {
			continue
		}
		ccy := strings.ToUpper(o.account.Currency)
		b, ok := buckets[ccy]
		if !ok {
			b = &CurrencyExposure{
				Currency:     ccy,
				Accounts:     make([]ExposureAccount, 0, 1),
				TotalBalance: decimal.Zero,
				ValueInBase:  decimal.Zero,
				Percentage:   decimal.Zero,
			}
			buckets[ccy] = b
			order = append(order, ccy)
		}
		b.Accounts = append(b.Accounts, ExposureAccount{
			ID:      o.account.ID,
			Name:    o.account.Name,
			Balance: o.account.Balance,
		})
		b.TotalBalance = b.TotalBalance.Add(o.account.Balance)
		b.ValueInBase = b.ValueInBase.Add(o.value)
		total = total.Add(o.value)
	}

	exposures := make([]CurrencyExposure, 0, len(order))
	for _, ccy := range order {
		b := buckets[ccy]
		if total.IsPositive() {
			b.Percentage = b.ValueInBase.Div(total).Mul(hundred)
		}
		exposures = append(exposures, *b)
	}
	SortExposures(exposures)

	report := &ExposureReport{
		UserID:           userID,
		BaseCurrency:     base,
		Exposures:        exposures,
		TotalValueInBase: total,
		CurrenciesCount:  len(exposures),
		Failures:         collectFailures(ctx, "currency_exposure", outcomes),
		Timestamp:        s.now(),
	}

	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"user_id":    userID,
		"currencies": report.CurrenciesCount,
		"total":      total.String(),
	}).Debug("currency exposure calculated")

	return report, nil
}

// SortExposures orders buckets by base value, largest first. Equal values
// are ordered by currency code so the result is deterministic.
func SortExposures(exposures []CurrencyExposure) {
	sort.SliceStable(exposures, func(i, j int) bool {
		if c := exposures[i].ValueInBase.Cmp(exposures[j].ValueInBase); c != 0 {
			return c > 0
		}
		return exposures[i].Currency < exposures[j].Currency
	})
}
