package service

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	fxerrors "github.com/fx-insight/internal/errors"
	"github.com/fx-insight/internal/logging"
	"github.com/fx-insight/internal/models"
)

// AccountPL is the unrealized P&L of one foreign-currency account
type AccountPL struct {
	AccountID   string `json:"accountId"`
	AccountName string `json:"accountName"`
	UnrealizedPL
}

// PLReport lists unrealized P&L for every foreign-currency account
type PLReport struct {
	UserID            string          `json:"userId"`
	BaseCurrency      string          `json:"baseCurrency"`
	Accounts          []AccountPL     `json:"accounts"`
	TotalUnrealizedPL decimal.Decimal `json:"totalUnrealizedPL"`
	Failures          []LookupFailure `json:"failures"`
	Timestamp         time.Time       `json:"timestamp"`
}

// CalculateCurrentUnrealizedPL prices every active account held outside
// the base currency.
//
// The acquisition rate is approximated as balance / openingBalance when the
// opening balance is positive, otherwise the current rate is used and the
// account reports zero P&L.
func (s *RevaluationService) CalculateCurrentUnrealizedPL(ctx context.Context, userID, baseCurrency string) (*PLReport, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fxerrors.NewInvalidParameterError("userId", "user id is required")
	}
	base, err := s.resolveBaseCurrency(baseCurrency)
	if err != nil {
		return nil, err
	}

	accounts, err := s.accounts.FindActiveAccounts(ctx, userID, models.AccountFilter{ExcludeCurrency: base})
	if err != nil {
		return nil, fxerrors.NewDatabaseError("find active accounts", err)
	}
	accounts = withoutCurrency(accounts, base)

	outcomes := runAccountLookups(ctx, s.cfg.LookupConcurrency, accounts, func(ctx context.Context, acc *models.Account) (*UnrealizedPL, error) {
		return s.accountPL(ctx, acc, base)
	})

	report := &PLReport{
		UserID:            userID,
		BaseCurrency:      base,
		Accounts:          make([]AccountPL, 0, len(accounts)),
		TotalUnrealizedPL: decimal.Zero,
		Failures:          collectFailures(ctx, "unrealized_pl", outcomes),
		Timestamp:         s.now(),
	}
	for _, o := range outcomes {
		if o.err != nil {
			continue
		}
		report.Accounts = append(report.Accounts, AccountPL{
			AccountID:    o.account.ID,
			AccountName:  o.account.Name,
			UnrealizedPL: *o.value,
		})
		report.TotalUnrealizedPL = report.TotalUnrealizedPL.Add(o.value.UnrealizedPL)
	}

	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"user_id":  userID,
		"accounts": len(report.Accounts),
		"failures": len(report.Failures),
		"total_pl": report.TotalUnrealizedPL.String(),
	}).Debug("unrealized P&L calculated")

	return report, nil
}

func (s *RevaluationService) accountPL(ctx context.Context, acc *models.Account, base string) (*UnrealizedPL, error) {
	quote, err := s.rates.GetRealTimeRate(ctx, acc.Currency, base)
	if err != nil {
		return nil, err
	}

	acquisitionRate := quote.Rate
	if acc.OpeningBalance.IsPositive() {
		acquisitionRate = acc.Balance.Div(acc.OpeningBalance)
	}

	return s.rates.CalculateUnrealizedPL(ctx, UnrealizedPLParams{
		Currency:        acc.Currency,
		Amount:          acc.Balance,
		AcquisitionRate: acquisitionRate,
		BaseCurrency:    base,
	})
}

func withoutCurrency(accounts []*models.Account, currency string) []*models.Account {
	out := make([]*models.Account, 0, len(accounts))
	for _, acc := range accounts {
		if !strings.EqualFold(acc.Currency, currency) {
			out = append(out, acc)
		}
	}
	return out
}
