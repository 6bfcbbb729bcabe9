package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/fx-insight/internal/types"
	"github.com/shopspring/decimal"
)

// NetWorthSnapshot is an immutable point-in-time record of one user's accounts
type NetWorthSnapshot struct {
	ID            string            `json:"id" db:"id"`
	UserID        string            `json:"userId" db:"user_id"`
	Date          time.Time         `json:"date" db:"snapshot_date"`
	BaseCurrency  string            `json:"baseCurrency" db:"base_currency"`
	TotalNetWorth decimal.Decimal   `json:"totalNetWorth" db:"total_net_worth"`
	Accounts      []SnapshotAccount `json:"accounts" db:"accounts"`
	CreatedAt     time.Time         `json:"createdAt" db:"created_at"`
}

// SnapshotAccount is one account entry inside a snapshot.
//
// ExchangeRate defaults to 1 (already in base currency) and
// BalanceInBaseCurrency defaults to 0 when the producer omitted them.
type SnapshotAccount struct {
	AccountID             string          `json:"accountId"`
	Name                  string          `json:"name,omitempty"`
	Currency              string          `json:"currency"`
	Balance               decimal.Decimal `json:"balance"`
	ExchangeRate          decimal.Decimal `json:"exchangeRate"`
	BalanceInBaseCurrency decimal.Decimal `json:"balanceInBaseCurrency"`
}

// NewSnapshotAccount builds an entry, applying the documented defaults for
// absent rate and base value
func NewSnapshotAccount(accountID, currency string, balance decimal.Decimal, rate, baseValue *decimal.Decimal) SnapshotAccount {
	entry := SnapshotAccount{
		AccountID:             accountID,
		Currency:              currency,
		Balance:               balance,
		ExchangeRate:          decimal.NewFromInt(1),
		BalanceInBaseCurrency: decimal.Zero,
	}
	if rate != nil && !rate.IsZero() {
		entry.ExchangeRate = *rate
	}
	if baseValue != nil {
		entry.BalanceInBaseCurrency = *baseValue
	}
	return entry
}

type snapshotAccountRecord struct {
	AccountID             string           `json:"accountId"`
	Name                  string           `json:"name,omitempty"`
	Currency              string           `json:"currency"`
	Balance               *decimal.Decimal `json:"balance"`
	ExchangeRate          *decimal.Decimal `json:"exchangeRate"`
	BalanceInBaseCurrency *decimal.Decimal `json:"balanceInBaseCurrency"`
}

// UnmarshalJSON decodes an entry and fills in the defaults for omitted fields
func (a *SnapshotAccount) UnmarshalJSON(data []byte) error {
	var rec snapshotAccountRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return err
	}

	balance := decimal.Zero
	if rec.Balance != nil {
		balance = *rec.Balance
	}

	*a = NewSnapshotAccount(rec.AccountID, rec.Currency, balance, rec.ExchangeRate, rec.BalanceInBaseCurrency)
	a.Name = rec.Name
	return nil
}

// Normalize upper-cases currency codes and re-applies entry defaults.
// It never touches balances or totals.
func (s *NetWorthSnapshot) Normalize() {
	if s.BaseCurrency == "" {
		s.BaseCurrency = types.DefaultBaseCurrency
	}
	s.BaseCurrency, _ = types.NormalizeCurrency(s.BaseCurrency)

	for i := range s.Accounts {
		entry := &s.Accounts[i]
		entry.Currency, _ = types.NormalizeCurrency(entry.Currency)
		if entry.ExchangeRate.IsZero() {
			entry.ExchangeRate = decimal.NewFromInt(1)
		}
	}
}

// Validate checks the fields a revaluation depends on
func (s *NetWorthSnapshot) Validate() error {
	if s.UserID == "" {
		return fmt.Errorf("snapshot user id is required")
	}
	if s.Date.IsZero() {
		return fmt.Errorf("snapshot date is required")
	}
	if !types.IsKnownCurrency(s.BaseCurrency) {
		return fmt.Errorf("unknown base currency %q", s.BaseCurrency)
	}

	seen := make(map[string]struct{}, len(s.Accounts))
	for _, entry := range s.Accounts {
		if entry.AccountID == "" {
			return fmt.Errorf("snapshot account entry without account id")
		}
		if _, dup := seen[entry.AccountID]; dup {
			return fmt.Errorf("duplicate account %s in snapshot", entry.AccountID)
		}
		seen[entry.AccountID] = struct{}{}

		if !types.IsKnownCurrency(entry.Currency) {
			return fmt.Errorf("account %s has unknown currency %q", entry.AccountID, entry.Currency)
		}
	}
	return nil
}

// SumBaseValues returns the total of the entries' base-currency values
func (s *NetWorthSnapshot) SumBaseValues() decimal.Decimal {
	total := decimal.Zero
	for _, entry := range s.Accounts {
		total = total.Add(entry.BalanceInBaseCurrency)
	}
	return total
}
