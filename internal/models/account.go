// Package models provides data models for the fx-insight system.
package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account represents a live financial holding in a single currency.
// OpeningBalance and Balance double as the basis for an approximate
// acquisition rate when no cost-basis history exists.
type Account struct {
	ID                string          `json:"id" db:"id"`
	UserID            string          `json:"userId" db:"user_id"`
	Name              string          `json:"name" db:"name"`
	Currency          string          `json:"currency" db:"currency"`
	Balance           decimal.Decimal `json:"balance" db:"balance"`
	OpeningBalance    decimal.Decimal `json:"openingBalance" db:"opening_balance"`
	IsActive          bool            `json:"isActive" db:"is_active"`
	IncludeInNetWorth bool            `json:"includeInNetWorth" db:"include_in_net_worth"`
	CreatedAt         time.Time       `json:"createdAt" db:"created_at"`
	UpdatedAt         time.Time       `json:"updatedAt" db:"updated_at"`
}

// AccountFilter narrows an active-account lookup
type AccountFilter struct {
	// ExcludeCurrency drops accounts held in this currency (foreign-only lookups)
	ExcludeCurrency string
	// NetWorthOnly keeps only accounts flagged for net-worth inclusion
	NetWorthOnly bool
}
