package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotAccount_UnmarshalDefaults(t *testing.T) {
	var entry SnapshotAccount
	err := json.Unmarshal([]byte(`{"accountId":"acc-1","currency":"EUR","balance":"100"}`), &entry)
	require.NoError(t, err)

	assert.Equal(t, "acc-1", entry.AccountID)
	assert.True(t, entry.Balance.Equal(decimal.NewFromInt(100)))
	assert.True(t, entry.ExchangeRate.Equal(decimal.NewFromInt(1)), "missing rate defaults to 1")
	assert.True(t, entry.BalanceInBaseCurrency.IsZero(), "missing base value defaults to 0")
}

func TestSnapshotAccount_UnmarshalKeepsExplicitValues(t *testing.T) {
	var entry SnapshotAccount
	err := json.Unmarshal([]byte(`{"accountId":"acc-1","currency":"EUR","balance":100,"exchangeRate":1.1,"balanceInBaseCurrency":110}`), &entry)
	require.NoError(t, err)

	assert.True(t, entry.ExchangeRate.Equal(decimal.RequireFromString("1.1")))
	assert.True(t, entry.BalanceInBaseCurrency.Equal(decimal.NewFromInt(110)))
}

func TestNetWorthSnapshot_Validate(t *testing.T) {
	valid := func() *NetWorthSnapshot {
		return &NetWorthSnapshot{
			UserID:       "user-1",
			Date:         time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			BaseCurrency: "USD",
			Accounts: []SnapshotAccount{
				{AccountID: "a", Currency: "EUR", ExchangeRate: decimal.NewFromInt(1)},
				{AccountID: "b", Currency: "USD", ExchangeRate: decimal.NewFromInt(1)},
			},
		}
	}

	assert.NoError(t, valid().Validate())

	missingUser := valid()
	missingUser.UserID = ""
	assert.Error(t, missingUser.Validate())

	missingDate := valid()
	missingDate.Date = time.Time{}
	assert.Error(t, missingDate.Validate())

	dup := valid()
	dup.Accounts[1].AccountID = "a"
	assert.ErrorContains(t, dup.Validate(), "duplicate account")

	badCurrency := valid()
	badCurrency.Accounts[0].Currency = "QQQ"
	assert.ErrorContains(t, badCurrency.Validate(), "unknown currency")
}

func TestNetWorthSnapshot_Normalize(t *testing.T) {
	s := &NetWorthSnapshot{
		Accounts: []SnapshotAccount{{AccountID: "a", Currency: "eur"}},
	}
	s.Normalize()

	assert.Equal(t, "USD", s.BaseCurrency)
	assert.Equal(t, "EUR", s.Accounts[0].Currency)
	assert.True(t, s.Accounts[0].ExchangeRate.Equal(decimal.NewFromInt(1)))
}
