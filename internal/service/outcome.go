package service

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/fx-insight/internal/logging"
	"github.com/fx-insight/internal/models"
)

// LookupFailure reports one account (or currency) that could not be priced
type LookupFailure struct {
	AccountID string `json:"accountId,omitempty"`
	Currency  string `json:"currency,omitempty"`
	Reason    string `json:"reason"`
}

// accountOutcome is the result of one per-account lookup
type accountOutcome[T any] struct {
	account *models.Account
	value   T
	err     error
}

// runAccountLookups calls fn for every account with at most limit calls in
// flight. A failing call never cancels its siblings. Outcomes come back in
// the order of accounts.
func runAccountLookups[T any](ctx context.Context, limit int, accounts []*models.Account, fn func(context.Context, *models.Account) (T, error)) []accountOutcome[T] {
	outcomes := make([]accountOutcome[T], len(accounts))
	if limit < 1 {
		limit = 1
	}

	var g errgroup.Group
	g.SetLimit(limit)
	for i, acc := range accounts {
		g.Go(func() error {
			v, err := fn(ctx, acc)
			outcomes[i] = accountOutcome[T]{account: acc, value: v, err: err}
			return nil
		})
	}
	_ = g.Wait()

	return outcomes
}

// collectFailures logs every failed outcome and returns them as report
// entries. The result is never nil so it always serialises as a list.
func collectFailures[T any](ctx context.Context, operation string, outcomes []accountOutcome[T]) []LookupFailure {
	failures := make([]LookupFailure, 0)
	for _, o := range outcomes {
		if o.err == nil {
			continue
		}
		logging.FromContext(ctx).
			WithFields(map[string]interface{}{
				"operation":  operation,
				"account_id": o.account.ID,
				"currency":   o.account.Currency,
			}).
			WithError(o.err).
			Warn("account lookup failed, excluding from result")
		failures = append(failures, LookupFailure{
			AccountID: o.account.ID,
			Currency:  o.account.Currency,
			Reason:    o.err.Error(),
		})
	}
	return failures
}
