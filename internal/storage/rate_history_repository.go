package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fx-insight/internal/types"
)

// DailyClose is the last observed rate of a pair on one UTC day
type DailyClose struct {
	Day  time.Time       `json:"day"`
	Rate decimal.Decimal `json:"rate"`
}

// RateHistoryRepository stores exchange-rate observations in ClickHouse
type RateHistoryRepository struct {
	db *ClickHouseDB
}

// NewRateHistoryRepository creates a new rate history repository
func NewRateHistoryRepository(db *ClickHouseDB) *RateHistoryRepository {
	return &RateHistoryRepository{db: db}
}

// RecordRate stores one observation, as an async insert when enabled
func (r *RateHistoryRepository) RecordRate(ctx context.Context, quote *types.RateQuote) error {
	query := `
		INSERT INTO fx_rate_observations (base, quote, rate, observed_at, source)
		VALUES (?, ?, ?, ?, ?)
	`
	return r.db.Conn().Exec(r.db.singleRowContext(ctx), query,
		strings.ToUpper(quote.From),
		strings.ToUpper(quote.To),
		quote.Rate,
		observedAt(quote),
		quote.Source,
	)
}

// RecordBatch stores many observations in one round trip. Batches are
// sent as a single native block and skip the async insert buffer.
func (r *RateHistoryRepository) RecordBatch(ctx context.Context, quotes []*types.RateQuote) error {
	if len(quotes) == 0 {
		return nil
	}

	batch, err := r.db.Conn().PrepareBatch(ctx, `
		INSERT INTO fx_rate_observations (base, quote, rate, observed_at, source)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}

	for _, q := range quotes {
		if err := batch.Append(strings.ToUpper(q.From), strings.ToUpper(q.To), q.Rate, observedAt(q), q.Source); err != nil {
			return fmt.Errorf("failed to append to batch: %w", err)
		}
	}

	return batch.Send()
}

// GetRateAt returns the latest observation at or before at, or nil when the
// pair has no history that old.
func (r *RateHistoryRepository) GetRateAt(ctx context.Context, from, to string, at time.Time) (*types.RateQuote, error) {
	query := `
		SELECT rate, observed_at, source
		FROM fx_rate_observations
		WHERE base = ? AND quote = ? AND observed_at <= ?
		ORDER BY observed_at DESC
		LIMIT 1
	`

	rows, err := r.db.Conn().Query(ctx, query, strings.ToUpper(from), strings.ToUpper(to), at.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query historical rate: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}

	quote := &types.RateQuote{From: strings.ToUpper(from), To: strings.ToUpper(to)}
	if err := rows.Scan(&quote.Rate, &quote.AsOf, &quote.Source); err != nil {
		return nil, fmt.Errorf("failed to scan historical rate: %w", err)
	}
	return quote, nil
}

// GetDailyCloses returns one closing rate per day in [since, until], oldest first
func (r *RateHistoryRepository) GetDailyCloses(ctx context.Context, from, to string, since, until time.Time) ([]DailyClose, error) {
	query := `
		SELECT toDate(observed_at) AS day, argMax(rate, observed_at) AS close
		FROM fx_rate_observations
		WHERE base = ? AND quote = ? AND observed_at >= ? AND observed_at <= ?
		GROUP BY day
		ORDER BY day ASC
	`

	rows, err := r.db.Conn().Query(ctx, query, strings.ToUpper(from), strings.ToUpper(to), since.UTC(), until.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query daily closes: %w", err)
	}
	defer rows.Close()

	var closes []DailyClose
	for rows.Next() {
		var c DailyClose
		if err := rows.Scan(&c.Day, &c.Rate); err != nil {
			return nil, fmt.Errorf("failed to scan daily close: %w", err)
		}
		closes = append(closes, c)
	}

	return closes, rows.Err()
}

func observedAt(q *types.RateQuote) time.Time {
	if q.AsOf.IsZero() {
		return time.Now().UTC()
	}
	return q.AsOf.UTC()
}
