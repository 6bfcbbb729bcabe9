package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fx-insight/internal/models"
)

// SnapshotRepository handles net-worth snapshot storage
type SnapshotRepository struct {
	pool *pgxpool.Pool
}

// NewSnapshotRepository creates a new snapshot repository
func NewSnapshotRepository(pool *pgxpool.Pool) *SnapshotRepository {
	return &SnapshotRepository{
		pool: pool,
	}
}

const snapshotColumns = `
	id,
	user_id,
	snapshot_date,
	base_currency,
	total_net_worth,
	accounts,
	created_at
`

// Create stores a snapshot. A second snapshot for the same user and instant
// replaces the first.
func (r *SnapshotRepository) Create(ctx context.Context, snapshot *models.NetWorthSnapshot) error {
	if snapshot.ID == "" {
		snapshot.ID = uuid.NewString()
	}
	if snapshot.CreatedAt.IsZero() {
		snapshot.CreatedAt = time.Now().UTC()
	}

	accountsJSON, err := json.Marshal(snapshot.Accounts)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot accounts: %w", err)
	}

	query := `
		INSERT INTO networth_snapshots (` + snapshotColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id, snapshot_date)
		DO UPDATE SET
			base_currency = EXCLUDED.base_currency,
			total_net_worth = EXCLUDED.total_net_worth,
			accounts = EXCLUDED.accounts,
			created_at = EXCLUDED.created_at
		RETURNING id
	`

	err = r.pool.QueryRow(
		ctx,
		query,
		snapshot.ID,
		snapshot.UserID,
		snapshot.Date.UTC(),
		snapshot.BaseCurrency,
		snapshot.TotalNetWorth,
		accountsJSON,
		snapshot.CreatedAt,
	).Scan(&snapshot.ID)
	if err != nil {
		return fmt.Errorf("failed to insert snapshot: %w", err)
	}

	return nil
}

// FindByUserAndDateRange returns a user's snapshots in [from, to], oldest first
func (r *SnapshotRepository) FindByUserAndDateRange(ctx context.Context, userID string, from, to time.Time) ([]*models.NetWorthSnapshot, error) {
	query := `
		SELECT ` + snapshotColumns + `
		FROM networth_snapshots
		WHERE user_id = $1
			AND snapshot_date >= $2
			AND snapshot_date <= $3
		ORDER BY snapshot_date ASC
	`

	rows, err := r.pool.Query(ctx, query, userID, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []*models.NetWorthSnapshot
	for rows.Next() {
		snapshot, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		snapshots = append(snapshots, snapshot)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating snapshot rows: %w", err)
	}

	return snapshots, nil
}

// GetLatest returns the most recent snapshot for a user, or nil when none exists
func (r *SnapshotRepository) GetLatest(ctx context.Context, userID string) (*models.NetWorthSnapshot, error) {
	query := `
		SELECT ` + snapshotColumns + `
		FROM networth_snapshots
		WHERE user_id = $1
		ORDER BY snapshot_date DESC, created_at DESC
		LIMIT 1
	`

	snapshot, err := scanSnapshot(r.pool.QueryRow(ctx, query, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return snapshot, nil
}

// DeleteOlderThan removes a user's snapshots dated before cutoff
func (r *SnapshotRepository) DeleteOlderThan(ctx context.Context, userID string, cutoff time.Time) (int64, error) {
	query := `
		DELETE FROM networth_snapshots
		WHERE user_id = $1
			AND snapshot_date < $2
	`

	result, err := r.pool.Exec(ctx, query, userID, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete old snapshots: %w", err)
	}

	return result.RowsAffected(), nil
}

func scanSnapshot(row pgx.Row) (*models.NetWorthSnapshot, error) {
	var snapshot models.NetWorthSnapshot
	var accountsJSON []byte

	err := row.Scan(
		&snapshot.ID,
		&snapshot.UserID,
		&snapshot.Date,
		&snapshot.BaseCurrency,
		&snapshot.TotalNetWorth,
		&accountsJSON,
		&snapshot.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan snapshot row: %w", err)
	}

	if err := json.Unmarshal(accountsJSON, &snapshot.Accounts); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot accounts: %w", err)
	}

	// rows written before defaults existed still decode to usable entries
	snapshot.Normalize()
	return &snapshot, nil
}
