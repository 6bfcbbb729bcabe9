package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fx-insight/internal/models"
)

// AccountRepository reads and writes the accounts the engine analyses
type AccountRepository struct {
	pool *pgxpool.Pool
}

// NewAccountRepository creates a new account repository
func NewAccountRepository(pool *pgxpool.Pool) *AccountRepository {
	return &AccountRepository{pool: pool}
}

// FindActiveAccounts returns a user's active accounts narrowed by filter,
// ordered by creation time so callers see a stable order.
func (r *AccountRepository) FindActiveAccounts(ctx context.Context, userID string, filter models.AccountFilter) ([]*models.Account, error) {
	query, args := buildActiveAccountsQuery(userID, filter)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*models.Account
	for rows.Next() {
		var a models.Account
		if err := rows.Scan(
			&a.ID,
			&a.UserID,
			&a.Name,
			&a.Currency,
			&a.Balance,
			&a.OpeningBalance,
			&a.IsActive,
			&a.IncludeInNetWorth,
			&a.CreatedAt,
			&a.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan account row: %w", err)
		}
		accounts = append(accounts, &a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating account rows: %w", err)
	}

	return accounts, nil
}

func buildActiveAccountsQuery(userID string, filter models.AccountFilter) (string, []interface{}) {
	var sb strings.Builder
	sb.WriteString(`
		SELECT id, user_id, name, currency, balance, opening_balance,
			is_active, include_in_net_worth, created_at, updated_at
		FROM accounts
		WHERE user_id = $1 AND is_active = TRUE`)
	args := []interface{}{userID}

	if filter.ExcludeCurrency != "" {
		args = append(args, strings.ToUpper(filter.ExcludeCurrency))
		fmt.Fprintf(&sb, " AND currency <> $%d", len(args))
	}
	if filter.NetWorthOnly {
		sb.WriteString(" AND include_in_net_worth = TRUE")
	}
	sb.WriteString(" ORDER BY created_at ASC, id ASC")

	return sb.String(), args
}

// Create inserts an account
func (r *AccountRepository) Create(ctx context.Context, account *models.Account) error {
	if account.ID == "" {
		account.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if account.CreatedAt.IsZero() {
		account.CreatedAt = now
	}
	account.UpdatedAt = now
	account.Currency = strings.ToUpper(account.Currency)

	query := `
		INSERT INTO accounts (
			id, user_id, name, currency, balance, opening_balance,
			is_active, include_in_net_worth, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := r.pool.Exec(ctx, query,
		account.ID,
		account.UserID,
		account.Name,
		account.Currency,
		account.Balance,
		account.OpeningBalance,
		account.IsActive,
		account.IncludeInNetWorth,
		account.CreatedAt,
		account.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert account: %w", err)
	}
	return nil
}

// ListUsersWithActiveAccounts returns every user that owns at least one active account
func (r *AccountRepository) ListUsersWithActiveAccounts(ctx context.Context) ([]string, error) {
	query := `
		SELECT DISTINCT user_id
		FROM accounts
		WHERE is_active = TRUE
		ORDER BY user_id
	`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()

	var userIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan user id: %w", err)
		}
		userIDs = append(userIDs, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating user rows: %w", err)
	}

	return userIDs, nil
}

// ListActiveCurrencies returns the distinct currencies held in active accounts
func (r *AccountRepository) ListActiveCurrencies(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT DISTINCT currency
		FROM accounts
		WHERE is_active = TRUE
		ORDER BY currency
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query currencies: %w", err)
	}
	currencies, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to collect currencies: %w", err)
	}
	return currencies, nil
}
