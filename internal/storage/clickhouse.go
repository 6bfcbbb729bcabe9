package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/fx-insight/internal/config"
)

// ClickHouseDB holds the connection to the rate history store.
//
// Rate observations arrive as single rows from live lookups and as one
// batch per rate sync poll. Only single rows carry insertSettings.
type ClickHouseDB struct {
	conn           driver.Conn
	insertSettings clickhouse.Settings
}

// clickhouseOptions maps config onto driver options with LZ4 block compression
func clickhouseOptions(cfg *config.ClickHouseConfig) *clickhouse.Options {
	maxOpen := cfg.MaxConnections
	if maxOpen <= 0 {
		maxOpen = 4
	}
	maxIdle := maxOpen / 2
	if maxIdle < 1 {
		maxIdle = 1
	}

	return &clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%s", cfg.Host, cfg.Port)},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.User,
			Password: cfg.Password,
		},
		Settings: clickhouse.Settings{
			// volatility scans read at most a few months of one pair
			"max_execution_time": 15,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
		DialTimeout:      5 * time.Second,
		MaxOpenConns:     maxOpen,
		MaxIdleConns:     maxIdle,
		ConnMaxLifetime:  30 * time.Minute,
		ConnOpenStrategy: clickhouse.ConnOpenInOrder,
		BlockBufferSize:  2,
	}
}

// singleRowInsertSettings returns the per-query settings for one-row
// inserts, or nil when async inserts are disabled
func singleRowInsertSettings(cfg *config.ClickHouseConfig) clickhouse.Settings {
	if !cfg.AsyncInsert {
		return nil
	}
	return clickhouse.Settings{
		"async_insert": 1,
		// the caller learns about a failed flush instead of losing the row
		"wait_for_async_insert":        1,
		"async_insert_busy_timeout_ms": 1000,
		"async_insert_max_data_size":   1 << 20,
	}
}

// NewClickHouseDB connects to ClickHouse and verifies the connection
func NewClickHouseDB(cfg *config.ClickHouseConfig) (*ClickHouseDB, error) {
	conn, err := clickhouse.Open(clickhouseOptions(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	return &ClickHouseDB{conn: conn, insertSettings: singleRowInsertSettings(cfg)}, nil
}

// Close closes the ClickHouse connection
func (db *ClickHouseDB) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}

// Conn returns the underlying ClickHouse connection
func (db *ClickHouseDB) Conn() driver.Conn {
	return db.conn
}

// Ping checks if the database is reachable
func (db *ClickHouseDB) Ping(ctx context.Context) error {
	return db.conn.Ping(ctx)
}

// Exec executes a statement without returning rows
func (db *ClickHouseDB) Exec(ctx context.Context, query string, args ...interface{}) error {
	return db.conn.Exec(ctx, query, args...)
}

// singleRowContext attaches the async insert settings, if any, to ctx
func (db *ClickHouseDB) singleRowContext(ctx context.Context) context.Context {
	if len(db.insertSettings) == 0 {
		return ctx
	}
	return clickhouse.Context(ctx, clickhouse.WithSettings(db.insertSettings))
}
