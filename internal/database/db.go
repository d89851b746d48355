// Package database persists trade outcomes and the decision log in PostgreSQL
// and keeps position entry times in Redis.
package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"perp-trading-agent/config"
	"perp-trading-agent/internal/logging"
)

// ErrNotFound is returned when a lookup matches no row
var ErrNotFound = errors.New("not found")

// DB wraps the PostgreSQL connection pool
type DB struct {
	Pool   *pgxpool.Pool
	logger *logging.Logger
}

// DSN builds the libpq connection string
func DSN(cfg config.DatabaseConfig) string {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, sslMode,
	)
}

// NewDB creates a new database connection
func NewDB(ctx context.Context, cfg config.DatabaseConfig, logger *logging.Logger) (*DB, error) {
	if logger == nil {
		logger = logging.Default()
	}

	poolConfig, err := pgxpool.ParseConfig(DSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	poolConfig.MaxConns = 10
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxConns)
	}
	poolConfig.MinConns = 1
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	db := &DB{Pool: pool, logger: logger.WithComponent("database")}
	db.logger.Info("Connected to PostgreSQL", "database", cfg.Database, "host", cfg.Host)
	return db, nil
}

// Close closes the database connection
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
		db.logger.Info("Database connection closed")
	}
}

// HealthCheck pings the pool
func (db *DB) HealthCheck(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS trade_outcomes (
		id TEXT PRIMARY KEY,
		bot VARCHAR(64) NOT NULL,
		symbol VARCHAR(20) NOT NULL,
		opened_at TIMESTAMPTZ NOT NULL,
		closed_at TIMESTAMPTZ,
		action VARCHAR(10) NOT NULL,
		reasoning TEXT NOT NULL DEFAULT '',
		confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
		predicted_direction VARCHAR(8) NOT NULL,
		stop_loss DOUBLE PRECISION NOT NULL DEFAULT 0,
		take_profit DOUBLE PRECISION NOT NULL DEFAULT 0,
		entry_price DOUBLE PRECISION NOT NULL,
		size DOUBLE PRECISION NOT NULL,
		leverage INTEGER NOT NULL DEFAULT 1,
		price_change_24h DOUBLE PRECISION NOT NULL DEFAULT 0,
		exit_price DOUBLE PRECISION NOT NULL DEFAULT 0,
		pnl_usd DOUBLE PRECISION NOT NULL DEFAULT 0,
		pnl_percent DOUBLE PRECISION NOT NULL DEFAULT 0,
		actual_direction VARCHAR(8) NOT NULL DEFAULT '',
		was_correct BOOLEAN NOT NULL DEFAULT FALSE,
		exit_reason VARCHAR(32) NOT NULL DEFAULT '',
		duration_minutes DOUBLE PRECISION NOT NULL DEFAULT 0,
		quality VARCHAR(16) NOT NULL DEFAULT '',
		should_repeat BOOLEAN NOT NULL DEFAULT FALSE,
		lessons JSONB NOT NULL DEFAULT '[]',
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_trade_outcomes_bot ON trade_outcomes(bot, opened_at)`,
	`CREATE INDEX IF NOT EXISTS idx_trade_outcomes_open ON trade_outcomes(bot, symbol) WHERE closed_at IS NULL`,

	`CREATE TABLE IF NOT EXISTS decision_log (
		id TEXT PRIMARY KEY,
		bot VARCHAR(64) NOT NULL,
		symbol VARCHAR(20) NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		action VARCHAR(10) NOT NULL,
		confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
		source VARCHAR(64) NOT NULL DEFAULT '',
		price DOUBLE PRECISION NOT NULL DEFAULT 0,
		change_24h DOUBLE PRECISION NOT NULL DEFAULT 0,
		executed BOOLEAN NOT NULL DEFAULT FALSE,
		skip_reason VARCHAR(32) NOT NULL DEFAULT '',
		decision JSONB NOT NULL,
		positions JSONB NOT NULL DEFAULT '[]'
	)`,
	`CREATE INDEX IF NOT EXISTS idx_decision_log_bot_time ON decision_log(bot, created_at DESC)`,
}

// RunMigrations executes database migrations
func (db *DB) RunMigrations(ctx context.Context) error {
	db.logger.Info("Running database migrations", "count", len(migrations))
	for i, m := range migrations {
		if _, err := db.Pool.Exec(ctx, m); err != nil {
			return fmt.Errorf("migration %d failed: %w", i, err)
		}
	}
	db.logger.Info("Database migrations completed")
	return nil
}
