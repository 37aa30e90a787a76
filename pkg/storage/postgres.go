package storage

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq" // PostgreSQL driver
)

// OpenPostgres opens the primary database pool and verifies it answers
func OpenPostgres(ctx context.Context, config Config) (*sql.DB, error) {
	if config.PostgresURL == "" {
		return nil, fmt.Errorf("postgres URL is required")
	}

	db, err := sql.Open("postgres", config.PostgresURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}

	if err := ConfigurePool(ctx, db, config); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// ConfigurePool applies the pool limits to db and pings it within
// PostgresTimeout
func ConfigurePool(ctx context.Context, db *sql.DB, config Config) error {
	defaults := DefaultConfig()
	if config.PostgresMaxConns <= 0 {
		config.PostgresMaxConns = defaults.PostgresMaxConns
	}
	if config.PostgresMinConns < 0 || config.PostgresMinConns > config.PostgresMaxConns {
		config.PostgresMinConns = config.PostgresMaxConns
	}
	if config.PostgresTimeout <= 0 {
		config.PostgresTimeout = defaults.PostgresTimeout
	}

	db.SetMaxOpenConns(config.PostgresMaxConns)
	db.SetMaxIdleConns(config.PostgresMinConns)
	db.SetConnMaxLifetime(config.PostgresMaxLifetime)
	db.SetConnMaxIdleTime(config.PostgresMaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, config.PostgresTimeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		return fmt.Errorf("failed to ping postgres: %w", err)
	}
	return nil
}
