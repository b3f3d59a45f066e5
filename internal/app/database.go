package app

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	_ "github.com/newrelic/go-agent/v3/integrations/nrpq" // Registers "nrpostgres" driver
	"github.com/newrelic/go-agent/v3/newrelic"

	"taxi/internal/config"
)

// NewDatabase opens the PostgreSQL pool. When nrApp is set the New Relic
// instrumented driver is used so every query shows up as a datastore segment.
func NewDatabase(ctx context.Context, cfg config.DatabaseConfig, nrApp *newrelic.Application) (*sql.DB, error) {
	driver := "postgres"
	if nrApp != nil {
		driver = "nrpostgres"
	}

	db, err := sql.Open(driver, cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database with %s: %w", driver, err)
	}

	// ============================================
	// CONNECTION POOL
	// ============================================
	//
	// MaxOpenConns: every Advance call holds one connection for the life of
	// its transaction (row lock on the payment), so webhook bursts and
	// browser polls compete for this pool.
	db.SetMaxOpenConns(cfg.MaxOpenConns)

	// MaxIdleConns: kept at or below MaxOpenConns.
	db.SetMaxIdleConns(min(cfg.MaxIdleConns, cfg.MaxOpenConns))

	// ConnMaxLifetime rotates connections across DB failovers and stays
	// below proxy idle timeouts.
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	// Verify connection.
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}
