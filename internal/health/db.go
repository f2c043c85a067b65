package health

import (
	"context"
	"database/sql"
	"fmt"
)

// DBChecker implements health checking for the Postgres directory stores.
type DBChecker struct {
	db *sql.DB
}

// NewDBChecker creates a new database health checker.
func NewDBChecker(db *sql.DB) *DBChecker {
	return &DBChecker{
		db: db,
	}
}

// Name identifies the check in readiness responses.
func (d *DBChecker) Name() string { return "database" }

// HealthCheck pings the database and verifies the schema is in place.
func (d *DBChecker) HealthCheck(ctx context.Context) error {
	if err := d.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping: %w", err)
	}
	var exists bool
	if err := d.db.QueryRowContext(ctx, `SELECT to_regclass('public.live_streams') IS NOT NULL`).Scan(&exists); err != nil {
		return fmt.Errorf("database schema check: %w", err)
	}
	if !exists {
		return fmt.Errorf("database schema check: live_streams table missing")
	}
	return nil
}
