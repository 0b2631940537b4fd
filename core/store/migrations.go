package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var pgMigrations embed.FS

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS monitors (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		grp TEXT NOT NULL DEFAULT '',
		type TEXT NOT NULL,
		url TEXT NOT NULL DEFAULT '',
		interval_sec INTEGER NOT NULL DEFAULT 60,
		timeout_sec INTEGER NOT NULL DEFAULT 30,
		public INTEGER NOT NULL DEFAULT 1,
		conditions_json TEXT NOT NULL DEFAULT '[]',
		query_name TEXT NOT NULL DEFAULT '',
		query_type TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS checks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		monitor_id INTEGER NOT NULL,
		status TEXT NOT NULL,
		response_time_ms INTEGER,
		error TEXT NOT NULL DEFAULT '',
		checked_at TIMESTAMP NOT NULL,
		FOREIGN KEY(monitor_id) REFERENCES monitors(id) ON DELETE CASCADE
	);`,
	`CREATE TABLE IF NOT EXISTS incidents (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		monitor_id INTEGER NOT NULL,
		status TEXT NOT NULL DEFAULT 'investigating',
		severity TEXT NOT NULL DEFAULT 'minor',
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		started_at TIMESTAMP NOT NULL,
		resolved_at TIMESTAMP,
		FOREIGN KEY(monitor_id) REFERENCES monitors(id) ON DELETE CASCADE
	);`,
	`CREATE TABLE IF NOT EXISTS maintenance_windows (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		monitor_id INTEGER,
		start_time TIMESTAMP NOT NULL,
		end_time TIMESTAMP NOT NULL,
		timezone TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		FOREIGN KEY(monitor_id) REFERENCES monitors(id) ON DELETE CASCADE
	);`,
	`CREATE TABLE IF NOT EXISTS status_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		monitor_id INTEGER NOT NULL,
		date TEXT NOT NULL,
		uptime_pct REAL NOT NULL DEFAULT 0,
		avg_response_time_ms REAL NOT NULL DEFAULT 0,
		total_checks INTEGER NOT NULL DEFAULT 0,
		successful_checks INTEGER NOT NULL DEFAULT 0,
		updated_at TIMESTAMP NOT NULL,
		UNIQUE(monitor_id, date),
		FOREIGN KEY(monitor_id) REFERENCES monitors(id) ON DELETE CASCADE
	);`,
	`CREATE TABLE IF NOT EXISTS queue_repeating (
		key TEXT PRIMARY KEY,
		monitor_id INTEGER NOT NULL,
		every_ms INTEGER NOT NULL,
		next_run_at TIMESTAMP NOT NULL,
		FOREIGN KEY(monitor_id) REFERENCES monitors(id) ON DELETE CASCADE
	);`,
	`CREATE TABLE IF NOT EXISTS queue_jobs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		key TEXT NOT NULL,
		monitor_id INTEGER NOT NULL,
		state TEXT NOT NULL DEFAULT 'waiting',
		run_at TIMESTAMP NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		max_attempts INTEGER NOT NULL DEFAULT 2,
		last_error TEXT NOT NULL DEFAULT '',
		claim_id TEXT NOT NULL DEFAULT '',
		claimed_at TIMESTAMP,
		finished_at TIMESTAMP,
		created_at TIMESTAMP NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_checks_monitor_checked ON checks(monitor_id, checked_at);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_incidents_active ON incidents(monitor_id) WHERE resolved_at IS NULL;`,
	`CREATE INDEX IF NOT EXISTS idx_incidents_monitor_started ON incidents(monitor_id, started_at);`,
	`CREATE INDEX IF NOT EXISTS idx_maintenance_windows_span ON maintenance_windows(start_time, end_time);`,
	`CREATE INDEX IF NOT EXISTS idx_status_history_monitor_date ON status_history(monitor_id, date);`,
	`CREATE INDEX IF NOT EXISTS idx_queue_jobs_state_run ON queue_jobs(state, run_at);`,
	`CREATE INDEX IF NOT EXISTS idx_queue_jobs_key ON queue_jobs(key, id);`,
}

// ApplyMigrations brings the schema up to date. Postgres goes through goose
// with the embedded migration files; sqlite applies the ordered statement
// list, which is idempotent by construction.
func ApplyMigrations(ctx context.Context, db *sql.DB, driver string, logger *zap.Logger) error {
	if driver == "pgx" || driver == "postgres" {
		return applyGooseMigrations(ctx, db, logger)
	}
	return applySQLiteMigrations(ctx, db, logger)
}

func applySQLiteMigrations(ctx context.Context, db *sql.DB, logger *zap.Logger) error {
	for i, stmt := range migrations {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite migration #%d failed: %w", i+1, err)
		}
	}
	if logger != nil {
		logger.Info("sqlite migrations applied", zap.Int("statements", len(migrations)))
	}
	return nil
}

func applyGooseMigrations(ctx context.Context, db *sql.DB, logger *zap.Logger) error {
	goose.SetBaseFS(pgMigrations)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}
	if logger != nil {
		logger.Info("postgres migrations applied")
	}
	return nil
}
