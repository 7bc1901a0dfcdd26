package database

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// schema creates the plan store tables. Statements are idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS plan_runs (
		id TEXT PRIMARY KEY,
		exam_period TEXT NOT NULL,
		version INT NOT NULL,
		status TEXT NOT NULL,
		solve_status TEXT NOT NULL,
		objective BIGINT NOT NULL DEFAULT 0,
		staff_count INT NOT NULL,
		task_count INT NOT NULL,
		meta JSONB NOT NULL DEFAULT '{}'::jsonb,
		created_by TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (exam_period, version)
	)`,
	`CREATE TABLE IF NOT EXISTS plan_assignments (
		id TEXT PRIMARY KEY,
		plan_run_id TEXT NOT NULL REFERENCES plan_runs(id) ON DELETE CASCADE,
		task_index INT NOT NULL,
		day_label TEXT NOT NULL,
		week INT NOT NULL,
		start_minute INT NOT NULL,
		end_minute INT NOT NULL,
		room TEXT NOT NULL,
		subject TEXT NOT NULL DEFAULT '',
		session TEXT NOT NULL,
		staff_id INT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (plan_run_id, task_index)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_plan_assignments_staff ON plan_assignments (plan_run_id, staff_id)`,
}

// Migrate applies the plan store schema inside one transaction.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration: %w", err)
	}
	for i, stmt := range schema {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration step %d: %w", i+1, err)
		}
	}
	return tx.Commit()
}
