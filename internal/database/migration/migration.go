package migration

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"projectapi/internal/logger"
)

// Step is one named, forward-only schema change.
type Step struct {
	Name string
	SQL  string
}

// Steps is the ordered schema history. Append only; never reorder or rename.
var Steps = []Step{
	{
		Name: "0001_create_extension_uuid_ossp",
		SQL:  `CREATE EXTENSION IF NOT EXISTS "uuid-ossp";`,
	},
	{
		Name: "0002_create_table_users",
		SQL: `CREATE TABLE IF NOT EXISTS users (
  id            UUID         PRIMARY KEY DEFAULT uuid_generate_v4(),
  email         TEXT         NOT NULL UNIQUE,
  first_name    VARCHAR(30)  NOT NULL,
  last_name     VARCHAR(30)  NOT NULL,
  password_hash TEXT         NOT NULL,
  is_active     BOOLEAN      NOT NULL DEFAULT TRUE,
  is_staff      BOOLEAN      NOT NULL DEFAULT FALSE,
  is_superuser  BOOLEAN      NOT NULL DEFAULT FALSE,
  date_joined   TIMESTAMPTZ  NOT NULL DEFAULT now(),
  last_login    TIMESTAMPTZ
);`,
	},
	{
		Name: "0003_create_table_items",
		SQL: `CREATE TABLE IF NOT EXISTS items (
  id          UUID          PRIMARY KEY DEFAULT uuid_generate_v4(),
  owner_id    UUID          NOT NULL REFERENCES users (id) ON DELETE CASCADE,
  name        VARCHAR(200)  NOT NULL,
  description TEXT          NOT NULL DEFAULT '',
  price       NUMERIC(12,2) NOT NULL CHECK (price >= 0),
  category    VARCHAR(50)   NOT NULL,
  image_path  TEXT,
  created_at  TIMESTAMPTZ   NOT NULL DEFAULT now(),
  updated_at  TIMESTAMPTZ   NOT NULL DEFAULT now()
);`,
	},
	{
		Name: "0004_create_index_items_category",
		SQL:  `CREATE INDEX IF NOT EXISTS idx_items_category ON items (category);`,
	},
	{
		Name: "0005_create_index_items_price",
		SQL:  `CREATE INDEX IF NOT EXISTS idx_items_price ON items (price);`,
	},
	{
		Name: "0006_create_index_items_created_at",
		SQL:  `CREATE INDEX IF NOT EXISTS idx_items_created_at ON items (created_at);`,
	},
	{
		Name: "0007_create_index_items_owner_id",
		SQL:  `CREATE INDEX IF NOT EXISTS idx_items_owner_id ON items (owner_id);`,
	},
}

const createHistoryTable = `CREATE TABLE IF NOT EXISTS schema_migrations (
  name       TEXT        PRIMARY KEY,
  applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
);`

// StepStatus pairs a step name with whether it has been applied.
type StepStatus struct {
	Name    string
	Applied bool
}

// Applied returns the set of step names recorded in schema_migrations.
// A database without the history table has nothing applied.
func Applied(ctx context.Context, db *sql.DB) (map[string]bool, error) {
	var exists bool
	if err := db.QueryRowContext(ctx, "SELECT to_regclass('public.schema_migrations') IS NOT NULL").Scan(&exists); err != nil {
		return nil, fmt.Errorf("failed to check history table: %w", err)
	}
	applied := make(map[string]bool)
	if !exists {
		return applied, nil
	}

	rows, err := db.QueryContext(ctx, "SELECT name FROM schema_migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to read history: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		applied[name] = true
	}
	return applied, rows.Err()
}

// Status reports every known step in order together with its applied state.
func Status(ctx context.Context, db *sql.DB) ([]StepStatus, error) {
	applied, err := Applied(ctx, db)
	if err != nil {
		return nil, err
	}
	out := make([]StepStatus, 0, len(Steps))
	for _, s := range Steps {
		out = append(out, StepStatus{Name: s.Name, Applied: applied[s.Name]})
	}
	return out, nil
}

// Pending returns the names of steps not applied yet, in order.
func Pending(ctx context.Context, db *sql.DB) ([]string, error) {
	st, err := Status(ctx, db)
	if err != nil {
		return nil, err
	}
	pending := make([]string, 0)
	for _, s := range st {
		if !s.Applied {
			pending = append(pending, s.Name)
		}
	}
	return pending, nil
}

// Migrate applies every pending step in order. Each step runs in its own
// transaction together with its history row; the first failure stops the run.
func Migrate(ctx context.Context, db *sql.DB) error {
	log := logger.L().With(zap.String("component", "database"))
	start := time.Now()

	log.Info("db_migration_check", zap.String("status", "starting"))

	if _, err := db.ExecContext(ctx, createHistoryTable); err != nil {
		log.Error("db_migration_failed",
			zap.String("status", "error"),
			zap.Error(err),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
		return fmt.Errorf("failed to create history table: %w", err)
	}

	pending, err := Pending(ctx, db)
	if err != nil {
		log.Error("db_migration_failed", zap.String("status", "error"), zap.Error(err))
		return err
	}
	if len(pending) == 0 {
		log.Info("db_migration_skip",
			zap.String("status", "success"),
			zap.String("msg_detail", "schema up to date"),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
		return nil
	}

	todo := make(map[string]bool, len(pending))
	for _, name := range pending {
		todo[name] = true
	}

	log.Info("db_migration_start", zap.String("status", "in_progress"), zap.Int("pending", len(pending)))

	for _, step := range Steps {
		if !todo[step.Name] {
			continue
		}
		stepStart := time.Now()
		if err := apply(ctx, db, step); err != nil {
			log.Error("db_migration_failed",
				zap.String("status", "error"),
				zap.String("migration_step", step.Name),
				zap.Error(err),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
				zap.Int64("step_duration_ms", time.Since(stepStart).Milliseconds()),
			)
			return fmt.Errorf("migration step %s failed: %w", step.Name, err)
		}
		log.Info("db_migration_step",
			zap.String("status", "success"),
			zap.String("migration_step", step.Name),
			zap.Int64("step_duration_ms", time.Since(stepStart).Milliseconds()),
		)
	}

	log.Info("db_migration_success",
		zap.String("status", "success"),
		zap.Int64("duration_ms", time.Since(start).Milliseconds()),
	)
	return nil
}

func apply(ctx context.Context, db *sql.DB, step Step) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, step.SQL); err != nil {
		_ = tx.Rollback()
		return err
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_migrations (name) VALUES ($1)", step.Name); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
