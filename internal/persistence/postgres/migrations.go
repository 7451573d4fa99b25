package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type migration struct {
	Version int
	UpSQL   string
}

var migrations = []migration{
	{
		Version: 1,
		UpSQL: `CREATE TABLE IF NOT EXISTS planned_workouts (
    user_id          TEXT        NOT NULL,
    workout_id       TEXT        NOT NULL,
    planned_date     DATE        NOT NULL,
    name             TEXT        NOT NULL DEFAULT '',
    description      TEXT        NOT NULL DEFAULT '',
    activity         TEXT        NOT NULL DEFAULT '',
    duration_minutes INTEGER     NOT NULL DEFAULT 0,
    layers           INTEGER,
    swim_layers      INTEGER[]   NOT NULL DEFAULT '{}',
    is_deleted       BOOLEAN     NOT NULL DEFAULT FALSE,
    updated_at       TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (user_id, workout_id)
)`,
	},
	{
		Version: 2,
		UpSQL:   `CREATE INDEX IF NOT EXISTS planned_workouts_user_date_idx ON planned_workouts (user_id, planned_date)`,
	},
}

// Migrate applies pending schema migrations, each in its own transaction.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
    version    INTEGER PRIMARY KEY,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	for _, m := range migrations {
		if err := applyMigration(ctx, pool, m); err != nil {
			return fmt.Errorf("migration %d: %w", m.Version, err)
		}
	}
	return nil
}

func applyMigration(ctx context.Context, pool *pgxpool.Pool, m migration) error {
	tx, err := pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var applied bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE version=$1)`, m.Version).Scan(&applied); err != nil {
		return err
	}
	if applied {
		return tx.Commit(ctx)
	}
	if _, err := tx.Exec(ctx, m.UpSQL); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `INSERT INTO schema_migrations (version) VALUES ($1)`, m.Version); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
