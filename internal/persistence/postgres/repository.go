// Package postgres provides the Postgres-backed planned-workout repository.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/plannersync/internal/schedule"
)

// ErrDuplicate is returned by Create when the id already exists for the user.
var ErrDuplicate = errors.New("planned workout already exists")

const selectColumns = `workout_id, user_id, planned_date, name, description, activity, duration_minutes, layers, swim_layers, is_deleted, updated_at`

// Repository provides Postgres-backed persistence for planned workouts.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ListRange returns records dated within [start, end] ordered by date then id.
func (r *Repository) ListRange(ctx context.Context, userID string, start, end time.Time) ([]schedule.PlannedWorkout, error) {
	query := `SELECT ` + selectColumns + `
        FROM planned_workouts WHERE user_id=$1 AND planned_date BETWEEN $2 AND $3
        ORDER BY planned_date, workout_id`

	rows, err := r.pool.Query(ctx, query, userID, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := make([]schedule.PlannedWorkout, 0)
	for rows.Next() {
		w, err := scanWorkout(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, w)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

// Create inserts a new workout.
func (r *Repository) Create(ctx context.Context, w schedule.PlannedWorkout) error {
	const stmt = `INSERT INTO planned_workouts (workout_id, user_id, planned_date, name, description, activity, duration_minutes, layers, swim_layers, is_deleted, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`

	swim := w.SwimLayers
	if swim == nil {
		swim = []int{}
	}
	_, err := r.pool.Exec(ctx, stmt,
		w.ID,
		w.UserID,
		w.Date,
		w.Name,
		w.Description,
		w.Activity,
		w.DurationMinutes,
		w.Layers,
		swim,
		w.Deleted,
		w.UpdatedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: %s", ErrDuplicate, w.ID)
	}
	return err
}

// ApplyMoves locks every targeted row, then updates them inside one transaction.
func (r *Repository) ApplyMoves(ctx context.Context, userID string, moves []schedule.Move, at time.Time) (out []schedule.Moved, err error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	query := `SELECT ` + selectColumns + `
        FROM planned_workouts WHERE user_id=$1 AND workout_id=$2 AND NOT is_deleted FOR UPDATE`

	out = make([]schedule.Moved, 0, len(moves))
	for _, m := range moves {
		var w schedule.PlannedWorkout
		w, err = scanWorkout(tx.QueryRow(ctx, query, userID, m.BaseID))
		if errors.Is(err, pgx.ErrNoRows) {
			err = fmt.Errorf("%w: %s", schedule.ErrNotFound, m.BaseID)
			return nil, err
		}
		if err != nil {
			return nil, err
		}

		from := w.Date
		if !from.Equal(m.Date) {
			if _, err = tx.Exec(ctx, `UPDATE planned_workouts SET planned_date=$3, updated_at=$4 WHERE user_id=$1 AND workout_id=$2`,
				userID, m.BaseID, m.Date, at); err != nil {
				return nil, err
			}
			w.Date = m.Date
			w.UpdatedAt = at
		}
		out = append(out, schedule.Moved{Workout: w, From: from})
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, err
	}
	return out, nil
}

// SoftDelete flags a workout as deleted.
func (r *Repository) SoftDelete(ctx context.Context, userID, id string, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `UPDATE planned_workouts SET is_deleted=TRUE, updated_at=$3
        WHERE user_id=$1 AND workout_id=$2 AND NOT is_deleted`, userID, id, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", schedule.ErrNotFound, id)
	}
	return nil
}

func scanWorkout(row pgx.Row) (schedule.PlannedWorkout, error) {
	var w schedule.PlannedWorkout
	if err := row.Scan(&w.ID, &w.UserID, &w.Date, &w.Name, &w.Description, &w.Activity, &w.DurationMinutes, &w.Layers, &w.SwimLayers, &w.Deleted, &w.UpdatedAt); err != nil {
		return schedule.PlannedWorkout{}, err
	}
	w.Date = time.Date(w.Date.Year(), w.Date.Month(), w.Date.Day(), 0, 0, 0, 0, time.UTC)
	w.UpdatedAt = w.UpdatedAt.UTC()
	if len(w.SwimLayers) == 0 {
		w.SwimLayers = nil
	}
	return w, nil
}
