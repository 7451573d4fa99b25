// Package memory provides an in-process planned-workout repository for local runs and tests.
package memory

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"example.com/plannersync/internal/schedule"
)

// ErrDuplicate is returned by Create when the id already exists for the user.
var ErrDuplicate = errors.New("planned workout already exists")

// Repository stores planned workouts per user.
type Repository struct {
	mu    sync.RWMutex
	users map[string]map[string]schedule.PlannedWorkout
}

// NewRepository constructs an empty Repository.
func NewRepository() *Repository {
	return &Repository{users: make(map[string]map[string]schedule.PlannedWorkout)}
}

// ListRange returns records dated within [start, end] ordered by date then id.
func (r *Repository) ListRange(_ context.Context, userID string, start, end time.Time) ([]schedule.PlannedWorkout, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]schedule.PlannedWorkout, 0)
	for _, w := range r.users[userID] {
		if w.Date.Before(start) || w.Date.After(end) {
			continue
		}
		out = append(out, clone(w))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Create stores a new workout.
func (r *Repository) Create(_ context.Context, w schedule.PlannedWorkout) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	byID := r.users[w.UserID]
	if byID == nil {
		byID = make(map[string]schedule.PlannedWorkout)
		r.users[w.UserID] = byID
	}
	if _, exists := byID[w.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicate, w.ID)
	}
	byID[w.ID] = clone(w)
	return nil
}

// ApplyMoves validates every base id before changing anything.
func (r *Repository) ApplyMoves(_ context.Context, userID string, moves []schedule.Move, at time.Time) ([]schedule.Moved, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	byID := r.users[userID]
	for _, m := range moves {
		w, ok := byID[m.BaseID]
		if !ok || w.Deleted {
			return nil, fmt.Errorf("%w: %s", schedule.ErrNotFound, m.BaseID)
		}
	}

	out := make([]schedule.Moved, 0, len(moves))
	for _, m := range moves {
		w := byID[m.BaseID]
		from := w.Date
		if !from.Equal(m.Date) {
			w.Date = m.Date
			w.UpdatedAt = at
			byID[m.BaseID] = w
		}
		out = append(out, schedule.Moved{Workout: clone(w), From: from})
	}
	return out, nil
}

// SoftDelete flags a workout as deleted.
func (r *Repository) SoftDelete(_ context.Context, userID, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.users[userID][id]
	if !ok || w.Deleted {
		return fmt.Errorf("%w: %s", schedule.ErrNotFound, id)
	}
	w.Deleted = true
	w.UpdatedAt = at
	r.users[userID][id] = w
	return nil
}

func clone(w schedule.PlannedWorkout) schedule.PlannedWorkout {
	if w.Layers != nil {
		v := *w.Layers
		w.Layers = &v
	}
	w.SwimLayers = slices.Clone(w.SwimLayers)
	return w
}
