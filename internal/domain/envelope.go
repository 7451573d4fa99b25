package domain

import (
	"slices"
	"sort"
	"time"
)

// CachedWorkout is the persisted projection of a Workout.
type CachedWorkout struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Description   string    `json:"description,omitempty"`
	Duration      int       `json:"duration"`
	Date          time.Time `json:"date"`
	ActivityType  string    `json:"activityType,omitempty"`
	PlannedLayers *int      `json:"plannedLayers,omitempty"`
	SwimLayers    []int     `json:"swimLayers,omitempty"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Envelope is the persisted unit for one calendar month.
type Envelope struct {
	MonthKey       string          `json:"monthKey"`
	FetchedAt      time.Time       `json:"fetchedAt"`
	ETag           string          `json:"etag,omitempty"`
	Workouts       []CachedWorkout `json:"workouts"`
	SoftDeletedIDs []string        `json:"softDeletedIDs"`
}

// ToCached projects a workout for persistence.
func ToCached(w Workout, updatedAt time.Time) CachedWorkout {
	c := w.Clone()
	return CachedWorkout{
		ID:            c.ID,
		Name:          c.Name,
		Description:   c.Description,
		Duration:      c.Duration,
		Date:          c.Date,
		ActivityType:  c.ActivityType,
		PlannedLayers: c.PlannedLayers,
		SwimLayers:    c.SwimLayers,
		UpdatedAt:     updatedAt.UTC(),
	}
}

// Workout converts the cached projection back, re-anchoring the date to midnight in loc.
func (c CachedWorkout) Workout(loc *time.Location) Workout {
	w := Workout{
		ID:            c.ID,
		Name:          c.Name,
		Description:   c.Description,
		Duration:      c.Duration,
		Date:          StartOfDay(c.Date, loc),
		ActivityType:  c.ActivityType,
		PlannedLayers: c.PlannedLayers,
		SwimLayers:    c.SwimLayers,
	}
	return w.Clone()
}

// MergeCachedWorkouts unions two sets by id. For a shared id the entry with the greater-or-equal
// UpdatedAt wins, so incoming entries replace existing ones on ties. Output is sorted by date then id.
func MergeCachedWorkouts(existing, incoming []CachedWorkout) []CachedWorkout {
	byID := make(map[string]CachedWorkout, len(existing)+len(incoming))
	for _, set := range [][]CachedWorkout{existing, incoming} {
		for _, w := range set {
			current, ok := byID[w.ID]
			if !ok || !w.UpdatedAt.Before(current.UpdatedAt) {
				byID[w.ID] = w
			}
		}
	}
	out := make([]CachedWorkout, 0, len(byID))
	for _, w := range byID {
		out = append(out, w)
	}
	sortCached(out)
	return out
}

// Normalize enforces the envelope invariants: unique workout ids, sorted soft-delete ids,
// and no id present in both sets.
func (e *Envelope) Normalize() {
	deleted := make(map[string]struct{}, len(e.SoftDeletedIDs))
	ids := make([]string, 0, len(e.SoftDeletedIDs))
	for _, id := range e.SoftDeletedIDs {
		if _, dup := deleted[id]; dup || id == "" {
			continue
		}
		deleted[id] = struct{}{}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	e.SoftDeletedIDs = ids

	merged := MergeCachedWorkouts(nil, e.Workouts)
	e.Workouts = slices.DeleteFunc(merged, func(w CachedWorkout) bool {
		_, gone := deleted[w.ID]
		return gone
	})
}

// Find returns the index of id in Workouts, or -1.
func (e *Envelope) Find(id string) int {
	return slices.IndexFunc(e.Workouts, func(w CachedWorkout) bool { return w.ID == id })
}

// Remove drops id from Workouts and reports whether it was present.
func (e *Envelope) Remove(id string) bool {
	before := len(e.Workouts)
	e.Workouts = slices.DeleteFunc(e.Workouts, func(w CachedWorkout) bool { return w.ID == id })
	return len(e.Workouts) != before
}

// Upsert inserts w, or moves an existing entry with the same id to w's date.
// A previously soft-deleted id is revived.
func (e *Envelope) Upsert(w CachedWorkout) {
	e.SoftDeletedIDs = slices.DeleteFunc(e.SoftDeletedIDs, func(id string) bool { return id == w.ID })
	if idx := e.Find(w.ID); idx >= 0 {
		e.Workouts[idx].Date = w.Date
		e.Workouts[idx].UpdatedAt = w.UpdatedAt
		return
	}
	e.Workouts = append(e.Workouts, w)
}

// Visible returns the cached workouts as calendar workouts.
func (e *Envelope) Visible(loc *time.Location) []Workout {
	out := make([]Workout, 0, len(e.Workouts))
	for _, c := range e.Workouts {
		out = append(out, c.Workout(loc))
	}
	return out
}

func sortCached(ws []CachedWorkout) {
	sort.SliceStable(ws, func(i, j int) bool {
		if !ws[i].Date.Equal(ws[j].Date) {
			return ws[i].Date.Before(ws[j].Date)
		}
		return ws[i].ID < ws[j].ID
	})
}
