// Package domain defines the planned-workout model shared by the calendar engine and the planner service.
package domain

import (
	"slices"
	"strings"
	"time"
)

// Suffixes appended to a base id when one server record expands into several calendar entries.
const (
	SuffixWater1 = "water1"
	SuffixSauna  = "sauna"
	SuffixWater2 = "water2"

	compositeSeparator = "|"
)

// Workout is one planned activity instance on the calendar.
type Workout struct {
	ID            string
	Name          string
	Description   string
	Duration      int // minutes
	Date          time.Time
	ActivityType  string
	PlannedLayers *int
	SwimLayers    []int
}

// Kind normalises the workout's activity label, falling back to its name.
func (w Workout) Kind() ActivityKind {
	if strings.TrimSpace(w.ActivityType) != "" {
		return NormalizeActivity(w.ActivityType)
	}
	return NormalizeActivity(w.Name)
}

// BaseID returns the identifier without any composite suffix.
func (w Workout) BaseID() string {
	return BaseID(w.ID)
}

// Clone returns a deep copy so callers can keep pre-move snapshots.
func (w Workout) Clone() Workout {
	out := w
	if w.PlannedLayers != nil {
		v := *w.PlannedLayers
		out.PlannedLayers = &v
	}
	out.SwimLayers = slices.Clone(w.SwimLayers)
	return out
}

// SameShape reports whether two workouts share kind, layer count and swim layers.
func (w Workout) SameShape(other Workout) bool {
	if w.Kind() != other.Kind() {
		return false
	}
	if !equalIntPtr(w.PlannedLayers, other.PlannedLayers) {
		return false
	}
	return slices.Equal(w.SwimLayers, other.SwimLayers)
}

// BaseID strips the "|suffix" part of a composite identifier.
func BaseID(id string) string {
	base, _, _ := strings.Cut(id, compositeSeparator)
	return base
}

// CompositeID joins a base id and an expansion suffix.
func CompositeID(base, suffix string) string {
	return base + compositeSeparator + suffix
}

// IntPtr is a small helper for optional layer counts.
func IntPtr(v int) *int {
	return &v
}

func equalIntPtr(a, b *int) bool {
	switch {
	case a == nil && b == nil:
		return true
	case a == nil || b == nil:
		return false
	default:
		return *a == *b
	}
}

// IDs collects workout identifiers in order.
func IDs(workouts []Workout) []string {
	out := make([]string, 0, len(workouts))
	for _, w := range workouts {
		out = append(out, w.ID)
	}
	return out
}
