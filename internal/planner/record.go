// Package planner fetches planned workouts from the planner API, expands protocol
// records into calendar entries and submits moves.
package planner

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"example.com/plannersync/internal/domain"
	"example.com/plannersync/internal/jsonvalue"
)

// MaxLayers caps every layer count carried by a record.
const MaxLayers = 5

// ErrDecode marks a planner payload that does not match the record schema.
var ErrDecode = errors.New("decode planner records")

// Record is the planner API's wire representation of one planned workout.
type Record struct {
	ID              string                     `json:"id,omitempty"`
	WorkoutUUID     string                     `json:"workout_uuid,omitempty"`
	Date            string                     `json:"date"`
	Name            string                     `json:"name,omitempty"`
	Description     string                     `json:"description,omitempty"`
	Activity        string                     `json:"activity,omitempty"`
	DurationMinutes *float64                   `json:"duration_minutes,omitempty"`
	DurationHours   *float64                   `json:"duration_hours,omitempty"`
	Layers          *int                       `json:"layers,omitempty"`
	SwimLayers      []int                      `json:"swim_layers,omitempty"`
	IsDeleted       bool                       `json:"is_deleted,omitempty"`
	Metrics         map[string]jsonvalue.Value `json:"metrics,omitempty"`
}

// BaseID prefers the record id and falls back to workout_uuid.
func (r Record) BaseID() string {
	if id := strings.TrimSpace(r.ID); id != "" {
		return id
	}
	return strings.TrimSpace(r.WorkoutUUID)
}

// Minutes returns the duration rounded up to whole minutes.
func (r Record) Minutes() int {
	switch {
	case r.DurationMinutes != nil:
		return int(math.Ceil(math.Max(*r.DurationMinutes, 0)))
	case r.DurationHours != nil:
		return int(math.Ceil(math.Max(*r.DurationHours, 0) * 60))
	default:
		return 0
	}
}

func (r Record) kind() domain.ActivityKind {
	if strings.TrimSpace(r.Activity) != "" {
		return domain.NormalizeActivity(r.Activity)
	}
	return domain.NormalizeActivity(r.Name)
}

// DecodeRecords parses a JSON array of records. Unknown fields are rejected.
func DecodeRecords(data []byte) ([]Record, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var records []Record
	if err := dec.Decode(&records); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: trailing data after array", ErrDecode)
	}
	return records, nil
}

// Expand maps a record to calendar workouts. Sauna records carrying layers and/or one or
// two swim layers become up to three entries (<base>|water1, <base>|sauna, <base>|water2);
// every other record maps to exactly one workout with the base id.
func Expand(r Record, loc *time.Location) ([]domain.Workout, error) {
	day, err := domain.ParseDay(r.Date, loc)
	if err != nil {
		return nil, fmt.Errorf("record %q: %w", r.BaseID(), err)
	}
	base := r.BaseID()
	kind := r.kind()
	swim := clampAll(r.SwimLayers)

	if kind == domain.KindSauna && base != "" && (r.Layers != nil || (len(swim) >= 1 && len(swim) <= 2)) {
		if out := expandProtocol(r, base, day, swim); len(out) > 0 {
			return out, nil
		}
	}

	w := domain.Workout{
		ID:           base,
		Name:         displayName(r, kind),
		Description:  r.Description,
		Duration:     r.Minutes(),
		Date:         day,
		ActivityType: string(kind),
		SwimLayers:   swim,
	}
	if r.Layers != nil {
		w.PlannedLayers = domain.IntPtr(clamp(*r.Layers))
	}
	return []domain.Workout{w}, nil
}

func expandProtocol(r Record, base string, day time.Time, swim []int) []domain.Workout {
	var out []domain.Workout
	if len(swim) >= 1 && swim[0] > 0 {
		out = append(out, domain.Workout{
			ID:            domain.CompositeID(base, domain.SuffixWater1),
			Name:          "Water",
			Date:          day,
			ActivityType:  string(domain.KindWater),
			PlannedLayers: domain.IntPtr(swim[0]),
		})
	}
	if r.Layers != nil && *r.Layers > 0 {
		out = append(out, domain.Workout{
			ID:            domain.CompositeID(base, domain.SuffixSauna),
			Name:          displayName(r, domain.KindSauna),
			Description:   r.Description,
			Duration:      r.Minutes(),
			Date:          day,
			ActivityType:  string(domain.KindSauna),
			PlannedLayers: domain.IntPtr(clamp(*r.Layers)),
		})
	}
	if len(swim) >= 2 && swim[1] > 0 {
		out = append(out, domain.Workout{
			ID:            domain.CompositeID(base, domain.SuffixWater2),
			Name:          "Water",
			Date:          day,
			ActivityType:  string(domain.KindWater),
			PlannedLayers: domain.IntPtr(swim[1]),
		})
	}
	return out
}

// ExpandAll expands every record, skipping (and reporting) records with unparseable dates.
func ExpandAll(records []Record, loc *time.Location) ([]domain.Workout, error) {
	out := make([]domain.Workout, 0, len(records))
	var errs []error
	for _, r := range records {
		ws, err := Expand(r, loc)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, ws...)
	}
	return out, errors.Join(errs...)
}

// Dedupe keeps the first occurrence of each workout. Workouts with an id are keyed by it;
// id-less workouts fall back to (day, lowercased name), which collapses distinct
// same-named workouts on the same day.
func Dedupe(workouts []domain.Workout) []domain.Workout {
	seen := make(map[string]struct{}, len(workouts))
	out := make([]domain.Workout, 0, len(workouts))
	for _, w := range workouts {
		key := "id:" + w.ID
		if w.ID == "" {
			key = "name:" + w.Date.Format(domain.DayLayout) + "|" + strings.ToLower(strings.TrimSpace(w.Name))
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, w)
	}
	return out
}

func displayName(r Record, kind domain.ActivityKind) string {
	if name := strings.TrimSpace(r.Name); name != "" {
		return name
	}
	if activity := strings.TrimSpace(r.Activity); activity != "" {
		return activity
	}
	return string(kind)
}

func clamp(v int) int {
	switch {
	case v < 0:
		return 0
	case v > MaxLayers:
		return MaxLayers
	default:
		return v
	}
}

func clampAll(values []int) []int {
	if len(values) == 0 {
		return nil
	}
	out := make([]int, len(values))
	for i, v := range values {
		out[i] = clamp(v)
	}
	return out
}
