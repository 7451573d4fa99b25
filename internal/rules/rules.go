// Package rules decides whether planned workouts may be dropped on a calendar day.
package rules

import (
	"errors"
	"time"

	"example.com/plannersync/internal/domain"
)

// Violation is the reason a drop was refused. It implements error.
type Violation string

const (
	DifferentWeek       Violation = "differentWeek"
	DuplicateType       Violation = "duplicateType"
	IncompatibleSameDay Violation = "incompatibleSameDay"
	SaunaBeforeRun      Violation = "saunaBeforeRun"
	RunAfterSauna       Violation = "runAfterSauna"
	PostBeforeRun       Violation = "postBeforeRun"
	PostAfterSauna      Violation = "postAfterSauna"
)

var messages = map[Violation]string{
	DifferentWeek:       "workouts can only be moved within the same week",
	DuplicateType:       "this day already has a workout of the same type",
	IncompatibleSameDay: "run, sauna and fasting cannot share a day",
	SaunaBeforeRun:      "sauna cannot be scheduled the day before a run",
	RunAfterSauna:       "run cannot be scheduled the day after a sauna",
	PostBeforeRun:       "fasting cannot be scheduled the day before a run",
	PostAfterSauna:      "fasting cannot be scheduled the day after a sauna",
}

func (v Violation) Error() string {
	if msg, ok := messages[v]; ok {
		return msg
	}
	return string(v)
}

// AsViolation extracts a Violation from err.
func AsViolation(err error) (Violation, bool) {
	var v Violation
	if errors.As(err, &v) {
		return v, true
	}
	return "", false
}

// Validate checks a single drop of dragged onto target. targetDay lists what is already on the
// target day; all is the planned set used to look up neighbouring days. The dragged workout
// itself is ignored in both. Returns nil when the drop is allowed.
func Validate(dragged domain.Workout, target time.Time, targetDay []domain.Workout, all []domain.Workout) error {
	loc := target.Location()
	day := domain.StartOfDay(target, loc)

	if !domain.SameISOWeek(dragged.Date, day, loc) {
		return DifferentWeek
	}

	kind := dragged.Kind()
	onDay := kindsOf(targetDay, dragged.ID)
	if _, dup := onDay[kind]; dup {
		return DuplicateType
	}
	if kind.Exclusive() {
		for k := range onDay {
			if k.Exclusive() {
				return IncompatibleSameDay
			}
		}
	}

	prev := kindsOf(onDate(all, domain.AddDays(day, -1), loc), dragged.ID)
	next := kindsOf(onDate(all, domain.AddDays(day, 1), loc), dragged.ID)
	switch kind {
	case domain.KindSauna:
		if has(next, domain.KindRun) {
			return SaunaBeforeRun
		}
	case domain.KindRun:
		if has(prev, domain.KindSauna) {
			return RunAfterSauna
		}
	case domain.KindPost:
		if has(next, domain.KindRun) {
			return PostBeforeRun
		}
		if has(prev, domain.KindSauna) {
			return PostAfterSauna
		}
	}
	return nil
}

// ValidateBatch applies Validate to each dragged workout independently against the original
// target-day contents. It returns the ids that passed and the first violation met, if any.
func ValidateBatch(dragged []domain.Workout, target time.Time, targetDay []domain.Workout, all []domain.Workout) ([]string, error) {
	allowed := make([]string, 0, len(dragged))
	var first error
	for _, w := range dragged {
		if err := Validate(w, target, targetDay, all); err != nil {
			if first == nil {
				first = err
			}
			continue
		}
		allowed = append(allowed, w.ID)
	}
	return allowed, first
}

func onDate(workouts []domain.Workout, day time.Time, loc *time.Location) []domain.Workout {
	var out []domain.Workout
	for _, w := range workouts {
		if domain.SameDay(w.Date, day, loc) {
			out = append(out, w)
		}
	}
	return out
}

func kindsOf(workouts []domain.Workout, skipID string) map[domain.ActivityKind]struct{} {
	out := make(map[domain.ActivityKind]struct{}, len(workouts))
	for _, w := range workouts {
		if skipID != "" && w.ID == skipID {
			continue
		}
		out[w.Kind()] = struct{}{}
	}
	return out
}

func has(kinds map[domain.ActivityKind]struct{}, k domain.ActivityKind) bool {
	_, ok := kinds[k]
	return ok
}
