// Package events defines the planner's outbound event payloads and their publishers.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// TypePlannedWorkoutMoved is the event type header value for PlannedWorkoutMoved.
const TypePlannedWorkoutMoved = "planned_workout.moved"

// PlannedWorkoutMoved is emitted once per base id rescheduled by a move request.
type PlannedWorkoutMoved struct {
	EventID    string    `json:"event_id"`
	UserID     string    `json:"user_id"`
	WorkoutID  string    `json:"workout_id"`
	Activity   string    `json:"activity,omitempty"`
	FromDate   string    `json:"from_date"`
	ToDate     string    `json:"to_date"`
	OccurredAt time.Time `json:"occurred_at"`
}

// NewPlannedWorkoutMoved stamps a fresh event id.
func NewPlannedWorkoutMoved(userID, workoutID, activity, from, to string, at time.Time) PlannedWorkoutMoved {
	return PlannedWorkoutMoved{
		EventID:    uuid.NewString(),
		UserID:     userID,
		WorkoutID:  workoutID,
		Activity:   activity,
		FromDate:   from,
		ToDate:     to,
		OccurredAt: at.UTC(),
	}
}

// Publisher delivers move events downstream.
type Publisher interface {
	PublishMoved(ctx context.Context, events ...PlannedWorkoutMoved) error
	Close() error
}

// NoopPublisher drops every event. Used when no brokers are configured.
type NoopPublisher struct{}

func (NoopPublisher) PublishMoved(context.Context, ...PlannedWorkoutMoved) error { return nil }

func (NoopPublisher) Close() error { return nil }
