// Package schedule defines the server-side planned-workout model and the move workflow.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"example.com/plannersync/internal/domain"
	"example.com/plannersync/internal/events"
	"example.com/plannersync/internal/observability"
)

var (
	// ErrNotFound is returned when a base id is unknown to the user or already deleted.
	ErrNotFound = errors.New("planned workout not found")
	// ErrInvalid marks input the service refuses before touching storage.
	ErrInvalid = errors.New("invalid planned workout request")
)

// MaxRangeDays bounds a single ListRange query.
const MaxRangeDays = 93

// PlannedWorkout is one stored planner record. Protocols are stored once under their base id.
type PlannedWorkout struct {
	ID              string
	UserID          string
	Date            time.Time // midnight UTC
	Name            string
	Description     string
	Activity        string
	DurationMinutes int
	Layers          *int
	SwimLayers      []int
	Deleted         bool
	UpdatedAt       time.Time
}

// Move reschedules one base id.
type Move struct {
	BaseID string
	Date   time.Time
}

// Moved reports a move applied by the repository.
type Moved struct {
	Workout PlannedWorkout
	From    time.Time
}

// Repository captures persistence operations.
type Repository interface {
	ListRange(ctx context.Context, userID string, start, end time.Time) ([]PlannedWorkout, error)
	Create(ctx context.Context, workout PlannedWorkout) error
	// ApplyMoves updates every move or none; an unknown id fails the batch with ErrNotFound.
	ApplyMoves(ctx context.Context, userID string, moves []Move, at time.Time) ([]Moved, error)
	SoftDelete(ctx context.Context, userID, id string, at time.Time) error
}

// Option configures optional behaviour for the Service.
type Option func(*Service)

// WithLogger overrides the logger.
func WithLogger(logger *log.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// Service orchestrates planner workflows.
type Service struct {
	repo      Repository
	publisher events.Publisher
	now       func() time.Time
	logger    *log.Logger
}

// NewService constructs a Service. A nil publisher drops events.
func NewService(repo Repository, publisher events.Publisher, opts ...Option) *Service {
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	s := &Service{
		repo:      repo,
		publisher: publisher,
		now:       time.Now,
		logger:    log.New(log.Writer(), "[schedule] ", log.LstdFlags|log.Lshortfile),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ListRange returns the user's records dated within [start, end], deleted ones included so
// clients can drop them from their caches.
func (s *Service) ListRange(ctx context.Context, userID string, start, end time.Time) ([]PlannedWorkout, error) {
	start, end = utcDay(start), utcDay(end)
	if end.Before(start) {
		return nil, fmt.Errorf("%w: end %s before start %s", ErrInvalid, end.Format(domain.DayLayout), start.Format(domain.DayLayout))
	}
	if end.Sub(start) > MaxRangeDays*24*time.Hour {
		return nil, fmt.Errorf("%w: range exceeds %d days", ErrInvalid, MaxRangeDays)
	}
	return s.repo.ListRange(ctx, userID, start, end)
}

// PlanInput captures a new planned workout.
type PlanInput struct {
	UserID          string
	ID              string // optional; a uuid is assigned when empty
	Date            time.Time
	Name            string
	Description     string
	Activity        string
	DurationMinutes int
	Layers          *int
	SwimLayers      []int
}

// Plan stores a new planned workout.
func (s *Service) Plan(ctx context.Context, in PlanInput) (PlannedWorkout, error) {
	if strings.TrimSpace(in.Activity) == "" && strings.TrimSpace(in.Name) == "" {
		return PlannedWorkout{}, fmt.Errorf("%w: activity or name is required", ErrInvalid)
	}
	if in.Date.IsZero() {
		return PlannedWorkout{}, fmt.Errorf("%w: date is required", ErrInvalid)
	}
	if in.DurationMinutes < 0 {
		return PlannedWorkout{}, fmt.Errorf("%w: duration must be >= 0", ErrInvalid)
	}
	id := strings.TrimSpace(in.ID)
	if id == "" {
		id = uuid.NewString()
	}
	if strings.Contains(id, "|") {
		return PlannedWorkout{}, fmt.Errorf("%w: id %q contains a composite separator", ErrInvalid, id)
	}

	w := PlannedWorkout{
		ID:              id,
		UserID:          in.UserID,
		Date:            utcDay(in.Date),
		Name:            strings.TrimSpace(in.Name),
		Description:     in.Description,
		Activity:        strings.ToLower(strings.TrimSpace(in.Activity)),
		DurationMinutes: in.DurationMinutes,
		Layers:          in.Layers,
		SwimLayers:      append([]int{}, in.SwimLayers...),
		UpdatedAt:       s.now().UTC(),
	}
	if err := s.repo.Create(ctx, w); err != nil {
		return PlannedWorkout{}, err
	}
	return w, nil
}

// Move applies a batch of reschedules and publishes one event per workout whose date changed.
// Publishing failures are logged; the move itself has already been committed.
func (s *Service) Move(ctx context.Context, userID string, moves []Move) ([]Moved, error) {
	if len(moves) == 0 {
		return nil, fmt.Errorf("%w: no moves", ErrInvalid)
	}
	for _, m := range moves {
		if strings.TrimSpace(m.BaseID) == "" {
			return nil, fmt.Errorf("%w: base_id is required", ErrInvalid)
		}
		if m.Date.IsZero() {
			return nil, fmt.Errorf("%w: date is required for %s", ErrInvalid, m.BaseID)
		}
	}
	normalized := make([]Move, len(moves))
	for i, m := range moves {
		normalized[i] = Move{BaseID: domain.BaseID(strings.TrimSpace(m.BaseID)), Date: utcDay(m.Date)}
	}

	at := s.now().UTC()
	moved, err := s.repo.ApplyMoves(ctx, userID, normalized, at)
	if err != nil {
		return nil, err
	}

	var evts []events.PlannedWorkoutMoved
	for _, m := range moved {
		if m.From.Equal(m.Workout.Date) {
			continue
		}
		evts = append(evts, events.NewPlannedWorkoutMoved(userID, m.Workout.ID, m.Workout.Activity,
			m.From.Format(domain.DayLayout), m.Workout.Date.Format(domain.DayLayout), at))
	}
	observability.RecordMovesApplied(len(evts), at)
	if err := s.publisher.PublishMoved(ctx, evts...); err != nil {
		observability.RecordPublishFailure()
		s.logger.Printf("publish move events failed (user=%s, events=%d): %v", userID, len(evts), err)
	}
	return moved, nil
}

// Delete soft-deletes a planned workout so clients observe is_deleted on their next sync.
func (s *Service) Delete(ctx context.Context, userID, id string) error {
	id = domain.BaseID(strings.TrimSpace(id))
	if id == "" {
		return fmt.Errorf("%w: id is required", ErrInvalid)
	}
	return s.repo.SoftDelete(ctx, userID, id, s.now().UTC())
}

func utcDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
