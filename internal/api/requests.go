package api

import (
	"errors"
	"strings"
	"time"

	"example.com/plannersync/internal/domain"
	"example.com/plannersync/internal/schedule"
)

// MoveRequest is one entry of a move payload. Minimal payloads carry only base_id and date;
// the remaining fields of the full payload are accepted but only the date is applied.
type MoveRequest struct {
	BaseID          string `json:"base_id"`
	Date            string `json:"date"`
	Activity        string `json:"activity,omitempty"`
	Layers          *int   `json:"layers,omitempty"`
	SwimLayers      []int  `json:"swim_layers,omitempty"`
	DayOfWeek       *int   `json:"day_of_week,omitempty"`
	DurationMinutes *int   `json:"duration_minutes,omitempty"`
	IsDeleted       *bool  `json:"is_deleted,omitempty"`
}

func (m MoveRequest) toMove() (schedule.Move, error) {
	if strings.TrimSpace(m.BaseID) == "" {
		return schedule.Move{}, errors.New("base_id is required")
	}
	day, err := domain.ParseDay(m.Date, time.UTC)
	if err != nil {
		return schedule.Move{}, errors.New("date must be yyyy-MM-dd or yyyy-MM-dd HH:mm:ss")
	}
	if m.DayOfWeek != nil && *m.DayOfWeek != domain.ISOWeekday(day) {
		return schedule.Move{}, errors.New("day_of_week does not match date")
	}
	if m.IsDeleted != nil && *m.IsDeleted {
		return schedule.Move{}, errors.New("cannot move a deleted workout")
	}
	return schedule.Move{BaseID: m.BaseID, Date: day}, nil
}

// PlanRequest is the payload for POST /v1/users/{uid}/planned-workouts.
type PlanRequest struct {
	ID              string `json:"id,omitempty"`
	Date            string `json:"date"`
	Name            string `json:"name,omitempty"`
	Description     string `json:"description,omitempty"`
	Activity        string `json:"activity"`
	DurationMinutes int    `json:"duration_minutes,omitempty"`
	Layers          *int   `json:"layers,omitempty"`
	SwimLayers      []int  `json:"swim_layers,omitempty"`
}
