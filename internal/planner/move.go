package planner

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"example.com/plannersync/internal/auth"
	"example.com/plannersync/internal/domain"
	"example.com/plannersync/internal/transport"
)

// FullMove is one entry of the full move payload.
type FullMove struct {
	BaseID          string `json:"base_id"`
	Date            string `json:"date"`
	Activity        string `json:"activity"`
	Layers          *int   `json:"layers,omitempty"`
	SwimLayers      []int  `json:"swim_layers"`
	DayOfWeek       int    `json:"day_of_week"`
	DurationMinutes int    `json:"duration_minutes"`
	IsDeleted       bool   `json:"is_deleted"`
}

// MinimalMove is one entry of the fallback move payload.
type MinimalMove struct {
	BaseID string `json:"base_id"`
	Date   string `json:"date"`
}

// MoveClient submits reschedules to the planner API.
type MoveClient struct {
	poster   transport.Poster
	identity auth.Identity
	loc      *time.Location
}

// NewMoveClient constructs a MoveClient; loc anchors the submitted midnight timestamp.
func NewMoveClient(poster transport.Poster, identity auth.Identity, loc *time.Location) *MoveClient {
	if loc == nil {
		loc = time.UTC
	}
	return &MoveClient{poster: poster, identity: identity, loc: loc}
}

// SubmitFull posts one record per moved base id with activity, layers, weekday and duration.
func (m *MoveClient) SubmitFull(ctx context.Context, workouts []domain.Workout, to time.Time) error {
	err := m.post(ctx, BuildFullPayload(workouts, to, m.loc))
	recordSubmit("full", err)
	return err
}

// SubmitMinimal posts only base id and date pairs.
func (m *MoveClient) SubmitMinimal(ctx context.Context, workouts []domain.Workout, to time.Time) error {
	err := m.post(ctx, BuildMinimalPayload(workouts, to, m.loc))
	recordSubmit("minimal", err)
	return err
}

func (m *MoveClient) post(ctx context.Context, payload any) error {
	uid, ok := m.identity.CurrentUserIdentity()
	if !ok {
		return auth.ErrNoIdentity
	}
	path := "/v1/users/" + url.PathEscape(uid) + "/planned-workouts/move"
	status, err := m.poster.PostJSON(ctx, path, payload)
	if err != nil {
		return fmt.Errorf("submit move: %w", err)
	}
	if status < 200 || status >= 300 {
		return fmt.Errorf("submit move: unexpected status %d", status)
	}
	return nil
}

// BuildFullPayload groups expanded entries back under their base id so a protocol moved as a
// whole is submitted once with its sauna layers and both swim layers.
func BuildFullPayload(workouts []domain.Workout, to time.Time, loc *time.Location) []FullMove {
	day := domain.StartOfDay(to, loc)
	date := day.Format(domain.TimestampLayout)
	weekday := domain.ISOWeekday(day)

	groups := groupByBase(workouts)
	out := make([]FullMove, 0, len(groups))
	for _, g := range groups {
		out = append(out, fullMove(g, date, weekday))
	}
	return out
}

// BuildMinimalPayload emits one {base_id, date} pair per moved base id.
func BuildMinimalPayload(workouts []domain.Workout, to time.Time, loc *time.Location) []MinimalMove {
	date := domain.StartOfDay(to, loc).Format(domain.TimestampLayout)
	groups := groupByBase(workouts)
	out := make([]MinimalMove, 0, len(groups))
	for _, g := range groups {
		out = append(out, MinimalMove{BaseID: g.base, Date: date})
	}
	return out
}

type baseGroup struct {
	base    string
	members []domain.Workout
}

func groupByBase(workouts []domain.Workout) []baseGroup {
	var groups []baseGroup
	index := make(map[string]int)
	for _, w := range workouts {
		base := w.BaseID()
		if base == "" {
			continue
		}
		i, ok := index[base]
		if !ok {
			i = len(groups)
			index[base] = i
			groups = append(groups, baseGroup{base: base})
		}
		groups[i].members = append(groups[i].members, w)
	}
	return groups
}

func fullMove(g baseGroup, date string, weekday int) FullMove {
	move := FullMove{
		BaseID:     g.base,
		Date:       date,
		DayOfWeek:  weekday,
		SwimLayers: []int{},
	}

	composite := false
	var water1, water2 *int
	for _, w := range g.members {
		if w.Duration > move.DurationMinutes {
			move.DurationMinutes = w.Duration
		}
		_, suffix, ok := strings.Cut(w.ID, "|")
		if !ok {
			move.Activity = activityLabel(w)
			move.Layers = w.PlannedLayers
			move.SwimLayers = append(move.SwimLayers, w.SwimLayers...)
			continue
		}
		composite = true
		switch suffix {
		case domain.SuffixSauna:
			move.Layers = w.PlannedLayers
		case domain.SuffixWater1:
			water1 = w.PlannedLayers
		case domain.SuffixWater2:
			water2 = w.PlannedLayers
		}
	}
	if composite {
		move.Activity = string(domain.KindSauna)
		switch {
		case water1 != nil && water2 != nil:
			move.SwimLayers = []int{*water1, *water2}
		case water1 != nil:
			move.SwimLayers = []int{*water1}
		case water2 != nil:
			move.SwimLayers = []int{0, *water2}
		}
	}
	return move
}

func activityLabel(w domain.Workout) string {
	if strings.TrimSpace(w.ActivityType) != "" {
		return w.ActivityType
	}
	return string(w.Kind())
}
