package calendar

import (
	"context"
	"errors"
	"fmt"
	"time"

	"example.com/plannersync/internal/domain"
	"example.com/plannersync/internal/rules"
)

// MoveWorkouts reschedules ids onto to. Allowed workouts are moved in memory first, then
// submitted (full payload, falling back to the minimal one). If both submissions fail the
// move is rolled back and the joined error returned. On success the month cache is updated
// and verification starts in the background; its outcome never reaches the caller.
func (c *Calendar) MoveWorkouts(ctx context.Context, ids []string, to time.Time) error {
	c.mu.Lock()
	if c.role == RoleViewer {
		c.mu.Unlock()
		recordMove("read_only")
		return ErrReadOnly
	}
	target := domain.StartOfDay(to, c.loc)
	allowed, violation := c.validateLocked(ids, target)
	if len(allowed) == 0 {
		c.mu.Unlock()
		recordMove("rejected")
		if violation != nil {
			return violation
		}
		return ErrNothingToMove
	}
	if violation != nil {
		c.logger.Printf("partial move (allowed=%v, target=%s): %v", allowed, target.Format(domain.DayLayout), violation)
	}

	before := c.byIDsLocked(allowed)
	c.applyDatesLocked(allowed, target)
	moved := c.byIDsLocked(allowed)
	c.mu.Unlock()

	payload := "full"
	fullErr := c.submitter.SubmitFull(ctx, moved, target)
	if fullErr != nil {
		c.logger.Printf("full move payload failed, retrying minimal (ids=%v): %v", allowed, fullErr)
		payload = "minimal"
		if minimalErr := c.submitter.SubmitMinimal(ctx, moved, target); minimalErr != nil {
			c.rollback(before)
			recordMove("rolled_back")
			return fmt.Errorf("move workouts: %w", errors.Join(fullErr, minimalErr))
		}
	}
	recordMove("submitted_" + payload)

	c.syncCache(before, moved)
	if err := c.source.InvalidateCache(ctx); err != nil {
		c.logger.Printf("revalidation cache invalidate failed: %v", err)
	}

	c.startVerification(moved, target)
	return nil
}

// validateLocked widens ids to whole protocols, since the planner stores one record per base
// id, and checks every member against the drop rules. A protocol with a refused member is
// refused as a whole. Dragged workouts never count as contents of the target or neighbouring days.
func (c *Calendar) validateLocked(ids []string, target time.Time) ([]string, error) {
	dragged := c.byIDsLocked(c.withSiblingsLocked(ids))
	if len(dragged) == 0 {
		return nil, nil
	}
	moving := make(map[string]struct{}, len(dragged))
	for _, w := range dragged {
		moving[w.ID] = struct{}{}
	}
	staying := func(ws []domain.Workout) []domain.Workout {
		out := make([]domain.Workout, 0, len(ws))
		for _, w := range ws {
			if _, ok := moving[w.ID]; !ok {
				out = append(out, w)
			}
		}
		return out
	}
	allowed, violation := rules.ValidateBatch(dragged, target, staying(c.onDayLocked(target)), staying(c.planned))
	return wholeProtocols(dragged, allowed), violation
}

// withSiblingsLocked appends, after each requested id, the other entries expanded from the
// same planner record.
func (c *Calendar) withSiblingsLocked(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	add := func(id string) {
		if _, dup := seen[id]; !dup {
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	for _, id := range ids {
		add(id)
		base := domain.BaseID(id)
		if base == "" {
			continue
		}
		for _, w := range c.planned {
			if w.ID != id && w.BaseID() == base {
				add(w.ID)
			}
		}
	}
	return out
}

func wholeProtocols(dragged []domain.Workout, allowed []string) []string {
	ok := make(map[string]struct{}, len(allowed))
	for _, id := range allowed {
		ok[id] = struct{}{}
	}
	refused := make(map[string]struct{})
	for _, w := range dragged {
		if _, pass := ok[w.ID]; !pass {
			refused[w.BaseID()] = struct{}{}
		}
	}
	out := allowed[:0:0]
	for _, id := range allowed {
		if _, bad := refused[domain.BaseID(id)]; !bad {
			out = append(out, id)
		}
	}
	return out
}

func (c *Calendar) applyDatesLocked(ids []string, day time.Time) {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	for i := range c.planned {
		if _, ok := set[c.planned[i].ID]; ok {
			c.planned[i].Date = day
		}
	}
	c.recomputeMarkersLocked()
}

// rollback restores the pre-move dates of the given snapshot.
func (c *Calendar) rollback(snapshot []domain.Workout) {
	c.mu.Lock()
	defer c.mu.Unlock()
	previous := make(map[string]time.Time, len(snapshot))
	for _, w := range snapshot {
		previous[w.ID] = w.Date
	}
	for i := range c.planned {
		if date, ok := previous[c.planned[i].ID]; ok {
			c.planned[i].Date = date
		}
	}
	c.recomputeMarkersLocked()
}

// syncCache removes moved workouts from the months they left and upserts them into the
// destination month. Every touched month loses its etag so the next load revalidates.
// Months whose envelope already matches are not rewritten.
func (c *Calendar) syncCache(before, moved []domain.Workout) {
	stamp := c.now().UTC()

	leaving := make(map[string][]string)
	for i, w := range before {
		src := domain.MonthKey(w.Date, c.loc)
		if src != domain.MonthKey(moved[i].Date, c.loc) {
			leaving[src] = append(leaving[src], w.ID)
		}
	}
	for monthKey, ids := range leaving {
		err := c.store.Update(monthKey, func(env *domain.Envelope) bool {
			changed := env.ETag != ""
			for _, id := range ids {
				if env.Remove(id) {
					changed = true
				}
			}
			env.ETag = ""
			return changed
		})
		if err != nil {
			c.logger.Printf("cache remove failed (month=%s): %v", monthKey, err)
		}
	}

	arriving := make(map[string][]domain.Workout)
	for _, w := range moved {
		dst := domain.MonthKey(w.Date, c.loc)
		arriving[dst] = append(arriving[dst], w)
	}
	for monthKey, ws := range arriving {
		err := c.store.Update(monthKey, func(env *domain.Envelope) bool {
			changed := env.ETag != ""
			for _, w := range ws {
				if idx := env.Find(w.ID); idx >= 0 && env.Workouts[idx].Date.Equal(w.Date) {
					continue
				}
				env.Upsert(domain.ToCached(w, stamp))
				changed = true
			}
			env.ETag = ""
			return changed
		})
		if err != nil {
			c.logger.Printf("cache upsert failed (month=%s): %v", monthKey, err)
		}
	}
}
