package calendar

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"example.com/plannersync/internal/domain"
)

// VerifyResult describes how the server state around a move compares to what was applied locally.
type VerifyResult struct {
	Target time.Time
	// ExpectedIDs are the base ids of the moved workouts.
	ExpectedIDs []string
	// ObservedIDs are the base ids the server returned for target, +1 and -1.
	ObservedIDs []string
	// Remapped maps a local id to the server id found by attribute match.
	Remapped map[string]string
	// ObservedDates maps a local id to the day the server has it on.
	ObservedDates map[string]time.Time
	// Missing lists local ids matched neither by identity nor by attributes.
	Missing     []string
	ServerError bool
}

// Healed reports whether the result calls for any local correction.
func (r VerifyResult) Healed() bool {
	if len(r.Remapped) > 0 {
		return true
	}
	for _, d := range r.ObservedDates {
		if !d.Equal(r.Target) {
			return true
		}
	}
	return false
}

type verification struct {
	cancel context.CancelFunc
}

// verifications tracks background verification goroutines, at most one per month key.
type verifications struct {
	mu       sync.Mutex
	inflight map[string]*verification
	wg       sync.WaitGroup
}

func newVerifications() *verifications {
	return &verifications{inflight: make(map[string]*verification)}
}

// start cancels any verification running for monthKey and launches run in its place.
func (v *verifications) start(monthKey string, run func(ctx context.Context)) {
	ctx, cancel := context.WithCancel(context.Background())
	entry := &verification{cancel: cancel}

	v.mu.Lock()
	if prev, ok := v.inflight[monthKey]; ok {
		prev.cancel()
	}
	v.inflight[monthKey] = entry
	v.wg.Add(1)
	v.mu.Unlock()

	go func() {
		defer v.wg.Done()
		defer func() {
			v.mu.Lock()
			if v.inflight[monthKey] == entry {
				delete(v.inflight, monthKey)
			}
			v.mu.Unlock()
			cancel()
		}()
		run(ctx)
	}()
}

func (v *verifications) cancelAll() {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, entry := range v.inflight {
		entry.cancel()
	}
}

func (v *verifications) wait() {
	v.wg.Wait()
}

func (c *Calendar) startVerification(moved []domain.Workout, target time.Time) {
	monthKey := domain.MonthKey(target, c.loc)
	c.verifications.start(monthKey, func(ctx context.Context) {
		result, err := c.verify(ctx, moved, target)
		if err != nil {
			c.logger.Printf("verification superseded (month=%s): %v", monthKey, err)
			recordVerify("cancelled")
			return
		}
		c.heal(ctx, result)
		if c.onVerified != nil {
			c.onVerified(result)
		}
	})
}

// verify fetches target, +1 and -1 concurrently, retrying the whole triplet on any failure.
// It only returns an error when ctx is cancelled.
func (c *Calendar) verify(ctx context.Context, moved []domain.Workout, target time.Time) (VerifyResult, error) {
	result := VerifyResult{
		Target:        target,
		ExpectedIDs:   baseIDs(moved),
		Remapped:      make(map[string]string),
		ObservedDates: make(map[string]time.Time),
	}
	days := []time.Time{target, domain.AddDays(target, 1), domain.AddDays(target, -1)}

	var (
		serverDays [][]domain.Workout
		lastErr    error
	)
	for attempt := 0; ; attempt++ {
		serverDays, lastErr = c.fetchTriplet(ctx, days)
		if lastErr == nil {
			break
		}
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		if attempt >= len(c.backoff) {
			c.logger.Printf("verification fetch exhausted (target=%s, attempts=%d): %v", target.Format(domain.DayLayout), attempt+1, lastErr)
			result.ServerError = true
			return result, nil
		}
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		case <-time.After(c.backoff[attempt]):
		}
	}

	c.mu.Lock()
	known := make(map[string]struct{}, len(c.planned))
	for _, w := range c.planned {
		known[w.ID] = struct{}{}
	}
	c.mu.Unlock()
	for _, w := range moved {
		delete(known, w.ID)
	}

	match(&result, moved, serverDays, known)
	return result, nil
}

func (c *Calendar) fetchTriplet(ctx context.Context, days []time.Time) ([][]domain.Workout, error) {
	out := make([][]domain.Workout, len(days))
	g, gctx := errgroup.WithContext(ctx)
	for i, day := range days {
		g.Go(func() error {
			ws, err := c.source.FetchDay(gctx, day)
			if err != nil {
				return fmt.Errorf("day %s: %w", day.Format(domain.DayLayout), err)
			}
			for _, w := range ws {
				if domain.SameDay(w.Date, day, c.loc) {
					out[i] = append(out[i], w)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

type candidate struct {
	w    domain.Workout
	used bool
}

// match fills ObservedIDs, Remapped, ObservedDates and Missing. serverDays is ordered by
// priority (target, +1, -1). Server workouts whose id is known locally for something other
// than a moved workout are never used for attribute matches.
func match(result *VerifyResult, moved []domain.Workout, serverDays [][]domain.Workout, known map[string]struct{}) {
	var pool []*candidate
	observed := make(map[string]struct{})
	for _, day := range serverDays {
		for _, w := range day {
			pool = append(pool, &candidate{w: w})
			observed[w.BaseID()] = struct{}{}
		}
	}
	for id := range observed {
		result.ObservedIDs = append(result.ObservedIDs, id)
	}
	sort.Strings(result.ObservedIDs)

	var pending []domain.Workout
	for _, local := range moved {
		if _, ok := observed[local.BaseID()]; !ok {
			pending = append(pending, local)
			continue
		}
		if cand := identityCandidate(pool, local); cand != nil {
			cand.used = true
			result.ObservedDates[local.ID] = cand.w.Date
		}
	}

	free := func(cand *candidate) bool {
		if cand.used {
			return false
		}
		_, taken := known[cand.w.ID]
		return !taken
	}
	for _, exact := range []bool{true, false} {
		rest := pending[:0:0]
		for _, local := range pending {
			var found *candidate
			for _, cand := range pool {
				if !free(cand) || cand.w.Kind() != local.Kind() {
					continue
				}
				if exact && !local.SameShape(cand.w) {
					continue
				}
				found = cand
				break
			}
			if found == nil {
				rest = append(rest, local)
				continue
			}
			found.used = true
			result.Remapped[local.ID] = found.w.ID
			result.ObservedDates[local.ID] = found.w.Date
		}
		pending = rest
	}

	for _, local := range pending {
		result.Missing = append(result.Missing, local.ID)
	}
}

// identityCandidate picks the server workout that confirms local: same id first, then the
// same base id and kind, then any entry with the same base id.
func identityCandidate(pool []*candidate, local domain.Workout) *candidate {
	var sameKind, sameBase *candidate
	for _, cand := range pool {
		if cand.used || cand.w.BaseID() != local.BaseID() {
			continue
		}
		if cand.w.ID == local.ID {
			return cand
		}
		if sameKind == nil && cand.w.Kind() == local.Kind() {
			sameKind = cand
		}
		if sameBase == nil {
			sameBase = cand
		}
	}
	if sameKind != nil {
		return sameKind
	}
	return sameBase
}

// heal applies the verification outcome: id remaps first, then date corrections keyed by the
// remapped ids, then a forced reload when anything is still unaccounted for.
func (c *Calendar) heal(ctx context.Context, result VerifyResult) {
	if result.ServerError {
		recordVerify("server_error")
		c.forceReload(ctx, result)
		return
	}

	if len(result.Remapped) > 0 {
		c.applyRemap(result)
	}
	c.applyDateCorrections(result)

	if len(result.Missing) > 0 {
		recordVerify("reloaded")
		c.forceReload(ctx, result)
		return
	}
	if result.Healed() {
		recordVerify("healed")
		return
	}
	recordVerify("confirmed")
}

func (c *Calendar) applyRemap(result VerifyResult) {
	c.mu.Lock()
	present := make(map[string]struct{}, len(c.planned))
	for _, w := range c.planned {
		present[w.ID] = struct{}{}
	}
	kept := c.planned[:0]
	for _, w := range c.planned {
		if serverID, ok := result.Remapped[w.ID]; ok {
			if _, exists := present[serverID]; exists {
				continue
			}
			w.ID = serverID
			present[serverID] = struct{}{}
		}
		kept = append(kept, w)
	}
	c.planned = kept
	c.recomputeMarkersLocked()
	c.mu.Unlock()

	for _, monthKey := range c.neighbourMonths(result.Target) {
		err := c.store.Update(monthKey, func(env *domain.Envelope) bool {
			changed := false
			for localID, serverID := range result.Remapped {
				idx := env.Find(localID)
				if idx < 0 {
					continue
				}
				changed = true
				if env.Find(serverID) >= 0 {
					env.Remove(localID)
					continue
				}
				env.Workouts[idx].ID = serverID
			}
			return changed
		})
		if err != nil {
			c.logger.Printf("cache remap failed (month=%s): %v", monthKey, err)
		}
	}
	c.logger.Printf("remapped moved workouts (target=%s, remap=%v)", result.Target.Format(domain.DayLayout), result.Remapped)
}

// applyDateCorrections moves corrected workouts to the day the server has them on. Cache entries
// are carried over from the envelopes themselves, so a correction still lands when the calendar
// has switched to another month since the move; in-memory copies are only a fallback.
func (c *Calendar) applyDateCorrections(result VerifyResult) {
	corrections := make(map[string]time.Time)
	for localID, observed := range result.ObservedDates {
		if observed.Equal(result.Target) {
			continue
		}
		id := localID
		if serverID, ok := result.Remapped[localID]; ok {
			id = serverID
		}
		corrections[id] = domain.StartOfDay(observed, c.loc)
	}
	if len(corrections) == 0 {
		return
	}

	stamp := c.now().UTC()
	carried := make(map[string]domain.CachedWorkout, len(corrections))
	c.mu.Lock()
	for i := range c.planned {
		if day, ok := corrections[c.planned[i].ID]; ok {
			c.planned[i].Date = day
			carried[c.planned[i].ID] = domain.ToCached(c.planned[i], stamp)
		}
	}
	c.recomputeMarkersLocked()
	c.mu.Unlock()

	months := c.neighbourMonths(result.Target)
	placed := make(map[string]struct{}, len(corrections))
	for _, monthKey := range months {
		err := c.store.Update(monthKey, func(env *domain.Envelope) bool {
			changed := false
			for id, day := range corrections {
				idx := env.Find(id)
				if idx < 0 {
					continue
				}
				entry := env.Workouts[idx]
				entry.Date = day
				entry.UpdatedAt = stamp
				carried[id] = entry
				changed = true
				if domain.MonthKey(day, c.loc) == monthKey {
					env.Workouts[idx] = entry
					placed[id] = struct{}{}
					continue
				}
				env.Remove(id)
			}
			return changed
		})
		if err != nil {
			c.logger.Printf("cache date correction failed (month=%s): %v", monthKey, err)
		}
	}
	for _, monthKey := range months {
		err := c.store.Update(monthKey, func(env *domain.Envelope) bool {
			changed := false
			for id, day := range corrections {
				entry, ok := carried[id]
				if _, done := placed[id]; done || !ok || domain.MonthKey(day, c.loc) != monthKey {
					continue
				}
				env.Upsert(entry)
				changed = true
			}
			return changed
		})
		if err != nil {
			c.logger.Printf("cache date correction failed (month=%s): %v", monthKey, err)
		}
	}
	c.logger.Printf("corrected dates from server (target=%s, ids=%d)", result.Target.Format(domain.DayLayout), len(corrections))
}

func (c *Calendar) forceReload(ctx context.Context, result VerifyResult) {
	c.logger.Printf("forcing reload after verification (target=%s, missing=%v, server_error=%t)",
		result.Target.Format(domain.DayLayout), result.Missing, result.ServerError)
	c.mu.Lock()
	role := c.role
	c.mu.Unlock()
	if err := c.Reload(ctx, role); err != nil {
		c.logger.Printf("forced reload failed: %v", err)
	}
}

// neighbourMonths lists the month keys touched by target and its adjacent days.
func (c *Calendar) neighbourMonths(target time.Time) []string {
	var keys []string
	seen := make(map[string]struct{}, 3)
	for _, d := range []time.Time{target, domain.AddDays(target, 1), domain.AddDays(target, -1)} {
		k := domain.MonthKey(d, c.loc)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	return keys
}

func baseIDs(workouts []domain.Workout) []string {
	var out []string
	seen := make(map[string]struct{}, len(workouts))
	for _, w := range workouts {
		base := w.BaseID()
		if _, dup := seen[base]; dup {
			continue
		}
		seen[base] = struct{}{}
		out = append(out, base)
	}
	return out
}
