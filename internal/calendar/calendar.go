// Package calendar owns the planned-workout state shown in the monthly calendar. It
// serves cached months offline, gates moves through the drop rules, applies them
// optimistically and reconciles them with the planner afterwards.
package calendar

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"example.com/plannersync/internal/domain"
	"example.com/plannersync/internal/planner"
)

// Role selects what the current user may do with the calendar.
type Role int

const (
	// RoleOwner may view and reschedule.
	RoleOwner Role = iota
	// RoleViewer sees the calendar read-only.
	RoleViewer
)

func (r Role) String() string {
	switch r {
	case RoleOwner:
		return "owner"
	case RoleViewer:
		return "viewer"
	default:
		return fmt.Sprintf("role(%d)", int(r))
	}
}

var (
	// ErrNothingToMove is returned when none of the requested ids can be moved.
	ErrNothingToMove = errors.New("nothing to move")
	// ErrReadOnly is returned when a viewer attempts a mutation.
	ErrReadOnly = errors.New("calendar is read-only for this role")
)

// Store is the month envelope persistence the calendar writes through.
type Store interface {
	Load(monthKey string) (*domain.Envelope, bool)
	Update(monthKey string, fn func(env *domain.Envelope) bool) error
}

// Source reads planner state from the server.
type Source interface {
	FetchRange(ctx context.Context, start, end time.Time) ([]domain.Workout, error)
	FetchDay(ctx context.Context, day time.Time) ([]domain.Workout, error)
	SyncMonth(ctx context.Context, monthKey string, cached *domain.Envelope) (planner.SyncResult, error)
	InvalidateCache(ctx context.Context) error
}

// Submitter sends moves to the server.
type Submitter interface {
	SubmitFull(ctx context.Context, workouts []domain.Workout, to time.Time) error
	SubmitMinimal(ctx context.Context, workouts []domain.Workout, to time.Time) error
}

// Item is one calendar cell entry.
type Item struct {
	Workout domain.Workout
	Kind    domain.ActivityKind
}

// Option configures optional behaviour for the Calendar.
type Option func(*Calendar)

// WithLogger overrides the logger.
func WithLogger(logger *log.Logger) Option {
	return func(c *Calendar) {
		c.logger = logger
	}
}

// WithLocation sets the time zone days are anchored in.
func WithLocation(loc *time.Location) Option {
	return func(c *Calendar) {
		if loc != nil {
			c.loc = loc
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Calendar) {
		c.now = now
	}
}

// WithMonth sets the month displayed before the first Reload.
func WithMonth(month time.Time) Option {
	return func(c *Calendar) {
		c.month = month
	}
}

// WithVerifyBackoff sets the delays between verification attempts. The number of retries
// equals the number of delays.
func WithVerifyBackoff(delays []time.Duration) Option {
	return func(c *Calendar) {
		c.backoff = append([]time.Duration(nil), delays...)
	}
}

// WithVerifiedHook registers a callback invoked after each completed verification and its healing.
func WithVerifiedHook(fn func(VerifyResult)) Option {
	return func(c *Calendar) {
		c.onVerified = fn
	}
}

// Calendar is the state behind one user's month view.
type Calendar struct {
	store     Store
	source    Source
	submitter Submitter

	loc        *time.Location
	now        func() time.Time
	backoff    []time.Duration
	onVerified func(VerifyResult)
	logger     *log.Logger

	mu      sync.Mutex
	month   time.Time
	role    Role
	stale   bool
	planned []domain.Workout
	markers map[string][]domain.ActivityKind

	verifications *verifications
}

// New constructs a Calendar showing the current month.
func New(store Store, source Source, submitter Submitter, opts ...Option) *Calendar {
	c := &Calendar{
		store:     store,
		source:    source,
		submitter: submitter,
		loc:       time.UTC,
		now:       time.Now,
		backoff:   []time.Duration{250 * time.Millisecond, 500 * time.Millisecond, time.Second},
		logger:    log.New(log.Writer(), "[calendar] ", log.LstdFlags|log.Lshortfile),
		markers:   make(map[string][]domain.ActivityKind),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.month.IsZero() {
		c.month = c.now()
	}
	c.month, _ = domain.MonthBounds(c.month, c.loc)
	c.verifications = newVerifications()
	return c
}

// ShowMonth switches the displayed month and reloads it.
func (c *Calendar) ShowMonth(ctx context.Context, month time.Time, role Role) error {
	first, _ := domain.MonthBounds(month, c.loc)
	c.mu.Lock()
	c.month = first
	c.mu.Unlock()
	return c.Reload(ctx, role)
}

// Month returns the first day of the displayed month.
func (c *Calendar) Month() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.month
}

// Stale reports whether the last reload could not reach the server.
func (c *Calendar) Stale() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stale
}

// Reload publishes cached envelopes for the visible grid immediately, then revalidates the
// displayed month with a conditional fetch and loads the spill-over days of the neighbouring
// months with a range query. Network failures keep the cached state; an error is returned
// only when nothing was cached for the displayed month.
func (c *Calendar) Reload(ctx context.Context, role Role) error {
	c.mu.Lock()
	c.role = role
	month := c.month
	c.mu.Unlock()

	monthKey := domain.MonthKey(month, c.loc)
	first, last := domain.MonthBounds(month, c.loc)
	gridStart, gridEnd := domain.GridBounds(month, c.loc)

	cached := c.cachedGrid(gridStart, gridEnd)
	c.publish(month, cached, false)

	env, hasCache := c.store.Load(monthKey)
	res, syncErr := c.source.SyncMonth(ctx, monthKey, env)
	if syncErr == nil {
		c.persistSync(monthKey, res)
	} else {
		c.logger.Printf("month sync failed, serving cache (month=%s, cached=%t): %v", monthKey, hasCache, syncErr)
	}
	merged := filterRange(res.Envelope.Visible(c.loc), first, last)

	for _, span := range spillSpans(gridStart, first, last, gridEnd) {
		ws, err := c.source.FetchRange(ctx, span[0], span[1])
		if err != nil {
			c.logger.Printf("spill range fetch failed, serving cache (start=%s, end=%s): %v",
				span[0].Format(domain.DayLayout), span[1].Format(domain.DayLayout), err)
			ws = filterRange(cached, span[0], span[1])
		}
		merged = append(merged, ws...)
	}

	c.publish(month, planner.Dedupe(merged), syncErr != nil)
	if syncErr != nil && !hasCache {
		return fmt.Errorf("reload %s: %w", monthKey, syncErr)
	}
	return nil
}

// Items lists the calendar entries for a day, ordered by activity kind then name.
func (c *Calendar) Items(day time.Time) []Item {
	workouts := c.PlannedWorkouts(day)
	items := make([]Item, 0, len(workouts))
	for _, w := range workouts {
		items = append(items, Item{Workout: w, Kind: w.Kind()})
	}
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Kind != items[j].Kind {
			return items[i].Kind.Less(items[j].Kind)
		}
		return items[i].Workout.Name < items[j].Workout.Name
	})
	return items
}

// PlannedWorkouts returns copies of the workouts planned on day.
func (c *Calendar) PlannedWorkouts(day time.Time) []domain.Workout {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.onDayLocked(day)
}

// WorkoutsByIDs returns copies of the known workouts with the given ids, in request order.
// Unknown ids are skipped.
func (c *Calendar) WorkoutsByIDs(ids []string) []domain.Workout {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.byIDsLocked(ids)
}

// Markers returns the activity kinds per day key ("yyyy-MM-dd") for the visible grid.
func (c *Calendar) Markers() map[string][]domain.ActivityKind {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string][]domain.ActivityKind, len(c.markers))
	for k, v := range c.markers {
		out[k] = append([]domain.ActivityKind(nil), v...)
	}
	return out
}

// ValidateDraggedIDs reports which ids may be dropped on to, and the first rule violation met.
func (c *Calendar) ValidateDraggedIDs(ids []string, to time.Time) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.validateLocked(ids, domain.StartOfDay(to, c.loc))
}

// WaitVerifications blocks until every background verification has finished.
func (c *Calendar) WaitVerifications() {
	c.verifications.wait()
}

// Close cancels in-flight verifications and waits for them to exit.
func (c *Calendar) Close() {
	c.verifications.cancelAll()
	c.verifications.wait()
}

func (c *Calendar) publish(month time.Time, workouts []domain.Workout, stale bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.month.Equal(month) {
		return
	}
	c.planned = make([]domain.Workout, 0, len(workouts))
	for _, w := range workouts {
		w = w.Clone()
		w.Date = domain.StartOfDay(w.Date, c.loc)
		c.planned = append(c.planned, w)
	}
	c.stale = stale
	c.recomputeMarkersLocked()
}

func (c *Calendar) persistSync(monthKey string, res planner.SyncResult) {
	err := c.store.Update(monthKey, func(env *domain.Envelope) bool {
		if res.NotModified {
			env.FetchedAt = res.Envelope.FetchedAt
			return true
		}
		*env = res.Envelope
		return true
	})
	if err != nil {
		c.logger.Printf("persist month failed (month=%s): %v", monthKey, err)
	}
}

// cachedGrid reads every cached month overlapping the grid.
func (c *Calendar) cachedGrid(start, end time.Time) []domain.Workout {
	var out []domain.Workout
	for m, _ := domain.MonthBounds(start, c.loc); !m.After(end); m = m.AddDate(0, 1, 0) {
		env, ok := c.store.Load(domain.MonthKey(m, c.loc))
		if !ok {
			continue
		}
		out = append(out, env.Visible(c.loc)...)
	}
	return planner.Dedupe(filterRange(out, start, end))
}

func (c *Calendar) recomputeMarkersLocked() {
	markers := make(map[string][]domain.ActivityKind)
	seen := make(map[string]map[domain.ActivityKind]struct{})
	for _, w := range c.planned {
		key := domain.DayKey(w.Date, c.loc)
		kind := w.Kind()
		if seen[key] == nil {
			seen[key] = make(map[domain.ActivityKind]struct{})
		}
		if _, dup := seen[key][kind]; dup {
			continue
		}
		seen[key][kind] = struct{}{}
		markers[key] = append(markers[key], kind)
	}
	for _, kinds := range markers {
		sort.Slice(kinds, func(i, j int) bool { return kinds[i].Less(kinds[j]) })
	}
	c.markers = markers
}

func (c *Calendar) onDayLocked(day time.Time) []domain.Workout {
	var out []domain.Workout
	for _, w := range c.planned {
		if domain.SameDay(w.Date, day, c.loc) {
			out = append(out, w.Clone())
		}
	}
	return out
}

func (c *Calendar) byIDsLocked(ids []string) []domain.Workout {
	index := make(map[string]int, len(c.planned))
	for i, w := range c.planned {
		index[w.ID] = i
	}
	out := make([]domain.Workout, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if i, ok := index[id]; ok {
			out = append(out, c.planned[i].Clone())
		}
	}
	return out
}

func filterRange(workouts []domain.Workout, start, end time.Time) []domain.Workout {
	var out []domain.Workout
	for _, w := range workouts {
		if w.Date.Before(start) || w.Date.After(end) {
			continue
		}
		out = append(out, w)
	}
	return out
}

// spillSpans returns the grid days before and after the month as [start, end] pairs.
func spillSpans(gridStart, first, last, gridEnd time.Time) [][2]time.Time {
	var spans [][2]time.Time
	if gridStart.Before(first) {
		spans = append(spans, [2]time.Time{gridStart, domain.AddDays(first, -1)})
	}
	if gridEnd.After(last) {
		spans = append(spans, [2]time.Time{domain.AddDays(last, 1), gridEnd})
	}
	return spans
}
