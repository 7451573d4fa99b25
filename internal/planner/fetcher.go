package planner

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"example.com/plannersync/internal/auth"
	"example.com/plannersync/internal/domain"
	"example.com/plannersync/internal/revalcache"
	"example.com/plannersync/internal/transport"
)

// ResponseCache is the subset of the revalidation cache the fetcher relies on.
type ResponseCache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Put(ctx context.Context, key string, body []byte, ttl time.Duration)
	InvalidateAll(ctx context.Context) error
}

// Option configures optional behaviour for the Fetcher.
type Option func(*Fetcher)

// WithLogger overrides the logger used to report degraded fetches.
func WithLogger(logger *log.Logger) Option {
	return func(f *Fetcher) {
		f.logger = logger
	}
}

// WithCache routes range and fallback queries through a revalidation cache.
func WithCache(cache ResponseCache, ttl time.Duration) Option {
	return func(f *Fetcher) {
		f.cache = cache
		f.ttl = ttl
	}
}

// WithClock overrides the time source used for "today" and FetchedAt stamps.
func WithClock(now func() time.Time) Option {
	return func(f *Fetcher) {
		f.now = now
	}
}

// WithLocation sets the calendar time zone.
func WithLocation(loc *time.Location) Option {
	return func(f *Fetcher) {
		if loc != nil {
			f.loc = loc
		}
	}
}

// WithFallbackConcurrency bounds the number of parallel per-day fallback queries.
func WithFallbackConcurrency(n int) Option {
	return func(f *Fetcher) {
		if n > 0 {
			f.fallbackLimit = n
		}
	}
}

// Fetcher reads planned workouts for a user from the planner API.
type Fetcher struct {
	client        transport.Fetcher
	identity      auth.Identity
	cache         ResponseCache
	ttl           time.Duration
	now           func() time.Time
	loc           *time.Location
	fallbackLimit int
	logger        *log.Logger
}

// NewFetcher constructs a Fetcher. Without WithCache every query goes to the network.
func NewFetcher(client transport.Fetcher, identity auth.Identity, opts ...Option) *Fetcher {
	f := &Fetcher{
		client:        client,
		identity:      identity,
		now:           time.Now,
		loc:           time.UTC,
		fallbackLimit: 4,
		logger:        log.New(log.Writer(), "[planner] ", log.LstdFlags|log.Lshortfile),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Location reports the calendar time zone used to anchor dates.
func (f *Fetcher) Location() *time.Location {
	return f.loc
}

// FetchRange returns the visible workouts between start and end inclusive. The range query
// goes through the cache; days at or before today that the range result did not cover are
// queried individually and merged by id, later values winning.
func (f *Fetcher) FetchRange(ctx context.Context, start, end time.Time) ([]domain.Workout, error) {
	uid, ok := f.identity.CurrentUserIdentity()
	if !ok {
		return nil, auth.ErrNoIdentity
	}
	start, end = domain.StartOfDay(start, f.loc), domain.StartOfDay(end, f.loc)
	if end.Before(start) {
		return nil, fmt.Errorf("invalid range %s..%s", start.Format(domain.DayLayout), end.Format(domain.DayLayout))
	}

	records, rangeErr := f.cachedRecords(ctx, plannerRequest(uid, start, end))
	if rangeErr != nil {
		f.logger.Printf("range fetch failed, falling back to per-day queries (start=%s, end=%s): %v",
			start.Format(domain.DayLayout), end.Format(domain.DayLayout), rangeErr)
	}
	workouts, expandErr := ExpandAll(visible(records), f.loc)
	if expandErr != nil {
		f.logger.Printf("skipped malformed records: %v", expandErr)
	}

	covered := make(map[string]struct{})
	for _, r := range records {
		if day, err := domain.ParseDay(r.Date, f.loc); err == nil {
			covered[day.Format(domain.DayLayout)] = struct{}{}
		}
	}

	today := domain.StartOfDay(f.now(), f.loc)
	var missing []time.Time
	for day := start; !day.After(end) && !day.After(today); day = domain.AddDays(day, 1) {
		if _, ok := covered[day.Format(domain.DayLayout)]; !ok {
			missing = append(missing, day)
		}
	}

	if len(missing) > 0 {
		perDay, failed := f.fetchDays(ctx, uid, missing)
		if rangeErr != nil && failed == len(missing) {
			return nil, fmt.Errorf("fetch planner range: %w", rangeErr)
		}
		workouts = mergeByID(workouts, perDay)
	} else if rangeErr != nil {
		return nil, fmt.Errorf("fetch planner range: %w", rangeErr)
	}

	return inRange(Dedupe(workouts), start, end), nil
}

// FetchDay queries a single day directly, bypassing the cache. Results are filtered to that
// exact day.
func (f *Fetcher) FetchDay(ctx context.Context, day time.Time) ([]domain.Workout, error) {
	uid, ok := f.identity.CurrentUserIdentity()
	if !ok {
		return nil, auth.ErrNoIdentity
	}
	day = domain.StartOfDay(day, f.loc)
	resp, err := f.client.FetchJSON(ctx, plannerRequest(uid, day, day))
	if err != nil {
		return nil, fmt.Errorf("fetch planner day %s: %w", day.Format(domain.DayLayout), err)
	}
	records, err := DecodeRecords(resp.Body)
	if err != nil {
		return nil, err
	}
	workouts, err := ExpandAll(visible(records), f.loc)
	if err != nil {
		f.logger.Printf("skipped malformed records (day=%s): %v", day.Format(domain.DayLayout), err)
	}
	return inRange(Dedupe(workouts), day, day), nil
}

// SyncResult is the outcome of a conditional month fetch.
type SyncResult struct {
	Envelope    domain.Envelope
	NotModified bool
	// Stale is set when the network failed and Envelope holds the last known state.
	Stale bool
}

// SyncMonth revalidates a month against the server using the cached etag. A not-modified
// answer (304, or an empty result carrying the unchanged etag) keeps the cached workouts.
// Any other answer replaces them. On network failure the cached envelope is returned
// with Stale set together with the error.
func (f *Fetcher) SyncMonth(ctx context.Context, monthKey string, cached *domain.Envelope) (SyncResult, error) {
	first, err := domain.ParseMonthKey(monthKey, f.loc)
	if err != nil {
		return SyncResult{}, err
	}
	last := domain.AddDays(first.AddDate(0, 1, 0), -1)

	previous := domain.Envelope{MonthKey: monthKey}
	if cached != nil {
		previous = *cached
		previous.MonthKey = monthKey
	}

	uid, ok := f.identity.CurrentUserIdentity()
	if !ok {
		return SyncResult{Envelope: previous, Stale: true}, auth.ErrNoIdentity
	}

	req := plannerRequest(uid, first, last)
	req.IfNoneMatch = previous.ETag
	resp, err := f.client.FetchJSON(ctx, req)
	if err != nil {
		recordSync("stale")
		return SyncResult{Envelope: previous, Stale: true}, fmt.Errorf("sync month %s: %w", monthKey, err)
	}

	now := f.now().UTC()
	if resp.NotModified {
		previous.FetchedAt = now
		recordSync("not_modified")
		return SyncResult{Envelope: previous, NotModified: true}, nil
	}

	records, err := DecodeRecords(resp.Body)
	if err != nil {
		recordSync("stale")
		return SyncResult{Envelope: previous, Stale: true}, fmt.Errorf("sync month %s: %w", monthKey, err)
	}
	if len(records) == 0 && resp.ETag != "" && resp.ETag == previous.ETag {
		previous.FetchedAt = now
		recordSync("not_modified")
		return SyncResult{Envelope: previous, NotModified: true}, nil
	}

	live, deleted := splitDeleted(records)
	workouts, expandErr := ExpandAll(live, f.loc)
	if expandErr != nil {
		f.logger.Printf("skipped malformed records (month=%s): %v", monthKey, expandErr)
	}
	workouts = inRange(Dedupe(workouts), first, last)

	next := domain.Envelope{
		MonthKey:       monthKey,
		FetchedAt:      now,
		ETag:           resp.ETag,
		Workouts:       make([]domain.CachedWorkout, 0, len(workouts)),
		SoftDeletedIDs: f.softDeletedIDs(previous.SoftDeletedIDs, deleted, workouts),
	}
	for _, w := range workouts {
		next.Workouts = append(next.Workouts, domain.ToCached(w, now))
	}
	next.Normalize()
	recordSync("replaced")
	return SyncResult{Envelope: next}, nil
}

// InvalidateCache drops every revalidation entry so the next range fetch hits the network.
func (f *Fetcher) InvalidateCache(ctx context.Context) error {
	if f.cache == nil {
		return nil
	}
	return f.cache.InvalidateAll(ctx)
}

func (f *Fetcher) cachedRecords(ctx context.Context, req transport.FetchRequest) ([]Record, error) {
	key := revalcache.Key("GET", req.URL(), nil, nil)
	if f.cache != nil {
		if body, ok := f.cache.Get(ctx, key); ok {
			records, err := DecodeRecords(body)
			if err == nil {
				return records, nil
			}
			f.logger.Printf("ignoring undecodable cached response (path=%s): %v", req.Path, err)
		}
	}

	resp, err := f.client.FetchJSON(ctx, req)
	if err != nil {
		return nil, err
	}
	records, err := DecodeRecords(resp.Body)
	if err != nil {
		return nil, err
	}
	if f.cache != nil && f.ttl > 0 {
		f.cache.Put(ctx, key, resp.Body, f.ttl)
	}
	return records, nil
}

// fetchDays runs the per-day fallback with bounded concurrency. Failures are logged and
// counted; the merged result keeps the order of days.
func (f *Fetcher) fetchDays(ctx context.Context, uid string, days []time.Time) ([]domain.Workout, int) {
	results := make([][]domain.Workout, len(days))
	var (
		mu     sync.Mutex
		failed int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.fallbackLimit)
	for i, day := range days {
		g.Go(func() error {
			records, err := f.cachedRecords(gctx, plannerRequest(uid, day, day))
			if err != nil {
				f.logger.Printf("day fallback failed (day=%s): %v", day.Format(domain.DayLayout), err)
				recordFallback("error")
				mu.Lock()
				failed++
				mu.Unlock()
				return nil
			}
			workouts, err := ExpandAll(visible(records), f.loc)
			if err != nil {
				f.logger.Printf("skipped malformed records (day=%s): %v", day.Format(domain.DayLayout), err)
			}
			results[i] = inRange(workouts, day, day)
			recordFallback("ok")
			return nil
		})
	}
	_ = g.Wait()

	var out []domain.Workout
	for _, ws := range results {
		out = append(out, ws...)
	}
	return out, failed
}

func (f *Fetcher) softDeletedIDs(previous []string, deleted []Record, live []domain.Workout) []string {
	liveIDs := make(map[string]struct{}, len(live))
	for _, w := range live {
		liveIDs[w.ID] = struct{}{}
	}
	set := make(map[string]struct{})
	for _, id := range previous {
		set[id] = struct{}{}
	}
	for _, r := range deleted {
		if base := r.BaseID(); base != "" {
			set[base] = struct{}{}
		}
		ws, err := Expand(r, f.loc)
		if err != nil {
			continue
		}
		for _, w := range ws {
			if w.ID != "" {
				set[w.ID] = struct{}{}
			}
		}
	}
	out := make([]string, 0, len(set))
	for id := range set {
		if _, ok := liveIDs[id]; !ok {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

func plannerRequest(uid string, start, end time.Time) transport.FetchRequest {
	return transport.FetchRequest{
		Path: "/v1/users/" + url.PathEscape(uid) + "/planner",
		Query: url.Values{
			"start_date": {start.Format(domain.DayLayout)},
			"end_date":   {end.Format(domain.DayLayout)},
		},
	}
}

func splitDeleted(records []Record) (live, deleted []Record) {
	for _, r := range records {
		if r.IsDeleted {
			deleted = append(deleted, r)
			continue
		}
		live = append(live, r)
	}
	return live, deleted
}

func visible(records []Record) []Record {
	live, _ := splitDeleted(records)
	return live
}

// mergeByID overlays later on earlier by id, keeping first-seen order. Id-less workouts
// are appended and left to Dedupe.
func mergeByID(earlier, later []domain.Workout) []domain.Workout {
	out := make([]domain.Workout, 0, len(earlier)+len(later))
	index := make(map[string]int, len(earlier)+len(later))
	for _, set := range [][]domain.Workout{earlier, later} {
		for _, w := range set {
			if w.ID == "" {
				out = append(out, w)
				continue
			}
			if i, ok := index[w.ID]; ok {
				out[i] = w
				continue
			}
			index[w.ID] = len(out)
			out = append(out, w)
		}
	}
	return out
}

func inRange(workouts []domain.Workout, start, end time.Time) []domain.Workout {
	out := workouts[:0:0]
	for _, w := range workouts {
		if w.Date.Before(start) || w.Date.After(end) {
			continue
		}
		out = append(out, w)
	}
	return out
}
