package planner

import (
	"context"
	"errors"
	"log"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/plannersync/internal/auth"
	"example.com/plannersync/internal/domain"
	"example.com/plannersync/internal/jsonvalue"
	"example.com/plannersync/internal/revalcache"
	"example.com/plannersync/internal/transport"
)

func date(month time.Month, day int) time.Time {
	return time.Date(2025, month, day, 0, 0, 0, 0, time.UTC)
}

func TestExpandSaunaProtocol(t *testing.T) {
	r := Record{ID: "X", Date: "2025-03-05", Activity: "sauna", Layers: domain.IntPtr(3), SwimLayers: []int{2, 1}}

	ws, err := Expand(r, time.UTC)
	require.NoError(t, err)
	require.Len(t, ws, 3)
	require.Equal(t, []string{"X|water1", "X|sauna", "X|water2"}, domain.IDs(ws))
	require.Equal(t, 2, *ws[0].PlannedLayers)
	require.Equal(t, 3, *ws[1].PlannedLayers)
	require.Equal(t, 1, *ws[2].PlannedLayers)
	for _, w := range ws {
		require.Equal(t, date(time.March, 5), w.Date)
		require.Equal(t, "X", w.BaseID())
	}
	require.Equal(t, domain.KindWater, ws[0].Kind())
	require.Equal(t, domain.KindSauna, ws[1].Kind())
}

func TestExpandClampsAndSkipsZeroParts(t *testing.T) {
	r := Record{ID: "X", Date: "2025-03-05", Activity: "Баня", Layers: domain.IntPtr(9), SwimLayers: []int{0, 7}}
	ws, err := Expand(r, time.UTC)
	require.NoError(t, err)
	require.Equal(t, []string{"X|sauna", "X|water2"}, domain.IDs(ws))
	require.Equal(t, MaxLayers, *ws[0].PlannedLayers)
	require.Equal(t, MaxLayers, *ws[1].PlannedLayers)
}

func TestExpandSingleEntryCases(t *testing.T) {
	cases := map[string]Record{
		"not sauna":           {ID: "R", Date: "2025-03-05", Activity: "run", Layers: domain.IntPtr(2)},
		"sauna without parts": {ID: "S", Date: "2025-03-05", Activity: "sauna"},
		"too many swims":      {ID: "T", Date: "2025-03-05", Activity: "sauna", SwimLayers: []int{1, 1, 1}},
		"all parts zero":      {ID: "Z", Date: "2025-03-05", Activity: "sauna", Layers: domain.IntPtr(0), SwimLayers: []int{0}},
		"no base id":          {Date: "2025-03-05", Activity: "sauna", Layers: domain.IntPtr(2)},
	}
	for name, r := range cases {
		ws, err := Expand(r, time.UTC)
		require.NoError(t, err, name)
		require.Len(t, ws, 1, name)
		require.Equal(t, r.BaseID(), ws[0].ID, name)
	}
}

func TestExpandRejectsBadDate(t *testing.T) {
	_, err := Expand(Record{ID: "a", Date: "soon"}, time.UTC)
	require.Error(t, err)
}

func TestRecordMinutesRoundsUp(t *testing.T) {
	hours := 1.01
	require.Equal(t, 61, Record{DurationHours: &hours}.Minutes())
	minutes := 29.2
	require.Equal(t, 30, Record{DurationMinutes: &minutes, DurationHours: &hours}.Minutes())
	require.Equal(t, 0, Record{}.Minutes())
}

func TestDecodeRecordsIsStrict(t *testing.T) {
	records, err := DecodeRecords([]byte(`[{"id":"a","date":"2025-03-05","metrics":{"hr":[120,140],"note":null}}]`))
	require.NoError(t, err)
	require.Len(t, records, 1)
	hr := records[0].Metrics["hr"]
	require.Equal(t, jsonvalue.Array, hr.Kind())

	_, err = DecodeRecords([]byte(`[{"id":"a","date":"2025-03-05","layerz":3}]`))
	require.ErrorIs(t, err, ErrDecode)

	_, err = DecodeRecords([]byte(`{"id":"a"}`))
	require.ErrorIs(t, err, ErrDecode)

	records, err = DecodeRecords(nil)
	require.NoError(t, err)
	require.Empty(t, records)
}

func TestDedupe(t *testing.T) {
	ws := []domain.Workout{
		{ID: "a", Name: "Run", Date: date(time.March, 5)},
		{ID: "a", Name: "Run (copy)", Date: date(time.March, 6)},
		{Name: "Yoga", Date: date(time.March, 5)},
		{Name: "yoga ", Date: date(time.March, 5)},
		{Name: "Yoga", Date: date(time.March, 6)},
	}
	out := Dedupe(ws)
	require.Len(t, out, 3)
	require.Equal(t, "Run", out[0].Name)
	// Distinct id-less workouts sharing day and name collapse into one.
	require.Equal(t, "Yoga", out[1].Name)
	require.Equal(t, date(time.March, 6), out[2].Date)
}

func TestSyncMonthNotModifiedKeepsCachedWorkouts(t *testing.T) {
	cached := &domain.Envelope{
		MonthKey: "2025-03",
		ETag:     "v1",
		Workouts: []domain.CachedWorkout{{ID: "a", Name: "Run", Date: date(time.March, 5)}},
	}

	for name, respond := range map[string]transport.FetchResponse{
		"304":                  {Status: http.StatusNotModified, NotModified: true, ETag: "v1"},
		"empty with same etag": {Status: http.StatusOK, Body: []byte(`[]`), ETag: "v1"},
	} {
		stub := &stubFetcher{respond: func(transport.FetchRequest) (transport.FetchResponse, error) { return respond, nil }}
		fetcher := newTestFetcher(t, stub)

		res, err := fetcher.SyncMonth(context.Background(), "2025-03", cached)
		require.NoError(t, err, name)
		require.True(t, res.NotModified, name)
		require.False(t, res.Stale, name)
		require.Equal(t, "v1", res.Envelope.ETag, name)
		require.Equal(t, cached.Workouts, res.Envelope.Workouts, name)
		require.Equal(t, "v1", stub.last().IfNoneMatch, name)

		visible := res.Envelope.Visible(time.UTC)
		require.Len(t, visible, 1, name)
		require.Equal(t, "a", visible[0].ID, name)
		require.Equal(t, date(time.March, 5), visible[0].Date, name)
	}
}

func TestSyncMonthReplacesAndSoftDeletes(t *testing.T) {
	cached := &domain.Envelope{
		MonthKey:       "2025-03",
		ETag:           "v1",
		Workouts:       []domain.CachedWorkout{{ID: "old", Date: date(time.March, 2)}},
		SoftDeletedIDs: []string{"revived"},
	}
	body := `[
		{"id":"a","date":"2025-03-05 00:00:00","activity":"run","duration_minutes":30},
		{"id":"revived","date":"2025-03-06","activity":"yoga"},
		{"id":"gone","date":"2025-03-07","activity":"sauna","layers":2,"swim_layers":[1],"is_deleted":true},
		{"id":"april","date":"2025-04-01","activity":"run"}
	]`
	stub := &stubFetcher{respond: func(transport.FetchRequest) (transport.FetchResponse, error) {
		return transport.FetchResponse{Status: http.StatusOK, Body: []byte(body), ETag: "v2"}, nil
	}}
	fetcher := newTestFetcher(t, stub)

	res, err := fetcher.SyncMonth(context.Background(), "2025-03", cached)
	require.NoError(t, err)
	require.False(t, res.NotModified)
	require.Equal(t, "v2", res.Envelope.ETag)

	ids := make([]string, 0, len(res.Envelope.Workouts))
	for _, w := range res.Envelope.Workouts {
		ids = append(ids, w.ID)
	}
	require.Equal(t, []string{"a", "revived"}, ids)
	require.Equal(t, []string{"gone", "gone|sauna", "gone|water1"}, res.Envelope.SoftDeletedIDs)
	require.Equal(t, 30, res.Envelope.Workouts[0].Duration)

	query := stub.last().Query
	require.Equal(t, "2025-03-01", query.Get("start_date"))
	require.Equal(t, "2025-03-31", query.Get("end_date"))
}

func TestSyncMonthNetworkFailureReturnsStaleCache(t *testing.T) {
	cached := &domain.Envelope{
		MonthKey: "2025-03",
		ETag:     "v1",
		Workouts: []domain.CachedWorkout{{ID: "a", Date: date(time.March, 5)}},
	}
	stub := &stubFetcher{respond: func(transport.FetchRequest) (transport.FetchResponse, error) {
		return transport.FetchResponse{}, errors.New("offline")
	}}
	res, err := newTestFetcher(t, stub).SyncMonth(context.Background(), "2025-03", cached)
	require.Error(t, err)
	require.True(t, res.Stale)
	require.Equal(t, cached.Workouts, res.Envelope.Workouts)
}

func TestSyncMonthWithoutIdentity(t *testing.T) {
	stub := &stubFetcher{}
	fetcher := NewFetcher(stub, auth.StaticIdentity(""), WithLogger(log.New(testWriter{t}, "", 0)))
	res, err := fetcher.SyncMonth(context.Background(), "2025-03", nil)
	require.ErrorIs(t, err, auth.ErrNoIdentity)
	require.True(t, res.Stale)
	require.Empty(t, stub.calls)
}

func TestFetchRangeFallsBackPerDayForPastDays(t *testing.T) {
	stub := &stubFetcher{respond: func(req transport.FetchRequest) (transport.FetchResponse, error) {
		start, end := req.Query.Get("start_date"), req.Query.Get("end_date")
		switch {
		case start != end:
			return ok(`[
				{"id":"a","date":"2025-03-01","name":"Run","activity":"run"},
				{"id":"b","date":"2025-03-05","name":"Yoga","activity":"yoga"}
			]`), nil
		case start == "2025-03-02":
			return ok(`[{"id":"c","date":"2025-03-02","activity":"water"},{"id":"stray","date":"2025-03-09","activity":"run"}]`), nil
		case start == "2025-03-03":
			return transport.FetchResponse{}, errors.New("timeout")
		default:
			return ok(`[]`), nil
		}
	}}
	cache := revalcache.New()
	fetcher := newTestFetcher(t, stub, WithCache(cache, time.Minute))

	ws, err := fetcher.FetchRange(context.Background(), date(time.March, 1), date(time.March, 5))
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"a", "b", "c"}, domain.IDs(ws))

	// range + days 02 and 03 (04 and 05 are after "today")
	require.Len(t, stub.calls, 3)

	_, err = fetcher.FetchRange(context.Background(), date(time.March, 1), date(time.March, 5))
	require.NoError(t, err)
	require.Len(t, stub.calls, 4, "cached range and day 02 are served from the cache; failed day 03 is retried")

	require.NoError(t, fetcher.InvalidateCache(context.Background()))
	_, err = fetcher.FetchRange(context.Background(), date(time.March, 1), date(time.March, 5))
	require.NoError(t, err)
	require.Len(t, stub.calls, 7)
}

func TestFetchRangeFailsWhenEverythingFails(t *testing.T) {
	stub := &stubFetcher{respond: func(transport.FetchRequest) (transport.FetchResponse, error) {
		return transport.FetchResponse{}, errors.New("offline")
	}}
	_, err := newTestFetcher(t, stub).FetchRange(context.Background(), date(time.March, 1), date(time.March, 2))
	require.Error(t, err)
}

func TestFetchRangeFutureOnlyNeedsNoFallback(t *testing.T) {
	stub := &stubFetcher{respond: func(transport.FetchRequest) (transport.FetchResponse, error) {
		return transport.FetchResponse{}, errors.New("offline")
	}}
	_, err := newTestFetcher(t, stub).FetchRange(context.Background(), date(time.March, 10), date(time.March, 12))
	require.Error(t, err)
	require.Len(t, stub.calls, 1)
}

func TestFetchDayFiltersToExactDay(t *testing.T) {
	stub := &stubFetcher{respond: func(transport.FetchRequest) (transport.FetchResponse, error) {
		return ok(`[{"id":"a","date":"2025-03-05","activity":"run"},{"id":"b","date":"2025-03-06","activity":"run"}]`), nil
	}}
	ws, err := newTestFetcher(t, stub).FetchDay(context.Background(), date(time.March, 5).Add(15*time.Hour))
	require.NoError(t, err)
	require.Equal(t, []string{"a"}, domain.IDs(ws))
	require.Equal(t, "2025-03-05", stub.last().Query.Get("start_date"))
}

func TestBuildFullPayloadGroupsProtocolEntries(t *testing.T) {
	to := date(time.March, 6)
	ws := []domain.Workout{
		{ID: "X|water1", ActivityType: "water", PlannedLayers: domain.IntPtr(2), Date: to},
		{ID: "X|sauna", ActivityType: "sauna", PlannedLayers: domain.IntPtr(3), Duration: 45, Date: to},
		{ID: "X|water2", ActivityType: "water", PlannedLayers: domain.IntPtr(1), Date: to},
		{ID: "R", Name: "Evening run", Duration: 40, Date: to},
	}
	payload := BuildFullPayload(ws, to, time.UTC)
	require.Len(t, payload, 2)

	require.Equal(t, FullMove{
		BaseID:          "X",
		Date:            "2025-03-06 00:00:00",
		Activity:        "sauna",
		Layers:          domain.IntPtr(3),
		SwimLayers:      []int{2, 1},
		DayOfWeek:       4,
		DurationMinutes: 45,
	}, payload[0])
	require.Equal(t, "run", payload[1].Activity)
	require.Equal(t, []int{}, payload[1].SwimLayers)
	require.Nil(t, payload[1].Layers)

	minimal := BuildMinimalPayload(ws, to, time.UTC)
	require.Equal(t, []MinimalMove{{BaseID: "X", Date: "2025-03-06 00:00:00"}, {BaseID: "R", Date: "2025-03-06 00:00:00"}}, minimal)
}

func TestMoveClientReportsStatusFailures(t *testing.T) {
	poster := &stubPoster{status: http.StatusInternalServerError}
	client := NewMoveClient(poster, auth.StaticIdentity("user 1"), time.UTC)
	ws := []domain.Workout{{ID: "a", Date: date(time.March, 6)}}

	require.Error(t, client.SubmitFull(context.Background(), ws, date(time.March, 6)))
	require.Equal(t, "/v1/users/user%201/planned-workouts/move", poster.path)
	_, isFull := poster.body.([]FullMove)
	require.True(t, isFull)

	poster.status = http.StatusNoContent
	require.NoError(t, client.SubmitMinimal(context.Background(), ws, date(time.March, 6)))
	_, isMinimal := poster.body.([]MinimalMove)
	require.True(t, isMinimal)

	require.ErrorIs(t, NewMoveClient(poster, auth.StaticIdentity(""), nil).SubmitMinimal(context.Background(), ws, date(time.March, 6)), auth.ErrNoIdentity)
}

func newTestFetcher(t *testing.T, client transport.Fetcher, opts ...Option) *Fetcher {
	t.Helper()
	base := []Option{
		WithLogger(log.New(testWriter{t}, "", 0)),
		WithClock(func() time.Time { return time.Date(2025, time.March, 3, 12, 0, 0, 0, time.UTC) }),
		WithFallbackConcurrency(2),
	}
	return NewFetcher(client, auth.StaticIdentity("user-1"), append(base, opts...)...)
}

func ok(body string) transport.FetchResponse {
	return transport.FetchResponse{Status: http.StatusOK, Body: []byte(body)}
}

type stubFetcher struct {
	mu      sync.Mutex
	calls   []transport.FetchRequest
	respond func(transport.FetchRequest) (transport.FetchResponse, error)
}

func (s *stubFetcher) FetchJSON(_ context.Context, req transport.FetchRequest) (transport.FetchResponse, error) {
	s.mu.Lock()
	s.calls = append(s.calls, req)
	s.mu.Unlock()
	if s.respond == nil {
		return ok(`[]`), nil
	}
	return s.respond(req)
}

func (s *stubFetcher) last() transport.FetchRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[len(s.calls)-1]
}

type stubPoster struct {
	status int
	path   string
	body   any
}

func (s *stubPoster) PostJSON(_ context.Context, path string, body any) (int, error) {
	s.path = path
	s.body = body
	return s.status, nil
}

type testWriter struct {
	t *testing.T
}

func (tw testWriter) Write(p []byte) (int, error) {
	tw.t.Log(string(p))
	return len(p), nil
}
