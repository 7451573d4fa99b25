package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/plannersync/internal/auth"
	"example.com/plannersync/internal/domain"
	"example.com/plannersync/internal/persistence/memory"
	"example.com/plannersync/internal/planner"
	"example.com/plannersync/internal/schedule"
)

type fixture struct {
	service *schedule.Service
	repo    *memory.Repository
	mux     *http.ServeMux
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := log.New(testWriter{t}, "", 0)
	repo := memory.NewRepository()
	service := schedule.NewService(repo, nil, schedule.WithLogger(logger))
	mux := http.NewServeMux()
	NewHandler(service, logger).RegisterRoutes(mux)
	return &fixture{service: service, repo: repo, mux: mux}
}

func (f *fixture) seed(t *testing.T, in schedule.PlanInput) schedule.PlannedWorkout {
	t.Helper()
	pw, err := f.service.Plan(context.Background(), in)
	require.NoError(t, err)
	return pw
}

func (f *fixture) do(req *http.Request, subject string, scopes ...string) *httptest.ResponseRecorder {
	if subject != "" {
		claims := &auth.Claims{Subject: subject, Scopes: map[string]struct{}{}, ExpiresAt: time.Now().Add(time.Hour)}
		for _, s := range scopes {
			claims.Scopes[s] = struct{}{}
		}
		req = req.WithContext(auth.WithClaims(req.Context(), claims))
	}
	rr := httptest.NewRecorder()
	f.mux.ServeHTTP(rr, req)
	return rr
}

func march(d int) time.Time {
	return time.Date(2025, time.March, d, 0, 0, 0, 0, time.UTC)
}

const plannerURL = "/v1/users/u1/planner?start_date=2025-03-01&end_date=2025-03-31"

func TestPlannerServesRecordsWithETag(t *testing.T) {
	f := newFixture(t)
	f.seed(t, schedule.PlanInput{UserID: "u1", ID: "p1", Date: march(4), Activity: "sauna", Layers: domain.IntPtr(3), SwimLayers: []int{2, 1}})
	f.seed(t, schedule.PlanInput{UserID: "u1", ID: "r1", Date: march(6), Activity: "run", DurationMinutes: 45})
	f.seed(t, schedule.PlanInput{UserID: "u2", ID: "other", Date: march(6), Activity: "run"})

	rr := f.do(httptest.NewRequest(http.MethodGet, plannerURL, nil), "u1", auth.ScopePlannerRead)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	etag := rr.Header().Get("ETag")
	require.True(t, strings.HasPrefix(etag, `"`) && strings.HasSuffix(etag, `"`))

	records, err := planner.DecodeRecords(rr.Body.Bytes())
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, "p1", records[0].ID)
	require.Equal(t, "2025-03-04", records[0].Date)
	require.Equal(t, []int{2, 1}, records[0].SwimLayers)
	require.Equal(t, 45, records[1].Minutes())

	req := httptest.NewRequest(http.MethodGet, plannerURL, nil)
	req.Header.Set("If-None-Match", etag)
	rr = f.do(req, "u1", auth.ScopePlannerRead)
	require.Equal(t, http.StatusNotModified, rr.Code)
	require.Empty(t, rr.Body.Bytes())
	require.Equal(t, etag, rr.Header().Get("ETag"))

	_, err = f.service.Move(context.Background(), "u1", []schedule.Move{{BaseID: "r1", Date: march(7)}})
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodGet, plannerURL, nil)
	req.Header.Set("If-None-Match", etag)
	rr = f.do(req, "u1", auth.ScopePlannerRead)
	require.Equal(t, http.StatusOK, rr.Code)
	require.NotEqual(t, etag, rr.Header().Get("ETag"))
}

func TestPlannerAuthorization(t *testing.T) {
	f := newFixture(t)

	rr := f.do(httptest.NewRequest(http.MethodGet, plannerURL, nil), "")
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = f.do(httptest.NewRequest(http.MethodGet, plannerURL, nil), "u2", auth.ScopePlannerRead)
	require.Equal(t, http.StatusForbidden, rr.Code)

	rr = f.do(httptest.NewRequest(http.MethodGet, plannerURL, nil), "u1")
	require.Equal(t, http.StatusForbidden, rr.Code)

	rr = f.do(httptest.NewRequest(http.MethodGet, plannerURL, nil), "u1", auth.ScopePlannerWrite)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "[]", strings.TrimSpace(rr.Body.String()))
}

func TestPlannerValidatesRange(t *testing.T) {
	f := newFixture(t)
	for _, target := range []string{
		"/v1/users/u1/planner?end_date=2025-03-31",
		"/v1/users/u1/planner?start_date=March&end_date=2025-03-31",
		"/v1/users/u1/planner?start_date=2025-03-31&end_date=2025-03-01",
	} {
		rr := f.do(httptest.NewRequest(http.MethodGet, target, nil), "u1", auth.ScopePlannerRead)
		require.Equal(t, http.StatusBadRequest, rr.Code, target)
	}

	rr := f.do(httptest.NewRequest(http.MethodPost, plannerURL, nil), "u1", auth.ScopePlannerRead)
	require.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestMoveAcceptsFullAndMinimalPayloads(t *testing.T) {
	f := newFixture(t)
	f.seed(t, schedule.PlanInput{UserID: "u1", ID: "p1", Date: march(4), Activity: "sauna", Layers: domain.IntPtr(3)})
	f.seed(t, schedule.PlanInput{UserID: "u1", ID: "r1", Date: march(6), Activity: "run"})

	full := `[{"base_id":"p1","date":"2025-03-05 00:00:00","activity":"sauna","layers":3,"swim_layers":[2,1],"day_of_week":3,"duration_minutes":60,"is_deleted":false}]`
	rr := f.do(httptest.NewRequest(http.MethodPost, "/v1/users/u1/planned-workouts/move", strings.NewReader(full)), "u1", auth.ScopePlannerWrite)
	require.Equal(t, http.StatusNoContent, rr.Code, rr.Body.String())

	minimal := `[{"base_id":"r1","date":"2025-03-07 00:00:00"}]`
	rr = f.do(httptest.NewRequest(http.MethodPost, "/v1/users/u1/planned-workouts/move", strings.NewReader(minimal)), "u1", auth.ScopePlannerWrite)
	require.Equal(t, http.StatusNoContent, rr.Code, rr.Body.String())

	got, err := f.repo.ListRange(context.Background(), "u1", march(1), march(31))
	require.NoError(t, err)
	require.Equal(t, march(5), got[0].Date)
	require.Equal(t, march(7), got[1].Date)
}

func TestMoveErrors(t *testing.T) {
	f := newFixture(t)
	f.seed(t, schedule.PlanInput{UserID: "u1", ID: "r1", Date: march(6), Activity: "run"})

	cases := []struct {
		name   string
		body   string
		scopes []string
		status int
	}{
		{"unknown base id", `[{"base_id":"nope","date":"2025-03-07"}]`, []string{auth.ScopePlannerWrite}, http.StatusNotFound},
		{"malformed json", `[{"base_id":`, []string{auth.ScopePlannerWrite}, http.StatusBadRequest},
		{"unknown field", `[{"base_id":"r1","date":"2025-03-07","when":"now"}]`, []string{auth.ScopePlannerWrite}, http.StatusBadRequest},
		{"empty batch", `[]`, []string{auth.ScopePlannerWrite}, http.StatusBadRequest},
		{"bad date", `[{"base_id":"r1","date":"7 March"}]`, []string{auth.ScopePlannerWrite}, http.StatusBadRequest},
		{"weekday mismatch", `[{"base_id":"r1","date":"2025-03-07","day_of_week":1}]`, []string{auth.ScopePlannerWrite}, http.StatusBadRequest},
		{"read only", `[{"base_id":"r1","date":"2025-03-07"}]`, []string{auth.ScopePlannerRead}, http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/v1/users/u1/planned-workouts/move", strings.NewReader(tc.body))
			rr := f.do(req, "u1", tc.scopes...)
			require.Equal(t, tc.status, rr.Code, rr.Body.String())

			var payload map[string]string
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &payload))
			require.NotEmpty(t, payload["type"])
		})
	}

	got, _ := f.repo.ListRange(context.Background(), "u1", march(1), march(31))
	require.Equal(t, march(6), got[0].Date)
}

func TestPlanAndDelete(t *testing.T) {
	f := newFixture(t)

	body := `{"date":"2025-03-10","activity":"yoga","duration_minutes":30}`
	rr := f.do(httptest.NewRequest(http.MethodPost, "/v1/users/u1/planned-workouts", strings.NewReader(body)), "u1", auth.ScopePlannerWrite)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	var created planner.Record
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &created))
	require.NotEmpty(t, created.ID)
	require.Equal(t, "2025-03-10", created.Date)

	rr = f.do(httptest.NewRequest(http.MethodDelete, "/v1/users/u1/planned-workouts/"+created.ID, nil), "u1", auth.ScopePlannerWrite)
	require.Equal(t, http.StatusNoContent, rr.Code)

	rr = f.do(httptest.NewRequest(http.MethodDelete, "/v1/users/u1/planned-workouts/"+created.ID, nil), "u1", auth.ScopePlannerWrite)
	require.Equal(t, http.StatusNotFound, rr.Code)

	rr = f.do(httptest.NewRequest(http.MethodGet, plannerURL, nil), "u1", auth.ScopePlannerRead)
	records, err := planner.DecodeRecords(rr.Body.Bytes())
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.True(t, records[0].IsDeleted)
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)
	rr := f.do(httptest.NewRequest(http.MethodGet, "/healthz", nil), "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "ok", rr.Body.String())
}

func TestETagMatching(t *testing.T) {
	require.True(t, etagMatches(`"abc"`, `"abc"`))
	require.True(t, etagMatches(`"x", W/"abc"`, `"abc"`))
	require.True(t, etagMatches(`*`, `"abc"`))
	require.False(t, etagMatches(``, `"abc"`))
	require.False(t, etagMatches(`"abd"`, `"abc"`))
}

type testWriter struct {
	t *testing.T
}

func (tw testWriter) Write(p []byte) (int, error) {
	tw.t.Log(string(p))
	return len(p), nil
}
