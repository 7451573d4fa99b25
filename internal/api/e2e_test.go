package api

import (
	"context"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/plannersync/internal/auth"
	"example.com/plannersync/internal/domain"
	"example.com/plannersync/internal/planner"
	"example.com/plannersync/internal/schedule"
	httptransport "example.com/plannersync/internal/transport/http"
)

// TestClientServerRoundTrip drives the planner client against the real handlers behind the
// JWT middleware: conditional month sync, a protocol move, then a resync.
func TestClientServerRoundTrip(t *testing.T) {
	f := newFixture(t)
	f.seed(t, schedule.PlanInput{UserID: "u1", ID: "p1", Date: march(4), Activity: "sauna", Layers: domain.IntPtr(3), SwimLayers: []int{2, 1}, DurationMinutes: 60})
	f.seed(t, schedule.PlanInput{UserID: "u1", ID: "r1", Date: march(6), Activity: "run", DurationMinutes: 45})

	cfg := auth.Config{Secret: "test-secret", Issuer: "plannersync.test"}
	srv := httptest.NewServer(auth.NewMiddleware(cfg).Wrap(f.mux))
	t.Cleanup(srv.Close)

	token, err := auth.Sign(cfg, "u1", []string{auth.ScopePlannerRead, auth.ScopePlannerWrite}, time.Hour)
	require.NoError(t, err)

	client := httptransport.NewClient(srv.URL, token, 5*time.Second)
	identity := auth.NewTokenIdentity(token)
	fetcher := planner.NewFetcher(client, identity,
		planner.WithLogger(log.New(testWriter{t}, "", 0)),
		planner.WithLocation(time.UTC),
		planner.WithClock(func() time.Time { return march(3).Add(9 * time.Hour) }),
	)
	ctx := context.Background()

	first, err := fetcher.SyncMonth(ctx, "2025-03", nil)
	require.NoError(t, err)
	require.False(t, first.NotModified)
	require.NotEmpty(t, first.Envelope.ETag)
	require.ElementsMatch(t, []string{"p1|water1", "p1|sauna", "p1|water2", "r1"}, envelopeIDs(first.Envelope))

	again, err := fetcher.SyncMonth(ctx, "2025-03", &first.Envelope)
	require.NoError(t, err)
	require.True(t, again.NotModified)

	protocol := make([]domain.Workout, 0, 3)
	for _, w := range first.Envelope.Visible(time.UTC) {
		if w.BaseID() == "p1" {
			protocol = append(protocol, w)
		}
	}
	require.Len(t, protocol, 3)

	mover := planner.NewMoveClient(client, identity, time.UTC)
	require.NoError(t, mover.SubmitFull(ctx, protocol, march(5)))

	moved, err := fetcher.SyncMonth(ctx, "2025-03", &first.Envelope)
	require.NoError(t, err)
	require.False(t, moved.NotModified)
	for _, w := range moved.Envelope.Visible(time.UTC) {
		if w.BaseID() == "p1" {
			require.Equal(t, march(5), w.Date, w.ID)
		}
	}

	day, err := fetcher.FetchDay(ctx, march(5))
	require.NoError(t, err)
	require.Len(t, day, 3)

	err = mover.SubmitMinimal(ctx, []domain.Workout{{ID: "ghost", Date: march(5)}}, march(6))
	var status *httptransport.StatusError
	require.ErrorAs(t, err, &status)
	require.Equal(t, http.StatusNotFound, status.Status)

	viewer, err := auth.Sign(cfg, "u1", []string{auth.ScopePlannerRead}, time.Hour)
	require.NoError(t, err)
	readOnly := planner.NewMoveClient(httptransport.NewClient(srv.URL, viewer, 5*time.Second), identity, time.UTC)
	require.Error(t, readOnly.SubmitMinimal(ctx, protocol, march(6)))
}

func envelopeIDs(env domain.Envelope) []string {
	out := make([]string, 0, len(env.Workouts))
	for _, w := range env.Workouts {
		out = append(out, w.ID)
	}
	return out
}
