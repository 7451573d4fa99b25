package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func TestRecordMovesApplied(t *testing.T) {
	before := testutil.ToFloat64(movesApplied)
	ts := time.Date(2025, time.March, 5, 0, 0, 0, 0, time.UTC)

	RecordMovesApplied(0, ts)
	require.Equal(t, before, testutil.ToFloat64(movesApplied))

	RecordMovesApplied(3, ts)
	require.Equal(t, before+3, testutil.ToFloat64(movesApplied))
	require.Equal(t, float64(ts.Unix()), testutil.ToFloat64(lastMoveGauge))
}

func TestRecordRequest(t *testing.T) {
	counter := requestsServed.WithLabelValues("planner", "304")
	before := testutil.ToFloat64(counter)
	RecordRequest("planner", 304)
	require.Equal(t, before+1, testutil.ToFloat64(counter))
}

func TestCollectorsRegistered(t *testing.T) {
	RecordPublishFailure()

	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)

	byName := make(map[string]*dto.MetricFamily, len(families))
	for _, mf := range families {
		byName[mf.GetName()] = mf
	}
	for _, name := range []string{
		"plannersync_schedule_moves_applied_total",
		"plannersync_events_publish_failures_total",
	} {
		require.Contains(t, byName, name)
		require.Equal(t, dto.MetricType_COUNTER, byName[name].GetType())
	}
	failures := byName["plannersync_events_publish_failures_total"].GetMetric()[0].GetCounter().GetValue()
	require.GreaterOrEqual(t, failures, 1.0)
}
