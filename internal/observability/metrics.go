// Package observability holds the planner server's process-wide collectors.
package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	movesApplied = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "plannersync",
		Subsystem: "schedule",
		Name:      "moves_applied_total",
		Help:      "Planned workouts rescheduled by move requests.",
	})
	lastMoveGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "plannersync",
		Subsystem: "schedule",
		Name:      "last_move_timestamp_seconds",
		Help:      "Unix timestamp of the most recent applied move.",
	})
	requestsServed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "plannersync",
		Subsystem: "api",
		Name:      "requests_total",
		Help:      "Planner API requests by route and status code.",
	}, []string{"route", "code"})
	eventPublishFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "plannersync",
		Subsystem: "events",
		Name:      "publish_failures_total",
		Help:      "Move event batches that could not be published.",
	})
)

func init() {
	prometheus.MustRegister(movesApplied, lastMoveGauge, requestsServed, eventPublishFailures)
}

// RecordMovesApplied counts n rescheduled workouts and advances the watermark.
func RecordMovesApplied(n int, ts time.Time) {
	if n <= 0 {
		return
	}
	movesApplied.Add(float64(n))
	if !ts.IsZero() {
		lastMoveGauge.Set(float64(ts.Unix()))
	}
}

// RecordRequest counts one served request.
func RecordRequest(route string, code int) {
	requestsServed.WithLabelValues(route, strconv.Itoa(code)).Inc()
}

// RecordPublishFailure counts one failed event batch.
func RecordPublishFailure() {
	eventPublishFailures.Inc()
}
