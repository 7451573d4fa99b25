package planner

import "github.com/prometheus/client_golang/prometheus"

var (
	syncCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "plannersync",
		Subsystem: "planner",
		Name:      "month_syncs_total",
		Help:      "Conditional month fetches grouped by outcome (replaced, not_modified, stale).",
	}, []string{"outcome"})

	fallbackCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "plannersync",
		Subsystem: "planner",
		Name:      "day_fallbacks_total",
		Help:      "Per-day fallback queries issued for days missing from a range result.",
	}, []string{"result"})

	submitCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "plannersync",
		Subsystem: "planner",
		Name:      "move_submissions_total",
		Help:      "Move submissions grouped by payload shape and result.",
	}, []string{"payload", "result"})
)

func init() {
	prometheus.MustRegister(syncCounter, fallbackCounter, submitCounter)
}

func recordSync(outcome string) {
	syncCounter.WithLabelValues(outcome).Inc()
}

func recordFallback(result string) {
	fallbackCounter.WithLabelValues(result).Inc()
}

func recordSubmit(payload string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	submitCounter.WithLabelValues(payload, result).Inc()
}
