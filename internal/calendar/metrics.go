package calendar

import "github.com/prometheus/client_golang/prometheus"

var (
	moveCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "plannersync",
		Subsystem: "calendar",
		Name:      "moves_total",
		Help:      "Move requests grouped by outcome.",
	}, []string{"outcome"})

	verifyCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "plannersync",
		Subsystem: "calendar",
		Name:      "verifications_total",
		Help:      "Post-move verifications grouped by outcome (confirmed, healed, reloaded, server_error, cancelled).",
	}, []string{"outcome"})
)

func init() {
	prometheus.MustRegister(moveCounter, verifyCounter)
}

func recordMove(outcome string) {
	moveCounter.WithLabelValues(outcome).Inc()
}

func recordVerify(outcome string) {
	verifyCounter.WithLabelValues(outcome).Inc()
}
