package monthcache

import "github.com/prometheus/client_golang/prometheus"

var (
	corruptCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "plannersync",
		Subsystem: "month_cache",
		Name:      "corrupt_total",
		Help:      "Number of cached month envelopes discarded because they could not be decoded.",
	})

	savedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "plannersync",
		Subsystem: "month_cache",
		Name:      "saves_total",
		Help:      "Number of month envelopes written to disk.",
	})
)

func init() {
	prometheus.MustRegister(corruptCounter, savedCounter)
}

func recordCorrupt() {
	corruptCounter.Inc()
}

func recordSaved() {
	savedCounter.Inc()
}
