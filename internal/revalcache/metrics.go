package revalcache

import "github.com/prometheus/client_golang/prometheus"

var lookupCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "plannersync",
	Subsystem: "revalidation_cache",
	Name:      "lookups_total",
	Help:      "Cache lookups grouped by tier and result (hit or miss).",
}, []string{"tier", "result"})

func init() {
	prometheus.MustRegister(lookupCounter)
}

func recordLookup(tier string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	lookupCounter.WithLabelValues(tier, result).Inc()
}
