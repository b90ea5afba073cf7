package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheLookups counts edge-cache lookups by result ("hit" or "miss").
	CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "travelgate_cache_lookups_total",
		Help: "Edge cache lookups by result.",
	}, []string{"result"})

	// AdvisoryAttempts counts individual generation-service attempts by
	// outcome ("ok", "transient", "rejected", "network_error").
	AdvisoryAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "travelgate_advisory_attempts_total",
		Help: "Generation service attempts by outcome.",
	}, []string{"outcome"})

	// Fallbacks counts degraded compositions by cause
	// ("rate_limited", "server_error", "unparseable").
	Fallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "travelgate_fallbacks_total",
		Help: "Degraded advisory responses by cause.",
	}, []string{"cause"})
)
