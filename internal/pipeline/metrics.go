package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// providerFallbacksTotal counts the times a stage had to substitute a
// degraded payload because a provider was unavailable or returned garbage.
var providerFallbacksTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "api_provider_fallbacks_total",
		Help: "Degraded provider payloads substituted by the evaluation pipeline.",
	},
	[]string{"provider"},
)
