// Package metrics registers the Prometheus collectors shared by the
// checklist, generation and verification components.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "visa_checklist"

var (
	// EnrichmentOutcomes counts checklist generations by outcome
	// ("enriched" or "fallback").
	EnrichmentOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "enrichment_outcomes_total",
			Help:      "Checklist enrichment outcomes.",
		},
		[]string{"outcome"},
	)

	// EnrichmentFallbacks counts fallbacks by reason.
	EnrichmentFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "enrichment_fallbacks_total",
			Help:      "Checklist enrichment fallbacks by reason.",
		},
		[]string{"reason"},
	)

	// ConsistencyCorrections counts in-place corrections of enriched output
	// by kind ("country", "risk_level", "required").
	ConsistencyCorrections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "consistency_corrections_total",
			Help:      "Corrections applied to enriched checklist output.",
		},
		[]string{"kind"},
	)

	// CountryMismatches counts foreign destination names rewritten per
	// requested country.
	CountryMismatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "country_mismatches_total",
			Help:      "Foreign country names rewritten in enriched text.",
		},
		[]string{"country"},
	)

	// ModelCallDuration observes completion latency by operation.
	ModelCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "model_call_duration_seconds",
			Help:      "Language model call latency.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
		},
		[]string{"operation", "result"},
	)

	// Generations counts generation runs by terminal status and category.
	Generations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generations_total",
			Help:      "Completed checklist generation runs.",
		},
		[]string{"status", "category"},
	)

	// GenerationsInFlight tracks background runs.
	GenerationsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "generations_in_flight",
			Help:      "Checklist generation runs currently executing.",
		},
	)

	// Verifications counts verification passes by resulting verdict.
	Verifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verifications_total",
			Help:      "Document verification passes by verdict.",
		},
		[]string{"verdict"},
	)

	// SweepDuration observes one validation sweep.
	SweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sweep_duration_seconds",
			Help:      "Document validation sweep duration.",
			Buckets:   prometheus.DefBuckets,
		},
	)
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
