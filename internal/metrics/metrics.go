// SPDX-License-Identifier: MIT
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Business metrics
	incidentsLoaded = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "beach_incidents_loaded",
		Help: "Incident records loaded from the input CSV (last run)",
	})

	incidentsSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "beach_incidents_skipped_total",
		Help: "Incident rows skipped due to invalid coordinates or dates",
	})

	upstreamRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "beach_upstream_requests_total",
		Help: "Upstream requests by source and outcome",
	}, []string{"source", "outcome"}) // outcome=success|error|fallback

	observationsWritten = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "beach_observations_written",
		Help: "Observation rows written in the last run",
	})

	recordFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "beach_record_failures_total",
		Help: "Incident records whose enrichment produced an error row",
	})

	batchDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "beach_batch_duration_seconds",
		Help:    "Time spent enriching one batch of incidents",
		Buckets: prometheus.DefBuckets,
	})

	lastRunTimestamp = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "beach_last_run_timestamp_seconds",
		Help: "Unix time of the last completed enrichment run",
	})

	// Operational metrics
	enrichFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "beach_enrich_failures_total",
		Help: "Enrichment run failures by stage",
	}, []string{"stage"}) // stage=weather|climate|waves|run

	cacheEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "beach_cache_events_total",
		Help: "Upstream response cache hits and misses",
	}, []string{"source", "event"}) // event=hit|miss
)

func RecordIncidentsLoaded(n int) { incidentsLoaded.Set(float64(n)) }
func IncIncidentSkipped()         { incidentsSkipped.Inc() }

func IncUpstreamRequest(source, outcome string) {
	upstreamRequests.WithLabelValues(source, outcome).Inc()
}

func RecordObservationsWritten(n int) { observationsWritten.Set(float64(n)) }
func IncRecordFailure()               { recordFailures.Inc() }

func ObserveBatchDuration(seconds float64) { batchDurationSeconds.Observe(seconds) }
func RecordRunCompleted(unix int64)        { lastRunTimestamp.Set(float64(unix)) }

func IncEnrichFailure(stage string) { enrichFailuresTotal.WithLabelValues(stage).Inc() }

func IncCacheHit(source string)  { cacheEvents.WithLabelValues(source, "hit").Inc() }
func IncCacheMiss(source string) { cacheEvents.WithLabelValues(source, "miss").Inc() }
