package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcomes of an ingested event.
const (
	OutcomeApplied  = "applied"
	OutcomeStale    = "stale"
	OutcomeRejected = "rejected"
	OutcomeFailed   = "failed"
)

var (
	eventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chestsync_ingest_events_total",
		Help: "Number of container events received, by outcome",
	}, []string{"outcome"})

	applyDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "chestsync_ingest_apply_duration_seconds",
		Help:    "Time spent in the snapshot upsert transaction",
		Buckets: prometheus.DefBuckets,
	})

	legacyFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chestsync_ingest_legacy_failures_total",
		Help: "Number of failed writes to the legacy container table",
	})

	sweptTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chestsync_retention_deleted_entries_total",
		Help: "Number of history entries deleted by the retention job",
	})

	sweepsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chestsync_retention_runs_total",
		Help: "Number of retention sweeps, by result",
	}, []string{"result"})
)
