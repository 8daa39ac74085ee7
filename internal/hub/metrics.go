package hub

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	subscribersGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chestsync_hub_subscribers",
		Help: "Current number of live subscribers",
	})

	deliveredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chestsync_hub_messages_total",
		Help: "Number of messages enqueued to subscribers",
	}, []string{"type"})

	evictedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chestsync_hub_evictions_total",
		Help: "Number of subscribers removed by the hub",
	}, []string{"reason"})

	reorderedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chestsync_hub_reordered_updates_total",
		Help: "Number of updates dropped because a newer state was already published",
	})
)
