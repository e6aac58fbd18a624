// Package metrics объявляет метрики Prometheus сервиса.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ClustersCreatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "movemeal_clusters_created_total",
		Help: "Total number of clusters created.",
	},
		[]string{"kind"},
	)

	MutationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "movemeal_mutations_total",
		Help: "Total number of cluster mutations by operation and outcome.",
	},
		[]string{"operation", "outcome"},
	)

	VersionConflictsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "movemeal_version_conflicts_total",
		Help: "Total number of optimistic concurrency conflicts retried by the coordinator.",
	})

	LockTimeoutsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "movemeal_lock_timeouts_total",
		Help: "Total number of mutations rejected because the cluster lock was busy.",
	})

	StatusTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "movemeal_status_transitions_total",
		Help: "Total number of committed status transitions.",
	},
		[]string{"kind", "from", "to"},
	)

	CodesVerifiedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "movemeal_codes_verified_total",
		Help: "Total number of collection codes verified.",
	})

	EventsDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "movemeal_events_dropped_total",
		Help: "Total number of events dropped because the notifier queue was full.",
	})

	DeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "movemeal_event_deliveries_total",
		Help: "Total number of event deliveries by sink and outcome.",
	},
		[]string{"sink", "outcome"},
	)

	NotifyQueueLength = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "movemeal_notify_queue_length",
		Help: "Current number of events waiting for delivery.",
	})

	StreamSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "movemeal_stream_subscribers",
		Help: "Current number of open cluster event streams.",
	})

	RateLimitedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "movemeal_rate_limited_total",
		Help: "Total number of requests rejected by the rate limiter.",
	})
)
