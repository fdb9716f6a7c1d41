// Package metrics holds the Prometheus collectors exported by the daemon.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	Enqueued = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "offsync_enqueued_total",
		Help: "Total items accepted by Enqueue, by kind.",
	}, []string{"kind"})

	Deliveries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "offsync_deliveries_total",
		Help: "Total delivery attempts, by outcome (delivered, failed, rejected, quarantined).",
	}, []string{"outcome"})

	Passes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "offsync_passes_total",
		Help: "Total reconciliation passes, by result (ok, systemic, empty, error).",
	}, []string{"result"})

	PassDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "offsync_pass_duration_seconds",
		Help:    "Duration of reconciliation passes that attempted at least one item.",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	})

	Online = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "offsync_online",
		Help: "1 when the engine believes the remote is reachable.",
	})

	Pending = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "offsync_queue_pending",
		Help: "Undelivered, non-quarantined items after the last pass.",
	})

	Quarantined = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "offsync_queue_quarantined",
		Help: "Quarantined items after the last pass.",
	})

	Intercepted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "offsync_intercept_requests_total",
		Help: "Intercepted GET requests, by strategy and answering source.",
	}, []string{"strategy", "source"})

	StorageDegraded = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "offsync_storage_degraded",
		Help: "1 when the durable store is unavailable and memory is used.",
	})

	Pruned = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "offsync_pruned_total",
		Help: "Total delivered items removed by pruning.",
	})
)

var registerOnce sync.Once

// Register adds every collector to the default registry. Safe to call more
// than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			Enqueued, Deliveries,
			Passes, PassDuration,
			Online, Pending, Quarantined,
			Intercepted, StorageDegraded, Pruned,
		)
	})
}

// SetBool sets a gauge to 1 or 0.
func SetBool(g prometheus.Gauge, v bool) {
	if v {
		g.Set(1)
		return
	}
	g.Set(0)
}
