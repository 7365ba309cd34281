// Package metrics holds the prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DiscoveryFetches counts source fetches by outcome.
	DiscoveryFetches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mcpsetup_discovery_fetches_total",
			Help: "Discovery source fetches by source and result",
		},
		[]string{"source", "result"},
	)

	DiscoveryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mcpsetup_discovery_fetch_seconds",
			Help:    "Discovery source fetch latency",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 4, 8, 16},
		},
		[]string{"source"},
	)

	// InstallAttempts counts finished install attempts.
	InstallAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mcpsetup_install_attempts_total",
			Help: "Install attempts by server kind, final path and outcome",
		},
		[]string{"kind", "path", "outcome"},
	)

	InstallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mcpsetup_install_seconds",
			Help:    "Install attempt duration",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		},
		[]string{"kind"},
	)

	PrerequisiteInstalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mcpsetup_prerequisite_installs_total",
			Help: "Prerequisite install strategies by tool, strategy and result",
		},
		[]string{"tool", "strategy", "result"},
	)

	ConfigWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mcpsetup_config_writes_total",
			Help: "IDE config writes by target and result",
		},
		[]string{"target", "result"},
	)

	// ProgressDropped counts progress events dropped by a full sink.
	ProgressDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mcpsetup_progress_dropped_total",
			Help: "Progress events dropped because the consumer was behind",
		},
	)

	ManagedContainers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mcpsetup_managed_containers",
			Help: "Running containers managed by mcpsetup",
		},
	)
)

func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
