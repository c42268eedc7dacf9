package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "numakv"
)

var (
	// CommandsTotal counts total commands
	CommandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Total number of commands processed",
		},
		[]string{"cmd", "status"}, // cmd: get/set/del/config/..., status: success/error
	)

	// CommandDuration measures command latency
	CommandDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "command_duration_seconds",
			Help:      "Command latency in seconds",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1},
		},
		[]string{"cmd"},
	)

	// MigrationsTotal counts serviced migration requests by outcome
	MigrationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "migrations_total",
			Help:      "Total number of object migrations by outcome",
		},
		[]string{"status"}, // completed/dropped
	)

	// BytesMigrated counts bytes moved between nodes
	BytesMigrated = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_migrated_total",
			Help:      "Total bytes copied between memory nodes",
		},
	)

	// MigrationLatency measures time from dequeue to completed repoint
	MigrationLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "migration_latency_seconds",
			Help:      "Migration service latency in seconds",
			Buckets:   []float64{.00001, .0001, .001, .01, .1, 1},
		},
	)

	// RemoteAccessTotal counts accesses issued from a node other than the
	// object's home node
	RemoteAccessTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remote_access_total",
			Help:      "Total number of remote-access detections",
		},
	)

	// QueueDepth tracks pending migration requests
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "migration_queue_depth",
			Help:      "Number of pending migration requests",
		},
	)

	// DecayCycles counts completed decay passes
	DecayCycles = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decay_cycles_total",
			Help:      "Total number of hotness decay cycles",
		},
	)

	// NodeBytes tracks live object bytes per node and size class
	NodeBytes = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "node_bytes",
			Help:      "Live object bytes per memory node and size class",
		},
		[]string{"node", "class"},
	)

	// NodePressure tracks per-node occupancy ratio
	NodePressure = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "node_pressure",
			Help:      "Per-node memory occupancy ratio (0-1)",
		},
		[]string{"node"},
	)

	// KeysTotal tracks total keys
	KeysTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "keys_total",
			Help:      "Total number of keys",
		},
	)

	// Uptime tracks uptime
	Uptime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Server uptime in seconds",
		},
	)

	// Info exposes build info
	Info = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "info",
			Help:      "NUMA cache server info",
		},
		[]string{"version", "go_version", "os", "arch"},
	)
)

// InitInfo initializes info metric
func InitInfo(version, goVersion, os, arch string) {
	Info.WithLabelValues(version, goVersion, os, arch).Set(1)
}
