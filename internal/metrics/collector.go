package metrics

import (
	"strconv"
	"time"
)

// NodeSource feeds the collector with per-node allocation snapshots without
// coupling this package to the allocator.
type NodeSource interface {
	NodeStats() []NodeStat
}

// NodeStat is one node's gauge inputs.
type NodeStat struct {
	Node      int
	UsedBytes map[string]int64 // keyed by size-class name
	Pressure  float64
	TotalKeys int64
}

// Collector periodically mirrors engine state into the Prometheus gauges.
type Collector struct {
	startTime time.Time
	source    NodeSource
}

// NewCollector creates a collector fed by source. A nil source only reports
// uptime.
func NewCollector(source NodeSource) *Collector {
	return &Collector{
		startTime: time.Now(),
		source:    source,
	}
}

// Collect refreshes the gauges.
func (c *Collector) Collect() {
	Uptime.Set(time.Since(c.startTime).Seconds())

	if c.source == nil {
		return
	}
	var keys int64
	for _, st := range c.source.NodeStats() {
		node := strconv.Itoa(st.Node)
		for class, bytes := range st.UsedBytes {
			NodeBytes.WithLabelValues(node, class).Set(float64(bytes))
		}
		NodePressure.WithLabelValues(node).Set(st.Pressure)
		keys += st.TotalKeys
	}
	KeysTotal.Set(float64(keys))
}

// RecordCommand records command execution
func RecordCommand(cmd string, duration time.Duration, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	CommandsTotal.WithLabelValues(cmd, status).Inc()
	CommandDuration.WithLabelValues(cmd).Observe(duration.Seconds())
}

// RecordMigration records a serviced migration request.
func RecordMigration(completed bool, bytes int, latency time.Duration) {
	if completed {
		MigrationsTotal.WithLabelValues("completed").Inc()
		BytesMigrated.Add(float64(bytes))
		MigrationLatency.Observe(latency.Seconds())
		return
	}
	MigrationsTotal.WithLabelValues("dropped").Inc()
}

// RecordRemoteAccess records a remote-access detection.
func RecordRemoteAccess() {
	RemoteAccessTotal.Inc()
}

// RecordDecayCycle records a completed decay pass.
func RecordDecayCycle() {
	DecayCycles.Inc()
}

// SetQueueDepth mirrors the migration queue depth.
func SetQueueDepth(n int) {
	QueueDepth.Set(float64(n))
}
