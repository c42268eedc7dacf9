package metrics

import (
	"testing"
	"time"
)

type fakeSource struct{}

func (fakeSource) NodeStats() []NodeStat {
	return []NodeStat{
		{Node: 0, UsedBytes: map[string]int64{"small": 128, "large": 20000}, Pressure: 0.4, TotalKeys: 3},
		{Node: 1, UsedBytes: map[string]int64{"medium": 4096}, Pressure: 0.1, TotalKeys: 1},
	}
}

func TestMetricsRecording(t *testing.T) {
	// The registry is global, so assertions on absolute values are fragile;
	// these exercise every recording path for panics and label cardinality.
	RecordCommand("get", 10*time.Millisecond, true)
	RecordCommand("set", time.Millisecond, false)
	RecordMigration(true, 4096, 50*time.Microsecond)
	RecordMigration(false, 0, 0)
	RecordRemoteAccess()
	RecordDecayCycle()
	SetQueueDepth(7)

	c := NewCollector(fakeSource{})
	c.Collect()

	// Nil source must only report uptime.
	NewCollector(nil).Collect()
}
