package alloc

import (
	"sync/atomic"

	"github.com/xDJTomato/Redis-NUMA-sub001/internal/topology"
)

// NodeState holds per-node allocation counters. Mutated with atomics from
// every foreground thread plus the migration worker; never guarded by a
// global lock.
type NodeState struct {
	node     int
	kind     topology.NodeKind
	capacity atomic.Int64
	reserved atomic.Int64
	used     [numClasses]atomic.Int64
	allocs   atomic.Int64
	frees    atomic.Int64
}

func newNodeState(node int, kind topology.NodeKind, capacity int64) *NodeState {
	st := &NodeState{node: node, kind: kind}
	st.capacity.Store(capacity)
	return st
}

// reserve claims n bytes of backing memory against the node's capacity.
// Returns false when the node would exceed its budget.
func (st *NodeState) reserve(n int64) bool {
	for {
		r := st.reserved.Load()
		if r+n > st.capacity.Load() {
			return false
		}
		if st.reserved.CompareAndSwap(r, r+n) {
			return true
		}
	}
}

func (st *NodeState) unreserve(n int64) {
	st.reserved.Add(-n)
}

func (st *NodeState) recordAlloc(class SizeClass, size int64) {
	st.used[class].Add(size)
	st.allocs.Add(1)
}

func (st *NodeState) recordFree(class SizeClass, size int64) {
	st.used[class].Add(-size)
	st.frees.Add(1)
}

// Snapshot is a consistent-enough copy of a node's counters for placement
// decisions and the stats surface.
type Snapshot struct {
	Node     int
	Kind     topology.NodeKind
	Capacity int64
	Reserved int64

	// UsedBytes holds live object bytes indexed by SizeClass.
	UsedBytes [3]int64

	Allocs int64
	Frees  int64
}

func (st *NodeState) snapshot() Snapshot {
	s := Snapshot{
		Node:     st.node,
		Kind:     st.kind,
		Capacity: st.capacity.Load(),
		Reserved: st.reserved.Load(),
		Allocs:   st.allocs.Load(),
		Frees:    st.frees.Load(),
	}
	for c := range s.UsedBytes {
		s.UsedBytes[c] = st.used[c].Load()
	}
	return s
}

// Used returns total live object bytes across all classes.
func (s Snapshot) Used() int64 {
	return s.UsedBytes[ClassSmall] + s.UsedBytes[ClassMedium] + s.UsedBytes[ClassLarge]
}

// Pressure is the node's occupancy ratio: reserved backing memory over
// capacity. 0 means empty, 1 means full.
func (s Snapshot) Pressure() float64 {
	if s.Capacity <= 0 {
		return 1
	}
	return float64(s.Reserved) / float64(s.Capacity)
}

// FreeRatio is 1 - Pressure.
func (s Snapshot) FreeRatio() float64 { return 1 - s.Pressure() }

// Fragmentation is reserved backing memory over live object bytes, the
// pool-level RSS/used ratio. Reports 1 while the node holds no objects.
func (s Snapshot) Fragmentation() float64 {
	used := s.Used()
	if used <= 0 {
		return 1
	}
	return float64(s.Reserved) / float64(used)
}
