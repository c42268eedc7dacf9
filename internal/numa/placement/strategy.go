// Package placement decides which memory node backs a new or rebalanced
// allocation. The six policies are a closed set dispatched from a tagged
// enum over pure functions of the current node snapshots; the only mutable
// state is the rotation cursors.
package placement

import (
	"fmt"
	"math/rand"
	"sync/atomic"

	"github.com/xDJTomato/Redis-NUMA-sub001/internal/numa/alloc"
	"github.com/xDJTomato/Redis-NUMA-sub001/internal/topology"
)

// Policy identifies a placement strategy.
type Policy int

const (
	// LocalFirst prefers the node the requesting thread runs on.
	LocalFirst Policy = iota

	// Interleave rotates across all nodes in cyclic order, ignoring load.
	Interleave

	// RoundRobin rotates like Interleave but per size-class.
	RoundRobin

	// Weighted picks nodes with probability proportional to their weight.
	Weighted

	// PressureAware picks the node with the lowest occupancy.
	PressureAware

	// CXLOptimized biases small objects to DRAM nodes and large objects to
	// CXL capacity nodes.
	CXLOptimized
)

var policyNames = []string{
	"local_first",
	"interleave",
	"round_robin",
	"weighted",
	"pressure_aware",
	"cxl_optimized",
}

func (p Policy) String() string {
	if p >= 0 && int(p) < len(policyNames) {
		return policyNames[p]
	}
	return "unknown"
}

// ParsePolicy resolves a strategy name. Unknown names are an error.
func ParsePolicy(name string) (Policy, error) {
	for i, n := range policyNames {
		if n == name {
			return Policy(i), nil
		}
	}
	return 0, fmt.Errorf("unknown placement strategy %q", name)
}

// Policies lists every known policy name.
func Policies() []string {
	return append([]string(nil), policyNames...)
}

// Context carries everything a policy may consult for one decision.
type Context struct {
	// Class of the allocation being placed.
	Class alloc.SizeClass

	// Nodes is the current NodeState snapshot, ordered by node id.
	Nodes []alloc.Snapshot

	// Weights indexed by node id, for the weighted policy.
	Weights []int

	// Requesting is the node of the thread asking for the allocation,
	// or -1 when unknown.
	Requesting int

	// Exclude is a node that must not be chosen (the source of a
	// rebalance), or -1.
	Exclude int
}

func (c Context) candidates() []alloc.Snapshot {
	if c.Exclude < 0 {
		return c.Nodes
	}
	out := make([]alloc.Snapshot, 0, len(c.Nodes))
	for _, s := range c.Nodes {
		if s.Node != c.Exclude {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return c.Nodes
	}
	return out
}

// Selector dispatches placement decisions. Safe for concurrent use.
type Selector struct {
	interleaveCur atomic.Uint64
	classCur      [3]atomic.Uint64
}

// NewSelector creates a selector with fresh rotation cursors.
func NewSelector() *Selector {
	return &Selector{}
}

// SelectNode returns the node the given policy picks for ctx. It never
// returns a node outside ctx.Nodes; with an empty snapshot it returns -1.
func (s *Selector) SelectNode(p Policy, ctx Context) int {
	nodes := ctx.candidates()
	if len(nodes) == 0 {
		return -1
	}

	switch p {
	case LocalFirst:
		if ctx.Requesting >= 0 && ctx.Requesting != ctx.Exclude {
			for _, n := range nodes {
				if n.Node == ctx.Requesting {
					return n.Node
				}
			}
		}
		return leastLoaded(nodes)

	case Interleave:
		i := s.interleaveCur.Add(1) - 1
		return nodes[i%uint64(len(nodes))].Node

	case RoundRobin:
		cur := &s.classCur[ctx.Class]
		i := cur.Add(1) - 1
		return nodes[i%uint64(len(nodes))].Node

	case Weighted:
		return weighted(nodes, ctx.Weights)

	case PressureAware:
		return lowestPressure(nodes)

	case CXLOptimized:
		return cxlOptimized(nodes, ctx.Class)

	default:
		return nodes[0].Node
	}
}

// leastLoaded picks the node with the fewest live bytes.
func leastLoaded(nodes []alloc.Snapshot) int {
	best := nodes[0]
	for _, n := range nodes[1:] {
		if n.Used() < best.Used() {
			best = n
		}
	}
	return best.Node
}

// lowestPressure picks the node with the highest free-ratio.
func lowestPressure(nodes []alloc.Snapshot) int {
	best := nodes[0]
	for _, n := range nodes[1:] {
		if n.Pressure() < best.Pressure() {
			best = n
		}
	}
	return best.Node
}

// weighted picks proportionally to per-node weights; weight 0 excludes a
// node. All-zero weights degrade to least-loaded.
func weighted(nodes []alloc.Snapshot, weights []int) int {
	total := 0
	for _, n := range nodes {
		total += weightOf(weights, n.Node)
	}
	if total <= 0 {
		return leastLoaded(nodes)
	}
	pick := rand.Intn(total)
	acc := 0
	for _, n := range nodes {
		acc += weightOf(weights, n.Node)
		if pick < acc {
			return n.Node
		}
	}
	return nodes[len(nodes)-1].Node
}

func weightOf(weights []int, node int) int {
	if node < 0 || node >= len(weights) {
		return 0
	}
	w := weights[node]
	if w < 0 {
		return 0
	}
	return w
}

// cxlOptimized steers small and medium objects to DRAM nodes and large
// objects to capacity-tier nodes, breaking ties by pressure. Falls back to
// the lowest-pressure node when the preferred kind is absent.
func cxlOptimized(nodes []alloc.Snapshot, class alloc.SizeClass) int {
	want := topology.KindDRAM
	if class == alloc.ClassLarge {
		want = topology.KindCXL
	}

	preferred := nodes[:0:0]
	for _, n := range nodes {
		if n.Kind == want {
			preferred = append(preferred, n)
		}
	}
	if len(preferred) == 0 {
		return lowestPressure(nodes)
	}
	return lowestPressure(preferred)
}
