// Package alloc implements the NUMA-tiered allocator: size-classed,
// per-node pools with capacity accounting. Small objects come from slab
// segments, medium objects from chunked free-list pools, large objects from
// direct per-object allocations, all tagged with their home node.
package alloc

import (
	"fmt"

	"github.com/xDJTomato/Redis-NUMA-sub001/internal/topology"
	errs "github.com/xDJTomato/Redis-NUMA-sub001/pkg/errors"
)

// nodeArena bundles one node's pools and counters.
type nodeArena struct {
	state  *NodeState
	slabs  *slabPool
	chunks *chunkPool
}

// Allocator routes allocations to per-node size-classed pools.
type Allocator struct {
	topo   *topology.Topology
	arenas map[int]*nodeArena
}

// New creates an allocator with one arena per topology node, each bounded by
// capacity bytes.
func New(topo *topology.Topology, capacity int64) *Allocator {
	a := &Allocator{
		topo:   topo,
		arenas: make(map[int]*nodeArena, topo.NumNodes()),
	}
	for _, node := range topo.Nodes() {
		st := newNodeState(node, topo.Kind(node), capacity)
		a.arenas[node] = &nodeArena{
			state:  st,
			slabs:  newSlabPool(st),
			chunks: newChunkPool(st),
		}
	}
	return a
}

// Allocate returns a block of size bytes backed by node. Fails with
// ErrAllocationFailure when the node is out of capacity and with
// ErrUnknownNode for nodes outside the topology. The caller picks a
// fallback node or propagates the failure; the allocator never retries
// cross-node on its own.
func (a *Allocator) Allocate(size, node int) (*Block, error) {
	// Size 0 is a legal write (empty value); it takes a small slot trimmed
	// to zero length so the block keeps a home node like any other.
	if size < 0 {
		return nil, fmt.Errorf("invalid allocation size %d", size)
	}
	arena, ok := a.arenas[node]
	if !ok {
		return nil, fmt.Errorf("%w: %d", errs.ErrUnknownNode, node)
	}

	class := ClassOf(size)
	var (
		buf     []byte
		release func()
		fit     bool
	)
	switch class {
	case ClassSmall:
		buf, release, fit = arena.slabs.alloc(size)
	case ClassMedium:
		buf, release, fit = arena.chunks.alloc(size)
	default:
		// Large objects map directly; reuse pools would only add copy cost
		// at this size. Reservation covers the object itself.
		if fit = arena.state.reserve(int64(size)); fit {
			buf = make([]byte, size)
			release = nil
		}
	}
	if !fit {
		return nil, fmt.Errorf("%w: node %d, %s %dB", errs.ErrAllocationFailure, node, class, size)
	}

	arena.state.recordAlloc(class, int64(size))
	return &Block{
		data:    buf,
		class:   class,
		node:    node,
		release: release,
	}, nil
}

// Free returns a block's storage to its pool. Safe to call exactly once per
// block; the block must not be used afterwards.
func (a *Allocator) Free(b *Block) {
	if b == nil || b.data == nil {
		return
	}
	arena, ok := a.arenas[b.node]
	if !ok {
		return
	}
	arena.state.recordFree(b.class, int64(b.Size()))
	if b.release != nil {
		b.release()
	} else {
		arena.state.unreserve(int64(b.Size()))
	}
	b.data = nil
	b.release = nil
}

// MigrateCopy allocates a block of identical size on target and copies the
// contents. The source block stays valid and reachable; the caller owns the
// repoint-then-free sequence so a failure mid-migration never loses data.
func (a *Allocator) MigrateCopy(b *Block, target int) (*Block, error) {
	nb, err := a.Allocate(b.Size(), target)
	if err != nil {
		return nil, err
	}
	copy(nb.data, b.data)
	return nb, nil
}

// Snapshot returns the counters of one node.
func (a *Allocator) Snapshot(node int) (Snapshot, bool) {
	arena, ok := a.arenas[node]
	if !ok {
		return Snapshot{}, false
	}
	return arena.state.snapshot(), true
}

// Snapshots returns per-node counters ordered by node id.
func (a *Allocator) Snapshots() []Snapshot {
	out := make([]Snapshot, 0, len(a.arenas))
	for _, node := range a.topo.Nodes() {
		out = append(out, a.arenas[node].state.snapshot())
	}
	return out
}

// SetCapacity updates every node's allocation budget. Existing reservations
// are unaffected; nodes above the new budget simply refuse growth.
func (a *Allocator) SetCapacity(capacity int64) {
	for _, arena := range a.arenas {
		arena.state.capacity.Store(capacity)
	}
}
