package alloc

import "sync"

// Small-object slab pool. Objects <= 128B live in uniform 128B slots carved
// from 16KiB segments reserved on a single node. Exhaustion grows a new
// segment on the same node rather than spilling to a remote one, preserving
// the locality guarantee of the home-node tag.
const (
	slabSlotSize     = SmallMax
	slabSegmentBytes = 16 * 1024
	slabSegmentSlots = slabSegmentBytes / slabSlotSize
)

type slabPool struct {
	mu    sync.Mutex
	state *NodeState

	// free holds recycled 128B slots. Each slot keeps its backing segment
	// alive; segments are never returned to the system individually.
	free [][]byte

	segments int
}

func newSlabPool(state *NodeState) *slabPool {
	return &slabPool{state: state}
}

// alloc returns a slot trimmed to size, or false when the node's capacity
// cannot back another segment.
func (p *slabPool) alloc(size int) ([]byte, func(), bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.free) == 0 {
		if !p.grow() {
			return nil, nil, false
		}
	}

	slot := p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]

	release := func() {
		clear(slot[:slabSlotSize])
		p.mu.Lock()
		p.free = append(p.free, slot[:slabSlotSize])
		p.mu.Unlock()
	}
	return slot[:size], release, true
}

// grow reserves one segment and carves it into slots. Caller holds p.mu.
func (p *slabPool) grow() bool {
	if !p.state.reserve(slabSegmentBytes) {
		return false
	}
	segment := make([]byte, slabSegmentBytes)
	for off := 0; off < slabSegmentBytes; off += slabSlotSize {
		p.free = append(p.free, segment[off:off+slabSlotSize])
	}
	p.segments++
	return true
}
