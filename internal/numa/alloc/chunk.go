package alloc

import (
	"sort"
	"sync"
)

// Medium-object chunk pool. Objects in 129B..16KiB are carved out of 64KiB
// chunks reserved per node and tracked with a free-span list per chunk.
// Fragmentation is expected at this tier and surfaces through the node's
// Fragmentation() ratio.
const (
	chunkBytes     = 64 * 1024
	chunkAlignment = 16
)

type span struct {
	off, len int
}

type chunk struct {
	data []byte
	// free spans sorted by offset; adjacent spans are coalesced on free.
	free []span
}

type chunkPool struct {
	mu     sync.Mutex
	state  *NodeState
	chunks []*chunk
}

func newChunkPool(state *NodeState) *chunkPool {
	return &chunkPool{state: state}
}

func alignUp(n int) int {
	return (n + chunkAlignment - 1) &^ (chunkAlignment - 1)
}

// alloc returns size bytes carved from the first chunk with a fitting span,
// growing the pool by one chunk when none fits.
func (p *chunkPool) alloc(size int) ([]byte, func(), bool) {
	need := alignUp(size)

	p.mu.Lock()
	defer p.mu.Unlock()

	c, off := p.fit(need)
	if c == nil {
		if !p.grow() {
			return nil, nil, false
		}
		c, off = p.fit(need)
		if c == nil {
			return nil, nil, false
		}
	}

	buf := c.data[off : off+size]
	release := func() {
		clear(buf)
		p.mu.Lock()
		c.release(span{off: off, len: need})
		p.mu.Unlock()
	}
	return buf, release, true
}

// fit finds the first chunk span that can hold need bytes and carves it.
// Caller holds p.mu.
func (p *chunkPool) fit(need int) (*chunk, int) {
	for _, c := range p.chunks {
		for i, s := range c.free {
			if s.len < need {
				continue
			}
			off := s.off
			if s.len == need {
				c.free = append(c.free[:i], c.free[i+1:]...)
			} else {
				c.free[i] = span{off: s.off + need, len: s.len - need}
			}
			return c, off
		}
	}
	return nil, 0
}

// grow reserves one chunk against node capacity. Caller holds p.mu.
func (p *chunkPool) grow() bool {
	if !p.state.reserve(chunkBytes) {
		return false
	}
	p.chunks = append(p.chunks, &chunk{
		data: make([]byte, chunkBytes),
		free: []span{{off: 0, len: chunkBytes}},
	})
	return true
}

// release inserts s back into the chunk's free list, merging with adjacent
// spans so long-running pools do not degrade into unusable slivers.
func (c *chunk) release(s span) {
	i := sort.Search(len(c.free), func(i int) bool { return c.free[i].off > s.off })
	c.free = append(c.free, span{})
	copy(c.free[i+1:], c.free[i:])
	c.free[i] = s

	// Merge with the successor first, then the predecessor.
	if i+1 < len(c.free) && c.free[i].off+c.free[i].len == c.free[i+1].off {
		c.free[i].len += c.free[i+1].len
		c.free = append(c.free[:i+1], c.free[i+2:]...)
	}
	if i > 0 && c.free[i-1].off+c.free[i-1].len == c.free[i].off {
		c.free[i-1].len += c.free[i].len
		c.free = append(c.free[:i], c.free[i+1:]...)
	}
}
