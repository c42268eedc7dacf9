package alloc

// Block is one allocated object's backing storage, tagged with its size
// class and home node. A block is owned exclusively by the store entry that
// references it; migration hands ownership to a new block only after the
// key→block mapping is repointed.
type Block struct {
	data  []byte
	class SizeClass
	node  int

	// release returns the storage to its owning pool. Nil for direct
	// (large) allocations, whose memory is reclaimed by the GC once the
	// reservation is released.
	release func()
}

// Bytes returns the block's storage. Length equals the requested size.
func (b *Block) Bytes() []byte { return b.data }

// Size returns the object size in bytes.
func (b *Block) Size() int { return len(b.data) }

// Class returns the block's size class.
func (b *Block) Class() SizeClass { return b.class }

// Node returns the block's home node.
func (b *Block) Node() int { return b.node }
