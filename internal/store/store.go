// Package store is the key-value layer on top of the NUMA manager. Keys
// live in sharded Go maps; values live in allocator blocks tagged with
// their home node, so the migration worker can relocate them by swapping
// the map entry.
package store

import (
	"hash/maphash"
	"path"
	"sync"

	"github.com/xDJTomato/Redis-NUMA-sub001/internal/numa"
	"github.com/xDJTomato/Redis-NUMA-sub001/internal/numa/alloc"
)

const (
	defaultShardCount = 256
	cacheLineSize     = 64
)

// shard holds one partition of the key space. Padding keeps neighboring
// shard locks on separate cache lines.
type shard struct {
	mu    sync.RWMutex
	items map[string]*alloc.Block
	_     [cacheLineSize - 32]byte
}

// Store is a sharded key→block map. Every value copy in or out happens
// under the shard lock so a concurrent repoint can never free a block
// while a reader still sees it.
type Store struct {
	shards     []*shard
	shardCount uint32
	seed       maphash.Seed
	mgr        *numa.Manager
}

// New creates a store bound to the manager and registers itself as the
// migration worker's key→block view.
func New(mgr *numa.Manager, shardCount int) *Store {
	if shardCount <= 0 {
		shardCount = defaultShardCount
	}
	s := &Store{
		shards:     make([]*shard, shardCount),
		shardCount: uint32(shardCount),
		seed:       maphash.MakeSeed(),
		mgr:        mgr,
	}
	for i := range s.shards {
		s.shards[i] = &shard{items: make(map[string]*alloc.Block)}
	}
	mgr.SetStore(s)
	return s
}

func (s *Store) getShard(key string) *shard {
	hash := maphash.String(s.seed, key)
	return s.shards[hash%uint64(s.shardCount)]
}

// Set stores value under key. The block is placed by the configured
// strategy before the shard lock is taken; an overwrite frees the old
// block after the swap. requestingNode is the accessing thread's node,
// or -1 when unknown.
func (s *Store) Set(key string, value []byte, requestingNode int) error {
	blk, err := s.mgr.Place(key, len(value), requestingNode)
	if err != nil {
		return err
	}
	copy(blk.Bytes(), value)

	sh := s.getShard(key)
	sh.mu.Lock()
	old := sh.items[key]
	sh.items[key] = blk
	sh.mu.Unlock()

	if old != nil {
		s.mgr.FreeBlock(key, old)
	}
	return nil
}

// Get returns a copy of the value for key. The copy is made under the
// shard read lock; the heat/migration bookkeeping runs after the lock is
// released so the hot path holds it only for the memcpy.
func (s *Store) Get(key string, accessingNode int) ([]byte, bool) {
	sh := s.getShard(key)
	sh.mu.RLock()
	blk, ok := sh.items[key]
	var out []byte
	if ok {
		out = make([]byte, blk.Size())
		copy(out, blk.Bytes())
	}
	sh.mu.RUnlock()

	if !ok {
		return nil, false
	}
	s.mgr.OnAccess(key, blk, accessingNode)
	return out, true
}

// Del removes keys and releases their blocks and heat records. Returns
// the number of keys that existed.
func (s *Store) Del(keys ...string) int64 {
	var count int64
	for _, key := range keys {
		sh := s.getShard(key)
		sh.mu.Lock()
		blk, ok := sh.items[key]
		if ok {
			delete(sh.items, key)
		}
		sh.mu.Unlock()

		if ok {
			s.mgr.OnDelete(key, blk)
			count++
		}
	}
	return count
}

// Exists counts how many of the keys are present. Unlike Get it does not
// count as an access.
func (s *Store) Exists(keys ...string) int64 {
	var count int64
	for _, key := range keys {
		sh := s.getShard(key)
		sh.mu.RLock()
		_, ok := sh.items[key]
		sh.mu.RUnlock()
		if ok {
			count++
		}
	}
	return count
}

// HomeNode returns the node currently backing key's value.
func (s *Store) HomeNode(key string) (int, bool) {
	sh := s.getShard(key)
	sh.mu.RLock()
	blk, ok := sh.items[key]
	sh.mu.RUnlock()
	if !ok {
		return 0, false
	}
	return blk.Node(), true
}

// Keys returns keys matching a glob pattern.
func (s *Store) Keys(pattern string) []string {
	var result []string
	for _, sh := range s.shards {
		sh.mu.RLock()
		for key := range sh.items {
			if matchPattern(pattern, key) {
				result = append(result, key)
			}
		}
		sh.mu.RUnlock()
	}
	return result
}

// Len returns the number of live keys.
func (s *Store) Len() int64 {
	var count int64
	for _, sh := range s.shards {
		sh.mu.RLock()
		count += int64(len(sh.items))
		sh.mu.RUnlock()
	}
	return count
}

// Clear removes every entry and releases its backing block.
func (s *Store) Clear() {
	for _, sh := range s.shards {
		sh.mu.Lock()
		items := sh.items
		sh.items = make(map[string]*alloc.Block)
		sh.mu.Unlock()

		for key, blk := range items {
			s.mgr.OnDelete(key, blk)
		}
	}
}

// BlockOf returns the live block for key.
func (s *Store) BlockOf(key string) (*alloc.Block, bool) {
	sh := s.getShard(key)
	sh.mu.RLock()
	blk, ok := sh.items[key]
	sh.mu.RUnlock()
	return blk, ok
}

// Repoint swaps key's mapping from old to new under the shard write lock.
// A mismatch means the entry was overwritten or deleted mid-migration; the
// swap is refused and the caller discards the copy.
func (s *Store) Repoint(key string, old, new *alloc.Block) bool {
	sh := s.getShard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	cur, ok := sh.items[key]
	if !ok || cur != old {
		return false
	}
	sh.items[key] = new
	return true
}

// ForEachBlock visits live entries until fn returns false. Entries added
// or removed during the walk may or may not be seen.
func (s *Store) ForEachBlock(fn func(key string, blk *alloc.Block) bool) {
	for _, sh := range s.shards {
		sh.mu.RLock()
		for key, blk := range sh.items {
			if !fn(key, blk) {
				sh.mu.RUnlock()
				return
			}
		}
		sh.mu.RUnlock()
	}
}

func matchPattern(pattern, key string) bool {
	if pattern == "*" {
		return true
	}
	matched, _ := path.Match(pattern, key)
	return matched
}
