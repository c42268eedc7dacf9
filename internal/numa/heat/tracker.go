// Package heat tracks per-object hotness: a bounded counter incremented on
// home-node accesses and decayed on a timer. The value is a coarse signal
// for the migration trigger, not an exact access count.
package heat

import (
	"sync"
	"sync/atomic"
	"time"
)

// Hotness bounds. A remote access never increments: it is a signal that the
// object sits on the wrong node, not a reward for the current placement.
const (
	Min = 0
	Max = 7
)

// Record holds one live object's hotness state. Mutated with atomics from
// every accessing thread and the decay timer, never under a shared lock.
type Record struct {
	heat       atomic.Int32
	lastAccess atomic.Int64 // UnixNano
	lastDecay  atomic.Int64 // UnixNano
}

// Heat returns the current hotness, always within [Min, Max].
func (r *Record) Heat() int { return int(r.heat.Load()) }

// touchLocal applies a saturating increment.
func (r *Record) touchLocal(now int64) int {
	r.lastAccess.Store(now)
	for {
		h := r.heat.Load()
		if h >= Max {
			return Max
		}
		if r.heat.CompareAndSwap(h, h+1) {
			return int(h + 1)
		}
	}
}

// decay applies a flooring decrement of step. Returns true if the value
// changed. A CAS loop keeps a concurrent touchLocal from being lost or a
// decrement from being double-applied.
func (r *Record) decay(step int, now int64) bool {
	r.lastDecay.Store(now)
	for {
		h := r.heat.Load()
		if h <= Min {
			return false
		}
		next := h - int32(step)
		if next < Min {
			next = Min
		}
		if r.heat.CompareAndSwap(h, next) {
			return true
		}
	}
}

// Tracker owns the records of all live objects. The map is guarded by a
// RWMutex for membership only; record state itself is atomic.
type Tracker struct {
	mu      sync.RWMutex
	records map[string]*Record
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{records: make(map[string]*Record)}
}

// Track registers a new object with heat 0. Replaces any existing record,
// which matches an overwritten key starting cold.
func (t *Tracker) Track(key string) *Record {
	r := &Record{}
	now := time.Now().UnixNano()
	r.lastAccess.Store(now)
	r.lastDecay.Store(now)

	t.mu.Lock()
	t.records[key] = r
	t.mu.Unlock()
	return r
}

// Forget removes a deleted or evicted object. A record never outlives its
// block.
func (t *Tracker) Forget(key string) {
	t.mu.Lock()
	delete(t.records, key)
	t.mu.Unlock()
}

// OnAccess records one access and returns the resulting heat. Only accesses
// from the home node increment; remote accesses merely refresh the access
// timestamp and report the current value for the migration trigger.
func (t *Tracker) OnAccess(key string, local bool) (int, bool) {
	t.mu.RLock()
	r, ok := t.records[key]
	t.mu.RUnlock()
	if !ok {
		return 0, false
	}
	now := time.Now().UnixNano()
	if local {
		return r.touchLocal(now), true
	}
	r.lastAccess.Store(now)
	return r.Heat(), true
}

// Heat returns the current hotness of key.
func (t *Tracker) Heat(key string) (int, bool) {
	t.mu.RLock()
	r, ok := t.records[key]
	t.mu.RUnlock()
	if !ok {
		return 0, false
	}
	return r.Heat(), true
}

// Reset forces key's heat to the given value, clamped to the bounds. Used
// by the migration worker to drop a relocated object to the warm baseline.
func (t *Tracker) Reset(key string, value int) {
	if value < Min {
		value = Min
	}
	if value > Max {
		value = Max
	}
	t.mu.RLock()
	r, ok := t.records[key]
	t.mu.RUnlock()
	if ok {
		r.heat.Store(int32(value))
	}
}

// DecayAll decrements every live record by step (floor Min) and returns the
// number of records whose heat changed.
func (t *Tracker) DecayAll(step int) int {
	if step <= 0 {
		step = 1
	}
	now := time.Now().UnixNano()

	t.mu.RLock()
	records := make([]*Record, 0, len(t.records))
	for _, r := range t.records {
		records = append(records, r)
	}
	t.mu.RUnlock()

	decayed := 0
	for _, r := range records {
		if r.decay(step, now) {
			decayed++
		}
	}
	return decayed
}

// Len returns the number of tracked objects.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.records)
}

// Coldest returns up to limit keys ordered by ascending heat, used by the
// rebalance sweep to pick eviction victims on an overloaded node. Equal heat
// breaks toward the longest-idle object. filter selects which keys qualify.
func (t *Tracker) Coldest(limit int, filter func(key string) bool) []string {
	type kh struct {
		key  string
		heat int
		last int64
	}
	t.mu.RLock()
	candidates := make([]kh, 0, len(t.records))
	for key, r := range t.records {
		if filter == nil || filter(key) {
			candidates = append(candidates, kh{key, r.Heat(), r.lastAccess.Load()})
		}
	}
	t.mu.RUnlock()

	// Selection by repeated minimum keeps this allocation-free for the
	// small limits the sweep uses.
	out := make([]string, 0, limit)
	for len(out) < limit && len(candidates) > 0 {
		min := 0
		for i := 1; i < len(candidates); i++ {
			if candidates[i].heat < candidates[min].heat ||
				(candidates[i].heat == candidates[min].heat && candidates[i].last < candidates[min].last) {
				min = i
			}
		}
		out = append(out, candidates[min].key)
		candidates[min] = candidates[len(candidates)-1]
		candidates = candidates[:len(candidates)-1]
	}
	return out
}
