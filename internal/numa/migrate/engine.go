// Package migrate owns the closed loop's decision and relocation machinery:
// the remote-access trigger, the pending-migration queue, and the worker
// that copies blocks between nodes and repoints the store mapping. All
// failures here are absorbed; migration is a background optimization and is
// never allowed to fail a client operation.
package migrate

import (
	"context"
	"fmt"
	"log"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xDJTomato/Redis-NUMA-sub001/internal/metrics"
	"github.com/xDJTomato/Redis-NUMA-sub001/internal/numa/alloc"
	"github.com/xDJTomato/Redis-NUMA-sub001/internal/numa/heat"
	"github.com/xDJTomato/Redis-NUMA-sub001/internal/numa/numacfg"
	"github.com/xDJTomato/Redis-NUMA-sub001/internal/numa/placement"
	errs "github.com/xDJTomato/Redis-NUMA-sub001/pkg/errors"
)

// Store is the narrow view of the key→block mapping the worker needs. The
// repoint is the only exclusive critical section of a migration and must be
// a pointer swap, never a copy.
type Store interface {
	// BlockOf returns the live block for key.
	BlockOf(key string) (*alloc.Block, bool)

	// Repoint swaps key's mapping from old to new. It must fail (and change
	// nothing) when the key no longer maps to old.
	Repoint(key string, old, new *alloc.Block) bool

	// ForEachBlock visits live entries until fn returns false.
	ForEachBlock(fn func(key string, blk *alloc.Block) bool)
}

// Stats are the engine's cumulative counters.
type Stats struct {
	Triggered      uint64
	Completed      uint64
	Dropped        uint64
	BytesMigrated  uint64
	RemoteAccesses uint64

	// AvgLatency is the mean service time of completed migrations.
	AvgLatency time.Duration
}

// rebalanceBatch bounds how many victims one sweep enqueues per overloaded
// node, mirroring the original's migration batch size.
const rebalanceBatch = 50

// idlePoll bounds how long the worker sleeps when the queue stays empty and
// nobody rings the wake channel.
const idlePoll = 50 * time.Millisecond

// Engine runs the migration state machine: trigger (Observe/Force/
// Rebalance), queue, and the background worker.
type Engine struct {
	alloc *alloc.Allocator
	cfg   *numacfg.Store
	sel   *placement.Selector
	heat  *heat.Tracker
	store Store
	queue *Queue

	triggered      atomic.Uint64
	completed      atomic.Uint64
	dropped        atomic.Uint64
	bytesMigrated  atomic.Uint64
	remoteAccesses atomic.Uint64
	latencySumNs   atomic.Int64

	// deferred holds blocks unlinked from the store while a request for
	// their key was outstanding. The worker may still be reading such a
	// block between BlockOf and the repoint, so the physical free waits
	// until the pending marker clears.
	defMu    sync.Mutex
	deferred map[string][]*alloc.Block

	wake   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewEngine creates an engine. The store is attached separately because the
// store itself needs the manager wired first.
func NewEngine(a *alloc.Allocator, cfg *numacfg.Store, sel *placement.Selector, tracker *heat.Tracker) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		alloc:    a,
		cfg:      cfg,
		sel:      sel,
		heat:     tracker,
		queue:    NewQueue(),
		deferred: make(map[string][]*alloc.Block),
		wake:     make(chan struct{}, 1),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// SetStore attaches the key→block mapping.
func (e *Engine) SetStore(s Store) { e.store = s }

// Start launches the worker.
func (e *Engine) Start() {
	e.wg.Add(1)
	go e.workerLoop()
}

// Stop drains the in-flight request and stops the worker. Queued requests
// that were never popped are abandoned; their blocks stay untouched, so
// shutdown never leaves a half-migrated object.
func (e *Engine) Stop() {
	e.cancel()
	e.wg.Wait()
}

// ObserveRemote feeds the trigger with one remote access: accessingNode
// differs from the block's home node. Enqueues a migration request when the
// object is hot enough and nothing is pending for it yet.
func (e *Engine) ObserveRemote(key string, blk *alloc.Block, accessingNode, heatVal int) {
	e.remoteAccesses.Add(1)
	metrics.RecordRemoteAccess()

	cfg := e.cfg.Load()
	log.Printf("numa: remote access key=%q accessing=%d home=%d heat=%d threshold=%d",
		key, accessingNode, blk.Node(), heatVal, cfg.MigrateThreshold)

	if heatVal < cfg.MigrateThreshold {
		return
	}
	e.enqueue(&Request{
		Key:      key,
		Source:   blk.Node(),
		Target:   accessingNode,
		Priority: heatVal,
		Enqueued: time.Now(),
	})
}

// Force enqueues an operator-requested migration, bypassing the hotness
// trigger but using the same queue and worker.
func (e *Engine) Force(key string, target int) error {
	blk, ok := e.store.BlockOf(key)
	if !ok {
		return errs.ErrKeyNotFound
	}
	if _, ok := e.alloc.Snapshot(target); !ok {
		return fmt.Errorf("%w: %d", errs.ErrUnknownNode, target)
	}
	if blk.Node() == target {
		return nil
	}
	e.enqueue(&Request{
		Key:      key,
		Source:   blk.Node(),
		Target:   target,
		Priority: heat.Max,
		Forced:   true,
		Enqueued: time.Now(),
	})
	return nil
}

// Rebalance launches one asynchronous sweep: every node above the pressure
// threshold evacuates its coldest victims toward the least-loaded node,
// through the normal queue so ordering and failure semantics are identical
// to organic migrations.
func (e *Engine) Rebalance() {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.rebalanceSweep()
	}()
}

func (e *Engine) rebalanceSweep() {
	cfg := e.cfg.Load()
	snaps := e.alloc.Snapshots()

	for _, snap := range snaps {
		if snap.Pressure() <= cfg.PressureThreshold {
			continue
		}
		src := snap.Node
		target := e.sel.SelectNode(placement.PressureAware, placement.Context{
			Nodes:      snaps,
			Requesting: -1,
			Exclude:    src,
		})
		if target < 0 || target == src {
			continue
		}

		victims := e.heat.Coldest(rebalanceBatch, func(key string) bool {
			blk, ok := e.store.BlockOf(key)
			return ok && blk.Node() == src
		})
		enqueued := 0
		for _, key := range victims {
			blk, ok := e.store.BlockOf(key)
			if !ok || blk.Node() != src {
				continue
			}
			h, _ := e.heat.Heat(key)
			if e.enqueue(&Request{
				Key:      key,
				Source:   src,
				Target:   target,
				Priority: h,
				Enqueued: time.Now(),
			}) {
				enqueued++
			}
		}
		log.Printf("numa: rebalance node=%d pressure=%.2f target=%d victims=%d",
			src, snap.Pressure(), target, enqueued)
	}
}

// enqueue queues r unless a request for the key is already pending.
// Duplicate enqueues are no-ops per the one-outstanding-request invariant.
func (e *Engine) enqueue(r *Request) bool {
	if !e.queue.Push(r) {
		return false
	}
	e.triggered.Add(1)
	select {
	case e.wake <- struct{}{}:
	default:
	}
	return true
}

// FreeAsync releases a block the store has already unlinked from key. While
// a migration request for key is outstanding the worker may still read the
// block, so the free is deferred until finish clears the pending marker;
// otherwise it runs immediately.
func (e *Engine) FreeAsync(key string, blk *alloc.Block) {
	e.defMu.Lock()
	if e.queue.Pending(key) {
		e.deferred[key] = append(e.deferred[key], blk)
		e.defMu.Unlock()
		return
	}
	e.defMu.Unlock()
	e.alloc.Free(blk)
}

// finish clears key's pending marker and runs the frees deferred while the
// request was outstanding. Marker and batch flip together under defMu so a
// concurrent FreeAsync either lands in this batch or frees directly.
func (e *Engine) finish(key string) {
	e.defMu.Lock()
	blks := e.deferred[key]
	delete(e.deferred, key)
	e.queue.Release(key)
	e.defMu.Unlock()

	for _, b := range blks {
		e.alloc.Free(b)
	}
}

// QueueDepth returns the number of queued requests.
func (e *Engine) QueueDepth() int { return e.queue.Len() }

// Pending reports whether key has an outstanding request.
func (e *Engine) Pending(key string) bool { return e.queue.Pending(key) }

// Snapshot returns the cumulative counters.
func (e *Engine) Snapshot() Stats {
	s := Stats{
		Triggered:      e.triggered.Load(),
		Completed:      e.completed.Load(),
		Dropped:        e.dropped.Load(),
		BytesMigrated:  e.bytesMigrated.Load(),
		RemoteAccesses: e.remoteAccesses.Load(),
	}
	if s.Completed > 0 {
		s.AvgLatency = time.Duration(e.latencySumNs.Load() / int64(s.Completed))
	}
	return s
}

// workerLoop drains the queue continuously, yielding between items so
// foreground traffic is never stalled behind a bulk copy.
func (e *Engine) workerLoop() {
	defer e.wg.Done()

	ticker := time.NewTicker(idlePoll)
	defer ticker.Stop()

	for {
		processed := e.drain()
		if processed > 0 {
			log.Printf("numa: queue drain batch processed=%d depth=%d", processed, e.queue.Len())
		}
		select {
		case <-e.ctx.Done():
			return
		case <-e.wake:
		case <-ticker.C:
		}
	}
}

func (e *Engine) drain() int {
	processed := 0
	for {
		select {
		case <-e.ctx.Done():
			return processed
		default:
		}
		req, ok := e.queue.Pop()
		if !ok {
			return processed
		}
		e.serviceOne(req)
		e.finish(req.Key)
		processed++
		runtime.Gosched()
	}
}

// serviceOne performs one PENDING→MIGRATING→COLD transition, or drops the
// request. No lock is held across the bulk copy; the repoint itself is a
// pointer swap under the store's shard lock.
func (e *Engine) serviceOne(req *Request) {
	start := time.Now()

	blk, ok := e.store.BlockOf(req.Key)
	if !ok || blk.Node() != req.Source {
		e.drop(req, errs.ErrObjectGone)
		return
	}

	target, ok := e.confirmTarget(req, blk)
	if !ok {
		e.drop(req, errs.ErrTargetInvalidated)
		return
	}

	nb, err := e.alloc.MigrateCopy(blk, target)
	if err != nil {
		e.drop(req, err)
		return
	}

	if !e.store.Repoint(req.Key, blk, nb) {
		// Key deleted or overwritten since the copy started; the new block
		// never became live, so it is simply returned.
		e.alloc.Free(nb)
		e.drop(req, errs.ErrObjectGone)
		return
	}
	e.alloc.Free(blk)

	// A just-migrated hot object is still hot, merely relocated: park it at
	// the warm baseline instead of zero.
	e.heat.Reset(req.Key, numacfg.HeatBaseline)

	elapsed := time.Since(start)
	e.completed.Add(1)
	e.bytesMigrated.Add(uint64(nb.Size()))
	e.latencySumNs.Add(int64(elapsed))
	metrics.RecordMigration(true, nb.Size(), elapsed)

	log.Printf("numa: migrated key=%q node %d -> %d priority=%d pending=%s",
		req.Key, req.Source, target, req.Priority, time.Since(req.Enqueued).Round(time.Microsecond))
}

// confirmTarget re-validates the enqueued target against current capacity,
// falling back to a fresh placement decision once. Two failed capacity
// checks drop the request.
func (e *Engine) confirmTarget(req *Request, blk *alloc.Block) (int, bool) {
	if e.fits(req.Target, blk.Size()) {
		return req.Target, true
	}
	if req.Forced {
		return 0, false
	}

	cfg := e.cfg.Load()
	alt := e.sel.SelectNode(cfg.Strategy, placement.Context{
		Class:      blk.Class(),
		Nodes:      e.alloc.Snapshots(),
		Weights:    cfg.Weights,
		Requesting: req.Target,
		Exclude:    req.Source,
	})
	if alt >= 0 && alt != req.Source && alt != req.Target && e.fits(alt, blk.Size()) {
		return alt, true
	}
	return 0, false
}

// fits is a conservative capacity pre-check; MigrateCopy still enforces the
// real reservation.
func (e *Engine) fits(node, size int) bool {
	snap, ok := e.alloc.Snapshot(node)
	if !ok {
		return false
	}
	return snap.Reserved+int64(size) <= snap.Capacity
}

func (e *Engine) drop(req *Request, cause error) {
	e.dropped.Add(1)
	metrics.RecordMigration(false, 0, 0)
	log.Printf("numa: migration dropped key=%q node %d -> %d: %v",
		req.Key, req.Source, req.Target, cause)
}
