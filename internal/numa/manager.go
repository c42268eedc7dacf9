// Package numa wires the tiered allocator, hotness tracker, placement
// strategies and migration engine into one closed-loop controller:
// allocate → observe access pattern → decide → migrate → repeat.
package numa

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/xDJTomato/Redis-NUMA-sub001/internal/metrics"
	"github.com/xDJTomato/Redis-NUMA-sub001/internal/numa/alloc"
	"github.com/xDJTomato/Redis-NUMA-sub001/internal/numa/heat"
	"github.com/xDJTomato/Redis-NUMA-sub001/internal/numa/migrate"
	"github.com/xDJTomato/Redis-NUMA-sub001/internal/numa/numacfg"
	"github.com/xDJTomato/Redis-NUMA-sub001/internal/numa/placement"
	"github.com/xDJTomato/Redis-NUMA-sub001/internal/topology"
	errs "github.com/xDJTomato/Redis-NUMA-sub001/pkg/errors"
)

// Manager owns the core's shared state for the process lifetime and is
// passed by reference to every collaborator; nothing here is an ambient
// global.
type Manager struct {
	topo    *topology.Topology
	cfg     *numacfg.Store
	alloc   *alloc.Allocator
	tracker *heat.Tracker
	sel     *placement.Selector
	engine  *migrate.Engine

	keyCount func() int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager builds the controller for the given topology and configuration.
func NewManager(topo *topology.Topology, cfg *numacfg.Store) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	a := alloc.New(topo, cfg.Load().NodeCapacity)
	tracker := heat.NewTracker()
	sel := placement.NewSelector()

	return &Manager{
		topo:    topo,
		cfg:     cfg,
		alloc:   a,
		tracker: tracker,
		sel:     sel,
		engine:  migrate.NewEngine(a, cfg, sel, tracker),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// SetStore attaches the hosting store's key→block mapping to the migration
// worker. Must be called before Start.
func (m *Manager) SetStore(s migrate.Store) {
	m.engine.SetStore(s)
	if counter, ok := s.(interface{ Len() int64 }); ok {
		m.keyCount = counter.Len
	}
}

// Start launches the migration worker and the decay timer.
func (m *Manager) Start() {
	cfg := m.cfg.Load()
	log.Printf("numa: strategy initialized strategy=%s threshold=%d decay_period=%s decay_step=%d nodes=%d",
		cfg.Strategy, cfg.MigrateThreshold, cfg.DecayPeriod, cfg.DecayStep, m.topo.NumNodes())

	m.engine.Start()
	m.wg.Add(1)
	go m.decayLoop()
}

// Stop cancels the background tasks and waits for any in-flight migration
// to complete or drop before returning.
func (m *Manager) Stop() {
	m.cancel()
	m.engine.Stop()
	m.wg.Wait()
	log.Println("numa: manager stopped")
}

// Place selects a home node for a new object of the given size and
// allocates its block. requestingNode is the node of the thread issuing the
// write, or -1 when unknown. On allocation failure the remaining nodes are
// tried in placement order; only when every node is exhausted does the
// failure propagate to the write path.
func (m *Manager) Place(key string, size, requestingNode int) (*alloc.Block, error) {
	cfg := m.cfg.Load()
	snaps := m.alloc.Snapshots()

	pctx := placement.Context{
		Class:      alloc.ClassOf(size),
		Nodes:      snaps,
		Weights:    cfg.Weights,
		Requesting: requestingNode,
		Exclude:    -1,
	}
	node := m.sel.SelectNode(cfg.Strategy, pctx)
	blk, err := m.alloc.Allocate(size, node)
	if err != nil && errors.Is(err, errs.ErrAllocationFailure) {
		// The preferred node is full. Walk the remaining nodes; only
		// global exhaustion reaches the write path.
		for _, alt := range m.topo.Nodes() {
			if alt == node {
				continue
			}
			blk, err = m.alloc.Allocate(size, alt)
			if err == nil {
				break
			}
		}
	}
	if err != nil {
		return nil, err
	}
	m.tracker.Track(key)
	return blk, nil
}

// PlaceAt allocates on an explicit node, bypassing placement. Used by
// tests and by callers that already resolved a node.
func (m *Manager) PlaceAt(key string, size, node int) (*alloc.Block, error) {
	blk, err := m.alloc.Allocate(size, node)
	if err != nil {
		return nil, err
	}
	m.tracker.Track(key)
	return blk, nil
}

// OnAccess records one access to a live object and feeds the migration
// trigger when the access is remote.
func (m *Manager) OnAccess(key string, blk *alloc.Block, accessingNode int) {
	local := accessingNode == blk.Node()
	h, ok := m.tracker.OnAccess(key, local)
	if !ok {
		return
	}
	if !local {
		m.engine.ObserveRemote(key, blk, accessingNode, h)
	}
}

// OnDelete releases an object's heat record and block. The physical free is
// deferred while a migration for the key is in flight.
func (m *Manager) OnDelete(key string, blk *alloc.Block) {
	m.tracker.Forget(key)
	m.engine.FreeAsync(key, blk)
}

// FreeBlock releases a block without touching heat state, for overwrites
// where the key stays live under a fresh record.
func (m *Manager) FreeBlock(key string, blk *alloc.Block) {
	m.engine.FreeAsync(key, blk)
}

// CurrentNode resolves the node of the calling thread.
func (m *Manager) CurrentNode() int {
	return m.topo.CurrentNode()
}

// Topology returns the node topology.
func (m *Manager) Topology() *topology.Topology { return m.topo }

// Config returns the configuration store.
func (m *Manager) Config() *numacfg.Store { return m.cfg }

// SetConfig updates one configuration field from its textual form.
// Capacity changes are pushed straight into the allocator.
func (m *Manager) SetConfig(key, value string) error {
	if err := m.cfg.Set(key, value); err != nil {
		return err
	}
	if key == "node_capacity" {
		m.alloc.SetCapacity(m.cfg.Load().NodeCapacity)
	}
	return nil
}

// Heat exposes the tracker for the stats surface.
func (m *Manager) Heat(key string) (int, bool) { return m.tracker.Heat(key) }

// NodeSnapshots returns per-node allocation counters.
func (m *Manager) NodeSnapshots() []alloc.Snapshot { return m.alloc.Snapshots() }

// MigrationStats returns the engine's cumulative counters.
func (m *Manager) MigrationStats() migrate.Stats { return m.engine.Snapshot() }

// QueueDepth returns the number of pending migration requests.
func (m *Manager) QueueDepth() int { return m.engine.QueueDepth() }

// ForceMigrate queues an operator-requested migration for one key.
func (m *Manager) ForceMigrate(key string, target int) error {
	if err := m.topo.Validate(target); err != nil {
		return err
	}
	return m.engine.Force(key, target)
}

// Rebalance launches one asynchronous rebalance sweep.
func (m *Manager) Rebalance() { m.engine.Rebalance() }

// DecayNow runs one decay pass immediately. The periodic timer uses the
// same path.
func (m *Manager) DecayNow() int {
	cfg := m.cfg.Load()
	n := m.tracker.DecayAll(cfg.DecayStep)
	metrics.RecordDecayCycle()
	log.Printf("numa: decay cycle records_decayed=%d step=%d", n, cfg.DecayStep)
	return n
}

// decayLoop applies the configured decay on its period until shutdown. A
// period change takes effect after the tick that observes it.
func (m *Manager) decayLoop() {
	defer m.wg.Done()

	period := m.cfg.Load().DecayPeriod
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.DecayNow()
			if p := m.cfg.Load().DecayPeriod; p != period {
				period = p
				ticker.Reset(period)
			}
		}
	}
}

// NodeStats implements metrics.NodeSource for the exporter's collector.
func (m *Manager) NodeStats() []metrics.NodeStat {
	snaps := m.alloc.Snapshots()
	out := make([]metrics.NodeStat, 0, len(snaps))
	var keys int64
	if m.keyCount != nil {
		keys = m.keyCount()
	}
	for i, s := range snaps {
		st := metrics.NodeStat{
			Node: s.Node,
			UsedBytes: map[string]int64{
				alloc.ClassSmall.String():  s.UsedBytes[alloc.ClassSmall],
				alloc.ClassMedium.String(): s.UsedBytes[alloc.ClassMedium],
				alloc.ClassLarge.String():  s.UsedBytes[alloc.ClassLarge],
			},
			Pressure: s.Pressure(),
		}
		if i == 0 {
			st.TotalKeys = keys
		}
		out = append(out, st)
	}
	return out
}
