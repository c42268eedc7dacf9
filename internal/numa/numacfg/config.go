// Package numacfg holds the process-wide placement and migration
// configuration. Readers on the allocation and access hot paths take
// immutable snapshots; the control surface installs replacement copies, so a
// writer never blocks readers.
package numacfg

import (
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/xDJTomato/Redis-NUMA-sub001/internal/numa/placement"
	errs "github.com/xDJTomato/Redis-NUMA-sub001/pkg/errors"
)

const (
	// HeatMax bounds per-object hotness. Matches the 3-bit hotness level of
	// the LRU clock integration.
	HeatMax = 7

	// HeatBaseline is the hotness assigned to an object right after a
	// completed migration: still warm, but below the default trigger.
	HeatBaseline = 3

	// DefaultMigrateThreshold triggers migration at hotness >= 5.
	DefaultMigrateThreshold = 5

	// DefaultDecayPeriod is the interval between decay cycles.
	DefaultDecayPeriod = 10 * time.Second

	// DefaultDecayStep is the hotness decrement applied per decay cycle.
	DefaultDecayStep = 1

	// DefaultPressureThreshold is the node free-space pressure above which a
	// rebalance sweep picks victims from the node.
	DefaultPressureThreshold = 0.8

	// DefaultNodeCapacity bounds allocations per node (bytes).
	DefaultNodeCapacity = 512 << 20
)

// Config is an immutable configuration snapshot. Mutations go through
// Store.Set or Store.Update, which install a fresh copy.
type Config struct {
	// Strategy is the active placement policy.
	Strategy placement.Policy

	// Weights holds per-node weights for the weighted policy. Weight 0
	// excludes a node. Indexed by node id.
	Weights []int

	// MigrateThreshold is the minimum hotness for a remote access to
	// trigger a migration. Range 1..HeatMax.
	MigrateThreshold int

	// DecayPeriod is the interval between full decay passes.
	DecayPeriod time.Duration

	// DecayStep is the hotness decrement per decay pass. Range 1..HeatMax.
	DecayStep int

	// PressureThreshold is the per-node pressure above which the rebalance
	// sweep evacuates victims. Range (0, 1].
	PressureThreshold float64

	// NodeCapacity is the allocation budget per node in bytes.
	NodeCapacity int64
}

// Default returns the startup configuration for numNodes nodes.
func Default(numNodes int) *Config {
	weights := make([]int, numNodes)
	for i := range weights {
		weights[i] = 100
	}
	return &Config{
		Strategy:          placement.LocalFirst,
		Weights:           weights,
		MigrateThreshold:  DefaultMigrateThreshold,
		DecayPeriod:       DefaultDecayPeriod,
		DecayStep:         DefaultDecayStep,
		PressureThreshold: DefaultPressureThreshold,
		NodeCapacity:      DefaultNodeCapacity,
	}
}

// Fields returns the configuration as ordered name/value string pairs for
// the CONFIG GET surface. Every key here is accepted by Store.Set.
func (c *Config) Fields() [][2]string {
	out := [][2]string{
		{"strategy", c.Strategy.String()},
		{"migrate_threshold", strconv.Itoa(c.MigrateThreshold)},
		{"decay_period", c.DecayPeriod.String()},
		{"decay_step", strconv.Itoa(c.DecayStep)},
		{"pressure_threshold", strconv.FormatFloat(c.PressureThreshold, 'f', -1, 64)},
		{"node_capacity", strconv.FormatInt(c.NodeCapacity, 10)},
	}
	for i, w := range c.Weights {
		out = append(out, [2]string{"weight_" + strconv.Itoa(i), strconv.Itoa(w)})
	}
	return out
}

// clone returns a deep copy ready for mutation.
func (c *Config) clone() *Config {
	cp := *c
	cp.Weights = append([]int(nil), c.Weights...)
	return &cp
}

// Store publishes Config snapshots. The zero value is not usable; create
// with NewStore.
type Store struct {
	p atomic.Pointer[Config]
}

// NewStore creates a config store seeded with cfg.
func NewStore(cfg *Config) *Store {
	s := &Store{}
	s.p.Store(cfg)
	return s
}

// Load returns the current snapshot. Callers must not mutate it.
func (s *Store) Load() *Config {
	return s.p.Load()
}

// Update applies fn to a copy of the current config and installs the result.
func (s *Store) Update(fn func(*Config) error) error {
	for {
		old := s.p.Load()
		next := old.clone()
		if err := fn(next); err != nil {
			return err
		}
		if s.p.CompareAndSwap(old, next) {
			return nil
		}
	}
}

// Set updates one named field from its textual form. Unknown keys and
// out-of-range values return ErrInvalidConfig.
func (s *Store) Set(key, value string) error {
	return s.Update(func(c *Config) error {
		switch key {
		case "strategy":
			p, err := placement.ParsePolicy(value)
			if err != nil {
				return fmt.Errorf("%w: %v", errs.ErrInvalidConfig, err)
			}
			c.Strategy = p

		case "migrate_threshold":
			n, err := strconv.Atoi(value)
			if err != nil || n < 1 || n > HeatMax {
				return fmt.Errorf("%w: migrate_threshold must be 1..%d", errs.ErrInvalidConfig, HeatMax)
			}
			c.MigrateThreshold = n

		case "decay_period":
			d, err := parseDuration(value)
			if err != nil || d <= 0 {
				return fmt.Errorf("%w: decay_period must be a positive duration", errs.ErrInvalidConfig)
			}
			c.DecayPeriod = d

		case "decay_step":
			n, err := strconv.Atoi(value)
			if err != nil || n < 1 || n > HeatMax {
				return fmt.Errorf("%w: decay_step must be 1..%d", errs.ErrInvalidConfig, HeatMax)
			}
			c.DecayStep = n

		case "pressure_threshold":
			f, err := strconv.ParseFloat(value, 64)
			if err != nil || f <= 0 || f > 1 {
				return fmt.Errorf("%w: pressure_threshold must be in (0,1]", errs.ErrInvalidConfig)
			}
			c.PressureThreshold = f

		case "node_capacity":
			n, err := strconv.ParseInt(value, 10, 64)
			if err != nil || n <= 0 {
				return fmt.Errorf("%w: node_capacity must be a positive byte count", errs.ErrInvalidConfig)
			}
			c.NodeCapacity = n

		default:
			if node, ok := weightKey(key); ok {
				w, err := strconv.Atoi(value)
				if err != nil || w < 0 {
					return fmt.Errorf("%w: weight must be >= 0", errs.ErrInvalidConfig)
				}
				if node < 0 || node >= len(c.Weights) {
					return fmt.Errorf("%w: no such node %d", errs.ErrInvalidConfig, node)
				}
				c.Weights[node] = w
				return nil
			}
			return fmt.Errorf("%w: unknown key %q", errs.ErrInvalidConfig, key)
		}
		return nil
	})
}

// weightKey recognizes "weight_<node>" keys.
func weightKey(key string) (int, bool) {
	const prefix = "weight_"
	if len(key) <= len(prefix) || key[:len(prefix)] != prefix {
		return 0, false
	}
	n, err := strconv.Atoi(key[len(prefix):])
	if err != nil {
		return 0, false
	}
	return n, true
}

// parseDuration accepts Go duration strings and bare second counts, since
// operators historically configured the decay period in seconds.
func parseDuration(value string) (time.Duration, error) {
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	return time.ParseDuration(value)
}
