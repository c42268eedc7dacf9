// Package topology discovers the machine's NUMA layout: which memory nodes
// exist, which kind of memory backs them, and which CPU belongs to which node.
// Every other component resolves node ids through this package.
package topology

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	errs "github.com/xDJTomato/Redis-NUMA-sub001/pkg/errors"
)

const sysNodePath = "/sys/devices/system/node"

// NodeKind distinguishes local DRAM nodes from CXL-attached capacity nodes.
type NodeKind int

const (
	KindDRAM NodeKind = iota
	KindCXL
)

func (k NodeKind) String() string {
	if k == KindCXL {
		return "cxl"
	}
	return "dram"
}

// Topology is an immutable snapshot of the memory nodes available to the
// process and the cpu→node mapping.
type Topology struct {
	nodes   []int
	kinds   map[int]NodeKind
	cpuNode map[int]int
}

// Nodes returns the node ids in ascending order.
func (t *Topology) Nodes() []int { return t.nodes }

// NumNodes returns the number of memory nodes.
func (t *Topology) NumNodes() int { return len(t.nodes) }

// Contains reports whether node is part of the topology.
func (t *Topology) Contains(node int) bool {
	_, ok := t.kinds[node]
	return ok
}

// Kind returns the memory kind backing a node. Unknown nodes report DRAM.
func (t *Topology) Kind(node int) NodeKind { return t.kinds[node] }

// NodeOfCPU returns the node a CPU belongs to, defaulting to the first node
// for CPUs outside the map.
func (t *Topology) NodeOfCPU(cpu int) int {
	if n, ok := t.cpuNode[cpu]; ok {
		return n
	}
	return t.nodes[0]
}

// CurrentNode resolves the node of the CPU executing the caller.
func (t *Topology) CurrentNode() int {
	return t.NodeOfCPU(currentCPU())
}

// Validate returns ErrUnknownNode if node is not part of the topology.
func (t *Topology) Validate(node int) error {
	if !t.Contains(node) {
		return fmt.Errorf("%w: %d", errs.ErrUnknownNode, node)
	}
	return nil
}

// Detect reads the NUMA topology from sysfs. Nodes without any CPU attached
// are treated as CXL capacity tiers: memory-only nodes are how CXL expanders
// show up under /sys/devices/system/node.
func Detect() (*Topology, error) {
	entries, err := os.ReadDir(sysNodePath)
	if err != nil {
		return nil, fmt.Errorf("read NUMA sysfs: %w", err)
	}

	t := &Topology{
		kinds:   make(map[int]NodeKind),
		cpuNode: make(map[int]int),
	}
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), "node") {
			continue
		}
		id, err := strconv.Atoi(strings.TrimPrefix(entry.Name(), "node"))
		if err != nil {
			continue
		}
		t.nodes = append(t.nodes, id)

		data, err := os.ReadFile(filepath.Join(sysNodePath, entry.Name(), "cpulist"))
		cpus := parseCPUList(strings.TrimSpace(string(data)))
		if err != nil || len(cpus) == 0 {
			t.kinds[id] = KindCXL
			continue
		}
		t.kinds[id] = KindDRAM
		for _, cpu := range cpus {
			t.cpuNode[cpu] = id
		}
	}
	if len(t.nodes) == 0 {
		return nil, fmt.Errorf("no NUMA nodes found under %s", sysNodePath)
	}
	sort.Ints(t.nodes)
	return t, nil
}

// Fixed builds a synthetic topology of n DRAM nodes with CPUs striped
// round-robin across them. Used on machines without a NUMA sysfs view and
// throughout the tests.
func Fixed(n, numCPUs int) *Topology {
	if n < 1 {
		n = 1
	}
	t := &Topology{
		kinds:   make(map[int]NodeKind),
		cpuNode: make(map[int]int),
	}
	for i := 0; i < n; i++ {
		t.nodes = append(t.nodes, i)
		t.kinds[i] = KindDRAM
	}
	for cpu := 0; cpu < numCPUs; cpu++ {
		t.cpuNode[cpu] = cpu % n
	}
	return t
}

// MarkCXL reclassifies a node as a CXL capacity tier. Used to model
// capacity-tier nodes on synthetic topologies.
func (t *Topology) MarkCXL(node int) {
	if _, ok := t.kinds[node]; ok {
		t.kinds[node] = KindCXL
	}
}

// parseCPUList expands a sysfs cpulist such as "0-3,8,10-11".
func parseCPUList(list string) []int {
	var cpus []int
	if list == "" {
		return cpus
	}
	for _, part := range strings.Split(list, ",") {
		part = strings.TrimSpace(part)
		if lo, hi, ok := strings.Cut(part, "-"); ok {
			start, err1 := strconv.Atoi(lo)
			end, err2 := strconv.Atoi(hi)
			if err1 != nil || err2 != nil {
				continue
			}
			for i := start; i <= end; i++ {
				cpus = append(cpus, i)
			}
		} else if cpu, err := strconv.Atoi(part); err == nil {
			cpus = append(cpus, cpu)
		}
	}
	return cpus
}
