package topology

import (
	"errors"
	"reflect"
	"testing"

	errs "github.com/xDJTomato/Redis-NUMA-sub001/pkg/errors"
)

func TestParseCPUList(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []int
	}{
		{"empty", "", nil},
		{"single", "3", []int{3}},
		{"range", "0-3", []int{0, 1, 2, 3}},
		{"mixed", "0-2,8,10-11", []int{0, 1, 2, 8, 10, 11}},
		{"garbage", "x-y,z", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseCPUList(tt.input)
			if len(got) == 0 && len(tt.want) == 0 {
				return
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("parseCPUList(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestFixedTopology(t *testing.T) {
	topo := Fixed(2, 8)

	if topo.NumNodes() != 2 {
		t.Fatalf("NumNodes() = %d, want 2", topo.NumNodes())
	}
	if !reflect.DeepEqual(topo.Nodes(), []int{0, 1}) {
		t.Errorf("Nodes() = %v, want [0 1]", topo.Nodes())
	}

	// CPUs stripe round-robin across nodes.
	for cpu := 0; cpu < 8; cpu++ {
		if got := topo.NodeOfCPU(cpu); got != cpu%2 {
			t.Errorf("NodeOfCPU(%d) = %d, want %d", cpu, got, cpu%2)
		}
	}

	// Unknown CPUs fall back to the first node.
	if got := topo.NodeOfCPU(999); got != 0 {
		t.Errorf("NodeOfCPU(999) = %d, want 0", got)
	}
}

func TestValidate(t *testing.T) {
	topo := Fixed(2, 4)

	if err := topo.Validate(1); err != nil {
		t.Errorf("Validate(1) = %v, want nil", err)
	}
	err := topo.Validate(7)
	if !errors.Is(err, errs.ErrUnknownNode) {
		t.Errorf("Validate(7) = %v, want ErrUnknownNode", err)
	}
}

func TestMarkCXL(t *testing.T) {
	topo := Fixed(3, 6)
	topo.MarkCXL(2)

	if got := topo.Kind(2); got != KindCXL {
		t.Errorf("Kind(2) = %v, want cxl", got)
	}
	if got := topo.Kind(0); got != KindDRAM {
		t.Errorf("Kind(0) = %v, want dram", got)
	}

	// Marking an unknown node is a no-op.
	topo.MarkCXL(42)
	if topo.Contains(42) {
		t.Error("MarkCXL(42) must not add a node")
	}
}

func TestCurrentNodeInRange(t *testing.T) {
	topo := Fixed(2, 128)
	node := topo.CurrentNode()
	if node != 0 && node != 1 {
		t.Errorf("CurrentNode() = %d, want 0 or 1", node)
	}
}
