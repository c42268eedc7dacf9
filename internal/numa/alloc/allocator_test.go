package alloc

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/xDJTomato/Redis-NUMA-sub001/internal/topology"
	errs "github.com/xDJTomato/Redis-NUMA-sub001/pkg/errors"
)

func newTestAllocator(nodes int, capacity int64) *Allocator {
	return New(topology.Fixed(nodes, nodes*2), capacity)
}

func TestAllocateTagsBlock(t *testing.T) {
	a := newTestAllocator(2, 1<<20)

	tests := []struct {
		size int
		want SizeClass
	}{
		{64, ClassSmall},
		{128, ClassSmall},
		{129, ClassMedium},
		{16384, ClassMedium},
		{16385, ClassLarge},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%dB", tt.size), func(t *testing.T) {
			b, err := a.Allocate(tt.size, 1)
			if err != nil {
				t.Fatalf("Allocate(%d, 1) failed: %v", tt.size, err)
			}
			if b.Class() != tt.want {
				t.Errorf("class = %v, want %v", b.Class(), tt.want)
			}
			if b.Node() != 1 {
				t.Errorf("node = %d, want 1", b.Node())
			}
			if b.Size() != tt.size {
				t.Errorf("size = %d, want %d", b.Size(), tt.size)
			}
			a.Free(b)
		})
	}
}

func TestAllocateZeroSize(t *testing.T) {
	// An empty value is a legal write: it gets a small-class block with a
	// zero-length payload and a normal home node.
	a := newTestAllocator(2, 1<<20)
	b, err := a.Allocate(0, 1)
	if err != nil {
		t.Fatalf("Allocate(0, 1) failed: %v", err)
	}
	if b.Class() != ClassSmall {
		t.Errorf("class = %v, want ClassSmall", b.Class())
	}
	if b.Size() != 0 || b.Node() != 1 {
		t.Errorf("size/node = %d/%d, want 0/1", b.Size(), b.Node())
	}
	a.Free(b)

	if _, err := a.Allocate(-1, 1); err == nil {
		t.Error("negative size accepted")
	}
}

func TestAllocateUnknownNode(t *testing.T) {
	a := newTestAllocator(2, 1<<20)
	if _, err := a.Allocate(64, 9); !errors.Is(err, errs.ErrUnknownNode) {
		t.Errorf("Allocate on node 9 = %v, want ErrUnknownNode", err)
	}
}

func TestCapacityExhaustion(t *testing.T) {
	// Capacity fits exactly one slab segment; the second small object still
	// fits (same segment), but growing for a medium chunk must fail.
	a := newTestAllocator(1, slabSegmentBytes)

	b1, err := a.Allocate(100, 0)
	if err != nil {
		t.Fatalf("first small alloc failed: %v", err)
	}
	if _, err := a.Allocate(100, 0); err != nil {
		t.Fatalf("second small alloc (same segment) failed: %v", err)
	}

	_, err = a.Allocate(1024, 0)
	if !errors.Is(err, errs.ErrAllocationFailure) {
		t.Errorf("medium alloc past capacity = %v, want ErrAllocationFailure", err)
	}

	// Freeing does not release slab reservations, so large still fails.
	a.Free(b1)
	if _, err := a.Allocate(60000, 0); !errors.Is(err, errs.ErrAllocationFailure) {
		t.Errorf("large alloc past capacity = %v, want ErrAllocationFailure", err)
	}
}

func TestLargeFreeReleasesCapacity(t *testing.T) {
	a := newTestAllocator(1, 100_000)

	b, err := a.Allocate(90_000, 0)
	if err != nil {
		t.Fatalf("large alloc failed: %v", err)
	}
	if _, err := a.Allocate(90_000, 0); !errors.Is(err, errs.ErrAllocationFailure) {
		t.Fatal("expected exhaustion while first large block is live")
	}
	a.Free(b)
	b2, err := a.Allocate(90_000, 0)
	if err != nil {
		t.Fatalf("large alloc after free failed: %v", err)
	}
	a.Free(b2)
}

func TestSlabSlotReuse(t *testing.T) {
	a := newTestAllocator(1, 1<<20)

	b1, _ := a.Allocate(128, 0)
	copy(b1.Bytes(), []byte("dirty"))
	a.Free(b1)

	s1, _ := a.Snapshot(0)
	b2, err := a.Allocate(128, 0)
	if err != nil {
		t.Fatal(err)
	}
	s2, _ := a.Snapshot(0)

	// Reuse must not grow the reservation, and recycled slots come zeroed.
	if s2.Reserved != s1.Reserved {
		t.Errorf("reserved grew on slot reuse: %d -> %d", s1.Reserved, s2.Reserved)
	}
	for i, v := range b2.Bytes() {
		if v != 0 {
			t.Fatalf("recycled slot not zeroed at byte %d", i)
		}
	}
	a.Free(b2)
}

func TestChunkSpanCoalescing(t *testing.T) {
	a := newTestAllocator(1, 1<<20)

	// Fill most of one chunk, free everything, then allocate a span that
	// only fits if neighbors were merged back together.
	var blocks []*Block
	for i := 0; i < 4; i++ {
		b, err := a.Allocate(16000, 0)
		if err != nil {
			t.Fatalf("alloc %d failed: %v", i, err)
		}
		blocks = append(blocks, b)
	}
	s, _ := a.Snapshot(0)
	if s.Reserved != chunkBytes {
		t.Fatalf("expected a single chunk reserved, got %d", s.Reserved)
	}
	for _, b := range blocks {
		a.Free(b)
	}

	b, err := a.Allocate(MediumMax, 0)
	if err != nil {
		t.Fatalf("full-span alloc after coalescing failed: %v", err)
	}
	s, _ = a.Snapshot(0)
	if s.Reserved != chunkBytes {
		t.Errorf("coalescing failed, pool grew to %d bytes", s.Reserved)
	}
	a.Free(b)
}

func TestMigrateCopy(t *testing.T) {
	a := newTestAllocator(2, 1<<20)

	b, err := a.Allocate(300, 0)
	if err != nil {
		t.Fatal(err)
	}
	for i := range b.Bytes() {
		b.Bytes()[i] = byte(i)
	}

	nb, err := a.MigrateCopy(b, 1)
	if err != nil {
		t.Fatalf("MigrateCopy failed: %v", err)
	}
	if nb.Node() != 1 || nb.Size() != b.Size() || nb.Class() != b.Class() {
		t.Errorf("copy mis-tagged: node=%d size=%d class=%v", nb.Node(), nb.Size(), nb.Class())
	}
	// Old block stays valid until the caller frees it.
	for i := range nb.Bytes() {
		if nb.Bytes()[i] != b.Bytes()[i] {
			t.Fatalf("byte %d differs after copy", i)
		}
	}
	a.Free(b)
	a.Free(nb)
}

func TestMigrateCopyTargetFull(t *testing.T) {
	a := newTestAllocator(2, 64*1024)

	b, err := a.Allocate(40_000, 0)
	if err != nil {
		t.Fatal(err)
	}
	filler, err := a.Allocate(40_000, 1)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := a.MigrateCopy(b, 1); !errors.Is(err, errs.ErrAllocationFailure) {
		t.Errorf("MigrateCopy to full node = %v, want ErrAllocationFailure", err)
	}
	a.Free(b)
	a.Free(filler)
}

func TestNodeStateAccounting(t *testing.T) {
	a := newTestAllocator(1, 1<<20)

	b1, _ := a.Allocate(100, 0)
	b2, _ := a.Allocate(5000, 0)
	b3, _ := a.Allocate(20000, 0)

	s, ok := a.Snapshot(0)
	if !ok {
		t.Fatal("missing snapshot for node 0")
	}
	if s.UsedBytes[ClassSmall] != 100 || s.UsedBytes[ClassMedium] != 5000 || s.UsedBytes[ClassLarge] != 20000 {
		t.Errorf("used bytes = %v", s.UsedBytes)
	}
	if s.Allocs != 3 {
		t.Errorf("allocs = %d, want 3", s.Allocs)
	}
	if s.Fragmentation() < 1 {
		t.Errorf("fragmentation %f < 1", s.Fragmentation())
	}
	if s.Pressure() <= 0 || s.Pressure() > 1 {
		t.Errorf("pressure %f out of range", s.Pressure())
	}

	a.Free(b1)
	a.Free(b2)
	a.Free(b3)
	s, _ = a.Snapshot(0)
	if got := s.Used(); got != 0 {
		t.Errorf("used after frees = %d, want 0", got)
	}
	if s.Frees != 3 {
		t.Errorf("frees = %d, want 3", s.Frees)
	}
}

func TestConcurrentAllocFree(t *testing.T) {
	a := newTestAllocator(2, 16<<20)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			node := g % 2
			for i := 0; i < 500; i++ {
				size := 1 + (g*131+i*17)%4000
				b, err := a.Allocate(size, node)
				if err != nil {
					t.Errorf("alloc failed: %v", err)
					return
				}
				b.Bytes()[0] = byte(i)
				a.Free(b)
			}
		}(g)
	}
	wg.Wait()

	for _, s := range a.Snapshots() {
		if s.Used() != 0 {
			t.Errorf("node %d used = %d after drain", s.Node, s.Used())
		}
	}
}
