package migrate

import (
	"container/heap"
	"sync"
	"time"

	"github.com/xDJTomato/Redis-NUMA-sub001/internal/metrics"
)

// Request is a queued intent to move one object between nodes.
type Request struct {
	Key      string
	Source   int
	Target   int
	Priority int
	Forced   bool
	Enqueued time.Time

	seq uint64 // FIFO tie-break among equal priorities
}

// Queue is the pending-migration priority queue: highest priority first,
// FIFO among equals so old requests cannot starve. Enqueue and dequeue are
// O(log n) under a single short mutex, cheap enough for foreground threads.
//
// A key stays marked pending from enqueue until the worker finishes
// servicing it, which is what makes duplicate triggers no-ops.
type Queue struct {
	mu      sync.Mutex
	heap    reqHeap
	pending map[string]struct{}
	seq     uint64
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{pending: make(map[string]struct{})}
}

// Push enqueues r. Returns false without queuing when a request for the key
// is already outstanding.
func (q *Queue) Push(r *Request) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, dup := q.pending[r.Key]; dup {
		return false
	}
	q.pending[r.Key] = struct{}{}
	q.seq++
	r.seq = q.seq
	heap.Push(&q.heap, r)
	metrics.SetQueueDepth(len(q.heap))
	return true
}

// Pop removes the best request. The key stays marked pending until Release,
// covering the MIGRATING window. Returns false on an empty queue.
func (q *Queue) Pop() (*Request, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.heap) == 0 {
		return nil, false
	}
	r := heap.Pop(&q.heap).(*Request)
	metrics.SetQueueDepth(len(q.heap))
	return r, true
}

// Release clears the pending marker after a request was serviced or dropped.
func (q *Queue) Release(key string) {
	q.mu.Lock()
	delete(q.pending, key)
	q.mu.Unlock()
}

// Pending reports whether a request for key is outstanding.
func (q *Queue) Pending(key string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.pending[key]
	return ok
}

// Len returns the number of queued (not yet popped) requests.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.heap)
}

// reqHeap orders by descending priority, then ascending sequence.
type reqHeap []*Request

func (h reqHeap) Len() int { return len(h) }

func (h reqHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority > h[j].Priority
	}
	return h[i].seq < h[j].seq
}

func (h reqHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *reqHeap) Push(x any) {
	*h = append(*h, x.(*Request))
}

func (h *reqHeap) Pop() any {
	old := *h
	n := len(old)
	r := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return r
}
