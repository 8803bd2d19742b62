// Package sched implements the priority-ordered queue of outstanding
// granule-load requests plus the in-flight pending set that deduplicates
// concurrent work on the same granule.
package sched

import (
	"container/heap"
	"sync"

	"github.com/gogpu/vstream/streamcore"
)

// Queue is a priority queue of stream requests with an attached pending
// set.
//
// The pending set is guarded by a lock distinct from the queue's own lock
// so that a worker can check-and-mark "I am handling this granule"
// atomically with respect to other workers without serializing against
// producers still pushing new requests.
//
// Requests for granules that have since become resident are not filtered
// at push time; workers discard them at pop time against the residency
// table. This keeps Push cheap and centralizes the correctness check at
// the single point where residency is read.
type Queue struct {
	mu   sync.Mutex
	heap requestHeap

	pendingMu sync.Mutex
	pending   map[streamcore.GranuleKey]struct{}

	// kick wakes one idle worker after a push. Buffered with capacity one:
	// a pending kick is enough, workers re-scan the queue until empty.
	kick chan struct{}
}

// NewQueue creates an empty request queue.
func NewQueue() *Queue {
	return &Queue{
		pending: make(map[streamcore.GranuleKey]struct{}),
		kick:    make(chan struct{}, 1),
	}
}

// Push enqueues a request and wakes an idle worker.
func (q *Queue) Push(req streamcore.Request) {
	q.mu.Lock()
	heap.Push(&q.heap, req)
	q.mu.Unlock()

	select {
	case q.kick <- struct{}{}:
	default:
	}
}

// TryPop removes and returns the highest-priority request, if any.
func (q *Queue) TryPop() (streamcore.Request, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.heap.Len() == 0 {
		return streamcore.Request{}, false
	}
	req, _ := heap.Pop(&q.heap).(streamcore.Request)
	return req, true
}

// Len returns the number of queued requests.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.heap.Len()
}

// Kick returns the wakeup channel workers block on when the queue is
// empty.
func (q *Queue) Kick() <-chan struct{} { return q.kick }

// TryBeginPending atomically marks a granule as in-flight. Returns false
// if another worker already holds it; the caller must then discard the
// request.
func (q *Queue) TryBeginPending(key streamcore.GranuleKey) bool {
	q.pendingMu.Lock()
	defer q.pendingMu.Unlock()
	if _, ok := q.pending[key]; ok {
		return false
	}
	q.pending[key] = struct{}{}
	return true
}

// EndPending clears the in-flight mark of a granule.
func (q *Queue) EndPending(key streamcore.GranuleKey) {
	q.pendingMu.Lock()
	delete(q.pending, key)
	q.pendingMu.Unlock()
}

// IsPending returns true if a worker currently handles the granule.
func (q *Queue) IsPending(key streamcore.GranuleKey) bool {
	q.pendingMu.Lock()
	defer q.pendingMu.Unlock()
	_, ok := q.pending[key]
	return ok
}

// requestHeap orders requests by (priority desc, coverage desc, seq asc).
type requestHeap []streamcore.Request

func (h requestHeap) Len() int { return len(h) }

func (h requestHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority > h[j].Priority
	}
	if h[i].Coverage != h[j].Coverage {
		return h[i].Coverage > h[j].Coverage
	}
	return h[i].Seq < h[j].Seq
}

func (h requestHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *requestHeap) Push(x any) {
	req, _ := x.(streamcore.Request)
	*h = append(*h, req)
}

func (h *requestHeap) Pop() any {
	old := *h
	n := len(old)
	req := old[n-1]
	*h = old[:n-1]
	return req
}
