// Package pool implements the priority-ordered worker pool the scheduler
// core submits every stage invocation to: a bounded set of goroutines
// pulling from a single max-heap ordered by domain.Priority, so that a
// task's priority — not its arrival order — decides when it runs.
package pool

import (
	"container/heap"

	"github.com/tutu-network/tutu-infer/internal/domain"
)

// task wraps a submitted function with the priority it was queued at and
// a monotonically increasing sequence number used to break ties FIFO.
type task struct {
	fn       func()
	priority domain.Priority
	seq      uint64
	index    int
}

// taskHeap is a container/heap.Interface max-heap: Pop always returns the
// highest-priority task, and among equal priorities the one queued first.
type taskHeap []*task

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].seq < h[j].seq
}

func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *taskHeap) Push(x any) {
	t := x.(*task)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}

var _ heap.Interface = (*taskHeap)(nil)
