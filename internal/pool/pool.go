package pool

import (
	"container/heap"
	"errors"
	"sync"

	"github.com/tutu-network/tutu-infer/internal/domain"
)

// ErrStopped is returned by Push/VoidPush once the pool has been stopped.
var ErrStopped = errors.New("pool: stopped")

// InitFunc runs once on each worker goroutine before it starts pulling
// tasks, mirroring the original thread pool's per-thread init hook (used
// there to bind a worker to a device context).
type InitFunc func(workerID int)

// Pool is a fixed-or-resizable set of worker goroutines draining a single
// shared max-heap of tasks ordered by domain.Priority.
type Pool struct {
	mu      sync.Mutex
	cond    *sync.Cond
	heap    taskHeap
	workers int
	target  int
	seq     uint64
	stopped bool
	wg      sync.WaitGroup
	initFn  InitFunc
	nextID  int
}

// New starts a pool with the given number of workers. initFn, if non-nil,
// runs once at the top of every worker goroutine, including ones added
// later by Resize.
func New(workers int, initFn InitFunc) *Pool {
	if workers < 1 {
		workers = 1
	}
	p := &Pool{
		workers: 0,
		target:  workers,
		initFn:  initFn,
	}
	p.cond = sync.NewCond(&p.mu)
	p.mu.Lock()
	for i := 0; i < workers; i++ {
		p.startWorkerLocked()
	}
	p.mu.Unlock()
	return p
}

// startWorkerLocked launches one worker goroutine. Caller holds p.mu.
func (p *Pool) startWorkerLocked() {
	id := p.nextID
	p.nextID++
	p.workers++
	p.wg.Add(1)
	go p.run(id)
}

// VoidPush enqueues fn at priority for fire-and-forget execution.
func (p *Pool) VoidPush(priority domain.Priority, fn func()) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return ErrStopped
	}
	p.seq++
	heap.Push(&p.heap, &task{fn: fn, priority: priority, seq: p.seq})
	p.mu.Unlock()
	p.cond.Signal()
	return nil
}

// Push enqueues fn at priority and returns a channel closed once fn has
// run, for callers that need to know completion without blocking the
// submitting goroutine on the work itself.
func (p *Pool) Push(priority domain.Priority, fn func()) (<-chan struct{}, error) {
	done := make(chan struct{})
	err := p.VoidPush(priority, func() {
		defer close(done)
		fn()
	})
	if err != nil {
		return nil, err
	}
	return done, nil
}

// Resize grows or shrinks the worker count to n. Shrinking lets the excess
// workers exit once they finish their current task and find the queue
// drained below the new target; it never aborts in-flight work.
func (p *Pool) Resize(n int) {
	if n < 1 {
		n = 1
	}
	p.mu.Lock()
	p.target = n
	grow := n - p.workers
	for i := 0; i < grow; i++ {
		p.startWorkerLocked()
	}
	p.mu.Unlock()
	if grow != 0 {
		p.cond.Broadcast()
	}
}

// QueueDepth returns the number of tasks currently waiting to run.
func (p *Pool) QueueDepth() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.heap)
}

// Workers returns the current live worker count.
func (p *Pool) Workers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.workers
}

// Stop signals every worker to exit. If wait is true, Stop blocks until
// the queue has drained and all workers have returned; if false, workers
// finish their current task but abandon anything still queued.
func (p *Pool) Stop(wait bool) {
	p.mu.Lock()
	p.stopped = true
	if !wait {
		p.heap = nil
	}
	p.mu.Unlock()
	p.cond.Broadcast()
	p.wg.Wait()
}

func (p *Pool) run(id int) {
	defer p.wg.Done()
	if p.initFn != nil {
		p.initFn(id)
	}
	for {
		p.mu.Lock()
		for len(p.heap) == 0 && !p.stopped && p.workers <= p.target {
			p.cond.Wait()
		}
		if p.workers > p.target && len(p.heap) == 0 {
			p.workers--
			p.mu.Unlock()
			return
		}
		if p.stopped && len(p.heap) == 0 {
			p.workers--
			p.mu.Unlock()
			return
		}
		t := heap.Pop(&p.heap).(*task)
		p.mu.Unlock()
		t.fn()
	}
}
