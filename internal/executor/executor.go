// Package executor runs the dispatch loop that pulls assembled packages
// off a cache.Cache and hands each to whichever of its engines has spare
// capacity, admitting new work only while the cache isn't saturated.
package executor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/tutu-network/tutu-infer/internal/cache"
	"github.com/tutu-network/tutu-infer/internal/engine"
	"github.com/tutu-network/tutu-infer/internal/task"
)

// ErrCacheFullTimeout is returned by WaitIfCacheFull when admission stays
// blocked past the given deadline.
var ErrCacheFullTimeout = errors.New("executor: cache full timeout")

// Runner is the subset of engine.Engine an Executor dispatches through.
type Runner interface {
	Run(pkg *task.Package)
	IsIdle() bool
}

// Executor owns a cache and a set of engines (one engine per Fork, run in
// round-robin so the next idle one is always tried). One goroutine loops
// Pop → pick idle engine → Run; WaitIfCacheFull lets a Session-level Send
// block the caller instead of overrunning the pipeline.
type Executor struct {
	c       cache.Cache
	engines []Runner
	maxCap  int // admission ceiling: max in-flight packages across engines

	mu       sync.Mutex
	cond     *sync.Cond
	inFlight int
	stopped  bool
	done     chan struct{}
}

// New creates an executor dispatching c's packages across engines,
// admitting at most maxCap packages in flight at once before Push-side
// callers should wait.
func New(c cache.Cache, engines []Runner, maxCap int) *Executor {
	e := &Executor{
		c:       c,
		engines: engines,
		maxCap:  maxCap,
		done:    make(chan struct{}),
	}
	e.cond = sync.NewCond(&e.mu)
	return e
}

// Run starts the dispatch loop and the underlying cache. Call once.
func (e *Executor) Run() {
	e.c.Start()
	go e.dispatchLoop()
}

// Stop stops the cache and waits for the dispatch loop to exit.
func (e *Executor) Stop() {
	e.c.Stop()
	<-e.done

	e.mu.Lock()
	e.stopped = true
	e.mu.Unlock()
	e.cond.Broadcast()
}

func (e *Executor) dispatchLoop() {
	defer close(e.done)
	next := 0
	for {
		pkg, err := e.c.Pop()
		if err != nil {
			return
		}
		eng := e.pickEngine(&next)
		e.track(pkg)
		eng.Run(pkg)
	}
}

// track wraps pkg's completion hook so the executor's own in-flight count
// (used for cache-full admission control) drops when the package finishes.
func (e *Executor) track(pkg *task.Package) {
	e.mu.Lock()
	e.inFlight++
	e.mu.Unlock()

	prev := pkg.OnComplete
	pkg.OnComplete = func() {
		e.mu.Lock()
		e.inFlight--
		e.mu.Unlock()
		e.cond.Broadcast()
		if prev != nil {
			prev()
		}
	}
}

// pickEngine returns the next idle engine in round-robin order, or the
// least-loaded one if none report idle.
func (e *Executor) pickEngine(next *int) Runner {
	n := len(e.engines)
	for i := 0; i < n; i++ {
		idx := (*next + i) % n
		if e.engines[idx].IsIdle() {
			*next = (idx + 1) % n
			return e.engines[idx]
		}
	}
	idx := *next % n
	*next = (idx + 1) % n
	return e.engines[idx]
}

// WaitIfCacheFull blocks while the executor is at its admission ceiling,
// returning nil once capacity frees up, ctx.Err() if ctx is cancelled
// first, or ErrCacheFullTimeout if timeout elapses first (timeout <= 0
// disables the timeout and only ctx can interrupt the wait).
func (e *Executor) WaitIfCacheFull(ctx context.Context, timeout time.Duration) error {
	e.mu.Lock()
	if e.inFlight < e.maxCap {
		e.mu.Unlock()
		return nil
	}

	woke := make(chan struct{})
	go func() {
		e.mu.Lock()
		for e.inFlight >= e.maxCap && !e.stopped {
			e.cond.Wait()
		}
		e.mu.Unlock()
		close(woke)
	}()
	e.mu.Unlock()

	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	select {
	case <-woke:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-deadline:
		return ErrCacheFullTimeout
	}
}

// Cache returns the underlying cache new work is pushed into.
func (e *Executor) Cache() cache.Cache { return e.c }

// InFlight returns the current in-flight package count.
func (e *Executor) InFlight() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.inFlight
}

var _ Runner = (*engine.Engine)(nil)
