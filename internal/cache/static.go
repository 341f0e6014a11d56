package cache

import (
	"context"
	"sync"

	"github.com/tutu-network/tutu-infer/internal/domain"
	"github.com/tutu-network/tutu-infer/internal/task"
)

// StaticCache splits a single request's own data into fixed-size chunks
// and never combines data from different requests, unlike DynamicCache.
// Each Push call produces its packages immediately; there is no timer and
// no rebatching across calls.
type StaticCache struct {
	batchSize int

	mu     sync.Mutex
	cond   *sync.Cond
	ready  []*task.Package
	closed bool
}

// NewStatic creates a static cache splitting each request's data into
// chunks of at most batchSize items.
func NewStatic(batchSize int) *StaticCache {
	c := &StaticCache{batchSize: batchSize}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// Start is a no-op for StaticCache — it has no background goroutine — and
// exists to satisfy the Cache interface.
func (c *StaticCache) Start() {}

// Stop closes the cache; blocked Pop calls return ErrClosed.
func (c *StaticCache) Stop() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.cond.Broadcast()
}

// Push splits items into batchSize-sized packages and makes them
// immediately available to Pop — no cross-request mixing and no waiting
// for more data to arrive. Discard filtering happens later, in Pop, not
// here, since an item can be discarded after it was already pushed.
func (c *StaticCache) Push(ctx context.Context, priority domain.Priority, items []*task.DataItem) error {
	if ctx == nil {
		ctx = context.Background()
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	for len(items) > 0 {
		n := c.batchSize
		if n > len(items) {
			n = len(items)
		}
		chunk := items[:n]
		chunkPriority := priority
		if chunk[0].Ctrl != nil {
			chunkPriority = domain.Bias(priority, -chunk[0].Ctrl.RequestID())
		}
		c.ready = append(c.ready, &task.Package{
			Data:     chunk,
			Priority: chunkPriority,
			Ctx:      ctx,
		})
		items = items[n:]
	}
	c.mu.Unlock()
	c.cond.Broadcast()
	return nil
}

// Pop blocks until a package is ready or the cache is stopped. As with
// DynamicCache, it rechecks the front package for items discarded after
// Push, reassembling survivors and prepending them back rather than
// handing an Engine a package that was built before the discard.
func (c *StaticCache) Pop() (*task.Package, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for {
		for len(c.ready) == 0 && !c.closed {
			c.cond.Wait()
		}
		if len(c.ready) == 0 {
			return nil, ErrClosed
		}
		pkg := c.ready[0]
		if !anyDiscarded(pkg.Data) {
			c.ready = c.ready[1:]
			return pkg, nil
		}
		rest := reassemble(pkg, c.batchSize)
		c.ready = append(rest, c.ready[1:]...)
	}
}

var (
	_ Cache = (*DynamicCache)(nil)
	_ Cache = (*StaticCache)(nil)
)
