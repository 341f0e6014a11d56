package cache

import (
	"context"
	"sync"
	"time"

	"github.com/tutu-network/tutu-infer/internal/domain"
	"github.com/tutu-network/tutu-infer/internal/task"
)

// entry is one queued DataItem plus the priority/context it arrived with.
type entry struct {
	item     *task.DataItem
	priority domain.Priority
	ctx      context.Context
}

// DynamicCache batches DataItems from any number of independent requests
// together, up to batchSize, flushing early once timeout elapses since the
// oldest pending item arrived even if the batch never fills. A single
// background goroutine owns the timer — not one per Push call — so an idle
// cache costs one goroutine that a ticker wakes every timeout/2.
type DynamicCache struct {
	batchSize int
	timeout   time.Duration

	mu      sync.Mutex
	cond    *sync.Cond
	pending []entry
	oldest  time.Time
	ready   []*task.Package
	closed  bool

	wakeTimer chan struct{}
	stopOnce  sync.Once
	stopCh    chan struct{}
}

// NewDynamic creates a dynamic cache flushing at batchSize items or after
// timeout since the first item in an incomplete batch arrived, whichever
// comes first.
func NewDynamic(batchSize int, timeout time.Duration) *DynamicCache {
	c := &DynamicCache{
		batchSize: batchSize,
		timeout:   timeout,
		wakeTimer: make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
	}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// Start launches the background timer goroutine. Call once before Push/Pop.
func (c *DynamicCache) Start() {
	go c.timerLoop()
}

// Stop closes the cache; blocked Push/Pop calls return ErrClosed.
func (c *DynamicCache) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.cond.Broadcast()
}

// Push enqueues items for batching.
func (c *DynamicCache) Push(ctx context.Context, priority domain.Priority, items []*task.DataItem) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	wasEmpty := len(c.pending) == 0
	for _, it := range items {
		c.pending = append(c.pending, entry{item: it, priority: priority, ctx: ctx})
	}
	if wasEmpty && len(c.pending) > 0 {
		c.oldest = time.Now()
	}
	c.assembleLocked()
	c.mu.Unlock()
	c.cond.Broadcast()
	select {
	case c.wakeTimer <- struct{}{}:
	default:
	}
	return nil
}

// Pop blocks until a batch is ready or the cache is stopped. Before
// returning, it rechecks the front package for items discarded after they
// were batched: if any are found, it drops them, reassembles the
// survivors into correctly sized packages, prepends those back to the
// ready queue, and loops — so a package built entirely of discarded items
// never reaches an Engine, even though the discard happened well after the
// batch was cut.
func (c *DynamicCache) Pop() (*task.Package, error) {
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

// assembleLocked cuts as many full batchSize packages as the pending
// queue allows. Caller holds c.mu.
func (c *DynamicCache) assembleLocked() {
	for len(c.pending) >= c.batchSize {
		c.cutLocked(c.batchSize)
	}
}

// flushLocked cuts whatever is pending into one partial batch, used when
// the timeout fires before batchSize is reached.
func (c *DynamicCache) flushLocked() {
	if len(c.pending) == 0 {
		return
	}
	c.cutLocked(len(c.pending))
}

// cutLocked cuts the first n pending entries into one ready Package. The
// package's priority is the FIFO-earliest entry's own priority biased by
// its negated request id, matching cache.h's
// GetPriority().Get(-data.at(0)->ctrl->RequestId()) — so within one batch,
// the request that arrived first also sorts first once downstream work of
// the same major band competes for the pool. Discard filtering happens
// later, in Pop, not here.
func (c *DynamicCache) cutLocked(n int) {
	chunk := c.pending[:n]
	c.pending = c.pending[n:]
	if len(c.pending) > 0 {
		c.oldest = time.Now()
	}

	items := make([]*task.DataItem, 0, len(chunk))
	for _, e := range chunk {
		items = append(items, e.item)
	}

	first := chunk[0]
	priority := first.priority
	if first.item.Ctrl != nil {
		priority = domain.Bias(priority, -first.item.Ctrl.RequestID())
	}
	ctx := first.ctx
	if ctx == nil {
		ctx = context.Background()
	}

	c.ready = append(c.ready, &task.Package{
		Data:     items,
		Priority: priority,
		Ctx:      ctx,
	})
}

// timerLoop periodically flushes a partial batch once it has aged past
// c.timeout, so a low-traffic stream of requests never stalls waiting for
// a full batch to accumulate.
func (c *DynamicCache) timerLoop() {
	ticker := time.NewTicker(c.timeout / 2)
	if c.timeout <= 0 {
		ticker = time.NewTicker(time.Second)
	}
	defer ticker.Stop()
	for {
		select {
		case <-c.stopCh:
			return
		case <-c.wakeTimer:
		case <-ticker.C:
		}
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return
		}
		if len(c.pending) > 0 && !c.oldest.IsZero() && time.Since(c.oldest) >= c.timeout {
			c.flushLocked()
		}
		c.mu.Unlock()
		c.cond.Broadcast()
	}
}
