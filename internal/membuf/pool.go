package membuf

import (
	"errors"
	"sync"
	"time"
)

// ErrPoolStopped is returned by Acquire once Stop has been called.
var ErrPoolStopped = errors.New("membuf: pool stopped")

// ErrAcquireTimeout is returned by Acquire when no buffer becomes free
// before the deadline.
var ErrAcquireTimeout = errors.New("membuf: acquire timed out")

// Pool is a fixed-capacity set of equally-sized buffers, created lazily up
// to capacity and recycled through a free list on Release. A negative
// timeout to Acquire blocks indefinitely; the original's MluMemoryPool
// behaves the same way.
type Pool struct {
	mu       sync.Mutex
	cond     *sync.Cond
	bufSize  int
	loc      Location
	deviceID int
	capacity int
	created  int
	free     []*Buffer
	stopped  bool
}

// NewPool creates a pool of at most capacity buffers, each bufSize bytes,
// on the given location/device.
func NewPool(bufSize, capacity int, loc Location, deviceID int) *Pool {
	p := &Pool{
		bufSize:  bufSize,
		loc:      loc,
		deviceID: deviceID,
		capacity: capacity,
	}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Acquire returns a buffer from the pool, creating one lazily if capacity
// allows, or waiting for one to be released. timeout < 0 waits forever;
// timeout == 0 does not wait and returns ErrAcquireTimeout at once if no
// buffer is free; timeout > 0 returns ErrAcquireTimeout if none becomes
// available in time.
func (p *Pool) Acquire(timeout time.Duration) (*Buffer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	deadline := time.Time{}
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	for {
		if p.stopped {
			return nil, ErrPoolStopped
		}
		if n := len(p.free); n > 0 {
			b := p.free[n-1]
			p.free = p.free[:n-1]
			b.refCount = 1
			return b, nil
		}
		if p.created < p.capacity {
			p.created++
			b := &Buffer{
				loc:      p.loc,
				deviceID: p.deviceID,
				size:     p.bufSize,
				refCount: 1,
				owner:    p,
			}
			b.onFree = p.reclaim
			return b, nil
		}
		if timeout == 0 {
			return nil, ErrAcquireTimeout
		}
		if !deadline.IsZero() {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				return nil, ErrAcquireTimeout
			}
			waitOrTimeout(p.cond, remaining)
			continue
		}
		p.cond.Wait()
	}
}

// reclaim returns a released buffer to the free list. It runs under the
// buffer's Release() after its ref count hits zero, outside p.mu, so it
// takes the lock itself.
func (p *Pool) reclaim(b *Buffer) {
	p.mu.Lock()
	p.free = append(p.free, b)
	p.mu.Unlock()
	p.cond.Signal()
}

// Capacity returns the configured maximum buffer count.
func (p *Pool) Capacity() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.capacity
}

// Unavailable reports whether the pool has no free buffer and has already
// created its full capacity — the point at which Acquire would block.
func (p *Pool) Unavailable() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free) == 0 && p.created >= p.capacity
}

// Stop marks the pool closed; pending and future Acquire calls return
// ErrPoolStopped once woken.
func (p *Pool) Stop() {
	p.mu.Lock()
	p.stopped = true
	p.mu.Unlock()
	p.cond.Broadcast()
}

// waitOrTimeout wakes cond.Wait() after d elapses by scheduling a
// cond.Broadcast with time.AfterFunc; sync.Cond has no native timed wait.
func waitOrTimeout(cond *sync.Cond, d time.Duration) {
	timer := time.AfterFunc(d, cond.Broadcast)
	defer timer.Stop()
	cond.Wait()
}
