// Package session provides the per-client handle Server hands out:
// Session.Send submits work and returns immediately, while a background
// response loop delivers completed requests back to the caller in the
// exact order they were sent, regardless of which one's processing
// actually finished first.
package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/tutu-network/tutu-infer/internal/cache"
	"github.com/tutu-network/tutu-infer/internal/domain"
	"github.com/tutu-network/tutu-infer/internal/executor"
	"github.com/tutu-network/tutu-infer/internal/membuf"
	"github.com/tutu-network/tutu-infer/internal/task"
)

// ErrClosed is returned by Send once the session has been destroyed.
var ErrClosed = errors.New("session: closed")

// responsePriorityBump is added to a request's original priority when its
// completion is handed back to the caller, so delivering a finished result
// is never starved behind freshly submitted work of the same base class.
const responsePriorityBump = 5

// ResponseFunc is invoked, in FIFO submission order, once per request.
type ResponseFunc func(tag string, status domain.Status, outputs []membuf.ModelIO)

// Submitter is the priority-ordered submission surface a Session uses to
// dispatch response delivery at an elevated priority.
type Submitter interface {
	VoidPush(priority domain.Priority, fn func()) error
}

// pending is one in-flight request tracked in submission order.
type pending struct {
	ctrl     *task.RequestControl
	priority domain.Priority
	items    []*task.DataItem
}

// outputs collects each item's final ModelIO, in original request order.
func (p *pending) outputs() []membuf.ModelIO {
	out := make([]membuf.ModelIO, len(p.items))
	for i, it := range p.items {
		out[i] = it.IO
	}
	return out
}

// Session is a FIFO handle over one client's requests. All requests sent
// through one Session are delivered back through onResponse in the order
// they were submitted, even though they may finish out of order.
type Session struct {
	exec       *executor.Executor
	c          cache.Cache
	pool       Submitter
	onResponse ResponseFunc

	mu            sync.Mutex
	deque         []*pending
	running       bool
	inResponse    int32
	nextRequestID int64

	drainWg sync.WaitGroup
}

// New creates a Session dispatching work through exec's cache and
// executor, submitting response delivery through pool, and invoking
// onResponse for each completed request in FIFO order.
func New(exec *executor.Executor, pool Submitter, onResponse ResponseFunc) *Session {
	return &Session{
		exec:       exec,
		c:          exec.Cache(),
		pool:       pool,
		onResponse: onResponse,
		running:    true,
	}
}

// nextID returns the next value of this session's monotonically
// increasing request-id counter, used to bias batch priority so earlier
// requests sort ahead of later ones within the same major band.
func (s *Session) nextID() int64 {
	return atomic.AddInt64(&s.nextRequestID, 1)
}

// Send submits ios as one request at priority, returning its tag
// immediately; the result arrives later via onResponse. ios is one
// request's data, possibly split across multiple items if it spans more
// than one batch slot.
func (s *Session) Send(ctx context.Context, priority domain.Priority, ios []membuf.ModelIO) (string, error) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return "", ErrClosed
	}
	s.mu.Unlock()

	tag := uuid.NewString()
	p := &pending{priority: priority}
	p.ctrl = task.NewRequestControl(tag, s.nextID(), len(ios), func(*task.RequestControl) {
		s.checkAndRespond()
	})
	p.items = make([]*task.DataItem, len(ios))
	for i, io := range ios {
		p.items[i] = &task.DataItem{IO: io, Ctrl: p.ctrl, Index: i}
	}

	s.mu.Lock()
	s.deque = append(s.deque, p)
	s.drainWg.Add(1)
	s.mu.Unlock()

	// An empty request has nothing to run; completing its barrier now
	// delivers it, in order, as a zero-length response.
	if len(p.items) == 0 {
		p.ctrl.ProcessDone(domain.StatusSuccess)
		return tag, nil
	}

	if err := s.exec.WaitIfCacheFull(ctx, 0); err != nil {
		s.removePending(p)
		return "", err
	}
	if err := s.c.Push(ctx, priority, p.items); err != nil {
		s.removePending(p)
		return "", err
	}
	return tag, nil
}

// SendSync submits ios like Send, but blocks until the request completes
// and returns its outputs directly instead of going through onResponse —
// it bypasses the FIFO response-ordering deque entirely, since a blocked
// synchronous caller has no ordering to respect but its own request.
func (s *Session) SendSync(ctx context.Context, priority domain.Priority, ios []membuf.ModelIO) ([]membuf.ModelIO, domain.Status, error) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil, domain.StatusErrorBackend, ErrClosed
	}
	s.mu.Unlock()

	p := &pending{priority: priority}
	p.ctrl = task.NewRequestControl(uuid.NewString(), s.nextID(), len(ios), nil)
	p.items = make([]*task.DataItem, len(ios))
	for i, io := range ios {
		p.items[i] = &task.DataItem{IO: io, Ctrl: p.ctrl, Index: i}
	}

	if err := s.exec.WaitIfCacheFull(ctx, 0); err != nil {
		return nil, domain.StatusTimeout, err
	}
	if err := s.c.Push(ctx, priority, p.items); err != nil {
		return nil, domain.StatusErrorBackend, err
	}
	if err := p.ctrl.Wait(ctx); err != nil {
		return nil, domain.StatusTimeout, err
	}
	return p.outputs(), p.ctrl.Status(), nil
}

func (s *Session) removePending(p *pending) {
	s.mu.Lock()
	for i, q := range s.deque {
		if q == p {
			s.deque = append(s.deque[:i], s.deque[i+1:]...)
			break
		}
	}
	s.mu.Unlock()
	s.drainWg.Done()
}

// DiscardTask withdraws every not-yet-processed item of the request
// identified by tag. Already-running items still finish; discarded items
// are dropped when the cache pops their batch for dispatch and reported
// as a vacuous success, so the request still completes normally.
func (s *Session) DiscardTask(tag string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.deque {
		if p.ctrl.Tag() != tag {
			continue
		}
		for _, it := range p.items {
			it.Discard()
		}
		return
	}
}

// WaitTaskDone blocks until the request identified by tag has completed,
// or ctx is cancelled. If several pending requests carry tag, it waits
// for the most recently sent one.
func (s *Session) WaitTaskDone(ctx context.Context, tag string) (domain.Status, error) {
	s.mu.Lock()
	var p *pending
	for _, q := range s.deque {
		if q.ctrl.Tag() == tag {
			p = q
		}
	}
	s.mu.Unlock()
	if p == nil {
		return domain.StatusSuccess, nil
	}
	if err := p.ctrl.Wait(ctx); err != nil {
		return domain.StatusTimeout, err
	}
	return p.ctrl.Status(), nil
}

// checkAndRespond is called every time some request's RequestControl
// finishes. It CAS-guards a single responder: only one goroutine at a
// time walks the deque delivering completed fronts, and it keeps going
// until the new front isn't done yet, at which point it releases the
// flag and checks that front once more — the front's own completion
// picks the walk back up, or, if it completed while the flag was still
// held, the recheck does.
func (s *Session) checkAndRespond() {
	if !atomic.CompareAndSwapInt32(&s.inResponse, 0, 1) {
		return
	}
walk:
	for {
		s.mu.Lock()
		if len(s.deque) == 0 {
			s.mu.Unlock()
			break
		}
		front := s.deque[0]
		select {
		case <-front.ctrl.Done():
		default:
			s.mu.Unlock()
			break walk
		}
		s.deque = s.deque[1:]
		s.mu.Unlock()

		s.deliver(front)
		s.drainWg.Done()
	}
	atomic.StoreInt32(&s.inResponse, 0)
	// A completion that arrived while the flag was held lost its CAS and
	// returned; recheck the front so its delivery is not stranded.
	var next <-chan struct{}
	s.mu.Lock()
	if len(s.deque) > 0 {
		next = s.deque[0].ctrl.Done()
	}
	s.mu.Unlock()
	if next != nil {
		select {
		case <-next:
			s.checkAndRespond()
		default:
		}
	}
}

// deliver submits onResponse for one finished request at an elevated
// priority so response delivery is never queued behind ordinary work. It
// does not wait for the submitted call to actually run — blocking here
// would tie up whatever pool worker drove this completion, and could
// starve the very submission it's waiting on.
func (s *Session) deliver(p *pending) {
	prio := domain.Offset(p.priority, responsePriorityBump)
	fire := func() {
		if s.onResponse != nil {
			s.onResponse(p.ctrl.Tag(), p.ctrl.Status(), p.outputs())
		}
	}
	if err := s.pool.VoidPush(prio, fire); err != nil {
		fire()
	}
}

// Close marks the session closed to new Send calls and blocks until every
// request accepted by Send has been taken off the deque and its response
// handed to the pool for delivery, or until timeout elapses (timeout <= 0
// waits without limit). It does not wait for the pooled onResponse calls
// themselves to run, and SendSync requests are not tracked.
func (s *Session) Close(timeout time.Duration) {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	waited := make(chan struct{})
	go func() {
		s.drainWg.Wait()
		close(waited)
	}()

	if timeout <= 0 {
		<-waited
		return
	}
	select {
	case <-waited:
	case <-time.After(timeout):
	}
}
