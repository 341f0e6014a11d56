package pool

import (
	"sync"
	"testing"
	"time"

	"github.com/tutu-network/tutu-infer/internal/domain"
)

func TestPoolRunsHighestPriorityFirst(t *testing.T) {
	// A single worker, paused until every task is queued, guarantees the
	// queue has a chance to build up before anything drains — otherwise
	// the first VoidPush could start running before the second is queued.
	gate := make(chan struct{})
	p := New(1, nil)
	defer p.Stop(false)

	var mu sync.Mutex
	var order []int

	_ = p.VoidPush(domain.NewPriority(0), func() {
		<-gate
		mu.Lock()
		order = append(order, 0)
		mu.Unlock()
	})

	// Give the worker time to pick up the blocking task above before we
	// queue the rest, so they all queue up behind it.
	time.Sleep(20 * time.Millisecond)

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(2)
	_ = p.VoidPush(domain.NewPriority(1), func() {
		defer wg.Done()
		mu.Lock()
		order = append(order, 1)
		mu.Unlock()
	})
	_ = p.VoidPush(domain.NewPriority(9), func() {
		defer wg.Done()
		mu.Lock()
		order = append(order, 9)
		mu.Unlock()
	})

	close(gate)
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("tasks never completed")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 3 || order[1] != 9 || order[2] != 1 {
		t.Fatalf("got order %v, want the priority-9 task to run before priority-1", order)
	}
}

func TestPoolResizeGrowsAndShrinks(t *testing.T) {
	p := New(1, nil)
	defer p.Stop(false)

	p.Resize(4)
	time.Sleep(20 * time.Millisecond)
	if got := p.Workers(); got != 4 {
		t.Fatalf("Workers() = %d after growing to 4, want 4", got)
	}

	p.Resize(2)
	// Shrinking only takes effect once idle workers notice the new
	// target, so give them a moment.
	deadline := time.Now().Add(time.Second)
	for p.Workers() > 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if got := p.Workers(); got != 2 {
		t.Fatalf("Workers() = %d after shrinking to 2, want 2", got)
	}
}

func TestStopWaitDrainsQueue(t *testing.T) {
	p := New(2, nil)
	var n int
	var mu sync.Mutex
	for i := 0; i < 20; i++ {
		_ = p.VoidPush(domain.NewPriority(0), func() {
			mu.Lock()
			n++
			mu.Unlock()
		})
	}
	p.Stop(true)

	mu.Lock()
	defer mu.Unlock()
	if n != 20 {
		t.Fatalf("processed %d of 20 tasks before Stop(true) returned", n)
	}
}
