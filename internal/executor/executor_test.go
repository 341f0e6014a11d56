package executor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/tutu-network/tutu-infer/internal/cache"
	"github.com/tutu-network/tutu-infer/internal/domain"
	"github.com/tutu-network/tutu-infer/internal/task"
)

// fakeRunner records every package it's given and completes it
// immediately, synchronously, from within Run.
type fakeRunner struct {
	mu  sync.Mutex
	ran []*task.Package
	cap int // unused: IsIdle always reports true
}

func (f *fakeRunner) Run(pkg *task.Package) {
	f.mu.Lock()
	f.ran = append(f.ran, pkg)
	f.mu.Unlock()
	for _, d := range pkg.Data {
		if d.Ctrl != nil {
			d.Ctrl.ProcessDone(domain.StatusSuccess)
		}
	}
	if pkg.OnComplete != nil {
		pkg.OnComplete()
	}
}

func (f *fakeRunner) IsIdle() bool { return true }

func (f *fakeRunner) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.ran)
}

func singleItemPush(t *testing.T, c cache.Cache, n int) []*task.RequestControl {
	t.Helper()
	ctrls := make([]*task.RequestControl, n)
	for i := 0; i < n; i++ {
		ctrl := task.NewRequestControl("t", 1, 1, nil)
		ctrls[i] = ctrl
		item := &task.DataItem{Ctrl: ctrl}
		if err := c.Push(context.Background(), domain.NewPriority(0), []*task.DataItem{item}); err != nil {
			t.Fatalf("Push: %v", err)
		}
	}
	return ctrls
}

func TestExecutorDispatchesPackagesToRunner(t *testing.T) {
	c := cache.NewStatic(1)
	runner := &fakeRunner{}
	e := New(c, []Runner{runner}, 10)
	e.Run()
	defer e.Stop()

	ctrls := singleItemPush(t, c, 3)
	for _, ctrl := range ctrls {
		select {
		case <-ctrl.Done():
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for request to complete")
		}
	}

	if runner.count() != 3 {
		t.Fatalf("got %d packages run, want 3", runner.count())
	}
}

func TestWaitIfCacheFullReturnsImmediatelyBelowCap(t *testing.T) {
	c := cache.NewStatic(1)
	e := New(c, []Runner{&fakeRunner{}}, 10)
	e.Run()
	defer e.Stop()

	if err := e.WaitIfCacheFull(context.Background(), 0); err != nil {
		t.Fatalf("expected nil error below cap, got %v", err)
	}
}

func TestWaitIfCacheFullTimesOut(t *testing.T) {
	blocking := &blockingRunner{release: make(chan struct{})}
	defer close(blocking.release)

	c := cache.NewStatic(1)
	e := New(c, []Runner{blocking}, 1)
	e.Run()
	defer e.Stop()

	singleItemPush(t, c, 1)
	// give the dispatch loop a moment to pick up the package and call Run,
	// bringing inFlight to the cap before we wait on it.
	time.Sleep(20 * time.Millisecond)

	err := e.WaitIfCacheFull(context.Background(), 20*time.Millisecond)
	if err != ErrCacheFullTimeout {
		t.Fatalf("got %v, want ErrCacheFullTimeout", err)
	}
}

// blockingRunner holds onto packages until release is closed, so the
// executor's in-flight count stays pinned at cap.
type blockingRunner struct {
	release chan struct{}
}

func (b *blockingRunner) Run(pkg *task.Package) {
	go func() {
		<-b.release
		if pkg.OnComplete != nil {
			pkg.OnComplete()
		}
	}()
}

func (b *blockingRunner) IsIdle() bool { return true }
