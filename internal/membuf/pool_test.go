package membuf

import (
	"testing"
	"time"
)

func TestPoolCreatesLazilyUpToCapacity(t *testing.T) {
	p := NewPool(1024, 2, Host, 0)

	b1, err := p.Acquire(0)
	if err != nil {
		t.Fatalf("Acquire() = %v", err)
	}
	b2, err := p.Acquire(0)
	if err != nil {
		t.Fatalf("Acquire() = %v", err)
	}
	if p.created != 2 {
		t.Fatalf("created = %d, want 2 after filling capacity", p.created)
	}

	if _, err := p.Acquire(1); err != ErrAcquireTimeout {
		t.Fatalf("Acquire() at capacity = %v, want ErrAcquireTimeout", err)
	}

	b1.Release()
	b3, err := p.Acquire(0)
	if err != nil {
		t.Fatalf("Acquire() after Release = %v", err)
	}
	if b3 != b1 {
		t.Fatal("expected the released buffer to be recycled, not a fresh one")
	}
	b2.Release()
	b3.Release()
}

func TestPoolAcquireUnblocksOnRelease(t *testing.T) {
	p := NewPool(64, 1, Host, 0)
	held, err := p.Acquire(0)
	if err != nil {
		t.Fatalf("Acquire() = %v", err)
	}

	got := make(chan *Buffer, 1)
	go func() {
		b, err := p.Acquire(-1)
		if err != nil {
			t.Errorf("blocked Acquire() = %v", err)
			return
		}
		got <- b
	}()

	time.Sleep(20 * time.Millisecond)
	held.Release()

	select {
	case <-got:
	case <-time.After(time.Second):
		t.Fatal("Acquire() never unblocked after Release")
	}
}

func TestPoolStopUnblocksWaiters(t *testing.T) {
	p := NewPool(64, 1, Host, 0)
	_, _ = p.Acquire(0)

	errCh := make(chan error, 1)
	go func() {
		_, err := p.Acquire(-1)
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	p.Stop()

	select {
	case err := <-errCh:
		if err != ErrPoolStopped {
			t.Fatalf("Acquire() after Stop = %v, want ErrPoolStopped", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Acquire() never returned after Stop")
	}
}

func TestBufferAtSlices(t *testing.T) {
	b := NewBuffer(100, Host, 0)
	view, err := b.At(40)
	if err != nil {
		t.Fatalf("At() = %v", err)
	}
	if view.Size() != 60 {
		t.Fatalf("Size() = %d, want 60", view.Size())
	}
	if _, err := b.At(200); err == nil {
		t.Fatal("At() with out-of-range offset should error")
	}
}
