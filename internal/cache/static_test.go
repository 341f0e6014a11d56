package cache

import (
	"context"
	"testing"
	"time"

	"github.com/tutu-network/tutu-infer/internal/domain"
	"github.com/tutu-network/tutu-infer/internal/task"
)

func TestStaticCacheSplitsWithoutWaiting(t *testing.T) {
	c := NewStatic(4)
	c.Start()
	defer c.Stop()

	if err := c.Push(context.Background(), domain.NewPriority(0), items(10)); err != nil {
		t.Fatalf("Push() = %v", err)
	}

	var got []int
	for i := 0; i < 3; i++ {
		pkg, err := c.Pop()
		if err != nil {
			t.Fatalf("Pop() = %v", err)
		}
		got = append(got, len(pkg.Data))
	}
	if got[0] != 4 || got[1] != 4 || got[2] != 2 {
		t.Fatalf("got batch sizes %v, want [4 4 2]", got)
	}
}

func TestStaticCacheNeverMixesRequests(t *testing.T) {
	c := NewStatic(4)
	c.Start()
	defer c.Stop()

	// Two requests of 3 items each: static must never combine them into
	// one 4-item batch the way a dynamic cache would.
	_ = c.Push(context.Background(), domain.NewPriority(0), items(3))
	_ = c.Push(context.Background(), domain.NewPriority(0), items(3))

	pkg1, _ := c.Pop()
	pkg2, _ := c.Pop()
	if len(pkg1.Data) != 3 || len(pkg2.Data) != 3 {
		t.Fatalf("got sizes %d and %d, want both requests to stay separate at 3 each", len(pkg1.Data), len(pkg2.Data))
	}
}

func TestStaticCacheDropsItemsDiscardedAfterPush(t *testing.T) {
	c := NewStatic(3)
	c.Start()
	defer c.Stop()

	batch := items(3)
	ctrl := task.NewRequestControl("req", 1, 1, nil)
	batch[1].Ctrl = ctrl

	// Push has already turned this into a ready package by the time the
	// discard happens, so only Pop's own recheck can drop the item.
	if err := c.Push(context.Background(), domain.NewPriority(0), batch); err != nil {
		t.Fatalf("Push() = %v", err)
	}
	batch[1].Discard()

	pkg, err := c.Pop()
	if err != nil {
		t.Fatalf("Pop() = %v", err)
	}
	if len(pkg.Data) != 2 {
		t.Fatalf("got %d surviving items, want 2 (discarded after push)", len(pkg.Data))
	}
	for _, d := range pkg.Data {
		if d.IsDiscarded() {
			t.Fatal("returned package still contains a discarded item")
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := ctrl.Wait(ctx); err != nil {
		t.Fatal("discarded item's RequestControl should still have been marked done")
	}
	if ctrl.Status() != domain.StatusSuccess {
		t.Fatalf("discard should report SUCCESS, got %v", ctrl.Status())
	}
}
