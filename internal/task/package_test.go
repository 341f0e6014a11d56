package task

import (
	"testing"

	"github.com/tutu-network/tutu-infer/internal/domain"
)

func TestDataItemDiscard(t *testing.T) {
	d := &DataItem{}
	if d.IsDiscarded() {
		t.Fatal("expected item not discarded initially")
	}
	d.Discard()
	if !d.IsDiscarded() {
		t.Fatal("expected item discarded after Discard")
	}
}

func TestPackageDiscardReportsSuccessToEveryItem(t *testing.T) {
	ctrl := NewRequestControl("tag", 1, 2, nil)
	pkg := &Package{
		Data: []*DataItem{
			{Ctrl: ctrl},
			{Ctrl: ctrl},
		},
	}
	pkg.Discard()

	select {
	case <-ctrl.Done():
	default:
		t.Fatal("expected RequestControl to be done after discarding both items")
	}
	if ctrl.Status() != domain.StatusSuccess {
		t.Fatalf("got status %v, want StatusSuccess", ctrl.Status())
	}
}
