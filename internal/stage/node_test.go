package stage

import (
	"context"
	"testing"

	"github.com/tutu-network/tutu-infer/internal/domain"
	"github.com/tutu-network/tutu-infer/internal/membuf"
	"github.com/tutu-network/tutu-infer/internal/task"
)

// inlineSubmitter runs submitted work synchronously, so tests don't need a
// real worker pool to exercise multi-node chains.
type inlineSubmitter struct{}

func (inlineSubmitter) VoidPush(priority domain.Priority, fn func()) error {
	fn()
	return nil
}

// recordingSubmitter runs submitted work synchronously like inlineSubmitter
// and records the priority of the last submission.
type recordingSubmitter struct {
	priority *domain.Priority
}

func (r recordingSubmitter) VoidPush(priority domain.Priority, fn func()) error {
	*r.priority = priority
	fn()
	return nil
}

// passthroughStage returns its input unchanged and every item successful.
type passthroughStage struct{}

func (passthroughStage) Init(Params) error { return nil }

func (passthroughStage) Process(ctx context.Context, in []membuf.ModelIO) ([]membuf.ModelIO, []domain.Status, error) {
	statuses := make([]domain.Status, len(in))
	for i := range statuses {
		statuses[i] = domain.StatusSuccess
	}
	return in, statuses, nil
}

func (passthroughStage) Fork() Stage { return passthroughStage{} }

// failFirstStage fails whichever item is at index 0, succeeds the rest.
type failFirstStage struct{}

func (failFirstStage) Init(Params) error { return nil }

func (failFirstStage) Process(ctx context.Context, in []membuf.ModelIO) ([]membuf.ModelIO, []domain.Status, error) {
	statuses := make([]domain.Status, len(in))
	for i := range statuses {
		if i == 0 {
			statuses[i] = domain.StatusErrorBackend
		} else {
			statuses[i] = domain.StatusSuccess
		}
	}
	return in, statuses, nil
}

func (failFirstStage) Fork() Stage { return failFirstStage{} }

func newItem(t *testing.T, dataNum int) *task.DataItem {
	t.Helper()
	ctrl := task.NewRequestControl("t", 1, dataNum, nil)
	return &task.DataItem{Ctrl: ctrl}
}

func TestTaskNodeTailReportsSuccessAndCompletes(t *testing.T) {
	node := NewTaskNode("only", passthroughStage{}, inlineSubmitter{})
	if !node.IsTail() {
		t.Fatal("single node with no SetNext should be tail")
	}

	item := newItem(t, 1)
	completed := false
	pkg := &task.Package{
		Data:       []*task.DataItem{item},
		OnComplete: func() { completed = true },
	}

	node.Transmit(pkg)

	if item.Ctrl.Status() != domain.StatusSuccess {
		t.Fatalf("got status %v, want success", item.Ctrl.Status())
	}
	if !completed {
		t.Fatal("expected OnComplete to fire at the tail")
	}
}

func TestTaskNodeAdvancesSurvivorsToNextWithBumpedPriority(t *testing.T) {
	var pushed domain.Priority
	first := NewTaskNode("first", failFirstStage{}, recordingSubmitter{priority: &pushed})
	second := NewTaskNode("second", passthroughStage{}, inlineSubmitter{})
	first.SetNext(second)

	if first.IsTail() {
		t.Fatal("first node has a next, should not be tail")
	}

	failing := newItem(t, 1)
	surviving := newItem(t, 1)
	var completions int
	pkg := &task.Package{
		Data:       []*task.DataItem{failing, surviving},
		Priority:   domain.NewPriority(3),
		OnComplete: func() { completions++ },
	}

	first.Transmit(pkg)

	if failing.Ctrl.Status() != domain.StatusErrorBackend {
		t.Fatalf("got failing item status %v, want ErrorBackend", failing.Ctrl.Status())
	}
	if surviving.Ctrl.Status() != domain.StatusSuccess {
		t.Fatalf("got surviving item status %v, want success", surviving.Ctrl.Status())
	}
	if completions != 1 {
		t.Fatalf("got %d OnComplete calls, want exactly 1", completions)
	}
	if want := domain.Next(domain.NewPriority(3)); pushed != want {
		t.Fatalf("got survivor priority %v, want %v", pushed, want)
	}
}

func TestTaskNodeCompletesEarlyWhenEveryItemFails(t *testing.T) {
	only := NewTaskNode("only", failFirstStage{}, inlineSubmitter{})
	second := NewTaskNode("unreached", passthroughStage{}, inlineSubmitter{})
	only.SetNext(second)

	failing := newItem(t, 1)
	completed := false
	pkg := &task.Package{
		Data:       []*task.DataItem{failing},
		OnComplete: func() { completed = true },
	}

	only.Transmit(pkg)

	if failing.Ctrl.Status() != domain.StatusErrorBackend {
		t.Fatalf("got status %v, want ErrorBackend", failing.Ctrl.Status())
	}
	if !completed {
		t.Fatal("expected OnComplete to fire once every item has failed, even at a non-tail node")
	}
}
