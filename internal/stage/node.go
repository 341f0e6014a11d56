package stage

import (
	"sync"

	"github.com/tutu-network/tutu-infer/internal/domain"
	"github.com/tutu-network/tutu-infer/internal/membuf"
	"github.com/tutu-network/tutu-infer/internal/task"
)

// Submitter is the subset of pool.Pool a TaskNode needs: priority-ordered
// fire-and-forget submission. Accepting an interface rather than *pool.Pool
// lets a TaskNode's chain be tested without a real worker pool.
type Submitter interface {
	VoidPush(priority domain.Priority, fn func()) error
}

// TaskNode wraps one Stage in a pipeline position. Calling Transmit runs
// the stage on a Package and, on success, advances the package's priority
// and hands it to the next node; on failure (or at the tail) it reports
// completion directly to each item's RequestControl. A TaskNode's mutex
// serializes Process calls through this node so a Stage implementation
// need not be reentrant-safe on its own.
type TaskNode struct {
	mu   sync.Mutex
	name string
	st   Stage
	next *TaskNode
	pool Submitter
}

// NewTaskNode wraps st as a pipeline stage named name, submitting onward
// work to p.
func NewTaskNode(name string, st Stage, p Submitter) *TaskNode {
	return &TaskNode{name: name, st: st, pool: p}
}

// SetNext chains n2 as the node that follows n.
func (n *TaskNode) SetNext(n2 *TaskNode) { n.next = n2 }

// IsTail reports whether n is the last node in its chain.
func (n *TaskNode) IsTail() bool { return n.next == nil }

// Name returns the node's stage name, for diagnostics.
func (n *TaskNode) Name() string { return n.name }

// Stage returns the underlying Stage this node wraps, for Fork.
func (n *TaskNode) Stage() Stage { return n.st }

// Transmit runs this node's stage on pkg. Per-item failures and pipeline
// errors are always reported to each item's RequestControl — a package
// never silently disappears — and on success at a non-tail node, the
// package is resubmitted to the next node with its priority bumped via
// domain.Next, so an in-flight request outranks freshly arriving work of
// the same base priority.
func (n *TaskNode) Transmit(pkg *task.Package) {
	n.mu.Lock()
	defer n.mu.Unlock()

	ins := make([]membuf.ModelIO, len(pkg.Data))
	for i, d := range pkg.Data {
		ins[i] = d.IO
	}

	outs, statuses, err := n.st.Process(pkg.Ctx, ins)
	if err != nil {
		statuses = fill(domain.StatusErrorBackend, len(pkg.Data))
	}

	n.finalize(pkg, outs, statuses)
}

func fill(st domain.Status, n int) []domain.Status {
	out := make([]domain.Status, n)
	for i := range out {
		out[i] = st
	}
	return out
}

func (n *TaskNode) finalize(pkg *task.Package, outs []membuf.ModelIO, statuses []domain.Status) {
	statusOf := func(i int) domain.Status {
		if i < len(statuses) {
			return statuses[i]
		}
		return domain.StatusSuccess
	}

	if n.IsTail() {
		for i, d := range pkg.Data {
			if i < len(outs) {
				d.IO = outs[i]
			}
			if d.Ctrl != nil {
				d.Ctrl.ProcessDone(statusOf(i))
			}
		}
		if pkg.OnComplete != nil {
			pkg.OnComplete()
		}
		return
	}

	survivors := make([]*task.DataItem, 0, len(pkg.Data))
	for i, d := range pkg.Data {
		if st := statusOf(i); st != domain.StatusSuccess {
			if d.Ctrl != nil {
				d.Ctrl.ProcessFailed(st)
			}
			continue
		}
		if i < len(outs) {
			d.IO = outs[i]
		}
		survivors = append(survivors, d)
	}
	if len(survivors) == 0 {
		if pkg.OnComplete != nil {
			pkg.OnComplete()
		}
		return
	}

	advanced := &task.Package{
		UUID:       pkg.UUID,
		Data:       survivors,
		Priority:   domain.Next(pkg.Priority),
		Ctx:        pkg.Ctx,
		OnComplete: pkg.OnComplete,
	}
	next := n.next
	_ = n.pool.VoidPush(advanced.Priority, func() {
		next.Transmit(advanced)
	})
}
