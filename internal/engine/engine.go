// Package engine assembles a chain of stage.TaskNodes into one runnable
// pipeline and tracks how many packages are currently in flight through
// it, so an Executor can pick an idle engine to dispatch to.
package engine

import (
	"sync/atomic"

	"github.com/tutu-network/tutu-infer/internal/pool"
	"github.com/tutu-network/tutu-infer/internal/stage"
	"github.com/tutu-network/tutu-infer/internal/task"
)

// Engine is a linear chain of TaskNodes sharing one worker pool. Run
// submits a Package to the head node; IsIdle reports whether the engine
// has spare capacity for another package given its configured depth.
type Engine struct {
	nodes   []*stage.TaskNode
	p       *pool.Pool
	depth   int // max in-flight packages this engine accepts at once
	inFlight int64
}

// New builds an Engine from an ordered list of (name, Stage) pairs,
// chaining each TaskNode to the next and wiring all of them to submit
// through p. depth bounds how many packages Run will accept concurrently
// before IsIdle reports false.
func New(p *pool.Pool, depth int, stages ...NamedStage) *Engine {
	e := &Engine{p: p, depth: depth}
	nodes := make([]*stage.TaskNode, len(stages))
	for i, s := range stages {
		nodes[i] = stage.NewTaskNode(s.Name, s.Stage, p)
	}
	for i := 0; i < len(nodes)-1; i++ {
		nodes[i].SetNext(nodes[i+1])
	}
	e.nodes = nodes
	return e
}

// NamedStage pairs a Stage with the name it runs under in diagnostics.
type NamedStage struct {
	Name  string
	Stage stage.Stage
}

// Fork returns a new Engine with every stage forked (stage.Stage.Fork),
// sharing the same worker pool and depth — the unit of pipeline
// parallelism an Executor scales out by adding more Engines.
func (e *Engine) Fork() *Engine {
	forked := make([]NamedStage, len(e.nodes))
	for i, n := range e.nodes {
		forked[i] = NamedStage{Name: n.Name(), Stage: n.Stage().Fork()}
	}
	return New(e.p, e.depth, forked...)
}

// Run submits pkg to the head of the chain, incrementing the in-flight
// counter. The counter is decremented once the package has left the
// pipeline (tail reported, or every item failed earlier) — Run itself
// does not block on completion.
func (e *Engine) Run(pkg *task.Package) {
	if len(e.nodes) == 0 {
		return
	}
	atomic.AddInt64(&e.inFlight, 1)
	prevDone := pkg.OnComplete
	pkg.OnComplete = func() {
		atomic.AddInt64(&e.inFlight, -1)
		if prevDone != nil {
			prevDone()
		}
	}
	head := e.nodes[0]
	_ = e.p.VoidPush(pkg.Priority, func() {
		head.Transmit(pkg)
	})
}

// IsIdle reports whether this engine can accept another package without
// exceeding its configured in-flight depth.
func (e *Engine) IsIdle() bool {
	return atomic.LoadInt64(&e.inFlight) < int64(e.depth)
}

// InFlight returns the current number of packages this engine is running.
func (e *Engine) InFlight() int64 { return atomic.LoadInt64(&e.inFlight) }
