// Package task defines the data that flows through a pipeline: DataItem
// (one request's contribution to a batch), Package (a batch of DataItems
// sharing a priority), and RequestControl (the fan-in barrier that tracks
// when every DataItem belonging to one logical request has finished).
package task

import (
	"context"
	"sync/atomic"

	"github.com/tutu-network/tutu-infer/internal/domain"
	"github.com/tutu-network/tutu-infer/internal/membuf"
)

// DataItem is one request's worth of input/output data inside a Package.
// Several DataItems from the same request can land in different Packages
// when a Cache splits or rebatches; Ctrl is how they rejoin at the end.
type DataItem struct {
	IO        membuf.ModelIO
	Ctrl      *RequestControl
	Index     int
	discarded int32
}

// Discard marks the item as withdrawn. A Cache checks this when it pops a
// batch for dispatch and drops the item instead of running it, reporting it to
// its RequestControl as a vacuous success — discard does not cancel the
// owning request, it just omits this item's contribution.
func (d *DataItem) Discard() { atomic.StoreInt32(&d.discarded, 1) }

// IsDiscarded reports whether Discard has been called.
func (d *DataItem) IsDiscarded() bool { return atomic.LoadInt32(&d.discarded) == 1 }

// Package is the unit an Engine runs and a TaskNode transmits between
// stages: a batch of DataItems assembled by a Cache, all sharing one
// priority and one context.
type Package struct {
	UUID     string
	Data     []*DataItem
	Priority domain.Priority
	Ctx      context.Context
	// OnComplete, if set, is invoked exactly once when the package has
	// left the pipeline entirely — either because the tail node reported
	// every item, or because every item failed before reaching the tail.
	// An Engine uses this to track its own in-flight package count.
	OnComplete func()
}

// Discard drops every item in the package, reporting it to its owning
// RequestControl as successfully (if vacuously) handled — discard is
// non-cancelling: the request still completes, just without this item's
// contribution to the response.
func (p *Package) Discard() {
	for _, d := range p.Data {
		if d.Ctrl != nil {
			d.Ctrl.ProcessFailed(domain.StatusSuccess)
		}
	}
}
