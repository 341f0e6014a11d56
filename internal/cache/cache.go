// Package cache assembles individual request DataItems into the batch-
// sized task.Packages an Engine runs, in one of two strategies: Dynamic
// batches independent requests together within a time window, Static
// splits one request's own data into fixed-size chunks without ever
// mixing data from different requests.
package cache

import (
	"context"
	"errors"

	"github.com/tutu-network/tutu-infer/internal/domain"
	"github.com/tutu-network/tutu-infer/internal/membuf"
	"github.com/tutu-network/tutu-infer/internal/task"
)

// ErrClosed is returned by Push/Pop once the cache has been stopped.
var ErrClosed = errors.New("cache: closed")

// Cache accumulates DataItems and yields them back as batch-sized
// Packages. Pop blocks until a package is ready or the cache stops.
type Cache interface {
	Start()
	Stop()
	Push(ctx context.Context, priority domain.Priority, items []*task.DataItem) error
	Pop() (*task.Package, error)
}

// dropDiscarded filters out items marked Discard, reporting each one to
// its RequestControl as a vacuous success, and returns the survivors. A
// dropped item's IO is reset to the zero value: it never reached a Stage,
// so whatever the caller originally sent in must not leak back out
// disguised as a processed result.
func dropDiscarded(items []*task.DataItem) []*task.DataItem {
	out := make([]*task.DataItem, 0, len(items))
	for _, d := range items {
		if d.IsDiscarded() {
			d.IO = membuf.ModelIO{}
			if d.Ctrl != nil {
				d.Ctrl.ProcessFailed(domain.StatusSuccess)
			}
			continue
		}
		out = append(out, d)
	}
	return out
}

// anyDiscarded reports whether any item in the package has been
// discarded since it was assembled — checked lazily at Pop time, not
// baked in when the batch was cut.
func anyDiscarded(items []*task.DataItem) bool {
	for _, d := range items {
		if d.IsDiscarded() {
			return true
		}
	}
	return false
}

// reassemble drops pkg's discarded items, reporting each to its
// RequestControl as a vacuous success, and regroups the survivors into
// batchSize-sized packages that preserve pkg's priority and context. It
// returns nil if every item was discarded.
func reassemble(pkg *task.Package, batchSize int) []*task.Package {
	survivors := dropDiscarded(pkg.Data)
	if len(survivors) == 0 {
		return nil
	}
	out := make([]*task.Package, 0, (len(survivors)+batchSize-1)/batchSize)
	for i := 0; i < len(survivors); i += batchSize {
		end := i + batchSize
		if end > len(survivors) {
			end = len(survivors)
		}
		out = append(out, &task.Package{
			UUID:     pkg.UUID,
			Data:     survivors[i:end],
			Priority: pkg.Priority,
			Ctx:      pkg.Ctx,
		})
	}
	return out
}
