// Package stage defines the unit of work an Engine chains together:
// Stage is the processing step (preprocess, predict, postprocess, or any
// custom step a caller registers), and TaskNode is the runtime wrapper
// that sequences one stage's output into the next stage's input.
package stage

import (
	"context"

	"github.com/tutu-network/tutu-infer/internal/domain"
	"github.com/tutu-network/tutu-infer/internal/membuf"
)

// Params is the shared, read-only configuration a Stage is initialized
// with — e.g. model path, device id, batch size — passed as a plain map
// so pipelines can be built data-driven rather than through generated
// constructors.
type Params map[string]any

// Stage is one step of an inference pipeline. Each Fork of an Engine
// calls Fork on its stages, so every Engine copy holds its own instance;
// within one Engine a single TaskNode calls Process one batch at a time.
// A Stage whose Fork returns itself is called concurrently by every
// Engine copy that shares it.
type Stage interface {
	// Init configures the stage from params. Called once before any
	// Process call.
	Init(params Params) error
	// Process transforms a batch of inputs into outputs, returning a
	// per-item status list the same length as the batch.
	Process(ctx context.Context, in []membuf.ModelIO) ([]membuf.ModelIO, []domain.Status, error)
	// Fork returns a new, independently-initialized Stage instance of the
	// same kind — the Go equivalent of the original's ProcessorForkable
	// CRTP pattern, used to give each parallel Engine its own stage state
	// (e.g. its own device context) while sharing the same Params.
	Fork() Stage
}

// Factory constructs a fresh, un-initialized Stage of one named kind.
type Factory func() Stage
