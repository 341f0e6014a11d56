// Package runner implements ModelRunner, the thin device-facing wrapper a
// predict Stage submits tensors through: one compiled model handle, one
// command queue, blocking per-call semantics. It mirrors the original's
// model/model.h ModelRunner plus processor/predictor.cpp, minus the actual
// MLU/cnrt calls, which are replaced by a pluggable Compute function so the
// runner's scheduling and buffer-lifecycle behavior can be exercised without
// real accelerator hardware.
package runner

import (
	"context"
	"errors"
	"sync"

	"github.com/tutu-network/tutu-infer/internal/domain"
	"github.com/tutu-network/tutu-infer/internal/membuf"
)

// ErrShapeMismatch is returned by Run when the caller's input/output
// buffer counts don't match the model handle's declared tensor counts.
var ErrShapeMismatch = errors.New("runner: input/output count does not match model")

// Compute performs the actual device computation: reads in, the model's
// input tensors, and writes out, the model's output tensors. It is the
// hand-off point where a real backend (a compiled kernel, an ONNX Runtime
// session, whatever accelerator SDK the deployment targets) plugs in; the
// runner itself only owns scheduling and buffer bookkeeping around it.
type Compute func(ctx context.Context, in, out []*membuf.Buffer) error

// Handle is a compiled model's fixed contract — its input/output
// shapes/layouts and the Compute that actually runs it — shared by every
// ModelRunner forked for that model, the same way the original's Model
// class is shared by every per-device ModelRunner a ModelManager hands
// out.
type Handle struct {
	Info    *domain.ModelInfo
	Compute Compute
}

// ModelRunner is a thin wrapper over a compiled model handle that owns one
// device command queue: Run submits one input/output tensor set and
// blocks the caller until the device (here, Compute) finishes. A mutex
// stands in for the original's single cnrtQueue_t — only one Run may be
// in flight through a given ModelRunner at a time, matching the
// original's one-runner-per-device-context model.
type ModelRunner struct {
	deviceID int
	handle   *Handle

	mu sync.Mutex
}

// New creates a ModelRunner bound to deviceID, backed by handle.
func New(deviceID int, handle *Handle) *ModelRunner {
	return &ModelRunner{deviceID: deviceID, handle: handle}
}

// ForkFrom creates a new ModelRunner sharing r's model handle and device
// id but owning its own command queue (its own mutex) — the Go analogue
// of ModelRunner::ForkFrom, used to give each parallel Engine its own
// runner instance without recompiling or reloading the model.
func (r *ModelRunner) ForkFrom() *ModelRunner {
	return New(r.deviceID, r.handle)
}

// DeviceID returns the device this runner is bound to.
func (r *ModelRunner) DeviceID() int { return r.deviceID }

// Info returns the model's fixed input/output contract.
func (r *ModelRunner) Info() *domain.ModelInfo { return r.handle.Info }

// Run submits one input/output tensor set to the device and blocks until
// it completes or ctx is cancelled. Only one Run executes at a time per
// ModelRunner; a second caller queues on the mutex exactly as it would
// queue on a real command queue.
func (r *ModelRunner) Run(ctx context.Context, in, out []*membuf.Buffer) (domain.Status, error) {
	info := r.handle.Info
	if len(in) != info.InputNum() || len(out) != info.OutputNum() {
		return domain.StatusInvalidParam, ErrShapeMismatch
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	select {
	case <-ctx.Done():
		return domain.StatusTimeout, ctx.Err()
	default:
	}

	if err := r.handle.Compute(ctx, in, out); err != nil {
		return domain.StatusErrorBackend, err
	}
	return domain.StatusSuccess, nil
}
