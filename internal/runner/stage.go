package runner

import (
	"context"
	"fmt"

	"github.com/tutu-network/tutu-infer/internal/domain"
	"github.com/tutu-network/tutu-infer/internal/membuf"
	"github.com/tutu-network/tutu-infer/internal/stage"
)

// Params keys a PredictStage reads from its stage.Params at Init time,
// mirroring the required "model_info"/"device_id" params Predictor::Init
// checks for in the original.
const (
	ParamHandle   = "model_handle"
	ParamDeviceID = "device_id"
	// ParamPoolCapacity bounds how many in-flight output buffers a
	// PredictStage keeps per output tensor; defaults to 3, matching the
	// original predictor's per-output MluMemoryPool sizing.
	ParamPoolCapacity = "output_pool_capacity"
)

const defaultOutputPoolCapacity = 3

// PredictStage is the predict step of the preprocess/predict/postprocess
// pipeline: it owns one ModelRunner and, for each incoming batch,
// allocates fresh output buffers from a per-tensor pool and submits the
// batch's input tensors through the runner. It is the Go analogue of
// processor/predictor.cpp, expressed as a stage.Stage so an Engine drives
// it exactly like any other pipeline step.
type PredictStage struct {
	handle       *Handle
	deviceID     int
	poolCapacity int

	runner      *ModelRunner
	outputPools []*membuf.Pool
}

// Init wires the stage to the model handle and device id found in params,
// and allocates one buffer pool per output tensor sized from the model's
// declared output shapes/layouts.
func (s *PredictStage) Init(params stage.Params) error {
	h, ok := params[ParamHandle].(*Handle)
	if !ok || h == nil {
		return fmt.Errorf("runner: predict stage requires a %q param", ParamHandle)
	}
	deviceID, _ := params[ParamDeviceID].(int)
	capacity := defaultOutputPoolCapacity
	if c, ok := params[ParamPoolCapacity].(int); ok && c > 0 {
		capacity = c
	}

	s.handle = h
	s.deviceID = deviceID
	s.poolCapacity = capacity
	s.runner = New(deviceID, h)
	s.outputPools = newOutputPools(h.Info, capacity, deviceID)
	return nil
}

// newOutputPools allocates one buffer pool per output tensor, sized from
// the model's declared output shapes/layouts — the Go analogue of
// Predictor::Init's per-output MluMemoryPool construction.
func newOutputPools(info *domain.ModelInfo, capacity, deviceID int) []*membuf.Pool {
	pools := make([]*membuf.Pool, info.OutputNum())
	for i := range pools {
		size := int(info.OutputShape[i].BatchDataCount()) * info.OutputLayout[i].Kind.Size()
		pools[i] = membuf.NewPool(size, capacity, membuf.Device, deviceID)
	}
	return pools
}

// Process runs one batch's input tensors through the model runner,
// allocating a fresh output ModelIO per item from this stage's output
// pools. Items run one at a time; when the runner reports a backend
// failure, that item and every later item in the batch are marked
// ERROR_BACKEND and not submitted, while items that already ran keep
// their own status.
func (s *PredictStage) Process(ctx context.Context, in []membuf.ModelIO) ([]membuf.ModelIO, []domain.Status, error) {
	out := make([]membuf.ModelIO, len(in))
	statuses := make([]domain.Status, len(in))

	for i, io := range in {
		outIO, st, err := s.runOne(ctx, io)
		out[i] = outIO
		statuses[i] = st
		if err != nil && st == domain.StatusErrorBackend {
			// A device failure aborts the remaining items in this batch
			// too: they never got submitted, so they report the same
			// failure rather than a misleading SUCCESS.
			for j := i + 1; j < len(in); j++ {
				statuses[j] = domain.StatusErrorBackend
			}
			return out, statuses, nil
		}
	}
	return out, statuses, nil
}

func (s *PredictStage) runOne(ctx context.Context, in membuf.ModelIO) (membuf.ModelIO, domain.Status, error) {
	info := s.handle.Info
	outBuffers := make([]*membuf.Buffer, len(s.outputPools))
	outShapes := make([]domain.Shape, len(s.outputPools))
	for i, pool := range s.outputPools {
		buf, err := pool.Acquire(0)
		if err != nil {
			return membuf.ModelIO{}, domain.StatusErrorMemory, err
		}
		outBuffers[i] = buf
		outShapes[i] = info.OutputShape[i]
	}

	st, err := s.runner.Run(ctx, in.Buffers, outBuffers)
	if err != nil {
		for _, b := range outBuffers {
			b.Release()
		}
		return membuf.ModelIO{}, st, err
	}
	return membuf.ModelIO{Buffers: outBuffers, Shapes: outShapes}, st, nil
}

// Fork returns a new PredictStage sharing this one's model handle but
// owning its own ModelRunner (its own device command queue) and its own
// output buffer pools, the same independence an Engine needs from any
// other Stage it forks.
func (s *PredictStage) Fork() stage.Stage {
	return &PredictStage{
		handle:       s.handle,
		deviceID:     s.deviceID,
		poolCapacity: s.poolCapacity,
		runner:       s.runner.ForkFrom(),
		outputPools:  newOutputPools(s.handle.Info, s.poolCapacity, s.deviceID),
	}
}

var _ stage.Stage = (*PredictStage)(nil)
