package runner

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tutu-network/tutu-infer/internal/domain"
	"github.com/tutu-network/tutu-infer/internal/membuf"
)

func echoHandle() *Handle {
	return &Handle{
		Info: &domain.ModelInfo{
			Name:         "echo",
			InputShape:   []domain.Shape{{1, 3}},
			InputLayout:  []domain.DataLayout{{Kind: domain.F32, Order: domain.NCHW}},
			OutputShape:  []domain.Shape{{1, 3}},
			OutputLayout: []domain.DataLayout{{Kind: domain.F32, Order: domain.NCHW}},
		},
		Compute: func(ctx context.Context, in, out []*membuf.Buffer) error {
			copy(out[0].Data(), in[0].Data())
			return nil
		},
	}
}

func TestModelRunnerRunCopiesData(t *testing.T) {
	r := New(0, echoHandle())

	in := membuf.NewBuffer(12, membuf.Host, 0)
	copy(in.Data(), []byte{1, 2, 3, 4})
	out := membuf.NewBuffer(12, membuf.Host, 0)

	st, err := r.Run(context.Background(), []*membuf.Buffer{in}, []*membuf.Buffer{out})
	if err != nil {
		t.Fatalf("Run() = %v", err)
	}
	if st != domain.StatusSuccess {
		t.Fatalf("status = %v, want SUCCESS", st)
	}
	if out.Data()[0] != 1 || out.Data()[3] != 4 {
		t.Fatalf("output not written by Compute: %v", out.Data()[:4])
	}
}

func TestModelRunnerRunRejectsWrongTensorCount(t *testing.T) {
	r := New(0, echoHandle())
	in := membuf.NewBuffer(12, membuf.Host, 0)

	_, err := r.Run(context.Background(), []*membuf.Buffer{in, in}, nil)
	if !errors.Is(err, ErrShapeMismatch) {
		t.Fatalf("Run() with wrong input count = %v, want ErrShapeMismatch", err)
	}
}

func TestModelRunnerRunPropagatesComputeFailure(t *testing.T) {
	wantErr := errors.New("device busy")
	h := echoHandle()
	h.Compute = func(context.Context, []*membuf.Buffer, []*membuf.Buffer) error { return wantErr }
	r := New(0, h)

	in := membuf.NewBuffer(12, membuf.Host, 0)
	out := membuf.NewBuffer(12, membuf.Host, 0)
	st, err := r.Run(context.Background(), []*membuf.Buffer{in}, []*membuf.Buffer{out})
	if !errors.Is(err, wantErr) {
		t.Fatalf("Run() err = %v, want %v", err, wantErr)
	}
	if st != domain.StatusErrorBackend {
		t.Fatalf("status = %v, want ERROR_BACKEND", st)
	}
}

func TestModelRunnerSerializesConcurrentRuns(t *testing.T) {
	var inFlight int32
	h := echoHandle()
	h.Compute = func(ctx context.Context, in, out []*membuf.Buffer) error {
		inFlight++
		if inFlight > 1 {
			t.Fatal("two Run calls executed concurrently through one command queue")
		}
		time.Sleep(5 * time.Millisecond)
		inFlight--
		return nil
	}
	r := New(0, h)

	done := make(chan struct{}, 2)
	run := func() {
		in := membuf.NewBuffer(12, membuf.Host, 0)
		out := membuf.NewBuffer(12, membuf.Host, 0)
		if _, err := r.Run(context.Background(), []*membuf.Buffer{in}, []*membuf.Buffer{out}); err != nil {
			t.Errorf("Run() = %v", err)
		}
		done <- struct{}{}
	}
	go run()
	go run()

	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("Run calls never completed")
		}
	}
}

func TestModelRunnerForkFromSharesHandleButNotQueue(t *testing.T) {
	r := New(2, echoHandle())
	forked := r.ForkFrom()

	if forked.DeviceID() != r.DeviceID() {
		t.Fatalf("forked device id = %d, want %d", forked.DeviceID(), r.DeviceID())
	}
	if forked.Info() != r.Info() {
		t.Fatal("forked runner should share the same model handle info")
	}
	if forked == r {
		t.Fatal("ForkFrom must return a distinct runner instance")
	}
}
