package task

import (
	"context"
	"sync"

	"github.com/tutu-network/tutu-infer/internal/domain"
)

// RequestControl is the fan-in barrier for one logical request, possibly
// split across dataNum items that can land in different Packages.
// ProcessDone/ProcessFailed must be called exactly dataNum times combined
// across the request's lifetime; the first non-success status reported
// wins, and the done channel closes — exactly once — when the count
// reaches dataNum.
type RequestControl struct {
	mu        sync.Mutex
	tag       string
	requestID int64
	dataNum   int
	received  int
	status    domain.Status
	done      chan struct{}
	closeOne  sync.Once
	onDone    func(*RequestControl)
}

// NewRequestControl creates a barrier expecting dataNum completions.
// requestID is the owning session's monotonically increasing counter
// value for this request — a Cache uses it to bias a batch's priority so
// older requests sort ahead of newer ones within the same major band.
// onDone, if non-nil, runs exactly once after the done channel closes.
func NewRequestControl(tag string, requestID int64, dataNum int, onDone func(*RequestControl)) *RequestControl {
	return &RequestControl{
		tag:       tag,
		requestID: requestID,
		dataNum:   dataNum,
		status:    domain.StatusSuccess,
		done:      make(chan struct{}),
		onDone:    onDone,
	}
}

// Tag identifies the request this barrier belongs to.
func (r *RequestControl) Tag() string { return r.tag }

// RequestID returns the owning session's request sequence number.
func (r *RequestControl) RequestID() int64 { return r.requestID }

// Status returns the first non-success status reported so far (SUCCESS
// if nothing has failed yet).
func (r *RequestControl) Status() domain.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// ProcessDone records one item finishing with st. Used on the normal,
// in-pipeline completion path.
func (r *RequestControl) ProcessDone(st domain.Status) { r.record(st) }

// ProcessFailed records one item finishing with st without a normal
// completion: a Cache reports discarded items through it, and a TaskNode
// reports items its stage failed. Functionally identical to ProcessDone.
func (r *RequestControl) ProcessFailed(st domain.Status) { r.record(st) }

func (r *RequestControl) record(st domain.Status) {
	r.mu.Lock()
	if st != domain.StatusSuccess && r.status == domain.StatusSuccess {
		r.status = st
	}
	r.received++
	fire := r.received >= r.dataNum
	r.mu.Unlock()

	if fire {
		r.closeOne.Do(func() {
			close(r.done)
			if r.onDone != nil {
				r.onDone(r)
			}
		})
	}
}

// Done returns a channel closed once every expected item has reported.
func (r *RequestControl) Done() <-chan struct{} { return r.done }

// Wait blocks until Done() closes or ctx is cancelled.
func (r *RequestControl) Wait(ctx context.Context) error {
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
