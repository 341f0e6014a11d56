package domain

import "errors"

// Sentinel errors mirroring Status, for call sites that want to use
// errors.Is instead of switching on a Status value.
var (
	ErrReadWrite     = errors.New("domain: read/write error")
	ErrMemory        = errors.New("domain: memory error")
	ErrInvalidParam  = errors.New("domain: invalid parameter")
	ErrWrongType     = errors.New("domain: wrong type")
	ErrBackend       = errors.New("domain: backend error")
	ErrNotImplemented = errors.New("domain: not implemented")
	ErrTimeout       = errors.New("domain: timeout")
)
