// Package membuf provides reference-counted device/host buffers and a
// bounded pool that recycles them, mirroring the original implementation's
// Buffer/MemoryPool pair but with explicit Release calls instead of
// destructors.
package membuf

import (
	"fmt"
	"sync/atomic"
)

// Location names where a buffer's bytes live.
type Location int

const (
	Host Location = iota
	Device
)

func (l Location) String() string {
	if l == Device {
		return "device"
	}
	return "host"
}

// Data is the raw storage a Buffer wraps. Ownership of the slice is
// transferred to the Buffer; callers must not retain it afterward.
type Data []byte

// Buffer is a ref-counted handle over a block of memory, either owned
// outright (allocated lazily on first Data() call) or borrowed from a Pool.
// The zero value is not usable; construct with NewBuffer or a Pool.
type Buffer struct {
	loc      Location
	deviceID int
	size     int
	offset   int
	data     Data
	refCount int32
	owner    *Pool // non-nil if this buffer came from a pool
	onFree   func(*Buffer)
}

// NewBuffer allocates a standalone buffer of size bytes at the given
// location, not backed by any pool.
func NewBuffer(size int, loc Location, deviceID int) *Buffer {
	return &Buffer{
		loc:      loc,
		deviceID: deviceID,
		size:     size,
		refCount: 1,
	}
}

// Size returns the buffer's byte length.
func (b *Buffer) Size() int { return b.size }

// Location reports whether the buffer lives on the host or a device.
func (b *Buffer) Location() Location { return b.loc }

// DeviceID returns the device index this buffer is associated with;
// meaningless when Location() == Host.
func (b *Buffer) DeviceID() int { return b.deviceID }

// Data returns the underlying byte slice, allocating it lazily on first
// access.
func (b *Buffer) Data() Data {
	if b.data == nil {
		b.data = make(Data, b.size)
	}
	return b.data
}

// At returns a Buffer view into this buffer's memory starting at offset,
// sharing the parent's storage (allocating it first if it was still lazy).
// The view carries its own reference count, starting at 1, and releasing
// it never returns anything to a pool.
func (b *Buffer) At(offset int) (*Buffer, error) {
	if offset < 0 || offset > b.size {
		return nil, fmt.Errorf("membuf: offset %d out of range [0,%d]", offset, b.size)
	}
	return &Buffer{
		loc:      b.loc,
		deviceID: b.deviceID,
		size:     b.size - offset,
		offset:   b.offset + offset,
		data:     b.Data()[offset:],
		refCount: 1,
	}, nil
}

// Ref increments the reference count and returns the same buffer, for
// callers that hand out a buffer to multiple consumers.
func (b *Buffer) Ref() *Buffer {
	atomic.AddInt32(&b.refCount, 1)
	return b
}

// Release decrements the reference count. When it reaches zero and the
// buffer was acquired from a Pool, it is returned to the pool's free list;
// a standalone buffer is simply dropped for GC.
func (b *Buffer) Release() {
	if atomic.AddInt32(&b.refCount, -1) > 0 {
		return
	}
	if b.onFree != nil {
		b.onFree(b)
	}
}
