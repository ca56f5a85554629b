package alloctrack

import (
	"errors"
	"unsafe"
)

// ErrMmapUnsupported is returned by NewMmapAllocator on platforms without
// anonymous mmap support.
var ErrMmapUnsupported = errors.New("alloctrack: mmap allocator requires linux")

// Allocator is the underlying memory source the tracker delegates to.
// The tracker never allocates through itself; every request is served by
// an Allocator first and only then logged.
type Allocator interface {
	// Allocate returns a block of size bytes whose address is a multiple
	// of align (align <= 1 means no alignment requirement).
	Allocate(size, align int) []byte
	// Free releases a block previously returned by Allocate.
	Free(b []byte)
}

// GoAllocator serves blocks from the Go runtime. Free is a no-op; blocks
// are reclaimed by the garbage collector once unreferenced.
type GoAllocator struct{}

func NewGoAllocator() *GoAllocator { return &GoAllocator{} }

func (*GoAllocator) Allocate(size, align int) []byte {
	if align <= 1 {
		return make([]byte, size)
	}
	buf := make([]byte, size+align) // padding so the block can be shifted into alignment
	addr := int(addressOf(buf))
	next := roundUpToMultiple(addr, align)
	if addr != next {
		shift := next - addr
		return buf[shift : size+shift : size+shift]
	}
	return buf[:size:size]
}

func (*GoAllocator) Free([]byte) {}

// DefaultAllocator backs any Config that does not name its own allocator.
//
// DefaultAllocator is safe to use from multiple goroutines.
var DefaultAllocator Allocator = NewGoAllocator()

func addressOf(b []byte) uintptr {
	if len(b) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&b[0]))
}

func roundUpToMultiple(v, mult int) int {
	return (v + mult - 1) / mult * mult
}
