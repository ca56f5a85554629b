//go:build !linux

package alloctrack

// MmapAllocator is only available on Linux.
type MmapAllocator struct{}

func NewMmapAllocator() (*MmapAllocator, error) {
	return nil, ErrMmapUnsupported
}

func (*MmapAllocator) Allocate(size, align int) []byte { return nil }

func (*MmapAllocator) Free([]byte) {}
