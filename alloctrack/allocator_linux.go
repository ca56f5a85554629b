//go:build linux

package alloctrack

import (
	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// MmapAllocator obtains blocks straight from the kernel through anonymous
// private mappings. Blocks are page-aligned, which satisfies any align up
// to the page size.
type MmapAllocator struct{}

func NewMmapAllocator() (*MmapAllocator, error) {
	return &MmapAllocator{}, nil
}

func (*MmapAllocator) Allocate(size, align int) []byte {
	if size == 0 {
		return nil
	}
	b, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		log.WithError(err).WithField("size", size).Debug("anonymous mmap failed")
		return nil
	}
	return b
}

func (*MmapAllocator) Free(b []byte) {
	if len(b) == 0 {
		return
	}
	if err := unix.Munmap(b); err != nil {
		log.WithError(err).Debug("munmap failed")
	}
}
