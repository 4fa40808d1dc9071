//go:build !windows

package rcgc

import (
	"sync"

	"golang.org/x/sys/unix"
)

// extraArenaSlabSize is the size of each mmap'd slab backing "extra bytes"
// payload allocations, grounded on the teacher's eventloop/poller_linux.go
// use of golang.org/x/sys/unix for raw syscalls.
const extraArenaSlabSize = 4 << 20 // 4MiB

// extraArena carves opaque payload byte slices out of growing mmap'd slabs.
// Individual allocations are never returned to the arena: extra-byte payload
// is collector-opaque per type.go's Scan/Copy contract, so there is no safe
// generic way to reclaim a sub-range without type cooperation, and the spec
// does not require it (object headers, not payload bytes, are what the
// size-class allocator reclaims).
type extraArena struct {
	mu      sync.Mutex
	current []byte
	offset  int
}

func newExtraArena() extraArena {
	return extraArena{}
}

func (a *extraArena) alloc(n int) []byte {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.current == nil || a.offset+n > len(a.current) {
		size := extraArenaSlabSize
		if n > size {
			size = n
		}
		slab, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
		if err != nil {
			fatal(FatalAllocatorExhausted, "mmap extra-bytes slab of %d bytes: %v", size, err)
		}
		a.current = slab
		a.offset = 0
	}
	b := a.current[a.offset : a.offset+n : a.offset+n]
	a.offset += n
	return b
}
