//go:build windows

package rcgc

import "sync"

// extraArena on Windows falls back to ordinary Go-managed slabs, since
// golang.org/x/sys/unix's Mmap is unix-only; the teacher splits platform
// backends the same way (poller_linux.go vs. poller_windows.go). The
// allocation discipline (growing slabs, no per-allocation reclaim) matches
// heap_unix.go exactly.
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
		a.current = make([]byte, size)
		a.offset = 0
	}
	b := a.current[a.offset : a.offset+n : a.offset+n]
	a.offset += n
	return b
}

const extraArenaSlabSize = 4 << 20
