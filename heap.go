package rcgc

import (
	"sort"
	"sync"
	"sync/atomic"
	"unsafe"
)

// numClasses is the number of segregated size classes (§3: "seven classes
// with object sizes 128*2^r for r in {0..6}").
const numClasses = 7

// classCapacities gives the objects-per-block for each class, matching §3's
// "64Ki, 16Ki, 4Ki, 1Ki, 256, 64, 16 respectively".
var classCapacities = [numClasses]int{64 * 1024, 16 * 1024, 4 * 1024, 1024, 256, 64, 16}

// classSize returns 128*2^r, the maximum extra-byte budget a request may
// have and still fit class r.
func classSize(r int) int { return 128 << uint(r) }

// classify returns the size class fitting extraBytes, or rankLarge if it
// exceeds class 6 (§3: "any request exceeding class 6 is individually
// mapped").
func classify(extraBytes int) int8 {
	for r := 0; r < numClasses; r++ {
		if extraBytes <= classSize(r) {
			return int8(r)
		}
	}
	return rankLarge
}

// objectStride is the in-memory distance between consecutive Object headers
// within one segregated block, used by Find to validate a conservative
// pointer query's alignment (§3: "offset aligned to 128*2^rank").
var objectStride = unsafe.Sizeof(Object{})

// sizeClass holds the global chunk LIFO and registered blocks for one rank.
// Per §4.1: "a lock-free LIFO of chunks". This rewrite uses a mutex-guarded
// LIFO instead of a literal lock-free port: queue.go's RC rings are the
// load-bearing concurrent data structure in this spec, and the teacher's own
// documented rationale (eventloop's ingress queue comments: "mutex+chunked
// queue outperforms lock-free under contention for this access pattern")
// applies equally here, at a fraction of the risk of a hand-rolled lock-free
// stack.
type sizeClass struct {
	mu     sync.Mutex
	chunks *Object // LIFO of chunks linked via each head's previous; members chain via next; each head's cyclic holds the chunk length
	blocks [][]Object
}

// heapLocal is one goroutine's thread-local free-list context: an indexed
// array of free-list heads, one per class, per §9's "thread-local head
// pointers per size class...modeled as an indexed array". Embedded in both
// Mutator (for Allocate) and the collector's own context (for Free), since
// both allocate and free are goroutine-local operations in this design.
type heapLocal struct {
	free  [numClasses]*Object
	freed [numClasses]int
}

// Heap is the segregated size-class allocator plus block registry described
// in §3/§4.1.
type Heap struct {
	classes  [numClasses]sizeClass
	registry blockRegistry
	arena    extraArena
	stats    heapStats
}

// heapStats tracks per-rank allocation bookkeeping for Engine.Statistics(),
// the supplemented feature mirroring engine.cc's shutdown verbose dump.
type heapStats struct {
	mu        sync.Mutex
	grown     [numClasses + 1]int64 // +1 for large/individually-mapped
	allocated [numClasses + 1]int64
	freed     [numClasses + 1]int64
}

func newHeap() *Heap {
	h := &Heap{arena: newExtraArena()}
	return h
}

// blockEntry is one registered block: a contiguous run of Object headers
// backed by a single Go slice, plus the metadata Find needs to validate a
// conservative pointer query.
type blockEntry struct {
	base   uintptr
	length uintptr // capacity * objectStride
	rank   int8
	slice  []Object // retained so the GC cannot reclaim it out from under live pointers
}

// blockRegistry is the ordered map from block start address to block length,
// protected by a mutex, from §3's "Block registry".
type blockRegistry struct {
	mu      sync.Mutex
	entries []blockEntry // kept sorted by base
}

func (r *blockRegistry) register(e blockEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := sort.Search(len(r.entries), func(i int) bool { return r.entries[i].base >= e.base })
	r.entries = append(r.entries, blockEntry{})
	copy(r.entries[i+1:], r.entries[i:])
	r.entries[i] = e
}

func (r *blockRegistry) unregister(base uintptr) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := sort.Search(len(r.entries), func(i int) bool { return r.entries[i].base >= base })
	if i < len(r.entries) && r.entries[i].base == base {
		r.entries = append(r.entries[:i], r.entries[i+1:]...)
	}
}

// find performs the lower-bound lookup from §3/§4.1: "find does a lower-bound
// on the block map and accepts the pointer iff the offset from the block
// start is strictly less than the block length and is a multiple of the
// class's object stride."
func (r *blockRegistry) find(addr uintptr) *Object {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := sort.Search(len(r.entries), func(i int) bool { return r.entries[i].base > addr }) - 1
	if i < 0 {
		return nil
	}
	e := r.entries[i]
	offset := addr - e.base
	if offset >= e.length {
		return nil
	}
	if offset%objectStride != 0 {
		return nil
	}
	idx := offset / objectStride
	return &e.slice[idx]
}

// Find answers the conservative "does this address name a live object
// header?" query (§3, P6). It returns nil for any address that is not
// exactly the base address of a currently-registered header slot; it does
// not itself distinguish a free header from a live one, since a freed slot
// remains a valid header slot until its backing block is released — callers
// needing liveness should check the result's Color/Count.
func (h *Heap) Find(addr uintptr) *Object {
	return h.registry.find(addr)
}

// grow allocates a new block for rank r, threads its objects onto a single
// chunk, and registers it with the block map. Mirrors §4.1's "grows by
// mmap'ing a new block...threading all objects, and registering the block".
// This rewrite backs the header array with ordinary Go memory (make) rather
// than raw mmap: the per-object typ/extension fields must hold genuine
// Go-managed pointers (TypeDescriptor, *objectExtension), and the Go garbage
// collector does not scan memory outside its own managed heap for roots, so
// storing those pointers inside anonymously-mmap'd bytes would let the real
// GC collect live referents out from under this collector. Real mmap (via
// golang.org/x/sys/unix, see heap_unix.go/heap_windows.go) is used instead
// for the opaque "extra bytes" payload region, which the collector never
// dereferences as Go pointers directly (type.go's Scan/Copy contract).
func (h *Heap) grow(rank int8) *Object {
	sc := &h.classes[rank]
	capacity := classCapacities[rank]
	block := make([]Object, capacity)
	for i := range block {
		block[i].rank = rank
		if i+1 < len(block) {
			block[i].next = &block[i+1]
		}
	}
	head := &block[0]
	head.cyclic = int64(capacity)

	base := uintptr(unsafe.Pointer(&block[0]))
	length := uintptr(capacity) * objectStride

	h.stats.mu.Lock()
	h.stats.grown[rank]++
	h.stats.mu.Unlock()

	sc.blocks = append(sc.blocks, block)
	h.registry.register(blockEntry{base: base, length: length, rank: rank, slice: block})
	return head
}

// allocateClass pops one free header for rank from local, falling back to
// the class's global chunk LIFO, then to growing the heap, per §4.1's
// "allocate pops from the thread-local list; on empty, pops a chunk
// atomically and rethreads its objects; on empty global stack, grows".
func (h *Heap) allocateClass(local *heapLocal, rank int8) *Object {
	if o := local.free[rank]; o != nil {
		local.free[rank] = o.next
		o.next = nil
		return o
	}

	sc := &h.classes[rank]
	sc.mu.Lock()
	chunk := sc.chunks
	if chunk != nil {
		sc.chunks = chunk.previous // pop only the top chunk; rethread it locally
		chunk.previous = nil
	}
	sc.mu.Unlock()

	if chunk != nil {
		local.free[rank] = chunk.next
		chunk.next = nil
		return chunk
	}

	head := h.grow(rank)
	local.free[rank] = head.next
	head.next = nil
	return head
}

// freeClass returns obj (of the given rank) to local's thread-local free
// list, publishing the whole list as one chunk on the class's global LIFO
// once it reaches class capacity, per §4.1's "free(p) pushes to the
// thread-local list; when length reaches class capacity, the entire list is
// detached and published as one chunk on the LIFO."
func (h *Heap) freeClass(local *heapLocal, rank int8, obj *Object) {
	obj.next = local.free[rank]
	obj.color.Store(0)
	obj.typ = atomic.Value{}
	obj.extension.Store(nil)
	obj.count = 0
	obj.cyclic = 0
	obj.previous = nil
	obj.scan = nil
	obj.nextCycle = nil
	obj.finalizee = false
	obj.extra = nil
	local.free[rank] = obj
	local.freed[rank]++

	h.stats.mu.Lock()
	h.stats.freed[rank]++
	h.stats.mu.Unlock()

	if local.freed[rank] < classCapacities[rank] {
		return
	}

	chunk := local.free[rank]
	chunk.cyclic = int64(local.freed[rank])
	local.free[rank] = nil
	local.freed[rank] = 0

	sc := &h.classes[rank]
	sc.mu.Lock()
	chunk.previous = sc.chunks
	sc.chunks = chunk
	sc.mu.Unlock()
}

// Allocate reserves a managed object able to hold extraBytes of opaque
// payload, per §4.1/§6's "allocate(size) -> *object" / "new<T>(extra_bytes,
// construct)". The returned object's type is nil (I4) until finish is
// called.
func (h *Heap) Allocate(local *heapLocal, extraBytes int) *Object {
	rank := classify(extraBytes)
	var obj *Object
	if rank == rankLarge {
		block := make([]Object, 1)
		block[0].rank = rankLarge
		base := uintptr(unsafe.Pointer(&block[0]))
		h.registry.register(blockEntry{base: base, length: objectStride, rank: rankLarge, slice: block})
		h.stats.mu.Lock()
		h.stats.grown[numClasses]++
		h.stats.allocated[numClasses]++
		h.stats.mu.Unlock()
		obj = &block[0]
	} else {
		obj = h.allocateClass(local, rank)
		h.stats.mu.Lock()
		h.stats.allocated[rank]++
		h.stats.mu.Unlock()
	}
	if extraBytes > 0 {
		obj.extra = h.arena.alloc(extraBytes)
	}
	obj.count = 1
	obj.color.Store(int32(Black))
	return obj
}

// Free returns obj to the allocator, per §4.1's free(p) / §4.5's "the object
// header is handed to free". Only ever called by the collector, per I5.
func (h *Heap) Free(local *heapLocal, obj *Object) {
	rank := obj.rank
	if rank == rankLarge {
		base := uintptr(unsafe.Pointer(obj))
		h.registry.unregister(base)
		h.stats.mu.Lock()
		h.stats.freed[numClasses]++
		h.stats.mu.Unlock()
		return
	}
	h.freeClass(local, rank, obj)
}
