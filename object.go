package rcgc

import (
	"sync/atomic"
)

// Color is the per-object tri-color-plus-cyclic tag from §3/§4.8.
type Color int32

const (
	// Black is the initial color: count=1, reachable, not a cycle
	// candidate.
	Black Color = iota
	// Purple marks a candidate cycle root: count was decremented but did
	// not reach zero.
	Purple
	// Gray marks a node under mark-gray traversal.
	Gray
	// Whiting marks a node mid scan-gray, about to become White.
	Whiting
	// White marks a node with no external reference found during
	// scan-gray; eligible for collect-white.
	White
	// Orange marks a node linked into a pending cycle awaiting
	// condemnation.
	Orange
	// Red marks a node under the re-count check.
	Red
)

func (c Color) String() string {
	switch c {
	case Black:
		return "black"
	case Purple:
		return "purple"
	case Gray:
		return "gray"
	case Whiting:
		return "whiting"
	case White:
		return "white"
	case Orange:
		return "orange"
	case Red:
		return "red"
	default:
		return "unknown"
	}
}

// rankLarge is the sentinel rank for individually-mapped (not
// segregated-class) allocations, per §3's "a sentinel for large,
// individually mapped".
const rankLarge int8 = -1

// Object is the fixed header every managed object begins with, per §3.
// Fields not already wrapped in an atomic type are owned jointly by the
// collector and mutators under the ordering rules of §4.3/§5: next,
// previous, scan, count, cyclic, nextCycle and rank are touched only by the
// collector thread once an object has left the allocating mutator's hands
// (I5); color, typ and extension are read from mutator goroutines (weak
// handle lookups, Slot writes) and are therefore atomic.
type Object struct {
	// next/previous: doubly-linked membership in {free list, purple-root
	// list, cycle list, none}, interpreted by color (I2/I3).
	next, previous *Object

	// scan is the header's traversal-stack link. Release and cycle
	// detection use slices for their worklists, so nothing sets it;
	// freeClass resets it to nil.
	scan *Object

	// nextCycle chains the members of one identified cycle (collectWhite);
	// cyclesPending holds each pending cycle's head.
	nextCycle *Object

	// color is read from weak-handle target() lookups (mutator goroutines)
	// and written from the collector; kept atomic rather than guarded by a
	// shared mutex to keep Slot reads (I3.9 in the original) allocation-free.
	color atomic.Int32

	// typ holds the TypeDescriptor once finish has published it; nil until
	// then (I4). atomic.Value is used (rather than atomic.Pointer[T]) since
	// the stored value is an interface, and finish is the single writer of
	// a given concrete dynamic type across this object's lifetime.
	typ atomic.Value

	// extension is a lazily CAS-allocated side record for the weak-handle
	// ring and per-object synchronization (§4.7); atomic.Pointer[T] fits
	// since its pointee is a concrete struct, not an interface.
	extension atomic.Pointer[objectExtension]

	// count is the non-atomic reference count (I1), mutated only by the
	// collector while applying queued increments/decrements (§4.5).
	count int64

	// cyclic is scratch state for cycle detection (§4.6); on free-list
	// chunks it is reused to tag chunk length (§3), matching the
	// original's field-reuse design.
	cyclic int64

	// rank is the size-class index (0-6), or rankLarge for an individually
	// mapped allocation.
	rank int8

	// finalizee is set at construction (before type is published) for
	// types requiring finalization. Permanent for the object's lifetime:
	// it says the type requires finalization, not whether finalization has
	// already happened (see finalized).
	finalizee bool

	// finalized is set once by the finalizer after Finalize actually runs
	// (finalizer.go's finalizeOne), and consulted by condemn/finalizeCycle
	// (cycle.go) so a cycle is never handed to the finalizer a second time:
	// per P5 ("finalizer sees each finalizee exactly once"), an object whose
	// mutual-reference cycle survives its first finalizer pin-release (its
	// internal edges keep its count above zero) must be condemned as
	// ordinary cyclic garbage on the next pass, not re-finalized. Written
	// only by the finalizer goroutine, read only by the collector goroutine,
	// hence atomic rather than the plain bool used for finalizee.
	finalized atomic.Bool

	// extra is the opaque, collector-unscanned payload region beyond the
	// fixed header, backed by a chunk of an mmap'd slab (see heap.go):
	// types store their extra_bytes fields here; the collector never
	// dereferences Go pointers through it directly, only via Scan/Copy
	// callbacks supplied by the TypeDescriptor.
	extra []byte
}

// Color returns the object's current color.
func (o *Object) Color() Color {
	return Color(o.color.Load())
}

// setColor atomically sets the object's color. Only called from the
// collector goroutine, except for the Purple write performed inline by
// decrement-push (also collector-side, per §4.5).
func (o *Object) setColor(c Color) {
	o.color.Store(int32(c))
}

// casColor attempts an atomic color transition, for a transition that must
// be observed exactly once. Nothing in this package calls it.
func (o *Object) casColor(from, to Color) bool {
	return o.color.CompareAndSwap(int32(from), int32(to))
}

// Count returns the object's current reference count. Collector-only.
func (o *Object) Count() int64 { return o.count }

// Finalizee reports whether this object requires finalization.
func (o *Object) Finalizee() bool { return o.finalizee }

// pendingFinalization reports whether this object still needs to be handed
// to the finalizer: it is a finalizee and Finalize has not already run.
func (o *Object) pendingFinalization() bool {
	return o.finalizee && !o.finalized.Load()
}

// Rank returns the object's size-class index, or rankLarge.
func (o *Object) Rank() int8 { return o.rank }

// Extra returns the opaque payload region beyond the fixed header.
func (o *Object) Extra() []byte { return o.extra }

// Type returns the object's published type descriptor, or nil if the
// allocating mutator has not yet called finish (I4: such an object must not
// be scanned and is reachable only via the allocating mutator's return
// value).
func (o *Object) Type() TypeDescriptor {
	v := o.typ.Load()
	if v == nil {
		return nil
	}
	return v.(TypeDescriptor)
}

// finish publishes obj's type descriptor, completing construction. Per §5's
// ordering rule, "construction completes before type is published (release
// store)"; atomic.Value.Store is the release-store equivalent here. Per the
// Finalizee-before-publish supplemented behavior (SPEC_FULL.md), the
// finalizee bit is set before the type becomes visible to any other
// goroutine, so a racing observer never sees type!=nil with a stale
// finalizee=false.
func (o *Object) finish(typ TypeDescriptor) {
	if typ.Finalizee() {
		o.finalizee = true
	}
	if o.finalizee {
		typ.RegisterFinalize(o)
	}
	o.typ.Store(typ)
}

// extensionFor returns obj's extension, lazily allocating one via CAS if
// absent. Used by the weak-handle subsystem to attach handles.
func (o *Object) extensionFor() *objectExtension {
	if ext := o.extension.Load(); ext != nil {
		return ext
	}
	ext := newObjectExtension()
	if o.extension.CompareAndSwap(nil, ext) {
		return ext
	}
	return o.extension.Load()
}

// extensionOrNil returns obj's extension without allocating one.
func (o *Object) extensionOrNil() *objectExtension {
	return o.extension.Load()
}
