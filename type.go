package rcgc

// Visitor is called by a TypeDescriptor's Scan method once per outgoing
// managed-pointer field (slot) of an object. push_and_clear<decrement_push>
// from §4.5 is realized by the collector supplying a Visitor (during
// release) that reads the slot's current pointer, clears the slot, and
// decrements the child's count directly, adding the child to the release
// worklist once its count reaches zero.
type Visitor interface {
	// Visit is called with each outgoing *Slot owned by the object being
	// scanned. Implementations must not retain slot beyond the call.
	Visit(slot *Slot)
}

// VisitorFunc adapts a function to a Visitor.
type VisitorFunc func(slot *Slot)

// Visit implements Visitor.
func (f VisitorFunc) Visit(slot *Slot) { f(slot) }

// TypeDescriptor is the external collaborator contract from §6: "the type
// descriptors that declare per-object field layout" are out of scope for
// the collector core, which consumes only these callbacks. Implementations
// are supplied by the hosted language/runtime embedding this package.
type TypeDescriptor interface {
	// Managed reports whether instances of this type may contain outgoing
	// managed-pointer slots at all. A false return lets the collector skip
	// Scan entirely for leaf/value types.
	Managed() bool

	// Size returns the per-instance payload size of the type, excluding
	// the extra bytes requested at construction: New adds those to Size()
	// to choose the size class.
	Size() int

	// Finalizee reports whether instances of this type require
	// finalization. Consulted by Object.finish before the atomic publish
	// of the type pointer, per the "t__type_finalizee" supplemented
	// behavior in SPEC_FULL.md: the finalizee bit must never be
	// observably unset once the type becomes visible.
	Finalizee() bool

	// Scan visits every outgoing managed-pointer slot of obj via visitor.
	// Called by the collector during release (decrement-and-clear) and by
	// the cycle detector during mark-gray/scan-gray/re-count.
	Scan(obj *Object, visitor Visitor)

	// Clone produces the instructions to recreate obj's value-type fields
	// into a freshly allocated instance during Copy; returns the number of
	// opaque bytes the type wants copied verbatim by Copy.
	Clone(obj *Object) int

	// RegisterFinalize is invoked once, by Object.finish, immediately before
	// a finalizable type is published, letting the type descriptor record
	// whatever bookkeeping it needs before the object becomes visible to
	// other goroutines.
	RegisterFinalize(obj *Object)

	// SuppressFinalize is invoked by the finalizer immediately before
	// calling the user-supplied Finalize, preventing double-finalization
	// if the object is resurrected and later re-condemned.
	SuppressFinalize(obj *Object)

	// Copy copies n opaque bytes from src to dst, honoring any type-specific
	// representation (e.g. re-targeting internal self-pointers). Nothing in
	// this package calls Copy or Clone.
	Copy(src, dst *Object, n int)

	// Finalize runs the user-supplied finalization logic for obj. Called by
	// the finalizer goroutine, at most once per object, strictly after
	// SuppressFinalize and after all strong references have been
	// discharged (P5).
	Finalize(obj *Object)
}
