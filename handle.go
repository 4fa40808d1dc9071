package rcgc

import "sync"

// objectExtension is the lazily CAS-allocated side record from §3/§4.7:
// "extension: atomic pointer to an optional side record holding weak-handle
// list, per-object mutex, and condition variable." Storage for the
// weak-handle ring and the synthetic cycle-participation edge.
type objectExtension struct {
	mu sync.Mutex

	// owner/depth record the goroutine token passed to lock and the lock
	// depth. They are bookkeeping only: mu is a plain sync.Mutex, so the
	// extension lock is neither recursive nor timed (DESIGN.md's Open
	// Question (c)).
	owner uint64
	depth int

	weakHandlesHead *weakHandleNode
	// weakHandlesCycle is the synthetic self-reference slot armed when the
	// first handle attaches (§4.7): it makes the object reachable through
	// a synthetic edge so it participates in mark-gray/scan-gray, and is
	// the "weak-handle cycle marker" the revalidate step consults.
	weakHandlesCycle *Slot
}

func newObjectExtension() *objectExtension {
	return &objectExtension{}
}

// lock acquires the extension's mutex and records gid as its owner. It does
// not support re-entry: a second lock from the goroutine already holding it
// blocks, since sync.Mutex cannot be asked whether the calling goroutine
// holds it. Nothing in this package calls lock or unlock.
func (x *objectExtension) lock(gid uint64) {
	x.mu.Lock()
	x.owner = gid
	x.depth++
}

func (x *objectExtension) unlock() {
	x.depth--
	x.mu.Unlock()
}

// arm attaches the synthetic self-reference edge the first time a handle
// attaches to obj, per §4.7's "when the first handle attaches, the
// extension's weak_handles__cycle slot is armed with a self-reference".
func (x *objectExtension) arm(m *Mutator, obj *Object) {
	if x.weakHandlesCycle != nil {
		return
	}
	s := NewSlot(m)
	s.ptr.Store(obj)
	x.weakHandlesCycle = s
}

// hasCycleMarker reports whether obj's synthetic self-reference is armed and
// still targets obj, consulted by the cycle detector's revalidate step.
func (x *objectExtension) hasCycleMarker() bool {
	return x.weakHandlesCycle != nil && x.weakHandlesCycle.Load() != nil
}

// weakHandleNode is one node of the extension's doubly-linked weak-handle
// ring (§4.7). onClear, when set, runs whatever extra teardown a richer
// handle built atop a weak attachment needs once its primary is actually
// collected (DependentHandle's automatic secondary release).
type weakHandleNode struct {
	prev, next *weakHandleNode
	final      bool
	target     *Object
	onClear    func()
}

func (x *objectExtension) attach(n *weakHandleNode) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.weakHandlesHead == nil {
		n.prev, n.next = n, n
		x.weakHandlesHead = n
		return
	}
	head := x.weakHandlesHead
	tail := head.prev
	n.prev, n.next = tail, head
	tail.next, head.prev = n, n
}

func (x *objectExtension) detach(n *weakHandleNode) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if n.next == n {
		x.weakHandlesHead = nil
		return
	}
	n.prev.next = n.next
	n.next.prev = n.prev
	if x.weakHandlesHead == n {
		x.weakHandlesHead = n.next
	}
	n.prev, n.next = nil, nil
}

// clearWeakHandles clears every weak-handle node attached to obj's
// extension, called exactly once by freeObject as part of returning obj to
// the heap, per I6: "a weak handle's Target observes nil once its referent
// has actually been collected."
func clearWeakHandles(obj *Object) {
	ext := obj.extensionOrNil()
	if ext == nil {
		return
	}
	ext.mu.Lock()
	head := ext.weakHandlesHead
	if head != nil {
		n := head
		for {
			next := n.next
			n.clear()
			if next == head {
				break
			}
			n = next
		}
	}
	ext.mu.Unlock()
}

// Handle is the common contract of §4.7's three handle flavors: "all
// implement target() -> slot".
type Handle interface {
	// Target returns a slot whose current value is the live referent, or
	// a slot holding nil if the referent is unreachable (cleared per I6).
	Target() *Slot
}

// NormalHandle is a strong root (§4.7): it pins the target by holding an
// ordinary Slot whose increment was pushed at construction.
type NormalHandle struct {
	slot *Slot
}

// NewNormalHandle pins obj with a strong root reference.
func NewNormalHandle(m *Mutator, obj *Object) *NormalHandle {
	s := NewSlot(m)
	s.Assign(obj)
	return &NormalHandle{slot: s}
}

// Target returns the pinned slot.
func (h *NormalHandle) Target() *Slot { return h.slot }

// Release drops the strong root, per Slot.Destruct.
func (h *NormalHandle) Release() { h.slot.Destruct() }

// WeakHandle is an observable reference that does not contribute to count
// (§4.7). The final flag is recorded on the handle's node, but clearing does
// not depend on it: every handle, final or not, is cleared when its object is
// freed (clearWeakHandles), which for a finalizable object is after its
// finalizer has run. A non-final handle is not cleared earlier, when the
// object is condemned.
type WeakHandle struct {
	mutator *Mutator
	node    *weakHandleNode
	obj     *Object
}

// NewWeakHandle attaches a weak handle to obj, recording final on its node
// (see WeakHandle for when handles are cleared).
func NewWeakHandle(m *Mutator, obj *Object, final bool) *WeakHandle {
	ext := obj.extensionFor()
	n := &weakHandleNode{final: final, target: obj}
	ext.attach(n)
	ext.arm(m, obj)
	return &WeakHandle{mutator: m, node: n, obj: obj}
}

// Target implements §4.7's weak-handle lookup: it reads the target under the
// extension's mutex, sets the engine's reviving flag, revives the target by
// assigning it into a new slot (which pushes an increment), and returns that
// slot. Returns a slot holding nil if the referent has already been cleared
// (I6).
func (h *WeakHandle) Target() *Slot {
	s := NewSlot(h.mutator)
	ext := h.obj.extensionOrNil()
	if ext == nil {
		return s
	}
	ext.mu.Lock()
	target := h.node.target
	ext.mu.Unlock()
	if target == nil {
		return s
	}

	// P4: revival must be atomic with respect to collection. Setting the
	// engine-wide reviving flag forces the cycle detector's next
	// revalidate pass to re-check every pending node (cycle.go), per §4.6:
	// "The reviving flag is set by weak_handle.target() to force
	// revalidation when a mutator has resurrected an object via a weak
	// lookup during the collector's traversal."
	h.mutator.engine.setReviving()

	s.Assign(target)
	return s
}

// clear is called by the collector, through clearWeakHandles, when the
// referent is freed; final and non-final handles are cleared alike.
func (n *weakHandleNode) clear() {
	n.target = nil
	if n.onClear != nil {
		n.onClear()
	}
}

// Detach removes the handle from its object's weak-handle ring.
func (h *WeakHandle) Detach() {
	ext := h.obj.extensionOrNil()
	if ext == nil {
		return
	}
	ext.detach(h.node)
}

// DependentHandle is weak in its primary, strong in its secondary iff the
// primary is live (§4.7): its scan visits the secondary slot only while the
// primary is reachable.
type DependentHandle struct {
	mutator   *Mutator
	primary   *WeakHandle
	secondary *Slot
}

// NewDependentHandle creates a dependent handle: weak reference to primary,
// with secondary pinned only transitively through primary's liveness (S5).
// Secondary's strong pin is released automatically the moment primary is
// actually collected (its weak-handle node's onClear runs on the collector
// goroutine, so it routes the release through releaseViaCollector rather
// than reaching into secondary's owning mutator's queue from the wrong
// goroutine), not only when the caller calls Release explicitly.
func NewDependentHandle(m *Mutator, primary, secondary *Object) *DependentHandle {
	d := &DependentHandle{
		mutator:   m,
		primary:   NewWeakHandle(m, primary, false),
		secondary: NewSlot(m),
	}
	d.secondary.Assign(secondary)
	d.primary.node.onClear = func() {
		if obj := d.secondary.ptr.Swap(nil); obj != nil {
			m.engine.releaseViaCollector(obj)
		}
	}
	return d
}

// Target returns the primary's slot (weak semantics).
func (d *DependentHandle) Target() *Slot { return d.primary.Target() }

// Scan visits the secondary slot, per §4.7: "its scan visits the secondary
// slot", but only while primary remains live (otherwise secondary has
// already been cleared by the collector alongside primary's condemnation).
func (d *DependentHandle) Scan(visitor Visitor) {
	visitor.Visit(d.secondary)
}

// Release drops both the primary weak attachment and the secondary's strong
// reference immediately, for callers that want to tear the pair down before
// primary would otherwise be collected. If primary dies first, onClear
// already released secondary; Destruct is idempotent so this remains safe to
// call either way.
func (d *DependentHandle) Release() {
	d.primary.Detach()
	d.secondary.Destruct()
}
