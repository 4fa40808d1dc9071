package rcgc

import "sync/atomic"

// Slot is an atomically-written managed pointer field, per §4.3: "a slot is
// an atomically-written managed pointer field." All assignment goes through
// Assign, AssignSlot, MoveSlot, and Destruct, each of which emits the
// appropriate increment/decrement tokens into the owning Mutator's queues
// (never mutating count directly, per I5).
type Slot struct {
	ptr   atomic.Pointer[Object]
	owner *Mutator
}

// NewSlot constructs a slot owned by m. owner determines which mutator's
// increment/decrement queues receive tokens for this slot's writes.
func NewSlot(m *Mutator) *Slot {
	return &Slot{owner: m}
}

// Load returns the slot's current pointer. An implicit read in the original
// C++ API; exposed explicitly here since Go has no operator overloading.
func (s *Slot) Load() *Object {
	return s.ptr.Load()
}

// Assign writes obj (which may be nil) into the slot from a raw managed
// pointer, per §4.3's three-step protocol:
//  1. if obj != nil, push it into the increment queue;
//  2. atomically exchange the slot's pointer for obj;
//  3. if the prior value was non-nil, push it into the decrement queue.
//
// Step 1 preceding step 2 is what guarantees the collector never observes a
// mutator-reachable pointer whose increment has not yet been queued (§4.3's
// Contract).
func (s *Slot) Assign(obj *Object) {
	if obj != nil {
		s.owner.pushIncrement(obj)
	}
	old := s.ptr.Swap(obj)
	if old != nil {
		s.owner.pushDecrement(old)
	}
	s.owner.pollEpoch()
}

// AssignSlot copies other's current value into s (assign(&slot), the "copy"
// form): other's pointer is read once and written through the same
// three-step protocol as Assign.
func (s *Slot) AssignSlot(other *Slot) {
	s.Assign(other.Load())
}

// MoveSlot transfers other's pointer field directly into s, per §4.3's
// "Move-assign elides both pushes by transferring the pointer field
// directly": the moved-from slot's reference is not re-counted (no new
// increment, since ownership simply relocates), but if s already held a
// value, that value is still released via the normal decrement push, since
// s's prior occupant's lifetime is unaffected by the move.
func (s *Slot) MoveSlot(other *Slot) {
	moved := other.ptr.Swap(nil)
	old := s.ptr.Swap(moved)
	if old != nil {
		s.owner.pushDecrement(old)
	}
	s.owner.pollEpoch()
}

// Destruct clears the slot, pushing its prior value (if any) into the
// decrement queue. Per §4.3: "Scoped slots (stack-resident) additionally
// push their pointer into decrements on destruction."
func (s *Slot) Destruct() {
	old := s.ptr.Swap(nil)
	if old != nil {
		s.owner.pushDecrement(old)
	}
	s.owner.pollEpoch()
}

// Scoped constructs a stack-resident slot plus its destructor, mirroring the
// original's t_scoped<T> (whose destructor calls f__destruct). Go has no
// destructors, so callers defer the returned function:
//
//	slot, destruct := rcgc.Scoped(m)
//	defer destruct()
func Scoped(m *Mutator) (*Slot, func()) {
	s := NewSlot(m)
	return s, s.Destruct
}
