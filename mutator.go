package rcgc

import "sync/atomic"

// Mutator is one goroutine's registration with the engine: per §4.4, "the
// engine maintains a linked list of thread internals, one per mutator. Each
// internal owns the mutator's increment queue, decrement queue, and epoch
// state." A Mutator must not be shared across goroutines (its queues are
// single-producer).
type Mutator struct {
	engine *Engine

	increments *ringQueue
	decrements *ringQueue
	heap       heapLocal

	// epochRequested is set by the collector and cleared by the mutator's
	// own pollEpoch, the cooperative replacement for SIGUSR1 described in
	// SPEC_FULL.md. Only the mutator goroutine ever moves its queues'
	// epoch cursor forward (internal pseudo-mutators excepted, see
	// internal), matching §4.4's "until the snapshot is received the
	// mutator is free to continue pushing".
	epochRequested atomic.Bool
	epochAck       chan struct{}

	// detached is set by Detach, analogous to the original's `done`
	// lifecycle counter (§4.4): a detached mutator is skipped for further
	// epoch requests and removed from the registry once its queues have
	// fully drained.
	detached atomic.Bool

	// internal marks the engine's own pseudo-mutator used to route the
	// finalizer's post-Finalize release decrements (engine.go's
	// finalizerReturn). No goroutine ever calls pollEpoch for it, so the
	// collector snapshots its queues directly each epoch instead of
	// performing the blocking requestEpoch handshake.
	internal bool
}

func newMutator(e *Engine) *Mutator {
	m := &Mutator{
		engine:   e,
		epochAck: make(chan struct{}, 1),
	}
	m.increments = newRingQueue(incrementCapacity, func() { e.tick() })
	m.decrements = newRingQueue(decrementCapacity, func() { e.tick() })
	m.increments.owner = m
	m.decrements.owner = m
	return m
}

// pushIncrement enqueues obj on this mutator's increment queue.
func (m *Mutator) pushIncrement(obj *Object) {
	m.increments.Push(obj)
}

// pushDecrement enqueues obj on this mutator's decrement queue.
func (m *Mutator) pushDecrement(obj *Object) {
	m.decrements.Push(obj)
}

// pollEpoch is the cooperative poll point invoked from every Slot mutation.
// If the collector has requested an epoch snapshot, it is served here: both
// queues' head positions are captured into their epoch cursors and the
// collector is acknowledged. See SPEC_FULL.md's "Why signals become
// cooperative polling".
func (m *Mutator) pollEpoch() {
	if !m.epochRequested.CompareAndSwap(true, false) {
		return
	}
	m.increments.snapshotEpoch()
	m.decrements.snapshotEpoch()
	select {
	case m.epochAck <- struct{}{}:
	default:
	}
}

// serviceEpochFromPush services a pending epoch request from inside
// ringQueue.Push's overflow wait loop (queue.go), where the calling
// goroutine is still this mutator's own but cannot reach a normal Slot-
// mutation poll point until self, the queue Push is blocked in, drains.
// self's epoch cursor is snapshotted inline rather than via
// snapshotEpoch, which would try to re-lock self.mu, already held by the
// caller; the sibling queue has no such conflict and is snapshotted
// normally.
func (m *Mutator) serviceEpochFromPush(self *ringQueue) {
	if !m.epochRequested.CompareAndSwap(true, false) {
		return
	}
	self.epoch = self.head
	if self == m.increments {
		m.decrements.snapshotEpoch()
	} else {
		m.increments.snapshotEpoch()
	}
	select {
	case m.epochAck <- struct{}{}:
	default:
	}
}

// Poll is the public poll entry point for mutator code that may go a long
// time between Slot writes (e.g. iterating unmanaged data), so it stays
// responsive to epoch requests per §9's permitted "periodic poll" design
// alternative to signal delivery.
func (m *Mutator) Poll() {
	m.pollEpoch()
}

// Allocate reserves a managed object with extraBytes of opaque payload,
// scoped to this mutator's thread-local free lists (§4.1/§6).
func (m *Mutator) Allocate(extraBytes int) *Object {
	obj := m.engine.heap.Allocate(&m.heap, extraBytes)
	m.engine.live.Add(1)
	return obj
}

// New allocates an object sized for typ, runs construct with the raw
// pointer, and publishes typ via finish, per §6's
// "new<T>(extra_bytes, construct) ... must install type at end via
// type.finish(obj)". extraBytes is additional opaque payload beyond what
// typ.Size() already accounts for.
//
// Allocate leaves obj.count at 1, a transient reference standing in for the
// raw pointer New is about to return (I4: reachable only via the allocating
// mutator's return value). Per §4.3's "the type-finish step pushes a
// decrement to discharge the allocator's transient +1", finish is followed
// by a decrement push here, so the first real Slot.Assign of obj is what
// establishes its first counted reference rather than double-counting
// against the allocation-time 1.
func (m *Mutator) New(typ TypeDescriptor, extraBytes int, construct func(obj *Object)) *Object {
	size := typ.Size() + extraBytes
	obj := m.Allocate(size)
	if construct != nil {
		construct(obj)
	}
	obj.finish(typ)
	m.pushDecrement(obj)
	return obj
}

// Detach removes this mutator from further epoch handshakes once its queues
// have fully drained, mirroring §4.4's "Inactive mutators...are skipped" and
// the `done` lifecycle counter's eventual registry removal. Call when the
// goroutine that owns this Mutator is about to exit.
func (m *Mutator) Detach() {
	m.detached.Store(true)
	// Final snapshot: no further pollEpoch will ever fire for this
	// mutator once its goroutine exits, so take one last snapshot here to
	// let the collector drain whatever remains queued.
	m.epochRequested.Store(false)
	m.increments.snapshotEpoch()
	m.decrements.snapshotEpoch()
	select {
	case m.epochAck <- struct{}{}:
	default:
	}
	m.engine.releaseMutator(m)
}

// isDetached reports whether Detach has been called.
func (m *Mutator) isDetached() bool {
	return m.detached.Load()
}

// drained reports whether both of this mutator's queues have no unconsumed
// tokens, used by the collector to decide when a detached mutator can be
// removed from the registry.
func (m *Mutator) drained() bool {
	return m.increments.Len() == 0 && m.decrements.Len() == 0
}

// requestEpoch asks this mutator for an epoch snapshot and blocks until it
// is served, the cooperative-polling replacement for §4.4's
// "Collector waits on the semaphore per thread."
func (m *Mutator) requestEpoch() {
	m.epochRequested.Store(true)
	// Wake a Push blocked on a full ring so it serves the request itself
	// (serviceEpochFromPush). Broadcasting under each queue's lock means a
	// Push that checked the flag before it was set is already in cond.Wait.
	for _, q := range []*ringQueue{m.increments, m.decrements} {
		q.mu.Lock()
		q.cond.Broadcast()
		q.mu.Unlock()
	}
	<-m.epochAck
}
