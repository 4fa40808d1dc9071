package rcgc

import "sync"

// incrementCapacity and decrementCapacity are the two per-mutator ring
// buffer capacities from §4.2.
const (
	incrementCapacity = 16384
	decrementCapacity = 32768
)

// ringQueue is a single-producer/single-consumer bounded ring of *Object
// tokens, with an epoch cursor, from §4.2. The producer is always the owning
// Mutator's goroutine; the consumer is always the collector goroutine.
// Ported from the original's t_queue (slot.h), using a mutex+slice rather
// than the original's raw lock-free pointer array, matching queue.go's
// DESIGN.md grounding on eventloop/ingress.go's mutex-guarded chunked ring
// (the teacher's own documented rationale: a mutex outperforms lock-free
// CAS under contention for this exact bounded single-producer shape).
type ringQueue struct {
	mu   sync.Mutex
	cond sync.Cond

	buf []*Object

	head int64 // total tokens ever pushed (monotonic)
	tail int64 // position already drained/applied by the collector
	next int64 // §4.2's "next": set to the drained position by each drain; not read, drains are not bounded by it

	epoch int64 // head snapshotted at the last epoch handshake
	last  int64 // (decrements only) position already consumed as of the prior epoch

	onOverflow func() // tick: wakes the collector conductor

	// owner is the Mutator this queue belongs to, used only so Push's
	// overflow wait loop can self-service a pending epoch request (see
	// Push) without ever routing back through pollEpoch. Always set by
	// newMutator; nil is tolerated so a bare ringQueue built without one
	// (e.g. newRingQueue called directly) degrades to blocking until the
	// next drain rather than panicking.
	owner *Mutator
}

func newRingQueue(capacity int, onOverflow func()) *ringQueue {
	q := &ringQueue{
		buf:        make([]*Object, capacity),
		onOverflow: onOverflow,
	}
	q.cond.L = &q.mu
	return q
}

// Push enqueues obj. Called only by the owning mutator's goroutine (program
// order is therefore preserved automatically, per §5's "Ordering"). When the
// ring is full (head - tail has reached capacity) it calls onOverflow (tick)
// and then waits on the condition variable until a drain advances tail.
//
// A mutator stuck here has, by construction, no way back to a Slot mutation
// or Poll() call until room frees up — so it can never reach pollEpoch on
// its own. If the collector is concurrently blocked in requestEpoch waiting
// on exactly this mutator, nothing would ever drain this ring to make room,
// deadlocking the whole engine (§5's no-global-stop-the-world guarantee
// would be broken). The wait loop therefore services its own epoch request
// inline before blocking, same as pollEpoch would, since the calling
// goroutine still is the owning mutator's.
func (q *ringQueue) Push(obj *Object) {
	q.mu.Lock()
	for q.head-q.tail >= int64(len(q.buf)) {
		q.mu.Unlock()
		if q.onOverflow != nil {
			q.onOverflow()
		}
		q.mu.Lock()
		for q.head-q.tail >= int64(len(q.buf)) {
			if q.owner != nil {
				q.owner.serviceEpochFromPush(q)
			}
			q.cond.Wait()
		}
	}
	q.buf[q.head%int64(len(q.buf))] = obj
	q.head++
	q.mu.Unlock()
}

// snapshotEpoch copies the queue's current head into epoch, the cooperative
// replacement for the original's signal-delivered "copies the current head
// of both queues into epoch" (§4.4). Called from the owning mutator's
// goroutine at a poll point (see mutator.go's pollEpoch) or in Detach; the
// collector calls it directly only for internal pseudo-mutators, which no
// goroutine polls for (see runEpoch).
func (q *ringQueue) snapshotEpoch() {
	q.mu.Lock()
	q.epoch = q.head
	q.mu.Unlock()
}

// drainIncrements applies cb to every token between tail and the epoch
// snapshot taken at the start of this collector epoch, per §4.2/§4.5:
// increments are always drained in full up to the prior epoch boundary.
func (q *ringQueue) drainIncrements(cb func(*Object)) {
	q.mu.Lock()
	epoch := q.epoch
	tail := q.tail
	buf := q.buf
	capacity := int64(len(buf))
	q.mu.Unlock()

	for i := tail; i < epoch; i++ {
		cb(buf[i%capacity])
	}

	q.mu.Lock()
	q.tail = epoch
	q.next = epoch
	q.cond.Broadcast()
	q.mu.Unlock()
}

// drainDecrements applies cb to every token between last and the epoch
// snapshot, then advances last, per §4.2's "decrements from last up to the
// prior epoch, advancing last". Callers must have already drained
// increments for the same epoch (§4.2/§5's mandatory increments-before-
// decrements ordering).
func (q *ringQueue) drainDecrements(cb func(*Object)) {
	q.mu.Lock()
	epoch := q.epoch
	last := q.last
	buf := q.buf
	capacity := int64(len(buf))
	q.mu.Unlock()

	for i := last; i < epoch; i++ {
		cb(buf[i%capacity])
	}

	q.mu.Lock()
	q.last = epoch
	q.tail = epoch
	q.next = epoch
	q.cond.Broadcast()
	q.mu.Unlock()
}

// Len reports the number of unconsumed tokens, used by Collect/Shutdown's
// loop-until-quiescent check (SPEC_FULL.md's resolution of Open Question (a)).
func (q *ringQueue) Len() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.head - q.tail
}
