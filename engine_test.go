package rcgc

import (
	"context"
	"sync"
	"testing"
	"time"
	"unsafe"

	"github.com/stretchr/testify/require"
)

// pinnedMutator runs a single Mutator entirely on its own goroutine (a
// Mutator must never be touched from more than one goroutine), polling it
// periodically so the collector's epoch requests get served even though
// nothing else is mutating slots. setup runs once before the poll loop
// starts; teardown (requested via the returned stop func) runs on the same
// goroutine before it Detaches and exits.
func pinnedMutator(e *Engine, setup func(m *Mutator), teardown func(m *Mutator)) (stop func()) {
	stopCh := make(chan struct{})
	doneCh := make(chan struct{})
	go func() {
		defer close(doneCh)
		m := e.NewMutator()
		setup(m)

		ticker := time.NewTicker(time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stopCh:
				teardown(m)
				m.Detach()
				return
			case <-ticker.C:
				m.Poll()
			}
		}
	}()
	return func() {
		close(stopCh)
		<-doneCh
	}
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := New(WithCollectorThreshold(0))
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = e.Shutdown(ctx)
	})
	return e
}

// TestConservationAfterDrop covers P1: once every strong reference to an
// acyclic chain is dropped, Collect reduces Live to zero.
func TestConservationAfterDrop(t *testing.T) {
	e := newTestEngine(t)
	m := e.NewMutator()
	typ := newGraphType(false)

	root := NewSlot(m)
	a := typ.newNode(m)
	b := typ.newNode(m)
	c := typ.newNode(m)
	typ.link(m, a, b)
	typ.link(m, b, c)
	root.Assign(a)

	require.Equal(t, int64(3), e.Live())

	root.Destruct()
	m.Detach()
	e.Collect()

	require.Equal(t, int64(0), e.Live())
}

// TestNoPrematureFree covers P2: an object reachable from a held root stays
// live across repeated collector passes.
func TestNoPrematureFree(t *testing.T) {
	e := newTestEngine(t)
	typ := newGraphType(false)

	var root *Slot
	stop := pinnedMutator(e,
		func(m *Mutator) {
			root = NewSlot(m)
			root.Assign(typ.newNode(m))
		},
		func(m *Mutator) {
			root.Destruct()
		},
	)

	for i := 0; i < 5; i++ {
		e.Collect()
		require.Equal(t, int64(1), e.Live(), "object must not be freed while rooted (pass %d)", i)
	}

	stop()
	e.Collect()
	require.Equal(t, int64(0), e.Live())
}

// TestCycleCollection covers P3: a two-node cycle with no external
// reference is eventually reclaimed by the cycle detector.
func TestCycleCollection(t *testing.T) {
	e := newTestEngine(t)
	m := e.NewMutator()
	typ := newGraphType(false)

	root := NewSlot(m)
	a := typ.newNode(m)
	b := typ.newNode(m)
	typ.link(m, a, b)
	typ.link(m, b, a) // mutual reference: neither count ever reaches zero alone
	root.Assign(a)

	require.Equal(t, int64(2), e.Live())

	root.Destruct() // drop the only external reference into the cycle
	m.Detach()
	e.Collect()

	require.Equal(t, int64(0), e.Live(), "cyclic garbage must be reclaimed by Bacon-Rajan detection")
}

// TestWeakHandleRevival covers P4: WeakHandle.Target observes the live
// object while it is reachable, and observes nil once it has actually been
// collected (I6), with no intervening premature free.
func TestWeakHandleRevival(t *testing.T) {
	e := newTestEngine(t)
	m := e.NewMutator()
	typ := newGraphType(false)

	root := NewSlot(m)
	obj := typ.newNode(m)
	root.Assign(obj)

	weak := NewWeakHandle(m, obj, false)

	revived := weak.Target()
	require.NotNil(t, revived.Load(), "weak handle must observe the live object")
	revived.Destruct() // release the revival's own pinning reference

	require.Equal(t, int64(1), e.Live())

	root.Destruct()
	m.Detach()
	e.Collect()

	require.Equal(t, int64(0), e.Live())
	require.Nil(t, weak.Target().Load(), "weak handle must clear once its referent is collected")
}

// TestFinalizeExactlyOnce covers P5: a finalizable cyclic garbage set is
// finalized exactly once, even across repeated Collect passes.
func TestFinalizeExactlyOnce(t *testing.T) {
	e := newTestEngine(t)
	m := e.NewMutator()
	typ := newGraphType(true)

	root := NewSlot(m)
	a := typ.newNode(m)
	b := typ.newNode(m)
	typ.link(m, a, b)
	typ.link(m, b, a)
	root.Assign(a)

	root.Destruct()
	m.Detach()
	e.Collect()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, e.Finalize(ctx))

	require.Equal(t, 1, typ.finalizedTimes(a))
	require.True(t, typ.wasSuppressed(a))

	// A further Collect must not re-finalize a.
	e.Collect()
	require.Equal(t, 1, typ.finalizedTimes(a))
}

// TestPointerQuery covers P6: Find answers the exact base address of a live
// header and rejects misaligned or unregistered addresses.
func TestPointerQuery(t *testing.T) {
	e := newTestEngine(t)
	m := e.NewMutator()
	typ := newGraphType(false)

	root := NewSlot(m)
	obj := typ.newNode(m)
	root.Assign(obj)

	addr := uintptr(unsafe.Pointer(obj))
	found := e.Find(addr)
	require.Same(t, obj, found)

	require.Nil(t, e.Find(addr+1), "misaligned address must not resolve to a header")
	require.Nil(t, e.Find(0), "null address must never resolve")

	root.Destruct()
	m.Detach()
}

// TestSmallObjectSweep is S1: a 10k small-object sweep through a single
// reused root must leave nothing live.
func TestSmallObjectSweep(t *testing.T) {
	e := newTestEngine(t)
	m := e.NewMutator()
	typ := newGraphType(false)

	root := NewSlot(m)
	for i := 0; i < 10_000; i++ {
		root.Assign(typ.newNode(m))
	}
	root.Destruct()
	m.Detach()
	e.Collect()

	require.Equal(t, int64(0), e.Live())
}

// TestLargeCyclicRing is S2: a 1024-object ring sized into size class 3
// (extra-bytes budget in (512,1024]) is fully reclaimed once its one
// external root is dropped.
func TestLargeCyclicRing(t *testing.T) {
	e := newTestEngine(t)
	m := e.NewMutator()
	typ := newGraphType(false)

	const ringSize = 1024
	nodes := make([]*Object, ringSize)
	for i := range nodes {
		nodes[i] = m.New(typ, 600, nil) // classify(600) == 3
	}
	for i := range nodes {
		typ.link(m, nodes[i], nodes[(i+1)%ringSize])
	}

	root := NewSlot(m)
	root.Assign(nodes[0])
	require.Equal(t, int64(ringSize), e.Live())

	root.Destruct()
	m.Detach()
	e.Collect()

	require.Equal(t, int64(0), e.Live())
}

// TestDependentHandleLifecycle is S5: a DependentHandle's secondary is kept
// alive only transitively through its primary, and both are reclaimed
// together once the primary becomes unreachable.
func TestDependentHandleLifecycle(t *testing.T) {
	e := newTestEngine(t)
	m := e.NewMutator()
	typ := newGraphType(false)

	root := NewSlot(m)
	primary := typ.newNode(m)
	secondary := typ.newNode(m)
	root.Assign(primary)

	NewDependentHandle(m, primary, secondary)
	require.Equal(t, int64(2), e.Live())

	root.Destruct()
	m.Detach()
	e.Collect()

	require.Equal(t, int64(0), e.Live())
}

// TestConcurrentMutators is S6: several mutator goroutines allocate, link,
// and tear down independent subgraphs concurrently; after all detach and a
// final Collect, nothing remains live.
func TestConcurrentMutators(t *testing.T) {
	e := newTestEngine(t)
	typ := newGraphType(false)

	const goroutines = 8
	const perGoroutine = 200

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for g := 0; g < goroutines; g++ {
		go func() {
			defer wg.Done()
			m := e.NewMutator()
			root := NewSlot(m)
			for i := 0; i < perGoroutine; i++ {
				obj := typ.newNode(m)
				child := typ.newNode(m)
				typ.link(m, obj, child)
				root.Assign(obj)
			}
			root.Destruct()
			m.Detach()
		}()
	}
	wg.Wait()

	e.Collect()
	require.Equal(t, int64(0), e.Live())
}

// TestRingOverflowDuringEpochRequest forces a mutator to overflow its
// increment ring, well past the point the collector will have concurrently
// entered requestEpoch for this same mutator. Neither side may ever freeze
// the other (§5's "no global mutator stop-the-world"): a mutator stuck
// mid-Assign, waiting on ring space, must still be able to service an
// epoch request so the collector can drain it and free that space.
func TestRingOverflowDuringEpochRequest(t *testing.T) {
	e := newTestEngine(t)
	typ := newGraphType(false)

	done := make(chan struct{})
	go func() {
		defer close(done)
		m := e.NewMutator()
		root := NewSlot(m)
		for i := 0; i < incrementCapacity*3; i++ {
			root.Assign(typ.newNode(m))
		}
		root.Destruct()
		m.Detach()
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("engine deadlocked servicing an epoch request during ring overflow")
	}

	e.Collect()
	require.Equal(t, int64(0), e.Live())
}

// TestFinalizeRepeatable covers that Finalize can be called more than once
// over an engine's life, per §6: it must keep waiting on each successive
// drain rather than behaving as a one-shot shutdown (unlike the finalizer
// batcher's own Shutdown, reserved for Engine.Shutdown alone).
func TestFinalizeRepeatable(t *testing.T) {
	e := newTestEngine(t)
	typA := newGraphType(false)
	typB := newGraphType(true)

	// Each cycle gets its own mutator, detached before Collect: an attached
	// mutator must poll to answer the collector's epoch request, and this
	// goroutine is blocked in Collect.
	newCycle := func(m *Mutator) (*Slot, *Object) {
		root := NewSlot(m)
		a := typA.newNode(m)
		b := typB.newNode(m)
		typA.link(m, a, b)
		typB.link(m, b, a)
		root.Assign(a)
		return root, b
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	m1 := e.NewMutator()
	root1, b1 := newCycle(m1)
	root1.Destruct()
	m1.Detach()
	e.Collect()
	require.NoError(t, e.Finalize(ctx))
	require.Equal(t, 1, typB.finalizedTimes(b1))
	e.Collect()

	m2 := e.NewMutator()
	root2, b2 := newCycle(m2)
	root2.Destruct()
	m2.Detach()
	e.Collect()
	require.NoError(t, e.Finalize(ctx))
	require.Equal(t, 1, typB.finalizedTimes(b2))
	e.Collect()

	require.Equal(t, int64(0), e.Live())
}
