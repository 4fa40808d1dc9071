package rcgc

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestFinalizerCycleSettlesAfterRelease is spec S4: a two-node cycle with
// exactly one finalizable member. The first force-collect only pins and
// finalizes the finalizable member; its mutual edge with the other member
// keeps both alive across that first release. Only the second force-collect,
// once the finalizer's pin-release reclassifies the cycle as no longer
// finalizable (pendingFinalization, cycle.go), frees both nodes together, and
// the finalizer must never observe its member a second time (P5).
func TestFinalizerCycleSettlesAfterRelease(t *testing.T) {
	e := newTestEngine(t)
	m := e.NewMutator()
	typA := newGraphType(false)
	typB := newGraphType(true)

	root := NewSlot(m)
	a := typA.newNode(m)
	b := typB.newNode(m)
	typA.link(m, a, b)
	typB.link(m, b, a)
	root.Assign(a)

	require.Equal(t, int64(2), e.Live())

	root.Destruct()
	m.Detach()
	e.Collect()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, e.Finalize(ctx))

	require.Equal(t, 1, typB.finalizedTimes(b))
	require.Equal(t, int64(2), e.Live(), "mutual edge must keep both alive across the first release")

	e.Collect()

	require.Equal(t, int64(0), e.Live())
	require.Equal(t, 1, typB.finalizedTimes(b), "finalizer must not see b a second time")
}

// TestFinalizerRevival covers Open Question (b): a finalizer that writes a
// surviving external reference during Finalize must not be double-freed on a
// later collection pass. The survivor root is held by an internal
// pseudo-mutator (mirroring engine.go's finalizerReturn) since the write
// happens from the finalizer goroutine, not from any mutator's own
// goroutine.
func TestFinalizerRevival(t *testing.T) {
	e := newTestEngine(t)
	m := e.NewMutator()
	typ := newGraphType(true)

	// Built via newMutator+addMutator directly (mirroring engine.go's New)
	// rather than NewMutator+mutate, so internal is set before the mutator
	// is ever published to the collector's registry — setting it afterward
	// would race the collector's own read of m.internal in runEpoch.
	revive := newMutator(e)
	revive.internal = true
	e.addMutator(revive)
	survivor := NewSlot(revive)

	root := NewSlot(m)
	a := typ.newNode(m)
	b := typ.newNode(m)
	typ.link(m, a, b)
	typ.link(m, b, a)
	root.Assign(a)

	typ.onFinalize = func(obj *Object) {
		if obj == a {
			survivor.Assign(a)
		}
	}

	root.Destruct()
	m.Detach()
	e.Collect()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, e.Finalize(ctx))
	require.Equal(t, 1, typ.finalizedTimes(a))

	e.Collect()

	require.Equal(t, int64(2), e.Live(), "a and b must survive: Finalize resurrected a into survivor, keeping b reachable through it")
	require.NotNil(t, survivor.Load())

	survivor.Destruct()
	e.Collect()

	require.Equal(t, int64(0), e.Live())
	require.Equal(t, 1, typ.finalizedTimes(a), "resurrection must not trigger re-finalization")
}
