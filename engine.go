package rcgc

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joeycumines/go-catrate"
	"github.com/joeycumines/logiface"
	islog "github.com/joeycumines/logiface-slog"
)

// builder is the logiface field-builder type used by the logXxx helpers'
// field callbacks, aliased for brevity at call sites throughout this file.
type builder = logiface.Builder[*islog.Event]

// Engine is the top-level wiring for the collector core: allocator, RC
// queues, thread registry/epoch handshake, collector loop, cycle detector,
// and finalizer, per §2's component list. Grounded on
// original_source/IL2CXX/src/engine.cc's t_engine constructor/destructor and
// public control methods.
type Engine struct {
	opts *engineOptions

	heap *Heap

	mutatorsMu sync.Mutex
	mutators   []*Mutator

	conductor     *conductor
	collectorDone chan struct{}

	cycles cycleDetector

	// collectorHeap is the collector goroutine's own thread-local
	// free-list context (§9's "thread-local head pointers...modeled as an
	// indexed array"), used when the collector itself frees objects.
	collectorHeap heapLocal

	reviving atomic.Bool

	live     liveCounter
	lowWater int64

	// epochCount is written by the collector goroutine (runEpoch) and read
	// from caller goroutines (waitEpoch, Statistics); collectorThreshold is
	// read by runEpoch on the collector goroutine and written by Collect's
	// temporary override on the caller's goroutine. Both are therefore
	// atomics rather than plain fields —
	// matching the rest of the cross-goroutine state here (reviving,
	// live, Mutator's epochRequested/detached).
	epochCount         atomic.Int64
	collectorThreshold atomic.Int64

	finalizerSvc    *finalizer
	finalizerReturn *Mutator // internal pseudo-mutator for finalizer release decrements

	warnLimiter *catrate.Limiter

	shutdownOnce sync.Once
}

// New constructs an Engine. Per §6: "Engine options: { verbose,
// collector_threshold }", expanded with the ambient-stack options in
// options.go.
func New(opts ...EngineOption) (*Engine, error) {
	cfg, err := resolveEngineOptions(opts)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		opts:          cfg,
		heap:          newHeap(),
		conductor:     newConductor(),
		collectorDone: make(chan struct{}),
		warnLimiter:   catrate.NewLimiter(cfg.warnRates),
	}
	e.collectorThreshold.Store(int64(cfg.collectorThreshold))
	e.finalizerSvc = newFinalizer(e)
	e.finalizerReturn = newMutator(e)
	e.finalizerReturn.internal = true
	e.addMutator(e.finalizerReturn)

	go e.runCollector()

	e.logInfo("engine started", func(b *builder) *builder {
		return b.Int("collector_threshold", e.opts.collectorThreshold)
	})

	return e, nil
}

// NewMutator registers a new mutator with the engine, per §4.4. The caller
// must call Mutator.Detach when the owning goroutine is done touching the
// object graph.
func (e *Engine) NewMutator() *Mutator {
	m := newMutator(e)
	e.addMutator(m)
	return m
}

// submitFinalizer hands a pinned, condemned finalizee to the finalizer
// subsystem. Called only from the collector goroutine (cycle.go's
// finalizeCycle).
func (e *Engine) submitFinalizer(obj *Object) {
	e.finalizerSvc.submit(obj)
}

// submitFinalizerRelease routes the finalizer's post-Finalize release
// decrement through the internal finalizerReturn pseudo-mutator, so it is
// applied by the collector on its own epoch rather than racing the
// finalizer goroutine directly against collector-owned state (§5's
// exclusive-collector-mutation rule, I5).
func (e *Engine) submitFinalizerRelease(obj *Object) {
	e.releaseViaCollector(obj)
}

// releaseViaCollector pushes a decrement for obj through the internal
// finalizerReturn pseudo-mutator and wakes the collector. Used whenever code
// running off a mutator's own goroutine needs to drop a reference it is
// holding on obj's behalf, without touching any real mutator's queues from
// the wrong goroutine (§5's exclusive-collector-mutation rule, I5) — the
// finalizer's post-Finalize release and DependentHandle's automatic
// secondary teardown (handle.go) both go through here.
func (e *Engine) releaseViaCollector(obj *Object) {
	e.finalizerReturn.pushDecrement(obj)
	e.tick()
}

// Collect forces a synchronous cycle-detection pass, per §6: "collect()
// forces a synchronous cycle-detection cycle by temporarily setting
// threshold to zero and waiting four epochs." This rewrite loops until
// quiescent rather than trusting a fixed epoch count (SPEC_FULL.md's
// resolution of Open Question (a)), keeping minDrains as a floor.
func (e *Engine) Collect() {
	const minDrains = 4
	saved := e.collectorThreshold.Swap(0)
	defer e.collectorThreshold.Store(saved)

	for i := 0; i < minDrains || !e.quiescent(); i++ {
		e.tick()
		e.waitEpoch()
		if i > minDrains*16 {
			// Safety valve: avoid spinning forever against a pathological
			// graph that never quiesces; surfaced at Warning since this
			// is a transient-not-fatal condition per §7.
			e.logWarning("collect-not-quiescent", "Collect did not reach quiescence", nil)
			break
		}
	}
}

// waitEpoch blocks until the collector has started at least one more epoch
// (runEpoch advances epochCount at its start), so every epoch started before
// the call has completed; the newly started one may still be running.
func (e *Engine) waitEpoch() {
	before := e.epochCount.Load()
	for e.epochCount.Load() == before {
		time.Sleep(time.Microsecond * 50)
	}
}

// Finalize wakes the finalizer and waits for its drain, per §6: "finalize()
// wakes the finalizer and waits for its drain." Repeatable, like Collect:
// it waits only on jobs submitted before this call, never shuts the
// finalizer down, so later condemnation passes can still submit to it.
func (e *Engine) Finalize(ctx context.Context) error {
	return e.finalizerSvc.drain(ctx)
}

// Shutdown quiesces all mutators, then the collector, then the finalizer,
// per §6/§4.4's Cancellation: "setting quitting...the collector completes up
// to four final drains...then the finalizer is asked to quit the same way."
func (e *Engine) Shutdown(ctx context.Context) error {
	var err error
	e.shutdownOnce.Do(func() {
		e.Collect()

		e.conductor.setQuitting()
		e.tick()
		select {
		case <-e.collectorDone:
		case <-ctx.Done():
			err = ctx.Err()
			return
		}

		if ferr := e.finalizerSvc.close(ctx); ferr != nil && err == nil {
			err = ferr
		}

		if e.opts.debugChecks {
			stats := e.Statistics()
			if stats.Live != stats.Allocated-stats.Freed {
				fatal(FatalLiveCountMismatch, "live=%d allocated=%d freed=%d", stats.Live, stats.Allocated, stats.Freed)
			}
		}

		if e.opts.verbose {
			e.logInfo("engine shutdown", func(b *builder) *builder {
				s := e.Statistics()
				return b.Int("live", int(s.Live)).Int("allocated", int(s.Allocated)).Int("freed", int(s.Freed))
			})
		}
	})
	return err
}

// Live returns the current live-object count (P1/S1-S6's live()).
func (e *Engine) Live() int64 {
	return e.live.Load()
}

// Find answers §3/P6's conservative pointer query.
func (e *Engine) Find(addr uintptr) *Object {
	return e.heap.Find(addr)
}
