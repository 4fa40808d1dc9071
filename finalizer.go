package rcgc

import (
	"context"
	"sync"

	"github.com/joeycumines/go-microbatch"
)

// finalizer wraps a microbatch.Batcher[*Object] as the finalization queue
// and finalizer goroutine from §4.7: "Finalizer thread. Awakened via a
// conductor; drains a FIFO of pinned finalizees, calls
// type->suppress_finalize(obj) then a user-supplied finalize(obj), and
// releases one decrement per object when done." DESIGN.md grounds this on
// the teacher's microbatch package: Submit per condemned finalizee, with the
// BatchProcessor performing suppress+finalize+release over the batch,
// reusing the teacher's batching/concurrency-limiting machinery instead of a
// second hand-rolled queue+worker-pool.
//
// pending tracks the JobResult of every submission not yet waited on, so
// Finalize can wait for a drain (§6) without ever calling the batcher's
// one-shot Shutdown — that is reserved for Engine.Shutdown alone, since a
// Batcher stops accepting Submit calls for good once shut down.
type finalizer struct {
	engine  *Engine
	batcher *microbatch.Batcher[*Object]

	mu      sync.Mutex
	pending []*microbatch.JobResult[*Object]
}

func newFinalizer(e *Engine) *finalizer {
	f := &finalizer{engine: e}
	f.batcher = microbatch.NewBatcher(&microbatch.BatcherConfig{
		MaxSize:        16,
		FlushInterval:  e.opts.finalizerFlush,
		MaxConcurrency: e.opts.finalizerConcurrency,
	}, f.process)
	return f
}

// process is the BatchProcessor: for each finalizee, suppress re-entry, run
// the user finalize callback exactly once (P5), then release the pinning
// increment applied by finalizeCycle.
func (f *finalizer) process(ctx context.Context, jobs []*Object) error {
	for _, obj := range jobs {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		f.finalizeOne(obj)
	}
	return nil
}

func (f *finalizer) finalizeOne(obj *Object) {
	typ := obj.Type()
	if typ == nil {
		return
	}
	typ.SuppressFinalize(obj)
	typ.Finalize(obj)
	obj.finalized.Store(true) // P5: never hand this object to the finalizer again

	// Release the pinning increment from finalizeCycle: this is a regular
	// decrement push, routed through the collector's own apply path so a
	// surviving reference written during Finalize (the revalidate/
	// revival supplemented behavior, SPEC_FULL.md) is observed on its own
	// epoch rather than racing the finalizer goroutine directly against
	// collector-owned state.
	f.engine.submitFinalizerRelease(obj)
}

// submit schedules obj for finalization. Called only from the collector
// goroutine (finalizeCycle), never concurrently with itself.
func (f *finalizer) submit(obj *Object) {
	// Submit blocks until the batcher accepts the job; the finalizer
	// queue is mutex-guarded and shared with collector enqueue per §5, so
	// a background context is correct here (no caller-supplied deadline
	// applies to an internal handoff).
	result, err := f.batcher.Submit(context.Background(), obj)
	if err != nil {
		// Only possible once Engine.Shutdown has closed the batcher for
		// good; there is no drain left to wait on.
		return
	}
	f.mu.Lock()
	f.pending = append(f.pending, result)
	f.mu.Unlock()
}

// drain waits for every finalization submitted before this call returns,
// per §6: "finalize() wakes the finalizer and waits for its drain." Jobs
// submitted concurrently with drain (a condemn pass racing this call) are
// left pending for the next drain rather than waited on here.
func (f *finalizer) drain(ctx context.Context) error {
	f.mu.Lock()
	results := f.pending
	f.pending = nil
	f.mu.Unlock()

	for i, result := range results {
		if err := result.Wait(ctx); err != nil {
			f.mu.Lock()
			f.pending = append(append([]*microbatch.JobResult[*Object]{}, results[i+1:]...), f.pending...)
			f.mu.Unlock()
			return err
		}
	}
	return nil
}

// close shuts the finalizer down, draining any in-flight batch, per
// engine.cc's "the finalizer is asked to quit the same way" (§4.4's
// Cancellation). Unlike drain, this is terminal: called only from
// Engine.Shutdown.
func (f *finalizer) close(ctx context.Context) error {
	return f.batcher.Shutdown(ctx)
}
