// Package rcgc implements a concurrent reference-counting garbage collector
// with synchronous cycle detection, for a runtime that executes mutator
// goroutines in parallel with a dedicated collector goroutine.
//
// # Architecture
//
// The engine is built around four cooperating pieces:
//
//   - a segregated size-class [Heap] with per-goroutine free lists and a
//     block registry usable for conservative pointer queries ([Heap.Find]);
//   - deferred reference-count queues ([Mutator.increments]/[Mutator.decrements])
//     that batch increments and decrements across mutators, so mutators never
//     touch an [Object]'s count directly;
//   - a Bacon-Rajan synchronous cycle collector (the mark-gray/scan-gray/
//     collect-white/re-count passes in cycle.go) that runs on the collector
//     goroutine and resolves cyclic garbage without stopping mutators,
//     coordinating only through a lightweight cooperative epoch handshake
//     ([Mutator.pollEpoch]);
//   - a weak-handle subsystem ([NormalHandle], [WeakHandle], [DependentHandle])
//     that integrates with cycle detection through an object-revival
//     protocol.
//
// Type descriptors (the per-type field layout, [TypeDescriptor]) and the
// concrete object-graph semantics of the hosted language are external
// collaborators: the engine calls only their Managed, Size, Finalizee, Scan,
// RegisterFinalize, SuppressFinalize and Finalize methods.
//
// # Concurrency model
//
// One dedicated collector goroutine, one dedicated finalizer goroutine, and
// any number of mutator goroutines. Mutators write through [Slot] values;
// every such write is a cooperative poll point for the epoch handshake (see
// SPEC_FULL.md's resolution of the original's POSIX-signal-based snapshot).
//
// # Non-goals
//
// Compaction, generational partitioning, precise stack scanning beyond the
// cooperative poll mechanism, and hard real-time pause bounds are out of
// scope.
package rcgc
