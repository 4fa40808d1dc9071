package rcgc

// Stats is a point-in-time snapshot of engine bookkeeping, the supplemented
// feature mirroring original_source/IL2CXX/src/engine.cc's destructor
// verbose-statistics dump ("prints per-rank grown/allocated/freed counts and
// total epochs run on shutdown when verbose is set").
type Stats struct {
	Live       int64
	Allocated  int64
	Freed      int64
	Epochs     int64
	PerRank    [numClasses + 1]RankStats
	PendingCycles int
}

// RankStats is the per-size-class breakdown within Stats, index numClasses
// being the individually-mapped "large" rank.
type RankStats struct {
	Grown     int64
	Allocated int64
	Freed     int64
}

// Statistics returns a snapshot of the engine's allocator and collector
// bookkeeping. Safe to call concurrently with mutator activity; the
// per-rank counters are individually mutex-guarded in heapStats, so the
// snapshot is not a single atomic point but is consistent enough for the
// diagnostic use this is intended for (§7's verbose statistics dump).
func (e *Engine) Statistics() Stats {
	var s Stats
	s.Live = e.live.Load()
	s.Epochs = e.epochCount.Load()

	e.heap.stats.mu.Lock()
	for r := 0; r <= numClasses; r++ {
		s.PerRank[r] = RankStats{
			Grown:     e.heap.stats.grown[r],
			Allocated: e.heap.stats.allocated[r],
			Freed:     e.heap.stats.freed[r],
		}
		s.Allocated += e.heap.stats.allocated[r]
		s.Freed += e.heap.stats.freed[r]
	}
	e.heap.stats.mu.Unlock()

	// cyclesPending is collector-goroutine-local state (§5); this read is a
	// best-effort diagnostic snapshot, not a synchronization point.
	s.PendingCycles = len(e.cycles.cyclesPending)

	return s
}
