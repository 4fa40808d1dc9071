package rcgc

// cycleDetector holds the collector-thread-local state for Bacon-Rajan
// cycle detection (§4.6): the purple-root list, the pending cycles list, and
// scratch state accumulated during one detection pass. Per §5's "Shared
// resources": "Purple-root list, cycles list, scan stack: thread-local to
// the collector" — all fields here are touched only from the collector
// goroutine.
type cycleDetector struct {
	purpleHead *Object // ring via next/previous while color == Purple
	purpleLen  int

	// cyclesPending holds one entry per pending cycle: its head node,
	// whose members chain via Object.nextCycle. A Go slice is used for
	// this outer list (rather than further overloading nextCycle) since
	// nextCycle is already the original's chosen field for intra-cycle
	// membership and reusing it for inter-cycle linkage as well would
	// collide the two chains at each cycle's head node.
	cyclesPending []*Object

	grayList []*Object // scratch, reused across passes
}

// addPurpleRoot appends o to the purple-root ring and colors it Purple,
// unless it is already there (§4.5's "coloring on decrement-push": "if
// count > 0 the object is colored PURPLE and appended to the purple-root
// list (unless already there)").
func (cd *cycleDetector) addPurpleRoot(o *Object) {
	if o.Color() == Purple {
		return
	}
	o.setColor(Purple)
	if cd.purpleHead == nil {
		o.next, o.previous = o, o
		cd.purpleHead = o
	} else {
		tail := cd.purpleHead.previous
		o.previous, o.next = tail, cd.purpleHead
		tail.next, cd.purpleHead.previous = o, o
	}
	cd.purpleLen++
}

// removePurpleRoot unlinks o from the purple-root ring.
func (cd *cycleDetector) removePurpleRoot(o *Object) {
	if o.next == nil { // not linked (already removed, or never linked)
		return
	}
	if o.next == o {
		cd.purpleHead = nil
	} else {
		o.previous.next = o.next
		o.next.previous = o.previous
		if cd.purpleHead == o {
			cd.purpleHead = o.next
		}
	}
	o.next, o.previous = nil, nil
	cd.purpleLen--
}

// detect runs one Bacon-Rajan pass over the purple-root list: mark-gray,
// scan-gray, collect-white, re-count (§4.6's four phases), triggered by the
// collector loop on every epoch while the threshold is zero, and otherwise
// when live-object growth exceeds the configured threshold.
func (e *Engine) detect() {
	cd := &e.cycles
	cd.grayList = cd.grayList[:0]

	// Snapshot the current purple roots: mark-gray/scan-gray may recolor
	// (and thus unlink) members of this same ring as it runs.
	var roots []*Object
	if cd.purpleHead != nil {
		n := cd.purpleHead
		for {
			roots = append(roots, n)
			n = n.next
			if n == cd.purpleHead {
				break
			}
		}
	}

	// Phase 1: mark-gray.
	for _, root := range roots {
		if root.Color() != Purple || root.Count() <= 0 {
			continue
		}
		cd.removePurpleRoot(root)
		e.markGray(root, &cd.grayList)
	}

	// Phase 2: scan-gray.
	for _, n := range cd.grayList {
		e.scanGray(n)
	}

	// Phase 3: collect-white.
	var newCycles []*Object
	for _, n := range cd.grayList {
		if n.Color() != White {
			continue
		}
		var head *Object
		e.collectWhite(n, &head)
		if head != nil {
			newCycles = append(newCycles, head)
		}
	}

	// Phase 4: re-count check, once per newly-identified cycle.
	for _, head := range newCycles {
		e.recount(head)
	}
	cd.cyclesPending = append(cd.cyclesPending, newCycles...)
}

// markGray is the DFS from §4.6 phase 1: "for each visited object, set
// cyclic := count, and decrement cyclic for every internal edge observed."
// Standard Bacon-Rajan MarkGray: a child is fully marked before its cyclic
// count is discounted for the edge just traversed.
func (e *Engine) markGray(o *Object, gray *[]*Object) {
	if o.Color() == Gray {
		return
	}
	e.cycles.removePurpleRoot(o) // a node turning gray leaves the purple-root ring
	o.setColor(Gray)
	o.cyclic = o.count
	*gray = append(*gray, o)

	typ := o.Type()
	if typ == nil || !typ.Managed() {
		return
	}
	typ.Scan(o, VisitorFunc(func(slot *Slot) {
		child := slot.Load()
		if child == nil {
			return
		}
		e.markGray(child, gray)
		child.cyclic--
	}))
}

// scanGray is phase 2: "if cyclic > 0 there is an external reference, colour
// its whole gray subgraph BLACK (resurrection); otherwise colour it WHITING
// then WHITE."
func (e *Engine) scanGray(o *Object) {
	if o.Color() != Gray {
		return
	}
	if o.cyclic > 0 {
		e.scanBlack(o)
		return
	}
	o.setColor(Whiting)
	o.setColor(White)
	typ := o.Type()
	if typ == nil || !typ.Managed() {
		return
	}
	typ.Scan(o, VisitorFunc(func(slot *Slot) {
		child := slot.Load()
		if child == nil {
			return
		}
		e.scanGray(child)
	}))
}

// scanBlack resurrects a gray subgraph found to have an external reference,
// restoring each node's cyclic count as it goes.
func (e *Engine) scanBlack(o *Object) {
	if o.Color() == Black {
		return
	}
	o.setColor(Black)
	typ := o.Type()
	if typ == nil || !typ.Managed() {
		return
	}
	typ.Scan(o, VisitorFunc(func(slot *Slot) {
		child := slot.Load()
		if child == nil {
			return
		}
		child.cyclic++
		if child.Color() != Black {
			e.scanBlack(child)
		}
	}))
}

// collectWhite is phase 3: "for each WHITE object, link it into a new cycle
// via next pointers (colour ORANGE)". head accumulates the chain for this
// one connected component via nextCycle.
func (e *Engine) collectWhite(o *Object, head **Object) {
	if o.Color() != White {
		return
	}
	o.setColor(Orange)
	o.nextCycle = *head
	*head = o

	typ := o.Type()
	if typ == nil || !typ.Managed() {
		return
	}
	typ.Scan(o, VisitorFunc(func(slot *Slot) {
		child := slot.Load()
		if child == nil {
			return
		}
		e.collectWhite(child, head)
	}))
}

// recount is phase 4: "for each ORANGE cycle, set each node RED with
// cyclic := count, visit each outgoing edge with scan_red (which decrements
// cyclic of RED neighbours), then recolor to ORANGE."
func (e *Engine) recount(head *Object) {
	for n := head; n != nil; n = n.nextCycle {
		if n.Color() == Orange {
			n.setColor(Red)
			n.cyclic = n.count
		}
	}
	for n := head; n != nil; n = n.nextCycle {
		if n.Color() != Red {
			continue
		}
		typ := n.Type()
		if typ == nil || !typ.Managed() {
			continue
		}
		typ.Scan(n, VisitorFunc(func(slot *Slot) {
			child := slot.Load()
			if child != nil && child.Color() == Red {
				child.cyclic--
			}
		}))
	}
	for n := head; n != nil; n = n.nextCycle {
		if n.Color() == Red {
			n.setColor(Orange)
		}
	}
}

// revalidate implements §4.6's condemnation check, ported from object.cc's
// `mutated` closure: "if any node's colour changed from ORANGE, or any
// node's cyclic > 0, or the reviving flag is set and any node has a live
// weak-handle cycle marker, abort."
func (e *Engine) revalidate(head *Object) bool {
	reviving := e.isReviving()
	for n := head; n != nil; n = n.nextCycle {
		if n.Color() != Orange {
			return false
		}
		if n.cyclic > 0 {
			return false
		}
		if reviving {
			if ext := n.extensionOrNil(); ext != nil && ext.hasCycleMarker() {
				return false
			}
		}
	}
	return true
}

// reroot reinserts the survivors of an aborted cycle validation: count > 0
// nodes go back on the purple-root list (candidates again), others are
// discharged to Black, per §4.6's "abort and reinsert survivors (PURPLE
// re-rooted, others BLACK)."
func (e *Engine) reroot(head *Object) {
	for n := head; n != nil; {
		next := n.nextCycle
		n.nextCycle = nil
		if n.count > 0 {
			n.setColor(Black) // normalized before addPurpleRoot recolors it
			e.cycles.addPurpleRoot(n)
		} else {
			n.setColor(Black)
		}
		n = next
	}
}

// memberSet collects every node in a cycle chain into a lookup set, used by
// cyclicDecrement to distinguish internal (already-condemned) edges from
// external ones that still require a real decrement.
func memberSet(head *Object) map[*Object]bool {
	m := make(map[*Object]bool)
	for n := head; n != nil; n = n.nextCycle {
		m[n] = true
	}
	return m
}

// cyclicDecrement frees a fully-condemned, non-finalizable cycle: per
// §4.6's "decrement transitively across the cycle and free each node." Edges
// leaving the cycle to still-live objects are real decrements (possibly
// cascading further releases); internal edges are not re-decremented, since
// both endpoints are being freed together.
func (e *Engine) cyclicDecrement(head *Object) {
	members := memberSet(head)
	for n := head; n != nil; n = n.nextCycle {
		typ := n.Type()
		if typ != nil && typ.Managed() {
			typ.Scan(n, VisitorFunc(func(slot *Slot) {
				child := slot.Load()
				if child == nil || members[child] {
					return
				}
				e.applyDecrement(child)
			}))
		}
	}
	for n := head; n != nil; {
		next := n.nextCycle
		n.nextCycle = nil
		e.freeObject(n)
		n = next
	}
}

// finalizeCycle hands a condemned cycle containing at least one pending
// finalizee to the finalizer, per §4.6: "if any node is finalizable, hand the
// cycle to the finalizer (incrementing counts to pin the objects)." Members
// already finalized (pendingFinalization false) are not re-pinned here even
// though their mutual edges can keep count above zero after the finalizer's
// first release — condemn's anyFinalizable check (computed the same way)
// will find the cycle no longer finalizable on its next pass and route it to
// cyclicDecrement instead, so Finalize never runs twice (P5).
// Finalizable members are pinned and submitted; the remainder are
// discharged back to ordinary live-or-dead bookkeeping, since their fate now
// depends on what the finalizer's Finalize call does with its references.
func (e *Engine) finalizeCycle(head *Object) {
	for n := head; n != nil; {
		next := n.nextCycle
		n.nextCycle = nil
		if n.pendingFinalization() {
			n.count++ // pin: discharged by the finalizer after Finalize runs
			e.submitFinalizer(n)
		} else if n.count > 0 {
			n.setColor(Black)
			e.cycles.addPurpleRoot(n)
		} else {
			n.setColor(Black)
		}
		n = next
	}
}

// condemn walks the pending cycles list, revalidating each and either
// freeing, finalizing, or re-rooting it, per §4.6's condemnation step (run
// once per epoch, on the cycles identified by the *previous* epoch's
// detect(), per the original's "on the next epoch, f_collect walks the
// pending cycles").
func (e *Engine) condemn() {
	cd := &e.cycles
	pending := cd.cyclesPending
	cd.cyclesPending = nil

	for _, cycle := range pending {
		anyFinalizable := false
		for n := cycle; n != nil; n = n.nextCycle {
			if n.pendingFinalization() {
				anyFinalizable = true
				break
			}
		}

		if !e.revalidate(cycle) {
			e.reroot(cycle)
			continue
		}

		if anyFinalizable {
			e.finalizeCycle(cycle)
		} else {
			e.cyclicDecrement(cycle)
		}
	}
}
