package rcgc

import "sync"

// graphType is a minimal TypeDescriptor used throughout this package's
// tests to build object graphs with managed outgoing edges. Child slots are
// tracked in a side table keyed by object identity rather than inside the
// object's opaque extra-bytes region, since extra bytes are backed by an
// mmap'd arena the real Go GC cannot trace (see DESIGN.md's header-memory-
// model note) and are therefore unsafe storage for live Slot values.
type graphType struct {
	mu            sync.Mutex
	children      map[*Object][]*Slot
	finalizee     bool
	finalizeCount map[*Object]int
	suppressed    map[*Object]bool
	finalizeCh    chan *Object
	// onFinalize, if set, runs synchronously inside Finalize before the
	// count is recorded, letting a test write a surviving reference during
	// finalization (cycle_test.go's finalizer-resurrection coverage).
	onFinalize func(obj *Object)
}

func newGraphType(finalizee bool) *graphType {
	return &graphType{
		children:      make(map[*Object][]*Slot),
		finalizee:     finalizee,
		finalizeCount: make(map[*Object]int),
		suppressed:    make(map[*Object]bool),
		finalizeCh:    make(chan *Object, 4096),
	}
}

func (g *graphType) Managed() bool { return true }
func (g *graphType) Size() int     { return 0 }
func (g *graphType) Finalizee() bool { return g.finalizee }

func (g *graphType) Scan(obj *Object, visitor Visitor) {
	g.mu.Lock()
	kids := append([]*Slot(nil), g.children[obj]...)
	g.mu.Unlock()
	for _, s := range kids {
		visitor.Visit(s)
	}
}

func (g *graphType) Clone(obj *Object) int        { return 0 }
func (g *graphType) RegisterFinalize(obj *Object) {}

func (g *graphType) SuppressFinalize(obj *Object) {
	g.mu.Lock()
	g.suppressed[obj] = true
	g.mu.Unlock()
}

func (g *graphType) Copy(src, dst *Object, n int) {}

func (g *graphType) Finalize(obj *Object) {
	if g.onFinalize != nil {
		g.onFinalize(obj)
	}
	g.mu.Lock()
	g.finalizeCount[obj]++
	g.mu.Unlock()
	select {
	case g.finalizeCh <- obj:
	default:
	}
}

// newNode allocates a fresh node of this type.
func (g *graphType) newNode(m *Mutator) *Object {
	return m.New(g, 0, nil)
}

// link wires a new managed slot from parent to child, registering it with
// this type's Scan table.
func (g *graphType) link(m *Mutator, parent, child *Object) *Slot {
	s := NewSlot(m)
	g.mu.Lock()
	g.children[parent] = append(g.children[parent], s)
	g.mu.Unlock()
	s.Assign(child)
	return s
}

func (g *graphType) finalizedTimes(obj *Object) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.finalizeCount[obj]
}

func (g *graphType) wasSuppressed(obj *Object) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.suppressed[obj]
}
