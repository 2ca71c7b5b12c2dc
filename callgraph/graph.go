package callgraph

import (
	"errors"
	"sync"

	canistersim "github.com/wippyai/canister-sim"
)

var (
	ErrClosed          = errors.New("call graph closed")
	ErrUnknownCall     = errors.New("unknown call")
	ErrAlreadyResolved = errors.New("call already resolved")
	ErrNotResolved     = errors.New("call not resolved")
	ErrAlreadySettled  = errors.New("call already settled")
)

// Graph tracks in-flight call contexts and their parent links.
//
// A node is opened for every ingress message, inter-canister call and system
// entry. Opening a child increments its parent's pending count. A node is
// resolved exactly once with its outcome, then settled once its consumer has
// taken the outcome, which decrements the parent's pending count. Nodes that
// are resolved, settled and have no pending children are released and their
// slots recycled.
type Graph struct {
	entries   []entry
	freeList  []uint32
	observers []Observer
	mu        sync.Mutex
	obsMu     sync.RWMutex
	closed    bool
}

type entry struct {
	value    any
	outcome  canistersim.Outcome
	parent   ID
	gen      uint32
	pending  uint32
	kind     Kind
	resolved bool
	settled  bool
	valid    bool
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{
		entries:  make([]entry, 0, 64),
		freeList: make([]uint32, 0, 16),
	}
}

// Open adds a node. A non-zero parent must be a live node; its pending
// count is incremented.
func (g *Graph) Open(kind Kind, parent ID, value any) (ID, error) {
	g.mu.Lock()

	if g.closed {
		g.mu.Unlock()
		return 0, ErrClosed
	}

	if parent != 0 {
		p := g.lookup(parent)
		if p == nil {
			g.mu.Unlock()
			return 0, ErrUnknownCall
		}
		p.pending++
	}

	var slot uint32
	if len(g.freeList) > 0 {
		slot = g.freeList[len(g.freeList)-1]
		g.freeList = g.freeList[:len(g.freeList)-1]
	} else {
		g.entries = append(g.entries, entry{})
		slot = uint32(len(g.entries) - 1)
	}

	e := &g.entries[slot]
	gen := e.gen + 1
	*e = entry{
		value:  value,
		parent: parent,
		gen:    gen,
		kind:   kind,
		valid:  true,
	}
	id := makeID(slot, gen)
	g.mu.Unlock()

	g.notify(Event{Type: EventOpened, ID: id, Parent: parent, Kind: kind, Value: value})
	return id, nil
}

// Get retrieves the value attached to a node.
func (g *Graph) Get(id ID) (any, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	e := g.lookup(id)
	if e == nil {
		return nil, false
	}
	return e.value, true
}

// Info returns a copy of a node's state.
func (g *Graph) Info(id ID) (Info, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	e := g.lookup(id)
	if e == nil {
		return Info{}, false
	}
	return e.info(id), true
}

// Parent returns the parent of a node, 0 for roots.
func (g *Graph) Parent(id ID) (ID, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	e := g.lookup(id)
	if e == nil {
		return 0, false
	}
	return e.parent, true
}

// Pending returns the number of unsettled children of a node.
func (g *Graph) Pending(id ID) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	e := g.lookup(id)
	if e == nil {
		return 0
	}
	return int(e.pending)
}

// Resolve records the outcome of a node. A node resolves exactly once.
func (g *Graph) Resolve(id ID, out canistersim.Outcome) error {
	g.mu.Lock()

	e := g.lookup(id)
	if e == nil {
		g.mu.Unlock()
		return ErrUnknownCall
	}
	if e.resolved {
		g.mu.Unlock()
		return ErrAlreadyResolved
	}
	e.resolved = true
	e.outcome = out
	ev := Event{Type: EventResolved, ID: id, Parent: e.parent, Kind: e.kind, Value: e.value, Outcome: out}
	g.mu.Unlock()

	g.notify(ev)
	return nil
}

// Outcome returns the outcome of a resolved node.
func (g *Graph) Outcome(id ID) (canistersim.Outcome, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	e := g.lookup(id)
	if e == nil || !e.resolved {
		return canistersim.Outcome{}, false
	}
	return e.outcome, true
}

// Settle marks a resolved node's outcome as consumed and decrements its
// parent's pending count. Nodes that become idle are released.
func (g *Graph) Settle(id ID) error {
	g.mu.Lock()

	e := g.lookup(id)
	if e == nil {
		g.mu.Unlock()
		return ErrUnknownCall
	}
	if !e.resolved {
		g.mu.Unlock()
		return ErrNotResolved
	}
	if e.settled {
		g.mu.Unlock()
		return ErrAlreadySettled
	}
	e.settled = true

	events := []Event{{Type: EventSettled, ID: id, Parent: e.parent, Kind: e.kind, Value: e.value, Outcome: e.outcome}}
	parent := e.parent
	events = g.releaseIfIdle(id, events)

	if parent != 0 {
		if p := g.lookup(parent); p != nil {
			p.pending--
			events = g.releaseIfIdle(parent, events)
		}
	}
	g.mu.Unlock()

	for _, ev := range events {
		g.notify(ev)
	}
	return nil
}

// releaseIfIdle frees a node that is resolved, settled and has no pending children.
// Caller holds g.mu.
func (g *Graph) releaseIfIdle(id ID, events []Event) []Event {
	e := g.lookup(id)
	if e == nil || !e.resolved || !e.settled || e.pending > 0 {
		return events
	}
	ev := Event{Type: EventReleased, ID: id, Parent: e.parent, Kind: e.kind, Value: e.value, Outcome: e.outcome}
	slot, _ := id.slot()
	gen := e.gen
	*e = entry{gen: gen}
	g.freeList = append(g.freeList, slot)
	return append(events, ev)
}

// Len returns the number of live nodes.
func (g *Graph) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.entries) - len(g.freeList)
}

// Each calls fn for every live node until it returns false.
// fn runs on a snapshot, so it may call back into the graph.
func (g *Graph) Each(fn func(Info) bool) {
	g.mu.Lock()
	infos := make([]Info, 0, len(g.entries)-len(g.freeList))
	for i := range g.entries {
		e := &g.entries[i]
		if e.valid {
			infos = append(infos, e.info(makeID(uint32(i), e.gen)))
		}
	}
	g.mu.Unlock()

	for _, info := range infos {
		if !fn(info) {
			return
		}
	}
}

// Subscribe adds an observer for lifecycle events.
func (g *Graph) Subscribe(o Observer) {
	g.obsMu.Lock()
	defer g.obsMu.Unlock()
	g.observers = append(g.observers, o)
}

// Unsubscribe removes an observer. o must be comparable, so pass the
// same pointer that was subscribed rather than an ObserverFunc.
func (g *Graph) Unsubscribe(o Observer) {
	g.obsMu.Lock()
	defer g.obsMu.Unlock()
	for i, obs := range g.observers {
		if obs == o {
			g.observers = append(g.observers[:i], g.observers[i+1:]...)
			return
		}
	}
}

// Close drops all nodes and stops accepting new ones.
func (g *Graph) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return nil
	}
	g.closed = true
	g.entries = nil
	g.freeList = nil
	return nil
}

// lookup returns the live entry for id. Caller holds g.mu.
func (g *Graph) lookup(id ID) *entry {
	slot, ok := id.slot()
	if !ok || int(slot) >= len(g.entries) {
		return nil
	}
	e := &g.entries[slot]
	if !e.valid || e.gen != id.gen() {
		return nil
	}
	return e
}

func (e *entry) info(id ID) Info {
	return Info{
		ID:       id,
		Parent:   e.parent,
		Kind:     e.kind,
		Value:    e.value,
		Pending:  int(e.pending),
		Resolved: e.resolved,
		Settled:  e.settled,
		Outcome:  e.outcome,
	}
}

func (g *Graph) notify(e Event) {
	g.obsMu.RLock()
	defer g.obsMu.RUnlock()
	for _, o := range g.observers {
		o.OnCallEvent(e)
	}
}
