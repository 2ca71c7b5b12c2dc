package callgraph

import (
	canistersim "github.com/wippyai/canister-sim"
)

// ID is an opaque reference to a call node.
// The low 32 bits index the node slot, the high 32 bits hold the slot
// generation so a recycled slot never aliases an old ID. ID 0 is invalid.
type ID uint64

func makeID(slot, gen uint32) ID {
	return ID(uint64(gen)<<32 | uint64(slot+1))
}

func (id ID) slot() (uint32, bool) {
	low := uint32(id)
	if low == 0 {
		return 0, false
	}
	return low - 1, true
}

func (id ID) gen() uint32 {
	return uint32(id >> 32)
}

// Kind says what started a call context.
type Kind uint8

const (
	KindIngress Kind = iota
	KindInterCanister
	KindSystem
	KindTask
)

func (k Kind) String() string {
	switch k {
	case KindIngress:
		return "ingress"
	case KindInterCanister:
		return "inter_canister"
	case KindSystem:
		return "system"
	case KindTask:
		return "task"
	default:
		return "unknown"
	}
}

// EventType identifies a node lifecycle transition.
type EventType uint8

const (
	EventOpened EventType = iota
	EventResolved
	EventSettled
	EventReleased
)

func (t EventType) String() string {
	switch t {
	case EventOpened:
		return "opened"
	case EventResolved:
		return "resolved"
	case EventSettled:
		return "settled"
	case EventReleased:
		return "released"
	default:
		return "unknown"
	}
}

// Event represents a call node lifecycle event.
type Event struct {
	Value   any
	Outcome canistersim.Outcome
	ID      ID
	Parent  ID
	Kind    Kind
	Type    EventType
}

// Observer receives notifications about call node lifecycle events.
// Observers are invoked synchronously and must not call back into the graph.
type Observer interface {
	OnCallEvent(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) OnCallEvent(e Event) { f(e) }

// Info is a point-in-time copy of a node.
type Info struct {
	Value    any
	Outcome  canistersim.Outcome
	ID       ID
	Parent   ID
	Pending  int
	Kind     Kind
	Resolved bool
	Settled  bool
}
