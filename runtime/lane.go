package runtime

import (
	"sync"

	canistersim "github.com/wippyai/canister-sim"
)

type laneState uint8

const (
	laneIdle laneState = iota
	laneQueued
	laneBusy
)

type msgKind uint8

const (
	msgRequest msgKind = iota
	msgResponse
	msgSystem
)

// message is one unit of lane work.
type message struct {
	call    *callContext
	pending *pendingCall
	system  func(a *actor)
	outcome canistersim.Outcome
	kind    msgKind
}

// lane is an actor's FIFO mailbox. A lane is in the scheduler's ready
// queue at most once and is run by at most one worker at a time, which is
// what keeps an actor single-threaded.
type lane struct {
	actor *actor
	sched *scheduler
	queue []message
	mu    sync.Mutex
	state laneState
}

func newLane(a *actor, s *scheduler) *lane {
	return &lane{actor: a, sched: s}
}

func (l *lane) push(m message) {
	l.sched.tracker.add()

	l.mu.Lock()
	l.queue = append(l.queue, m)
	wake := l.state == laneIdle
	if wake {
		l.state = laneQueued
	}
	l.mu.Unlock()

	if wake {
		l.sched.ready(l)
	}
}

// runOne handles the oldest message, then hands the lane back to the
// scheduler if more are waiting.
func (l *lane) runOne() {
	l.mu.Lock()
	if len(l.queue) == 0 {
		l.state = laneIdle
		l.mu.Unlock()
		return
	}
	m := l.queue[0]
	l.queue[0] = message{}
	l.queue = l.queue[1:]
	l.state = laneBusy
	l.mu.Unlock()

	l.sched.metrics.laneBusy(1)
	l.actor.handle(m)
	l.sched.metrics.laneBusy(-1)

	l.mu.Lock()
	more := len(l.queue) > 0
	if more {
		l.state = laneQueued
	} else {
		l.state = laneIdle
	}
	l.mu.Unlock()

	if more {
		l.sched.ready(l)
	}
	l.sched.tracker.done()
}

// Len returns the number of queued messages.
func (l *lane) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}
