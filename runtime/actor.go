package runtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	canistersim "github.com/wippyai/canister-sim"
	"github.com/wippyai/canister-sim/arena"
	"github.com/wippyai/canister-sim/callgraph"
	"github.com/wippyai/canister-sim/canister"
	"github.com/wippyai/canister-sim/errors"
	"github.com/wippyai/canister-sim/principal"
)

// actor binds one canister's logic, arena and lane. The lane-owned fields
// are only touched by the goroutine currently running the lane.
type actor struct {
	replica *Replica
	log     *zap.Logger
	arena   *arena.Arena
	lane    *lane
	id      principal.Principal
	idText  string

	mu      sync.Mutex
	logic   *canister.Canister
	balance uint64

	// lane-owned
	contexts  map[callgraph.ID]*callContext
	suspended map[*task]struct{}
	removed   bool
}

func newActor(r *Replica, id principal.Principal, c *canister.Canister, ar *arena.Arena, balance uint64) *actor {
	a := &actor{
		replica:   r,
		arena:     ar,
		id:        id,
		idText:    id.Text(),
		logic:     c,
		balance:   balance,
		contexts:  make(map[callgraph.ID]*callContext),
		suspended: make(map[*task]struct{}),
	}
	a.log = r.log.With(zap.String("canister", a.idText))
	a.lane = newLane(a, r.sched)
	return a
}

func (a *actor) Logic() *canister.Canister {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.logic
}

func (a *actor) setLogic(c *canister.Canister) {
	a.mu.Lock()
	a.logic = c
	a.mu.Unlock()
}

func (a *actor) Balance() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.balance
}

func (a *actor) credit(n uint64) {
	a.mu.Lock()
	a.balance += n
	a.mu.Unlock()
}

func (a *actor) debit(n uint64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.balance < n {
		return errors.InsufficientCycles(n, a.balance)
	}
	a.balance -= n
	return nil
}

// handle runs one lane message.
func (a *actor) handle(m message) {
	a.replica.metrics.messages.Inc(1)
	switch m.kind {
	case msgRequest:
		a.handleRequest(m.call)
	case msgResponse:
		a.handleResponse(m.pending, m.outcome)
	case msgSystem:
		m.system(a)
	}
}

func (a *actor) handleRequest(call *callContext) {
	r := a.replica
	if a.removed {
		r.respond(call, canistersim.Reject(canistersim.DestinationInvalid,
			fmt.Sprintf("canister %s does not exist", a.idText)))
		return
	}
	if call.run != nil {
		call.run(a, call)
		return
	}

	if call.handler != nil {
		a.contexts[call.id] = call
		a.start(call, call.entry, call.handler, call.arg, nil)
		return
	}

	logic := a.Logic()
	m, ok := logic.Method(call.method)
	if !ok || (call.query && m.Mode != canister.ModeQuery) {
		kind := "update"
		if call.query {
			kind = "query"
		}
		r.respond(call, canistersim.Reject(canistersim.DestinationInvalid,
			fmt.Sprintf("canister has no %s method '%s'", kind, call.method)))
		return
	}

	entry := canister.EntryUpdate
	if m.Mode == canister.ModeQuery {
		entry = canister.EntryQuery
	}

	if call.kind == callgraph.KindIngress && entry == canister.EntryUpdate {
		if inspect := logic.InspectMessage(); inspect != nil {
			if ok, reason := a.inspect(call, inspect); !ok {
				r.respond(call, canistersim.Reject(canistersim.CanisterReject, reason))
				return
			}
		}
	}

	a.contexts[call.id] = call
	a.start(call, entry, m.Handler, call.arg, nil)
}

// inspect runs the ingress filter read-only in the current lane turn.
func (a *actor) inspect(call *callContext, fn canister.InspectFunc) (bool, string) {
	accepted := false
	res := a.runDetached(call, canister.EntryInspectMessage, func(sys canister.System) {
		accepted = fn(sys)
	}, call.arg)
	switch {
	case res.Status == StepTrapped:
		return false, res.Message
	case !accepted:
		return false, fmt.Sprintf("canister %s rejected the message in inspect_message", a.idText)
	}
	return true, ""
}

// start runs the first step of a new task serving call.
func (a *actor) start(call *callContext, entry canister.EntryMode, h canister.Handler, arg []byte, cleanup canister.Handler) {
	t := newTask(a, call, h)
	t.cleanup = cleanup
	call.tasks++
	exec := newExecution(call, entry, arg)
	a.finishStep(t, exec, a.runStep(t, exec))
}

// runDetached runs a single step that is not part of call's bookkeeping.
// Used for the inspect filter and upgrade hooks, which cannot suspend.
func (a *actor) runDetached(call *callContext, entry canister.EntryMode, h canister.Handler, arg []byte) StepResult {
	t := newTask(a, call, h)
	exec := newExecution(call, entry, arg)
	res := a.runStep(t, exec)
	if res.Status == StepSuspended {
		res = t.abort()
	}
	if res.Status == StepTrapped {
		a.replica.metrics.traps.Inc(1)
		a.log.Debug("canister trapped", zap.Stringer("entry", entry), zap.String("message", res.Message))
	}
	return res
}

func (a *actor) runStep(t *task, exec *execution) StepResult {
	exec.time = a.replica.cfg.Clock.Now()
	prev := a.arena.SetReadOnly(exec.entry.ReadOnly())
	start := time.Now()

	res := t.step(exec)

	a.replica.metrics.execution.UpdateSince(start)
	a.arena.SetReadOnly(prev)
	return res
}

// finishStep commits or discards what a step staged.
func (a *actor) finishStep(t *task, exec *execution, res StepResult) {
	call := exec.call
	switch res.Status {
	case StepTrapped:
		a.discard(exec)
		call.tasks--
		call.trapped = true
		call.trapMsg = res.Message
		a.replica.metrics.traps.Inc(1)
		a.log.Debug("canister trapped",
			zap.Stringer("entry", exec.entry),
			zap.String("method", call.method),
			zap.Uint64("call", uint64(call.id)),
			zap.String("message", res.Message))

		if t.cleanup != nil && (exec.entry == canister.EntryReplyCallback || exec.entry == canister.EntryRejectCallback) {
			a.start(call, canister.EntryCleanupCallback, t.cleanup, nil, nil)
		}
	case StepSuspended:
		a.commit(exec)
		a.suspended[t] = struct{}{}
	case StepDone:
		a.commit(exec)
		call.tasks--
	case StepAborted:
		a.discard(exec)
		call.tasks--
	}
	a.maybeFinalize(call)
}

func (a *actor) discard(exec *execution) {
	call := exec.call
	if exec.accepted > 0 {
		// The cycles were credited by CyclesAccept; undo it.
		a.mu.Lock()
		a.balance -= exec.accepted
		a.mu.Unlock()
		call.cycles += exec.accepted
	}
	for _, p := range exec.outbound {
		a.credit(p.payment + MaxCyclesPerResponse)
	}
	call.replyBuf = call.replyBuf[:exec.replyMark]
}

// commit opens the step's outbound calls before delivering its reply, so a
// context that replied stays live in the graph while its children run.
func (a *actor) commit(exec *execution) {
	for _, p := range exec.outbound {
		a.replica.dispatch(p)
	}
	if exec.staged != nil {
		a.replica.respond(exec.call, *exec.staged)
	}
}

// maybeFinalize resolves call once nothing more can happen in it.
func (a *actor) maybeFinalize(call *callContext) {
	if call.tasks > 0 || a.replica.graph.Pending(call.id) > 0 {
		return
	}
	delete(a.contexts, call.id)
	if call.replied {
		return
	}

	var out canistersim.Outcome
	switch {
	case call.trapped:
		out = canistersim.Trap(call.trapMsg)
	case call.kind == callgraph.KindSystem || call.kind == callgraph.KindTask:
		out = canistersim.Reply(nil)
	default:
		out = canistersim.Reject(canistersim.CanisterError, "canister did not reply to the call")
	}
	a.replica.respond(call, out)
}

// handleResponse runs the continuation of p. The child node is settled only
// after the continuation, so calls it performs open under a live parent.
func (a *actor) handleResponse(p *pendingCall, out canistersim.Outcome) {
	a.credit(out.CyclesRefunded)
	p.done = true
	p.outcome = out

	call := p.ctx
	if !a.removed {
		a.continueAfter(p, out)
	}
	if err := a.replica.graph.Settle(p.id); err != nil {
		panic(errors.Invariant(errors.PhaseSchedule, "settle call: "+err.Error()))
	}
	if !a.removed {
		a.maybeFinalize(call)
	}
}

func (a *actor) continueAfter(p *pendingCall, out canistersim.Outcome) {
	call := p.ctx

	switch {
	case p.hasCallbacks():
		h := p.onReply
		if !out.IsReply() {
			h = p.onReject
		}
		if h != nil {
			t := newTask(a, call, h)
			t.cleanup = p.onCleanup
			call.tasks++
			exec := callbackExecution(call, out)
			a.finishStep(t, exec, a.runStep(t, exec))
			return
		}
	case p.task.waiting == p:
		t := p.task
		t.waiting = nil
		delete(a.suspended, t)
		exec := callbackExecution(call, out)
		a.finishStep(t, exec, a.runStep(t, exec))
	}
}

// shutdown aborts suspended tasks and rejects open calls. Runs on the lane.
func (a *actor) shutdown(ctx context.Context, reason string) error {
	a.removed = true
	for t := range a.suspended {
		delete(a.suspended, t)
		t.abort()
		t.call.tasks--
	}
	for id, call := range a.contexts {
		delete(a.contexts, id)
		if !call.replied {
			a.replica.respond(call, canistersim.Reject(canistersim.DestinationInvalid, reason))
		}
	}
	return a.arena.Close(ctx)
}
