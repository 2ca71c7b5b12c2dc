package runtime

import (
	canistersim "github.com/wippyai/canister-sim"
	"github.com/wippyai/canister-sim/callgraph"
	"github.com/wippyai/canister-sim/canister"
	"github.com/wippyai/canister-sim/errors"
	"github.com/wippyai/canister-sim/principal"
)

// callContext is one incoming call being served by an actor. It stays open
// until it has replied, every task it started has finished, and every call
// it made has been settled.
type callContext struct {
	caller principal.Principal
	target principal.Principal
	// deliver hands the final outcome to whoever is waiting on the call.
	deliver func(canistersim.Outcome)
	// run replaces method dispatch for system calls (upgrade).
	run      func(a *actor, call *callContext)
	handler  canister.Handler
	method   string
	trapMsg  string
	arg      []byte
	replyBuf []byte
	id       callgraph.ID
	cycles   uint64
	tasks    int
	kind     callgraph.Kind
	entry    canister.EntryMode
	query    bool
	replied  bool
	trapped  bool
}

// pendingCall is an outbound call performed by a task.
type pendingCall struct {
	caller    *actor
	ctx       *callContext
	task      *task
	onReply   canister.Handler
	onReject  canister.Handler
	onCleanup canister.Handler
	target    principal.Principal
	method    string
	arg       []byte
	outcome   canistersim.Outcome
	id        callgraph.ID
	payment   uint64
	done      bool
	awaited   bool
}

func (p *pendingCall) ID() uint64 {
	return uint64(p.id)
}

func (p *pendingCall) hasCallbacks() bool {
	return p.onReply != nil || p.onReject != nil
}

// Await suspends the task until the outcome of p arrives.
func (p *pendingCall) Await() (canistersim.Outcome, error) {
	t := p.task
	exec := t.sys.exec.Load()
	if exec == nil {
		return canistersim.Outcome{}, errors.OutsideContext("await")
	}
	if p.hasCallbacks() {
		return canistersim.Outcome{}, errors.InvalidInput(errors.PhaseSystem, "await on a call with reply or reject callbacks")
	}
	if p.awaited {
		return canistersim.Outcome{}, errors.InvalidInput(errors.PhaseSystem, "call already awaited")
	}
	p.awaited = true

	if !p.done {
		t.waiting = p
		if aborted := t.suspend(); aborted {
			panic(abortSignal{})
		}
		return p.outcome, nil
	}

	// The outcome arrived while the task was parked on another call; present
	// it as if this step were its callback.
	exec.enterCallback(p.outcome)
	return p.outcome, nil
}

// execution is the state of one step: the entry being run and everything it
// staged. Staged effects are committed when the step ends without trapping.
type execution struct {
	call       *callContext
	staged     *canistersim.Outcome
	rejectMsg  string
	arg        []byte
	outbound   []*pendingCall
	time       uint64
	accepted   uint64
	refunded   uint64
	replyMark  int
	entry      canister.EntryMode
	rejectCode canistersim.RejectCode
}

func newExecution(call *callContext, entry canister.EntryMode, arg []byte) *execution {
	return &execution{
		call:      call,
		entry:     entry,
		arg:       arg,
		replyMark: len(call.replyBuf),
	}
}

// callbackExecution builds the step that consumes out in call.
func callbackExecution(call *callContext, out canistersim.Outcome) *execution {
	e := newExecution(call, canister.EntryReplyCallback, nil)
	e.enterCallback(out)
	return e
}

func (e *execution) enterCallback(out canistersim.Outcome) {
	e.refunded = out.CyclesRefunded
	if out.IsReply() {
		e.entry = canister.EntryReplyCallback
		e.arg = out.Data
		e.rejectCode = canistersim.NoError
		e.rejectMsg = ""
		return
	}
	e.entry = canister.EntryRejectCallback
	e.arg = nil
	e.rejectCode = out.RejectCode()
	e.rejectMsg = out.Message
}

// callBuilder implements canister.Call.
type callBuilder struct {
	sys       *Context
	onReply   canister.Handler
	onReject  canister.Handler
	onCleanup canister.Handler
	target    principal.Principal
	method    string
	arg       []byte
	payment   uint64
	performed bool
}

func (b *callBuilder) WithArg(data []byte) canister.Call {
	b.arg = append([]byte(nil), data...)
	return b
}

func (b *callBuilder) WithPayment(cycles uint64) canister.Call {
	b.payment = cycles
	return b
}

func (b *callBuilder) OnReply(fn canister.Handler) canister.Call {
	b.onReply = fn
	return b
}

func (b *callBuilder) OnReject(fn canister.Handler) canister.Call {
	b.onReject = fn
	return b
}

func (b *callBuilder) OnCleanup(fn canister.Handler) canister.Call {
	b.onCleanup = fn
	return b
}

// Perform reserves the payment plus MaxCyclesPerResponse from the balance
// and queues the call on the current step.
func (b *callBuilder) Perform() (canister.Pending, error) {
	exec, err := b.sys.enter("call_perform", callModes)
	if err != nil {
		return nil, err
	}
	if b.performed {
		return nil, errors.InvalidInput(errors.PhaseSystem, "call already performed")
	}

	a := b.sys.actor
	if err := a.debit(b.payment + MaxCyclesPerResponse); err != nil {
		return nil, err
	}
	b.performed = true

	p := &pendingCall{
		caller:    a,
		ctx:       exec.call,
		task:      b.sys.task,
		target:    b.target,
		method:    b.method,
		arg:       b.arg,
		payment:   b.payment,
		onReply:   b.onReply,
		onReject:  b.onReject,
		onCleanup: b.onCleanup,
	}
	exec.outbound = append(exec.outbound, p)
	return p, nil
}
