package runtime

import (
	"github.com/wippyai/canister-sim/canister"
)

// StepStatus is how a step of canister logic ended.
type StepStatus uint8

const (
	// StepDone means the handler returned.
	StepDone StepStatus = iota
	// StepSuspended means the handler is parked in Await.
	StepSuspended
	// StepTrapped means the handler trapped or panicked.
	StepTrapped
	// StepAborted means the task was torn down while suspended.
	StepAborted
)

func (s StepStatus) String() string {
	switch s {
	case StepDone:
		return "done"
	case StepSuspended:
		return "suspended"
	case StepTrapped:
		return "trapped"
	case StepAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// StepResult is reported by the guard when a step yields.
type StepResult struct {
	Message string
	Status  StepStatus
}

type resumeSignal struct {
	abort bool
}

// task runs one handler invocation on its own goroutine. The goroutine
// only runs while the lane worker is blocked in step, so exactly one
// goroutine touches the actor at a time.
type task struct {
	sys     *Context
	call    *callContext
	handler canister.Handler
	// cleanup runs if this task is a callback and it traps.
	cleanup canister.Handler
	waiting *pendingCall
	resume  chan resumeSignal
	yield   chan StepResult
	trapMsg string
	started bool
	aborted bool
	trapped bool
}

func newTask(a *actor, call *callContext, h canister.Handler) *task {
	t := &task{
		call:    call,
		handler: h,
		resume:  make(chan resumeSignal),
		yield:   make(chan StepResult),
	}
	t.sys = &Context{actor: a, task: t}
	return t
}

// step runs the task until its next yield with exec as the active step.
func (t *task) step(exec *execution) StepResult {
	t.sys.exec.Store(exec)
	if !t.started {
		t.started = true
		go t.run()
	} else {
		t.resume <- resumeSignal{}
	}
	res := <-t.yield
	t.sys.exec.Store(nil)
	return res
}

// abort unparks a suspended task and waits for it to unwind.
func (t *task) abort() StepResult {
	t.aborted = true
	t.waiting = nil
	t.resume <- resumeSignal{abort: true}
	return <-t.yield
}

func (t *task) run() {
	res := StepResult{Status: StepTrapped, Message: "canister trapped: goroutine exited"}
	defer func() { t.yield <- res }()
	res = t.guard()
}

// suspend yields to the lane worker and blocks until resumed. It reports
// whether the task is being aborted.
func (t *task) suspend() bool {
	if t.aborted {
		return true
	}
	t.yield <- StepResult{Status: StepSuspended}
	sig := <-t.resume
	return sig.abort
}
