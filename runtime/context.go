package runtime

import (
	goruntime "runtime"
	"sync/atomic"

	"go.uber.org/zap"

	canistersim "github.com/wippyai/canister-sim"
	"github.com/wippyai/canister-sim/arena"
	"github.com/wippyai/canister-sim/canister"
	"github.com/wippyai/canister-sim/errors"
	"github.com/wippyai/canister-sim/principal"
)

// entrySet is a bit set of entry modes.
type entrySet uint32

func modes(ms ...canister.EntryMode) entrySet {
	var s entrySet
	for _, m := range ms {
		s |= 1 << m
	}
	return s
}

func (s entrySet) has(m canister.EntryMode) bool {
	return s&(1<<m) != 0
}

const (
	eTask    = canister.EntryTask
	eInit    = canister.EntryInit
	ePre     = canister.EntryPreUpgrade
	ePost    = canister.EntryPostUpgrade
	eBeat    = canister.EntryHeartbeat
	eInspect = canister.EntryInspectMessage
	eUpdate  = canister.EntryUpdate
	eQuery   = canister.EntryQuery
	eReply   = canister.EntryReplyCallback
	eReject  = canister.EntryRejectCallback
	eCleanup = canister.EntryCleanupCallback
)

// Which entry points may use which system calls.
var (
	anyModes      = modes(eTask, eInit, ePre, ePost, eBeat, eInspect, eUpdate, eQuery, eReply, eReject, eCleanup)
	argModes      = modes(eTask, eInit, ePost, eUpdate, eQuery, eReply, eInspect)
	callerModes   = modes(eTask, eInit, ePost, ePre, eUpdate, eQuery, eInspect)
	codeModes     = modes(eTask, eReply, eReject)
	messageModes  = modes(eTask, eReject)
	replyModes    = modes(eTask, eUpdate, eQuery, eReply, eReject)
	cyclesModes   = modes(eTask, eUpdate, eReply, eReject)
	refundedModes = modes(eTask, eReply, eReject)
	methodModes   = modes(eTask, eInspect, eUpdate, eQuery)
	callModes     = modes(eTask, eUpdate, eReply, eReject, eBeat)
)

// Context is the System handed to canister logic. It belongs to one task
// and is live only while that task is executing a step; calls made at any
// other time fail with errors.KindOutsideContext.
//
// A Context must only be used from the goroutine running the handler.
type Context struct {
	actor *actor
	task  *task
	exec  atomic.Pointer[execution]
}

var _ canister.System = (*Context)(nil)

func (c *Context) enter(op string, allowed entrySet) (*execution, error) {
	exec := c.exec.Load()
	if exec == nil {
		return nil, errors.OutsideContext(op)
	}
	if !allowed.has(exec.entry) {
		return nil, errors.Forbidden(op, exec.entry.String())
	}
	return exec, nil
}

func (c *Context) EntryMode() canister.EntryMode {
	if exec := c.exec.Load(); exec != nil {
		return exec.entry
	}
	return canister.EntryNone
}

func (c *Context) Self() principal.Principal {
	return c.actor.id
}

func (c *Context) Caller() (principal.Principal, error) {
	exec, err := c.enter("msg_caller", callerModes)
	if err != nil {
		return principal.Principal{}, err
	}
	return exec.call.caller, nil
}

func (c *Context) MethodName() (string, error) {
	exec, err := c.enter("msg_method_name", methodModes)
	if err != nil {
		return "", err
	}
	return exec.call.method, nil
}

func (c *Context) Time() (uint64, error) {
	exec, err := c.enter("time", anyModes)
	if err != nil {
		return 0, err
	}
	return exec.time, nil
}

func (c *Context) ArgData() ([]byte, error) {
	exec, err := c.enter("msg_arg_data", argModes)
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), exec.arg...), nil
}

func (c *Context) ArgDataSize() (uint32, error) {
	exec, err := c.enter("msg_arg_data_size", argModes)
	if err != nil {
		return 0, err
	}
	return uint32(len(exec.arg)), nil
}

func (c *Context) ArgDataCopy(dst, offset, size uint32) error {
	exec, err := c.enter("msg_arg_data_copy", argModes)
	if err != nil {
		return err
	}
	if uint64(offset)+uint64(size) > uint64(len(exec.arg)) {
		return errors.OutOfBounds("arg", uint64(offset), uint64(size), uint64(len(exec.arg)))
	}
	return c.actor.arena.Heap().Write(dst, exec.arg[offset:offset+size])
}

func (c *Context) replyable(op string) (*execution, error) {
	exec, err := c.enter(op, replyModes)
	if err != nil {
		return nil, err
	}
	if exec.call.replied || exec.staged != nil {
		return nil, errors.AlreadyReplied(op)
	}
	return exec, nil
}

func (c *Context) ReplyDataAppend(data []byte) error {
	exec, err := c.replyable("msg_reply_data_append")
	if err != nil {
		return err
	}
	exec.call.replyBuf = append(exec.call.replyBuf, data...)
	return nil
}

func (c *Context) Reply(data []byte) error {
	exec, err := c.replyable("msg_reply")
	if err != nil {
		return err
	}
	call := exec.call
	call.replyBuf = append(call.replyBuf, data...)
	out := canistersim.Reply(call.replyBuf)
	exec.staged = &out
	return nil
}

func (c *Context) Reject(message string) error {
	exec, err := c.replyable("msg_reject")
	if err != nil {
		return err
	}
	out := canistersim.Reject(canistersim.CanisterReject, message)
	exec.staged = &out
	return nil
}

func (c *Context) RejectCode() (canistersim.RejectCode, error) {
	exec, err := c.enter("msg_reject_code", codeModes)
	if err != nil {
		return 0, err
	}
	return exec.rejectCode, nil
}

func (c *Context) RejectMessage() (string, error) {
	exec, err := c.enter("msg_reject_msg", messageModes)
	if err != nil {
		return "", err
	}
	return exec.rejectMsg, nil
}

func (c *Context) CyclesBalance() (uint64, error) {
	if _, err := c.enter("canister_cycle_balance", anyModes); err != nil {
		return 0, err
	}
	return c.actor.Balance(), nil
}

func (c *Context) CyclesAvailable() (uint64, error) {
	exec, err := c.enter("msg_cycles_available", cyclesModes)
	if err != nil {
		return 0, err
	}
	return exec.call.cycles, nil
}

func (c *Context) CyclesAccept(max uint64) (uint64, error) {
	exec, err := c.enter("msg_cycles_accept", cyclesModes)
	if err != nil {
		return 0, err
	}
	n := min(max, exec.call.cycles)
	exec.call.cycles -= n
	exec.accepted += n
	c.actor.credit(n)
	return n, nil
}

func (c *Context) CyclesRefunded() (uint64, error) {
	exec, err := c.enter("msg_cycles_refunded", refundedModes)
	if err != nil {
		return 0, err
	}
	return exec.refunded, nil
}

func (c *Context) Heap() canistersim.LinearMemory {
	return heapView{sys: c}
}

func (c *Context) StableSize() (uint32, error) {
	if _, err := c.enter("stable_size", anyModes); err != nil {
		return 0, err
	}
	return c.actor.arena.Stable().Pages(), nil
}

func (c *Context) StableGrow(pages uint32) (uint32, error) {
	if _, err := c.enter("stable_grow", anyModes); err != nil {
		return 0, err
	}
	return c.actor.arena.Grow(arena.Stable, pages)
}

func (c *Context) StableRead(offset uint32, buf []byte) error {
	if _, err := c.enter("stable_read", anyModes); err != nil {
		return err
	}
	return c.actor.arena.Stable().ReadInto(offset, buf)
}

func (c *Context) StableWrite(offset uint32, data []byte) error {
	if _, err := c.enter("stable_write", anyModes); err != nil {
		return err
	}
	return c.actor.arena.Write(arena.Stable, offset, data)
}

func (c *Context) Call(target principal.Principal, method string) canister.Call {
	return &callBuilder{sys: c, target: target, method: method}
}

func (c *Context) DebugPrint(msg string) {
	fields := []zap.Field{zap.String("canister", c.actor.idText), zap.String("message", msg)}
	if exec := c.exec.Load(); exec != nil {
		fields = append(fields, zap.Stringer("entry", exec.entry))
	}
	c.actor.log.Info("canister debug print", fields...)
}

// Trap aborts the current step. Outside a step there is nothing to abort:
// the fault is logged and the calling goroutine exits.
func (c *Context) Trap(msg string) {
	if c.exec.Load() == nil {
		c.actor.log.Warn("trap outside a running step",
			zap.String("canister", c.actor.idText),
			zap.String("message", msg),
			zap.Error(errors.OutsideContext("trap")))
		goruntime.Goexit()
	}
	c.task.trapped = true
	c.task.trapMsg = msg
	panic(trapSignal{msg: msg})
}
