package canister

import (
	"strconv"

	canistersim "github.com/wippyai/canister-sim"
	"github.com/wippyai/canister-sim/principal"
)

// EntryMode is the kind of entry point currently executing. It decides
// which system calls are permitted.
type EntryMode uint8

const (
	EntryNone EntryMode = iota
	EntryInit
	EntryPreUpgrade
	EntryPostUpgrade
	EntryHeartbeat
	EntryInspectMessage
	EntryUpdate
	EntryQuery
	EntryReplyCallback
	EntryRejectCallback
	EntryCleanupCallback
	EntryTask
)

func (m EntryMode) String() string {
	switch m {
	case EntryNone:
		return "none"
	case EntryInit:
		return "canister_init"
	case EntryPreUpgrade:
		return "canister_pre_upgrade"
	case EntryPostUpgrade:
		return "canister_post_upgrade"
	case EntryHeartbeat:
		return "canister_heartbeat"
	case EntryInspectMessage:
		return "canister_inspect_message"
	case EntryUpdate:
		return "canister_update"
	case EntryQuery:
		return "canister_query"
	case EntryReplyCallback:
		return "reply_callback"
	case EntryRejectCallback:
		return "reject_callback"
	case EntryCleanupCallback:
		return "cleanup_callback"
	case EntryTask:
		return "task"
	default:
		return "entry(" + strconv.Itoa(int(m)) + ")"
	}
}

// ReadOnly reports whether the arena is write protected in this mode.
func (m EntryMode) ReadOnly() bool {
	return m == EntryQuery || m == EntryInspectMessage
}

// System is the host interface available to canister logic during a step.
//
// Methods returning an error fail with errors.KindOutsideContext when called
// after the step has ended (for example from a goroutine the logic started),
// and with errors.KindForbidden when the current entry mode does not permit
// the call.
type System interface {
	// EntryMode returns the executing entry point, or EntryNone outside a step.
	EntryMode() EntryMode
	// Self returns the canister's own identity.
	Self() principal.Principal
	Caller() (principal.Principal, error)
	MethodName() (string, error)
	// Time returns the message timestamp in nanoseconds. It is fixed for the step.
	Time() (uint64, error)

	// ArgData returns a copy of the argument. In a reply callback this is the reply payload.
	ArgData() ([]byte, error)
	ArgDataSize() (uint32, error)
	// ArgDataCopy copies size bytes of the argument starting at offset into the heap at dst.
	ArgDataCopy(dst, offset, size uint32) error

	// ReplyDataAppend stages reply bytes without committing the reply.
	ReplyDataAppend(data []byte) error
	// Reply appends data to the staged bytes and commits the reply.
	Reply(data []byte) error
	Reject(message string) error
	RejectCode() (canistersim.RejectCode, error)
	RejectMessage() (string, error)

	CyclesBalance() (uint64, error)
	CyclesAvailable() (uint64, error)
	// CyclesAccept moves up to max of the attached cycles into the balance.
	CyclesAccept(max uint64) (uint64, error)
	CyclesRefunded() (uint64, error)

	// Heap returns the canister's heap region.
	Heap() canistersim.LinearMemory
	StableSize() (uint32, error)
	StableGrow(pages uint32) (uint32, error)
	StableRead(offset uint32, buf []byte) error
	StableWrite(offset uint32, data []byte) error

	// Call starts building an outbound call.
	Call(target principal.Principal, method string) Call

	DebugPrint(msg string)
	// Trap aborts the step. It does not return; outside a step it exits the
	// calling goroutine.
	Trap(msg string)
}

// Call builds one outbound inter-canister call.
type Call interface {
	WithArg(data []byte) Call
	// WithPayment attaches cycles taken from the caller's balance.
	WithPayment(cycles uint64) Call
	// OnReply registers the continuation run when the callee replies.
	// It executes as EntryReplyCallback with the reply as its argument.
	OnReply(fn Handler) Call
	// OnReject registers the continuation run when the callee rejects or traps.
	OnReject(fn Handler) Call
	// OnCleanup registers a continuation run if the reply or reject continuation traps.
	OnCleanup(fn Handler) Call
	// Perform queues the call. It is sent when the current step ends
	// without trapping.
	Perform() (Pending, error)
}

// Pending is a performed call.
type Pending interface {
	ID() uint64
	// Await suspends the calling logic until the outcome arrives, releasing
	// the canister's lane meanwhile. It must be called on the goroutine
	// executing the step and only for calls without OnReply/OnReject.
	Await() (canistersim.Outcome, error)
}
