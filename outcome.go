package canistersim

import (
	"fmt"
	"strconv"
)

// RejectCode classifies a rejected call. Values match the host's numeric codes.
type RejectCode uint8

const (
	NoError            RejectCode = 0
	SysFatal           RejectCode = 1
	SysTransient       RejectCode = 2
	DestinationInvalid RejectCode = 3
	CanisterReject     RejectCode = 4
	CanisterError      RejectCode = 5
)

// DestinationNotFound is returned for calls to principals with no registered canister.
const DestinationNotFound = DestinationInvalid

func (c RejectCode) String() string {
	switch c {
	case NoError:
		return "no_error"
	case SysFatal:
		return "sys_fatal"
	case SysTransient:
		return "sys_transient"
	case DestinationInvalid:
		return "destination_invalid"
	case CanisterReject:
		return "canister_reject"
	case CanisterError:
		return "canister_error"
	default:
		return "reject_code(" + strconv.Itoa(int(c)) + ")"
	}
}

// OutcomeKind identifies how a call context resolved.
type OutcomeKind uint8

const (
	OutcomeReply OutcomeKind = iota
	OutcomeReject
	OutcomeTrap
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeReply:
		return "reply"
	case OutcomeReject:
		return "reject"
	case OutcomeTrap:
		return "trap"
	default:
		return "outcome(" + strconv.Itoa(int(k)) + ")"
	}
}

// Outcome is the final result of a call context. It is never mutated after
// it has been produced.
type Outcome struct {
	Data           []byte
	Message        string
	CyclesRefunded uint64
	Kind           OutcomeKind
	Code           RejectCode
}

// Reply builds a successful outcome.
func Reply(data []byte) Outcome {
	return Outcome{Kind: OutcomeReply, Data: data}
}

// Reject builds a rejection outcome.
func Reject(code RejectCode, message string) Outcome {
	return Outcome{Kind: OutcomeReject, Code: code, Message: message}
}

// Trap builds an abnormal-termination outcome.
func Trap(message string) Outcome {
	return Outcome{Kind: OutcomeTrap, Code: CanisterError, Message: message}
}

// WithRefund returns a copy carrying the refunded cycle amount.
func (o Outcome) WithRefund(cycles uint64) Outcome {
	o.CyclesRefunded = cycles
	return o
}

func (o Outcome) IsReply() bool  { return o.Kind == OutcomeReply }
func (o Outcome) IsReject() bool { return o.Kind == OutcomeReject }
func (o Outcome) IsTrap() bool   { return o.Kind == OutcomeTrap }

// RejectCode returns the code a caller observes: NoError for replies and
// CanisterError for traps.
func (o Outcome) RejectCode() RejectCode {
	switch o.Kind {
	case OutcomeReply:
		return NoError
	case OutcomeTrap:
		return CanisterError
	default:
		return o.Code
	}
}

// Err converts non-reply outcomes to a *RejectError.
func (o Outcome) Err() error {
	if o.Kind == OutcomeReply {
		return nil
	}
	return &RejectError{Code: o.RejectCode(), Message: o.Message, Trapped: o.Kind == OutcomeTrap}
}

func (o Outcome) String() string {
	switch o.Kind {
	case OutcomeReply:
		return fmt.Sprintf("reply(%d bytes)", len(o.Data))
	case OutcomeTrap:
		return fmt.Sprintf("trap(%q)", o.Message)
	default:
		return fmt.Sprintf("reject(%s, %q)", o.Code, o.Message)
	}
}

// RejectError is the error form of a reject or trap outcome.
type RejectError struct {
	Message string
	Code    RejectCode
	Trapped bool
}

func (e *RejectError) Error() string {
	if e.Trapped {
		return "call trapped: " + e.Message
	}
	return fmt.Sprintf("call rejected (%s): %s", e.Code, e.Message)
}
