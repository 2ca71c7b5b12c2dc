package errors

import (
	"fmt"
	"strings"
)

// Phase indicates which simulator layer produced the error
type Phase string

const (
	PhaseArena     Phase = "arena"     // memory arena regions
	PhaseEngine    Phase = "engine"    // wazero linear memory backing
	PhaseSystem    Phase = "system"    // system-call shim
	PhaseGuard     Phase = "guard"     // execution guard
	PhaseSchedule  Phase = "schedule"  // lanes and call graph
	PhaseReplica   Phase = "replica"   // driver API
	PhaseRegister  Phase = "register"  // canister method registration
	PhaseCodec     Phase = "codec"     // argument encoding
	PhasePrincipal Phase = "principal" // identity parsing
	PhaseConfig    Phase = "config"    // configuration and scenarios
)

// Kind categorizes the error
type Kind string

const (
	KindOutOfBounds        Kind = "out_of_bounds"
	KindOutOfMemory        Kind = "out_of_memory"
	KindAlreadyReplied     Kind = "already_replied"
	KindOutsideContext     Kind = "outside_context"
	KindForbidden          Kind = "forbidden"
	KindReadOnly           Kind = "read_only"
	KindInsufficientCycles Kind = "insufficient_cycles"
	KindNotFound           Kind = "not_found"
	KindDuplicate          Kind = "duplicate"
	KindInvalidInput       Kind = "invalid_input"
	KindInvalidData        Kind = "invalid_data"
	KindClosed             Kind = "closed"
	KindInstantiation      Kind = "instantiation"
	KindRegistration       Kind = "registration"
	KindInvariant          Kind = "invariant"
)

// Sentinels for errors.Is. They carry no phase, so they match any phase.
var (
	ErrOutOfBounds        = &Error{Kind: KindOutOfBounds}
	ErrOutOfMemory        = &Error{Kind: KindOutOfMemory}
	ErrAlreadyReplied     = &Error{Kind: KindAlreadyReplied}
	ErrOutsideContext     = &Error{Kind: KindOutsideContext}
	ErrForbidden          = &Error{Kind: KindForbidden}
	ErrReadOnly           = &Error{Kind: KindReadOnly}
	ErrInsufficientCycles = &Error{Kind: KindInsufficientCycles}
	ErrNotFound           = &Error{Kind: KindNotFound}
	ErrDuplicate          = &Error{Kind: KindDuplicate}
	ErrClosed             = &Error{Kind: KindClosed}
)

// Error is the structured error type used throughout the simulator
type Error struct {
	Value    any
	Cause    error
	Phase    Phase
	Kind     Kind
	Canister string
	Region   string
	Detail   string
	Path     []string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if len(e.Path) > 0 {
		b.WriteString(" at ")
		b.WriteString(strings.Join(e.Path, "."))
	}

	if e.Canister != "" || e.Region != "" {
		b.WriteString(": ")
		if e.Canister != "" && e.Region != "" {
			b.WriteString("canister ")
			b.WriteString(e.Canister)
			b.WriteString(", region ")
			b.WriteString(e.Region)
		} else if e.Canister != "" {
			b.WriteString("canister ")
			b.WriteString(e.Canister)
		} else {
			b.WriteString("region ")
			b.WriteString(e.Region)
		}
	}

	if e.Detail != "" {
		if e.Canister != "" || e.Region != "" {
			b.WriteString(" - ")
		} else {
			b.WriteString(": ")
		}
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error.
// Kinds must match; the phase is compared only when the target sets one.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		if e.Kind != t.Kind {
			return false
		}
		return t.Phase == "" || e.Phase == t.Phase
	}
	return false
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Path sets the field path
func (b *Builder) Path(path ...string) *Builder {
	b.err.Path = path
	return b
}

// Canister sets the canister the error relates to
func (b *Builder) Canister(id string) *Builder {
	b.err.Canister = id
	return b
}

// Region sets the memory region name
func (b *Builder) Region(name string) *Builder {
	b.err.Region = name
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for common error patterns

// OutOfBounds creates a region access fault
func OutOfBounds(region string, offset, length uint64, size uint64) *Error {
	return &Error{
		Phase:  PhaseArena,
		Kind:   KindOutOfBounds,
		Region: region,
		Detail: fmt.Sprintf("access out of bounds: offset=%d, length=%d, size=%d", offset, length, size),
		Value:  offset,
	}
}

// OutOfMemory creates a growth failure for a region that would exceed its cap
func OutOfMemory(region string, current, additional, max uint32) *Error {
	return &Error{
		Phase:  PhaseArena,
		Kind:   KindOutOfMemory,
		Region: region,
		Detail: fmt.Sprintf("cannot grow by %d pages: %d of %d pages in use", additional, current, max),
		Value:  additional,
	}
}

// ReadOnly creates a write-while-read-only fault
func ReadOnly(phase Phase, op string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindReadOnly,
		Detail: fmt.Sprintf("%s is not allowed while memory is read-only", op),
	}
}

// AlreadyReplied creates the fault for a second reply or reject in one call context
func AlreadyReplied(op string) *Error {
	return &Error{
		Phase:  PhaseSystem,
		Kind:   KindAlreadyReplied,
		Detail: fmt.Sprintf("%s: call context already replied", op),
	}
}

// OutsideContext creates the fault for a system call made with no active call context
func OutsideContext(op string) *Error {
	return &Error{
		Phase:  PhaseSystem,
		Kind:   KindOutsideContext,
		Detail: fmt.Sprintf("%s called outside of an executing message", op),
	}
}

// Forbidden creates the fault for a system call not permitted in the active entry mode
func Forbidden(op, entry string) *Error {
	return &Error{
		Phase:  PhaseSystem,
		Kind:   KindForbidden,
		Detail: fmt.Sprintf("%s can not be called from %s", op, entry),
	}
}

// InsufficientCycles creates a balance failure
func InsufficientCycles(need, have uint64) *Error {
	return &Error{
		Phase:  PhaseSystem,
		Kind:   KindInsufficientCycles,
		Detail: fmt.Sprintf("need %d cycles, balance is %d", need, have),
		Value:  need,
	}
}

// NotFound creates a not-found error
func NotFound(phase Phase, what, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Detail: fmt.Sprintf("%s %q not found", what, name),
	}
}

// Duplicate creates an already-exists error
func Duplicate(phase Phase, what, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindDuplicate,
		Detail: fmt.Sprintf("%s %q already exists", what, name),
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// InvalidData creates an invalid data error
func InvalidData(phase Phase, path []string, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidData,
		Path:   path,
		Detail: detail,
	}
}

// Closed creates an error for use of a closed component
func Closed(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindClosed,
		Detail: fmt.Sprintf("%s is closed", what),
	}
}

// Registration creates a method registration error
func Registration(name string, cause error) *Error {
	return &Error{
		Phase:  PhaseRegister,
		Kind:   KindRegistration,
		Detail: fmt.Sprintf("register method %s", name),
		Cause:  cause,
	}
}

// Instantiation creates a memory instantiation error
func Instantiation(cause error) *Error {
	return &Error{
		Phase:  PhaseEngine,
		Kind:   KindInstantiation,
		Detail: "instantiate memory module",
		Cause:  cause,
	}
}

// Invariant creates an internal consistency violation
func Invariant(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvariant,
		Detail: detail,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}
