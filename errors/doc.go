// Package errors provides structured error types for the canister simulator.
//
// Errors are categorized by Phase (which layer produced them) and Kind (error category).
// The Error type carries the canister and memory region involved, plus a cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseArena, errors.KindOutOfBounds).
//		Canister(id.String()).
//		Region("stable").
//		Detail("offset=%d, length=%d", off, n).
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.OutOfMemory("heap", cur, add, max)
//	err := errors.AlreadyReplied("reply")
//
// Local faults (bounds, entry-mode violations, double replies) are errors.
// Rejects and traps are never errors: they are canistersim.Outcome values.
//
// All errors implement the standard error interface and support errors.Is/As.
// The Err* sentinels match by Kind regardless of phase:
//
//	if errors.Is(err, errors.ErrOutOfBounds) { ... }
package errors
