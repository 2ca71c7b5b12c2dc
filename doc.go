// Package canistersim simulates a canister replica in process.
//
// Canisters are Go values that register update, query and lifecycle
// handlers. The replica gives each one an isolated memory arena, runs its
// messages one at a time, routes inter-canister calls through a call graph
// and reports every call as an Outcome: a reply, a reject with a code, or a
// trap.
//
// # Architecture Overview
//
//	canistersim/         Root package with Outcome and the Memory interface
//	├── runtime/         Replica, lanes, scheduler and the execution guard
//	├── canister/        Canister definitions, the System API and codecs
//	├── callgraph/       Call tracking, parent/child links and observers
//	├── arena/           Heap and stable regions over engine memories
//	├── engine/          wazero-backed linear memories and allocators
//	├── principal/       Canister and user identities
//	├── scenario/        TOML scenarios, builtin canister kinds and sessions
//	├── errors/          Structured error types for debugging
//	└── cmd/canister-sim Command line runner and interactive console
//
// # Quick Start
//
//	r, err := runtime.New(ctx, runtime.DefaultConfig())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer r.Close(ctx)
//
//	adder := canister.New("adder").Update("add_one", canister.Typed(canister.CBOR,
//	    func(sys canister.System, n int) (int, error) { return n + 1, nil }))
//	h, err := r.Install(ctx, adder, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	out, _ := h.NewCall("add_one").WithArg(canister.MustEncode(canister.CBOR, 41)).Perform(ctx)
//	fmt.Println(out) // reply(2 bytes)
//
// # Outcomes
//
// A trap never crashes the replica. Panics, runtime.Goexit and explicit
// traps inside a handler all become Outcome values with KindTrap, and the
// caller receives the trap message. Rejects carry one of the RejectCode
// values.
//
// # Thread Safety
//
// Replica and Handle are safe for concurrent use. The System passed to a
// handler belongs to the running step and must not escape it.
//
// # Memory Model
//
// Heap and stable regions only grow. Upgrades reset the heap and keep
// stable memory; a failed upgrade restores both from a snapshot.
package canistersim
