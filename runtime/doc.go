// Package runtime is the simulated replica: it hosts canister actors, runs
// their messages one at a time per canister, and turns abnormal
// terminations into traps.
//
// # Quick Start
//
//	ctx := context.Background()
//	r, err := runtime.New(ctx, runtime.DefaultConfig())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer r.Close(ctx)
//
//	echo := canister.New("echo").Update("echo", func(sys canister.System) {
//	    arg, _ := sys.ArgData()
//	    _ = sys.Reply(arg)
//	})
//	h, err := r.Install(ctx, echo, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	out, err := h.NewCall("echo").WithArg([]byte("hi")).Perform(ctx)
//	fmt.Println(out) // reply("hi")
//
// # Lanes
//
// Every canister owns a lane, a FIFO mailbox of requests, responses and
// system messages. A lane is run by at most one worker at a time, so a
// canister never observes two messages at once, while different canisters
// run in parallel. Self-calls queue behind the running message.
//
// # Steps and suspension
//
// Canister logic runs in steps. A step starts with a request, a callback, or
// the resumption of a task parked in Pending.Await, and ends when the
// handler returns, traps, or awaits. Replies, outbound calls and accepted
// cycles staged by a step are committed when it ends without trapping and
// discarded when it traps. Arena writes are never rolled back.
//
// Awaiting releases the lane: other messages, including calls back into the
// same canister, run while a task is parked. Cyclic call graphs therefore
// never deadlock; an unbounded cycle simply keeps the replica busy.
//
// # Outcomes
//
// Every call resolves to exactly one canistersim.Outcome. A call that
// finishes without replying resolves to Trap if one of its steps trapped and
// to Reject(CanisterError, "canister did not reply to the call") otherwise.
// Unknown canisters and methods reject with DestinationInvalid.
//
// # Scheduling modes
//
// ModeParallel runs lanes on a worker pool. ModeDeterministic has no
// workers; lanes run on the goroutine calling Drain, SubmitIngress or
// IngressCall.Wait, which makes traces reproducible.
package runtime
