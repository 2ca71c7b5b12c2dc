package runtime

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	canistersim "github.com/wippyai/canister-sim"
	"github.com/wippyai/canister-sim/arena"
	"github.com/wippyai/canister-sim/callgraph"
	"github.com/wippyai/canister-sim/canister"
	"github.com/wippyai/canister-sim/errors"
	"github.com/wippyai/canister-sim/principal"
)

// Handle is the driver's reference to a registered canister.
type Handle struct {
	replica *Replica
	actor   *actor
}

// ID returns the canister's principal.
func (h *Handle) ID() principal.Principal {
	return h.actor.id
}

// Logic returns the installed canister description.
func (h *Handle) Logic() *canister.Canister {
	return h.actor.Logic()
}

// Balance returns the current cycle balance.
func (h *Handle) Balance() uint64 {
	return h.actor.Balance()
}

// Arena returns the canister's memory. Reading it while messages are in
// flight races with the canister; use Inspect or Drain first.
func (h *Handle) Arena() *arena.Arena {
	return h.actor.arena
}

// NewCall starts an ingress call to method on this canister.
func (h *Handle) NewCall(method string) *CallBuilder {
	return h.replica.NewCall(h.actor.id, method)
}

// Init runs the canister_init entry with arg.
func (h *Handle) Init(ctx context.Context, arg []byte) (canistersim.Outcome, error) {
	return h.system(ctx, canister.EntryInit, nil, arg)
}

// Heartbeat runs the canister_heartbeat entry.
func (h *Handle) Heartbeat(ctx context.Context) (canistersim.Outcome, error) {
	return h.system(ctx, canister.EntryHeartbeat, nil, nil)
}

// Run executes fn as a task on the canister's lane. The task may reply,
// make calls and await them like an update method; it resolves to
// Reply(nil) if it finishes without replying.
func (h *Handle) Run(ctx context.Context, fn canister.Handler) (canistersim.Outcome, error) {
	if fn == nil {
		return canistersim.Outcome{}, errors.InvalidInput(errors.PhaseReplica, "task cannot be nil")
	}
	return h.system(ctx, canister.EntryTask, fn, nil)
}

func (h *Handle) system(ctx context.Context, entry canister.EntryMode, fn canister.Handler, arg []byte) (canistersim.Outcome, error) {
	if err := h.live(); err != nil {
		return canistersim.Outcome{}, err
	}
	return h.replica.submitSystem(h.actor, entry, fn, arg, principal.Management()).Wait(ctx)
}

// Inspect runs fn against the arena on the canister's lane, between
// messages.
func (h *Handle) Inspect(ctx context.Context, fn func(*arena.Arena) error) error {
	if err := h.live(); err != nil {
		return err
	}
	errc := make(chan error, 1)
	done := make(chan struct{})
	h.actor.lane.push(message{kind: msgSystem, system: func(a *actor) {
		if a.removed {
			errc <- errors.Closed(errors.PhaseReplica, "canister "+a.idText)
		} else {
			errc <- fn(a.arena)
		}
		close(done)
	}})
	if err := h.replica.sched.await(ctx, done); err != nil {
		return err
	}
	return <-errc
}

// Upgrade replaces the canister's logic. pre_upgrade of the old logic runs
// first, then the heap is reset and post_upgrade of the new logic runs with
// arg. Stable memory is preserved. If any step traps the arena and logic
// are restored and the trap is returned as the outcome. A canister with
// calls in flight rejects the upgrade with SysTransient.
func (h *Handle) Upgrade(ctx context.Context, next *canister.Canister, arg []byte) (canistersim.Outcome, error) {
	if next == nil {
		return canistersim.Outcome{}, errors.InvalidInput(errors.PhaseReplica, "canister cannot be nil")
	}
	if err := h.live(); err != nil {
		return canistersim.Outcome{}, err
	}

	r := h.replica
	call := &callContext{
		kind:   callgraph.KindSystem,
		caller: principal.Management(),
		target: h.actor.id,
		arg:    arg,
	}
	call.run = func(a *actor, call *callContext) {
		r.respond(call, a.upgrade(ctx, call, next))
	}
	return r.submitRoot(h.actor, call).Wait(ctx)
}

func (h *Handle) live() error {
	if _, ok := h.replica.actor(h.actor.id); !ok {
		return errors.NotFound(errors.PhaseReplica, "canister", h.actor.idText)
	}
	return nil
}

// upgrade runs on the lane.
func (a *actor) upgrade(ctx context.Context, call *callContext, next *canister.Canister) canistersim.Outcome {
	if len(a.contexts) > 0 || len(a.suspended) > 0 {
		return canistersim.Reject(canistersim.SysTransient,
			fmt.Sprintf("canister %s has %d calls in flight", a.idText, len(a.contexts)))
	}

	prev := a.Logic()
	snap := a.arena.Snapshot()
	rollback := func(reason string) canistersim.Outcome {
		if err := a.arena.Restore(ctx, snap); err != nil {
			a.log.Error("upgrade rollback failed", zap.Error(err))
		}
		a.setLogic(prev)
		return canistersim.Trap(reason)
	}

	if pre := prev.PreUpgrade(); pre != nil {
		if res := a.runDetached(call, canister.EntryPreUpgrade, pre, nil); res.Status != StepDone {
			return rollback(res.Message)
		}
	}

	if err := a.arena.ResetHeap(ctx); err != nil {
		return rollback("reset heap: " + err.Error())
	}
	a.setLogic(next)

	if post := next.PostUpgrade(); post != nil {
		if res := a.runDetached(call, canister.EntryPostUpgrade, post, call.arg); res.Status != StepDone {
			return rollback(res.Message)
		}
	}

	a.log.Info("canister upgraded", zap.String("from", prev.Name()), zap.String("to", next.Name()))
	return canistersim.Reply(nil)
}
