package runtime

import (
	"context"
	"sync"

	canistersim "github.com/wippyai/canister-sim"
	"github.com/wippyai/canister-sim/callgraph"
	"github.com/wippyai/canister-sim/errors"
	"github.com/wippyai/canister-sim/principal"
)

// Ingress is an externally submitted call.
type Ingress struct {
	Target principal.Principal
	Caller principal.Principal
	Method string
	Arg    []byte
	// Cycles are attached by the driver; the callee may accept them and the
	// rest come back as the outcome's refund.
	Cycles uint64
	// Query restricts dispatch to query methods.
	Query bool
}

// IngressCall is the future of a submitted root call.
type IngressCall struct {
	replica *Replica
	done    chan struct{}
	out     canistersim.Outcome
	id      callgraph.ID
	once    sync.Once
}

func newIngressCall(r *Replica) *IngressCall {
	return &IngressCall{replica: r, done: make(chan struct{})}
}

func (c *IngressCall) complete(out canistersim.Outcome) {
	c.once.Do(func() {
		c.out = out
		close(c.done)
	})
}

// ID returns the call-graph id of the root call.
func (c *IngressCall) ID() callgraph.ID {
	return c.id
}

// Done is closed once the outcome is available.
func (c *IngressCall) Done() <-chan struct{} {
	return c.done
}

// Outcome returns the outcome if the call has completed.
func (c *IngressCall) Outcome() (canistersim.Outcome, bool) {
	select {
	case <-c.done:
		return c.out, true
	default:
		return canistersim.Outcome{}, false
	}
}

// Wait blocks until the call tree settles. In deterministic mode it runs
// lanes on the calling goroutine. A tree that can no longer make progress
// blocks until ctx expires.
func (c *IngressCall) Wait(ctx context.Context) (canistersim.Outcome, error) {
	if out, ok := c.Outcome(); ok {
		return out, nil
	}

	r := c.replica
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-r.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := r.sched.await(ctx, c.done); err != nil {
		if out, ok := c.Outcome(); ok {
			return out, nil
		}
		if r.closed.Load() {
			return canistersim.Outcome{}, errors.Closed(errors.PhaseReplica, "replica")
		}
		return canistersim.Outcome{}, err
	}
	return c.out, nil
}

// Submit queues an ingress message and returns immediately.
func (r *Replica) Submit(in Ingress) *IngressCall {
	r.metrics.ingress.Inc(1)
	call := &callContext{
		kind:   callgraph.KindIngress,
		caller: in.Caller,
		target: in.Target,
		method: in.Method,
		arg:    append([]byte(nil), in.Arg...),
		cycles: in.Cycles,
		query:  in.Query,
	}
	a, _ := r.actor(in.Target)
	return r.submitRoot(a, call)
}

// SubmitIngress submits in and waits for its outcome.
func (r *Replica) SubmitIngress(ctx context.Context, in Ingress) (canistersim.Outcome, error) {
	return r.Submit(in).Wait(ctx)
}

// CallBuilder builds an ingress message.
type CallBuilder struct {
	replica *Replica
	in      Ingress
}

// NewCall starts an ingress call to method on target. The caller defaults
// to the anonymous principal.
func (r *Replica) NewCall(target principal.Principal, method string) *CallBuilder {
	return &CallBuilder{
		replica: r,
		in: Ingress{
			Target: target,
			Method: method,
			Caller: principal.Anonymous(),
		},
	}
}

func (b *CallBuilder) WithArg(data []byte) *CallBuilder {
	b.in.Arg = data
	return b
}

func (b *CallBuilder) WithCaller(p principal.Principal) *CallBuilder {
	b.in.Caller = p
	return b
}

func (b *CallBuilder) WithPayment(cycles uint64) *CallBuilder {
	b.in.Cycles = cycles
	return b
}

// AsQuery sends the message as a query call.
func (b *CallBuilder) AsQuery() *CallBuilder {
	b.in.Query = true
	return b
}

// Ingress returns the message built so far.
func (b *CallBuilder) Ingress() Ingress {
	return b.in
}

// Submit queues the call without waiting.
func (b *CallBuilder) Submit() *IngressCall {
	return b.replica.Submit(b.in)
}

// Perform submits the call and waits for its outcome.
func (b *CallBuilder) Perform(ctx context.Context) (canistersim.Outcome, error) {
	return b.replica.SubmitIngress(ctx, b.in)
}
