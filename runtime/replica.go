package runtime

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/hashicorp/go-multierror"
	"github.com/rcrowley/go-metrics"
	"go.uber.org/zap"

	canistersim "github.com/wippyai/canister-sim"
	"github.com/wippyai/canister-sim/arena"
	"github.com/wippyai/canister-sim/callgraph"
	"github.com/wippyai/canister-sim/canister"
	"github.com/wippyai/canister-sim/engine"
	"github.com/wippyai/canister-sim/errors"
	"github.com/wippyai/canister-sim/principal"
)

// Replica hosts canister actors and schedules their messages.
type Replica struct {
	log     *zap.Logger
	engine  *engine.MemoryEngine
	graph   *callgraph.Graph
	sched   *scheduler
	metrics *replicaMetrics
	actors  map[principal.Principal]*actor
	done    chan struct{}
	cfg     Config
	nextID  atomic.Uint64
	mu      sync.RWMutex
	closed  atomic.Bool
}

// New creates a replica and starts its workers.
func New(ctx context.Context, cfg Config) (*Replica, error) {
	cfg = cfg.withDefaults()

	limit := max(cfg.HeapMaxPages, cfg.StableMaxPages)
	if limit > engine.MaxPages {
		return nil, errors.InvalidInput(errors.PhaseConfig, fmt.Sprintf("region cap %d exceeds %d pages", limit, engine.MaxPages))
	}
	eng, err := engine.NewMemoryEngine(ctx, &engine.Config{
		MemoryLimitPages:    limit,
		ReserveAddressSpace: cfg.ReserveAddressSpace,
	})
	if err != nil {
		return nil, err
	}

	m := newReplicaMetrics(cfg.Metrics)
	r := &Replica{
		cfg:     cfg,
		log:     cfg.Logger,
		engine:  eng,
		graph:   callgraph.New(),
		metrics: m,
		actors:  make(map[principal.Principal]*actor),
		done:    make(chan struct{}),
	}
	r.sched = newScheduler(cfg.Mode, cfg.Logger, m)
	r.sched.start(cfg.Workers)

	r.log.Debug("replica started",
		zap.Stringer("mode", cfg.Mode),
		zap.Uint32("heap_max_pages", cfg.HeapMaxPages),
		zap.Uint32("stable_max_pages", cfg.StableMaxPages))
	return r, nil
}

// Close stops the workers, aborts suspended tasks and releases every arena.
// Calls still in flight never complete; their waiters get errors.KindClosed.
func (r *Replica) Close(ctx context.Context) error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(r.done)

	var result *multierror.Error
	if err := r.sched.stop(); err != nil {
		result = multierror.Append(result, err)
	}

	// Deterministic pumps hold pumpMu while running lanes.
	r.sched.pumpMu.Lock()
	defer r.sched.pumpMu.Unlock()

	r.mu.Lock()
	actors := r.actors
	r.actors = make(map[principal.Principal]*actor)
	r.mu.Unlock()

	for _, a := range actors {
		for t := range a.suspended {
			delete(a.suspended, t)
			t.abort()
		}
		if err := a.arena.Close(ctx); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if err := r.graph.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := r.engine.Close(ctx); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

// AddOption customises a canister added with Add.
type AddOption func(*addOptions)

type addOptions struct {
	balance uint64
}

// WithBalance sets the initial cycle balance.
func WithBalance(cycles uint64) AddOption {
	return func(o *addOptions) {
		o.balance = cycles
	}
}

// Add registers canister logic under id. Use NextCanisterID for a fresh id.
func (r *Replica) Add(ctx context.Context, c *canister.Canister, id principal.Principal, opts ...AddOption) (*Handle, error) {
	if r.closed.Load() {
		return nil, errors.Closed(errors.PhaseReplica, "replica")
	}
	if c == nil {
		return nil, errors.InvalidInput(errors.PhaseReplica, "canister cannot be nil")
	}

	o := addOptions{balance: r.cfg.InitialBalance}
	for _, opt := range opts {
		opt(&o)
	}

	r.mu.RLock()
	_, exists := r.actors[id]
	r.mu.RUnlock()
	if exists {
		return nil, errors.Duplicate(errors.PhaseReplica, "canister", id.Text())
	}

	ar, err := arena.New(ctx, r.engine, arena.Config{
		Owner:          id.Text(),
		HeapMaxPages:   r.cfg.HeapMaxPages,
		StableMaxPages: r.cfg.StableMaxPages,
	})
	if err != nil {
		return nil, err
	}
	a := newActor(r, id, c, ar, o.balance)

	r.mu.Lock()
	if _, exists := r.actors[id]; exists {
		r.mu.Unlock()
		_ = ar.Close(ctx)
		return nil, errors.Duplicate(errors.PhaseReplica, "canister", id.Text())
	}
	r.actors[id] = a
	r.mu.Unlock()

	r.log.Debug("canister added", zap.String("canister", a.idText), zap.String("name", c.Name()))
	return &Handle{replica: r, actor: a}, nil
}

// NextCanisterID returns the next unused canister-id principal.
func (r *Replica) NextCanisterID() principal.Principal {
	for {
		id := principal.FromCanisterID(r.nextID.Add(1) - 1)
		r.mu.RLock()
		_, taken := r.actors[id]
		r.mu.RUnlock()
		if !taken {
			return id
		}
	}
}

// Install adds c under the next canister id and runs its init entry.
func (r *Replica) Install(ctx context.Context, c *canister.Canister, arg []byte, opts ...AddOption) (*Handle, error) {
	h, err := r.Add(ctx, c, r.NextCanisterID(), opts...)
	if err != nil {
		return nil, err
	}
	out, err := h.Init(ctx, arg)
	if err != nil {
		return nil, err
	}
	if !out.IsReply() {
		return h, out.Err()
	}
	return h, nil
}

// Remove unregisters a canister. Messages already queued for it are
// rejected, suspended tasks are aborted and its arena is released.
func (r *Replica) Remove(ctx context.Context, id principal.Principal) error {
	r.mu.Lock()
	a, ok := r.actors[id]
	if ok {
		delete(r.actors, id)
	}
	r.mu.Unlock()
	if !ok {
		return errors.NotFound(errors.PhaseReplica, "canister", id.Text())
	}

	errc := make(chan error, 1)
	done := make(chan struct{})
	a.lane.push(message{kind: msgSystem, system: func(a *actor) {
		errc <- a.shutdown(ctx, fmt.Sprintf("canister %s was removed", a.idText))
		close(done)
	}})
	if err := r.sched.await(ctx, done); err != nil {
		return err
	}
	r.log.Debug("canister removed", zap.String("canister", a.idText))
	return <-errc
}

// Handle returns the handle of a registered canister.
func (r *Replica) Handle(id principal.Principal) (*Handle, bool) {
	a, ok := r.actor(id)
	if !ok {
		return nil, false
	}
	return &Handle{replica: r, actor: a}, true
}

// Canisters returns the registered canister ids in ascending order.
func (r *Replica) Canisters() []principal.Principal {
	r.mu.RLock()
	ids := make([]principal.Principal, 0, len(r.actors))
	for id := range r.actors {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i].Compare(ids[j]) < 0 })
	return ids
}

func (r *Replica) actor(id principal.Principal) (*actor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.actors[id]
	return a, ok
}

// Drain runs or waits for every queued message until the replica is
// quiescent. Calls whose callee never responds stay pending; see
// PendingCalls.
func (r *Replica) Drain(ctx context.Context) error {
	if r.closed.Load() {
		return errors.Closed(errors.PhaseReplica, "replica")
	}
	return r.sched.drain(ctx)
}

// PendingCalls returns the call-graph nodes still open, oldest slot first.
func (r *Replica) PendingCalls() []callgraph.Info {
	var infos []callgraph.Info
	r.graph.Each(func(info callgraph.Info) bool {
		infos = append(infos, info)
		return true
	})
	return infos
}

// Tick runs the heartbeat of every canister that defines one and waits
// for all of them.
func (r *Replica) Tick(ctx context.Context) (map[principal.Principal]canistersim.Outcome, error) {
	calls := make(map[principal.Principal]*IngressCall)
	for _, id := range r.Canisters() {
		a, ok := r.actor(id)
		if !ok || a.Logic().Heartbeat() == nil {
			continue
		}
		calls[id] = r.submitSystem(a, canister.EntryHeartbeat, nil, nil, principal.Management())
	}

	outs := make(map[principal.Principal]canistersim.Outcome, len(calls))
	for id, c := range calls {
		out, err := c.Wait(ctx)
		if err != nil {
			return outs, err
		}
		outs[id] = out
	}
	return outs, nil
}

// Subscribe registers an observer of call-graph events.
func (r *Replica) Subscribe(o callgraph.Observer) {
	r.graph.Subscribe(o)
}

// Unsubscribe removes an observer.
func (r *Replica) Unsubscribe(o callgraph.Observer) {
	r.graph.Unsubscribe(o)
}

// Metrics returns the registry the replica reports to.
func (r *Replica) Metrics() metrics.Registry {
	return r.cfg.Metrics
}

// Config returns the effective configuration.
func (r *Replica) Config() Config {
	return r.cfg
}

// respond resolves call with out and hands it to the waiting party.
// Remaining attached cycles travel back as the refund.
func (r *Replica) respond(call *callContext, out canistersim.Outcome) {
	call.replied = true
	out = out.WithRefund(call.cycles)
	call.cycles = 0

	if call.id != 0 {
		if err := r.graph.Resolve(call.id, out); err != nil {
			panic(errors.Invariant(errors.PhaseSchedule, fmt.Sprintf("resolve call %d: %v", call.id, err)))
		}
	}
	r.metrics.resolved(out)
	call.deliver(out)
}

// dispatch sends a performed call to its target lane.
func (r *Replica) dispatch(p *pendingCall) {
	id, err := r.graph.Open(callgraph.KindInterCanister, p.ctx.id, p)
	if err != nil {
		panic(errors.Invariant(errors.PhaseSchedule, "open call: "+err.Error()))
	}
	p.id = id
	r.metrics.calls.Inc(1)

	call := &callContext{
		id:     id,
		kind:   callgraph.KindInterCanister,
		caller: p.caller.id,
		target: p.target,
		method: p.method,
		arg:    p.arg,
		cycles: p.payment,
		deliver: func(out canistersim.Outcome) {
			p.caller.lane.push(message{kind: msgResponse, pending: p, outcome: out})
		},
	}

	target, ok := r.actor(p.target)
	if !ok {
		r.respond(call, canistersim.Reject(canistersim.DestinationInvalid,
			fmt.Sprintf("canister %s does not exist", p.target.Text())))
		return
	}
	target.lane.push(message{kind: msgRequest, call: call})
}

// submitRoot opens a root node for call and queues it on a.
func (r *Replica) submitRoot(a *actor, call *callContext) *IngressCall {
	ic := newIngressCall(r)
	if r.closed.Load() {
		ic.complete(canistersim.Reject(canistersim.SysFatal, "replica is closed"))
		return ic
	}

	id, err := r.graph.Open(call.kind, 0, call)
	if err != nil {
		ic.complete(canistersim.Reject(canistersim.SysFatal, err.Error()))
		return ic
	}
	call.id = id
	ic.id = id
	call.deliver = func(out canistersim.Outcome) {
		if err := r.graph.Settle(id); err != nil {
			panic(errors.Invariant(errors.PhaseSchedule, "settle root: "+err.Error()))
		}
		ic.complete(out)
	}

	if a == nil {
		r.respond(call, canistersim.Reject(canistersim.DestinationInvalid,
			fmt.Sprintf("canister %s does not exist", call.target.Text())))
		return ic
	}
	a.lane.push(message{kind: msgRequest, call: call})
	return ic
}

// submitSystem queues a lifecycle or task entry on a's lane.
func (r *Replica) submitSystem(a *actor, entry canister.EntryMode, h canister.Handler, arg []byte, caller principal.Principal) *IngressCall {
	kind := callgraph.KindSystem
	if entry == canister.EntryTask {
		kind = callgraph.KindTask
	}
	call := &callContext{
		kind:   kind,
		caller: caller,
		target: a.id,
		entry:  entry,
		arg:    arg,
	}
	call.handler = h
	if h == nil {
		call.run = func(a *actor, call *callContext) {
			h := hookFor(a.Logic(), entry)
			if h == nil {
				r.respond(call, canistersim.Reply(nil))
				return
			}
			a.contexts[call.id] = call
			a.start(call, entry, h, call.arg, nil)
		}
	}
	return r.submitRoot(a, call)
}

func hookFor(c *canister.Canister, entry canister.EntryMode) canister.Handler {
	switch entry {
	case canister.EntryInit:
		return c.Init()
	case canister.EntryHeartbeat:
		return c.Heartbeat()
	case canister.EntryPreUpgrade:
		return c.PreUpgrade()
	case canister.EntryPostUpgrade:
		return c.PostUpgrade()
	}
	return nil
}
