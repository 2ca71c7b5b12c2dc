package scenario

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	canistersim "github.com/wippyai/canister-sim"
	"github.com/wippyai/canister-sim/canister"
	"github.com/wippyai/canister-sim/errors"
	"github.com/wippyai/canister-sim/principal"
	"github.com/wippyai/canister-sim/runtime"
)

var rejectCodes = map[string]canistersim.RejectCode{
	canistersim.SysFatal.String():           canistersim.SysFatal,
	canistersim.SysTransient.String():       canistersim.SysTransient,
	canistersim.DestinationInvalid.String(): canistersim.DestinationInvalid,
	canistersim.CanisterReject.String():     canistersim.CanisterReject,
	canistersim.CanisterError.String():      canistersim.CanisterError,
}

type installed struct {
	decl   Canister
	entry  Entry
	handle *runtime.Handle
}

// Session is a replica populated from a scenario's canister list.
type Session struct {
	log       *zap.Logger
	replica   *runtime.Replica
	catalog   *Catalog
	clock     *runtime.ManualClock
	canisters map[string]*installed
	submitted map[string]*runtime.IngressCall
	submits   map[string]Step
	names     []string
}

// Open creates a replica from base overridden by s.Replica and installs
// the scenario's canisters. Canister ids are assigned in declaration
// order, so a factory may resolve any canister of the scenario.
func Open(ctx context.Context, s *Scenario, base runtime.Config, catalog *Catalog) (*Session, error) {
	if catalog == nil {
		catalog = Builtin()
	}
	cfg := base
	rs := s.Replica
	if rs.Deterministic != nil {
		cfg.Mode = runtime.ModeParallel
		if *rs.Deterministic {
			cfg.Mode = runtime.ModeDeterministic
		}
	}
	if rs.Workers > 0 {
		cfg.Workers = rs.Workers
	}
	if rs.HeapMaxPages > 0 {
		cfg.HeapMaxPages = rs.HeapMaxPages
	}
	if rs.StableMaxPages > 0 {
		cfg.StableMaxPages = rs.StableMaxPages
	}
	clock := runtime.NewManualClock(rs.Time)
	cfg.Clock = clock

	r, err := runtime.New(ctx, cfg)
	if err != nil {
		return nil, err
	}
	sess := &Session{
		log:       r.Config().Logger.With(zap.String("scenario", s.Name)),
		replica:   r,
		catalog:   catalog,
		clock:     clock,
		canisters: make(map[string]*installed, len(s.Canisters)),
		submitted: make(map[string]*runtime.IngressCall),
		submits:   make(map[string]Step),
	}

	ids := make(map[string]principal.Principal, len(s.Canisters))
	for i, c := range s.Canisters {
		ids[c.Name] = principal.FromCanisterID(uint64(i))
	}
	resolve := func(name string) (principal.Principal, bool) {
		id, ok := ids[name]
		return id, ok
	}

	for _, c := range s.Canisters {
		if err := sess.install(ctx, c, ids[c.Name], resolve); err != nil {
			_ = r.Close(ctx)
			return nil, err
		}
	}
	return sess, nil
}

func (s *Session) install(ctx context.Context, c Canister, id principal.Principal, resolve func(string) (principal.Principal, bool)) error {
	entry, ok := s.catalog.Lookup(c.Kind)
	if !ok {
		return errors.NotFound(errors.PhaseConfig, "canister kind", c.Kind)
	}
	logic, err := entry.Build(Env{Name: c.Name, Params: c.Params, Resolve: resolve})
	if err != nil {
		return err
	}

	var opts []runtime.AddOption
	if c.Balance > 0 {
		opts = append(opts, runtime.WithBalance(c.Balance))
	}
	h, err := s.replica.Add(ctx, logic, id, opts...)
	if err != nil {
		return err
	}

	initCodec := entry.InitCodec
	if initCodec == nil {
		initCodec = canister.Raw
	}
	arg, err := encodeValue(initCodec, c.Init)
	if err != nil {
		return err
	}
	out, err := h.Init(ctx, arg)
	if err != nil {
		return err
	}
	if !out.IsReply() {
		return errors.New(errors.PhaseConfig, errors.KindInstantiation).
			Canister(c.Name).
			Detail("init failed: %s", out).
			Cause(out.Err()).
			Build()
	}

	s.canisters[c.Name] = &installed{decl: c, entry: entry, handle: h}
	s.names = append(s.names, c.Name)
	s.log.Debug("canister installed",
		zap.String("name", c.Name),
		zap.String("kind", c.Kind),
		zap.Stringer("id", id))
	return nil
}

// Replica returns the underlying replica.
func (s *Session) Replica() *runtime.Replica {
	return s.replica
}

// Clock returns the replica clock.
func (s *Session) Clock() *runtime.ManualClock {
	return s.clock
}

// Canisters lists the installed canister names in declaration order.
func (s *Session) Canisters() []string {
	return append([]string(nil), s.names...)
}

// ID returns the id of a named canister.
func (s *Session) ID(name string) (principal.Principal, bool) {
	c, ok := s.canisters[name]
	if !ok {
		return principal.Principal{}, false
	}
	return c.handle.ID(), true
}

// Name returns the scenario name of a canister id, or its text form.
func (s *Session) Name(id principal.Principal) string {
	for name, c := range s.canisters {
		if c.handle.ID() == id {
			return name
		}
	}
	return id.Text()
}

// Close shuts the replica down.
func (s *Session) Close(ctx context.Context) error {
	return s.replica.Close(ctx)
}

// StepResult is the result of one executed step.
type StepResult struct {
	Err      error
	Step     Step
	Outcome  canistersim.Outcome
	Decoded  string
	Mismatch []string
	Index    int
	// HasOutcome is false for steps that produce no outcome, like drain.
	HasOutcome bool
}

// Failed reports whether the step errored or missed its expectation.
func (r StepResult) Failed() bool {
	return r.Err != nil || len(r.Mismatch) > 0
}

// Exec runs one step.
func (s *Session) Exec(ctx context.Context, st Step) StepResult {
	res := StepResult{Step: st}
	out, codec, err := s.exec(ctx, st)
	if err != nil {
		res.Err = err
		return res
	}
	if codec == nil {
		return res
	}
	res.HasOutcome = true
	res.Outcome = out
	res.Decoded = describe(codec, out)
	if st.Expect != nil {
		res.Mismatch = check(codec, st.Expect, out)
	}
	return res
}

func (s *Session) exec(ctx context.Context, st Step) (canistersim.Outcome, canister.Codec, error) {
	switch st.Action {
	case ActionCall, "":
		if st.Await != "" {
			ic, ok := s.submitted[st.Await]
			if !ok {
				return canistersim.Outcome{}, nil, errors.NotFound(errors.PhaseConfig, "submitted step", st.Await)
			}
			out, err := ic.Wait(ctx)
			return out, s.submitCodec(st.Await), err
		}
		b, codec, err := s.ingress(st)
		if err != nil {
			return canistersim.Outcome{}, nil, err
		}
		out, err := b.Perform(ctx)
		return out, codec, err

	case ActionSubmit:
		b, _, err := s.ingress(st)
		if err != nil {
			return canistersim.Outcome{}, nil, err
		}
		s.submitted[st.Label] = b.Submit()
		s.submits[st.Label] = st
		return canistersim.Outcome{}, nil, nil

	case ActionDrain:
		return canistersim.Outcome{}, nil, s.replica.Drain(ctx)

	case ActionTick:
		outs, err := s.replica.Tick(ctx)
		if err != nil {
			return canistersim.Outcome{}, nil, err
		}
		for id, out := range outs {
			if !out.IsReply() {
				return out, canister.Raw, errors.New(errors.PhaseConfig, errors.KindInvalidData).
					Canister(s.Name(id)).
					Detail("heartbeat failed: %s", out).
					Build()
			}
		}
		return canistersim.Outcome{}, nil, nil

	case ActionAdvance:
		s.clock.Advance(time.Duration(st.Nanos))
		return canistersim.Outcome{}, nil, nil

	case ActionUpgrade:
		c, err := s.lookup(st.Canister)
		if err != nil {
			return canistersim.Outcome{}, nil, err
		}
		kind := st.Kind
		if kind == "" {
			kind = c.decl.Kind
		}
		entry, ok := s.catalog.Lookup(kind)
		if !ok {
			return canistersim.Outcome{}, nil, errors.NotFound(errors.PhaseConfig, "canister kind", kind)
		}
		logic, err := entry.Build(Env{Name: c.decl.Name, Params: c.decl.Params, Resolve: s.ID})
		if err != nil {
			return canistersim.Outcome{}, nil, err
		}
		arg, err := encodeValue(entry.Codec(""), st.Arg)
		if err != nil {
			return canistersim.Outcome{}, nil, err
		}
		out, err := c.handle.Upgrade(ctx, logic, arg)
		if err == nil && out.IsReply() {
			c.entry = entry
			c.decl.Kind = kind
		}
		return out, canister.Raw, err

	case ActionRemove:
		c, err := s.lookup(st.Canister)
		if err != nil {
			return canistersim.Outcome{}, nil, err
		}
		return canistersim.Outcome{}, nil, s.replica.Remove(ctx, c.handle.ID())
	}
	return canistersim.Outcome{}, nil, errors.InvalidInput(errors.PhaseConfig, "unknown action "+st.Action)
}

func (s *Session) lookup(name string) (*installed, error) {
	c, ok := s.canisters[name]
	if !ok {
		return nil, errors.NotFound(errors.PhaseConfig, "canister", name)
	}
	return c, nil
}

func (s *Session) ingress(st Step) (*runtime.CallBuilder, canister.Codec, error) {
	c, err := s.lookup(st.Canister)
	if err != nil {
		return nil, nil, err
	}
	codec := c.entry.Codec(st.Method)
	arg, err := encodeValue(codec, st.Arg)
	if err != nil {
		return nil, nil, err
	}
	b := c.handle.NewCall(st.Method).WithArg(arg).WithPayment(st.Cycles)
	if st.Caller != "" {
		caller, ok := principal.Users[st.Caller]
		if !ok {
			return nil, nil, errors.NotFound(errors.PhaseConfig, "user", st.Caller)
		}
		b.WithCaller(caller)
	}
	if st.Query {
		b.AsQuery()
	}
	return b, codec, nil
}

// submitCodec is the codec of the method a submit step called.
func (s *Session) submitCodec(label string) canister.Codec {
	st, ok := s.submits[label]
	if !ok {
		return canister.Raw
	}
	c, ok := s.canisters[st.Canister]
	if !ok {
		return canister.Raw
	}
	return c.entry.Codec(st.Method)
}

func encodeValue(codec canister.Codec, v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return codec.Marshal(v)
}

// describe renders reply data with the codec the method uses.
func describe(codec canister.Codec, out canistersim.Outcome) string {
	if !out.IsReply() {
		return out.String()
	}
	if len(out.Data) == 0 {
		return "reply()"
	}
	if codec == canister.Raw {
		return fmt.Sprintf("reply(%q)", out.Data)
	}
	var v any
	if err := codec.Unmarshal(out.Data, &v); err != nil {
		return fmt.Sprintf("reply(%x)", out.Data)
	}
	return fmt.Sprintf("reply(%v)", v)
}

func check(codec canister.Codec, want *Expect, out canistersim.Outcome) []string {
	var diffs []string
	if want.Outcome != "" && want.Outcome != out.Kind.String() {
		diffs = append(diffs, fmt.Sprintf("outcome: want %s, got %s", want.Outcome, out.Kind))
	}
	if want.Code != "" {
		if code := rejectCodes[want.Code]; code != out.RejectCode() {
			diffs = append(diffs, fmt.Sprintf("code: want %s, got %s", code, out.RejectCode()))
		}
	}
	if want.Message != "" && !strings.Contains(out.Message, want.Message) {
		diffs = append(diffs, fmt.Sprintf("message: want %q in %q", want.Message, out.Message))
	}
	if want.Refund != nil && *want.Refund != out.CyclesRefunded {
		diffs = append(diffs, fmt.Sprintf("refund: want %d, got %d", *want.Refund, out.CyclesRefunded))
	}
	if want.Reply != nil {
		expected, err := encodeValue(codec, want.Reply)
		switch {
		case err != nil:
			diffs = append(diffs, "reply: "+err.Error())
		case !out.IsReply():
			diffs = append(diffs, fmt.Sprintf("reply: want %v, got %s", want.Reply, out))
		case !bytes.Equal(expected, out.Data):
			diffs = append(diffs, fmt.Sprintf("reply: want %v, got %s", want.Reply, describe(codec, out)))
		}
	}
	sort.Strings(diffs)
	return diffs
}
