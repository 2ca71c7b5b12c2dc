package runtime

import (
	"errors"
	"fmt"
	goruntime "runtime"
	"sync"
	"testing"

	"github.com/rcrowley/go-metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	canistersim "github.com/wippyai/canister-sim"
	"github.com/wippyai/canister-sim/arena"
	"github.com/wippyai/canister-sim/callgraph"
	"github.com/wippyai/canister-sim/canister"
	simerrors "github.com/wippyai/canister-sim/errors"
	"github.com/wippyai/canister-sim/principal"
)

func TestEchoRoundTrip(t *testing.T) {
	for _, mode := range modesUnderTest {
		t.Run(mode.String(), func(t *testing.T) {
			r := newTestReplica(t, mode)
			h := install(t, r, echoCanister())

			out, err := h.NewCall("echo").WithArg([]byte("hello")).Perform(testContext(t))
			require.NoError(t, err)
			require.True(t, out.IsReply(), out.String())
			assert.Equal(t, []byte("hello"), out.Data)
			assert.Empty(t, r.PendingCalls())
		})
	}
}

func TestForwardAddOne(t *testing.T) {
	for _, mode := range modesUnderTest {
		t.Run(mode.String(), func(t *testing.T) {
			r := newTestReplica(t, mode)
			b := install(t, r, adderCanister())
			a := install(t, r, forwarderCanister(b.ID()))

			out, err := a.NewCall("forward").Perform(testContext(t))
			require.NoError(t, err)
			require.True(t, out.IsReply(), out.String())

			got, err := canister.Decode[int](canister.CBOR, out.Data)
			require.NoError(t, err)
			assert.Equal(t, 6, got)
		})
	}
}

func TestUnknownDestination(t *testing.T) {
	r := newTestReplica(t, ModeParallel)

	out, err := r.NewCall(principal.FromCanisterID(999), "anything").Perform(testContext(t))
	require.NoError(t, err)
	require.True(t, out.IsReject(), out.String())
	assert.Equal(t, canistersim.DestinationNotFound, out.Code)
}

func TestUnknownMethod(t *testing.T) {
	r := newTestReplica(t, ModeDeterministic)
	h := install(t, r, echoCanister())

	out, err := h.NewCall("missing").WithPayment(40).Perform(testContext(t))
	require.NoError(t, err)
	require.True(t, out.IsReject())
	assert.Equal(t, canistersim.DestinationInvalid, out.Code)
	assert.Contains(t, out.Message, "no update method 'missing'")
	assert.Equal(t, uint64(40), out.CyclesRefunded)
}

func TestTrapDoesNotCrash(t *testing.T) {
	c := canister.New("trapper").
		Update("panic", func(canister.System) { panic("boom") }).
		Update("trap", func(sys canister.System) { sys.Trap("told to") }).
		Update("swallow", func(sys canister.System) {
			func() {
				defer func() { _ = recover() }()
				sys.Trap("caught")
			}()
			_ = sys.Reply(nil)
		}).
		Update("exit", func(canister.System) { goruntime.Goexit() }).
		Update("ok", func(sys canister.System) { _ = sys.Reply([]byte("fine")) })

	for _, mode := range modesUnderTest {
		t.Run(mode.String(), func(t *testing.T) {
			r := newTestReplica(t, mode)
			h := install(t, r, c)
			ctx := testContext(t)

			tests := []struct {
				method string
				want   string
			}{
				{"panic", "canister trapped: boom"},
				{"trap", "canister trapped explicitly: told to"},
				{"swallow", "canister trapped explicitly: caught"},
				{"exit", "canister trapped: goroutine exited"},
			}
			for _, tt := range tests {
				out, err := h.NewCall(tt.method).Perform(ctx)
				require.NoError(t, err)
				require.True(t, out.IsTrap(), "%s: %s", tt.method, out)
				assert.Equal(t, tt.want, out.Message)
				assert.Equal(t, canistersim.CanisterError, out.RejectCode())
			}

			out, err := h.NewCall("ok").Perform(ctx)
			require.NoError(t, err)
			assert.Equal(t, []byte("fine"), out.Data)
		})
	}
}

func TestNoReply(t *testing.T) {
	r := newTestReplica(t, ModeParallel)
	h := install(t, r, canister.New("silent").Update("nothing", func(canister.System) {}))

	out, err := h.NewCall("nothing").Perform(testContext(t))
	require.NoError(t, err)
	require.True(t, out.IsReject())
	assert.Equal(t, canistersim.CanisterError, out.Code)
	assert.Equal(t, "canister did not reply to the call", out.Message)
}

func TestReplyAtMostOnce(t *testing.T) {
	r := newTestReplica(t, ModeParallel)
	echo := install(t, r, echoCanister())

	var second, reject, late error
	c := canister.New("twice").
		Update("twice", func(sys canister.System) {
			must(sys, sys.Reply([]byte("a")))
			second = sys.Reply([]byte("b"))
			reject = sys.Reject("c")
		}).
		Update("early", func(sys canister.System) {
			must(sys, sys.Reply([]byte("early")))
			_, err := sys.Call(echo.ID(), "echo").
				OnReply(func(sys canister.System) { late = sys.Reply(nil) }).
				Perform()
			must(sys, err)
		})
	h := install(t, r, c)
	ctx := testContext(t)

	out, err := h.NewCall("twice").Perform(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("a"), out.Data)
	assert.True(t, errors.Is(second, simerrors.ErrAlreadyReplied), "second reply: %v", second)
	assert.True(t, errors.Is(reject, simerrors.ErrAlreadyReplied), "reject after reply: %v", reject)

	out, err = h.NewCall("early").Perform(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("early"), out.Data)
	require.NoError(t, r.Drain(ctx))
	assert.True(t, errors.Is(late, simerrors.ErrAlreadyReplied), "callback reply: %v", late)
	assert.Empty(t, r.PendingCalls())
}

func TestLaneFIFO(t *testing.T) {
	const n = 50
	c := canister.New("log").
		WithInit(growHeap).
		Update("append", func(sys canister.System) {
			heap := sys.Heap()
			count, err := heap.ReadU32(0)
			must(sys, err)
			arg, err := sys.ArgData()
			must(sys, err)
			must(sys, heap.WriteU8(4+count, arg[0]))
			must(sys, heap.WriteU32(0, count+1))
			must(sys, sys.Reply(nil))
		})

	for _, mode := range modesUnderTest {
		t.Run(mode.String(), func(t *testing.T) {
			r := newTestReplica(t, mode)
			h := install(t, r, c)
			ctx := testContext(t)

			calls := make([]*IngressCall, n)
			for i := range calls {
				calls[i] = h.NewCall("append").WithArg([]byte{byte(i)}).Submit()
			}
			require.NoError(t, r.Drain(ctx))

			for i, call := range calls {
				out, ok := call.Outcome()
				require.True(t, ok, "call %d not complete", i)
				require.True(t, out.IsReply(), out.String())
			}

			got, err := h.Arena().Heap().Read(4, n)
			require.NoError(t, err)
			for i := range got {
				assert.Equal(t, byte(i), got[i])
			}
		})
	}
}

func TestInspectMessageAllOrNothing(t *testing.T) {
	c := canister.New("guarded").
		WithInit(growHeap).
		WithInspectMessage(func(sys canister.System) bool {
			// Neither of these may take effect.
			_ = sys.Heap().WriteU8(1, 9)
			_, _ = sys.CyclesAccept(100)
			name, _ := sys.MethodName()
			return name != "blocked"
		}).
		Update("open", func(sys canister.System) {
			must(sys, sys.Heap().WriteU8(0, 1))
			must(sys, sys.Reply(nil))
		}).
		Update("blocked", func(sys canister.System) {
			must(sys, sys.Heap().WriteU8(0, 2))
			must(sys, sys.Reply(nil))
		})

	r := newTestReplica(t, ModeParallel)
	h := install(t, r, c)
	ctx := testContext(t)

	before := h.Arena().Snapshot()
	balance := h.Balance()

	out, err := h.NewCall("blocked").WithPayment(100).Perform(ctx)
	require.NoError(t, err)
	require.True(t, out.IsReject(), out.String())
	assert.Equal(t, canistersim.CanisterReject, out.Code)
	assert.Equal(t, uint64(100), out.CyclesRefunded)

	assert.True(t, before.Equal(h.Arena().Snapshot()), "arena changed by a rejected message")
	assert.Equal(t, balance, h.Balance())

	out, err = h.NewCall("open").Perform(ctx)
	require.NoError(t, err)
	require.True(t, out.IsReply())
	b0, err := h.Arena().Heap().ReadU8(0)
	require.NoError(t, err)
	b1, err := h.Arena().Heap().ReadU8(1)
	require.NoError(t, err)
	assert.Equal(t, uint8(1), b0)
	assert.Equal(t, uint8(0), b1)
}

func TestInspectTrapRejects(t *testing.T) {
	c := canister.New("strict").
		WithInspectMessage(func(sys canister.System) bool { panic("no entry") }).
		Update("go", func(sys canister.System) { _ = sys.Reply(nil) })

	r := newTestReplica(t, ModeDeterministic)
	h := install(t, r, c)

	out, err := h.NewCall("go").Perform(testContext(t))
	require.NoError(t, err)
	require.True(t, out.IsReject())
	assert.Equal(t, canistersim.CanisterReject, out.Code)
	assert.Contains(t, out.Message, "no entry")
}

func TestConcurrentIndependentIngress(t *testing.T) {
	r := newTestReplica(t, ModeParallel)
	a := install(t, r, echoCanister())
	b := install(t, r, adderCanister())
	ctx := testContext(t)

	var wg sync.WaitGroup
	var ca, cb *IngressCall
	wg.Add(2)
	go func() {
		defer wg.Done()
		cb = b.NewCall("add_one").WithArg(canister.MustEncode(canister.CBOR, 41)).Submit()
	}()
	go func() {
		defer wg.Done()
		ca = a.NewCall("echo").WithArg([]byte("x")).Submit()
	}()
	wg.Wait()
	require.NoError(t, r.Drain(ctx))

	outA, ok := ca.Outcome()
	require.True(t, ok)
	assert.Equal(t, []byte("x"), outA.Data)

	outB, ok := cb.Outcome()
	require.True(t, ok)
	got, err := canister.Decode[int](canister.CBOR, outB.Data)
	require.NoError(t, err)
	assert.Equal(t, 42, got)
}

func TestSelfAndMutualRecursion(t *testing.T) {
	countdown := canister.New("countdown").Update("countdown", canister.Typed(canister.CBOR,
		func(sys canister.System, n int) (int, error) {
			if n == 0 {
				return 0, nil
			}
			v, err := canister.CallTyped[int, int](sys, canister.CBOR, sys.Self(), "countdown", n-1)
			return v + 1, err
		}))

	var aID, bID principal.Principal
	pingPong := func(name, method, other string, peer *principal.Principal) *canister.Canister {
		return canister.New(name).Update(method, canister.Typed(canister.CBOR,
			func(sys canister.System, n int) (int, error) {
				if n == 0 {
					return 0, nil
				}
				v, err := canister.CallTyped[int, int](sys, canister.CBOR, *peer, other, n-1)
				return v + 1, err
			}))
	}

	for _, mode := range modesUnderTest {
		t.Run(mode.String(), func(t *testing.T) {
			r := newTestReplica(t, mode)
			ctx := testContext(t)

			h := install(t, r, countdown)
			out, err := h.NewCall("countdown").WithArg(canister.MustEncode(canister.CBOR, 10)).Perform(ctx)
			require.NoError(t, err)
			require.True(t, out.IsReply(), out.String())
			got, err := canister.Decode[int](canister.CBOR, out.Data)
			require.NoError(t, err)
			assert.Equal(t, 10, got)

			aID = r.NextCanisterID()
			ha, err := r.Add(ctx, pingPong("a", "ping", "pong", &bID), aID)
			require.NoError(t, err)
			hb := install(t, r, pingPong("b", "pong", "ping", &aID))
			bID = hb.ID()

			out, err = ha.NewCall("ping").WithArg(canister.MustEncode(canister.CBOR, 7)).Perform(ctx)
			require.NoError(t, err)
			require.True(t, out.IsReply(), out.String())
			got, err = canister.Decode[int](canister.CBOR, out.Data)
			require.NoError(t, err)
			assert.Equal(t, 7, got)
			assert.Empty(t, r.PendingCalls())
		})
	}
}

func TestCallbackContinuations(t *testing.T) {
	r := newTestReplica(t, ModeParallel)
	echo := install(t, r, echoCanister())

	c := canister.New("callbacks").
		Update("shout", func(sys canister.System) {
			_, err := sys.Call(echo.ID(), "echo").
				WithArg([]byte("hi")).
				OnReply(func(sys canister.System) {
					data, err := sys.ArgData()
					must(sys, err)
					must(sys, sys.Reply(append(data, '!')))
				}).
				Perform()
			must(sys, err)
		}).
		Update("lost", func(sys canister.System) {
			_, err := sys.Call(principal.FromCanisterID(12345), "echo").
				OnReject(func(sys canister.System) {
					code, err := sys.RejectCode()
					must(sys, err)
					must(sys, sys.Reply([]byte{byte(code)}))
				}).
				Perform()
			must(sys, err)
		}).
		Update("cleanup", func(sys canister.System) {
			_, err := sys.Call(echo.ID(), "echo").
				OnReply(func(sys canister.System) { sys.Trap("callback failed") }).
				OnCleanup(func(sys canister.System) {
					growStable(sys)
					must(sys, sys.StableWrite(0, []byte{1}))
				}).
				Perform()
			must(sys, err)
		})
	h := install(t, r, c)
	ctx := testContext(t)

	out, err := h.NewCall("shout").Perform(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("hi!"), out.Data)

	out, err = h.NewCall("lost").Perform(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte{byte(canistersim.DestinationInvalid)}, out.Data)

	out, err = h.NewCall("cleanup").Perform(ctx)
	require.NoError(t, err)
	require.True(t, out.IsTrap(), out.String())
	assert.Equal(t, "canister trapped explicitly: callback failed", out.Message)
	marker, err := h.Arena().Stable().ReadU8(0)
	require.NoError(t, err)
	assert.Equal(t, uint8(1), marker)
}

func TestAwaitPresentsRejects(t *testing.T) {
	r := newTestReplica(t, ModeDeterministic)
	trapper := install(t, r, canister.New("t").Update("fail", func(sys canister.System) { sys.Trap("bad") }))

	c := canister.New("caller").Update("call", func(sys canister.System) {
		p, err := sys.Call(trapper.ID(), "fail").Perform()
		must(sys, err)
		out, err := p.Await()
		must(sys, err)
		code, err := sys.RejectCode()
		must(sys, err)
		msg, err := sys.RejectMessage()
		must(sys, err)
		must(sys, sys.Reply([]byte(fmt.Sprintf("%v|%s|%s", out.IsTrap(), code, msg))))
	})
	h := install(t, r, c)

	out, err := h.NewCall("call").Perform(testContext(t))
	require.NoError(t, err)
	want := fmt.Sprintf("true|%s|canister trapped explicitly: bad", canistersim.CanisterError)
	assert.Equal(t, want, string(out.Data))
}

func TestCyclesAccounting(t *testing.T) {
	r := newTestReplica(t, ModeParallel)
	ctx := testContext(t)

	bank := install(t, r, canister.New("bank").Update("take", func(sys canister.System) {
		_, err := sys.CyclesAccept(400)
		must(sys, err)
		must(sys, sys.Reply(nil))
	}))

	var refunded uint64
	payer := install(t, r, canister.New("payer").
		Update("pay", func(sys canister.System) {
			p, err := sys.Call(bank.ID(), "take").WithPayment(1000).Perform()
			must(sys, err)
			_, err = p.Await()
			must(sys, err)
			refunded, err = sys.CyclesRefunded()
			must(sys, err)
			must(sys, sys.Reply(nil))
		}).
		Update("greedy", func(sys canister.System) {
			_, err := sys.CyclesAccept(30)
			must(sys, err)
			_, err = sys.Call(bank.ID(), "take").WithPayment(10).Perform()
			must(sys, err)
			sys.Trap("changed my mind")
		}))

	start := payer.Balance()
	bankStart := bank.Balance()

	out, err := payer.NewCall("pay").Perform(ctx)
	require.NoError(t, err)
	require.True(t, out.IsReply(), out.String())
	assert.Equal(t, uint64(600), refunded)
	assert.Equal(t, start-1000-MaxCyclesPerResponse+600, payer.Balance())
	assert.Equal(t, bankStart+400, bank.Balance())

	start = payer.Balance()
	out, err = payer.NewCall("greedy").WithPayment(50).Perform(ctx)
	require.NoError(t, err)
	require.True(t, out.IsTrap(), out.String())
	assert.Equal(t, uint64(50), out.CyclesRefunded)
	require.NoError(t, r.Drain(ctx))
	assert.Equal(t, start, payer.Balance())
	assert.Equal(t, bankStart+400, bank.Balance())
}

func TestInsufficientCycles(t *testing.T) {
	r := newTestReplica(t, ModeDeterministic)
	echo := install(t, r, echoCanister())

	var performErr error
	poor := install(t, r, canister.New("poor").Update("call", func(sys canister.System) {
		_, performErr = sys.Call(echo.ID(), "echo").Perform()
		must(sys, sys.Reply(nil))
	}), WithBalance(5))

	out, err := poor.NewCall("call").Perform(testContext(t))
	require.NoError(t, err)
	require.True(t, out.IsReply())
	assert.True(t, errors.Is(performErr, simerrors.ErrInsufficientCycles), "got %v", performErr)
	assert.Equal(t, uint64(5), poor.Balance())
}

func TestQueryIsReadOnly(t *testing.T) {
	c := canister.New("q").
		WithInit(growHeap).
		Query("peek", func(sys canister.System) {
			werr := sys.Heap().WriteU8(0, 7)
			_, cerr := sys.Call(sys.Self(), "peek").Perform()
			_, gerr := sys.StableGrow(1)
			_, aerr := sys.CyclesAccept(1)
			msg := fmt.Sprintf("%v|%v|%v|%v",
				errors.Is(werr, simerrors.ErrReadOnly),
				errors.Is(cerr, simerrors.ErrForbidden),
				errors.Is(gerr, simerrors.ErrReadOnly),
				errors.Is(aerr, simerrors.ErrForbidden))
			must(sys, sys.Reply([]byte(msg)))
		}).
		Update("poke", func(sys canister.System) {
			must(sys, sys.Heap().WriteU8(0, 7))
			must(sys, sys.Reply(nil))
		})

	r := newTestReplica(t, ModeParallel)
	h := install(t, r, c)
	ctx := testContext(t)

	for _, asQuery := range []bool{true, false} {
		b := h.NewCall("peek")
		if asQuery {
			b.AsQuery()
		}
		out, err := b.Perform(ctx)
		require.NoError(t, err)
		require.True(t, out.IsReply(), out.String())
		assert.Equal(t, "true|true|true|true", string(out.Data))
	}
	v, err := h.Arena().Heap().ReadU8(0)
	require.NoError(t, err)
	assert.Equal(t, uint8(0), v)
	assert.Equal(t, uint32(0), h.Arena().Stable().Pages())

	out, err := h.NewCall("poke").AsQuery().Perform(ctx)
	require.NoError(t, err)
	require.True(t, out.IsReject())
	assert.Equal(t, canistersim.DestinationInvalid, out.Code)
	assert.Contains(t, out.Message, "no query method 'poke'")
}

func TestEntryModePermissions(t *testing.T) {
	clock := NewManualClock(42)
	r, err := New(testContext(t), Config{Mode: ModeDeterministic, HeapMaxPages: 4, StableMaxPages: 4, Clock: clock})
	require.NoError(t, err)
	defer r.Close(testContext(t))

	var captured canister.System
	var rejectMsgErr, refundedErr error
	c := canister.New("perm").Update("look", func(sys canister.System) {
		captured = sys
		_, rejectMsgErr = sys.RejectMessage()
		_, refundedErr = sys.CyclesRefunded()
		caller, err := sys.Caller()
		must(sys, err)
		now, err := sys.Time()
		must(sys, err)
		must(sys, sys.Reply([]byte(fmt.Sprintf("%s@%d:%s", caller, now, sys.EntryMode()))))
	})
	h, err := r.Install(testContext(t), c, nil)
	require.NoError(t, err)

	alice := principal.Alice
	out, err := h.NewCall("look").WithCaller(alice).Perform(testContext(t))
	require.NoError(t, err)
	assert.Equal(t, alice.String()+"@42:canister_update", string(out.Data))
	assert.True(t, errors.Is(rejectMsgErr, simerrors.ErrForbidden), "%v", rejectMsgErr)
	assert.True(t, errors.Is(refundedErr, simerrors.ErrForbidden), "%v", refundedErr)

	// The step is over; the handle is dead.
	_, err = captured.ArgData()
	assert.True(t, errors.Is(err, simerrors.ErrOutsideContext), "%v", err)
	assert.Equal(t, canister.EntryNone, captured.EntryMode())

	clock.Advance(8)
	out, err = h.NewCall("look").Perform(testContext(t))
	require.NoError(t, err)
	assert.Equal(t, principal.Anonymous().String()+"@50:canister_update", string(out.Data))
}

func TestUpgrade(t *testing.T) {
	version := func(v string) canister.Handler {
		return func(sys canister.System) { _ = sys.Reply([]byte(v)) }
	}
	v1 := canister.New("v1").
		WithInit(func(sys canister.System) {
			growStable(sys)
			must(sys, sys.StableWrite(0, []byte("keep")))
			growHeap(sys)
			must(sys, sys.Heap().Write(0, []byte("temp")))
		}).
		WithPreUpgrade(func(sys canister.System) {
			must(sys, sys.StableWrite(4, []byte("!")))
		}).
		Update("version", version("v1"))
	v2 := canister.New("v2").
		WithPostUpgrade(func(sys canister.System) {
			buf := make([]byte, 5)
			must(sys, sys.StableRead(0, buf))
			if string(buf) != "keep!" {
				sys.Trap("stable memory lost: " + string(buf))
			}
			arg, err := sys.ArgData()
			must(sys, err)
			growHeap(sys)
			must(sys, sys.Heap().Write(0, arg))
		}).
		Update("version", version("v2"))
	broken := canister.New("broken").
		WithPostUpgrade(func(sys canister.System) {
			must(sys, sys.StableWrite(0, []byte("XXXX")))
			sys.Trap("refusing")
		}).
		Update("version", version("broken"))

	r := newTestReplica(t, ModeParallel)
	h := install(t, r, v1)
	ctx := testContext(t)

	out, err := h.Upgrade(ctx, v2, []byte("arg"))
	require.NoError(t, err)
	require.True(t, out.IsReply(), out.String())

	out, err = h.NewCall("version").Perform(ctx)
	require.NoError(t, err)
	assert.Equal(t, "v2", string(out.Data))
	heap, err := h.Arena().Heap().Read(0, 4)
	require.NoError(t, err)
	assert.Equal(t, []byte("arg\x00"), heap, "heap must be reset before post_upgrade")

	before := h.Arena().Snapshot()
	out, err = h.Upgrade(ctx, broken, nil)
	require.NoError(t, err)
	require.True(t, out.IsTrap(), out.String())
	assert.Equal(t, "canister trapped explicitly: refusing", out.Message)
	assert.True(t, before.Equal(h.Arena().Snapshot()), "failed upgrade must restore the arena")

	out, err = h.NewCall("version").Perform(ctx)
	require.NoError(t, err)
	assert.Equal(t, "v2", string(out.Data))
	assert.Equal(t, "v2", h.Logic().Name())
}

func TestRemove(t *testing.T) {
	for _, mode := range modesUnderTest {
		t.Run(mode.String(), func(t *testing.T) {
			r := newTestReplica(t, mode)
			ctx := testContext(t)
			echo := install(t, r, echoCanister())
			fwd := install(t, r, canister.New("fwd").Update("relay", func(sys canister.System) {
				p, err := sys.Call(echo.ID(), "echo").WithArg([]byte("x")).Perform()
				must(sys, err)
				out, err := p.Await()
				must(sys, err)
				must(sys, sys.Reply([]byte(out.String())))
			}))

			require.NoError(t, r.Remove(ctx, echo.ID()))
			assert.NotContains(t, r.Canisters(), echo.ID())

			out, err := echo.NewCall("echo").Perform(ctx)
			require.NoError(t, err)
			assert.Equal(t, canistersim.DestinationInvalid, out.Code)

			out, err = fwd.NewCall("relay").Perform(ctx)
			require.NoError(t, err)
			assert.Contains(t, string(out.Data), "does not exist")

			err = r.Remove(ctx, echo.ID())
			assert.True(t, errors.Is(err, simerrors.ErrNotFound), "%v", err)
			_, err = echo.Init(ctx, nil)
			assert.True(t, errors.Is(err, simerrors.ErrNotFound), "%v", err)
		})
	}
}

func TestAddDuplicate(t *testing.T) {
	r := newTestReplica(t, ModeParallel)
	ctx := testContext(t)
	id := principal.FromCanisterID(7)

	_, err := r.Add(ctx, echoCanister(), id)
	require.NoError(t, err)
	_, err = r.Add(ctx, echoCanister(), id)
	assert.True(t, errors.Is(err, simerrors.ErrDuplicate), "%v", err)

	h, ok := r.Handle(id)
	require.True(t, ok)
	assert.Equal(t, id, h.ID())
}

func TestTickAndTasks(t *testing.T) {
	r := newTestReplica(t, ModeDeterministic)
	ctx := testContext(t)

	beat := install(t, r, canister.New("beat").
		WithInit(growStable).
		WithHeartbeat(func(sys canister.System) {
			buf := make([]byte, 1)
			must(sys, sys.StableRead(0, buf))
			buf[0]++
			must(sys, sys.StableWrite(0, buf))
		}))
	echo := install(t, r, echoCanister())

	for i := 0; i < 2; i++ {
		outs, err := r.Tick(ctx)
		require.NoError(t, err)
		require.Len(t, outs, 1)
		assert.True(t, outs[beat.ID()].IsReply())
	}

	err := beat.Inspect(ctx, func(ar *arena.Arena) error {
		v, err := ar.Stable().ReadU8(0)
		if err != nil {
			return err
		}
		if v != 2 {
			return fmt.Errorf("heartbeat count = %d, want 2", v)
		}
		return nil
	})
	require.NoError(t, err)

	out, err := beat.Run(ctx, func(sys canister.System) {
		p, err := sys.Call(echo.ID(), "echo").WithArg([]byte("from task")).Perform()
		must(sys, err)
		res, err := p.Await()
		must(sys, err)
		must(sys, sys.Reply(res.Data))
	})
	require.NoError(t, err)
	assert.Equal(t, []byte("from task"), out.Data)

	out, err = beat.Run(ctx, func(canister.System) {})
	require.NoError(t, err)
	assert.True(t, out.IsReply())
	assert.Nil(t, out.Data)
}

func TestDeterministicTrace(t *testing.T) {
	trace := func() []string {
		r := newTestReplica(t, ModeDeterministic)
		var events []string
		r.Subscribe(callgraph.ObserverFunc(func(e callgraph.Event) {
			events = append(events, fmt.Sprintf("%s %s %d<-%d", e.Type, e.Kind, e.ID, e.Parent))
		}))
		ctx := testContext(t)
		b := install(t, r, adderCanister())
		a := install(t, r, forwarderCanister(b.ID()))
		for i := 0; i < 3; i++ {
			a.NewCall("forward").Submit()
			b.NewCall("add_one").WithArg(canister.MustEncode(canister.CBOR, i)).Submit()
		}
		require.NoError(t, r.Drain(ctx))
		return events
	}

	first := trace()
	require.NotEmpty(t, first)
	assert.Equal(t, first, trace())
}

func TestMetrics(t *testing.T) {
	r := newTestReplica(t, ModeParallel)
	h := install(t, r, echoCanister())

	_, err := h.NewCall("echo").Perform(testContext(t))
	require.NoError(t, err)

	replies, ok := r.Metrics().Get(MetricReplies).(metrics.Counter)
	require.True(t, ok)
	assert.GreaterOrEqual(t, replies.Count(), int64(2)) // init + echo
	ingress, ok := r.Metrics().Get(MetricIngress).(metrics.Counter)
	require.True(t, ok)
	assert.Equal(t, int64(1), ingress.Count())
}

func TestClosedReplica(t *testing.T) {
	ctx := testContext(t)
	r, err := New(ctx, Config{Mode: ModeParallel, HeapMaxPages: 1, StableMaxPages: 1})
	require.NoError(t, err)
	h, err := r.Install(ctx, echoCanister(), nil)
	require.NoError(t, err)
	require.NoError(t, r.Close(ctx))
	require.NoError(t, r.Close(ctx))

	_, err = r.Add(ctx, echoCanister(), principal.FromCanisterID(9))
	assert.True(t, errors.Is(err, simerrors.ErrClosed), "%v", err)

	out, err := h.NewCall("echo").Perform(ctx)
	require.NoError(t, err)
	assert.Equal(t, canistersim.SysFatal, out.Code)
}
