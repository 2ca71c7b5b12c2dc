package runtime

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wippyai/canister-sim/canister"
	"github.com/wippyai/canister-sim/principal"
)

var modesUnderTest = []ScheduleMode{ModeParallel, ModeDeterministic}

func newTestReplica(t *testing.T, mode ScheduleMode) *Replica {
	t.Helper()
	ctx := context.Background()
	r, err := New(ctx, Config{
		Mode:           mode,
		Workers:        4,
		HeapMaxPages:   16,
		StableMaxPages: 16,
		Clock:          NewManualClock(1_000),
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, r.Close(ctx))
	})
	return r
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func install(t *testing.T, r *Replica, c *canister.Canister, opts ...AddOption) *Handle {
	t.Helper()
	h, err := r.Install(testContext(t), c, nil, opts...)
	require.NoError(t, err)
	return h
}

func must(sys canister.System, err error) {
	if err != nil {
		sys.Trap(err.Error())
	}
}

func echoCanister() *canister.Canister {
	return canister.New("echo").Update("echo", func(sys canister.System) {
		arg, err := sys.ArgData()
		must(sys, err)
		must(sys, sys.Reply(arg))
	})
}

func adderCanister() *canister.Canister {
	return canister.New("adder").Update("add_one", canister.Typed(canister.CBOR,
		func(_ canister.System, n int) (int, error) {
			return n + 1, nil
		}))
}

func forwarderCanister(target principal.Principal) *canister.Canister {
	return canister.New("forwarder").Update("forward", canister.Typed(canister.CBOR,
		func(sys canister.System, _ struct{}) (int, error) {
			return canister.CallTyped[int, int](sys, canister.CBOR, target, "add_one", 5)
		}))
}

// growHeap is an init hook giving the canister one heap page.
func growHeap(sys canister.System) {
	_, err := sys.Heap().Grow(1)
	must(sys, err)
}

func growStable(sys canister.System) {
	_, err := sys.StableGrow(1)
	must(sys, err)
}
