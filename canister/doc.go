// Package canister defines what a canister is to the simulator: a method
// table, lifecycle hooks, and the System interface its logic calls into.
//
// Logic is plain Go. Handlers receive a System for the duration of one
// step and use it to read their argument, reply or reject, make calls,
// and touch their heap and stable memory:
//
//	c := canister.New("echo").
//		Update("echo", func(sys canister.System) {
//			arg, _ := sys.ArgData()
//			_ = sys.Reply(arg)
//		})
//
// Typed wraps a function over decoded values using a Codec:
//
//	c.Update("add_one", canister.Typed(canister.CBOR, func(_ canister.System, n int) (int, error) {
//		return n + 1, nil
//	}))
package canister
