package scenario

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/wippyai/canister-sim/canister"
)

func builtinEntries() map[string]Entry {
	return map[string]Entry{
		"echo": {
			Build:       buildEcho,
			Description: "replies with its argument; whoami replies with the caller",
			Default:     canister.Raw,
		},
		"adder": {
			Build:       buildAdder,
			Description: "add_one(n) replies n+1",
			Default:     canister.CBOR,
		},
		"counter": {
			Build:       buildCounter,
			Description: "stable-memory counter; params: heartbeat, private",
			Default:     canister.CBOR,
			InitCodec:   canister.CBOR,
		},
		"forwarder": {
			Build:       buildForwarder,
			Description: "forward relays its argument to params.target/params.method",
			Default:     canister.CBOR,
		},
		"kv": {
			Build:       buildKV,
			Description: "string map kept across upgrades through stable memory",
			Default:     canister.CBOR,
		},
		"trapper": {
			Build:       buildTrapper,
			Description: "fails on purpose: trap, panic, divide, silent",
			Default:     canister.Raw,
		},
	}
}

func trapOn(sys canister.System, err error) {
	if err != nil {
		sys.Trap(err.Error())
	}
}

func buildEcho(env Env) (*canister.Canister, error) {
	echo := func(sys canister.System) {
		arg, err := sys.ArgData()
		trapOn(sys, err)
		trapOn(sys, sys.Reply(arg))
	}
	return canister.New(env.Name).
		Update("echo", echo).
		Query("echo_query", echo).
		Query("whoami", func(sys canister.System) {
			caller, err := sys.Caller()
			trapOn(sys, err)
			trapOn(sys, sys.Reply([]byte(caller.Text())))
		}), nil
}

func buildAdder(env Env) (*canister.Canister, error) {
	return canister.New(env.Name).
		Update("add_one", canister.Typed(canister.CBOR, func(_ canister.System, n int64) (int64, error) {
			return n + 1, nil
		})), nil
}

// The counter keeps a little-endian uint64 at stable offset 0.
func readCounter(sys canister.System) (int64, error) {
	size, err := sys.StableSize()
	if err != nil || size == 0 {
		return 0, err
	}
	var buf [8]byte
	if err := sys.StableRead(0, buf[:]); err != nil {
		return 0, err
	}
	return int64(binary.LittleEndian.Uint64(buf[:])), nil
}

func writeCounter(sys canister.System, v int64) error {
	size, err := sys.StableSize()
	if err != nil {
		return err
	}
	if size == 0 {
		if _, err := sys.StableGrow(1); err != nil {
			return err
		}
	}
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(v))
	return sys.StableWrite(0, buf[:])
}

func buildCounter(env Env) (*canister.Canister, error) {
	c := canister.New(env.Name).
		WithInit(func(sys canister.System) {
			arg, err := sys.ArgData()
			trapOn(sys, err)
			start, err := canister.Decode[int64](canister.CBOR, arg)
			trapOn(sys, err)
			trapOn(sys, writeCounter(sys, start))
		}).
		Update("increment", canister.Typed(canister.CBOR, func(sys canister.System, by int64) (int64, error) {
			if by == 0 {
				by = 1
			}
			v, err := readCounter(sys)
			if err != nil {
				return 0, err
			}
			v += by
			return v, writeCounter(sys, v)
		})).
		Query("get", canister.Typed(canister.CBOR, func(sys canister.System, _ struct{}) (int64, error) {
			return readCounter(sys)
		}))

	if env.Bool("heartbeat", false) {
		c.WithHeartbeat(func(sys canister.System) {
			v, err := readCounter(sys)
			trapOn(sys, err)
			trapOn(sys, writeCounter(sys, v+1))
		})
	}
	if env.Bool("private", false) {
		c.WithInspectMessage(func(sys canister.System) bool {
			caller, err := sys.Caller()
			return err == nil && !caller.IsAnonymous()
		})
	}
	return c, nil
}

func buildForwarder(env Env) (*canister.Canister, error) {
	target, err := env.Target("target")
	if err != nil {
		return nil, err
	}
	method := env.String("method", "add_one")

	return canister.New(env.Name).
		Update("forward", func(sys canister.System) {
			arg, err := sys.ArgData()
			trapOn(sys, err)
			p, err := sys.Call(target, method).WithArg(arg).Perform()
			trapOn(sys, err)
			out, err := p.Await()
			trapOn(sys, err)
			if out.IsReply() {
				trapOn(sys, sys.Reply(out.Data))
				return
			}
			trapOn(sys, sys.Reject(fmt.Sprintf("%s: %s", out.RejectCode(), out.Message)))
		}).
		Update("forward_callback", func(sys canister.System) {
			arg, err := sys.ArgData()
			trapOn(sys, err)
			_, err = sys.Call(target, method).
				WithArg(arg).
				OnReply(func(sys canister.System) {
					data, err := sys.ArgData()
					trapOn(sys, err)
					trapOn(sys, sys.Reply(data))
				}).
				OnReject(func(sys canister.System) {
					code, _ := sys.RejectCode()
					msg, _ := sys.RejectMessage()
					trapOn(sys, sys.Reject(fmt.Sprintf("%s: %s", code, msg)))
				}).
				Perform()
			trapOn(sys, err)
		}), nil
}

type kvPair struct {
	Key   string `cbor:"key"`
	Value string `cbor:"value"`
}

func buildKV(env Env) (*canister.Canister, error) {
	store := make(map[string]string)

	return canister.New(env.Name).
		Update("put", canister.Typed(canister.CBOR, func(_ canister.System, p kvPair) (bool, error) {
			if p.Key == "" {
				return false, fmt.Errorf("empty key")
			}
			_, existed := store[p.Key]
			store[p.Key] = p.Value
			return existed, nil
		})).
		Update("delete", canister.Typed(canister.CBOR, func(_ canister.System, key string) (bool, error) {
			_, existed := store[key]
			delete(store, key)
			return existed, nil
		})).
		Query("get", canister.Typed(canister.CBOR, func(_ canister.System, key string) (string, error) {
			v, ok := store[key]
			if !ok {
				return "", fmt.Errorf("key %q not found", key)
			}
			return v, nil
		})).
		Query("keys", canister.Typed(canister.CBOR, func(_ canister.System, _ struct{}) ([]string, error) {
			keys := make([]string, 0, len(store))
			for k := range store {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			return keys, nil
		})).
		WithPreUpgrade(func(sys canister.System) {
			data, err := canister.CBOR.Marshal(store)
			trapOn(sys, err)
			trapOn(sys, saveBlob(sys, data))
		}).
		WithPostUpgrade(func(sys canister.System) {
			data, err := loadBlob(sys)
			trapOn(sys, err)
			if len(data) > 0 {
				trapOn(sys, canister.CBOR.Unmarshal(data, &store))
			}
		}), nil
}

const pageSize = 65536

// saveBlob writes a length-prefixed blob at the start of stable memory.
func saveBlob(sys canister.System, data []byte) error {
	need := uint64(len(data)) + 4
	size, err := sys.StableSize()
	if err != nil {
		return err
	}
	if have := uint64(size) * pageSize; have < need {
		if _, err := sys.StableGrow(uint32((need - have + pageSize - 1) / pageSize)); err != nil {
			return err
		}
	}
	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], uint32(len(data)))
	if err := sys.StableWrite(0, hdr[:]); err != nil {
		return err
	}
	return sys.StableWrite(4, data)
}

func loadBlob(sys canister.System) ([]byte, error) {
	size, err := sys.StableSize()
	if err != nil || size == 0 {
		return nil, err
	}
	var hdr [4]byte
	if err := sys.StableRead(0, hdr[:]); err != nil {
		return nil, err
	}
	data := make([]byte, binary.LittleEndian.Uint32(hdr[:]))
	if err := sys.StableRead(4, data); err != nil {
		return nil, err
	}
	return data, nil
}

func buildTrapper(env Env) (*canister.Canister, error) {
	return canister.New(env.Name).
		Update("trap", func(sys canister.System) {
			arg, _ := sys.ArgData()
			sys.Trap(string(arg))
		}).
		Update("panic", func(sys canister.System) {
			arg, _ := sys.ArgData()
			panic(string(arg))
		}).
		Update("divide", func(sys canister.System) {
			arg, _ := sys.ArgData()
			n := len(arg)
			trapOn(sys, sys.Reply([]byte(fmt.Sprint(100/n))))
		}).
		Update("silent", func(canister.System) {}).
		Update("ok", func(sys canister.System) {
			trapOn(sys, sys.Reply([]byte("ok")))
		}), nil
}
