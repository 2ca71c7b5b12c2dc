package scenario

// Demo returns a scenario with one canister of every builtin kind and no
// steps. The console uses it when no file is given.
func Demo() *Scenario {
	return &Scenario{
		Name: "demo",
		Canisters: []Canister{
			{Name: "echo", Kind: "echo"},
			{Name: "adder", Kind: "adder"},
			{Name: "fwd", Kind: "forwarder", Params: map[string]any{"target": "adder"}},
			{Name: "counter", Kind: "counter", Params: map[string]any{"heartbeat": true}},
			{Name: "store", Kind: "kv"},
			{Name: "bad", Kind: "trapper"},
		},
	}
}
