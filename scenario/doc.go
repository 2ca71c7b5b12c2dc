// Package scenario drives a replica from TOML files.
//
// A scenario declares canisters built from a Catalog of factories and a list
// of steps. Each step is an ingress call, a non-blocking submit, a drain, a
// heartbeat tick, an upgrade, a removal, or a clock advance, optionally
// followed by an expectation on the outcome:
//
//	name = "forward"
//
//	[replica]
//	deterministic = true
//
//	[[canister]]
//	name = "adder"
//	kind = "adder"
//
//	[[canister]]
//	name = "fwd"
//	kind = "forwarder"
//	params = { target = "adder", method = "add_one" }
//
//	[[step]]
//	canister = "fwd"
//	method = "forward"
//	arg = 5
//	expect = { outcome = "reply", reply = 6 }
//
// Arguments and expected replies are encoded with the codec the catalog
// entry declares for the method, CBOR or raw bytes.
package scenario
