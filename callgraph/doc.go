// Package callgraph tracks the tree of in-flight calls.
//
// Every ingress message and inter-canister call is a node identified by an
// opaque ID (slot index plus generation). Nodes reference their parent by ID
// rather than by pointer, so self-calls and mutually recursive calls between
// canisters are plain data and need no special handling.
//
// Lifecycle:
//
//	Open     -> node exists, parent pending count +1
//	Resolve  -> outcome recorded (write-once)
//	Settle   -> outcome consumed by the parent, parent pending count -1
//	Released -> resolved, settled and no pending children; slot recycled
//
// Observers receive an Event for each transition; the runtime uses them for
// tracing and the interactive console.
package callgraph
