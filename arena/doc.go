// Package arena implements per-canister isolated memory.
//
// An Arena owns two regions, heap and stable, each backed by its own wazero
// linear memory created through engine.MemoryEngine. Regions are page
// granular (64 KiB), start empty and only grow. Every access is bounds
// checked; an out-of-range access returns an out_of_bounds error and
// growth past the cap returns out_of_memory without changing the region.
//
// The arena does no locking for canister logic beyond what is needed to
// swap regions: exactly one message executes against an arena at a time,
// which the runtime's lane discipline guarantees.
package arena
