// Package engine provides linear memories backed by wazero.
//
// A MemoryEngine compiles one memory-only module per distinct maximum page
// count and instantiates it anonymously for each Memory. Bounds checks,
// page growth and the 4 GiB ceiling come from wazero itself.
//
//	eng, err := engine.NewMemoryEngine(ctx, &engine.Config{MemoryLimitPages: 256})
//	if err != nil {
//	    return err
//	}
//	defer eng.Close(ctx)
//
//	mem, err := eng.NewMemory(ctx, 16)
//
// With Config.ReserveAddressSpace set, memories are backed by a single
// mmap reservation sized to their maximum, so growing never copies.
package engine
