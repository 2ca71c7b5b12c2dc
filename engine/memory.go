package engine

import (
	"context"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/experimental"
	"go.uber.org/zap"

	canistersim "github.com/wippyai/canister-sim"
	"github.com/wippyai/canister-sim/errors"
	"github.com/wippyai/canister-sim/internal/wasmbin"
)

// MaxPages is the largest region wazero can address (4 GiB).
const MaxPages uint32 = 65536

// Config holds configuration for engine creation
type Config struct {
	// MemoryLimitPages caps every memory created by the engine, in 64 KiB pages.
	// 0 means MaxPages.
	MemoryLimitPages uint32

	// ReserveAddressSpace backs each memory with a single address-space
	// reservation sized to its maximum, committing pages as it grows.
	// Only honoured on platforms with mmap; elsewhere wazero's allocator is used.
	ReserveAddressSpace bool
}

// MemoryEngine creates isolated linear memories backed by wazero.
// Each memory is an anonymous instance of a generated memory-only module.
type MemoryEngine struct {
	runtime   wazero.Runtime
	allocator experimental.MemoryAllocator
	compiled  map[uint32]wazero.CompiledModule
	limit     uint32
	mu        sync.Mutex
	closed    bool
}

// NewMemoryEngine creates a new engine with the given configuration.
// A nil config uses defaults.
func NewMemoryEngine(ctx context.Context, cfg *Config) (*MemoryEngine, error) {
	limit := MaxPages
	var allocator experimental.MemoryAllocator
	if cfg != nil {
		if cfg.MemoryLimitPages > 0 {
			if cfg.MemoryLimitPages > MaxPages {
				return nil, errors.InvalidInput(errors.PhaseEngine, "memory limit exceeds 65536 pages")
			}
			limit = cfg.MemoryLimitPages
		}
		if cfg.ReserveAddressSpace {
			allocator = reservingAllocator()
		}
	}

	runtimeCfg := wazero.NewRuntimeConfig().WithMemoryLimitPages(limit)
	return &MemoryEngine{
		runtime:   wazero.NewRuntimeWithConfig(ctx, runtimeCfg),
		allocator: allocator,
		compiled:  make(map[uint32]wazero.CompiledModule),
		limit:     limit,
	}, nil
}

// Limit returns the engine-wide page cap.
func (e *MemoryEngine) Limit() uint32 {
	return e.limit
}

// NewMemory creates an empty memory that can grow to maxPages.
func (e *MemoryEngine) NewMemory(ctx context.Context, maxPages uint32) (*Memory, error) {
	if maxPages > e.limit {
		return nil, errors.New(errors.PhaseEngine, errors.KindInvalidInput).
			Detail("memory max %d pages exceeds engine limit %d", maxPages, e.limit).
			Value(maxPages).
			Build()
	}

	compiled, err := e.compile(ctx, maxPages)
	if err != nil {
		return nil, err
	}

	if e.allocator != nil {
		ctx = experimental.WithMemoryAllocator(ctx, e.allocator)
	}

	// Anonymous instances so any number of memories can coexist in one runtime.
	mod, err := e.runtime.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().WithName(""))
	if err != nil {
		return nil, errors.Instantiation(err)
	}

	mem := mod.ExportedMemory(wasmbin.MemoryExport)
	if mem == nil {
		_ = mod.Close(ctx)
		return nil, errors.NotFound(errors.PhaseEngine, "memory export", wasmbin.MemoryExport)
	}

	Logger().Debug("memory instantiated", zap.Uint32("max_pages", maxPages), zap.Bool("reserved", e.allocator != nil))
	return &Memory{mod: mod, mem: mem, maxPages: maxPages}, nil
}

func (e *MemoryEngine) compile(ctx context.Context, maxPages uint32) (wazero.CompiledModule, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, errors.Closed(errors.PhaseEngine, "memory engine")
	}
	if c, ok := e.compiled[maxPages]; ok {
		return c, nil
	}

	bin := wasmbin.MemoryModule{Min: 0, Max: maxPages}.Encode()
	c, err := e.runtime.CompileModule(ctx, bin)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseEngine, errors.KindInstantiation, err, "compile memory module")
	}
	e.compiled[maxPages] = c
	return c, nil
}

// Close releases the runtime and every memory created by it.
func (e *MemoryEngine) Close(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.compiled = nil
	e.mu.Unlock()
	return e.runtime.Close(ctx)
}

// Memory is one wazero linear memory. It is not safe for concurrent use;
// callers serialise access.
type Memory struct {
	mod      api.Module
	mem      api.Memory
	maxPages uint32
}

// Pages returns the current size in pages.
func (m *Memory) Pages() uint32 {
	return m.mem.Size() / canistersim.PageSize
}

// Size returns the current size in bytes.
func (m *Memory) Size() uint32 {
	return m.mem.Size()
}

// MaxPages returns the growth cap.
func (m *Memory) MaxPages() uint32 {
	return m.maxPages
}

// Grow adds pages, returning the previous page count.
func (m *Memory) Grow(delta uint32) (uint32, bool) {
	return m.mem.Grow(delta)
}

// View returns a slice aliasing the memory. It is invalidated by Grow.
func (m *Memory) View(offset, length uint32) ([]byte, bool) {
	return m.mem.Read(offset, length)
}

// Write copies data into the memory.
func (m *Memory) Write(offset uint32, data []byte) bool {
	return m.mem.Write(offset, data)
}

// Close releases the instance and its backing buffer.
func (m *Memory) Close(ctx context.Context) error {
	return m.mod.Close(ctx)
}
