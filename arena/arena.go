package arena

import (
	"bytes"
	"context"
	"encoding/binary"
	"sync"

	"github.com/hashicorp/go-multierror"

	canistersim "github.com/wippyai/canister-sim"
	"github.com/wippyai/canister-sim/engine"
	"github.com/wippyai/canister-sim/errors"
)

// Kind selects one of the two regions of an arena.
type Kind uint8

const (
	Heap Kind = iota
	Stable
)

func (k Kind) String() string {
	if k == Stable {
		return "stable"
	}
	return "heap"
}

// Config sizes a new arena.
type Config struct {
	Owner          string
	HeapMaxPages   uint32
	StableMaxPages uint32
}

// Arena is the isolated memory of one canister: a heap region, reset on
// upgrade, and a stable region that survives upgrades. Both start empty
// and grow independently up to their caps.
type Arena struct {
	engine   *engine.MemoryEngine
	heap     *Region
	stable   *Region
	owner    string
	mu       sync.RWMutex
	readOnly bool
	closed   bool
}

// New creates an arena with empty regions.
func New(ctx context.Context, eng *engine.MemoryEngine, cfg Config) (*Arena, error) {
	a := &Arena{engine: eng, owner: cfg.Owner}

	heapMem, err := eng.NewMemory(ctx, cfg.HeapMaxPages)
	if err != nil {
		return nil, err
	}
	stableMem, err := eng.NewMemory(ctx, cfg.StableMaxPages)
	if err != nil {
		_ = heapMem.Close(ctx)
		return nil, err
	}

	a.heap = &Region{arena: a, kind: Heap, mem: heapMem}
	a.stable = &Region{arena: a, kind: Stable, mem: stableMem}
	return a, nil
}

// Heap returns the heap region. The handle stays valid across ResetHeap.
func (a *Arena) Heap() *Region {
	return a.heap
}

// Stable returns the stable region.
func (a *Arena) Stable() *Region {
	return a.stable
}

// Region returns the region of the given kind.
func (a *Arena) Region(k Kind) *Region {
	if k == Stable {
		return a.stable
	}
	return a.heap
}

// Grow adds pages to a region and returns the new page count.
func (a *Arena) Grow(k Kind, additional uint32) (uint32, error) {
	return a.Region(k).Grow(additional)
}

// Read copies length bytes from a region.
func (a *Arena) Read(k Kind, offset, length uint32) ([]byte, error) {
	return a.Region(k).Read(offset, length)
}

// Write copies data into a region.
func (a *Arena) Write(k Kind, offset uint32, data []byte) error {
	return a.Region(k).Write(offset, data)
}

// SetReadOnly toggles write protection for both regions and returns the
// previous setting.
func (a *Arena) SetReadOnly(ro bool) bool {
	a.mu.Lock()
	prev := a.readOnly
	a.readOnly = ro
	a.mu.Unlock()
	return prev
}

// ReadOnly reports whether writes and growth are currently rejected.
func (a *Arena) ReadOnly() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.readOnly
}

// ResetHeap replaces the heap with an empty region of the same cap.
func (a *Arena) ResetHeap(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return errors.Closed(errors.PhaseArena, "arena")
	}

	fresh, err := a.engine.NewMemory(ctx, a.heap.mem.MaxPages())
	if err != nil {
		return err
	}
	old := a.heap.mem
	a.heap.mem = fresh
	return old.Close(ctx)
}

// Snapshot is a byte-for-byte copy of both regions.
type Snapshot struct {
	Heap   []byte
	Stable []byte
}

// Equal reports whether two snapshots hold identical bytes.
func (s Snapshot) Equal(other Snapshot) bool {
	return bytes.Equal(s.Heap, other.Heap) && bytes.Equal(s.Stable, other.Stable)
}

// Snapshot copies the current contents of both regions.
func (a *Arena) Snapshot() Snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return Snapshot{Heap: copyAll(a.heap.mem), Stable: copyAll(a.stable.mem)}
}

// Restore replaces both regions with fresh memories holding the snapshot.
// Regions shrink back to the snapshot size.
func (a *Arena) Restore(ctx context.Context, s Snapshot) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return errors.Closed(errors.PhaseArena, "arena")
	}

	heapMem, err := a.restoreMemory(ctx, a.heap, s.Heap)
	if err != nil {
		return err
	}
	stableMem, err := a.restoreMemory(ctx, a.stable, s.Stable)
	if err != nil {
		_ = heapMem.Close(ctx)
		return err
	}

	var result error
	if err := a.heap.mem.Close(ctx); err != nil {
		result = multierror.Append(result, err)
	}
	if err := a.stable.mem.Close(ctx); err != nil {
		result = multierror.Append(result, err)
	}
	a.heap.mem = heapMem
	a.stable.mem = stableMem
	return result
}

func (a *Arena) restoreMemory(ctx context.Context, r *Region, data []byte) (*engine.Memory, error) {
	if len(data)%canistersim.PageSize != 0 {
		return nil, errors.New(errors.PhaseArena, errors.KindInvalidInput).
			Canister(a.owner).
			Region(r.kind.String()).
			Detail("snapshot of %d bytes is not page aligned", len(data)).
			Build()
	}
	mem, err := a.engine.NewMemory(ctx, r.mem.MaxPages())
	if err != nil {
		return nil, err
	}
	pages := uint32(len(data) / canistersim.PageSize)
	if pages > 0 {
		if _, ok := mem.Grow(pages); !ok {
			_ = mem.Close(ctx)
			return nil, errors.OutOfMemory(r.kind.String(), 0, pages, mem.MaxPages())
		}
		mem.Write(0, data)
	}
	return mem, nil
}

// Close releases both regions.
func (a *Arena) Close(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true

	var result error
	if err := a.heap.mem.Close(ctx); err != nil {
		result = multierror.Append(result, err)
	}
	if err := a.stable.mem.Close(ctx); err != nil {
		result = multierror.Append(result, err)
	}
	return result
}

func copyAll(mem *engine.Memory) []byte {
	size := mem.Size()
	view, _ := mem.View(0, size)
	out := make([]byte, size)
	copy(out, view)
	return out
}

// Region is one bounds-checked, growable memory of an arena.
// It implements canistersim.LinearMemory.
type Region struct {
	arena *Arena
	mem   *engine.Memory
	kind  Kind
}

var _ canistersim.LinearMemory = (*Region)(nil)

// Kind returns which region this is.
func (r *Region) Kind() Kind {
	return r.kind
}

// Pages returns the current size in pages.
func (r *Region) Pages() uint32 {
	r.arena.mu.RLock()
	defer r.arena.mu.RUnlock()
	if r.arena.closed {
		return 0
	}
	return r.mem.Pages()
}

// Size returns the current size in bytes.
func (r *Region) Size() uint32 {
	r.arena.mu.RLock()
	defer r.arena.mu.RUnlock()
	if r.arena.closed {
		return 0
	}
	return r.mem.Size()
}

// MaxPages returns the growth cap.
func (r *Region) MaxPages() uint32 {
	return r.mem.MaxPages()
}

// Grow adds pages and returns the new page count. On failure the region is unchanged.
func (r *Region) Grow(additional uint32) (uint32, error) {
	r.arena.mu.RLock()
	defer r.arena.mu.RUnlock()
	if err := r.writable("grow"); err != nil {
		return 0, err
	}

	current := r.mem.Pages()
	max := r.mem.MaxPages()
	if additional > max-current {
		return current, errors.New(errors.PhaseArena, errors.KindOutOfMemory).
			Canister(r.arena.owner).
			Region(r.kind.String()).
			Detail("cannot grow by %d pages: %d of %d pages in use", additional, current, max).
			Value(additional).
			Build()
	}
	prev, ok := r.mem.Grow(additional)
	if !ok {
		return current, errors.OutOfMemory(r.kind.String(), current, additional, max)
	}
	return prev + additional, nil
}

// Read returns a copy of length bytes at offset.
func (r *Region) Read(offset, length uint32) ([]byte, error) {
	r.arena.mu.RLock()
	defer r.arena.mu.RUnlock()
	view, err := r.view(offset, length)
	if err != nil {
		return nil, err
	}
	out := make([]byte, length)
	copy(out, view)
	return out, nil
}

// ReadInto copies len(dst) bytes at offset into dst.
func (r *Region) ReadInto(offset uint32, dst []byte) error {
	r.arena.mu.RLock()
	defer r.arena.mu.RUnlock()
	view, err := r.view(offset, uint32(len(dst)))
	if err != nil {
		return err
	}
	copy(dst, view)
	return nil
}

// Write copies data to offset.
func (r *Region) Write(offset uint32, data []byte) error {
	r.arena.mu.RLock()
	defer r.arena.mu.RUnlock()
	if err := r.writable("write"); err != nil {
		return err
	}
	if err := r.check(offset, uint64(len(data))); err != nil {
		return err
	}
	r.mem.Write(offset, data)
	return nil
}

func (r *Region) ReadU8(offset uint32) (uint8, error) {
	b, err := r.Read(offset, 1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *Region) ReadU16(offset uint32) (uint16, error) {
	b, err := r.Read(offset, 2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (r *Region) ReadU32(offset uint32) (uint32, error) {
	b, err := r.Read(offset, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *Region) ReadU64(offset uint32) (uint64, error) {
	b, err := r.Read(offset, 8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (r *Region) WriteU8(offset uint32, value uint8) error {
	return r.Write(offset, []byte{value})
}

func (r *Region) WriteU16(offset uint32, value uint16) error {
	return r.Write(offset, binary.LittleEndian.AppendUint16(nil, value))
}

func (r *Region) WriteU32(offset uint32, value uint32) error {
	return r.Write(offset, binary.LittleEndian.AppendUint32(nil, value))
}

func (r *Region) WriteU64(offset uint32, value uint64) error {
	return r.Write(offset, binary.LittleEndian.AppendUint64(nil, value))
}

func (r *Region) view(offset, length uint32) ([]byte, error) {
	if err := r.check(offset, uint64(length)); err != nil {
		return nil, err
	}
	view, _ := r.mem.View(offset, length)
	return view, nil
}

// check validates a range with 64-bit arithmetic so offset+length cannot wrap.
func (r *Region) check(offset uint32, length uint64) error {
	if r.arena.closed {
		return errors.Closed(errors.PhaseArena, "arena")
	}
	size := uint64(r.mem.Size())
	if uint64(offset)+length > size {
		return errors.New(errors.PhaseArena, errors.KindOutOfBounds).
			Canister(r.arena.owner).
			Region(r.kind.String()).
			Detail("access out of bounds: offset=%d, length=%d, size=%d", offset, length, size).
			Value(offset).
			Build()
	}
	return nil
}

func (r *Region) writable(op string) error {
	if r.arena.closed {
		return errors.Closed(errors.PhaseArena, "arena")
	}
	if r.arena.readOnly {
		return errors.New(errors.PhaseArena, errors.KindReadOnly).
			Canister(r.arena.owner).
			Region(r.kind.String()).
			Detail("%s is not allowed while memory is read-only", op).
			Build()
	}
	return nil
}
