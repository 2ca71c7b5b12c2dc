package arena

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/wippyai/canister-sim/engine"
	simerrors "github.com/wippyai/canister-sim/errors"
)

func newTestArena(t *testing.T, heapMax, stableMax uint32) *Arena {
	t.Helper()
	ctx := context.Background()
	eng, err := engine.NewMemoryEngine(ctx, &engine.Config{MemoryLimitPages: 64})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = eng.Close(ctx) })

	a, err := New(ctx, eng, Config{Owner: "test", HeapMaxPages: heapMax, StableMaxPages: stableMax})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { _ = a.Close(ctx) })
	return a
}

func TestGrow(t *testing.T) {
	a := newTestArena(t, 4, 8)

	n, err := a.Grow(Stable, 3)
	if err != nil {
		t.Fatalf("Grow failed: %v", err)
	}
	if n != 3 {
		t.Errorf("Grow returned %d, want 3", n)
	}
	if a.Heap().Pages() != 0 {
		t.Errorf("heap grew with stable: %d pages", a.Heap().Pages())
	}

	n, err = a.Grow(Stable, 5)
	if err != nil || n != 8 {
		t.Fatalf("Grow to cap = %d, %v", n, err)
	}

	_, err = a.Grow(Stable, 1)
	if !errors.Is(err, simerrors.ErrOutOfMemory) {
		t.Fatalf("expected out of memory, got %v", err)
	}
	if a.Stable().Pages() != 8 {
		t.Errorf("failed grow changed size to %d", a.Stable().Pages())
	}
}

func TestReadWriteBounds(t *testing.T) {
	a := newTestArena(t, 2, 2)
	if _, err := a.Grow(Heap, 1); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		offset uint32
		length uint32
		ok     bool
	}{
		{"start", 0, 16, true},
		{"exact end", 65536 - 4, 4, true},
		{"past end", 65536 - 3, 4, false},
		{"offset at size", 65536, 1, false},
		{"zero length at size", 65536, 0, true},
		{"wrap around", 0xffffffff, 2, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := a.Read(Heap, tt.offset, tt.length)
			if tt.ok && err != nil {
				t.Errorf("Read: %v", err)
			}
			if !tt.ok && !errors.Is(err, simerrors.ErrOutOfBounds) {
				t.Errorf("Read: expected out of bounds, got %v", err)
			}

			err = a.Write(Heap, tt.offset, make([]byte, tt.length))
			if tt.ok && err != nil {
				t.Errorf("Write: %v", err)
			}
			if !tt.ok && !errors.Is(err, simerrors.ErrOutOfBounds) {
				t.Errorf("Write: expected out of bounds, got %v", err)
			}
		})
	}
}

func TestReadReturnsCopy(t *testing.T) {
	a := newTestArena(t, 1, 1)
	a.Grow(Stable, 1)
	if err := a.Write(Stable, 100, []byte("abc")); err != nil {
		t.Fatal(err)
	}

	got, err := a.Read(Stable, 100, 3)
	if err != nil {
		t.Fatal(err)
	}
	got[0] = 'x'

	again, _ := a.Read(Stable, 100, 3)
	if !bytes.Equal(again, []byte("abc")) {
		t.Errorf("mutating a read result changed memory: %q", again)
	}
}

func TestTypedAccess(t *testing.T) {
	a := newTestArena(t, 1, 1)
	a.Grow(Heap, 1)
	h := a.Heap()

	if err := h.WriteU64(8, 0x0102030405060708); err != nil {
		t.Fatal(err)
	}
	v64, _ := h.ReadU64(8)
	if v64 != 0x0102030405060708 {
		t.Errorf("ReadU64 = %#x", v64)
	}
	v8, _ := h.ReadU8(8)
	if v8 != 0x08 {
		t.Errorf("little endian low byte = %#x, want 0x08", v8)
	}
	h.WriteU16(0, 0xbeef)
	v16, _ := h.ReadU16(0)
	if v16 != 0xbeef {
		t.Errorf("ReadU16 = %#x", v16)
	}
	h.WriteU32(4, 7)
	v32, _ := h.ReadU32(4)
	if v32 != 7 {
		t.Errorf("ReadU32 = %d", v32)
	}

	if _, err := h.ReadU32(65534); !errors.Is(err, simerrors.ErrOutOfBounds) {
		t.Errorf("expected out of bounds, got %v", err)
	}
}

func TestReadOnly(t *testing.T) {
	a := newTestArena(t, 2, 2)
	a.Grow(Heap, 1)

	if prev := a.SetReadOnly(true); prev {
		t.Error("arena should start writable")
	}
	if err := a.Write(Heap, 0, []byte{1}); !errors.Is(err, simerrors.ErrReadOnly) {
		t.Errorf("Write: expected read only, got %v", err)
	}
	if _, err := a.Grow(Stable, 1); !errors.Is(err, simerrors.ErrReadOnly) {
		t.Errorf("Grow: expected read only, got %v", err)
	}
	if _, err := a.Read(Heap, 0, 1); err != nil {
		t.Errorf("Read should work while read-only: %v", err)
	}

	a.SetReadOnly(false)
	if err := a.Write(Heap, 0, []byte{1}); err != nil {
		t.Errorf("Write after unlock: %v", err)
	}
}

func TestSnapshotRestore(t *testing.T) {
	ctx := context.Background()
	a := newTestArena(t, 4, 4)
	a.Grow(Heap, 1)
	a.Grow(Stable, 1)
	a.Write(Heap, 0, []byte("heap"))
	a.Write(Stable, 0, []byte("stable"))

	snap := a.Snapshot()
	if !snap.Equal(a.Snapshot()) {
		t.Fatal("consecutive snapshots differ")
	}

	a.Grow(Stable, 2)
	a.Write(Stable, 0, []byte("mutate"))
	if snap.Equal(a.Snapshot()) {
		t.Fatal("snapshot should differ after mutation")
	}

	if err := a.Restore(ctx, snap); err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	if !snap.Equal(a.Snapshot()) {
		t.Error("restored arena differs from snapshot")
	}
	if a.Stable().Pages() != 1 {
		t.Errorf("stable pages = %d after restore, want 1", a.Stable().Pages())
	}
}

func TestResetHeap(t *testing.T) {
	ctx := context.Background()
	a := newTestArena(t, 4, 4)
	heap := a.Heap()
	a.Grow(Heap, 2)
	a.Grow(Stable, 1)
	a.Write(Stable, 0, []byte("keep"))

	if err := a.ResetHeap(ctx); err != nil {
		t.Fatal(err)
	}
	if heap.Pages() != 0 {
		t.Errorf("heap handle sees %d pages after reset, want 0", heap.Pages())
	}
	got, _ := a.Read(Stable, 0, 4)
	if string(got) != "keep" {
		t.Errorf("stable lost on heap reset: %q", got)
	}
}

func TestClosed(t *testing.T) {
	ctx := context.Background()
	a := newTestArena(t, 1, 1)
	if err := a.Close(ctx); err != nil {
		t.Fatal(err)
	}
	if err := a.Write(Heap, 0, nil); !errors.Is(err, simerrors.ErrClosed) {
		t.Errorf("expected closed, got %v", err)
	}
	if a.Heap().Pages() != 0 {
		t.Error("closed region should report zero pages")
	}
}
