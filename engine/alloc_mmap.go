//go:build linux || darwin

package engine

import (
	"github.com/tetratelabs/wazero/experimental"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

func reservingAllocator() experimental.MemoryAllocator {
	return experimental.MemoryAllocatorFunc(func(_, max uint64) experimental.LinearMemory {
		return &reservedMemory{max: max}
	})
}

// reservedMemory reserves max bytes of inaccessible address space up front and
// makes pages readable and writable as the memory grows. The base address
// never moves.
type reservedMemory struct {
	region    []byte
	max       uint64
	committed uint64
}

func (r *reservedMemory) Reallocate(size uint64) []byte {
	if size > r.max {
		return nil
	}
	if r.region == nil {
		length := r.max
		if length == 0 {
			length = uint64(unix.Getpagesize())
		}
		region, err := unix.Mmap(-1, 0, int(length), unix.PROT_NONE, unix.MAP_PRIVATE|unix.MAP_ANON)
		if err != nil {
			Logger().Warn("reserve address space", zap.Uint64("bytes", length), zap.Error(err))
			return nil
		}
		r.region = region
	}
	if size > r.committed {
		if err := unix.Mprotect(r.region[r.committed:size], unix.PROT_READ|unix.PROT_WRITE); err != nil {
			Logger().Warn("commit memory", zap.Uint64("bytes", size), zap.Error(err))
			return nil
		}
		r.committed = size
	}
	return r.region[:size:size]
}

func (r *reservedMemory) Free() {
	if r.region == nil {
		return
	}
	if err := unix.Munmap(r.region); err != nil {
		Logger().Warn("release address space", zap.Error(err))
	}
	r.region = nil
	r.committed = 0
}
