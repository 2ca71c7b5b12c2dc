package canistersim

// PageSize is the granularity of memory growth in bytes (64 KiB).
const PageSize = 65536

// Memory represents a bounds-checked byte region owned by one canister.
// Multi-byte values are little-endian.
type Memory interface {
	Read(offset uint32, length uint32) ([]byte, error)
	Write(offset uint32, data []byte) error
	ReadU8(offset uint32) (uint8, error)
	ReadU16(offset uint32) (uint16, error)
	ReadU32(offset uint32) (uint32, error)
	ReadU64(offset uint32) (uint64, error)
	WriteU8(offset uint32, value uint8) error
	WriteU16(offset uint32, value uint16) error
	WriteU32(offset uint32, value uint32) error
	WriteU64(offset uint32, value uint64) error
}

// MemorySizer provides the current size of a region in bytes.
type MemorySizer interface {
	Size() uint32
}

// MemoryGrower grows a region in whole pages.
type MemoryGrower interface {
	// Pages returns the current size in pages.
	Pages() uint32
	// Grow adds pages and returns the new page count. Growth past the
	// region cap fails with an out-of-memory error and changes nothing.
	Grow(additional uint32) (uint32, error)
}

// LinearMemory is a growable region as seen by canister logic.
type LinearMemory interface {
	Memory
	MemorySizer
	MemoryGrower
}
