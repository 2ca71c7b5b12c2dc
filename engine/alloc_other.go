//go:build !(linux || darwin)

package engine

import "github.com/tetratelabs/wazero/experimental"

// reservingAllocator returns nil so wazero's default allocator is used.
func reservingAllocator() experimental.MemoryAllocator {
	return nil
}
