// Package wasmbin encodes the small WebAssembly modules used to back memory regions.
package wasmbin

const (
	Magic   uint32 = 0x6d736100 // \0asm
	Version uint32 = 1

	SectionMemory byte = 5
	SectionExport byte = 7

	ExportKindMemory byte = 0x02

	limitsHasMax byte = 0x01
)

// MemoryExport is the export name every memory module uses.
const MemoryExport = "memory"

// MemoryModule describes a module that defines and exports a single memory:
//
//	(module (memory (export "memory") Min Max))
type MemoryModule struct {
	Min uint32
	Max uint32
}

// Encode returns the module binary.
func (m MemoryModule) Encode() []byte {
	w := NewWriter()

	w.WriteU32LE(Magic)
	w.WriteU32LE(Version)

	sec := NewWriter()
	sec.WriteU32(1)
	sec.Byte(limitsHasMax)
	sec.WriteU32(m.Min)
	sec.WriteU32(m.Max)
	writeSection(w, SectionMemory, sec.Bytes())

	sec = NewWriter()
	sec.WriteU32(1)
	sec.WriteName(MemoryExport)
	sec.Byte(ExportKindMemory)
	sec.WriteU32(0)
	writeSection(w, SectionExport, sec.Bytes())

	return w.Bytes()
}

func writeSection(w *Writer, id byte, data []byte) {
	w.Byte(id)
	w.WriteU32(uint32(len(data)))
	w.WriteBytes(data)
}
