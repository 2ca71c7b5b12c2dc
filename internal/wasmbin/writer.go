package wasmbin

import "encoding/binary"

// Writer accumulates WebAssembly binary encodings.
type Writer struct {
	buf []byte
}

// NewWriter creates an empty writer.
func NewWriter() *Writer {
	return &Writer{buf: make([]byte, 0, 64)}
}

// Byte appends a single byte.
func (w *Writer) Byte(b byte) {
	w.buf = append(w.buf, b)
}

// WriteBytes appends raw bytes.
func (w *Writer) WriteBytes(b []byte) {
	w.buf = append(w.buf, b...)
}

// WriteU32 appends an unsigned LEB128 value.
func (w *Writer) WriteU32(v uint32) {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		w.buf = append(w.buf, b)
		if v == 0 {
			return
		}
	}
}

// WriteU32LE appends a fixed-width little-endian value.
func (w *Writer) WriteU32LE(v uint32) {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, v)
}

// WriteName appends a length-prefixed UTF-8 name.
func (w *Writer) WriteName(name string) {
	w.WriteU32(uint32(len(name)))
	w.buf = append(w.buf, name...)
}

// Bytes returns the accumulated encoding.
func (w *Writer) Bytes() []byte {
	return w.buf
}
