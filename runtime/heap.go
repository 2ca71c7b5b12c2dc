package runtime

import (
	canistersim "github.com/wippyai/canister-sim"
	"github.com/wippyai/canister-sim/arena"
)

// heapView is the heap as seen through a Context. Every access checks that
// the step is still running, so a view kept past its step cannot touch the
// arena outside the lane.
type heapView struct {
	sys *Context
}

var _ canistersim.LinearMemory = heapView{}

func (h heapView) region(op string) (*arena.Region, error) {
	if _, err := h.sys.enter(op, anyModes); err != nil {
		return nil, err
	}
	return h.sys.actor.arena.Heap(), nil
}

// Pages returns 0 outside a step.
func (h heapView) Pages() uint32 {
	r, err := h.region("heap_pages")
	if err != nil {
		return 0
	}
	return r.Pages()
}

// Size returns 0 outside a step.
func (h heapView) Size() uint32 {
	r, err := h.region("heap_size")
	if err != nil {
		return 0
	}
	return r.Size()
}

func (h heapView) Grow(additional uint32) (uint32, error) {
	r, err := h.region("heap_grow")
	if err != nil {
		return 0, err
	}
	return r.Grow(additional)
}

func (h heapView) Read(offset, length uint32) ([]byte, error) {
	r, err := h.region("heap_read")
	if err != nil {
		return nil, err
	}
	return r.Read(offset, length)
}

func (h heapView) Write(offset uint32, data []byte) error {
	r, err := h.region("heap_write")
	if err != nil {
		return err
	}
	return r.Write(offset, data)
}

func (h heapView) ReadU8(offset uint32) (uint8, error) {
	r, err := h.region("heap_read")
	if err != nil {
		return 0, err
	}
	return r.ReadU8(offset)
}

func (h heapView) ReadU16(offset uint32) (uint16, error) {
	r, err := h.region("heap_read")
	if err != nil {
		return 0, err
	}
	return r.ReadU16(offset)
}

func (h heapView) ReadU32(offset uint32) (uint32, error) {
	r, err := h.region("heap_read")
	if err != nil {
		return 0, err
	}
	return r.ReadU32(offset)
}

func (h heapView) ReadU64(offset uint32) (uint64, error) {
	r, err := h.region("heap_read")
	if err != nil {
		return 0, err
	}
	return r.ReadU64(offset)
}

func (h heapView) WriteU8(offset uint32, value uint8) error {
	r, err := h.region("heap_write")
	if err != nil {
		return err
	}
	return r.WriteU8(offset, value)
}

func (h heapView) WriteU16(offset uint32, value uint16) error {
	r, err := h.region("heap_write")
	if err != nil {
		return err
	}
	return r.WriteU16(offset, value)
}

func (h heapView) WriteU32(offset uint32, value uint32) error {
	r, err := h.region("heap_write")
	if err != nil {
		return err
	}
	return r.WriteU32(offset, value)
}

func (h heapView) WriteU64(offset uint32, value uint64) error {
	r, err := h.region("heap_write")
	if err != nil {
		return err
	}
	return r.WriteU64(offset, value)
}
