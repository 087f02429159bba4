package vm

import "log"

// VirtualMemory is the bounds-checked view of the virtual region. Offsets are
// relative to the first byte of the region.
type VirtualMemory struct {
	pt     *PageTable
	base   uint64
	length int
}

// Base returns the address of the first byte of the region.
func (v *VirtualMemory) Base() uint64 {
	return v.base
}

// Len returns the size of the region in bytes.
func (v *VirtualMemory) Len() int {
	return v.length
}

// PageOf returns the index of the page that holds the byte at off.
func (v *VirtualMemory) PageOf(off int) int {
	return off >> log2PageSize
}

// Load reads the byte at off. It traps until the page is readable.
func (v *VirtualMemory) Load(off int) byte {
	for {
		e, ok := v.pt.accessible(off, BitRead)
		if ok {
			return v.pt.physical.data[v.physOffset(e, off)]
		}

		trap(v.pt, v.addr(off), false)
	}
}

// Store writes the byte at off. It traps until the page is writable.
func (v *VirtualMemory) Store(off int, value byte) {
	for {
		e, ok := v.pt.accessible(off, BitWrite)
		if ok {
			v.pt.physical.data[v.physOffset(e, off)] = value
			return
		}

		trap(v.pt, v.addr(off), true)
	}
}

func (v *VirtualMemory) addr(off int) uint64 {
	return v.base + uint64(off)
}

func (v *VirtualMemory) physOffset(e Entry, off int) int {
	return e.Frame<<log2PageSize | off&(PageSize-1)
}

// PhysicalMemory is the view of the frames. Unlike the virtual region it is
// always readable and writable.
type PhysicalMemory struct {
	base    uint64
	data    []byte
	release func() error
}

// Base returns the address of the first byte of frame 0.
func (p *PhysicalMemory) Base() uint64 {
	return p.base
}

// Len returns the size of the region in bytes.
func (p *PhysicalMemory) Len() int {
	return len(p.data)
}

// NumFrames returns the number of frames in the region.
func (p *PhysicalMemory) NumFrames() int {
	return len(p.data) / PageSize
}

// Frame returns the bytes of frame f. An invalid frame panics.
func (p *PhysicalMemory) Frame(f int) []byte {
	if f < 0 || f >= p.NumFrames() {
		log.Panicf("vm: Frame: illegal frame #%d", f)
	}

	start := f * PageSize
	end := start + PageSize

	return p.data[start:end:end]
}
