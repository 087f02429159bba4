package vm

import (
	"errors"
	"fmt"
)

// Default locations of the two regions in the simulated address space.
const (
	DefaultVirtualBase  uint64 = 0x7f00_0000_0000
	DefaultPhysicalBase uint64 = 0x0000_1000_0000
)

// A Builder can build page tables.
type Builder struct {
	numPages     int
	numFrames    int
	handler      FaultHandler
	virtualBase  uint64
	physicalBase uint64
}

// MakeBuilder creates a new builder with default region bases.
func MakeBuilder() Builder {
	return Builder{
		virtualBase:  DefaultVirtualBase,
		physicalBase: DefaultPhysicalBase,
	}
}

// WithNumPages sets the number of pages of the virtual region.
func (b Builder) WithNumPages(n int) Builder {
	b.numPages = n
	return b
}

// WithNumFrames sets the number of frames of the physical region.
func (b Builder) WithNumFrames(n int) Builder {
	b.numFrames = n
	return b
}

// WithFaultHandler sets the handler that resolves traps.
func (b Builder) WithFaultHandler(h FaultHandler) Builder {
	b.handler = h
	return b
}

// WithVirtualBase sets the address of the first virtual byte. It must be page
// aligned.
func (b Builder) WithVirtualBase(addr uint64) Builder {
	b.virtualBase = addr
	return b
}

// WithPhysicalBase sets the address of the first physical byte. It must be
// page aligned.
func (b Builder) WithPhysicalBase(addr uint64) Builder {
	b.physicalBase = addr
	return b
}

func (b Builder) parametersMustBeValid() error {
	if b.numPages <= 0 {
		return fmt.Errorf("vm: number of pages must be positive, got %d", b.numPages)
	}

	if b.numFrames <= 0 {
		return fmt.Errorf("vm: number of frames must be positive, got %d", b.numFrames)
	}

	if b.handler == nil {
		return errors.New("vm: a fault handler is required")
	}

	if b.virtualBase%PageSize != 0 || b.physicalBase%PageSize != 0 {
		return errors.New("vm: region bases must be page aligned")
	}

	virtualEnd := b.virtualBase + uint64(b.numPages)*PageSize
	physicalEnd := b.physicalBase + uint64(b.numFrames)*PageSize
	if virtualEnd < b.virtualBase || physicalEnd < b.physicalBase {
		return errors.New("vm: region exceeds the address space")
	}

	if b.virtualBase < physicalEnd && b.physicalBase < virtualEnd {
		return errors.New("vm: virtual and physical regions overlap")
	}

	return nil
}

// Build reserves both regions and makes the new table the one that receives
// traps. Only one table can be active at a time; ErrTableActive is returned
// while another one has not been destroyed.
func (b Builder) Build() (*PageTable, error) {
	err := b.parametersMustBeValid()
	if err != nil {
		return nil, err
	}

	data, release, err := mapPhysical(b.numFrames * PageSize)
	if err != nil {
		return nil, fmt.Errorf("vm: cannot map %d frames: %w", b.numFrames, err)
	}

	pt := &PageTable{
		entries:   make([]Entry, b.numPages),
		numPages:  b.numPages,
		numFrames: b.numFrames,
		handler:   b.handler,
	}
	pt.virtual = &VirtualMemory{
		pt:     pt,
		base:   b.virtualBase,
		length: b.numPages * PageSize,
	}
	pt.physical = &PhysicalMemory{
		base:    b.physicalBase,
		data:    data,
		release: release,
	}

	err = register(pt)
	if err != nil {
		return nil, errors.Join(err, release())
	}

	return pt, nil
}
