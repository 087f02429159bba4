package vm

import (
	"errors"
	"fmt"
	"sync/atomic"
)

// ErrTableActive is returned when a page table is built while another one is
// still receiving traps.
var ErrTableActive = errors.New("vm: another page table is active")

// active is the page table that receives all traps of the process.
var active atomic.Pointer[PageTable]

// Active returns the page table traps are currently routed to, or nil.
func Active() *PageTable {
	return active.Load()
}

func register(pt *PageTable) error {
	if !active.CompareAndSwap(nil, pt) {
		return ErrTableActive
	}

	return nil
}

func deregister(pt *PageTable) {
	active.CompareAndSwap(pt, nil)
}

// A SegmentationFault is raised, as a panic value, by an access that no
// active page table can resolve.
type SegmentationFault struct {
	Addr  uint64
	Write bool
}

func (e *SegmentationFault) Error() string {
	return fmt.Sprintf("segmentation fault at address %#x", e.Addr)
}

// trap routes an access through view of pt that lacked permissions. Only the
// active table services traps; a view of a destroyed or inactive table
// faults. The handler runs on the faulting goroutine and the access is
// retried by the caller once it returns.
func trap(pt *PageTable, addr uint64, write bool) {
	if pt.destroyed || active.Load() != pt {
		panic(&SegmentationFault{Addr: addr, Write: write})
	}

	page, ok := pt.pageOf(addr)
	if !ok {
		panic(&SegmentationFault{Addr: addr, Write: write})
	}

	pt.serviceTrap(page, addr, write)
}
