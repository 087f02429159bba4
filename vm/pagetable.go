// Package vm emulates a page table that maps a large virtual region onto a
// small set of physical frames.
//
// The virtual region is only reachable through a VirtualMemory view. An access
// to a page that lacks the required permission traps: the active page table
// resolves the page index and calls its FaultHandler on the same goroutine,
// then the access is retried.
package vm

import (
	"fmt"
	"io"
	"log"
	"sync"

	"github.com/sarchlab/virtmem/hooking"
)

// PageSize is the size of a page and of a frame in bytes.
const PageSize = 4096

const log2PageSize = 12

// HookPosTrap is invoked right before the fault handler runs. The item is a
// Trap.
var HookPosTrap = &hooking.HookPos{Name: "Trap"}

// A Trap describes an access that lacked permission.
type Trap struct {
	Page  int
	Addr  uint64
	Write bool
}

// A FaultHandler resolves a trap on a page. It must either widen the
// permissions of the page or install a new mapping before returning;
// otherwise the access traps again.
type FaultHandler interface {
	HandleFault(pt *PageTable, page int)
}

// FaultHandlerFunc adapts a function to the FaultHandler interface.
type FaultHandlerFunc func(pt *PageTable, page int)

// HandleFault calls f(pt, page).
func (f FaultHandlerFunc) HandleFault(pt *PageTable, page int) {
	f(pt, page)
}

// An Entry is the state of one virtual page. Frame is meaningful only when
// Bits is not empty.
type Entry struct {
	Frame int  `json:"frame"`
	Bits  Bits `json:"bits"`
}

// Resident reports whether the page occupies a frame.
func (e Entry) Resident() bool {
	return e.Bits != 0
}

// A PageTable maps virtual pages to physical frames.
//
// Entries are only modified by the goroutine that runs the workload. The lock
// lets other goroutines take snapshots while the workload runs.
type PageTable struct {
	hooking.HookableBase

	sync.RWMutex
	entries   []Entry
	numPages  int
	numFrames int
	numTraps  uint64
	destroyed bool

	handler  FaultHandler
	virtual  *VirtualMemory
	physical *PhysicalMemory
}

// NumPages returns the number of pages of the virtual region.
func (pt *PageTable) NumPages() int {
	return pt.numPages
}

// NumFrames returns the number of frames of the physical region.
func (pt *PageTable) NumFrames() int {
	return pt.numFrames
}

// NumTraps returns how many accesses have trapped so far.
func (pt *PageTable) NumTraps() uint64 {
	pt.RLock()
	defer pt.RUnlock()

	return pt.numTraps
}

// Virtual returns the view of the virtual region.
func (pt *PageTable) Virtual() *VirtualMemory {
	return pt.virtual
}

// Physical returns the view of the physical region.
func (pt *PageTable) Physical() *PhysicalMemory {
	return pt.physical
}

// VirtualBase returns the address of the first byte of the virtual region.
func (pt *PageTable) VirtualBase() uint64 {
	return pt.virtual.base
}

// PhysicalBase returns the address of the first byte of the physical region.
func (pt *PageTable) PhysicalBase() uint64 {
	return pt.physical.base
}

// SetEntry maps page to frame with the given permissions. Empty bits unmap
// the page. Invalid indices panic.
func (pt *PageTable) SetEntry(page, frame int, bits Bits) {
	pt.mustBeAlive("SetEntry")
	pt.pageMustBeValid("SetEntry", page)

	if frame < 0 || frame >= pt.numFrames {
		log.Panicf("vm: SetEntry: illegal frame #%d", frame)
	}

	if bits&^allBits != 0 {
		log.Panicf("vm: SetEntry: illegal bits %#x for page #%d", uint8(bits), page)
	}

	pt.Lock()
	pt.entries[page] = Entry{Frame: frame, Bits: bits}
	pt.Unlock()
}

// GetEntry returns the frame and the permissions of page. An invalid page
// panics.
func (pt *PageTable) GetEntry(page int) (frame int, bits Bits) {
	pt.mustBeAlive("GetEntry")
	pt.pageMustBeValid("GetEntry", page)

	e := pt.entries[page]

	return e.Frame, e.Bits
}

// Snapshot returns a copy of all the entries.
func (pt *PageTable) Snapshot() []Entry {
	pt.RLock()
	defer pt.RUnlock()

	entries := make([]Entry, len(pt.entries))
	copy(entries, pt.entries)

	return entries
}

// PrintEntry writes one line describing page to w.
func (pt *PageTable) PrintEntry(w io.Writer, page int) error {
	frame, bits := pt.GetEntry(page)

	_, err := fmt.Fprintf(w, "page %06d: frame %06d bits %s\n", page, frame, bits)

	return err
}

// Print writes every entry of the table to w.
func (pt *PageTable) Print(w io.Writer) error {
	for page := 0; page < pt.numPages; page++ {
		err := pt.PrintEntry(w, page)
		if err != nil {
			return err
		}
	}

	return nil
}

// Destroy releases both regions and stops routing traps to the table.
// Destroying a destroyed table does nothing.
func (pt *PageTable) Destroy() {
	pt.Lock()
	defer pt.Unlock()

	if pt.destroyed {
		return
	}

	pt.destroyed = true
	pt.entries = nil

	err := pt.physical.release()
	if err != nil {
		log.Printf("vm: releasing physical memory: %v", err)
	}
	pt.physical.data = nil

	deregister(pt)
}

// accessible returns the entry that backs the byte at off if the page grants
// want.
func (pt *PageTable) accessible(off int, want Bits) (Entry, bool) {
	if pt.destroyed || off < 0 || off >= pt.numPages*PageSize {
		return Entry{}, false
	}

	e := pt.entries[off>>log2PageSize]
	if !e.Bits.Has(want) {
		return Entry{}, false
	}

	return e, true
}

func (pt *PageTable) pageOf(addr uint64) (int, bool) {
	base := pt.virtual.base
	if pt.destroyed || addr < base {
		return 0, false
	}

	page := (addr - base) / PageSize
	if page >= uint64(pt.numPages) {
		return 0, false
	}

	return int(page), true
}

func (pt *PageTable) serviceTrap(page int, addr uint64, write bool) {
	pt.Lock()
	pt.numTraps++
	seq := pt.numTraps
	pt.Unlock()

	if pt.NumHooks() > 0 {
		pt.InvokeHook(hooking.HookCtx{
			Domain: pt,
			Pos:    HookPosTrap,
			Seq:    seq,
			Item:   Trap{Page: page, Addr: addr, Write: write},
		})
	}

	pt.handler.HandleFault(pt, page)
}

func (pt *PageTable) mustBeAlive(op string) {
	if pt.destroyed {
		log.Panicf("vm: %s: page table destroyed", op)
	}
}

func (pt *PageTable) pageMustBeValid(op string, page int) {
	if page < 0 || page >= pt.numPages {
		log.Panicf("vm: %s: illegal page #%d", op, page)
	}
}
