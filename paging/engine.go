// Package paging implements the fault handler that drives a vm.PageTable: it
// hands out free frames, widens permissions on write-after-read, and evicts a
// victim chosen by a VictimFinder when memory is full.
package paging

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"github.com/sarchlab/virtmem/hooking"
	"github.com/sarchlab/virtmem/vm"
)

// FreeFrame is the reverse map value of a frame that holds no page.
const FreeFrame = -1

const (
	ageBaseline = 0

	// Every agingInterval counted faults, every frame gets one tick older.
	agingInterval = 5
)

var (
	// HookPosPageFault is invoked after a page is loaded into a frame. The
	// item is a FaultEvent.
	HookPosPageFault = &hooking.HookPos{Name: "PageFault"}

	// HookPosWriteUpgrade is invoked after a resident read-only page becomes
	// writable. The item is a FaultEvent.
	HookPosWriteUpgrade = &hooking.HookPos{Name: "WriteUpgrade"}

	// HookPosEviction is invoked once a victim frame is chosen, before its
	// page is written back or dropped. The item is a FaultEvent whose Page is
	// the page being loaded.
	HookPosEviction = &hooking.HookPos{Name: "Eviction"}

	// HookPosWriteBack is invoked after a dirty victim is written to its
	// block. The item is a FaultEvent.
	HookPosWriteBack = &hooking.HookPos{Name: "WriteBack"}
)

// A BlockDevice stores one block per virtual page. *disk.Disk is the
// implementation used by the simulator.
type BlockDevice interface {
	ReadBlock(block int, data []byte)
	WriteBlock(block int, data []byte)
	NumBlocks() int
}

// FaultKind tells a load apart from a permission upgrade.
type FaultKind string

// The kinds of trap the engine services.
const (
	FaultKindLoad         FaultKind = "load"
	FaultKindWriteUpgrade FaultKind = "write_upgrade"
	FaultKindEviction     FaultKind = "eviction"
	FaultKindWriteBack    FaultKind = "write_back"
)

// A FaultEvent describes one serviced trap.
type FaultEvent struct {
	// Seq is the number of counted page faults when the event happened.
	Seq       uint64
	Kind      FaultKind
	Page      int
	Frame     int
	Victim    int
	WroteBack bool
}

// Stats are the counters reported at the end of a run.
type Stats struct {
	PageFaults uint64 `json:"page_faults"`
	DiskReads  uint64 `json:"disk_reads"`
	DiskWrites uint64 `json:"disk_writes"`
}

// Engine is the fault handler. It owns the reverse map from frames to pages
// and the per-frame ages.
type Engine struct {
	hooking.HookableBase

	// mu guards the bookkeeping against snapshots taken by the monitor.
	mu           sync.Mutex
	numFrames    int
	device       BlockDevice
	victimFinder VictimFinder
	reverseMap   []int
	ages         []int
	frameStates  []FrameState

	pageFaults atomic.Uint64
	diskReads  atomic.Uint64
	diskWrites atomic.Uint64
}

// HandleFault services a trap on page. It implements vm.FaultHandler.
func (e *Engine) HandleFault(pt *vm.PageTable, page int) {
	e.tableMustMatch(pt)

	e.mu.Lock()
	defer e.mu.Unlock()

	frame, bits := pt.GetEntry(page)
	if bits.Has(vm.BitRead) {
		e.upgradeToWrite(pt, page, frame, bits)
		return
	}

	e.load(pt, page)
}

// upgradeToWrite handles a write to a resident read-only page. The page is
// already in memory, so this is not counted as a fault.
func (e *Engine) upgradeToWrite(pt *vm.PageTable, page, frame int, bits vm.Bits) {
	pt.SetEntry(page, frame, bits|vm.BitWrite)
	e.ages[frame] = ageBaseline

	e.invokeHook(HookPosWriteUpgrade, FaultEvent{
		Seq:    e.pageFaults.Load(),
		Kind:   FaultKindWriteUpgrade,
		Page:   page,
		Frame:  frame,
		Victim: FreeFrame,
	})
}

func (e *Engine) load(pt *vm.PageTable, page int) {
	seq := e.pageFaults.Add(1)
	if seq%agingInterval == 0 {
		for i := range e.ages {
			e.ages[i]--
		}
	}

	victim := FreeFrame
	wroteBack := false

	frame := e.findFreeFrame()
	if frame == FreeFrame {
		frame = e.findVictim(pt)
		victim = e.reverseMap[frame]

		e.invokeHook(HookPosEviction, FaultEvent{
			Seq:    seq,
			Kind:   FaultKindEviction,
			Page:   page,
			Frame:  frame,
			Victim: victim,
		})

		wroteBack = e.writeBackIfDirty(pt, seq, page, victim, frame)
	}

	e.device.ReadBlock(page, pt.Physical().Frame(frame))
	e.diskReads.Add(1)

	if victim != FreeFrame {
		pt.SetEntry(victim, frame, 0)
	}

	pt.SetEntry(page, frame, vm.BitRead)
	e.ages[frame] = ageBaseline
	e.reverseMap[frame] = page

	e.invokeHook(HookPosPageFault, FaultEvent{
		Seq:       seq,
		Kind:      FaultKindLoad,
		Page:      page,
		Frame:     frame,
		Victim:    victim,
		WroteBack: wroteBack,
	})
}

func (e *Engine) findFreeFrame() int {
	for frame, page := range e.reverseMap {
		if page == FreeFrame {
			return frame
		}
	}

	return FreeFrame
}

func (e *Engine) findVictim(pt *vm.PageTable) int {
	for frame, page := range e.reverseMap {
		_, bits := pt.GetEntry(page)
		e.frameStates[frame] = FrameState{
			Page:  page,
			Dirty: bits.Has(vm.BitWrite),
			Age:   e.ages[frame],
		}
	}

	victim := e.victimFinder.FindVictim(e.frameStates)
	if victim < 0 || victim >= e.numFrames {
		log.Panicf("paging: victim finder returned illegal frame #%d", victim)
	}

	return victim
}

func (e *Engine) writeBackIfDirty(
	pt *vm.PageTable,
	seq uint64,
	page, victim, frame int,
) bool {
	_, bits := pt.GetEntry(victim)
	if !bits.Has(vm.BitWrite) {
		return false
	}

	e.device.WriteBlock(victim, pt.Physical().Frame(frame))
	e.diskWrites.Add(1)

	e.invokeHook(HookPosWriteBack, FaultEvent{
		Seq:       seq,
		Kind:      FaultKindWriteBack,
		Page:      page,
		Frame:     frame,
		Victim:    victim,
		WroteBack: true,
	})

	return true
}

func (e *Engine) invokeHook(pos *hooking.HookPos, event FaultEvent) {
	if e.NumHooks() == 0 {
		return
	}

	e.InvokeHook(hooking.HookCtx{
		Domain: e,
		Pos:    pos,
		Seq:    event.Seq,
		Item:   event,
	})
}

func (e *Engine) tableMustMatch(pt *vm.PageTable) {
	if pt.NumFrames() != e.numFrames {
		log.Panicf("paging: engine built for %d frames serves a table of %d frames",
			e.numFrames, pt.NumFrames())
	}

	if pt.NumPages() > e.device.NumBlocks() {
		log.Panicf("paging: %d pages do not fit a device of %d blocks",
			pt.NumPages(), e.device.NumBlocks())
	}
}

// Stats returns the counters. It is safe to call from any goroutine.
func (e *Engine) Stats() Stats {
	return Stats{
		PageFaults: e.pageFaults.Load(),
		DiskReads:  e.diskReads.Load(),
		DiskWrites: e.diskWrites.Load(),
	}
}

// Frames returns the state of every frame. It is safe to call from any
// goroutine while pt is alive.
func (e *Engine) Frames(pt *vm.PageTable) []FrameState {
	entries := pt.Snapshot()

	e.mu.Lock()
	defer e.mu.Unlock()

	frames := make([]FrameState, e.numFrames)
	for frame, page := range e.reverseMap {
		frames[frame] = FrameState{Page: page, Age: e.ages[frame]}
		if page != FreeFrame && page < len(entries) {
			frames[frame].Dirty = entries[page].Bits.Has(vm.BitWrite)
		}
	}

	return frames
}

// CheckConsistency verifies that the page table and the reverse map describe
// the same mapping: a page is resident exactly when the reverse map points
// its frame back at it, and no frame holds two pages.
func (e *Engine) CheckConsistency(pt *vm.PageTable) error {
	entries := pt.Snapshot()

	e.mu.Lock()
	defer e.mu.Unlock()

	var errs []error

	owner := make(map[int]int)
	for page, entry := range entries {
		if !entry.Resident() {
			continue
		}

		if entry.Frame < 0 || entry.Frame >= e.numFrames {
			errs = append(errs, fmt.Errorf("page %d maps to illegal frame %d", page, entry.Frame))
			continue
		}

		if other, taken := owner[entry.Frame]; taken {
			errs = append(errs, fmt.Errorf("pages %d and %d share frame %d",
				other, page, entry.Frame))
		}
		owner[entry.Frame] = page

		if e.reverseMap[entry.Frame] != page {
			errs = append(errs, fmt.Errorf("page %d is in frame %d, reverse map says %d",
				page, entry.Frame, e.reverseMap[entry.Frame]))
		}
	}

	for frame, page := range e.reverseMap {
		if page == FreeFrame {
			continue
		}

		if page < 0 || page >= len(entries) {
			errs = append(errs, fmt.Errorf("frame %d holds illegal page %d", frame, page))
			continue
		}

		entry := entries[page]
		if !entry.Resident() || entry.Frame != frame {
			errs = append(errs, fmt.Errorf("frame %d holds page %d, page table says frame %d bits %s",
				frame, page, entry.Frame, entry.Bits))
		}
	}

	return errors.Join(errs...)
}
