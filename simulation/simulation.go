// Package simulation wires the backing store, the fault engine, the page
// table, and the optional recorder and monitor into one runnable simulator.
package simulation

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/sarchlab/virtmem/datarecording"
	"github.com/sarchlab/virtmem/disk"
	"github.com/sarchlab/virtmem/monitoring"
	"github.com/sarchlab/virtmem/paging"
	"github.com/sarchlab/virtmem/tracing"
	"github.com/sarchlab/virtmem/vm"
	"github.com/sarchlab/virtmem/workload"
)

// Result is what a workload run reports.
type Result struct {
	Program  workload.Program
	Checksum int
	Stats    paging.Stats
}

// A Simulation owns every resource of one simulator run.
type Simulation struct {
	id string

	disk   *disk.Disk
	engine *paging.Engine
	table  *vm.PageTable

	counter      *tracing.FaultCounter
	dataRecorder datarecording.DataRecorder
	runRecorder  *datarecording.RunRecorder
	monitor      *monitoring.Monitor

	terminateOnce sync.Once
}

// ID returns the unique ID of the run.
func (s *Simulation) ID() string {
	return s.id
}

// Engine returns the fault engine.
func (s *Simulation) Engine() *paging.Engine {
	return s.engine
}

// PageTable returns the page table.
func (s *Simulation) PageTable() *vm.PageTable {
	return s.table
}

// Disk returns the backing store.
func (s *Simulation) Disk() *disk.Disk {
	return s.disk
}

// FaultCounter returns the per-page fault counts of the run.
func (s *Simulation) FaultCounter() *tracing.FaultCounter {
	return s.counter
}

// Monitor returns the monitor, or nil if monitoring is off.
func (s *Simulation) Monitor() *monitoring.Monitor {
	return s.monitor
}

// Run executes the program over the whole virtual region.
func (s *Simulation) Run(p workload.Program) Result {
	mem := s.table.Virtual()

	var progress workload.Progress
	if s.monitor != nil {
		bar := s.monitor.CreateProgressBar(p.String(), workload.Steps(p, mem.Len()))
		defer s.monitor.CompleteProgressBar(bar)

		progress = bar
	}

	checksum := workload.Run(p, mem, progress)

	result := Result{
		Program:  p,
		Checksum: checksum,
		Stats:    s.engine.Stats(),
	}

	if s.runRecorder != nil {
		s.runRecorder.Set("Program", p.String())
		s.runRecorder.Set("Checksum", fmt.Sprint(result.Checksum))
		s.runRecorder.Set("Page Faults", fmt.Sprint(result.Stats.PageFaults))
		s.runRecorder.Set("Disk Reads", fmt.Sprint(result.Stats.DiskReads))
		s.runRecorder.Set("Disk Writes", fmt.Sprint(result.Stats.DiskWrites))
	}

	return result
}

// Terminate releases the page table, removes the backing file, and closes the
// trace database. It can be called more than once.
func (s *Simulation) Terminate() {
	s.terminateOnce.Do(func() {
		err := s.terminate()
		if err != nil {
			fmt.Fprintf(os.Stderr, "virtmem: cleanup: %v\n", err)
		}
	})
}

func (s *Simulation) terminate() error {
	var errs []error

	if s.monitor != nil {
		errs = append(errs, s.monitor.StopServer())
	}

	if s.runRecorder != nil {
		s.runRecorder.End()
	}

	if s.dataRecorder != nil {
		errs = append(errs, s.dataRecorder.Close())
	}

	s.table.Destroy()
	errs = append(errs, s.disk.Close())

	return errors.Join(errs...)
}
