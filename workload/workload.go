// Package workload provides the access patterns that exercise the simulated
// memory. Each program performs ordinary byte loads and stores over the whole
// range and returns a checksum of what it read back.
package workload

import (
	"errors"
	"fmt"
)

// ErrUnknownProgram is returned when a program name is not recognized.
var ErrUnknownProgram = errors.New("unknown program")

// Memory is a byte addressable range. *vm.VirtualMemory implements it.
type Memory interface {
	Len() int
	Load(off int) byte
	Store(off int, value byte)
}

// Progress receives the number of bytes a program has processed.
type Progress interface {
	IncrementFinished(amount uint64)
}

// Program selects an access pattern.
type Program int

// The available programs.
const (
	Sort Program = iota
	Scan
	Focus
)

// ParseProgram converts a command-line name into a Program.
func ParseProgram(name string) (Program, error) {
	switch name {
	case "sort":
		return Sort, nil
	case "scan":
		return Scan, nil
	case "focus":
		return Focus, nil
	default:
		return 0, fmt.Errorf("%w: %s", ErrUnknownProgram, name)
	}
}

func (p Program) String() string {
	switch p {
	case Sort:
		return "sort"
	case Scan:
		return "scan"
	case Focus:
		return "focus"
	default:
		return fmt.Sprintf("Program(%d)", int(p))
	}
}

// Run executes the program over mem and returns its checksum. progress may be
// nil.
func Run(p Program, mem Memory, progress Progress) int {
	if progress == nil {
		progress = noProgress{}
	}

	switch p {
	case Sort:
		return runSort(mem, progress)
	case Scan:
		return runScan(mem, progress)
	case Focus:
		return runFocus(mem, progress)
	default:
		panic("unknown program " + p.String())
	}
}

// Steps returns the total amount a program reports to Progress on a range of
// length bytes.
func Steps(p Program, length int) uint64 {
	n := uint64(length)

	switch p {
	case Sort:
		return 3 * n
	case Scan:
		return (1 + scanPasses) * n
	case Focus:
		return 2*n + focusBursts*focusWritesPerBurst
	default:
		return 0
	}
}

type noProgress struct{}

func (noProgress) IncrementFinished(uint64) {}
