package workload

import (
	"math/rand"
	"sort"
)

const (
	sortSeed  = 4856
	focusSeed = 38290

	scanPasses = 10

	focusBursts         = 100
	focusWritesPerBurst = 100
	focusWindow         = 25
)

// runScan writes a repeating 0..255 ramp, then sums the range several times.
// The sum treats bytes as unsigned.
func runScan(mem Memory, progress Progress) int {
	length := mem.Len()

	for i := 0; i < length; i++ {
		mem.Store(i, byte(i%256))
	}
	progress.IncrementFinished(uint64(length))

	var total uint32
	for pass := 0; pass < scanPasses; pass++ {
		for i := 0; i < length; i++ {
			total += uint32(mem.Load(i))
		}
		progress.IncrementFinished(uint64(length))
	}

	return int(int32(total))
}

// runSort fills the range with pseudo-random bytes and sorts it in place as
// signed bytes.
func runSort(mem Memory, progress Progress) int {
	rng := rand.New(rand.NewSource(sortSeed))
	length := mem.Len()

	for i := 0; i < length; i++ {
		mem.Store(i, byte(rng.Int31()))
	}
	progress.IncrementFinished(uint64(length))

	sort.Sort(signedBytes{mem})
	progress.IncrementFinished(uint64(length))

	total := signedSum(mem)
	progress.IncrementFinished(uint64(length))

	return total
}

// runFocus clears the range, then writes bursts of random values into small
// windows at random places.
func runFocus(mem Memory, progress Progress) int {
	rng := rand.New(rand.NewSource(focusSeed))
	length := mem.Len()

	for i := 0; i < length; i++ {
		mem.Store(i, 0)
	}
	progress.IncrementFinished(uint64(length))

	for burst := 0; burst < focusBursts; burst++ {
		start := rng.Intn(length)
		for i := 0; i < focusWritesPerBurst; i++ {
			off := (start + rng.Intn(focusWindow)) % length
			mem.Store(off, byte(rng.Int31()))
		}
		progress.IncrementFinished(focusWritesPerBurst)
	}

	total := signedSum(mem)
	progress.IncrementFinished(uint64(length))

	return total
}

func signedSum(mem Memory) int {
	total := 0
	for i := 0; i < mem.Len(); i++ {
		total += int(int8(mem.Load(i)))
	}

	return total
}

// signedBytes orders a Memory as a sequence of int8.
type signedBytes struct {
	mem Memory
}

func (s signedBytes) Len() int {
	return s.mem.Len()
}

func (s signedBytes) Less(i, j int) bool {
	return int8(s.mem.Load(i)) < int8(s.mem.Load(j))
}

func (s signedBytes) Swap(i, j int) {
	a, b := s.mem.Load(i), s.mem.Load(j)
	s.mem.Store(i, b)
	s.mem.Store(j, a)
}
