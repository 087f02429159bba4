package paging

import "math/rand"

// FrameState is what a VictimFinder knows about a frame.
type FrameState struct {
	// Page is the page that occupies the frame, or FreeFrame.
	Page int `json:"page"`

	// Dirty is set when the page may have been written since it was loaded.
	Dirty bool `json:"dirty"`

	// Age is the recency counter of the frame. Lower is older.
	Age int `json:"age"`
}

// A VictimFinder decides which frame should be reclaimed. It is only asked when
// every frame is occupied, and must return an index into frames.
type VictimFinder interface {
	FindVictim(frames []FrameState) int
}

// NewVictimFinder returns the victim finder that implements the policy.
// The seed is only used by PolicyRandom.
func NewVictimFinder(p Policy, seed int64) VictimFinder {
	switch p {
	case PolicyRandom:
		return NewRandomVictimFinder(seed)
	case PolicyFIFO:
		return NewFIFOVictimFinder()
	case PolicyCustom:
		return NewWriteAwareVictimFinder()
	default:
		panic("unknown policy " + p.String())
	}
}

// RandomVictimFinder picks a frame uniformly at random.
type RandomVictimFinder struct {
	rng *rand.Rand
}

// NewRandomVictimFinder returns a random victim finder with a fixed seed so
// that runs are repeatable.
func NewRandomVictimFinder(seed int64) *RandomVictimFinder {
	return &RandomVictimFinder{rng: rand.New(rand.NewSource(seed))}
}

// FindVictim returns a random frame.
func (f *RandomVictimFinder) FindVictim(frames []FrameState) int {
	return f.rng.Intn(len(frames))
}

// FIFOVictimFinder reclaims frames in the order their pages were loaded.
//
// Free frames are always taken lowest first, so the first round of loads fills
// frames 0, 1, 2 and so on, and every load after that reuses the frame just
// reclaimed. A cursor that advances over the frame indices therefore visits
// frames in load order.
type FIFOVictimFinder struct {
	next int
}

// NewFIFOVictimFinder returns a FIFO victim finder that starts at frame 0.
func NewFIFOVictimFinder() *FIFOVictimFinder {
	return &FIFOVictimFinder{}
}

// FindVictim returns the frame under the cursor and advances it.
func (f *FIFOVictimFinder) FindVictim(frames []FrameState) int {
	victim := f.next % len(frames)
	f.next = (victim + 1) % len(frames)

	return victim
}

// WriteAwareVictimFinder is an LRU that avoids write-backs. It finds the
// oldest clean frame and the oldest dirty frame, and evicts the clean one
// unless the dirty one is older by at least half the number of frames.
type WriteAwareVictimFinder struct{}

// NewWriteAwareVictimFinder returns a write-aware LRU victim finder.
func NewWriteAwareVictimFinder() *WriteAwareVictimFinder {
	return &WriteAwareVictimFinder{}
}

// FindVictim returns the selected frame. Among frames of equal age the lowest
// index wins.
func (f *WriteAwareVictimFinder) FindVictim(frames []FrameState) int {
	clean, dirty := -1, -1

	for i, frame := range frames {
		if frame.Dirty {
			if dirty == -1 || frame.Age < frames[dirty].Age {
				dirty = i
			}

			continue
		}

		if clean == -1 || frame.Age < frames[clean].Age {
			clean = i
		}
	}

	if clean == -1 {
		return dirty
	}

	if dirty == -1 {
		return clean
	}

	gap := frames[clean].Age - frames[dirty].Age
	threshold := len(frames) / 2

	if gap < threshold {
		return clean
	}

	return dirty
}
