package paging

import (
	"errors"
	"fmt"
)

// A Builder can build fault engines.
type Builder struct {
	numFrames    int
	policy       Policy
	seed         int64
	victimFinder VictimFinder
	device       BlockDevice
}

// MakeBuilder creates a builder that uses FIFO replacement.
func MakeBuilder() Builder {
	return Builder{
		policy: PolicyFIFO,
	}
}

// WithNumFrames sets the number of frames the engine manages. It must equal
// the number of frames of the page table the engine serves.
func (b Builder) WithNumFrames(n int) Builder {
	b.numFrames = n
	return b
}

// WithPolicy sets the replacement policy.
func (b Builder) WithPolicy(p Policy) Builder {
	b.policy = p
	return b
}

// WithSeed sets the seed of the random replacement policy.
func (b Builder) WithSeed(seed int64) Builder {
	b.seed = seed
	return b
}

// WithVictimFinder overrides the victim finder selected by the policy.
func (b Builder) WithVictimFinder(vf VictimFinder) Builder {
	b.victimFinder = vf
	return b
}

// WithBlockDevice sets where pages are loaded from and written back to.
func (b Builder) WithBlockDevice(d BlockDevice) Builder {
	b.device = d
	return b
}

func (b Builder) parametersMustBeValid() error {
	if b.numFrames <= 0 {
		return fmt.Errorf("paging: number of frames must be positive, got %d", b.numFrames)
	}

	if b.device == nil {
		return errors.New("paging: a block device is required")
	}

	if b.victimFinder == nil && (b.policy < PolicyRandom || b.policy > PolicyCustom) {
		return fmt.Errorf("%w: %s", ErrUnknownPolicy, b.policy)
	}

	return nil
}

// Build returns a new engine with every frame free.
func (b Builder) Build() (*Engine, error) {
	err := b.parametersMustBeValid()
	if err != nil {
		return nil, err
	}

	e := &Engine{
		numFrames:    b.numFrames,
		device:       b.device,
		victimFinder: b.victimFinder,
		reverseMap:   make([]int, b.numFrames),
		ages:         make([]int, b.numFrames),
		frameStates:  make([]FrameState, b.numFrames),
	}

	if e.victimFinder == nil {
		e.victimFinder = NewVictimFinder(b.policy, b.seed)
	}

	for i := range e.reverseMap {
		e.reverseMap[i] = FreeFrame
		e.ages[i] = ageBaseline
	}

	return e, nil
}
