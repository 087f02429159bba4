package paging

import (
	"errors"
	"fmt"
)

// ErrUnknownPolicy is returned when a replacement policy name is not
// recognized.
var ErrUnknownPolicy = errors.New("unknown page replacement algorithm")

// Policy selects how a victim frame is chosen once every frame is in use.
type Policy int

// The supported replacement policies.
const (
	PolicyRandom Policy = iota
	PolicyFIFO
	PolicyCustom
)

// ParsePolicy converts a command-line name into a Policy. Both "rand" and
// "random" select PolicyRandom.
func ParsePolicy(name string) (Policy, error) {
	switch name {
	case "rand", "random":
		return PolicyRandom, nil
	case "fifo":
		return PolicyFIFO, nil
	case "custom":
		return PolicyCustom, nil
	default:
		return 0, fmt.Errorf("%w: %s", ErrUnknownPolicy, name)
	}
}

func (p Policy) String() string {
	switch p {
	case PolicyRandom:
		return "rand"
	case PolicyFIFO:
		return "fifo"
	case PolicyCustom:
		return "custom"
	default:
		return fmt.Sprintf("Policy(%d)", int(p))
	}
}
