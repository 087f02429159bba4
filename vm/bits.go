package vm

import "strings"

// Bits is the set of access permissions of a page. The zero value grants no
// access, which marks the page as not resident.
type Bits uint8

// Access permissions. They can be ORed together.
const (
	BitRead Bits = 1 << iota
	BitWrite
	BitExec

	allBits = BitRead | BitWrite | BitExec
)

// Has reports whether every bit in want is set.
func (b Bits) Has(want Bits) bool {
	return b&want == want
}

// String renders the bits as in "rw-".
func (b Bits) String() string {
	var sb strings.Builder

	sb.WriteByte(flag(b, BitRead, 'r'))
	sb.WriteByte(flag(b, BitWrite, 'w'))
	sb.WriteByte(flag(b, BitExec, 'x'))

	return sb.String()
}

func flag(b, bit Bits, c byte) byte {
	if b&bit != 0 {
		return c
	}

	return '-'
}
