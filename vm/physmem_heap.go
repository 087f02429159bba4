//go:build !(linux || darwin || freebsd || netbsd || openbsd || dragonfly)

package vm

func mapPhysical(size int) ([]byte, func() error, error) {
	data := make([]byte, size)

	return data, func() error { return nil }, nil
}
