// Package disk provides the block store that backs the simulated virtual
// memory.
//
// A Disk is a plain file divided into fixed-size blocks. Block n holds the
// contents of virtual page n whenever the page is not resident. The store is
// disposable: it is created empty for every run and removed when it is
// closed.
package disk

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
)

// BlockSize is the number of bytes in a block. It equals the page size of the
// simulated memory.
const BlockSize = 4096

// A Disk is a block addressable store kept in a file.
type Disk struct {
	file      *os.File
	name      string
	numBlocks int
}

// Open creates or truncates the file at name and sizes it to hold exactly
// numBlocks zero-filled blocks.
func Open(name string, numBlocks int) (*Disk, error) {
	if numBlocks <= 0 {
		return nil, fmt.Errorf("disk %s: number of blocks must be positive, got %d",
			name, numBlocks)
	}

	f, err := os.OpenFile(name, os.O_CREATE|os.O_TRUNC|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("disk %s: %w", name, err)
	}

	err = f.Truncate(int64(numBlocks) * BlockSize)
	if err != nil {
		return nil, errors.Join(
			fmt.Errorf("disk %s: cannot size to %d blocks: %w", name, numBlocks, err),
			f.Close(),
			os.Remove(name),
		)
	}

	d := &Disk{
		file:      f,
		name:      name,
		numBlocks: numBlocks,
	}

	return d, nil
}

// Name returns the path of the file that keeps the blocks.
func (d *Disk) Name() string {
	return d.name
}

// NumBlocks returns the capacity of the disk in blocks.
func (d *Disk) NumBlocks() int {
	return d.numBlocks
}

// WriteBlock stores the first BlockSize bytes of data in the given block. An
// invalid block number or a short write panics.
func (d *Disk) WriteBlock(block int, data []byte) {
	d.blockMustBeValid("write", block, data)

	n, err := d.file.WriteAt(data[:BlockSize], d.offset(block))
	if n != BlockSize {
		log.Panicf("disk_write: failed to write block #%d: %v", block, err)
	}
}

// ReadBlock fills the first BlockSize bytes of data with the given block. An
// invalid block number or a short read panics.
func (d *Disk) ReadBlock(block int, data []byte) {
	d.blockMustBeValid("read", block, data)

	n, err := d.file.ReadAt(data[:BlockSize], d.offset(block))
	if n != BlockSize {
		if err == nil {
			err = io.ErrUnexpectedEOF
		}

		log.Panicf("disk_read: failed to read block #%d: %v", block, err)
	}
}

// Close releases the file and removes it. Closing a closed disk does nothing.
func (d *Disk) Close() error {
	if d.file == nil {
		return nil
	}

	err := d.file.Close()
	d.file = nil

	return errors.Join(err, os.Remove(d.name))
}

func (d *Disk) offset(block int) int64 {
	return int64(block) * BlockSize
}

func (d *Disk) blockMustBeValid(op string, block int, data []byte) {
	if d.file == nil {
		log.Panicf("disk_%s: disk %s is closed", op, d.name)
	}

	if block < 0 || block >= d.numBlocks {
		log.Panicf("disk_%s: invalid block #%d", op, block)
	}

	if len(data) < BlockSize {
		log.Panicf("disk_%s: buffer of %d bytes is smaller than a block",
			op, len(data))
	}
}
