package abi

import (
	"encoding/binary"
	"fmt"
)

// cursor walks a borrowed byte range, handing out bounds-checked subslices
// of the backing buffer. It never copies and never allocates; every advance
// is validated against the remaining length.
type cursor struct {
	buf []byte
	off int
}

func newCursor(buf []byte) cursor {
	return cursor{buf: buf}
}

// remaining returns how many unread bytes are left.
func (c *cursor) remaining() int {
	return len(c.buf) - c.off
}

// take returns the next n bytes as a capped subslice of the backing buffer
// and advances the cursor past them.
func (c *cursor) take(n int) ([]byte, error) {
	if n < 0 || c.remaining() < n {
		return nil, fmt.Errorf("%w: need %d bytes at offset %d, have %d",
			ErrShortBuffer, n, c.off, c.remaining())
	}
	b := c.buf[c.off : c.off+n : c.off+n]
	c.off += n
	return b, nil
}

// uint64 reads a little-endian 64-bit word and advances past it.
func (c *cursor) uint64() (uint64, error) {
	b, err := c.take(wordSize)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}
