package pathbuf

import (
	"errors"

	"golang.org/x/sys/unix"
)

// MaxPathLen is the platform path-length ceiling a buffer can hold.
const MaxPathLen = unix.PathMax

// ErrCapacityExceeded is returned when an append would grow the buffer past
// its capacity.
var ErrCapacityExceeded = errors.New("pathbuf: capacity exceeded")

// Buffer is a fixed-capacity, length-tracked byte buffer for path
// manipulation. The length is maintained on every mutation so no operation
// ever rescans the contents.
type Buffer struct {
	buf [MaxPathLen]byte
	n   int
}

// New returns an empty buffer.
func New() *Buffer {
	return &Buffer{}
}

// NewFromString initializes a buffer from s, recording its length once.
func NewFromString(s string) (*Buffer, error) {
	b := &Buffer{}
	if err := b.Append(s); err != nil {
		return nil, err
	}
	return b, nil
}

// Append appends s in place.
func (b *Buffer) Append(s string) error {
	if b.n+len(s) > MaxPathLen {
		return ErrCapacityExceeded
	}
	copy(b.buf[b.n:], s)
	b.n += len(s)
	return nil
}

// AppendSeparator appends a path separator followed by suffix. A separator is
// not doubled when the buffer already ends with one.
func (b *Buffer) AppendSeparator(suffix string) error {
	sep := 0
	if b.n == 0 || b.buf[b.n-1] != '/' {
		sep = 1
	}
	if b.n+sep+len(suffix) > MaxPathLen {
		return ErrCapacityExceeded
	}
	if sep == 1 {
		b.buf[b.n] = '/'
		b.n++
	}
	copy(b.buf[b.n:], suffix)
	b.n += len(suffix)
	return nil
}

// Truncate shortens the buffer to n bytes. Truncating past the current
// length is a no-op.
func (b *Buffer) Truncate(n int) {
	if n >= 0 && n < b.n {
		b.n = n
	}
}

// Reset empties the buffer without releasing storage.
func (b *Buffer) Reset() {
	b.n = 0
}

// Path returns the current contents as a string.
func (b *Buffer) Path() string {
	return string(b.buf[:b.n])
}

// Bytes returns a view of the current contents. The slice aliases the
// buffer's storage and is invalidated by the next mutation.
func (b *Buffer) Bytes() []byte {
	return b.buf[:b.n]
}

// Len returns the tracked length.
func (b *Buffer) Len() int {
	return b.n
}
