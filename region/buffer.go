package region

import (
	"os"

	"github.com/pkg/errors"
	"github.com/vkngwrapper/memmgr/memutils"
)

// DefaultMaxSize caps a Buffer whose options leave MaxSize blank. It is equal to 1Gb.
const DefaultMaxSize int = 1 << 30

// BufferOptions configures a Buffer
type BufferOptions struct {
	// MaxSize caps the break. Zero means DefaultMaxSize.
	MaxSize int
	// PageSize is reported from PageSize. Zero means os.Getpagesize().
	PageSize int
}

// Buffer is a Provider backed by an ordinary Go slice. Growth may move the
// backing array, so slices from Bytes must not be held across Extend.
type Buffer struct {
	buf      []byte
	maxSize  int
	pageSize int
}

var _ Provider = &Buffer{}

func NewBuffer(options BufferOptions) (*Buffer, error) {
	pageSize := options.PageSize
	if pageSize == 0 {
		pageSize = os.Getpagesize()
	}
	if err := memutils.CheckPow2(pageSize, "page size"); err != nil {
		return nil, err
	}
	if options.MaxSize < 0 {
		return nil, errors.Wrapf(memutils.RangeError, "buffer max size must not be negative, was %d", options.MaxSize)
	}

	maxSize := options.MaxSize
	if maxSize == 0 {
		maxSize = DefaultMaxSize
	}

	return &Buffer{
		maxSize:  maxSize,
		pageSize: pageSize,
	}, nil
}

func (b *Buffer) Bytes() []byte {
	return b.buf
}

func (b *Buffer) Size() int {
	return len(b.buf)
}

func (b *Buffer) PageSize() int {
	return b.pageSize
}

// MaxSize returns the largest break the buffer will grow to
func (b *Buffer) MaxSize() int {
	return b.maxSize
}

func (b *Buffer) Extend(n int) (int, error) {
	if err := checkIncrement(len(b.buf), n, b.maxSize); err != nil {
		return len(b.buf), err
	}

	newSize := len(b.buf) + n
	if newSize > cap(b.buf) {
		newCap := 2 * cap(b.buf)
		if newCap < newSize {
			newCap = newSize
		}
		if newCap > b.maxSize {
			newCap = b.maxSize
		}

		grown := make([]byte, len(b.buf), newCap)
		copy(grown, b.buf)
		b.buf = grown
	}

	b.buf = b.buf[:newSize]
	return newSize, nil
}
