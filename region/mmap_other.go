//go:build !unix

package region

import "github.com/pkg/errors"

// Mmap is unavailable on this platform; NewMmap always fails with ErrUnsupported
type Mmap struct {
	Buffer
}

func NewMmap(capacity int) (*Mmap, error) {
	return nil, errors.Wrap(ErrUnsupported, "mmap regions require a unix platform")
}

func (m *Mmap) Capacity() int {
	return 0
}

func (m *Mmap) Close() error {
	return nil
}
