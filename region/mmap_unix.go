//go:build unix

package region

import (
	"github.com/pkg/errors"
	"github.com/vkngwrapper/memmgr/memutils"
	"golang.org/x/sys/unix"
)

// Mmap is a Provider backed by an anonymous private mapping. The full capacity is
// reserved up front with no access rights, and pages are committed read-write as
// the break moves across them, so the backing array never moves.
type Mmap struct {
	mem      []byte
	size     int
	pageSize int
}

var _ Provider = &Mmap{}

// NewMmap reserves capacity bytes of address space, rounded up to the page size
func NewMmap(capacity int) (*Mmap, error) {
	pageSize := unix.Getpagesize()
	if capacity <= 0 {
		return nil, errors.Wrapf(memutils.RangeError, "mmap region capacity must be positive, was %d", capacity)
	}
	capacity = memutils.AlignUp(capacity, uint(pageSize))

	mem, err := unix.Mmap(-1, 0, capacity, unix.PROT_NONE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to reserve %d bytes", capacity)
	}

	return &Mmap{
		mem:      mem,
		pageSize: pageSize,
	}, nil
}

func (m *Mmap) Bytes() []byte {
	return m.mem[:m.size]
}

func (m *Mmap) Size() int {
	return m.size
}

func (m *Mmap) PageSize() int {
	return m.pageSize
}

// Capacity is the number of reserved bytes the break may grow into
func (m *Mmap) Capacity() int {
	return len(m.mem)
}

func (m *Mmap) Extend(n int) (int, error) {
	if m.mem == nil {
		return m.size, errors.New("mmap region used after Close")
	}
	if err := checkIncrement(m.size, n, len(m.mem)); err != nil {
		return m.size, err
	}

	newSize := m.size + n
	committed := memutils.AlignUp(m.size, uint(m.pageSize))
	required := memutils.AlignUp(newSize, uint(m.pageSize))
	if required > committed {
		err := unix.Mprotect(m.mem[committed:required], unix.PROT_READ|unix.PROT_WRITE)
		if err != nil {
			return m.size, errors.Wrapf(err, "failed to commit pages [%d, %d)", committed, required)
		}
	}

	m.size = newSize
	return newSize, nil
}

// Close unmaps the region. Any slice obtained from Bytes becomes invalid.
func (m *Mmap) Close() error {
	if m.mem == nil {
		return nil
	}

	err := unix.Munmap(m.mem)
	m.mem = nil
	m.size = 0
	return err
}
