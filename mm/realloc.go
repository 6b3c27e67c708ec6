package mm

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/memmgr/memutils/layout"
	"golang.org/x/exp/slog"
)

// Realloc resizes the allocation at ptr to size bytes and returns its new location.
// Realloc(Null, size) behaves like Alloc and Realloc(ptr, 0) like Free. A block that
// is already large enough is kept in place; otherwise the contents are moved to a
// new allocation and the old one is freed. If that allocation fails, ptr is left
// untouched and remains valid.
func (a *Allocator) Realloc(ptr Ptr, size int) (Ptr, error) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	if err := a.requireInit("Realloc"); err != nil {
		return Null, err
	}

	newPtr, err := a.realloc(ptr, size)
	a.logCall("Allocator::Realloc", slog.Int("Ptr", int(ptr)), slog.Int("Size", size), slog.Int("NewPtr", int(newPtr)), errorAttr(err))
	return newPtr, err
}

func (a *Allocator) realloc(ptr Ptr, size int) (Ptr, error) {
	if ptr == Null {
		return a.alloc(size)
	}
	if size == 0 {
		return Null, a.free(ptr)
	}

	b, err := a.liveBlock(ptr, "Realloc")
	if err != nil {
		return Null, err
	}
	if size < 0 {
		return Null, errors.Wrapf(ErrInvalidSize, "cannot resize %d to %d bytes", ptr, size)
	}

	asize, ok := layout.AdjustedSize(size)
	if !ok {
		return Null, errors.Wrapf(ErrSizeOverflow, "a block for %d bytes cannot be sized", size)
	}

	blockSize := a.heap.Header(b).Size()
	if blockSize >= asize {
		requested, _ := a.live.Get(ptr)
		a.requestedBytes += size - requested
		a.live.Put(ptr, size)
		return ptr, nil
	}

	newPtr, err := a.alloc(size)
	if err != nil {
		return Null, err
	}

	moved := blockSize - layout.Overhead
	if size < moved {
		moved = size
	}

	// alloc may have grown the region, so the backing slice is fetched afterwards
	mem := a.provider.Bytes()
	copy(mem[int(newPtr):int(newPtr)+moved], mem[int(ptr):int(ptr)+moved])

	if err := a.free(ptr); err != nil {
		return Null, err
	}

	return newPtr, nil
}

// Bytes returns the usable payload of the live allocation at ptr. The slice aliases
// the region and is invalidated by the allocation being freed or by any call that
// grows the heap, since growing may move the region's backing memory.
func (a *Allocator) Bytes(ptr Ptr) ([]byte, error) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	if err := a.requireInit("Bytes"); err != nil {
		return nil, err
	}

	b, err := a.liveBlock(ptr, "Bytes")
	if err != nil {
		return nil, err
	}

	start := int(ptr)
	end := start + a.heap.Header(b).Size() - layout.Overhead
	return a.provider.Bytes()[start:end:end], nil
}

// UsableSize returns the number of payload bytes the block at ptr can hold. It may
// exceed the size originally requested.
func (a *Allocator) UsableSize(ptr Ptr) (int, error) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	if err := a.requireInit("UsableSize"); err != nil {
		return 0, err
	}

	b, err := a.liveBlock(ptr, "UsableSize")
	if err != nil {
		return 0, err
	}

	return a.heap.Header(b).Size() - layout.Overhead, nil
}
