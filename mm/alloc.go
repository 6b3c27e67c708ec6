package mm

import (
	"math"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/memmgr/memutils/layout"
	"github.com/vkngwrapper/memmgr/memutils/tag"
	"golang.org/x/exp/slog"
)

// Alloc returns a pointer to at least size usable bytes. The payload sits on a
// 32-byte boundary plus one tag and its contents are unspecified.
//
// A size of zero returns Null and no error. When the heap cannot be grown, Alloc
// returns Null and an error matching ErrOutOfMemory, and the heap is unchanged.
func (a *Allocator) Alloc(size int) (Ptr, error) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	if err := a.requireInit("Alloc"); err != nil {
		return Null, err
	}

	ptr, err := a.alloc(size)
	a.logCall("Allocator::Alloc", slog.Int("Size", size), slog.Int("Ptr", int(ptr)), errorAttr(err))
	return ptr, err
}

// Calloc allocates room for n elements of size bytes each and zeroes them. It fails
// with ErrSizeOverflow if n*size cannot be represented.
func (a *Allocator) Calloc(n, size int) (Ptr, error) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	if err := a.requireInit("Calloc"); err != nil {
		return Null, err
	}

	ptr, err := a.calloc(n, size)
	a.logCall("Allocator::Calloc", slog.Int("Count", n), slog.Int("Size", size), slog.Int("Ptr", int(ptr)), errorAttr(err))
	return ptr, err
}

func (a *Allocator) calloc(n, size int) (Ptr, error) {
	if n < 0 || size < 0 {
		return Null, errors.Wrapf(ErrInvalidSize, "cannot allocate %d elements of %d bytes", n, size)
	}
	if n != 0 && size > math.MaxInt/n {
		return Null, errors.Wrapf(ErrSizeOverflow, "%d elements of %d bytes", n, size)
	}

	total := n * size
	ptr, err := a.alloc(total)
	if err != nil || ptr == Null {
		return ptr, err
	}

	payload := a.provider.Bytes()[int(ptr) : int(ptr)+total]
	for i := range payload {
		payload[i] = 0
	}

	return ptr, nil
}

func (a *Allocator) alloc(size int) (Ptr, error) {
	if size == 0 {
		return Null, nil
	}
	if size < 0 {
		return Null, errors.Wrapf(ErrInvalidSize, "cannot allocate %d bytes", size)
	}

	asize, ok := layout.AdjustedSize(size)
	if !ok {
		return Null, errors.Wrapf(ErrSizeOverflow, "a block for %d bytes cannot be sized", size)
	}

	b, found := a.strategy.SelectBlock(a.heap, asize)
	if !found {
		var err error
		b, err = a.extendHeap(asize)
		if err != nil {
			return Null, err
		}
	}

	if a.heap.Header(b).IsFree() {
		a.place(b, asize)
	}

	ptr := b.Payload()
	a.live.Put(ptr, size)
	a.allocatedBytes += a.heap.Header(b).Size()
	a.requestedBytes += size
	a.debugValidate()

	return ptr, nil
}

// place marks the free block b allocated for a request of asize bytes, splitting off
// the remainder as a new free block when it can hold a block of its own
func (a *Allocator) place(b layout.Block, asize int) {
	size := a.heap.Header(b).Size()
	remainder := size - asize

	if remainder < layout.MinBlockSize {
		a.heap.SetBlock(b, size, tag.Allocated)
		return
	}

	a.heap.SetBlock(b, asize, tag.Allocated)
	a.heap.SetBlock(b+layout.Block(asize), remainder, tag.Free)

	a.logDetail("Allocator::place split",
		slog.Int("Block", int(b)),
		slog.Int("Size", asize),
		slog.Int("Remainder", remainder))
}

// extendHeap grows the region by at least asize bytes and turns the new space into a
// block. Unless CoalesceOnExtend is set, the block is returned already allocated and
// spans the whole extension. Otherwise it is returned free, merged with a free block
// that ended at the old heap end, and the caller places the request into it.
func (a *Allocator) extendHeap(asize int) (layout.Block, error) {
	grow := a.extendSize
	if asize > grow {
		grow = asize
	}

	brk, err := a.provider.Extend(grow)
	if err != nil {
		return 0, wrapCause(err, ErrOutOfMemory, "could not extend the heap by %d bytes", grow)
	}

	oldEnd, err := a.heap.SetBreak(brk)
	if err != nil {
		return 0, a.violation(err, ErrCorruptHeap, "region break %d does not fit the heap", brk)
	}

	// The new block's header overwrites the old end sentinel
	b := oldEnd
	span := int(a.heap.End()) - int(oldEnd)

	a.logDetail("Allocator::extendHeap",
		slog.Int("Increment", grow),
		slog.Int("OldEnd", int(oldEnd)),
		slog.Int("NewEnd", int(a.heap.End())))

	if !a.coalesceOnExtend {
		a.heap.SetBlock(b, span, tag.Allocated)
		return b, nil
	}

	if a.heap.PrevFooter(b).IsFree() {
		prev := a.heap.Prev(b)
		span += a.heap.Header(prev).Size()
		b = prev

		a.logDetail("Allocator::extendHeap coalesce", slog.Int("Block", int(b)), slog.Int("Size", span))
	}
	a.heap.SetBlock(b, span, tag.Free)

	return b, nil
}

func errorAttr(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}

	return slog.Any("error", err)
}
