package mm

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/memmgr/memutils/layout"
	"github.com/vkngwrapper/memmgr/memutils/tag"
	"golang.org/x/exp/slog"
)

// Free releases the allocation at ptr and merges it with any free neighbors. Freeing
// Null does nothing. Freeing a pointer this allocator did not hand out, or one that
// was already freed, is an invariant violation.
func (a *Allocator) Free(ptr Ptr) error {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	if err := a.requireInit("Free"); err != nil {
		return err
	}

	err := a.free(ptr)
	a.logCall("Allocator::Free", slog.Int("Ptr", int(ptr)), errorAttr(err))
	return err
}

func (a *Allocator) free(ptr Ptr) error {
	if ptr == Null {
		return nil
	}

	b, err := a.liveBlock(ptr, "Free")
	if err != nil {
		return err
	}

	requested, _ := a.live.Get(ptr)
	a.live.Delete(ptr)

	size := a.heap.Header(b).Size()
	a.allocatedBytes -= size
	a.requestedBytes -= requested

	a.heap.SetBlock(b, size, tag.Free)
	a.coalesce(b)
	a.debugValidate()

	return nil
}

// liveBlock returns the block behind ptr if ptr is the payload of a live allocation
func (a *Allocator) liveBlock(ptr Ptr, op string) (layout.Block, error) {
	if err := a.heap.CheckPtr(ptr); err != nil {
		return 0, a.violation(err, ErrInvalidPointer, "%s was passed pointer %d", op, ptr)
	}

	b := ptr.Block()
	if !a.live.Has(ptr) {
		if a.heap.Header(b).IsFree() && a.isBlockStart(b) {
			return 0, a.violation(nil, ErrDoubleFree, "%s was passed pointer %d whose block is free", op, ptr)
		}
		return 0, a.violation(nil, ErrInvalidPointer, "%s was passed pointer %d, which is not a live allocation", op, ptr)
	}
	if header := a.heap.Header(b); header.IsFree() {
		return 0, a.violation(nil, ErrCorruptHeap, "live allocation %d has a free header %s", ptr, header)
	}

	return b, nil
}

var errStopWalk = errors.New("stop walk")

// isBlockStart reports whether a block of the heap begins at b. Payload bytes inside a
// live block can look like a free header, so a tag alone proves nothing.
func (a *Allocator) isBlockStart(b layout.Block) bool {
	found := false
	err := a.heap.VisitAllBlocks(func(block layout.Block, _ tag.Tag) error {
		if block >= b {
			found = block == b
			return errStopWalk
		}
		return nil
	})
	if err != nil && !errors.Is(err, errStopWalk) {
		return false
	}

	return found
}

// coalesce merges the free block b with whichever of its physical neighbors are free.
// The sentinels are allocated, so the first and last blocks never merge past the
// heap bounds.
func (a *Allocator) coalesce(b layout.Block) {
	size := a.heap.Header(b).Size()
	next := a.heap.Next(b)
	prevFree := a.heap.PrevFooter(b).IsFree()
	nextFree := a.heap.Header(next).IsFree()

	switch {
	case !prevFree && !nextFree:
		return
	case !prevFree && nextFree:
		size += a.heap.Header(next).Size()
		a.heap.SetBlock(b, size, tag.Free)
		a.strategy.BlocksMerged(b, next)
	case prevFree && !nextFree:
		prev := a.heap.Prev(b)
		size += a.heap.Header(prev).Size()
		a.heap.SetBlock(prev, size, tag.Free)
		a.strategy.BlocksMerged(prev, b)
		b = prev
	default:
		prev := a.heap.Prev(b)
		size += a.heap.Header(prev).Size() + a.heap.Header(next).Size()
		a.heap.SetBlock(prev, size, tag.Free)
		a.strategy.BlocksMerged(prev, b)
		a.strategy.BlocksMerged(prev, next)
		b = prev
	}

	a.logDetail("Allocator::coalesce",
		slog.Int("Block", int(b)),
		slog.Int("Size", size),
		slog.Bool("Prev", prevFree),
		slog.Bool("Next", nextFree))
}
