package trace

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/memmgr/memutils"
	"github.com/vkngwrapper/memmgr/mm"
)

// Allocator is the part of *mm.Allocator a replay drives
type Allocator interface {
	Alloc(size int) (mm.Ptr, error)
	Calloc(n, size int) (mm.Ptr, error)
	Realloc(ptr mm.Ptr, size int) (mm.Ptr, error)
	Free(ptr mm.Ptr) error
	Bytes(ptr mm.Ptr) ([]byte, error)
	Check() (*mm.Report, error)
	AddStatistics(stats *memutils.Statistics)
}

var _ Allocator = &mm.Allocator{}

// Result summarizes a replay
type Result struct {
	Ops int
	// PeakHeap is the largest heap size seen after any op
	PeakHeap int
	// PeakLive is the largest sum of live requested bytes seen after any op
	PeakLive int
	// Failures counts allocations that failed with ErrOutOfMemory. The replay
	// carries on past them, and a later free of the failed id is skipped.
	Failures int
}

// Utilization is the peak live payload as a fraction of the peak heap size
func (r Result) Utilization() float64 {
	if r.PeakHeap == 0 {
		return 0
	}

	return float64(r.PeakLive) / float64(r.PeakHeap)
}

type allocation struct {
	ptr  mm.Ptr
	size int
}

type replayer struct {
	allocator Allocator
	live      map[int]allocation
	failed    map[int]bool
	result    Result
}

// Replay runs ops in order. Every payload is filled with a pattern derived from its
// id and the pattern is verified before the payload is resized or freed, so that
// overlapping blocks are caught as well as heap corruption. Replay stops at the
// first error other than an out of memory condition.
func Replay(allocator Allocator, ops []Op) (Result, error) {
	r := &replayer{
		allocator: allocator,
		live:      make(map[int]allocation),
		failed:    make(map[int]bool),
	}

	for _, op := range ops {
		if err := r.apply(op); err != nil {
			return r.result, errors.Wrapf(err, "line %d: %s", op.Line, op.Kind)
		}

		r.result.Ops++
		r.sample()
	}

	return r.result, nil
}

func (r *replayer) sample() {
	var stats memutils.Statistics
	r.allocator.AddStatistics(&stats)

	if stats.HeapBytes > r.result.PeakHeap {
		r.result.PeakHeap = stats.HeapBytes
	}
	if stats.RequestedBytes > r.result.PeakLive {
		r.result.PeakLive = stats.RequestedBytes
	}
}

func (r *replayer) apply(op Op) error {
	switch op.Kind {
	case OpAlloc:
		return r.alloc(op.ID, op.Size, false, func() (mm.Ptr, error) {
			return r.allocator.Alloc(op.Size)
		})
	case OpCalloc:
		return r.alloc(op.ID, op.Count*op.Size, true, func() (mm.Ptr, error) {
			return r.allocator.Calloc(op.Count, op.Size)
		})
	case OpRealloc:
		return r.realloc(op.ID, op.Size)
	case OpFree:
		return r.free(op.ID)
	case OpCheck:
		_, err := r.allocator.Check()
		return err
	}

	return errors.Newf("unknown operation %d", op.Kind)
}

func (r *replayer) alloc(id, size int, zeroed bool, allocate func() (mm.Ptr, error)) error {
	if _, exists := r.live[id]; exists {
		return errors.Newf("id %d is already allocated", id)
	}

	ptr, err := allocate()
	if errors.Is(err, mm.ErrOutOfMemory) {
		r.result.Failures++
		r.failed[id] = true
		return nil
	}
	delete(r.failed, id)
	if err != nil {
		return err
	}
	if ptr == mm.Null {
		// Zero-byte requests hold Null, which frees and reallocs like any pointer
		r.live[id] = allocation{}
		return nil
	}

	if zeroed {
		if err := r.verify(id, ptr, size, 0); err != nil {
			return err
		}
	}

	r.live[id] = allocation{ptr: ptr, size: size}
	return r.fillPattern(id, ptr, size)
}

func (r *replayer) realloc(id, size int) error {
	old, exists := r.live[id]
	if !exists {
		return r.alloc(id, size, false, func() (mm.Ptr, error) {
			return r.allocator.Alloc(size)
		})
	}

	if err := r.verify(id, old.ptr, old.size, pattern(id)); err != nil {
		return err
	}

	ptr, err := r.allocator.Realloc(old.ptr, size)
	if errors.Is(err, mm.ErrOutOfMemory) {
		r.result.Failures++
		return nil
	}
	if err != nil {
		return err
	}
	if ptr == mm.Null {
		r.live[id] = allocation{}
		return nil
	}

	kept := old.size
	if size < kept {
		kept = size
	}
	if err := r.verify(id, ptr, kept, pattern(id)); err != nil {
		return err
	}

	r.live[id] = allocation{ptr: ptr, size: size}
	return r.fillPattern(id, ptr, size)
}

func (r *replayer) free(id int) error {
	old, exists := r.live[id]
	if !exists {
		if r.failed[id] {
			delete(r.failed, id)
			return nil
		}
		return errors.Newf("id %d is not allocated", id)
	}

	if err := r.verify(id, old.ptr, old.size, pattern(id)); err != nil {
		return err
	}

	delete(r.live, id)
	return r.allocator.Free(old.ptr)
}

func pattern(id int) byte {
	return byte(id*37 + 11)
}

func (r *replayer) fillPattern(id int, ptr mm.Ptr, size int) error {
	if ptr == mm.Null {
		return nil
	}

	payload, err := r.allocator.Bytes(ptr)
	if err != nil {
		return err
	}

	value := pattern(id)
	for i := 0; i < size; i++ {
		payload[i] = value
	}

	return nil
}

// verify checks that the first size bytes of the payload at ptr all equal expected
func (r *replayer) verify(id int, ptr mm.Ptr, size int, expected byte) error {
	if ptr == mm.Null {
		return nil
	}

	payload, err := r.allocator.Bytes(ptr)
	if err != nil {
		return err
	}
	if len(payload) < size {
		return errors.Newf("id %d at %d holds %d bytes, expected at least %d", id, ptr, len(payload), size)
	}

	for i := 0; i < size; i++ {
		if payload[i] != expected {
			return errors.Newf("id %d at %d: byte %d is %#x, expected %#x", id, ptr, i, payload[i], expected)
		}
	}

	return nil
}
