package mm_test

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/memmgr/memutils/fit"
	"github.com/vkngwrapper/memmgr/memutils/tag"
	"github.com/vkngwrapper/memmgr/mm"
)

func TestFreeNullIsNoop(t *testing.T) {
	_, allocator := newTestAllocator(t, fit.FirstFit, mm.CreateOptions{})
	require.NoError(t, allocator.Free(mm.Null))
	require.Equal(t, []mm.BlockInfo{freeBlock(32, 4032)}, heapBlocks(t, allocator))
}

func TestDoubleFree(t *testing.T) {
	for _, policy := range []fit.Policy{fit.FirstFit, fit.NextFit, fit.BestFit} {
		t.Run(policy.String(), func(t *testing.T) {
			_, allocator := newTestAllocator(t, policy, mm.CreateOptions{})

			mustAlloc(t, allocator, 16)
			ptr := mustAlloc(t, allocator, 64)
			mustAlloc(t, allocator, 16)

			require.NoError(t, allocator.Free(ptr))
			blocks := heapBlocks(t, allocator)

			err := allocator.Free(ptr)
			require.True(t, errors.Is(err, mm.ErrDoubleFree))
			require.True(t, mm.IsInvariantViolation(err))

			// The rejected free did not touch the heap
			require.Equal(t, blocks, heapBlocks(t, allocator))
		})
	}
}

func TestDoubleFreeAfterCoalesce(t *testing.T) {
	_, allocator := newTestAllocator(t, fit.FirstFit, mm.CreateOptions{})

	ptr := mustAlloc(t, allocator, 64)
	require.NoError(t, allocator.Free(ptr))

	err := allocator.Free(ptr)
	require.True(t, errors.Is(err, mm.ErrDoubleFree))
}

func TestFreeInvalidPointer(t *testing.T) {
	_, allocator := newTestAllocator(t, fit.FirstFit, mm.CreateOptions{})

	ptr := mustAlloc(t, allocator, 200)
	fill(t, allocator, ptr, 0xFF)

	for _, bad := range []mm.Ptr{ptr + 8, ptr + 32, mm.Ptr(4), mm.Ptr(12345)} {
		err := allocator.Free(bad)
		require.ErrorIs(t, err, mm.ErrInvalidPointer, "pointer %d", bad)
		require.True(t, errors.Is(err, mm.ErrInvalidPointer), "pointer %d", bad)
		require.True(t, mm.IsInvariantViolation(err))
	}

	require.NoError(t, allocator.Free(ptr))
}

func TestFreeInteriorPointerLookingFree(t *testing.T) {
	_, allocator := newTestAllocator(t, fit.FirstFit, mm.CreateOptions{})

	ptr := mustAlloc(t, allocator, 200)
	payload, err := allocator.Bytes(ptr)
	require.NoError(t, err)

	// The header of a block at ptr+32 would sit at payload[24:32]
	tag.Write(payload, 24, tag.Pack(64, tag.Free))

	err = allocator.Free(ptr + 32)
	require.ErrorIs(t, err, mm.ErrInvalidPointer)
	require.False(t, errors.Is(err, mm.ErrDoubleFree))

	require.NoError(t, allocator.Free(ptr))
	require.NoError(t, allocator.Validate())
}

func TestCoalesceCases(t *testing.T) {
	_, allocator := newTestAllocator(t, fit.FirstFit, mm.CreateOptions{})

	a := mustAlloc(t, allocator, 16)
	b := mustAlloc(t, allocator, 16)
	c := mustAlloc(t, allocator, 16)
	d := mustAlloc(t, allocator, 16)

	require.Equal(t, []mm.BlockInfo{
		allocBlock(32, 32, 16),
		allocBlock(64, 32, 16),
		allocBlock(96, 32, 16),
		allocBlock(128, 32, 16),
		freeBlock(160, 3904),
	}, heapBlocks(t, allocator))

	// Neither neighbor free
	require.NoError(t, allocator.Free(b))
	require.Equal(t, []mm.BlockInfo{
		allocBlock(32, 32, 16),
		freeBlock(64, 32),
		allocBlock(96, 32, 16),
		allocBlock(128, 32, 16),
		freeBlock(160, 3904),
	}, heapBlocks(t, allocator))

	// Only the next block is free. The start sentinel keeps the first block from
	// looking backwards.
	require.NoError(t, allocator.Free(a))
	require.Equal(t, []mm.BlockInfo{
		freeBlock(32, 64),
		allocBlock(96, 32, 16),
		allocBlock(128, 32, 16),
		freeBlock(160, 3904),
	}, heapBlocks(t, allocator))

	// Only the previous block is free
	require.NoError(t, allocator.Free(c))
	require.Equal(t, []mm.BlockInfo{
		freeBlock(32, 96),
		allocBlock(128, 32, 16),
		freeBlock(160, 3904),
	}, heapBlocks(t, allocator))

	// Both neighbors free
	require.NoError(t, allocator.Free(d))
	require.Equal(t, []mm.BlockInfo{
		freeBlock(32, 4032),
	}, heapBlocks(t, allocator))
}

func TestCoalesceStopsAtEndSentinel(t *testing.T) {
	_, allocator := newTestAllocator(t, fit.FirstFit, mm.CreateOptions{})

	mustAlloc(t, allocator, 3984)
	last := mustAlloc(t, allocator, 16)
	require.Equal(t, 4040, int(last))

	require.NoError(t, allocator.Free(last))
	require.Equal(t, []mm.BlockInfo{
		allocBlock(32, 4000, 3984),
		freeBlock(4032, 32),
	}, heapBlocks(t, allocator))
}
