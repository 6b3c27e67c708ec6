package mm_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/memmgr/memutils/fit"
	"github.com/vkngwrapper/memmgr/memutils/tag"
	"github.com/vkngwrapper/memmgr/mm"
	"github.com/vkngwrapper/memmgr/region"
)

func newBuffer(t *testing.T, maxSize int) *region.Buffer {
	buffer, err := region.NewBuffer(region.BufferOptions{MaxSize: maxSize, PageSize: 4096})
	require.NoError(t, err)
	return buffer
}

func newTestAllocator(t *testing.T, policy fit.Policy, options mm.CreateOptions) (*region.Buffer, *mm.Allocator) {
	buffer := newBuffer(t, 0)

	allocator, err := mm.New(nil, buffer, options)
	require.NoError(t, err)
	require.NoError(t, allocator.Init(policy))

	return buffer, allocator
}

func heapBlocks(t *testing.T, allocator *mm.Allocator) []mm.BlockInfo {
	report, err := allocator.Check()
	require.NoError(t, err)
	return report.Blocks
}

func mustAlloc(t *testing.T, allocator *mm.Allocator, size int) mm.Ptr {
	ptr, err := allocator.Alloc(size)
	require.NoError(t, err)
	require.NotEqual(t, mm.Null, ptr)
	return ptr
}

func fill(t *testing.T, allocator *mm.Allocator, ptr mm.Ptr, value byte) {
	payload, err := allocator.Bytes(ptr)
	require.NoError(t, err)
	for i := range payload {
		payload[i] = value
	}
}

func freeBlock(offset, size int) mm.BlockInfo {
	return mm.BlockInfo{Offset: offset, Size: size, Status: tag.Free}
}

func allocBlock(offset, size, requested int) mm.BlockInfo {
	return mm.BlockInfo{Offset: offset, Size: size, Status: tag.Allocated, Requested: requested}
}
