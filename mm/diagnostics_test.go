package mm_test

import (
	"bytes"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/memmgr/memutils"
	"github.com/vkngwrapper/memmgr/memutils/fit"
	"github.com/vkngwrapper/memmgr/memutils/tag"
	"github.com/vkngwrapper/memmgr/mm"
	"golang.org/x/exp/slog"
)

func TestCheckReport(t *testing.T) {
	_, allocator := newTestAllocator(t, fit.FirstFit, mm.CreateOptions{})
	mustAlloc(t, allocator, 100)

	report, err := allocator.Check()
	require.NoError(t, err)
	require.NoError(t, report.Err)
	require.Equal(t, 32, report.HeapStart)
	require.Equal(t, 4064, report.HeapEnd)
	require.Equal(t, []mm.BlockInfo{
		allocBlock(32, 128, 100),
		freeBlock(160, 3904),
	}, report.Blocks)

	require.Equal(t, "heap [32, 4064) 4032 bytes, 2 blocks\n"+
		"        32      128 allocated requested 100\n"+
		"       160     3904 free     \n", report.String())

	require.NoError(t, allocator.Validate())
}

func TestCheckDetectsFooterMismatch(t *testing.T) {
	buffer, allocator := newTestAllocator(t, fit.FirstFit, mm.CreateOptions{})
	mustAlloc(t, allocator, 100)

	tag.Write(buffer.Bytes(), 32+128-tag.Width, tag.Pack(64, tag.Allocated))

	report, err := allocator.Check()
	require.True(t, errors.Is(err, mm.ErrCorruptHeap))
	require.True(t, mm.IsInvariantViolation(err))
	require.Error(t, report.Err)
	require.Empty(t, report.Blocks)
	require.Contains(t, report.String(), "error: ")

	require.True(t, errors.Is(allocator.Validate(), mm.ErrCorruptHeap))
}

func TestCheckDetectsBadSentinels(t *testing.T) {
	buffer, allocator := newTestAllocator(t, fit.FirstFit, mm.CreateOptions{})
	tag.Write(buffer.Bytes(), 32-tag.Width, tag.Pack(32, tag.Free))

	_, err := allocator.Check()
	require.True(t, errors.Is(err, mm.ErrCorruptHeap))

	buffer, allocator = newTestAllocator(t, fit.FirstFit, mm.CreateOptions{})
	tag.Write(buffer.Bytes(), 4064, tag.Pack(0, tag.Free))

	_, err = allocator.Check()
	require.True(t, errors.Is(err, mm.ErrCorruptHeap))
}

func TestCheckDetectsAdjacentFreeBlocks(t *testing.T) {
	buffer, allocator := newTestAllocator(t, fit.FirstFit, mm.CreateOptions{})

	mem := buffer.Bytes()
	half := tag.Pack(2016, tag.Free)
	tag.Write(mem, 32, half)
	tag.Write(mem, 32+2016-tag.Width, half)
	tag.Write(mem, 2048, half)
	tag.Write(mem, 2048+2016-tag.Width, half)

	report, err := allocator.Check()
	require.True(t, errors.Is(err, mm.ErrCorruptHeap))
	require.Equal(t, []mm.BlockInfo{freeBlock(32, 2016)}, report.Blocks)
}

func TestCheckDetectsZeroSizeBlock(t *testing.T) {
	buffer, allocator := newTestAllocator(t, fit.FirstFit, mm.CreateOptions{})
	ptr := mustAlloc(t, allocator, 100)

	tag.Write(buffer.Bytes(), int(ptr)-tag.Width, tag.Pack(0, tag.Allocated))

	_, err := allocator.Check()
	require.True(t, errors.Is(err, mm.ErrCorruptHeap))
}

func TestCheckDetectsUntrackedAllocation(t *testing.T) {
	buffer, allocator := newTestAllocator(t, fit.FirstFit, mm.CreateOptions{})

	mem := buffer.Bytes()
	stray := tag.Pack(4032, tag.Allocated)
	tag.Write(mem, 32, stray)
	tag.Write(mem, 4064-tag.Width, stray)

	_, err := allocator.Check()
	require.True(t, errors.Is(err, mm.ErrCorruptHeap))
}

func TestCheckPanicsWithAbort(t *testing.T) {
	buffer, allocator := newTestAllocator(t, fit.FirstFit, mm.CreateOptions{Flags: mm.CreateAbortOnViolation})
	tag.Write(buffer.Bytes(), 40, tag.Pack(64, tag.Free))

	require.NotPanics(t, func() {
		require.NoError(t, allocator.Validate())
	})

	tag.Write(buffer.Bytes(), 32, tag.Pack(64, tag.Free))
	require.Panics(t, func() {
		_ = allocator.Validate()
	})
}

func TestReportJSON(t *testing.T) {
	_, allocator := newTestAllocator(t, fit.FirstFit, mm.CreateOptions{})
	mustAlloc(t, allocator, 20)

	report, err := allocator.Check()
	require.NoError(t, err)

	writer := jwriter.NewWriter()
	report.WriteJSON(&writer)
	require.NoError(t, writer.Error())
	require.JSONEq(t, `{
		"HeapStart": 32,
		"HeapEnd": 4064,
		"Blocks": [
			{"Offset": 32, "Size": 64, "Type": "allocated", "Requested": 20},
			{"Offset": 96, "Size": 3968, "Type": "free"}
		]
	}`, string(writer.Bytes()))
}

func TestPrintDetailedMap(t *testing.T) {
	_, allocator := newTestAllocator(t, fit.BestFit, mm.CreateOptions{})
	mustAlloc(t, allocator, 20)

	writer := jwriter.NewWriter()
	require.NoError(t, allocator.PrintDetailedMap(&writer))
	require.JSONEq(t, `{
		"Policy": "BestFit",
		"Total": {
			"HeapBytes": 4032,
			"Allocations": 1,
			"AllocationBytes": 64,
			"RequestedBytes": 20,
			"FreeBlocks": 1,
			"FreeBytes": 3968
		},
		"Heap": {
			"HeapStart": 32,
			"HeapEnd": 4064,
			"Blocks": [
				{"Offset": 32, "Size": 64, "Type": "allocated", "Requested": 20},
				{"Offset": 96, "Size": 3968, "Type": "free"}
			]
		}
	}`, string(writer.Bytes()))
}

func TestStatistics(t *testing.T) {
	_, allocator := newTestAllocator(t, fit.FirstFit, mm.CreateOptions{})

	mustAlloc(t, allocator, 100)
	middle := mustAlloc(t, allocator, 10)
	mustAlloc(t, allocator, 200)
	require.NoError(t, allocator.Free(middle))

	var stats memutils.Statistics
	allocator.AddStatistics(&stats)
	require.Equal(t, memutils.Statistics{
		HeapBytes:       4032,
		AllocationCount: 2,
		AllocationBytes: 128 + 224,
		RequestedBytes:  300,
	}, stats)
	require.Equal(t, 4032-352, stats.FreeBytes())
	require.InDelta(t, float64(52)/float64(352), stats.InternalFragmentation(), 1e-9)

	var detailed memutils.DetailedStatistics
	detailed.Clear()
	allocator.AddDetailedStatistics(&detailed)
	require.Equal(t, stats, detailed.Statistics)
	require.Equal(t, 2, detailed.FreeBlockCount)
	require.Equal(t, 32, detailed.FreeBlockSizeMin)
	require.Equal(t, 4032-352-32, detailed.FreeBlockSizeMax)
	require.Equal(t, 128, detailed.AllocationSizeMin)
	require.Equal(t, 224, detailed.AllocationSizeMax)
	require.InDelta(t, 1-float64(3648)/float64(3680), detailed.ExternalFragmentation(), 1e-9)
}

func TestDetailedStatisticsOnCorruptHeap(t *testing.T) {
	var out bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&out, nil))

	buffer := newBuffer(t, 0)
	allocator, err := mm.New(logger, buffer, mm.CreateOptions{})
	require.NoError(t, err)
	require.NoError(t, allocator.Init(fit.FirstFit))

	ptr := mustAlloc(t, allocator, 100)
	tag.Write(buffer.Bytes(), int(ptr)-tag.Width, tag.Pack(0, tag.Allocated))

	allocator.SetLogLevel(mm.LogInfo)

	var detailed memutils.DetailedStatistics
	detailed.Clear()
	allocator.AddDetailedStatistics(&detailed)
	require.Equal(t, 4032, detailed.HeapBytes)
	require.Zero(t, detailed.AllocationCount)
	require.Zero(t, detailed.FreeBlockCount)
	require.Contains(t, out.String(), "Allocator::AddDetailedStatistics")
	require.Contains(t, out.String(), "heap walk stopped early")

	writer := jwriter.NewWriter()
	err = allocator.PrintDetailedMap(&writer)
	require.ErrorIs(t, err, mm.ErrCorruptHeap)
}
