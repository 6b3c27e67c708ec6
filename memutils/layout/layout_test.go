package layout_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/memmgr/memutils"
	"github.com/vkngwrapper/memmgr/memutils/layout"
	"github.com/vkngwrapper/memmgr/memutils/tag"
)

type sliceRegion struct {
	buf []byte
}

func (r *sliceRegion) Bytes() []byte { return r.buf }

func readyLayout(t *testing.T, brk int) (*sliceRegion, *layout.Layout) {
	region := &sliceRegion{buf: make([]byte, brk)}
	l := layout.New(region)
	require.NoError(t, l.Init(brk))
	return region, l
}

func TestBounds(t *testing.T) {
	start, end := layout.Bounds(0, 4096)
	require.Equal(t, layout.Block(32), start)
	require.Equal(t, layout.Block(4064), end)

	start, end = layout.Bounds(0, 4100)
	require.Equal(t, layout.Block(32), start)
	require.Equal(t, layout.Block(4064), end)

	start, end = layout.Bounds(0, 4104)
	require.Equal(t, layout.Block(32), start)
	require.Equal(t, layout.Block(4096), end)
}

func TestAdjustedSize(t *testing.T) {
	cases := map[int]int{
		1:    32,
		16:   32,
		17:   64,
		48:   64,
		80:   96,
		112:  128,
		4000: 4032,
	}
	for size, expected := range cases {
		asize, ok := layout.AdjustedSize(size)
		require.True(t, ok)
		require.Equal(t, expected, asize, "size %d", size)
	}

	_, ok := layout.AdjustedSize(math.MaxInt - 8)
	require.False(t, ok)
	_, ok = layout.AdjustedSize(-1)
	require.False(t, ok)
}

func TestPtrBlockConversion(t *testing.T) {
	require.Equal(t, layout.Ptr(40), layout.Block(32).Payload())
	require.Equal(t, layout.Block(32), layout.Ptr(40).Block())
	require.True(t, layout.Null.IsNull())
}

func TestInitWritesSentinels(t *testing.T) {
	region, l := readyLayout(t, 4096)

	require.Equal(t, layout.Block(32), l.Start())
	require.Equal(t, layout.Block(4064), l.End())
	require.Equal(t, 4032, l.Size())
	require.Equal(t, tag.Sentinel, tag.Read(region.buf, 24))
	require.Equal(t, tag.Sentinel, tag.Read(region.buf, 4064))
	require.Equal(t, tag.Sentinel, l.StartSentinel())
	require.Equal(t, tag.Sentinel, l.EndSentinel())
}

func TestInitRejectsTinyRegion(t *testing.T) {
	region := &sliceRegion{buf: make([]byte, 64)}
	l := layout.New(region)

	err := l.Init(64)
	require.ErrorIs(t, err, memutils.RangeError)
	require.False(t, l.Initialized())
}

func TestUseBeforeInitPanics(t *testing.T) {
	l := layout.New(&sliceRegion{})
	require.Panics(t, func() { l.Start() })
	require.Panics(t, func() { l.Header(32) })
}

func TestBlockTraversal(t *testing.T) {
	_, l := readyLayout(t, 4096)

	l.SetBlock(32, 64, tag.Allocated)
	l.SetBlock(96, 128, tag.Free)
	l.SetBlock(224, 4064-224, tag.Allocated)

	require.Equal(t, tag.Pack(64, tag.Allocated), l.Header(32))
	require.Equal(t, l.Header(32), l.Footer(32))
	require.Equal(t, 32+64-8, l.FooterOffset(32))

	require.Equal(t, layout.Block(96), l.Next(32))
	require.Equal(t, layout.Block(224), l.Next(96))
	require.Equal(t, l.End(), l.Next(224))

	require.Equal(t, layout.Block(96), l.Prev(224))
	require.Equal(t, layout.Block(32), l.Prev(96))
	// The start sentinel has size zero, so the first block is its own predecessor
	require.Equal(t, layout.Block(32), l.Prev(32))
	require.Equal(t, tag.Sentinel, l.PrevFooter(32))

	var visited []layout.Block
	err := l.VisitAllBlocks(func(b layout.Block, header tag.Tag) error {
		visited = append(visited, b)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []layout.Block{32, 96, 224}, visited)
}

func TestSetBlockRejectsBadSizes(t *testing.T) {
	_, l := readyLayout(t, 4096)
	require.Panics(t, func() { l.SetBlock(32, 16, tag.Free) })
	require.Panics(t, func() { l.SetBlock(32, 48, tag.Free) })
}

func TestVisitAllBlocksDetectsZeroSize(t *testing.T) {
	_, l := readyLayout(t, 4096)

	l.SetBlock(32, 64, tag.Allocated)
	// Nothing was written at 96, so the walk finds a zero tag there
	err := l.VisitAllBlocks(func(b layout.Block, header tag.Tag) error { return nil })
	require.Error(t, err)
}

func TestSetBreak(t *testing.T) {
	region, l := readyLayout(t, 4096)
	region.buf = append(region.buf, make([]byte, 4096)...)

	oldEnd, err := l.SetBreak(8192)
	require.NoError(t, err)
	require.Equal(t, layout.Block(4064), oldEnd)
	require.Equal(t, layout.Block(8160), l.End())
	require.Equal(t, tag.Sentinel, tag.Read(region.buf, 8160))

	_, err = l.SetBreak(4096)
	require.Error(t, err)
}

func TestCheckPtr(t *testing.T) {
	_, l := readyLayout(t, 4096)

	require.NoError(t, l.CheckPtr(40))
	require.NoError(t, l.CheckPtr(4040))
	require.ErrorIs(t, l.CheckPtr(32), memutils.RangeError)
	require.ErrorIs(t, l.CheckPtr(4072), memutils.RangeError)
	require.ErrorIs(t, l.CheckPtr(48), memutils.AlignmentError)
}
