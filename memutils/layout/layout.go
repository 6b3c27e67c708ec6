// Package layout owns the logical heap bounds inside a region and performs all
// block arithmetic over region offsets.
//
// Block layout, with h/f the header/footer of a free block and H/F of an
// allocated one:
//
//	region start       heapStart                          heapEnd        break
//	     |                 |                                  |            |
//	     v                 v                                  v            v
//	     +-------------+---+---+--------------------------+---+---+--------+
//	     |   unused    | F | h :       free payload       : f | H | unused |
//	     +-------------+---+---+--------------------------+---+---+--------+
//	                   ^                                      ^
//	            start sentinel                          end sentinel
//
// Headers sit on the 32-byte granularity; payloads begin one tag later.
package layout

import (
	"fmt"
	"math"

	"github.com/pkg/errors"
	"github.com/vkngwrapper/memmgr/memutils"
	"github.com/vkngwrapper/memmgr/memutils/tag"
)

const (
	// MinBlockSize is both the smallest legal block and the granularity every block size is a multiple of
	MinBlockSize = 32
	// Granularity is MinBlockSize in the form the memutils alignment helpers expect
	Granularity uint = MinBlockSize
	// Overhead is the number of bytes of each block taken by its header and footer
	Overhead = 2 * tag.Width
)

// Block identifies a block by the region offset of its header
type Block int

// Ptr is a payload pointer: the region offset immediately following a block's header.
// It is the only handle handed to allocator callers.
type Ptr int

// Null is the "no allocation" payload pointer. No block can have its payload at offset 0.
const Null Ptr = 0

func (b Block) Payload() Ptr {
	return Ptr(int(b) + tag.Width)
}

func (p Ptr) Block() Block {
	return Block(int(p) - tag.Width)
}

func (p Ptr) IsNull() bool {
	return p == Null
}

// AdjustedSize returns the total block size needed to hold a payload of size bytes:
// the payload plus both tags, rounded up to the block granularity. It returns false
// if the computation would overflow.
func AdjustedSize(size int) (int, bool) {
	if size < 0 || size > math.MaxInt-Overhead-MinBlockSize {
		return 0, false
	}

	return memutils.AlignUp(size+Overhead, Granularity), true
}

// Bounds computes the heap bounds for a region spanning [base, brk): the first
// header is the first granular offset that leaves room for the start sentinel,
// and the end sentinel is the last granular offset that leaves room for itself.
func Bounds(base, brk int) (start, end Block) {
	start = Block(memutils.AlignUp(base+tag.Width, Granularity))
	end = Block(memutils.AlignDown(brk-tag.Width, Granularity))
	return start, end
}

// Region is the part of a region provider the layout reads and writes tags through
type Region interface {
	Bytes() []byte
}

// Layout is the heap's view of a region. It does not own the region and never
// extends it; callers extend the region and then report the new break via SetBreak.
type Layout struct {
	region Region
	start  Block
	end    Block
}

func New(region Region) *Layout {
	return &Layout{region: region}
}

// Init computes the heap bounds for a region whose break is brk and writes both
// sentinels. The space between them is left for the caller to format.
func (l *Layout) Init(brk int) error {
	if l.start != 0 {
		panic("layout: heap bounds were already initialized")
	}

	start, end := Bounds(0, brk)
	if int(end)-int(start) < MinBlockSize {
		return errors.Wrapf(memutils.RangeError, "a region of %d bytes cannot hold a single block", brk)
	}

	buf := l.region.Bytes()
	if err := tag.Check(buf, int(end)); err != nil {
		return err
	}

	l.start = start
	l.end = end
	tag.Write(buf, int(start)-tag.Width, tag.Sentinel)
	tag.Write(buf, int(end), tag.Sentinel)

	return nil
}

func (l *Layout) mustInit() {
	if l.start == 0 {
		panic("layout: heap used before Init")
	}
}

func (l *Layout) Initialized() bool {
	return l.start != 0
}

func (l *Layout) Start() Block {
	l.mustInit()
	return l.start
}

// End is the offset of the end sentinel, one past the last block
func (l *Layout) End() Block {
	l.mustInit()
	return l.end
}

// Size is the number of bytes between the sentinels
func (l *Layout) Size() int {
	l.mustInit()
	return int(l.end) - int(l.start)
}

// SetBreak moves the end sentinel to the last granular offset of a region whose break
// is now brk and returns the previous end. The bytes between the two ends are not
// formatted; the caller must turn them into one or more blocks.
func (l *Layout) SetBreak(brk int) (oldEnd Block, err error) {
	l.mustInit()

	_, end := Bounds(0, brk)
	if end < l.end {
		return l.end, errors.Errorf("break %d would shrink the heap below its end at %d", brk, l.end)
	}

	buf := l.region.Bytes()
	if err := tag.Check(buf, int(end)); err != nil {
		return l.end, err
	}

	oldEnd = l.end
	l.end = end
	tag.Write(buf, int(end), tag.Sentinel)
	return oldEnd, nil
}

// Tag reads the raw tag word at offset
func (l *Layout) Tag(offset int) tag.Tag {
	l.mustInit()
	return tag.Read(l.region.Bytes(), offset)
}

func (l *Layout) StartSentinel() tag.Tag {
	return l.Tag(int(l.Start()) - tag.Width)
}

func (l *Layout) EndSentinel() tag.Tag {
	return l.Tag(int(l.End()))
}

func (l *Layout) Header(b Block) tag.Tag {
	return l.Tag(int(b))
}

func (l *Layout) FooterOffset(b Block) int {
	return int(b) + l.Header(b).Size() - tag.Width
}

func (l *Layout) Footer(b Block) tag.Tag {
	return l.Tag(l.FooterOffset(b))
}

// Next returns the block that follows b. For the last block this is End().
func (l *Layout) Next(b Block) Block {
	return b + Block(l.Header(b).Size())
}

// PrevFooter reads the footer of the block immediately before b. For the first block
// this is the start sentinel.
func (l *Layout) PrevFooter(b Block) tag.Tag {
	return l.Tag(int(b) - tag.Width)
}

// Prev returns the block that precedes b, found by jumping back over its footer.
// For the first block the start sentinel has size zero and b itself is returned.
func (l *Layout) Prev(b Block) Block {
	return b - Block(l.PrevFooter(b).Size())
}

// SetBlock writes matching header and footer tags for a block of size bytes at b
func (l *Layout) SetBlock(b Block, size int, status tag.Status) {
	l.mustInit()
	if size < MinBlockSize || !memutils.IsAligned(size, Granularity) {
		panic(fmt.Sprintf("layout: invalid block size %d at offset %d", size, b))
	}

	t := tag.Pack(size, status)
	buf := l.region.Bytes()
	tag.Write(buf, int(b), t)
	tag.Write(buf, int(b)+size-tag.Width, t)
}

// CheckPtr returns an error unless p could be the payload of a block inside the heap.
// It does not look at any tags.
func (l *Layout) CheckPtr(p Ptr) error {
	l.mustInit()

	b := p.Block()
	if b < l.start || b >= l.end {
		return errors.Wrapf(memutils.RangeError, "pointer %d is outside the heap [%d, %d)", p, l.start, l.end)
	}
	if !memutils.IsAligned(int(b), Granularity) {
		return errors.Wrapf(memutils.AlignmentError, "pointer %d does not follow a %d-byte aligned header", p, Granularity)
	}

	return nil
}

// VisitAllBlocks calls handleBlock for every block from Start() to End(). Traversal stops
// at the first error returned from handleBlock, or with an error of its own if a header
// would carry the walk past End() or fails to advance it.
func (l *Layout) VisitAllBlocks(handleBlock func(b Block, header tag.Tag) error) error {
	for b := l.Start(); b < l.end; {
		header := l.Header(b)
		if header.Size() == 0 {
			return errors.Errorf("block at offset %d has size zero", b)
		}
		if int(b)+header.Size() > int(l.end) {
			return errors.Errorf("block at offset %d with size %d runs past the heap end at %d", b, header.Size(), l.end)
		}

		if err := handleBlock(b, header); err != nil {
			return err
		}
		b += Block(header.Size())
	}

	return nil
}
