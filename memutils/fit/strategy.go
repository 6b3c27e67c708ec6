package fit

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/vkngwrapper/memmgr/memutils/layout"
	"github.com/vkngwrapper/memmgr/memutils/tag"
)

// Policy selects the rule used to choose which free block satisfies an allocation request.
type Policy uint32

const (
	// FirstFit selects the lowest-offset free block that is large enough. It is
	// fast for small heaps and tends to pack allocations toward the heap start.
	FirstFit Policy = iota
	// NextFit resumes scanning where the previous search succeeded, spreading
	// allocations across the heap instead of repeatedly splitting the front.
	NextFit
	// BestFit scans the whole heap and selects the smallest free block that is
	// large enough, minimizing the leftover fragment at the cost of a full scan.
	BestFit
)

var policyMapping = map[Policy]string{
	FirstFit: "FirstFit",
	NextFit:  "NextFit",
	BestFit:  "BestFit",
}

func (p Policy) String() string {
	str, ok := policyMapping[p]
	if !ok {
		return "Invalid"
	}
	return str
}

func (p Policy) Valid() bool {
	_, ok := policyMapping[p]
	return ok
}

// ParsePolicy accepts the policy names returned by String as well as short forms
// such as "first", "next-fit" or "best_fit", case-insensitively.
func ParsePolicy(s string) (Policy, error) {
	normalized := strings.TrimSuffix(strings.ToLower(strings.TrimSpace(s)), "fit")
	switch strings.TrimRight(normalized, "-_ ") {
	case "first":
		return FirstFit, nil
	case "next":
		return NextFit, nil
	case "best":
		return BestFit, nil
	}

	return FirstFit, errors.Errorf("unknown allocation policy %q", s)
}

// NextFitMode decides what the next-fit strategy does when its scan reaches the end of the heap.
type NextFitMode uint32

const (
	// NextFitWrap continues the scan from the heap start up to the cursor before giving up.
	NextFitWrap NextFitMode = iota
	// NextFitNoWrap fails the search as soon as the scan reaches the heap end and
	// resets the cursor, so that the following search starts from the heap start.
	NextFitNoWrap
)

var nextFitModeMapping = map[NextFitMode]string{
	NextFitWrap:   "NextFitWrap",
	NextFitNoWrap: "NextFitNoWrap",
}

func (m NextFitMode) String() string {
	str, ok := nextFitModeMapping[m]
	if !ok {
		return "Invalid"
	}
	return str
}

func (m NextFitMode) Valid() bool {
	_, ok := nextFitModeMapping[m]
	return ok
}

// HeapView is the read-only traversal surface a strategy needs. *layout.Layout implements it.
type HeapView interface {
	Start() layout.Block
	End() layout.Block
	Header(b layout.Block) tag.Tag
	Next(b layout.Block) layout.Block
}

var _ HeapView = &layout.Layout{}

// Strategy selects a free block for a request. Implementations scan the implicit
// list through HeapView; the heap's tag sequence is the only free list.
type Strategy interface {
	Policy() Policy
	// SelectBlock returns a free block whose size is at least size bytes. size is the
	// adjusted block size, tags included.
	SelectBlock(heap HeapView, size int) (layout.Block, bool)
	// BlocksMerged is called whenever absorbed stops being a block header because it was
	// coalesced into survivor. Strategies holding block positions must not keep absorbed.
	BlocksMerged(survivor, absorbed layout.Block)
	// Reset drops any state carried between searches.
	Reset()
}

// NewStrategy builds the strategy for policy. mode is only consulted for NextFit.
func NewStrategy(policy Policy, mode NextFitMode) (Strategy, error) {
	switch policy {
	case FirstFit:
		return &FirstFitStrategy{}, nil
	case NextFit:
		if !mode.Valid() {
			return nil, errors.Errorf("unknown next fit mode %d", mode)
		}
		return &NextFitStrategy{Mode: mode}, nil
	case BestFit:
		return &BestFitStrategy{}, nil
	}

	return nil, errors.Errorf("unknown allocation policy %d", policy)
}

func fits(header tag.Tag, size int) bool {
	return header.IsFree() && header.Size() >= size
}
