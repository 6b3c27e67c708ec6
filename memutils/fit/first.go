package fit

import "github.com/vkngwrapper/memmgr/memutils/layout"

// FirstFitStrategy returns the first free block, scanning from the heap start, that is large enough.
type FirstFitStrategy struct{}

var _ Strategy = &FirstFitStrategy{}

func (s *FirstFitStrategy) Policy() Policy { return FirstFit }

func (s *FirstFitStrategy) SelectBlock(heap HeapView, size int) (layout.Block, bool) {
	end := heap.End()
	for b := heap.Start(); b < end; b = heap.Next(b) {
		if fits(heap.Header(b), size) {
			return b, true
		}
	}

	return 0, false
}

func (s *FirstFitStrategy) BlocksMerged(survivor, absorbed layout.Block) {}

func (s *FirstFitStrategy) Reset() {}
