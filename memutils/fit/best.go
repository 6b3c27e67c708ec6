package fit

import "github.com/vkngwrapper/memmgr/memutils/layout"

// BestFitStrategy returns the smallest free block that is large enough. Ties go to
// the block with the lowest offset. An exact fit ends the scan early since nothing
// can beat it.
type BestFitStrategy struct{}

var _ Strategy = &BestFitStrategy{}

func (s *BestFitStrategy) Policy() Policy { return BestFit }

func (s *BestFitStrategy) SelectBlock(heap HeapView, size int) (layout.Block, bool) {
	var best layout.Block
	bestSize := 0
	found := false

	end := heap.End()
	for b := heap.Start(); b < end; b = heap.Next(b) {
		header := heap.Header(b)
		if !fits(header, size) {
			continue
		}

		if !found || header.Size() < bestSize {
			best, bestSize, found = b, header.Size(), true
			if bestSize == size {
				break
			}
		}
	}

	return best, found
}

func (s *BestFitStrategy) BlocksMerged(survivor, absorbed layout.Block) {}

func (s *BestFitStrategy) Reset() {}
