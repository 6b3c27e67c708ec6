package fit

import "github.com/vkngwrapper/memmgr/memutils/layout"

// NextFitStrategy resumes each search at the block where the previous search
// succeeded. The cursor starts unset and is lazily placed at the heap start.
type NextFitStrategy struct {
	Mode   NextFitMode
	cursor layout.Block
}

var _ Strategy = &NextFitStrategy{}

func (s *NextFitStrategy) Policy() Policy { return NextFit }

// Cursor returns the header offset the next search will start from, or 0 if unset
func (s *NextFitStrategy) Cursor() layout.Block {
	return s.cursor
}

func (s *NextFitStrategy) SelectBlock(heap HeapView, size int) (layout.Block, bool) {
	start, end := heap.Start(), heap.End()
	if s.cursor == 0 || s.cursor < start || s.cursor >= end {
		s.cursor = start
	}
	origin := s.cursor

	for b := origin; b < end; b = heap.Next(b) {
		if fits(heap.Header(b), size) {
			s.cursor = b
			return b, true
		}
	}

	if s.Mode == NextFitNoWrap {
		s.cursor = 0
		return 0, false
	}

	for b := start; b < origin; b = heap.Next(b) {
		if fits(heap.Header(b), size) {
			s.cursor = b
			return b, true
		}
	}

	s.cursor = origin
	return 0, false
}

func (s *NextFitStrategy) BlocksMerged(survivor, absorbed layout.Block) {
	if s.cursor == absorbed {
		s.cursor = survivor
	}
}

func (s *NextFitStrategy) Reset() {
	s.cursor = 0
}
