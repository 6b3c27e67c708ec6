package memutils

import "math"

// Statistics is a cheap summary of a heap. All sizes are in bytes and count
// whole blocks, tags included.
type Statistics struct {
	HeapBytes       int
	AllocationCount int
	AllocationBytes int
	// RequestedBytes is the sum of the sizes callers asked for. The difference
	// to AllocationBytes is the heap's internal fragmentation.
	RequestedBytes int
}

func (s *Statistics) Clear() {
	s.HeapBytes = 0
	s.AllocationCount = 0
	s.AllocationBytes = 0
	s.RequestedBytes = 0
}

func (s *Statistics) AddStatistics(other *Statistics) {
	s.HeapBytes += other.HeapBytes
	s.AllocationCount += other.AllocationCount
	s.AllocationBytes += other.AllocationBytes
	s.RequestedBytes += other.RequestedBytes
}

// FreeBytes is the part of the heap not covered by allocated blocks
func (s *Statistics) FreeBytes() int {
	return s.HeapBytes - s.AllocationBytes
}

// InternalFragmentation returns the fraction of allocated bytes that were not requested
// by callers: tag overhead, padding to the block granularity, and unsplit remainders.
func (s *Statistics) InternalFragmentation() float64 {
	if s.AllocationBytes == 0 {
		return 0
	}

	return float64(s.AllocationBytes-s.RequestedBytes) / float64(s.AllocationBytes)
}

// DetailedStatistics requires a full heap walk to populate.
type DetailedStatistics struct {
	Statistics
	FreeBlockCount    int
	AllocationSizeMin int
	AllocationSizeMax int
	FreeBlockSizeMin  int
	FreeBlockSizeMax  int
}

func (s *DetailedStatistics) Clear() {
	s.Statistics.Clear()
	s.FreeBlockCount = 0
	s.AllocationSizeMin = math.MaxInt
	s.AllocationSizeMax = 0
	s.FreeBlockSizeMin = math.MaxInt
	s.FreeBlockSizeMax = 0
}

func (s *DetailedStatistics) AddFreeBlock(size int) {
	s.FreeBlockCount++

	if size < s.FreeBlockSizeMin {
		s.FreeBlockSizeMin = size
	}

	if size > s.FreeBlockSizeMax {
		s.FreeBlockSizeMax = size
	}
}

func (s *DetailedStatistics) AddAllocation(size int) {
	s.AllocationCount++
	s.AllocationBytes += size

	if size < s.AllocationSizeMin {
		s.AllocationSizeMin = size
	}

	if size > s.AllocationSizeMax {
		s.AllocationSizeMax = size
	}
}

// ExternalFragmentation returns 1 - (largest free block / all free bytes). It is 0 when
// the free space is one contiguous block and approaches 1 as free space scatters.
func (s *DetailedStatistics) ExternalFragmentation() float64 {
	free := s.FreeBytes()
	if free <= 0 || s.FreeBlockCount == 0 {
		return 0
	}

	return 1 - float64(s.FreeBlockSizeMax)/float64(free)
}

func (s *DetailedStatistics) AddDetailedStatistics(other *DetailedStatistics) {
	s.Statistics.AddStatistics(&other.Statistics)
	s.FreeBlockCount += other.FreeBlockCount

	if other.FreeBlockSizeMin < s.FreeBlockSizeMin {
		s.FreeBlockSizeMin = other.FreeBlockSizeMin
	}

	if other.FreeBlockSizeMax > s.FreeBlockSizeMax {
		s.FreeBlockSizeMax = other.FreeBlockSizeMax
	}

	if other.AllocationSizeMin < s.AllocationSizeMin {
		s.AllocationSizeMin = other.AllocationSizeMin
	}

	if other.AllocationSizeMax > s.AllocationSizeMax {
		s.AllocationSizeMax = other.AllocationSizeMax
	}
}
