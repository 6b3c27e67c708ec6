package mm

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/memmgr/memutils"
	"github.com/vkngwrapper/memmgr/memutils/layout"
	"github.com/vkngwrapper/memmgr/memutils/tag"
	"golang.org/x/exp/slog"
)

// AddStatistics adds this allocator's running totals to stats without walking the heap
func (a *Allocator) AddStatistics(stats *memutils.Statistics) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	if !a.initialized {
		return
	}

	stats.HeapBytes += a.heap.Size()
	stats.AllocationCount += a.live.Count()
	stats.AllocationBytes += a.allocatedBytes
	stats.RequestedBytes += a.requestedBytes
}

// AddDetailedStatistics walks the heap and adds every block to stats. stats should
// have been cleared with DetailedStatistics.Clear before the first call. If the walk
// cannot finish, stats only holds the blocks before the damage and the failure is
// logged.
func (a *Allocator) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	if !a.initialized {
		return
	}

	if err := a.addDetailedStatistics(stats); err != nil {
		a.logCall("Allocator::AddDetailedStatistics", slog.Any("error", err))
	}
}

func (a *Allocator) addDetailedStatistics(stats *memutils.DetailedStatistics) error {
	stats.HeapBytes += a.heap.Size()
	stats.RequestedBytes += a.requestedBytes

	err := a.heap.VisitAllBlocks(func(b layout.Block, header tag.Tag) error {
		if header.IsFree() {
			stats.AddFreeBlock(header.Size())
		} else {
			stats.AddAllocation(header.Size())
		}
		return nil
	})
	return errors.Wrap(err, "heap walk stopped early")
}
