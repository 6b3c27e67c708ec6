package mm

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/memmgr/memutils"
	"github.com/vkngwrapper/memmgr/memutils/layout"
	"github.com/vkngwrapper/memmgr/memutils/tag"
	"golang.org/x/exp/slog"
)

// BlockInfo describes one block found by a heap walk
type BlockInfo struct {
	Offset int
	Size   int
	Status tag.Status
	// Requested is the size the caller asked for. It is zero for free blocks.
	Requested int
}

// Report is the result of a heap walk. Blocks lists every block visited before the
// walk finished or hit the first inconsistency, which is stored in Err.
type Report struct {
	HeapStart int
	HeapEnd   int
	Blocks    []BlockInfo
	Err       error
}

func (r *Report) String() string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "heap [%d, %d) %d bytes, %d blocks\n", r.HeapStart, r.HeapEnd, r.HeapEnd-r.HeapStart, len(r.Blocks))
	for _, block := range r.Blocks {
		fmt.Fprintf(&sb, "  %8d %8d %-9s", block.Offset, block.Size, block.Status)
		if block.Status == tag.Allocated {
			fmt.Fprintf(&sb, " requested %d", block.Requested)
		}
		sb.WriteByte('\n')
	}
	if r.Err != nil {
		fmt.Fprintf(&sb, "error: %v\n", r.Err)
	}

	return sb.String()
}

// WriteJSON writes the report as a single json object
func (r *Report) WriteJSON(writer *jwriter.Writer) {
	obj := writer.Object()
	defer obj.End()

	r.jsonData(obj)
}

func (r *Report) jsonData(json jwriter.ObjectState) {
	json.Name("HeapStart").Int(r.HeapStart)
	json.Name("HeapEnd").Int(r.HeapEnd)
	if r.Err != nil {
		json.Name("Error").String(r.Err.Error())
	}

	arrayState := json.Name("Blocks").Array()
	defer arrayState.End()

	for _, block := range r.Blocks {
		obj := arrayState.Object()
		obj.Name("Offset").Int(block.Offset)
		obj.Name("Size").Int(block.Size)
		obj.Name("Type").String(block.Status.String())
		if block.Status == tag.Allocated {
			obj.Name("Requested").Int(block.Requested)
		}
		obj.End()
	}
}

// Check walks the whole heap and verifies its structure: both sentinels, matching
// header and footer tags, block sizes and bounds, the absence of adjacent free
// blocks, and agreement between allocated blocks and live allocations. A failed
// check returns the partial report and an ErrCorruptHeap invariant violation.
func (a *Allocator) Check() (*Report, error) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	if err := a.requireInit("Check"); err != nil {
		return nil, err
	}

	report, err := a.check()
	if err != nil {
		return report, a.violation(err, ErrCorruptHeap, "heap check failed")
	}

	a.logCall("Allocator::Check", slog.Int("Blocks", len(report.Blocks)))
	return report, nil
}

// Validate is Check without the report
func (a *Allocator) Validate() error {
	_, err := a.Check()
	return err
}

var _ memutils.Validatable = &Allocator{}

func (a *Allocator) check() (*Report, error) {
	report := &Report{
		HeapStart: int(a.heap.Start()),
		HeapEnd:   int(a.heap.End()),
	}

	fail := func(err error) (*Report, error) {
		report.Err = err
		return report, err
	}

	if sentinel := a.heap.StartSentinel(); sentinel != tag.Sentinel {
		return fail(errors.Newf("start sentinel at %d is %s", report.HeapStart-tag.Width, sentinel))
	}
	if sentinel := a.heap.EndSentinel(); sentinel != tag.Sentinel {
		return fail(errors.Newf("end sentinel at %d is %s", report.HeapEnd, sentinel))
	}

	allocationCount := 0
	prevFree := false
	err := a.heap.VisitAllBlocks(func(b layout.Block, header tag.Tag) error {
		size := header.Size()
		if size < layout.MinBlockSize || !memutils.IsAligned(size, layout.Granularity) {
			return errors.Newf("block at %d has invalid size %d", b, size)
		}
		if header.Status() != tag.Free && header.Status() != tag.Allocated {
			return errors.Newf("block at %d has invalid status %s", b, header.Status())
		}
		if footer := a.heap.Footer(b); footer != header {
			return errors.Newf("block at %d has header %s but footer %s", b, header, footer)
		}

		info := BlockInfo{Offset: int(b), Size: size, Status: header.Status()}
		if header.IsFree() {
			if prevFree {
				return errors.Newf("free block at %d follows another free block", b)
			}
		} else {
			requested, live := a.live.Get(b.Payload())
			if !live {
				return errors.Newf("allocated block at %d is not a live allocation", b)
			}
			info.Requested = requested
			allocationCount++
		}

		prevFree = header.IsFree()
		report.Blocks = append(report.Blocks, info)
		return nil
	})
	if err != nil {
		return fail(err)
	}

	if allocationCount != a.live.Count() {
		return fail(errors.Newf("heap holds %d allocated blocks but %d allocations are live", allocationCount, a.live.Count()))
	}

	return report, nil
}

// PrintDetailedMap writes a json object describing the heap: its statistics and every
// block in address order
func (a *Allocator) PrintDetailedMap(writer *jwriter.Writer) error {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	if err := a.requireInit("PrintDetailedMap"); err != nil {
		return err
	}

	var stats memutils.DetailedStatistics
	stats.Clear()
	walkErr := a.addDetailedStatistics(&stats)

	report, checkErr := a.check()
	if checkErr == nil {
		checkErr = walkErr
	}

	objState := writer.Object()
	defer objState.End()

	objState.Name("Policy").String(a.strategy.Policy().String())

	totalObj := objState.Name("Total").Object()
	totalObj.Name("HeapBytes").Int(stats.HeapBytes)
	totalObj.Name("Allocations").Int(stats.AllocationCount)
	totalObj.Name("AllocationBytes").Int(stats.AllocationBytes)
	totalObj.Name("RequestedBytes").Int(stats.RequestedBytes)
	totalObj.Name("FreeBlocks").Int(stats.FreeBlockCount)
	totalObj.Name("FreeBytes").Int(stats.FreeBytes())
	totalObj.End()

	heapObj := objState.Name("Heap").Object()
	report.jsonData(heapObj)
	heapObj.End()

	if checkErr != nil {
		return a.violation(checkErr, ErrCorruptHeap, "heap check failed while printing the heap map")
	}

	return nil
}
