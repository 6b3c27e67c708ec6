// Package mm is a dynamic memory allocator over a single growable region.
//
// The heap is an implicit free list: every block carries a boundary tag at both
// ends, and the tags themselves are the only index of free space. Freed blocks
// are coalesced with their neighbors immediately, and requests are placed by a
// pluggable fit.Strategy. Callers deal exclusively in payload pointers, which
// are offsets into the region.
package mm

import (
	"context"
	"fmt"

	"github.com/dolthub/swiss"
	"github.com/vkngwrapper/memmgr/internal/utils"
	"github.com/vkngwrapper/memmgr/memutils"
	"github.com/vkngwrapper/memmgr/memutils/fit"
	"github.com/vkngwrapper/memmgr/memutils/layout"
	"github.com/vkngwrapper/memmgr/memutils/tag"
	"github.com/vkngwrapper/memmgr/region"
	"golang.org/x/exp/slog"
)

// Ptr is a payload pointer: the region offset of the first usable byte of an allocation
type Ptr = layout.Ptr

// Null is returned in place of a pointer when nothing was allocated
const Null = layout.Null

const liveTableCapacity = 64

// Allocator manages the heap formatted into one region.Provider. Create one with New,
// then call Init once before anything else.
type Allocator struct {
	mutex    utils.OptionalMutex
	logger   *slog.Logger
	logLevel LogLevel
	provider region.Provider

	createFlags      CreateFlags
	chunkSize        int
	nextFitMode      fit.NextFitMode
	coalesceOnExtend bool

	initialized bool
	heap        *layout.Layout
	strategy    fit.Strategy
	// extendSize is chunkSize raised to the region's page size
	extendSize int

	// live maps the payload of every allocated block to the size the caller asked for
	live           *swiss.Map[Ptr, int]
	allocatedBytes int
	requestedBytes int
}

// Init obtains the initial heap from the region and formats it as a single free
// block. policy selects how later requests are placed.
//
// The region must be empty. Calling Init a second time is an invariant violation.
func (a *Allocator) Init(policy fit.Policy) error {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	if a.initialized {
		return a.violation(nil, ErrAlreadyInitialized, "allocator was already initialized with policy %s", a.strategy.Policy())
	}

	strategy, err := fit.NewStrategy(policy, a.nextFitMode)
	if err != nil {
		return a.violation(err, ErrInvalidPolicy, "could not build a strategy for policy %d", policy)
	}

	if size := a.provider.Size(); size != 0 {
		return a.violation(nil, ErrRegionNotClean, "region already spans %d bytes", size)
	}

	pageSize := a.provider.PageSize()
	if pageSize <= 0 {
		return a.violation(nil, ErrZeroPageSize, "page size was %d", pageSize)
	}
	memutils.DebugCheckPow2(pageSize, "page size")

	extendSize := a.chunkSize
	if pageSize > extendSize {
		extendSize = memutils.AlignUp(pageSize, layout.Granularity)
	}

	brk, err := a.provider.Extend(extendSize)
	if err != nil {
		return a.violation(err, ErrInitExtendFailed, "failed to extend the region by %d bytes", extendSize)
	}

	heap := layout.New(a.provider)
	err = heap.Init(brk)
	if err != nil {
		return a.violation(err, ErrInitExtendFailed, "region break %d cannot hold a heap", brk)
	}
	heap.SetBlock(heap.Start(), heap.Size(), tag.Free)

	a.heap = heap
	a.strategy = strategy
	a.extendSize = extendSize
	a.initialized = true

	a.logCall("Allocator::Init",
		slog.String("Policy", policy.String()),
		slog.Int("HeapStart", int(heap.Start())),
		slog.Int("HeapEnd", int(heap.End())))
	a.debugValidate()

	return nil
}

// Initialized reports whether Init has succeeded
func (a *Allocator) Initialized() bool {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	return a.initialized
}

// Policy returns the placement policy chosen in Init
func (a *Allocator) Policy() (fit.Policy, error) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	if !a.initialized {
		return fit.FirstFit, a.violation(nil, ErrNotInitialized, "Policy was called before Init")
	}

	return a.strategy.Policy(), nil
}

// HeapBounds returns the offsets of the first block header and of the end sentinel
func (a *Allocator) HeapBounds() (start, end int, err error) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	if !a.initialized {
		return 0, 0, a.violation(nil, ErrNotInitialized, "HeapBounds was called before Init")
	}

	return int(a.heap.Start()), int(a.heap.End()), nil
}

func (a *Allocator) requireInit(op string) error {
	if !a.initialized {
		return a.violation(nil, ErrNotInitialized, "%s was called before Init", op)
	}

	return nil
}

type debugValidator struct {
	allocator *Allocator
}

func (v debugValidator) Validate() error {
	_, err := v.allocator.check()
	return err
}

func (a *Allocator) debugValidate() {
	if memutils.DebugEnabled {
		memutils.DebugValidate(debugValidator{allocator: a})
	}
}

// LogLevel controls how much the allocator reports through its logger
type LogLevel int

const (
	// LogOff disables all allocator records
	LogOff LogLevel = iota
	// LogInfo records every public call and its result
	LogInfo
	// LogVerbose additionally records each split, coalesce and heap extension
	LogVerbose
)

var logLevelMapping = map[LogLevel]string{
	LogOff:     "LogOff",
	LogInfo:    "LogInfo",
	LogVerbose: "LogVerbose",
}

func (l LogLevel) String() string {
	str, ok := logLevelMapping[l]
	if !ok {
		return fmt.Sprintf("LogLevel(%d)", int(l))
	}
	return str
}

// SetLogLevel changes the allocator's diagnostic verbosity. Levels above LogVerbose
// behave like LogVerbose and levels below LogOff like LogOff.
func (a *Allocator) SetLogLevel(level LogLevel) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	if level < LogOff {
		level = LogOff
	}
	a.logLevel = level
}

func (a *Allocator) LogLevel() LogLevel {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	return a.logLevel
}

func (a *Allocator) logCall(msg string, attrs ...slog.Attr) {
	if a.logLevel < LogInfo {
		return
	}

	a.logger.LogAttrs(context.Background(), slog.LevelInfo, msg, attrs...)
}

func (a *Allocator) logDetail(msg string, attrs ...slog.Attr) {
	if a.logLevel < LogVerbose {
		return
	}

	a.logger.LogAttrs(context.Background(), slog.LevelDebug, msg, attrs...)
}
