package mm

import (
	"io"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/memmgr/memutils"
	"github.com/vkngwrapper/memmgr/memutils/fit"
	"github.com/vkngwrapper/memmgr/memutils/layout"
	"github.com/vkngwrapper/memmgr/region"
	"golang.org/x/exp/slog"
)

// CreateFlags indicate specific allocator behaviors to activate or deactivate
type CreateFlags int32

var allocatorCreateFlagsMapping = common.NewFlagStringMapping[CreateFlags]()

func (f CreateFlags) Register(str string) {
	allocatorCreateFlagsMapping.Register(f, str)
}
func (f CreateFlags) String() string {
	return allocatorCreateFlagsMapping.FlagsToString(f)
}

const (
	// CreateInternallySynchronized guards every public method with a mutex so that the
	// allocator may be shared between goroutines. Without it the consumer must guarantee
	// that only one goroutine uses the allocator at a time.
	CreateInternallySynchronized CreateFlags = 1 << iota
	// CreateAbortOnViolation makes the allocator panic when it detects misuse or heap
	// corruption instead of returning the invariant violation as an error.
	CreateAbortOnViolation
)

func init() {
	CreateInternallySynchronized.Register("CreateInternallySynchronized")
	CreateAbortOnViolation.Register("CreateAbortOnViolation")
}

const (
	// DefaultChunkSize is the ChunkSize used when CreateOptions leaves it blank. It is
	// equal to 4Kb.
	DefaultChunkSize int = 4096
)

// CreateOptions contains optional settings when creating an allocator
type CreateOptions struct {
	// Flags indicates specific allocator behaviors to activate or deactivate
	Flags CreateFlags

	// ChunkSize is the minimum number of bytes the heap grows by, both for the initial
	// heap and for every extension. It must be a power of two no smaller than
	// layout.MinBlockSize. The region's page size is used instead when it is larger.
	ChunkSize int

	// NextFitMode decides what a NextFit allocator does when its scan reaches the
	// end of the heap. It is ignored by the other policies.
	NextFitMode fit.NextFitMode

	// CoalesceOnExtend merges a heap extension with a free block that ends where the
	// heap used to end, and then places the request inside the merged block. When it
	// is off, the whole extension becomes the new allocation and any trailing free
	// block stays where it is.
	CoalesceOnExtend bool
}

// New creates a new Allocator over provider. The provider must be empty; the heap is
// formatted into it by Init.
//
// logger - receives the records enabled by SetLogLevel. It may be nil.
//
// options - Optional parameters: it is valid to leave all the fields blank
func New(logger *slog.Logger, provider region.Provider, options CreateOptions) (*Allocator, error) {
	if provider == nil {
		return nil, errors.New("attempted to create an allocator over a nil region provider")
	}

	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	chunkSize := options.ChunkSize
	if chunkSize == 0 {
		chunkSize = DefaultChunkSize
	}
	if err := memutils.CheckPow2(chunkSize, "mm.CreateOptions.ChunkSize"); err != nil {
		return nil, err
	}
	if chunkSize < layout.MinBlockSize {
		return nil, errors.Newf("mm.CreateOptions.ChunkSize was %d, but must be at least %d", chunkSize, layout.MinBlockSize)
	}

	if !options.NextFitMode.Valid() {
		return nil, errors.Newf("mm.CreateOptions.NextFitMode had unknown value %d", options.NextFitMode)
	}

	allocator := &Allocator{
		logger:   logger,
		provider: provider,

		createFlags:      options.Flags,
		chunkSize:        chunkSize,
		nextFitMode:      options.NextFitMode,
		coalesceOnExtend: options.CoalesceOnExtend,

		live: swiss.NewMap[Ptr, int](liveTableCapacity),
	}
	allocator.mutex.UseMutex = options.Flags&CreateInternallySynchronized != 0

	return allocator, nil
}
