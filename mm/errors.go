package mm

import (
	"github.com/cockroachdb/errors"
	"golang.org/x/exp/slog"
)

// Invariant violations. These report misuse of the allocator or a damaged heap and
// are returned decorated as assertion failures; see IsInvariantViolation. An
// allocator created with CreateAbortOnViolation panics with them instead.
var (
	ErrNotInitialized     = errors.New("allocator has not been initialized")
	ErrAlreadyInitialized = errors.New("allocator is already initialized")
	ErrInvalidPolicy      = errors.New("invalid allocation policy")
	ErrRegionNotClean     = errors.New("region must be empty before the heap is initialized")
	ErrZeroPageSize       = errors.New("region reported a page size of zero")
	ErrInitExtendFailed   = errors.New("could not obtain the initial heap from the region")
	ErrInvalidPointer     = errors.New("pointer was not returned by this allocator")
	ErrDoubleFree         = errors.New("block is already free")
	ErrCorruptHeap        = errors.New("heap is corrupt")
)

// Recoverable failures. They are returned together with Null and leave the heap
// exactly as it was.
var (
	ErrOutOfMemory  = errors.New("out of memory")
	ErrSizeOverflow = errors.New("requested size overflows")
	ErrInvalidSize  = errors.New("requested size is negative")
)

// IsInvariantViolation reports whether err signals misuse or heap corruption rather
// than an ordinary allocation failure
func IsInvariantViolation(err error) bool {
	return errors.IsAssertionFailure(err)
}

// causedError is a wrapped sentinel together with the error that led to it. The
// sentinel sits in the unwrap chain; Is also matches whatever the cause matches.
type causedError struct {
	error
	cause error
}

func (e *causedError) Error() string {
	return e.error.Error() + ": " + e.cause.Error()
}

func (e *causedError) Unwrap() error {
	return e.error
}

func (e *causedError) Is(target error) bool {
	return errors.Is(e.cause, target)
}

// wrapCause wraps sentinel with a message, attaching cause when it is non-nil
func wrapCause(cause, sentinel error, format string, args ...interface{}) error {
	err := errors.Wrapf(sentinel, format, args...)
	if cause == nil {
		return err
	}

	return &causedError{error: err, cause: cause}
}

// violation builds an invariant violation error around sentinel. A non-nil cause
// stays reachable through errors.Is.
func (a *Allocator) violation(cause, sentinel error, format string, args ...interface{}) error {
	err := errors.WithAssertionFailure(wrapCause(cause, sentinel, format, args...))
	a.logCall("Allocator::violation", slog.Any("error", err))

	if a.createFlags&CreateAbortOnViolation != 0 {
		panic(err)
	}

	return err
}
