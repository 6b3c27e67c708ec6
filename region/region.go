// Package region provides the growable byte regions an allocator formats into a heap.
//
// A region behaves like a classic program break: it starts empty, only ever
// grows, and every byte in [0, Size()) stays addressable for the region's
// lifetime. Offsets are stable across growth; slices returned by Bytes are not
// guaranteed to be.
package region

import (
	"github.com/pkg/errors"
)

// ErrExhausted is returned from Extend when the region cannot grow any further
var ErrExhausted = errors.New("region exhausted")

// ErrUnsupported is returned when a provider cannot be built on the running platform
var ErrUnsupported = errors.New("region provider is not supported on this platform")

//go:generate mockgen -source region.go -destination ./mocks/mock_provider.go

// Provider is a contiguous, monotonically growing byte region
type Provider interface {
	// Bytes returns the current extent of the region, [0, Size())
	Bytes() []byte
	// Size returns the current break
	Size() int
	// PageSize returns the provider's natural growth unit
	PageSize() int
	// Extend grows the region by n bytes and returns the new break. On error the
	// region is unchanged.
	Extend(n int) (int, error)
}

func checkIncrement(size, n, limit int) error {
	if n < 0 {
		return errors.Errorf("region cannot be extended by a negative increment %d", n)
	}
	if limit > 0 && n > limit-size {
		return errors.Wrapf(ErrExhausted, "extending %d bytes by %d would pass the limit of %d", size, n, limit)
	}

	return nil
}
