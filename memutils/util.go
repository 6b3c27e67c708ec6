package memutils

import (
	cerrors "github.com/cockroachdb/errors"
	"golang.org/x/exp/constraints"
)

type Number interface {
	constraints.Integer
}

func CheckPow2[T Number](number T, name string) error {
	if number <= 0 || number&(number-1) != 0 {
		return cerrors.Wrapf(PowerOfTwoError, "%s is %d", name, number)
	}
	return nil
}

// AlignUp rounds value up to the next multiple of alignment, which must be a power of two
func AlignUp(value int, alignment uint) int {
	return (value + int(alignment) - 1) & int(^(alignment - 1))
}

// AlignDown rounds value down to the previous multiple of alignment, which must be a power of two
func AlignDown(value int, alignment uint) int {
	return value & int(^(alignment - 1))
}

// IsAligned returns true if value is a multiple of alignment, which must be a power of two
func IsAligned(value int, alignment uint) bool {
	return value&int(alignment-1) == 0
}

// Validatable is anything DebugValidate can check. The heap allocator implements it
// with a full walk of its blocks.
type Validatable interface {
	Validate() error
}
