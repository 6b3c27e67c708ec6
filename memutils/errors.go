package memutils

import "github.com/pkg/errors"

var (
	// PowerOfTwoError is the error returned from CheckPow2 or other methods if the number being tested is not a power of two
	PowerOfTwoError error = errors.New("number must be a power of two")
	// AlignmentError is returned when an offset does not sit on the granularity the heap requires
	AlignmentError error = errors.New("offset is not aligned")
	// RangeError is returned when an offset falls outside the bounds it is being checked against
	RangeError error = errors.New("offset is out of range")
)
