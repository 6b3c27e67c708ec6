// Package tag encodes the boundary tags stored at both ends of every heap block.
//
// A tag is one little-endian 64-bit word. The low three bits carry the block
// status and the remaining bits carry the block's total size in bytes, which
// is why sizes must be multiples of eight (in practice, of the 32-byte block
// granularity).
package tag

import (
	"encoding/binary"
	"fmt"

	"github.com/pkg/errors"
)

// Width is the size in bytes of one tag word
const Width = 8

const (
	statusMask uint64 = 0x7
	sizeMask          = ^statusMask
)

// Status is the allocation state stored in a tag
type Status uint64

const (
	Free      Status = 0
	Allocated Status = 1
)

var statusMapping = map[Status]string{
	Free:      "free",
	Allocated: "allocated",
}

func (s Status) String() string {
	str, ok := statusMapping[s]
	if !ok {
		return fmt.Sprintf("Status(%d)", uint64(s))
	}
	return str
}

// Tag is a packed (size, status) pair
type Tag uint64

// Sentinel is the zero-size allocated tag that bounds heap traversal in both directions
const Sentinel = Tag(uint64(Allocated))

// Pack builds a tag from a block size and status. It panics if size is negative or
// would overlap the status bits.
func Pack(size int, status Status) Tag {
	if size < 0 || uint64(size)&statusMask != 0 {
		panic(fmt.Sprintf("tag: size %d cannot be packed", size))
	}
	if uint64(status)&sizeMask != 0 {
		panic(fmt.Sprintf("tag: status %d cannot be packed", uint64(status)))
	}

	return Tag(uint64(size) | uint64(status))
}

func (t Tag) Size() int {
	return int(uint64(t) & sizeMask)
}

func (t Tag) Status() Status {
	return Status(uint64(t) & statusMask)
}

func (t Tag) IsFree() bool {
	return t.Status() == Free
}

func (t Tag) String() string {
	return fmt.Sprintf("%d/%s", t.Size(), t.Status())
}

// Read decodes the tag stored at offset in buf
func Read(buf []byte, offset int) Tag {
	return Tag(binary.LittleEndian.Uint64(buf[offset : offset+Width]))
}

// Write encodes t at offset in buf
func Write(buf []byte, offset int, t Tag) {
	binary.LittleEndian.PutUint64(buf[offset:offset+Width], uint64(t))
}

// Check returns an error if offset does not leave room for a whole tag in buf
func Check(buf []byte, offset int) error {
	if offset < 0 || offset+Width > len(buf) {
		return errors.Errorf("tag at offset %d does not fit in a region of %d bytes", offset, len(buf))
	}
	return nil
}
