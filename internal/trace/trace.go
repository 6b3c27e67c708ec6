// Package trace reads allocation traces and replays them against an allocator.
//
// A trace is line oriented. Blank lines and lines starting with '#' are ignored;
// every other line is one operation:
//
//	a <id> <size>        allocate size bytes and name the result id
//	c <id> <n> <size>    allocate n zeroed elements of size bytes
//	r <id> <size>        resize id, allocating it if id is not live
//	f <id>               free id
//	k                    walk and verify the heap
package trace

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

type OpKind int

const (
	OpAlloc OpKind = iota
	OpCalloc
	OpRealloc
	OpFree
	OpCheck
)

var opKindMapping = map[OpKind]string{
	OpAlloc:   "alloc",
	OpCalloc:  "calloc",
	OpRealloc: "realloc",
	OpFree:    "free",
	OpCheck:   "check",
}

func (k OpKind) String() string {
	str, ok := opKindMapping[k]
	if !ok {
		return "unknown"
	}
	return str
}

// operands is the number of integers following each opcode
var operands = map[string]struct {
	kind  OpKind
	count int
}{
	"a": {OpAlloc, 2},
	"c": {OpCalloc, 3},
	"r": {OpRealloc, 2},
	"f": {OpFree, 1},
	"k": {OpCheck, 0},
}

// Op is one parsed trace line
type Op struct {
	Kind  OpKind
	ID    int
	Count int
	Size  int
	// Line is the 1-based line number the op was read from
	Line int
}

// Parse reads a whole trace
func Parse(r io.Reader) ([]Op, error) {
	var ops []Op

	scanner := bufio.NewScanner(r)
	lineNumber := 0
	for scanner.Scan() {
		lineNumber++

		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		op, err := parseLine(line)
		if err != nil {
			return nil, errors.Wrapf(err, "line %d", lineNumber)
		}
		op.Line = lineNumber
		ops = append(ops, op)
	}

	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to read trace")
	}

	return ops, nil
}

func parseLine(line string) (Op, error) {
	fields := strings.Fields(line)
	form, ok := operands[fields[0]]
	if !ok {
		return Op{}, errors.Errorf("unknown operation %q", fields[0])
	}
	if len(fields)-1 != form.count {
		return Op{}, errors.Errorf("%s takes %d operands, got %d", form.kind, form.count, len(fields)-1)
	}

	values := make([]int, form.count)
	for i, field := range fields[1:] {
		value, err := strconv.Atoi(field)
		if err != nil {
			return Op{}, errors.Wrapf(err, "operand %d of %s", i+1, form.kind)
		}
		if value < 0 {
			return Op{}, errors.Errorf("operand %d of %s is negative", i+1, form.kind)
		}
		values[i] = value
	}

	op := Op{Kind: form.kind}
	switch form.kind {
	case OpAlloc, OpRealloc:
		op.ID, op.Size = values[0], values[1]
	case OpCalloc:
		op.ID, op.Count, op.Size = values[0], values[1], values[2]
	case OpFree:
		op.ID = values[0]
	}

	return op, nil
}
