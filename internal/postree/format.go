// Package postree implements the on-disk position search tree.
//
// A tree is a balanced binary search tree over inclusive [left, right]
// intervals, ordered by (left, right). Every node stores the maximum right
// bound of its subtree, which is the pruning key for range search. Nodes are
// immutable and addressed by absolute byte offset; they are decoded lazily
// into plain structs and never linked in memory.
//
// Layout of one tree region (all integers varint encoded):
//
//	node ... node            post-order, children before parents
//	preamble                 flags, height, nodeCount, refBase (zigzag), rootDelta
//
// The tree offset is the offset of the preamble. rootDelta is
// treeOffset - rootOffset. A node is
//
//	left, right-left, max-right,
//	leftPtr  [, leftMax]                 ptr = nodeOffset - childOffset, 0 = none
//	rightPtr [, rightMinLeft, rightMax]
//	refCount, refs...                    zigzag deltas, the first against refBase
//	                                     followed by auxID, auxRef when flagAux is set
package postree

import (
	"encoding/binary"

	"harshagw/spanstats/internal/apperr"
)

const (
	flagAux   = byte(1 << 0)
	flagEmpty = byte(1 << 1)
)

// Interval is one entry stored in a tree.
type Interval struct {
	Left   uint64
	Right  uint64
	Ref    int64
	AuxID  uint64
	AuxRef uint64
}

// Hit is one token reference returned by a traversal.
type Hit = Interval

// Limits bound the number of nodes a single traversal may visit.
type Limits struct {
	VisitBase   int
	PerPosition int
}

// DefaultLimits are used when a zero Limits is supplied.
var DefaultLimits = Limits{VisitBase: 1000, PerPosition: 10}

func (l Limits) orDefault() Limits {
	if l.VisitBase <= 0 {
		l.VisitBase = DefaultLimits.VisitBase
	}
	if l.PerPosition <= 0 {
		l.PerPosition = DefaultLimits.PerPosition
	}
	return l
}

// node is a decoded node header. Child offsets are absolute, -1 when absent.
type node struct {
	offset       int64
	left         uint64
	right        uint64
	max          uint64
	leftChild    int64
	leftMax      uint64
	rightChild   int64
	rightMinLeft uint64
	rightMax     uint64
	refsAt       int
}

// cursor decodes varints from a byte slice with bounds checking.
type cursor struct {
	data []byte
	pos  int
}

func (c *cursor) uvarint() (uint64, error) {
	if c.pos < 0 || c.pos >= len(c.data) {
		return 0, apperr.Storagef("varint read at %d out of range", c.pos)
	}
	v, n := binary.Uvarint(c.data[c.pos:])
	if n <= 0 {
		return 0, apperr.Storagef("bad varint at %d", c.pos)
	}
	c.pos += n
	return v, nil
}

func (c *cursor) varint() (int64, error) {
	if c.pos < 0 || c.pos >= len(c.data) {
		return 0, apperr.Storagef("varint read at %d out of range", c.pos)
	}
	v, n := binary.Varint(c.data[c.pos:])
	if n <= 0 {
		return 0, apperr.Storagef("bad varint at %d", c.pos)
	}
	c.pos += n
	return v, nil
}

func (c *cursor) byte() (byte, error) {
	if c.pos < 0 || c.pos >= len(c.data) {
		return 0, apperr.Storagef("byte read at %d out of range", c.pos)
	}
	b := c.data[c.pos]
	c.pos++
	return b, nil
}
