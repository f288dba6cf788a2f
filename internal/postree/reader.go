package postree

import (
	"math"
	"sort"

	"harshagw/spanstats/internal/apperr"
)

// Tree is an opened tree region. It holds only the preamble; nodes are
// decoded on demand.
type Tree struct {
	data    []byte
	offset  int64
	aux     bool
	empty   bool
	height  uint64
	count   uint64
	refBase int64
	root    int64
	limits  Limits
}

// Open reads the preamble at offset.
func Open(data []byte, offset int64, limits Limits) (*Tree, error) {
	c := &cursor{data: data, pos: int(offset)}
	flags, err := c.byte()
	if err != nil {
		return nil, apperr.WrapStorage(err, "tree preamble")
	}
	t := &Tree{
		data:   data,
		offset: offset,
		aux:    flags&flagAux != 0,
		empty:  flags&flagEmpty != 0,
		limits: limits.orDefault(),
	}
	if t.height, err = c.uvarint(); err != nil {
		return nil, apperr.WrapStorage(err, "tree preamble")
	}
	if t.count, err = c.uvarint(); err != nil {
		return nil, apperr.WrapStorage(err, "tree preamble")
	}
	if t.refBase, err = c.varint(); err != nil {
		return nil, apperr.WrapStorage(err, "tree preamble")
	}
	delta, err := c.uvarint()
	if err != nil {
		return nil, apperr.WrapStorage(err, "tree preamble")
	}
	if !t.empty {
		if delta == 0 || int64(delta) > offset {
			return nil, apperr.Storagef("tree at %d: root pointer %d out of range", offset, delta)
		}
		t.root = offset - int64(delta)
	}
	return t, nil
}

// Empty reports whether the tree holds no intervals.
func (t *Tree) Empty() bool { return t.empty }

// Height returns the height recorded at build time.
func (t *Tree) Height() int { return int(t.height) }

// Count returns the number of distinct intervals.
func (t *Tree) Count() int { return int(t.count) }

// Search returns every reference whose interval intersects [start, end].
func (t *Tree) Search(start, end uint64) ([]Hit, error) {
	if t.empty || end < start {
		return nil, nil
	}
	limit := t.searchLimit(start, end)
	visits := 0

	var hits []Hit
	stack := []int64{t.root}
	for len(stack) > 0 {
		off := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		visits++
		if visits > limit {
			return nil, apperr.Storagef("tree at %d: search [%d,%d] exceeded %d visited nodes", t.offset, start, end, limit)
		}

		n, err := t.readNode(off)
		if err != nil {
			return nil, err
		}
		if start > n.max {
			continue
		}
		if end >= n.left && start <= n.right {
			if hits, err = t.appendRefs(hits, n); err != nil {
				return nil, err
			}
		}
		if n.leftChild >= 0 && n.leftMax >= start {
			stack = append(stack, n.leftChild)
		}
		if n.rightChild >= 0 && n.left <= end && n.rightMinLeft <= end && n.rightMax >= start {
			stack = append(stack, n.rightChild)
		}
	}
	sortHits(hits)
	return hits, nil
}

// PointSearch returns every reference whose interval contains position.
func (t *Tree) PointSearch(position uint64) ([]Hit, error) {
	return t.Search(position, position)
}

// Advance returns the references of the intervals with the smallest left
// bound that is >= position. Repeated calls with non-decreasing positions
// never move backwards.
func (t *Tree) Advance(position uint64) ([]Hit, error) {
	if t.empty {
		return nil, nil
	}
	limit := t.limits.VisitBase + t.limits.PerPosition*(int(t.height)+1)
	visits := 0

	best := uint64(math.MaxUint64)
	var hits []Hit
	stack := []int64{t.root}
	for len(stack) > 0 {
		off := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		visits++
		if visits > limit {
			return nil, apperr.Storagef("tree at %d: advance to %d exceeded %d visited nodes", t.offset, position, limit)
		}

		n, err := t.readNode(off)
		if err != nil {
			return nil, err
		}
		if n.left < position {
			if n.rightChild >= 0 {
				stack = append(stack, n.rightChild)
			}
			continue
		}
		switch {
		case n.left < best:
			best = n.left
			hits = hits[:0]
			if hits, err = t.appendRefs(hits, n); err != nil {
				return nil, err
			}
		case n.left == best:
			if hits, err = t.appendRefs(hits, n); err != nil {
				return nil, err
			}
		}
		if n.leftChild >= 0 {
			stack = append(stack, n.leftChild)
		}
		// equal left bounds may continue into the right subtree
		if n.rightChild >= 0 && n.left <= best && n.rightMinLeft == n.left {
			stack = append(stack, n.rightChild)
		}
	}
	sortHits(hits)
	return hits, nil
}

func (t *Tree) searchLimit(start, end uint64) int {
	span := end - start + 1
	if span > math.MaxInt32 {
		span = math.MaxInt32
	}
	return t.limits.VisitBase + (int(t.height)+1)*t.limits.PerPosition*int(span)
}

func (t *Tree) readNode(off int64) (node, error) {
	if off < 0 || off >= int64(len(t.data)) {
		return node{}, apperr.Storagef("node offset %d out of range", off)
	}
	c := &cursor{data: t.data, pos: int(off)}
	n := node{offset: off, leftChild: -1, rightChild: -1}

	var err error
	var width, slack uint64
	if n.left, err = c.uvarint(); err != nil {
		return node{}, err
	}
	if width, err = c.uvarint(); err != nil {
		return node{}, err
	}
	if slack, err = c.uvarint(); err != nil {
		return node{}, err
	}
	n.right = n.left + width
	n.max = n.right + slack

	ptr, err := c.uvarint()
	if err != nil {
		return node{}, err
	}
	if ptr != 0 {
		if int64(ptr) > off {
			return node{}, apperr.Storagef("node %d: left pointer %d out of range", off, ptr)
		}
		n.leftChild = off - int64(ptr)
		if n.leftMax, err = c.uvarint(); err != nil {
			return node{}, err
		}
	}
	if ptr, err = c.uvarint(); err != nil {
		return node{}, err
	}
	if ptr != 0 {
		if int64(ptr) > off {
			return node{}, apperr.Storagef("node %d: right pointer %d out of range", off, ptr)
		}
		n.rightChild = off - int64(ptr)
		if n.rightMinLeft, err = c.uvarint(); err != nil {
			return node{}, err
		}
		if n.rightMax, err = c.uvarint(); err != nil {
			return node{}, err
		}
	}
	n.refsAt = c.pos
	return n, nil
}

func (t *Tree) appendRefs(hits []Hit, n node) ([]Hit, error) {
	c := &cursor{data: t.data, pos: n.refsAt}
	count, err := c.uvarint()
	if err != nil {
		return nil, err
	}
	if count > uint64(len(t.data)) {
		return nil, apperr.Storagef("node %d: reference count %d out of range", n.offset, count)
	}
	prev := t.refBase
	for i := uint64(0); i < count; i++ {
		delta, err := c.varint()
		if err != nil {
			return nil, err
		}
		h := Hit{Left: n.left, Right: n.right, Ref: prev + delta}
		prev = h.Ref
		if t.aux {
			if h.AuxID, err = c.uvarint(); err != nil {
				return nil, err
			}
			if h.AuxRef, err = c.uvarint(); err != nil {
				return nil, err
			}
		}
		hits = append(hits, h)
	}
	return hits, nil
}

func sortHits(hits []Hit) {
	sort.Slice(hits, func(i, j int) bool {
		a, b := hits[i], hits[j]
		if a.Left != b.Left {
			return a.Left < b.Left
		}
		if a.Right != b.Right {
			return a.Right < b.Right
		}
		return a.Ref < b.Ref
	})
}
