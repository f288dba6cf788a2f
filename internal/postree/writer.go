package postree

import (
	"encoding/binary"
	"sort"
)

// Options control how a tree is encoded.
type Options struct {
	// Aux stores AuxID/AuxRef next to every reference.
	Aux bool
	// RefBase is subtracted from the first reference of every node.
	RefBase int64
}

type entry struct {
	left  uint64
	right uint64
	refs  []Interval
}

// Append encodes items as a tree at the end of dst. origin is the absolute
// offset of dst[0]. It returns the extended buffer and the absolute offset of
// the tree preamble, which is what readers open.
func Append(dst []byte, origin int64, items []Interval, opts Options) ([]byte, int64) {
	sorted := make([]Interval, len(items))
	copy(sorted, items)
	sort.Slice(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.Left != b.Left {
			return a.Left < b.Left
		}
		if a.Right != b.Right {
			return a.Right < b.Right
		}
		return a.Ref < b.Ref
	})

	var entries []entry
	for _, it := range sorted {
		n := len(entries)
		if n > 0 && entries[n-1].left == it.Left && entries[n-1].right == it.Right {
			entries[n-1].refs = append(entries[n-1].refs, it)
			continue
		}
		entries = append(entries, entry{left: it.Left, right: it.Right, refs: []Interval{it}})
	}

	w := &writer{buf: dst, origin: origin, opts: opts}
	var root written
	var height int
	if len(entries) > 0 {
		root, height = w.build(entries)
	}

	treeOffset := w.offset()
	var flags byte
	if opts.Aux {
		flags |= flagAux
	}
	if len(entries) == 0 {
		flags |= flagEmpty
	}
	w.buf = append(w.buf, flags)
	w.buf = binary.AppendUvarint(w.buf, uint64(height))
	w.buf = binary.AppendUvarint(w.buf, uint64(len(entries)))
	w.buf = binary.AppendVarint(w.buf, opts.RefBase)
	if len(entries) > 0 {
		w.buf = binary.AppendUvarint(w.buf, uint64(treeOffset-root.offset))
	} else {
		w.buf = binary.AppendUvarint(w.buf, 0)
	}
	return w.buf, treeOffset
}

type writer struct {
	buf    []byte
	origin int64
	opts   Options
}

type written struct {
	offset int64
	left   uint64
	minL   uint64
	max    uint64
}

func (w *writer) offset() int64 {
	return w.origin + int64(len(w.buf))
}

// build writes entries as a subtree rooted at the median and returns the
// root description and the subtree height.
func (w *writer) build(entries []entry) (written, int) {
	mid := len(entries) / 2
	var left, right written
	var lh, rh int
	hasLeft := mid > 0
	hasRight := mid+1 < len(entries)
	if hasLeft {
		left, lh = w.build(entries[:mid])
	}
	if hasRight {
		right, rh = w.build(entries[mid+1:])
	}

	e := entries[mid]
	maxRight := e.right
	if hasLeft && left.max > maxRight {
		maxRight = left.max
	}
	if hasRight && right.max > maxRight {
		maxRight = right.max
	}

	off := w.offset()
	w.buf = binary.AppendUvarint(w.buf, e.left)
	w.buf = binary.AppendUvarint(w.buf, e.right-e.left)
	w.buf = binary.AppendUvarint(w.buf, maxRight-e.right)
	if hasLeft {
		w.buf = binary.AppendUvarint(w.buf, uint64(off-left.offset))
		w.buf = binary.AppendUvarint(w.buf, left.max)
	} else {
		w.buf = binary.AppendUvarint(w.buf, 0)
	}
	if hasRight {
		w.buf = binary.AppendUvarint(w.buf, uint64(off-right.offset))
		w.buf = binary.AppendUvarint(w.buf, right.minL)
		w.buf = binary.AppendUvarint(w.buf, right.max)
	} else {
		w.buf = binary.AppendUvarint(w.buf, 0)
	}
	w.buf = binary.AppendUvarint(w.buf, uint64(len(e.refs)))
	prev := w.opts.RefBase
	for _, r := range e.refs {
		w.buf = binary.AppendVarint(w.buf, r.Ref-prev)
		prev = r.Ref
		if w.opts.Aux {
			w.buf = binary.AppendUvarint(w.buf, r.AuxID)
			w.buf = binary.AppendUvarint(w.buf, r.AuxRef)
		}
	}

	minLeft := e.left
	if hasLeft {
		minLeft = left.minL
	}
	return written{offset: off, left: e.left, minL: minLeft, max: maxRight}, 1 + max(lh, rh)
}
