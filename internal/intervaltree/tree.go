// Package intervaltree is an insert-only interval tree over inclusive
// position ranges. Nodes are ordered by (start, end) and carry the largest
// end of their subtree, which prunes every query.
package intervaltree

import (
	"cmp"
	"slices"
)

// Item is one interval with its payload. Items returned by queries may be
// modified in place.
type Item[T any] struct {
	Start, End uint64
	Value      T
}

type node[T any] struct {
	item        Item[T]
	max         uint64
	left, right *node[T]
}

// Tree is not safe for concurrent use.
type Tree[T any] struct {
	root *node[T]
	size int
}

func New[T any]() *Tree[T] {
	return &Tree[T]{}
}

// Len returns the number of items.
func (t *Tree[T]) Len() int { return t.size }

// Insert adds [start, end] and returns the stored item.
func (t *Tree[T]) Insert(start, end uint64, value T) *Item[T] {
	if end < start {
		start, end = end, start
	}
	n := &node[T]{item: Item[T]{Start: start, End: end, Value: value}, max: end}
	t.size++
	if t.root == nil {
		t.root = n
		return &n.item
	}
	cur := t.root
	for {
		if end > cur.max {
			cur.max = end
		}
		if less(n.item, cur.item) {
			if cur.left == nil {
				cur.left = n
				return &n.item
			}
			cur = cur.left
		} else {
			if cur.right == nil {
				cur.right = n
				return &n.item
			}
			cur = cur.right
		}
	}
}

// InsertAll adds items median first so a sorted batch yields a balanced
// tree. It returns the stored items in (start, end) order.
func (t *Tree[T]) InsertAll(items []Item[T]) []*Item[T] {
	sorted := slices.Clone(items)
	slices.SortStableFunc(sorted, compare[T])
	out := make([]*Item[T], len(sorted))

	type span struct{ lo, hi int }
	queue := []span{{0, len(sorted)}}
	for len(queue) > 0 {
		s := queue[0]
		queue = queue[1:]
		if s.lo >= s.hi {
			continue
		}
		mid := (s.lo + s.hi) / 2
		out[mid] = t.Insert(sorted[mid].Start, sorted[mid].End, sorted[mid].Value)
		queue = append(queue, span{s.lo, mid}, span{mid + 1, s.hi})
	}
	return out
}

func less[T any](a, b Item[T]) bool {
	return compare(a, b) < 0
}

func compare[T any](a, b Item[T]) int {
	if c := cmp.Compare(a.Start, b.Start); c != 0 {
		return c
	}
	return cmp.Compare(a.End, b.End)
}

// Overlapping calls fn, in order, for every item intersecting [start, end].
func (t *Tree[T]) Overlapping(start, end uint64, fn func(*Item[T])) {
	t.visit(start, end, func(it *Item[T]) bool { return it.End >= start }, fn)
}

// Containing calls fn, in order, for every item that fully contains
// [start, end].
func (t *Tree[T]) Containing(start, end uint64, fn func(*Item[T])) {
	t.visit(end, start, func(it *Item[T]) bool { return it.End >= end }, fn)
}

// At calls fn, in order, for every item the position falls in.
func (t *Tree[T]) At(position uint64, fn func(*Item[T])) {
	t.Containing(position, position, fn)
}

// visit walks in order, skipping subtrees whose max is below minMax and
// stopping at the first item starting after maxStart.
func (t *Tree[T]) visit(minMax, maxStart uint64, match func(*Item[T]) bool, fn func(*Item[T])) {
	var stack []*node[T]
	n := t.root
	for {
		for n != nil && n.max >= minMax {
			stack = append(stack, n)
			n = n.left
		}
		if len(stack) == 0 {
			return
		}
		n = stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if n.item.Start > maxStart {
			return
		}
		if match(&n.item) {
			fn(&n.item)
		}
		n = n.right
	}
}

// Walk calls fn for every item in (start, end) order.
func (t *Tree[T]) Walk(fn func(*Item[T])) {
	var stack []*node[T]
	n := t.root
	for n != nil || len(stack) > 0 {
		for n != nil {
			stack = append(stack, n)
			n = n.left
		}
		n = stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		fn(&n.item)
		n = n.right
	}
}
