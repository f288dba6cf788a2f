package intervaltree

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(query func(func(*Item[int]))) []int {
	var out []int
	query(func(it *Item[int]) { out = append(out, it.Value) })
	return out
}

func TestBlockMatchSemantics(t *testing.T) {
	tree := New[int]()
	tree.Insert(0, 9, 0)
	tree.Insert(10, 19, 1)

	assert.Equal(t, []int{0, 1}, collect(func(fn func(*Item[int])) { tree.Overlapping(5, 14, fn) }))
	assert.Empty(t, collect(func(fn func(*Item[int])) { tree.Containing(5, 14, fn) }))
	assert.Equal(t, []int{0}, collect(func(fn func(*Item[int])) { tree.At(5, fn) }))
}

func TestItemsAreMutable(t *testing.T) {
	tree := New[int]()
	tree.InsertAll([]Item[int]{{Start: 10, End: 19}, {Start: 0, End: 9}, {Start: 20, End: 29}})

	tree.Overlapping(8, 21, func(it *Item[int]) { it.Value++ })
	tree.Overlapping(12, 12, func(it *Item[int]) { it.Value++ })

	var counts []int
	tree.Walk(func(it *Item[int]) { counts = append(counts, it.Value) })
	assert.Equal(t, []int{1, 2, 1}, counts)
}

func TestInsertAllReturnsSortedItems(t *testing.T) {
	tree := New[string]()
	items := tree.InsertAll([]Item[string]{
		{Start: 5, End: 6, Value: "c"},
		{Start: 1, End: 9, Value: "b"},
		{Start: 1, End: 2, Value: "a"},
	})
	require.Len(t, items, 3)
	assert.Equal(t, "a", items[0].Value)
	assert.Equal(t, "b", items[1].Value)
	assert.Equal(t, "c", items[2].Value)
	assert.Equal(t, 3, tree.Len())
}

func TestQueriesMatchNaiveFilter(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	for trial := 0; trial < 100; trial++ {
		tree := New[int]()
		var items []Item[int]
		for i := 0; i < 1+rng.Intn(60); i++ {
			start := uint64(rng.Intn(100))
			end := start + uint64(rng.Intn(15))
			tree.Insert(start, end, i)
			items = append(items, Item[int]{Start: start, End: end, Value: i})
		}

		a := uint64(rng.Intn(110))
		b := a + uint64(rng.Intn(20))

		var wantOverlap, wantContain []int
		for _, it := range items {
			if it.Start <= b && it.End >= a {
				wantOverlap = append(wantOverlap, it.Value)
			}
			if it.Start <= a && it.End >= b {
				wantContain = append(wantContain, it.Value)
			}
		}
		gotOverlap := collect(func(fn func(*Item[int])) { tree.Overlapping(a, b, fn) })
		gotContain := collect(func(fn func(*Item[int])) { tree.Containing(a, b, fn) })

		assert.ElementsMatch(t, wantOverlap, gotOverlap, "overlapping [%d,%d]", a, b)
		assert.ElementsMatch(t, wantContain, gotContain, "containing [%d,%d]", a, b)
	}
}

func TestWalkOrder(t *testing.T) {
	tree := New[int]()
	for i, iv := range [][2]uint64{{4, 8}, {1, 3}, {4, 5}, {0, 10}, {7, 7}} {
		tree.Insert(iv[0], iv[1], i)
	}
	var got [][2]uint64
	tree.Walk(func(it *Item[int]) { got = append(got, [2]uint64{it.Start, it.End}) })
	assert.Equal(t, [][2]uint64{{0, 10}, {1, 3}, {4, 5}, {4, 8}, {7, 7}}, got)
}
