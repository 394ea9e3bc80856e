package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMinHeapOrder(t *testing.T) {
	pq := NewMin(4)
	for i, d := range []float32{5, 1, 3, 2, 4} {
		pq.PushItem(PriorityQueueItem{Node: uint32(i), Distance: d})
	}
	top, ok := pq.TopItem()
	require.True(t, ok)
	assert.Equal(t, float32(1), top.Distance)

	var got []float32
	for pq.Len() > 0 {
		it, _ := pq.PopItem()
		got = append(got, it.Distance)
	}
	assert.Equal(t, []float32{1, 2, 3, 4, 5}, got)

	_, ok = pq.PopItem()
	assert.False(t, ok)
}

func TestPushBoundedKeepsKClosest(t *testing.T) {
	pq := NewMax(3)
	for i, d := range []float32{9, 1, 7, 3, 8, 2} {
		pq.PushBounded(PriorityQueueItem{Node: uint32(i), Distance: d}, 3)
	}
	bound, full := pq.Bound(3)
	assert.True(t, full)
	assert.Equal(t, float32(3), bound)

	items := pq.DrainAscending()
	require.Len(t, items, 3)
	assert.Equal(t, []uint32{1, 5, 3}, []uint32{items[0].Node, items[1].Node, items[2].Node})
	assert.Equal(t, 0, pq.Len())
}

func TestBoundNotFull(t *testing.T) {
	pq := NewMax(2)
	pq.PushBounded(PriorityQueueItem{Node: 1, Distance: 1}, 2)
	_, full := pq.Bound(2)
	assert.False(t, full)

	assert.False(t, pq.PushBounded(PriorityQueueItem{Node: 2, Distance: 0}, 0))
}

func TestReset(t *testing.T) {
	pq := NewMin(2)
	pq.PushItem(PriorityQueueItem{Node: 1, Distance: 1})
	pq.Reset()
	assert.Equal(t, 0, pq.Len())
	_, ok := pq.TopItem()
	assert.False(t, ok)
}
