package priority

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_FIFOWithinPriority(t *testing.T) {
	q := NewQueue[string](4)

	ha := q.Insert("a", 1)
	hb := q.Insert("b", 1)
	hc := q.Insert("c", 1)

	require.True(t, ha.Valid())
	require.True(t, hb.Valid())
	require.True(t, hc.Valid())

	h, ok := q.FirstMax()
	require.True(t, ok)
	v, _ := q.Get(h)
	assert.Equal(t, "a", v)

	q.Erase(h)
	h2, ok := q.FirstMax()
	require.True(t, ok)
	v2, _ := q.Get(h2)
	assert.Equal(t, "b", v2)
	assert.Equal(t, 2, q.Size())
}

func TestQueue_FirstMaxPrefersHigherPriority(t *testing.T) {
	q := NewQueue[string](4)
	q.Insert("low", 0)
	hHigh := q.Insert("high", 3)

	h, ok := q.FirstMax()
	require.True(t, ok)
	assert.Equal(t, hHigh, h)
}

func TestQueue_FirstMinPrefersLowerPriority(t *testing.T) {
	q := NewQueue[string](4)
	hLow := q.Insert("low", 0)
	q.Insert("high", 3)

	h, ok := q.FirstMin()
	require.True(t, ok)
	assert.Equal(t, hLow, h)
}

func TestQueue_InsertAtFront(t *testing.T) {
	q := NewQueue[string](1)
	q.Insert("a", 0)
	q.InsertAtFront("b", 0)

	h, ok := q.FirstMax()
	require.True(t, ok)
	v, _ := q.Get(h)
	assert.Equal(t, "b", v)
}

func TestQueue_EraseInvalidatesHandle(t *testing.T) {
	q := NewQueue[string](1)
	h := q.Insert("a", 0)
	q.Erase(h)

	_, ok := q.Get(h)
	assert.False(t, ok)
	assert.True(t, q.IsEmpty())
}

func TestQueue_EraseStaleHandlePanics(t *testing.T) {
	q := NewQueue[string](1)
	h := q.Insert("a", 0)
	q.Erase(h)

	assert.Panics(t, func() { q.Erase(h) })
}

func TestQueue_PriorityOutOfRangePanics(t *testing.T) {
	q := NewQueue[string](2)
	assert.Panics(t, func() { q.Insert("x", 2) })
}
