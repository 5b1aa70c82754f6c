package containers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingQueueWrapsAround(t *testing.T) {
	q := NewRingQueue[int](3)
	require.NoError(t, q.Enqueue(1))
	require.NoError(t, q.Enqueue(2))
	require.NoError(t, q.Enqueue(3))
	assert.True(t, q.IsFull())
	assert.ErrorIs(t, q.Enqueue(4), ErrQueueFull)

	v, err := q.Dequeue()
	require.NoError(t, err)
	assert.Equal(t, 1, v)
	require.NoError(t, q.Enqueue(4))

	var got []int
	q.Each(func(v int) { got = append(got, v) })
	assert.Equal(t, []int{2, 3, 4}, got)

	head, err := q.Peek()
	require.NoError(t, err)
	assert.Equal(t, 2, head)
}

func TestRingQueueEmpty(t *testing.T) {
	q := NewRingQueue[string](2)
	assert.True(t, q.IsEmpty())
	_, err := q.Dequeue()
	assert.ErrorIs(t, err, ErrQueueEmpty)
	_, err = q.Peek()
	assert.ErrorIs(t, err, ErrQueueEmpty)
}
