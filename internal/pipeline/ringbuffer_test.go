package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRingBuffer_FIFOEviction(t *testing.T) {
	b := NewRingBuffer[int](3)
	assert.Empty(t, b.Snapshot())

	for i := 1; i <= 5; i++ {
		b.Push(i)
	}

	assert.Equal(t, 3, b.Len())
	assert.Equal(t, []int{3, 4, 5}, b.Snapshot())
	assert.Equal(t, []int{4, 5}, b.Last(2))
	assert.Equal(t, []int{3, 4, 5}, b.Last(10))
}

func TestRingBuffer_SnapshotIsCopy(t *testing.T) {
	b := NewRingBuffer[float64](4)
	b.Push(1)
	b.Push(2)

	snap := b.Snapshot()
	snap[0] = 99
	assert.Equal(t, []float64{1, 2}, b.Snapshot())
}

func TestRingBuffer_Reset(t *testing.T) {
	b := NewRingBuffer[int](2)
	b.Push(1)
	b.Push(2)
	b.Push(3)
	b.Reset()

	assert.Zero(t, b.Len())
	b.Push(7)
	assert.Equal(t, []int{7}, b.Snapshot())
	assert.Equal(t, 2, b.Cap())
}
