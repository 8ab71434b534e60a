package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueFIFO(t *testing.T) {
	q := newQueue[int]()
	q.Enqueue(1)
	q.Enqueue(2)
	q.Enqueue(3)
	assert.Equal(t, 3, q.Len())

	for want := 1; want <= 3; want++ {
		got, ok := q.TryDequeue()
		require.True(t, ok)
		assert.Equal(t, want, got)
	}
	_, ok := q.TryDequeue()
	assert.False(t, ok)
}

func TestQueueWaitSignals(t *testing.T) {
	q := newQueue[string]()

	done := make(chan string)
	go func() {
		<-q.Wait()
		v, _ := q.TryDequeue()
		done <- v
	}()

	q.Enqueue("item")
	assert.Equal(t, "item", <-done)
}

func TestQueueClose(t *testing.T) {
	q := newQueue[int]()
	q.Enqueue(7)
	q.Close()

	// Items enqueued before close still drain.
	v, ok := q.TryDequeue()
	require.True(t, ok)
	assert.Equal(t, 7, v)

	// Wait on a closed queue never blocks.
	select {
	case <-q.Wait():
	default:
		t.Fatal("wait channel should be closed")
	}

	assert.False(t, q.Enqueue(8))
	assert.Equal(t, 0, q.Len())
}
