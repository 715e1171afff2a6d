package queue

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khaledrokaya2/goldpin/internal/domain"
)

func TestNew_FillsInOrder(t *testing.T) {
	q := New(3)
	require.Equal(t, 3, q.Len())

	for want := 1; want <= 3; want++ {
		task, ok := q.PopFront()
		require.True(t, ok)
		assert.Equal(t, domain.Task(want), task)
	}

	_, ok := q.PopFront()
	assert.False(t, ok, "queue must be empty after draining")
}

func TestNew_Zero(t *testing.T) {
	q := New(0)
	assert.Equal(t, 0, q.Len())
	_, ok := q.PopFront()
	assert.False(t, ok)
}

func TestPushFront_RetriedBeforeUnattempted(t *testing.T) {
	q := New(3)

	first, ok := q.PopFront()
	require.True(t, ok)
	require.Equal(t, domain.Task(1), first)

	// Simulate a safe retry: the task goes back to the head.
	q.PushFront(first)

	next, ok := q.PopFront()
	require.True(t, ok)
	assert.Equal(t, domain.Task(1), next, "requeued task must come out before task 2")
}

func TestQueue_ConcurrentDrain_NoTaskLostOrDuplicated(t *testing.T) {
	const n = 200
	q := New(n)

	var mu sync.Mutex
	seen := make(map[domain.Task]int)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				task, ok := q.PopFront()
				if !ok {
					return
				}
				mu.Lock()
				seen[task]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Len(t, seen, n)
	for task, count := range seen {
		assert.Equal(t, 1, count, "task %d popped more than once", task)
	}
}
