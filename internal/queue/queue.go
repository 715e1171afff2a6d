// Package queue holds the shared FIFO of pending purchase tasks for one job.
package queue

import (
	"sync"

	"github.com/khaledrokaya2/goldpin/internal/domain"
)

// Queue is a mutable FIFO shared by all workers of a job. Retried tasks go
// back to the front, not the back: a partially completed job finishes the
// cards it already started before picking up new ones, which bounds how long
// a single task can bounce between crashing workers.
type Queue struct {
	mu    sync.Mutex
	tasks []domain.Task
}

// New returns a queue pre-filled with tasks 1..n in order.
func New(n int) *Queue {
	q := &Queue{tasks: make([]domain.Task, 0, n)}
	for i := 1; i <= n; i++ {
		q.tasks = append(q.tasks, domain.Task(i))
	}
	return q
}

// PopFront removes and returns the first task. ok is false when the queue is
// empty.
func (q *Queue) PopFront() (task domain.Task, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.tasks) == 0 {
		return 0, false
	}
	task = q.tasks[0]
	q.tasks = q.tasks[1:]
	return task, true
}

// PushFront returns a task to the head of the queue so it is retried before
// any unattempted task.
func (q *Queue) PushFront(task domain.Task) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append([]domain.Task{task}, q.tasks...)
}

// Len returns the number of pending tasks.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}
