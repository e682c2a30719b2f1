// Package queue provides an unbounded, ordered, goroutine-safe double ended
// queue with a blocking wait.
//
// Len and Empty are snapshots; with concurrent producers or consumers the
// answer may already be stale when it is returned.
package queue

import (
	"context"
	"errors"
	"sync"
)

// ErrEmpty is returned by Pop and peek operations on an empty queue.
var ErrEmpty = errors.New("queue is empty")

const minCapacity = 16

// Queue is a multi-producer, multi-consumer deque backed by a growable ring.
// The zero value is ready to use. A Queue must not be copied after first use.
type Queue[T any] struct {
	mu   sync.Mutex
	cond *sync.Cond

	buf  []T
	head int // index of the front item
	n    int // number of items
}

// New returns an empty queue.
func New[T any]() *Queue[T] {
	return &Queue[T]{}
}

// lazyInit must be called with q.mu held.
func (q *Queue[T]) lazyInit() {
	if q.cond == nil {
		q.cond = sync.NewCond(&q.mu)
	}
}

// grow doubles the ring, keeping items in order starting at index 0.
func (q *Queue[T]) grow() {
	size := len(q.buf) * 2
	if size < minCapacity {
		size = minCapacity
	}
	buf := make([]T, size)
	if q.n > 0 {
		if q.head+q.n <= len(q.buf) {
			copy(buf, q.buf[q.head:q.head+q.n])
		} else {
			k := copy(buf, q.buf[q.head:])
			copy(buf[k:], q.buf[:q.n-k])
		}
	}
	q.buf = buf
	q.head = 0
}

func (q *Queue[T]) index(i int) int { return (q.head + i) & (len(q.buf) - 1) }

// PushBack appends v and wakes at most one waiter.
func (q *Queue[T]) PushBack(v T) {
	q.mu.Lock()
	q.lazyInit()
	if q.n == len(q.buf) {
		q.grow()
	}
	q.buf[q.index(q.n)] = v
	q.n++
	q.cond.Signal()
	q.mu.Unlock()
}

// PushFront prepends v and wakes at most one waiter.
func (q *Queue[T]) PushFront(v T) {
	q.mu.Lock()
	q.lazyInit()
	if q.n == len(q.buf) {
		q.grow()
	}
	q.head = (q.head - 1) & (len(q.buf) - 1)
	q.buf[q.head] = v
	q.n++
	q.cond.Signal()
	q.mu.Unlock()
}

// PopFront removes and returns the front item.
func (q *Queue[T]) PopFront() (T, error) {
	var zero T

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.n == 0 {
		return zero, ErrEmpty
	}
	v := q.buf[q.head]
	q.buf[q.head] = zero
	q.head = q.index(1)
	q.n--
	return v, nil
}

// PopBack removes and returns the back item.
func (q *Queue[T]) PopBack() (T, error) {
	var zero T

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.n == 0 {
		return zero, ErrEmpty
	}
	i := q.index(q.n - 1)
	v := q.buf[i]
	q.buf[i] = zero
	q.n--
	return v, nil
}

// Front returns the front item without removing it.
func (q *Queue[T]) Front() (T, error) {
	var zero T

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.n == 0 {
		return zero, ErrEmpty
	}
	return q.buf[q.head], nil
}

// Back returns the back item without removing it.
func (q *Queue[T]) Back() (T, error) {
	var zero T

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.n == 0 {
		return zero, ErrEmpty
	}
	return q.buf[q.index(q.n-1)], nil
}

func (q *Queue[T]) Empty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.n == 0
}

func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.n
}

// Clear drops every item.
func (q *Queue[T]) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()

	var zero T
	for i := 0; i < q.n; i++ {
		q.buf[q.index(i)] = zero
	}
	q.head = 0
	q.n = 0
}

// WaitForItem blocks until the queue holds at least one item. It cannot be
// cancelled. Another consumer may take the item before the caller pops it.
func (q *Queue[T]) WaitForItem() {
	q.mu.Lock()
	q.lazyInit()
	for q.n == 0 {
		q.cond.Wait()
	}
	q.mu.Unlock()
}

// WaitForItemContext is WaitForItem that gives up when ctx is done.
func (q *Queue[T]) WaitForItemContext(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		q.mu.Lock()
		q.lazyInit()
		q.cond.Broadcast()
		q.mu.Unlock()
	})
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()

	q.lazyInit()
	for q.n == 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		q.cond.Wait()
	}
	return nil
}
