package object

import "errors"

// ErrQueueFull is returned when the external command queue has no free slot.
var ErrQueueFull = errors.New("external command queue full")

// DefaultCommandQueueCapacity is the default number of deferred lifecycle commands.
const DefaultCommandQueueCapacity = 8

// Pending is a lifecycle command whose reply has been deferred.
type Pending struct {
	Command string
	Reply   ReplyTo
}

// CommandQueue is a fixed-capacity FIFO ring. It is owned by one object
// goroutine and is not safe for concurrent use.
type CommandQueue[T any] struct {
	buf  []T
	head int
	n    int
}

// NewCommandQueue creates a queue holding at most capacity items.
func NewCommandQueue[T any](capacity int) *CommandQueue[T] {
	if capacity <= 0 {
		capacity = DefaultCommandQueueCapacity
	}
	return &CommandQueue[T]{buf: make([]T, capacity)}
}

// Push appends v or returns ErrQueueFull.
func (q *CommandQueue[T]) Push(v T) error {
	if q.n == len(q.buf) {
		return ErrQueueFull
	}
	q.buf[(q.head+q.n)%len(q.buf)] = v
	q.n++
	return nil
}

// Pop removes the oldest item.
func (q *CommandQueue[T]) Pop() (T, bool) {
	var zero T
	if q.n == 0 {
		return zero, false
	}
	v := q.buf[q.head]
	q.buf[q.head] = zero
	q.head = (q.head + 1) % len(q.buf)
	q.n--
	return v, true
}

// Len returns the number of queued items.
func (q *CommandQueue[T]) Len() int { return q.n }

// Cap returns the queue capacity.
func (q *CommandQueue[T]) Cap() int { return len(q.buf) }

// Empty reports whether the queue holds no items.
func (q *CommandQueue[T]) Empty() bool { return q.n == 0 }
