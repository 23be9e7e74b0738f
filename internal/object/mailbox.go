// Package object provides the message dispatch machinery shared by the audio objects.
package object

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned when posting to or receiving from a closed mailbox.
var ErrClosed = errors.New("mailbox closed")

// Mailbox is the single inbound queue of an audio object.
// Post never blocks so collaborators can deliver completions from any goroutine,
// including from inside the object's own handler. Receive is for one consumer.
type Mailbox[M any] struct {
	mu     sync.Mutex
	items  []M
	closed bool
	signal chan struct{}
}

// NewMailbox creates an empty mailbox.
func NewMailbox[M any]() *Mailbox[M] {
	return &Mailbox[M]{signal: make(chan struct{}, 1)}
}

// Post appends a message in send order.
func (mb *Mailbox[M]) Post(msg M) error {
	mb.mu.Lock()
	if mb.closed {
		mb.mu.Unlock()
		return ErrClosed
	}
	mb.items = append(mb.items, msg)
	mb.mu.Unlock()
	mb.wake()
	return nil
}

// Receive blocks until a message is available, the mailbox is closed and
// drained, or ctx is done.
func (mb *Mailbox[M]) Receive(ctx context.Context) (M, error) {
	for {
		mb.mu.Lock()
		if len(mb.items) > 0 {
			msg := mb.items[0]
			var zero M
			mb.items[0] = zero
			mb.items = mb.items[1:]
			mb.mu.Unlock()
			return msg, nil
		}
		closed := mb.closed
		mb.mu.Unlock()

		if closed {
			var zero M
			return zero, ErrClosed
		}

		select {
		case <-ctx.Done():
			var zero M
			return zero, ctx.Err()
		case <-mb.signal:
		}
	}
}

// Len returns the number of queued messages.
func (mb *Mailbox[M]) Len() int {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	return len(mb.items)
}

// Close stops accepting messages. Queued messages can still be received.
func (mb *Mailbox[M]) Close() {
	mb.mu.Lock()
	mb.closed = true
	mb.mu.Unlock()
	mb.wake()
}

func (mb *Mailbox[M]) wake() {
	select {
	case mb.signal <- struct{}{}:
	default:
	}
}

// Run handles messages one at a time until ctx is done or the mailbox is
// closed and drained. Each handler call completes before the next message
// is received.
func Run[M any](ctx context.Context, mb *Mailbox[M], handle func(M)) error {
	for {
		msg, err := mb.Receive(ctx)
		if errors.Is(err, ErrClosed) {
			return nil
		}
		if err != nil {
			return err
		}
		handle(msg)
	}
}
