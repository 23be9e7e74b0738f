package object

import (
	"context"
	"errors"
	"fmt"

	"github.com/oszuidwest/zwfm-audioplane/internal/types"
)

// Reply delivery errors.
var (
	ErrNoReplyTarget = errors.New("no reply target")
	ErrReplyDropped  = errors.New("reply channel full")
)

// ReplyTo routes a command reply either to a callback or to a channel.
// Exactly one of the fields is expected to be set.
type ReplyTo struct {
	Callback func(types.Reply)
	Queue    chan<- types.Reply
}

// IsSet reports whether a target is configured.
func (r ReplyTo) IsSet() bool {
	return r.Callback != nil || r.Queue != nil
}

// Validate checks that exactly one target is set.
func (r ReplyTo) Validate() error {
	if r.Callback != nil && r.Queue != nil {
		return fmt.Errorf("reply target has both callback and queue")
	}
	if !r.IsSet() {
		return ErrNoReplyTarget
	}
	return nil
}

// Send delivers the reply without blocking.
func (r ReplyTo) Send(reply types.Reply) error {
	switch {
	case r.Callback != nil:
		r.Callback(reply)
		return nil
	case r.Queue != nil:
		select {
		case r.Queue <- reply:
			return nil
		default:
			return ErrReplyDropped
		}
	default:
		return ErrNoReplyTarget
	}
}

// Call posts a command with a private reply channel and waits for its reply.
func Call(ctx context.Context, post func(ReplyTo) error) (types.Reply, error) {
	ch := make(chan types.Reply, 1)
	if err := post(ReplyTo{Queue: ch}); err != nil {
		return types.Reply{}, err
	}
	select {
	case reply := <-ch:
		return reply, nil
	case <-ctx.Done():
		return types.Reply{}, ctx.Err()
	}
}
