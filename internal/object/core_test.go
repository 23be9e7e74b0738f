package object

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oszuidwest/zwfm-audioplane/internal/types"
)

type recordingObserver struct {
	transitions [][2]types.State
	replies     []types.Reply
	attentions  []types.Result
}

func (r *recordingObserver) StateChanged(_ string, from, to types.State) {
	r.transitions = append(r.transitions, [2]types.State{from, to})
}

func (r *recordingObserver) Replied(reply types.Reply) { r.replies = append(r.replies, reply) }

func (r *recordingObserver) Attention(_ string, code types.Result, _ string) {
	r.attentions = append(r.attentions, code)
}

func TestCoreStateAndReply(t *testing.T) {
	t.Parallel()
	obs := &recordingObserver{}
	c := NewCore("fe", 2, obs, nil)

	assert.Equal(t, types.StateInactive, c.State())
	c.SetState(types.StateReady)
	c.SetState(types.StateReady)
	assert.Equal(t, types.StateReady, c.Published())
	assert.Len(t, obs.transitions, 1)

	var got []types.Reply
	c.SetReplyTo(ReplyTo{Callback: func(r types.Reply) { got = append(got, r) }})
	c.Reply("init", ReplyTo{}, types.ResultOK)

	ch := make(chan types.Reply, 1)
	c.Reply("start", ReplyTo{Queue: ch}, types.ResultOK)

	require.Len(t, got, 1)
	assert.Equal(t, "init", got[0].Command)
	assert.Equal(t, types.StateReady, got[0].State)
	assert.Equal(t, "start", (<-ch).Command)
	assert.Len(t, obs.replies, 2)
}

func TestCoreDeferOverflow(t *testing.T) {
	t.Parallel()
	c := NewCore("rec", 1, nil, nil)
	ch := make(chan types.Reply, 4)
	target := ReplyTo{Queue: ch}

	assert.True(t, c.Defer("stop", target))
	assert.False(t, c.Defer("stop", target))
	assert.Equal(t, types.ResultQueueOperationError, (<-ch).Result)

	assert.True(t, c.HasDeferred())
	assert.Equal(t, 1, c.ResolveDeferred(types.ResultOK))
	assert.Equal(t, types.ResultOK, (<-ch).Result)
	assert.Zero(t, c.ResolveDeferred(types.ResultOK))
}

func TestCoreResolveDeferredAnswersAll(t *testing.T) {
	t.Parallel()
	c := NewCore("fe", 4, nil, nil)
	ch := make(chan types.Reply, 4)
	target := ReplyTo{Queue: ch}

	for range 3 {
		require.True(t, c.Defer("stop", target))
	}
	assert.Equal(t, 3, c.ResolveDeferred(types.ResultOK))
	assert.False(t, c.HasDeferred(), "no command survives the transition")
	require.Len(t, ch, 3)
	for range 3 {
		assert.Equal(t, types.ResultOK, (<-ch).Result)
	}
}

func TestCoreAttention(t *testing.T) {
	t.Parallel()
	obs := &recordingObserver{}
	c := NewCore("mix", 1, obs, nil)
	c.Attention(types.ResultOutputDeviceError, "enable output failed")
	assert.Equal(t, []types.Result{types.ResultOutputDeviceError}, obs.attentions)
}

func TestReplyToSend(t *testing.T) {
	t.Parallel()

	assert.ErrorIs(t, ReplyTo{}.Send(types.Reply{}), ErrNoReplyTarget)
	assert.ErrorIs(t, ReplyTo{}.Validate(), ErrNoReplyTarget)

	full := make(chan types.Reply)
	assert.ErrorIs(t, ReplyTo{Queue: full}.Send(types.Reply{}), ErrReplyDropped)

	both := ReplyTo{Callback: func(types.Reply) {}, Queue: full}
	assert.Error(t, both.Validate())
}

func TestCall(t *testing.T) {
	t.Parallel()

	reply, err := Call(context.Background(), func(r ReplyTo) error {
		return r.Send(types.Reply{Command: "activate"})
	})
	require.NoError(t, err)
	assert.Equal(t, "activate", reply.Command)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = Call(ctx, func(ReplyTo) error { return nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
