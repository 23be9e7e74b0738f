package object

import (
	"log/slog"
	"sync/atomic"

	"github.com/oszuidwest/zwfm-audioplane/internal/types"
)

// Core holds the state every audio object shares: the current state, the
// activation reply target and the deferred lifecycle command queue.
// Everything except Published is owned by the object goroutine.
type Core struct {
	name      string
	state     types.State
	published atomic.Value
	replyTo   ReplyTo
	deferred  *CommandQueue[Pending]
	obs       Observer
	log       *slog.Logger
}

// NewCore creates a Core in StateInactive.
func NewCore(name string, queueCapacity int, obs Observer, logger *slog.Logger) *Core {
	if obs == nil {
		obs = NopObserver{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &Core{
		name:     name,
		state:    types.StateInactive,
		deferred: NewCommandQueue[Pending](queueCapacity),
		obs:      obs,
		log:      logger.With("object", name),
	}
	c.published.Store(types.StateInactive)
	return c
}

// Name returns the object name used in replies and logs.
func (c *Core) Name() string { return c.name }

// Logger returns the object logger.
func (c *Core) Logger() *slog.Logger { return c.log }

// State returns the current state. Object goroutine only.
func (c *Core) State() types.State { return c.state }

// Published returns the last state set, readable from any goroutine.
func (c *Core) Published() types.State {
	return c.published.Load().(types.State)
}

// SetState moves the object to a new state.
func (c *Core) SetState(to types.State) {
	from := c.state
	if from == to {
		return
	}
	c.state = to
	c.published.Store(to)
	c.log.Debug("state changed", "from", from, "to", to)
	c.obs.StateChanged(c.name, from, to)
}

// SetReplyTo stores the activation reply target.
func (c *Core) SetReplyTo(r ReplyTo) { c.replyTo = r }

// Reply answers a command. The command's own target wins over the activation target.
func (c *Core) Reply(command string, target ReplyTo, res types.Result) {
	reply := types.Reply{Object: c.name, Command: command, Result: res, State: c.state}
	if !target.IsSet() {
		target = c.replyTo
	}
	if err := target.Send(reply); err != nil {
		c.log.Error("reply not delivered", "command", command, "result", res, "error", err)
	}
	c.obs.Replied(reply)
}

// Defer queues a lifecycle command for a later reply. On overflow the
// command is answered with ResultQueueOperationError and false is returned.
func (c *Core) Defer(command string, target ReplyTo) bool {
	if err := c.deferred.Push(Pending{Command: command, Reply: target}); err != nil {
		c.log.Warn("cannot defer command", "command", command, "error", err)
		c.Reply(command, target, types.ResultQueueOperationError)
		return false
	}
	return true
}

// HasDeferred reports whether a lifecycle command is waiting for its reply.
func (c *Core) HasDeferred() bool { return !c.deferred.Empty() }

// DeferredLen returns the number of waiting lifecycle commands.
func (c *Core) DeferredLen() int { return c.deferred.Len() }

// ResolveDeferred answers every deferred command with res, oldest first,
// and empties the queue so nothing waits into the next session. It returns
// the number of commands answered.
func (c *Core) ResolveDeferred(res types.Result) int {
	n := 0
	for {
		p, ok := c.deferred.Pop()
		if !ok {
			break
		}
		c.Reply(p.Command, p.Reply, res)
		n++
	}
	if n == 0 {
		c.log.Error("no deferred command to resolve")
	}
	return n
}

// Attention reports a condition the object cannot recover from on its own.
func (c *Core) Attention(code types.Result, message string) {
	c.log.Error("attention", "code", code, "message", message)
	c.obs.Attention(c.name, code, message)
}
