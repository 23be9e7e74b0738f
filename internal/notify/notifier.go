package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/oszuidwest/zwfm-audioplane/internal/object"
	"github.com/oszuidwest/zwfm-audioplane/internal/types"
	"github.com/oszuidwest/zwfm-audioplane/internal/util"
)

// Notifier defaults.
const (
	DefaultCooldown  = 5 * time.Minute
	maxRetries       = 3
	initialRetryWait = time.Second
	maxRetryWait     = 30 * time.Second
	queueSize        = 32
)

// Sender delivers a payload.
type Sender interface {
	Send(ctx context.Context, p *Payload) error
}

// AttentionNotifier forwards object attentions to a Sender. It implements
// object.Observer; only Attention has an effect. Repeated attentions with
// the same object and code are suppressed for the cooldown period.
type AttentionNotifier struct {
	object.NopObserver

	sender   Sender
	cooldown time.Duration
	log      *slog.Logger
	queue    chan Payload
	retry    time.Duration

	mu       sync.Mutex
	lastSent map[string]time.Time
	dropped  int
}

// NewAttentionNotifier creates a notifier. A zero cooldown uses DefaultCooldown.
func NewAttentionNotifier(sender Sender, cooldown time.Duration, logger *slog.Logger) *AttentionNotifier {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AttentionNotifier{
		sender:   sender,
		cooldown: cooldown,
		log:      logger.With("component", "notify"),
		queue:    make(chan Payload, queueSize),
		retry:    initialRetryWait,
		lastSent: make(map[string]time.Time),
	}
}

// Attention queues a notification without blocking the calling object.
func (n *AttentionNotifier) Attention(obj string, code types.Result, message string) {
	key := obj + "/" + code.String()
	now := time.Now()

	n.mu.Lock()
	if last, ok := n.lastSent[key]; ok && now.Sub(last) < n.cooldown {
		n.mu.Unlock()
		n.log.Debug("attention suppressed", "object", obj, "code", code)
		return
	}
	n.lastSent[key] = now
	n.mu.Unlock()

	p := Payload{
		Event:     "attention",
		Object:    obj,
		Code:      code.String(),
		Message:   message,
		Timestamp: now.UTC().Format(time.RFC3339),
	}
	select {
	case n.queue <- p:
	default:
		n.mu.Lock()
		n.dropped++
		n.mu.Unlock()
		n.log.Warn("notification queue full", "object", obj, "code", code)
	}
}

// Dropped returns the number of notifications lost to a full queue.
func (n *AttentionNotifier) Dropped() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.dropped
}

// Run delivers queued notifications until ctx is done.
func (n *AttentionNotifier) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case p := <-n.queue:
			util.LogNotifyResult(func() error { return n.deliver(ctx, &p) }, "webhook", "object", p.Object, "code", p.Code)
		}
	}
}

// deliver sends p, retrying with exponential backoff.
func (n *AttentionNotifier) deliver(ctx context.Context, p *Payload) error {
	backoff := util.NewBackoff(n.retry, maxRetryWait)
	var err error
	for attempt := range maxRetries {
		if err = n.sender.Send(ctx, p); err == nil {
			return nil
		}
		if attempt == maxRetries-1 {
			break
		}
		n.log.Warn("notification attempt failed", "attempt", attempt+1, "error", err)
		if werr := backoff.Wait(ctx); werr != nil {
			return werr
		}
	}
	return err
}
