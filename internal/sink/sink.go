// Package sink provides the Recorder data sink. The RAM sink keeps encoded
// data in a fixed-size byte ring that a reader drains concurrently.
package sink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/smallnest/ringbuffer"

	"github.com/oszuidwest/zwfm-audioplane/internal/memhandle"
	"github.com/oszuidwest/zwfm-audioplane/internal/types"
)

// DefaultCapacity is the RAM sink ring size in bytes.
const DefaultCapacity = 256 * 1024

// Sentinel errors returned by sinks.
var (
	ErrNotInit = errors.New("sink not initialized")
	ErrFull    = errors.New("sink buffer full")
)

// Params describes the stream written to a sink.
type Params struct {
	Codec        types.Codec `json:"codec"`
	Channels     int         `json:"channels"`
	BitLength    int         `json:"bit_length"`
	SamplingRate int         `json:"sampling_rate"`
}

// Sink is the Recorder data sink contract.
type Sink interface {
	Init(p Params) error
	// Write copies size bytes of h into the sink. The caller keeps h.
	Write(h memhandle.Handle, size int) error
	// Finalize closes the current stream.
	Finalize() error
}

// Stats are the RAM sink counters.
type Stats struct {
	Capacity    int    `json:"capacity"`
	Buffered    int    `json:"buffered"`
	Written     uint64 `json:"written"`
	Streams     uint64 `json:"streams"`
	PendingEnds int    `json:"pending_ends"` // finalized streams not yet reached by the reader
	WriteErrs   uint64 `json:"write_errors"`
}

// RAM is an in-memory sink. Writes never block: when the ring has no room
// the write fails so the Recorder can stop cleanly. Safe for concurrent use.
type RAM struct {
	pool *memhandle.Manager
	log  *slog.Logger

	mu       sync.Mutex
	ring     *ringbuffer.RingBuffer
	inited   bool
	params   Params
	written  uint64   // cumulative bytes written
	read     uint64   // cumulative bytes read
	ends     []uint64 // cumulative offsets where streams were finalized
	open     bool     // a stream has data since the last Finalize
	streams  uint64
	writeErr uint64
	signal   chan struct{}
}

// NewRAM creates a RAM sink with a ring of capacity bytes.
func NewRAM(pool *memhandle.Manager, capacity int, logger *slog.Logger) *RAM {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RAM{
		pool:   pool,
		log:    logger.With("component", "ram_sink"),
		ring:   ringbuffer.New(capacity),
		signal: make(chan struct{}, 1),
	}
}

// Init sets the stream parameters.
func (r *RAM) Init(p Params) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.params = p
	r.inited = true
	return nil
}

// Params returns the current stream parameters.
func (r *RAM) Params() Params {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.params
}

// Write copies encoded data into the ring.
func (r *RAM) Write(h memhandle.Handle, size int) error {
	if size == 0 {
		return nil
	}
	buf, err := r.pool.Bytes(h)
	if err != nil {
		r.countErr()
		return fmt.Errorf("sink write: %w", err)
	}
	if size > len(buf) {
		r.countErr()
		return fmt.Errorf("sink write: size %d exceeds segment of %d", size, len(buf))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.inited {
		r.writeErr++
		return ErrNotInit
	}
	if r.ring.Free() < size {
		r.writeErr++
		return fmt.Errorf("%w: %d bytes free, %d needed", ErrFull, r.ring.Free(), size)
	}
	n, err := r.ring.Write(buf[:size])
	if err != nil || n != size {
		r.writeErr++
		return fmt.Errorf("sink write: wrote %d of %d: %w", n, size, err)
	}
	r.written += uint64(n)
	if !r.open {
		r.open = true
		r.streams++
	}
	r.wake()
	return nil
}

func (r *RAM) countErr() {
	r.mu.Lock()
	r.writeErr++
	r.mu.Unlock()
}

// Finalize marks the end of the current stream. Finalizing with nothing
// written still produces an empty stream end.
func (r *RAM) Finalize() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.inited {
		return ErrNotInit
	}
	if !r.open {
		r.streams++
	}
	r.open = false
	r.ends = append(r.ends, r.written)
	r.wake()
	return nil
}

func (r *RAM) wake() {
	select {
	case r.signal <- struct{}{}:
	default:
	}
}

// Next copies buffered data of the current stream into buf. It returns
// end=true, with n=0, once all data of a finalized stream was read. It
// blocks until data, a stream end or ctx cancellation. One reader only.
func (r *RAM) Next(ctx context.Context, buf []byte) (n int, end bool, err error) {
	for {
		n, end, ok := r.tryNext(buf)
		if ok {
			return n, end, nil
		}
		select {
		case <-ctx.Done():
			return 0, false, ctx.Err()
		case <-r.signal:
		}
	}
}

func (r *RAM) tryNext(buf []byte) (int, bool, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	limit := r.written
	if len(r.ends) > 0 {
		limit = r.ends[0]
	}
	if r.read < limit && len(buf) > 0 {
		want := min(uint64(len(buf)), limit-r.read)
		n, err := r.ring.Read(buf[:want])
		if err != nil {
			r.log.Error("ring read failed", "error", err)
			return 0, false, false
		}
		r.read += uint64(n)
		return n, false, true
	}
	if len(r.ends) > 0 && r.read == r.ends[0] {
		r.ends = r.ends[1:]
		return 0, true, true
	}
	return 0, false, false
}

// Stats returns the sink counters.
func (r *RAM) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Stats{
		Capacity:    r.ring.Capacity(),
		Buffered:    r.ring.Length(),
		Written:     r.written,
		Streams:     r.streams,
		PendingEnds: len(r.ends),
		WriteErrs:   r.writeErr,
	}
}
