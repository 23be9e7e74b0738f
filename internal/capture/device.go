package capture

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/oszuidwest/zwfm-audioplane/internal/memhandle"
	"github.com/oszuidwest/zwfm-audioplane/internal/types"
)

// MaxQueuedRequests is the DMA descriptor depth of the simulated device.
const MaxQueuedRequests = 8

// Mic gain limits in 0.1 dB steps.
const (
	MinMicGain = -7850
	MaxMicGain = 210
)

type request struct {
	handle  memhandle.Handle
	samples int
}

// Device is a simulated DMA capture device. Each period it completes the
// oldest queued request with one frame from its Source. It is safe for
// concurrent use; callbacks run on the device goroutine.
type Device struct {
	pool   *memhandle.Manager
	source Source
	period time.Duration
	log    *slog.Logger

	mu       sync.Mutex
	acquired bool
	inited   bool
	params   Params
	done     DoneFunc
	errf     ErrorFunc
	queue    []request
	stopping bool
	halted   bool
	pending  []Error
	gains    []int

	wake chan struct{}
	quit chan struct{}
	wg   sync.WaitGroup
}

// NewDevice creates a device producing frames from source every period.
// A zero period completes requests as soon as they are queued.
func NewDevice(pool *memhandle.Manager, source Source, period time.Duration, logger *slog.Logger) *Device {
	if logger == nil {
		logger = slog.Default()
	}
	return &Device{
		pool:   pool,
		source: source,
		period: period,
		log:    logger.With("component", "capture"),
	}
}

// Acquire claims the device for an input and starts its goroutine.
func (d *Device) Acquire(device types.InputDevice) error {
	if device != types.InputMic {
		return fmt.Errorf("%w: input device %q", ErrInvalidParam, device)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.acquired {
		return nil
	}
	d.acquired = true
	d.wake = make(chan struct{}, 1)
	d.quit = make(chan struct{})
	d.wg.Add(1)
	go d.run(d.wake, d.quit)
	return nil
}

// Release stops the device goroutine and frees any queued buffers.
func (d *Device) Release() error {
	d.mu.Lock()
	if !d.acquired {
		d.mu.Unlock()
		return ErrNotAcquired
	}
	d.acquired = false
	d.inited = false
	close(d.quit)
	d.mu.Unlock()

	d.wg.Wait()

	d.mu.Lock()
	queued := d.queue
	d.queue = nil
	d.mu.Unlock()
	for _, r := range queued {
		if err := d.pool.Release(r.handle); err != nil {
			d.log.Warn("failed to release queued capture buffer", "error", err)
		}
	}
	return nil
}

// Init configures the capture session.
func (d *Device) Init(p Params, done DoneFunc, errf ErrorFunc) error {
	if p.Channels <= 0 || p.SamplesPerFrame <= 0 || p.PresetNum <= 0 || p.PresetNum > MaxQueuedRequests {
		return fmt.Errorf("%w: %+v", ErrInvalidParam, p)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.acquired {
		return ErrNotAcquired
	}
	d.params = p
	d.done = done
	d.errf = errf
	d.inited = true
	d.stopping = false
	d.halted = false
	return nil
}

// Exec queues one capture request.
func (d *Device) Exec(h memhandle.Handle, samples int) error {
	d.mu.Lock()
	if !d.inited {
		d.mu.Unlock()
		return ErrNotInit
	}
	if len(d.queue) >= MaxQueuedRequests {
		d.mu.Unlock()
		return ErrBusy
	}
	d.queue = append(d.queue, request{handle: h, samples: samples})
	d.mu.Unlock()
	d.signal()
	return nil
}

// Stop terminates the queued requests. In normal operation the last one is
// flagged as the end of capture. After an internal error no end flag is
// produced, and stopping an idle device reports an internal error so the
// caller is never left waiting for an end frame.
func (d *Device) Stop(mode StopMode) {
	d.mu.Lock()
	if !d.inited || d.stopping {
		d.mu.Unlock()
		return
	}
	d.stopping = true
	d.mu.Unlock()
	d.log.Debug("capture stop requested", "mode", mode)
	d.signal()
}

// SetMicGain stores per-channel gains in 0.1 dB steps.
func (d *Device) SetMicGain(gains []int) error {
	if len(gains) == 0 || len(gains) > types.MaxMicChannels {
		return fmt.Errorf("%w: %d gains", ErrInvalidParam, len(gains))
	}
	for _, g := range gains {
		if g < MinMicGain || g > MaxMicGain {
			return fmt.Errorf("%w: gain %d", ErrInvalidParam, g)
		}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.acquired {
		return ErrNotAcquired
	}
	d.gains = slices.Clone(gains)
	return nil
}

// MicGain returns the last gains set.
func (d *Device) MicGain() []int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.gains)
}

// InjectError simulates an asynchronous DMA error. An internal error halts
// frame production until the next Init.
func (d *Device) InjectError(t ErrorType) {
	d.mu.Lock()
	if !d.inited {
		d.mu.Unlock()
		return
	}
	if t == ErrorInternal {
		d.halted = true
	}
	d.pending = append(d.pending, Error{Type: t})
	d.mu.Unlock()
	d.signal()
}

// Queued returns the number of requests waiting in the device.
func (d *Device) Queued() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

func (d *Device) signal() {
	d.mu.Lock()
	wake := d.wake
	d.mu.Unlock()
	if wake == nil {
		return
	}
	select {
	case wake <- struct{}{}:
	default:
	}
}

func (d *Device) run(wake <-chan struct{}, quit <-chan struct{}) {
	defer d.wg.Done()

	var tick <-chan time.Time
	if d.period > 0 {
		ticker := time.NewTicker(d.period)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		ticked := false
		select {
		case <-quit:
			return
		case <-wake:
		case <-tick:
			ticked = true
		}
		for d.step(ticked || d.period == 0) {
			ticked = false
		}
	}
}

// step delivers at most one batch of callbacks and reports whether another
// step may have work.
func (d *Device) step(produce bool) bool {
	d.mu.Lock()
	if len(d.pending) > 0 {
		e := d.pending[0]
		d.pending = d.pending[1:]
		errf := d.errf
		d.mu.Unlock()
		if errf != nil {
			errf(e)
		}
		return true
	}

	if d.stopping {
		d.stopping = false
		queued := d.queue
		d.queue = nil
		halted := d.halted
		done, errf := d.done, d.errf
		params := d.params
		d.mu.Unlock()

		if len(queued) == 0 {
			if !halted && errf != nil {
				errf(Error{Type: ErrorInternal})
			}
			return false
		}
		for i, r := range queued {
			res := Result{Handle: r.handle}
			if !halted {
				res = d.fill(r, params)
				res.EndFlag = i == len(queued)-1
			}
			if done != nil {
				done(res)
			}
		}
		return false
	}

	if !produce || d.halted || len(d.queue) == 0 {
		d.mu.Unlock()
		return false
	}
	r := d.queue[0]
	d.queue = d.queue[1:]
	done := d.done
	params := d.params
	d.mu.Unlock()

	res := d.fill(r, params)
	if done != nil {
		done(res)
	}
	return true
}

func (d *Device) fill(r request, p Params) Result {
	res := Result{Handle: r.handle}
	buf, err := d.pool.Bytes(r.handle)
	if err != nil {
		d.log.Error("capture buffer unusable", "handle", r.handle, "error", err)
		return res
	}
	size := min(r.samples*p.Channels*types.BytesPerSample(p.BitLength), len(buf))
	n, err := d.source.Fill(buf[:size], p)
	if err != nil {
		d.log.Warn("capture source failed", "error", err)
	}
	res.Size = n
	res.Samples = n / (p.Channels * types.BytesPerSample(p.BitLength))
	return res
}
