package frontend

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/oszuidwest/zwfm-audioplane/internal/capture"
	"github.com/oszuidwest/zwfm-audioplane/internal/customproc"
	"github.com/oszuidwest/zwfm-audioplane/internal/memhandle"
	"github.com/oszuidwest/zwfm-audioplane/internal/object"
	"github.com/oszuidwest/zwfm-audioplane/internal/offload"
	"github.com/oszuidwest/zwfm-audioplane/internal/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const (
	inputPool memhandle.PoolID = 0
	dspPool   memhandle.PoolID = 2

	testSamples = 64
)

// fakeCapture queues requests until the test completes them.
type fakeCapture struct {
	mu       sync.Mutex
	acquired bool
	params   capture.Params
	done     capture.DoneFunc
	errf     capture.ErrorFunc
	queue    []memhandle.Handle
	stops    int
	gains    []int
	pool     *memhandle.Manager
}

func (c *fakeCapture) Acquire(types.InputDevice) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.acquired = true
	return nil
}

func (c *fakeCapture) Release() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.acquired = false
	for _, h := range c.queue {
		_ = c.pool.Release(h)
	}
	c.queue = nil
	return nil
}

func (c *fakeCapture) Init(p capture.Params, done capture.DoneFunc, errf capture.ErrorFunc) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.params, c.done, c.errf = p, done, errf
	return nil
}

func (c *fakeCapture) Exec(h memhandle.Handle, _ int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done == nil {
		return capture.ErrNotInit
	}
	c.queue = append(c.queue, h)
	return nil
}

func (c *fakeCapture) Stop(capture.StopMode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stops++
}

func (c *fakeCapture) SetMicGain(gains []int) error {
	if len(gains) == 0 {
		return errors.New("no gains")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gains = gains
	return nil
}

func (c *fakeCapture) stopCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stops
}

func (c *fakeCapture) queued() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// produce completes the oldest request with a full frame.
func (c *fakeCapture) produce() {
	c.mu.Lock()
	h := c.queue[0]
	c.queue = c.queue[1:]
	done, p := c.done, c.params
	c.mu.Unlock()
	done(capture.Result{Handle: h, Size: p.FrameBytes(), Samples: p.SamplesPerFrame})
}

// produceEmpty completes the oldest request without data.
func (c *fakeCapture) produceEmpty() {
	c.mu.Lock()
	h := c.queue[0]
	c.queue = c.queue[1:]
	done := c.done
	c.mu.Unlock()
	done(capture.Result{Handle: h})
}

// finish completes every queued request. The last one carries the end flag
// unless the device is halted, in which case no data is returned.
func (c *fakeCapture) finish(halted bool) {
	c.mu.Lock()
	queued := c.queue
	c.queue = nil
	done, p := c.done, c.params
	c.mu.Unlock()
	for i, h := range queued {
		res := capture.Result{Handle: h}
		if !halted {
			res.Size = p.FrameBytes()
			res.Samples = p.SamplesPerFrame
			res.EndFlag = i == len(queued)-1
		}
		done(res)
	}
}

func (c *fakeCapture) raise(t capture.ErrorType) {
	c.mu.Lock()
	errf := c.errf
	c.mu.Unlock()
	errf(capture.Error{Type: t})
}

// sink collects output frames and releases their buffers.
type sink struct {
	pool *memhandle.Manager

	mu     sync.Mutex
	frames []types.PcmData
}

func (s *sink) receive(p types.PcmData) {
	if p.HasBuffer() {
		_ = s.pool.Release(p.Handle)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, p)
}

func (s *sink) snapshot() []types.PcmData {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.PcmData(nil), s.frames...)
}

type harness struct {
	fe   *FrontEnd
	cap  *fakeCapture
	pool *memhandle.Manager
	out  *sink
}

type harnessOptions struct {
	mic        types.MicType
	newPreproc func(types.PreprocType) (customproc.Component, error)
	inputSegs  int
}

func newHarness(t *testing.T, mic types.MicType) *harness {
	t.Helper()
	return newHarnessWith(t, harnessOptions{mic: mic})
}

func newHarnessWith(t *testing.T, opts harnessOptions) *harness {
	t.Helper()
	if opts.inputSegs == 0 {
		opts.inputSegs = 16
	}
	pool, err := memhandle.New(
		memhandle.PoolConfig{ID: inputPool, Size: opts.inputSegs * 512, NumSegs: opts.inputSegs},
		memhandle.PoolConfig{ID: dspPool, Size: 128, NumSegs: 2},
	)
	require.NoError(t, err)

	fc := &fakeCapture{pool: pool}
	fe, err := New(Config{
		Pool:       pool,
		InputPool:  inputPool,
		OutputPool: memhandle.NullPool,
		DSPPool:    dspPool,
		MicType:    opts.mic,
		Capture:    fc,
		NewPreproc: opts.newPreproc,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = fe.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return &harness{fe: fe, cap: fc, pool: pool, out: &sink{pool: pool}}
}

func call(t *testing.T, post func(object.ReplyTo) error) types.Reply {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	reply, err := object.Call(ctx, post)
	require.NoError(t, err)
	return reply
}

func (h *harness) activate(t *testing.T, kind types.PreprocType) {
	t.Helper()
	reply := call(t, func(r object.ReplyTo) error {
		return h.fe.Activate(ActivateParams{InputDevice: types.InputMic, PreprocType: kind}, r)
	})
	require.Equal(t, types.ResultOK, reply.Result)
	require.Equal(t, types.StateReady, reply.State)
}

func (h *harness) initStereo(t *testing.T) {
	t.Helper()
	reply := call(t, func(r object.ReplyTo) error {
		return h.fe.Init(InitParams{
			Channels:        types.ChannelStereo,
			BitLength:       types.BitLength16,
			SamplesPerFrame: testSamples,
			Callback:        h.out.receive,
		}, r)
	})
	require.Equal(t, types.ResultOK, reply.Result)
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	reply := call(t, h.fe.Start)
	require.Equal(t, types.ResultOK, reply.Result)
	require.Equal(t, types.StateActive, reply.State)
	require.Equal(t, CapturePresetNum, h.cap.queued())
}

func (h *harness) waitState(t *testing.T, want types.State) {
	t.Helper()
	require.Eventually(t, func() bool { return h.fe.Status().State == want },
		2*time.Second, time.Millisecond, "state %s", want)
}

func (h *harness) shutdown(t *testing.T) {
	t.Helper()
	reply := call(t, h.fe.Deactivate)
	require.Equal(t, types.ResultOK, reply.Result)
	assert.True(t, h.pool.Stats().Balanced(), "stats %+v", h.pool.Stats())
}

func TestDeactivateWhileInactive(t *testing.T) {
	t.Parallel()
	h := newHarness(t, types.MicAnalog)

	reply := call(t, h.fe.Deactivate)
	assert.Equal(t, types.ResultStateViolation, reply.Result)
	assert.Equal(t, types.StateInactive, reply.State)
}

func TestActivateRejectsInput(t *testing.T) {
	t.Parallel()
	h := newHarness(t, types.MicAnalog)

	reply := call(t, func(r object.ReplyTo) error {
		return h.fe.Activate(ActivateParams{InputDevice: types.InputI2S}, r)
	})
	assert.Equal(t, types.ResultCommandParamInputDevice, reply.Result)
	assert.Equal(t, types.StateInactive, reply.State)
}

func TestActivateChecksPools(t *testing.T) {
	t.Parallel()
	pool, err := memhandle.New(
		memhandle.PoolConfig{ID: inputPool, Size: 1024, NumSegs: 2},
		memhandle.PoolConfig{ID: dspPool, Size: 64, NumSegs: 2},
	)
	require.NoError(t, err)
	fe, err := New(Config{Pool: pool, InputPool: inputPool, OutputPool: memhandle.NullPool, DSPPool: dspPool, Capture: &fakeCapture{pool: pool}})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = fe.Run(ctx) }()
	defer fe.Close()

	reply := call(t, func(r object.ReplyTo) error {
		return fe.Activate(ActivateParams{InputDevice: types.InputMic}, r)
	})
	assert.Equal(t, types.ResultCheckMemoryPoolError, reply.Result, "32-byte DSP segments are too small")
}

func TestInitValidation(t *testing.T) {
	t.Parallel()
	h := newHarness(t, types.MicAnalog)
	h.activate(t, types.PreprocThrough)

	tests := []struct {
		name   string
		params InitParams
		want   types.Result
	}{
		{"8ch on analog mic", InitParams{Channels: 8, BitLength: 16, SamplesPerFrame: 16, Callback: h.out.receive}, types.ResultCommandParamChannelNumber},
		{"3ch", InitParams{Channels: 3, BitLength: 16, SamplesPerFrame: 16, Callback: h.out.receive}, types.ResultCommandParamChannelNumber},
		{"20 bit", InitParams{Channels: 2, BitLength: 20, SamplesPerFrame: 16, Callback: h.out.receive}, types.ResultCommandParamBitLength},
		{"no data path", InitParams{Channels: 2, BitLength: 16, SamplesPerFrame: 16}, types.ResultSetAudioDataPathError},
		{"frame too large", InitParams{Channels: 2, BitLength: 16, SamplesPerFrame: 4096, Callback: h.out.receive}, types.ResultCheckMemoryPoolError},
		{"valid", InitParams{Channels: 2, BitLength: 16, SamplesPerFrame: 16, Callback: h.out.receive}, types.ResultOK},
	}
	for _, tt := range tests {
		reply := call(t, func(r object.ReplyTo) error { return h.fe.Init(tt.params, r) })
		assert.Equal(t, tt.want, reply.Result, tt.name)
		assert.Equal(t, types.StateReady, reply.State, tt.name)
	}
	h.shutdown(t)
}

func TestDigitalMicAcceptsEightChannels(t *testing.T) {
	t.Parallel()
	h := newHarness(t, types.MicDigital)
	h.activate(t, types.PreprocThrough)

	reply := call(t, func(r object.ReplyTo) error {
		return h.fe.Init(InitParams{Channels: 8, BitLength: 32, SamplesPerFrame: 8, Callback: h.out.receive}, r)
	})
	assert.Equal(t, types.ResultOK, reply.Result)
	h.shutdown(t)
}

func TestStopWhileReady(t *testing.T) {
	t.Parallel()
	h := newHarness(t, types.MicAnalog)
	h.activate(t, types.PreprocThrough)

	reply := call(t, h.fe.Stop)
	assert.Equal(t, types.ResultStateViolation, reply.Result)
	assert.Equal(t, types.StateReady, reply.State)
	h.shutdown(t)
}

func TestCaptureCycle(t *testing.T) {
	t.Parallel()
	h := newHarness(t, types.MicAnalog)
	h.activate(t, types.PreprocThrough)
	h.initStereo(t)
	h.start(t)

	for range 3 {
		h.cap.produce()
	}
	require.Eventually(t, func() bool { return len(h.out.snapshot()) == 3 }, 2*time.Second, time.Millisecond)

	replies := make(chan types.Reply, 4)
	require.NoError(t, h.fe.Stop(object.ReplyTo{Queue: replies}))
	require.Eventually(t, func() bool { return h.cap.stopCount() == 1 }, 2*time.Second, time.Millisecond)
	h.waitState(t, types.StateStopping)
	assert.Empty(t, replies, "stop is answered only after draining")

	h.cap.finish(false)
	h.waitState(t, types.StateReady)

	reply := <-replies
	assert.Equal(t, types.ResultOK, reply.Result)
	assert.Equal(t, "stop", reply.Command)
	assert.Empty(t, replies, "exactly one reply per stop")

	frames := h.out.snapshot()
	require.Len(t, frames, 3+CapturePresetNum+1)
	for _, f := range frames[:len(frames)-1] {
		assert.Equal(t, 2*2*testSamples, f.Size)
		assert.False(t, f.IsEnd)
	}
	end := frames[len(frames)-1]
	assert.True(t, end.IsEnd)
	assert.Zero(t, end.Size)

	status := h.fe.Status()
	assert.Zero(t, status.PendingCapture)
	assert.Zero(t, status.PendingPreproc)
	h.shutdown(t)
}

func TestStopDeferredDuringErrorStop(t *testing.T) {
	t.Parallel()
	h := newHarness(t, types.MicAnalog)
	h.activate(t, types.PreprocThrough)
	h.initStereo(t)
	h.start(t)

	h.cap.raise(capture.ErrorBus)
	h.waitState(t, types.StateErrorStopping)
	assert.Equal(t, 1, h.cap.stopCount())

	replies := make(chan types.Reply, 4)
	require.NoError(t, h.fe.Stop(object.ReplyTo{Queue: replies}))
	require.Eventually(t, func() bool { return h.fe.Status().Deferred == 1 }, 2*time.Second, time.Millisecond)
	assert.Empty(t, replies)

	h.cap.finish(false)
	h.waitState(t, types.StateReady)

	reply := <-replies
	assert.Equal(t, types.ResultOK, reply.Result)
	assert.Equal(t, types.StateReady, reply.State)

	frames := h.out.snapshot()
	require.Len(t, frames, 1, "captured data is discarded after an error")
	assert.True(t, frames[0].IsEnd)
	h.shutdown(t)
}

func TestInternalErrorWaitsForStop(t *testing.T) {
	t.Parallel()
	h := newHarness(t, types.MicAnalog)
	h.activate(t, types.PreprocUserCustom)
	h.initStereo(t)
	h.start(t)

	h.cap.raise(capture.ErrorInternal)
	require.Eventually(t, func() bool { return len(h.out.snapshot()) == 1 }, 2*time.Second, time.Millisecond)
	assert.True(t, h.out.snapshot()[0].IsEnd)

	// A halted device returns its requests empty and without an end flag.
	h.cap.finish(true)
	h.waitState(t, types.StateWaitStop)
	require.Eventually(t, func() bool { return h.fe.Status().PendingCapture == 0 }, 2*time.Second, time.Millisecond)

	reply := call(t, h.fe.Stop)
	assert.Equal(t, types.ResultOK, reply.Result)
	assert.Equal(t, types.StateReady, reply.State)
	h.shutdown(t)
}

// rejectFlush is a through preproc whose flush is never accepted.
type rejectFlush struct {
	customproc.Component
}

func (rejectFlush) Flush(memhandle.Handle) error {
	return errors.New("flush rejected")
}

func TestRejectedFlushSendsDummyEnd(t *testing.T) {
	t.Parallel()
	var h *harness
	h = newHarnessWith(t, harnessOptions{
		mic: types.MicAnalog,
		newPreproc: func(types.PreprocType) (customproc.Component, error) {
			return rejectFlush{customproc.NewThrough(h.pool)}, nil
		},
	})
	h.activate(t, types.PreprocThrough)
	h.initStereo(t)
	h.start(t)

	replies := make(chan types.Reply, 4)
	require.NoError(t, h.fe.Stop(object.ReplyTo{Queue: replies}))
	h.waitState(t, types.StateStopping)

	h.cap.finish(false)
	h.waitState(t, types.StateReady)

	reply := <-replies
	assert.Equal(t, types.ResultOK, reply.Result)
	assert.Empty(t, replies)

	frames := h.out.snapshot()
	require.NotEmpty(t, frames)
	end := frames[len(frames)-1]
	assert.True(t, end.IsEnd)
	assert.False(t, end.HasBuffer(), "dummy end frame carries no buffer")
	for _, f := range frames[:len(frames)-1] {
		assert.False(t, f.IsEnd)
	}
	h.shutdown(t)
}

// heldPreproc is a through preproc whose completions wait for release.
// Its flush can be made to fail.
type heldPreproc struct {
	customproc.Component
	gate        chan struct{}
	once        sync.Once
	rejectFlush bool
}

func (p *heldPreproc) Activate(cb customproc.Callback) error {
	return p.Component.Activate(func(ev offload.Event, ok bool) {
		<-p.gate
		cb(ev, ok)
	})
}

func (p *heldPreproc) Flush(out memhandle.Handle) error {
	if p.rejectFlush {
		return errors.New("flush rejected")
	}
	return p.Component.Flush(out)
}

func (p *heldPreproc) release() { p.once.Do(func() { close(p.gate) }) }

func TestEndOfCaptureWaitsForPreproc(t *testing.T) {
	t.Parallel()
	var h *harness
	held := &heldPreproc{gate: make(chan struct{}), rejectFlush: true}
	t.Cleanup(held.release)
	h = newHarnessWith(t, harnessOptions{
		mic: types.MicAnalog,
		newPreproc: func(types.PreprocType) (customproc.Component, error) {
			held.Component = customproc.NewThrough(h.pool)
			return held, nil
		},
	})
	h.activate(t, types.PreprocThrough)
	h.initStereo(t)
	h.start(t)

	replies := make(chan types.Reply, 4)
	require.NoError(t, h.fe.Stop(object.ReplyTo{Queue: replies}))
	h.waitState(t, types.StateStopping)

	h.cap.finish(false)
	h.waitState(t, types.StateWaitStop)
	require.Eventually(t, func() bool {
		s := h.fe.Status()
		return s.PendingCapture == 0 && s.PendingPreproc == CapturePresetNum
	}, 2*time.Second, time.Millisecond)
	assert.Equal(t, types.StateWaitStop, h.fe.Status().State)
	assert.Empty(t, replies, "stop waits for the preproc")

	held.release()
	h.waitState(t, types.StateReady)
	reply := <-replies
	assert.Equal(t, types.ResultOK, reply.Result)
	assert.Equal(t, types.StateReady, reply.State)
	assert.Empty(t, replies, "exactly one reply")
	require.Eventually(t, func() bool { return h.fe.Status().PendingPreproc == 0 }, 2*time.Second, time.Millisecond)
	h.shutdown(t)
}

func TestDeferredStopsDoNotCrossSessions(t *testing.T) {
	t.Parallel()
	h := newHarness(t, types.MicAnalog)
	h.activate(t, types.PreprocThrough)
	h.initStereo(t)
	h.start(t)

	h.cap.raise(capture.ErrorBus)
	h.waitState(t, types.StateErrorStopping)
	replies := make(chan types.Reply, 4)
	for range 2 {
		require.NoError(t, h.fe.Stop(object.ReplyTo{Queue: replies}))
	}
	require.Eventually(t, func() bool { return h.fe.Status().Deferred == 2 }, 2*time.Second, time.Millisecond)

	h.cap.finish(false)
	h.waitState(t, types.StateReady)
	for range 2 {
		select {
		case reply := <-replies:
			assert.Equal(t, types.ResultOK, reply.Result)
		case <-time.After(2 * time.Second):
			t.Fatal("deferred stop was not answered")
		}
	}
	require.Eventually(t, func() bool { return h.fe.Status().Deferred == 0 }, 2*time.Second, time.Millisecond)

	// The next session errors out without a Stop and must wait for one.
	h.start(t)
	h.cap.raise(capture.ErrorBus)
	h.waitState(t, types.StateErrorStopping)
	h.cap.finish(false)
	h.waitState(t, types.StateWaitStop)
	assert.Empty(t, replies)

	reply := call(t, h.fe.Stop)
	assert.Equal(t, types.ResultOK, reply.Result)
	assert.Equal(t, types.StateReady, reply.State)
	h.shutdown(t)
}

func TestFailedRecaptureKeepsFrame(t *testing.T) {
	t.Parallel()
	// Every input segment is in flight, so the re-request cannot allocate.
	h := newHarnessWith(t, harnessOptions{mic: types.MicAnalog, inputSegs: CapturePresetNum})
	h.activate(t, types.PreprocThrough)
	h.initStereo(t)
	h.start(t)

	h.cap.produce()
	require.Eventually(t, func() bool { return len(h.out.snapshot()) == 1 }, 2*time.Second, time.Millisecond)
	status := h.fe.Status()
	assert.Equal(t, types.StateActive, status.State)
	assert.Equal(t, CapturePresetNum-1, status.PendingCapture)
	assert.Zero(t, h.cap.stopCount())

	reply := make(chan types.Reply, 1)
	require.NoError(t, h.fe.Stop(object.ReplyTo{Queue: reply}))
	h.waitState(t, types.StateStopping)
	h.cap.finish(false)
	h.waitState(t, types.StateReady)
	assert.Equal(t, types.ResultOK, (<-reply).Result)
	h.shutdown(t)
}

func TestInvalidCaptureStopsWithError(t *testing.T) {
	t.Parallel()
	h := newHarness(t, types.MicAnalog)
	h.activate(t, types.PreprocThrough)
	h.initStereo(t)
	h.start(t)

	h.cap.produceEmpty()
	h.waitState(t, types.StateErrorStopping)
	assert.Equal(t, 1, h.cap.stopCount())

	h.cap.finish(false)
	h.waitState(t, types.StateWaitStop)
	frames := h.out.snapshot()
	require.Len(t, frames, 1, "only the end frame follows an error stop")
	assert.True(t, frames[0].IsEnd)

	reply := call(t, h.fe.Stop)
	assert.Equal(t, types.ResultOK, reply.Result)
	h.shutdown(t)
}

func TestPreprocCommands(t *testing.T) {
	t.Parallel()
	h := newHarness(t, types.MicAnalog)
	h.activate(t, types.PreprocUserCustom)

	reply := call(t, func(r object.ReplyTo) error { return h.fe.InitPreproc([]byte(`{"gain_db": 100}`), r) })
	assert.Equal(t, types.ResultDSPInitError, reply.Result)

	reply = call(t, func(r object.ReplyTo) error { return h.fe.InitPreproc([]byte(`{"gain_db": 6}`), r) })
	assert.Equal(t, types.ResultOK, reply.Result)

	reply = call(t, func(r object.ReplyTo) error { return h.fe.SetPreproc([]byte(`not json`), r) })
	assert.Equal(t, types.ResultDSPSetError, reply.Result)

	h.initStereo(t)
	h.start(t)
	reply = call(t, func(r object.ReplyTo) error { return h.fe.SetPreproc([]byte(`{"gain_db": -6}`), r) })
	assert.Equal(t, types.ResultOK, reply.Result)
	assert.Equal(t, types.StateActive, reply.State)

	reply = call(t, func(r object.ReplyTo) error { return h.fe.InitPreproc([]byte(`{"gain_db": 0}`), r) })
	assert.Equal(t, types.ResultStateViolation, reply.Result, "init is only accepted in ready")

	replies := make(chan types.Reply, 1)
	require.NoError(t, h.fe.Stop(object.ReplyTo{Queue: replies}))
	require.Eventually(t, func() bool { return h.cap.stopCount() == 1 }, 2*time.Second, time.Millisecond)
	h.cap.finish(false)
	h.waitState(t, types.StateReady)
	assert.Equal(t, types.ResultOK, (<-replies).Result)
	h.shutdown(t)
}

func TestSetMicGain(t *testing.T) {
	t.Parallel()
	h := newHarness(t, types.MicAnalog)

	reply := call(t, func(r object.ReplyTo) error { return h.fe.SetMicGain([]int{0}, r) })
	assert.Equal(t, types.ResultStateViolation, reply.Result)

	h.activate(t, types.PreprocThrough)
	reply = call(t, func(r object.ReplyTo) error { return h.fe.SetMicGain([]int{100, -100}, r) })
	assert.Equal(t, types.ResultOK, reply.Result)

	reply = call(t, func(r object.ReplyTo) error { return h.fe.SetMicGain(make([]int, 9), r) })
	assert.Equal(t, types.ResultSetMicGainError, reply.Result)

	reply = call(t, func(r object.ReplyTo) error { return h.fe.SetMicGain(nil, r) })
	assert.Equal(t, types.ResultSetMicGainError, reply.Result)
	h.shutdown(t)
}

func TestActivateReplyTargetIsDefault(t *testing.T) {
	t.Parallel()
	h := newHarness(t, types.MicAnalog)

	replies := make(chan types.Reply, 4)
	require.NoError(t, h.fe.Activate(ActivateParams{InputDevice: types.InputMic}, object.ReplyTo{Queue: replies}))
	require.NoError(t, h.fe.Start(object.ReplyTo{}))

	first := <-replies
	assert.Equal(t, "activate", first.Command)
	assert.Equal(t, types.ResultOK, first.Result)

	second := <-replies
	assert.Equal(t, "start", second.Command)
	assert.Equal(t, types.ResultDMACReadError, second.Result, "capture is not initialized")
}
