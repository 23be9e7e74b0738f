// Package frontend implements the Front-End audio object: microphone capture
// followed by pre-processing, delivered to a downstream consumer.
package frontend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/oszuidwest/zwfm-audioplane/internal/capture"
	"github.com/oszuidwest/zwfm-audioplane/internal/customproc"
	"github.com/oszuidwest/zwfm-audioplane/internal/memhandle"
	"github.com/oszuidwest/zwfm-audioplane/internal/object"
	"github.com/oszuidwest/zwfm-audioplane/internal/offload"
	"github.com/oszuidwest/zwfm-audioplane/internal/types"
)

// CapturePresetNum is the number of capture requests kept in flight.
const CapturePresetNum = 4

// DefaultDSPCommandSize is the minimum DSP pool segment size.
const DefaultDSPCommandSize = 64

// Config wires a Front-End to its collaborators.
type Config struct {
	Name           string
	Pool           *memhandle.Manager
	InputPool      memhandle.PoolID
	OutputPool     memhandle.PoolID // memhandle.NullPool to process in place
	DSPPool        memhandle.PoolID
	DSPCommandSize int
	MicType        types.MicType
	Capture        capture.Capture
	// NewPreproc overrides the pre-processing factory, mainly for tests.
	NewPreproc    func(types.PreprocType) (customproc.Component, error)
	QueueCapacity int
	Observer      object.Observer
	Logger        *slog.Logger
}

// Status is a snapshot readable from any goroutine.
type Status struct {
	State          types.State `json:"state"`
	PendingCapture int         `json:"pending_capture"`
	PendingPreproc int         `json:"pending_preproc"`
	Deferred       int         `json:"deferred"`
}

// FrontEnd is the capture and pre-processing state machine. All state is
// owned by the goroutine running Run.
type FrontEnd struct {
	core *object.Core
	mb   *object.Mailbox[Message]
	cfg  Config
	log  *slog.Logger

	preproc        customproc.Component
	maxCaptureSize int
	maxOutputSize  int

	channels        int
	bitLength       int
	capBytes        int
	samplesPerFrame int
	outCallback     func(types.PcmData)
	outDest         Consumer

	captureAcquired bool
	pendingCapture  int
	pendingPreproc  int

	pubCapture  atomic.Int32
	pubPreproc  atomic.Int32
	pubDeferred atomic.Int32
}

// New creates a Front-End in StateInactive.
func New(cfg Config) (*FrontEnd, error) {
	if cfg.Pool == nil || cfg.Capture == nil {
		return nil, errors.New("frontend: pool and capture are required")
	}
	if cfg.Name == "" {
		cfg.Name = "frontend"
	}
	if cfg.DSPCommandSize == 0 {
		cfg.DSPCommandSize = DefaultDSPCommandSize
	}
	if cfg.MicType == "" {
		cfg.MicType = types.MicAnalog
	}
	if cfg.NewPreproc == nil {
		pool := cfg.Pool
		cfg.NewPreproc = func(kind types.PreprocType) (customproc.Component, error) {
			return customproc.New(kind, pool)
		}
	}
	core := object.NewCore(cfg.Name, cfg.QueueCapacity, cfg.Observer, cfg.Logger)
	return &FrontEnd{
		core: core,
		mb:   object.NewMailbox[Message](),
		cfg:  cfg,
		log:  core.Logger(),
	}, nil
}

// Run processes messages until ctx is done or Close is called. On return
// the capture device and preproc are released.
func (f *FrontEnd) Run(ctx context.Context) error {
	err := object.Run(ctx, f.mb, f.dispatch)
	f.teardown()
	return err
}

func (f *FrontEnd) teardown() {
	f.mb.Close()
	if f.captureAcquired {
		if err := f.cfg.Capture.Release(); err != nil {
			f.log.Warn("failed to release capture on shutdown", "error", err)
		}
		f.captureAcquired = false
	}
	if f.preproc != nil {
		if err := f.preproc.Deactivate(); err != nil {
			f.log.Warn("failed to deactivate preproc on shutdown", "error", err)
		}
		f.preproc = nil
	}
}

// Close stops accepting messages. Run returns once the mailbox drains.
func (f *FrontEnd) Close() { f.mb.Close() }

// Name returns the object name.
func (f *FrontEnd) Name() string { return f.core.Name() }

// Status returns the published state and counters.
func (f *FrontEnd) Status() Status {
	return Status{
		State:          f.core.Published(),
		PendingCapture: int(f.pubCapture.Load()),
		PendingPreproc: int(f.pubPreproc.Load()),
		Deferred:       int(f.pubDeferred.Load()),
	}
}

// Activate posts an Activate command. reply also becomes the default target
// for later commands posted without one.
func (f *FrontEnd) Activate(p ActivateParams, reply object.ReplyTo) error {
	return f.mb.Post(Message{Event: EventActivate, Activate: p, Reply: reply})
}

// Deactivate posts a Deactivate command.
func (f *FrontEnd) Deactivate(reply object.ReplyTo) error {
	return f.mb.Post(Message{Event: EventDeactivate, Reply: reply})
}

// Init posts an Init command.
func (f *FrontEnd) Init(p InitParams, reply object.ReplyTo) error {
	return f.mb.Post(Message{Event: EventInit, Init: p, Reply: reply})
}

// Start posts a Start command.
func (f *FrontEnd) Start(reply object.ReplyTo) error {
	return f.mb.Post(Message{Event: EventStart, Reply: reply})
}

// Stop posts a Stop command.
func (f *FrontEnd) Stop(reply object.ReplyTo) error {
	return f.mb.Post(Message{Event: EventStop, Reply: reply})
}

// InitPreproc posts a pre-processing init packet.
func (f *FrontEnd) InitPreproc(packet []byte, reply object.ReplyTo) error {
	return f.mb.Post(Message{Event: EventInitPreproc, Packet: packet, Reply: reply})
}

// SetPreproc posts a pre-processing set packet.
func (f *FrontEnd) SetPreproc(packet []byte, reply object.ReplyTo) error {
	return f.mb.Post(Message{Event: EventSetPreproc, Packet: packet, Reply: reply})
}

// SetMicGain posts per-channel microphone gains in 0.1 dB steps.
func (f *FrontEnd) SetMicGain(gains []int, reply object.ReplyTo) error {
	return f.mb.Post(Message{Event: EventSetMicGain, MicGain: gains, Reply: reply})
}

func (f *FrontEnd) dispatch(msg Message) {
	defer f.publish()

	switch route(f.core.State(), msg.Event) {
	case actActivate:
		f.activate(msg)
	case actDeactivate:
		f.deactivate(msg)
	case actInit:
		f.init(msg)
	case actStart:
		f.startOnReady(msg)
	case actStopOnActive:
		f.stopOnActive(msg)
	case actStopOnErrorStop:
		f.stopOnErrorStop(msg)
	case actStopOnWaitStop:
		f.stopOnWaitStop(msg)
	case actInitPreproc:
		f.initPreproc(msg)
	case actSetPreproc:
		f.setPreproc(msg)
	case actSetMicGain:
		f.setMicGain(msg)
	case actCaptureDoneOnActive:
		f.captureDoneOnActive(msg.Capture)
	case actCaptureDoneOnStop:
		f.captureDoneOnStop(msg.Capture)
	case actCaptureDoneOnErrorStop:
		f.captureDoneOnErrorStop(msg.Capture)
	case actCaptureDoneOnWaitStop:
		f.captureDoneOnWaitStop(msg.Capture)
	case actCaptureErrorOnActive:
		f.captureErrorOnActive(msg.CaptureError)
	case actCaptureErrorOnStop:
		f.captureErrorOnStop(msg.CaptureError)
	case actCaptureErrorOnWaitStop:
		f.log.Debug("capture error ignored while waiting for stop", "type", msg.CaptureError.Type)
	case actPreprocDoneOnActive:
		f.preprocDoneOnActive()
	case actPreprocDoneOnStop:
		f.preprocDoneOnStop()
	case actPreprocDoneOnWaitStop:
		f.preprocDoneOnWaitStop()
	case actIllegalCaptureDone:
		f.illegalCaptureDone(msg.Capture)
	case actIllegalCaptureError:
		f.log.Warn("capture error in unexpected state", "state", f.core.State(), "type", msg.CaptureError.Type)
	case actIllegalPreprocDone:
		f.illegalPreprocDone()
	default:
		f.illegal(msg)
	}
}

func (f *FrontEnd) publish() {
	f.pubCapture.Store(int32(f.pendingCapture))
	f.pubPreproc.Store(int32(f.pendingPreproc))
	f.pubDeferred.Store(int32(f.core.DeferredLen()))
}

func (f *FrontEnd) reply(msg Message, res types.Result) {
	f.core.Reply(msg.Event.String(), msg.Reply, res)
}

func (f *FrontEnd) illegal(msg Message) {
	f.log.Warn("command not allowed in state", "command", msg.Event, "state", f.core.State())
	f.reply(msg, types.ResultStateViolation)
}

// --- Commands ---

func (f *FrontEnd) activate(msg Message) {
	if msg.Reply.IsSet() {
		f.core.SetReplyTo(msg.Reply)
	}

	if res := f.checkAndSetMemPool(); !res.OK() {
		f.reply(msg, res)
		return
	}
	if msg.Activate.InputDevice != types.InputMic {
		f.reply(msg, types.ResultCommandParamInputDevice)
		return
	}

	kind := msg.Activate.PreprocType
	if kind == "" {
		kind = types.PreprocThrough
	}
	preproc, err := f.cfg.NewPreproc(kind)
	if err != nil {
		f.log.Error("failed to create preproc", "type", kind, "error", err)
		f.reply(msg, types.ResultDSPLoadError)
		return
	}
	if err := preproc.Activate(f.onPreprocDone); err != nil {
		f.log.Error("failed to activate preproc", "type", kind, "error", err)
		f.reply(msg, types.ResultDSPLoadError)
		return
	}
	f.preproc = preproc

	f.core.SetState(types.StateReady)
	f.reply(msg, types.ResultOK)
}

func (f *FrontEnd) checkAndSetMemPool() types.Result {
	pool := f.cfg.Pool
	if !pool.IsAvailable(f.cfg.InputPool) {
		return types.ResultCheckMemoryPoolError
	}
	f.maxCaptureSize = pool.SegSize(f.cfg.InputPool)

	f.maxOutputSize = 0
	if f.cfg.OutputPool != memhandle.NullPool {
		if !pool.IsAvailable(f.cfg.OutputPool) {
			return types.ResultCheckMemoryPoolError
		}
		f.maxOutputSize = pool.SegSize(f.cfg.OutputPool)
	}

	if !pool.IsAvailable(f.cfg.DSPPool) || pool.SegSize(f.cfg.DSPPool) < f.cfg.DSPCommandSize {
		return types.ResultCheckMemoryPoolError
	}
	return types.ResultOK
}

func (f *FrontEnd) deactivate(msg Message) {
	if f.captureAcquired {
		if err := f.cfg.Capture.Release(); err != nil {
			f.log.Error("failed to release capture", "error", err)
			f.reply(msg, types.ResultClearAudioDataPathError)
			return
		}
		f.captureAcquired = false
	}

	if f.preproc != nil {
		if err := f.preproc.Deactivate(); err != nil {
			f.log.Error("failed to deactivate preproc", "error", err)
			f.reply(msg, types.ResultDSPUnloadError)
			return
		}
		f.preproc = nil
	}

	f.core.SetState(types.StateInactive)
	f.reply(msg, types.ResultOK)
}

// checkInitParams validates channel and bit length against the mic type.
func checkInitParams(p InitParams, mic types.MicType) types.Result {
	switch p.Channels {
	case types.ChannelMono, types.ChannelStereo, types.Channel4ch:
	case types.Channel6ch, types.Channel8ch:
		if mic != types.MicDigital {
			return types.ResultCommandParamChannelNumber
		}
	default:
		return types.ResultCommandParamChannelNumber
	}

	switch p.BitLength {
	case types.BitLength16, types.BitLength24, types.BitLength32:
	default:
		return types.ResultCommandParamBitLength
	}
	return types.ResultOK
}

func (f *FrontEnd) init(msg Message) {
	p := msg.Init
	if res := checkInitParams(p, f.cfg.MicType); !res.OK() {
		f.reply(msg, res)
		return
	}
	if (p.Callback == nil) == (p.Dest == nil) {
		f.reply(msg, types.ResultSetAudioDataPathError)
		return
	}
	frameBytes := p.Channels * types.BytesPerSample(p.BitLength) * p.SamplesPerFrame
	if p.SamplesPerFrame <= 0 || frameBytes > f.maxCaptureSize {
		f.reply(msg, types.ResultCheckMemoryPoolError)
		return
	}

	f.channels = p.Channels
	f.bitLength = p.BitLength
	f.capBytes = types.BytesPerSample(p.BitLength)
	f.samplesPerFrame = p.SamplesPerFrame
	f.outCallback = p.Callback
	f.outDest = p.Dest

	if f.captureAcquired {
		if err := f.cfg.Capture.Release(); err != nil {
			f.log.Error("failed to release capture", "error", err)
			f.reply(msg, types.ResultClearAudioDataPathError)
			return
		}
		f.captureAcquired = false
	}
	if err := f.cfg.Capture.Acquire(types.InputMic); err != nil {
		f.log.Error("failed to acquire capture", "error", err)
		f.reply(msg, types.ResultSetAudioDataPathError)
		return
	}
	f.captureAcquired = true

	params := capture.Params{
		Channels:        p.Channels,
		BitLength:       p.BitLength,
		SamplesPerFrame: p.SamplesPerFrame,
		PresetNum:       CapturePresetNum,
	}
	if err := f.cfg.Capture.Init(params, f.onCaptureDone, f.onCaptureError); err != nil {
		f.log.Error("failed to init capture", "error", err)
		f.reply(msg, types.ResultDMACInitializeError)
		return
	}

	f.reply(msg, types.ResultOK)
}

func (f *FrontEnd) startOnReady(msg Message) {
	for range CapturePresetNum {
		if !f.execCapture() {
			f.reply(msg, types.ResultDMACReadError)
			return
		}
	}
	f.core.SetState(types.StateActive)
	f.reply(msg, types.ResultOK)
}

func (f *FrontEnd) stopOnActive(msg Message) {
	if !f.core.Defer(msg.Event.String(), msg.Reply) {
		return
	}
	f.cfg.Capture.Stop(capture.StopNormal)
	f.core.SetState(types.StateStopping)
}

func (f *FrontEnd) stopOnErrorStop(msg Message) {
	f.core.Defer(msg.Event.String(), msg.Reply)
}

func (f *FrontEnd) stopOnWaitStop(msg Message) {
	if f.idle() {
		f.core.SetState(types.StateReady)
		if f.core.HasDeferred() {
			f.core.ResolveDeferred(types.ResultOK)
		}
		f.reply(msg, types.ResultOK)
		return
	}
	f.core.Defer(msg.Event.String(), msg.Reply)
}

func (f *FrontEnd) initPreproc(msg Message) {
	if err := f.preproc.Init(msg.Packet); err != nil {
		f.log.Warn("preproc init failed", "error", err)
		f.reply(msg, types.ResultDSPInitError)
		return
	}
	f.reply(msg, types.ResultOK)
}

func (f *FrontEnd) setPreproc(msg Message) {
	if err := f.preproc.Set(msg.Packet); err != nil {
		f.log.Warn("preproc set failed", "error", err)
		f.reply(msg, types.ResultDSPSetError)
		return
	}
	f.reply(msg, types.ResultOK)
}

func (f *FrontEnd) setMicGain(msg Message) {
	if len(msg.MicGain) > types.MaxMicChannels {
		f.reply(msg, types.ResultSetMicGainError)
		return
	}
	if err := f.cfg.Capture.SetMicGain(msg.MicGain); err != nil {
		f.log.Warn("set mic gain failed", "error", err)
		f.reply(msg, types.ResultSetMicGainError)
		return
	}
	f.reply(msg, types.ResultOK)
}

// --- Collaborator callbacks (run on collaborator goroutines) ---

func (f *FrontEnd) onCaptureDone(r capture.Result) {
	if err := f.mb.Post(Message{Event: EventCaptureDone, Capture: r}); err != nil {
		f.releaseHandle(r.Handle)
	}
}

func (f *FrontEnd) onCaptureError(e capture.Error) {
	if err := f.mb.Post(Message{Event: EventCaptureError, CaptureError: e}); err != nil {
		f.log.Warn("capture error dropped", "type", e.Type, "error", err)
	}
}

func (f *FrontEnd) onPreprocDone(ev offload.Event, ok bool) {
	if err := f.mb.Post(Message{Event: EventPreprocDone, PreprocEvent: ev, PreprocOK: ok}); err != nil {
		f.log.Warn("preproc completion dropped", "event", ev, "error", err)
	}
}

// --- Helpers ---

func (f *FrontEnd) idle() bool {
	return f.pendingCapture == 0 && f.pendingPreproc == 0
}

// settle leaves a stop sequence: with no work in flight and a deferred
// command waiting, the command is answered and the object returns to
// Ready. Otherwise it waits in WaitStop.
func (f *FrontEnd) settle() {
	if f.idle() && f.core.HasDeferred() {
		f.core.SetState(types.StateReady)
		f.core.ResolveDeferred(types.ResultOK)
		return
	}
	f.core.SetState(types.StateWaitStop)
}

func (f *FrontEnd) releaseHandle(h memhandle.Handle) {
	if h.IsNull() {
		return
	}
	if err := f.cfg.Pool.Release(h); err != nil {
		f.core.Attention(types.ResultMemHandleAllocError, fmt.Sprintf("release %s: %v", h, err))
	}
}

func (f *FrontEnd) execCapture() bool {
	size := f.channels * f.capBytes * f.samplesPerFrame
	h, err := f.cfg.Pool.Alloc(f.cfg.InputPool, size)
	if err != nil {
		f.log.Warn("capture buffer allocation failed", "error", err)
		return false
	}
	if err := f.cfg.Capture.Exec(h, f.samplesPerFrame); err != nil {
		f.log.Warn("capture request failed", "error", err)
		f.releaseHandle(h)
		return false
	}
	f.pendingCapture++
	return true
}

func (f *FrontEnd) execPreproc(r capture.Result) bool {
	in := types.PcmData{
		Handle:    r.Handle,
		Size:      r.Size,
		Channels:  f.channels,
		BitLength: f.bitLength,
		Samples:   r.Samples,
	}

	var out memhandle.Handle
	if f.preproc.Type() != types.PreprocThrough && f.cfg.OutputPool != memhandle.NullPool {
		h, err := f.cfg.Pool.Alloc(f.cfg.OutputPool, r.Size)
		if err != nil {
			f.log.Warn("preproc output allocation failed", "error", err)
			f.releaseHandle(r.Handle)
			return false
		}
		out = h
	}

	if err := f.preproc.Exec(in, out); err != nil {
		f.log.Warn("preproc exec failed", "error", err)
		f.releaseHandle(r.Handle)
		f.releaseHandle(out)
		return false
	}
	f.pendingPreproc++
	return true
}

func (f *FrontEnd) flushPreproc() bool {
	var out memhandle.Handle
	if f.preproc.Type() != types.PreprocThrough {
		pool := f.cfg.OutputPool
		if pool == memhandle.NullPool {
			pool = f.cfg.InputPool
		}
		h, err := f.cfg.Pool.Alloc(pool, 0)
		if err != nil {
			f.log.Warn("flush output allocation failed", "error", err)
			return false
		}
		out = h
	}

	if err := f.preproc.Flush(out); err != nil {
		f.log.Warn("preproc flush failed", "error", err)
		f.releaseHandle(out)
		return false
	}
	f.pendingPreproc++
	return true
}

func (f *FrontEnd) sendData(p types.PcmData) {
	p.Identifier = 0
	if f.outCallback != nil {
		f.outCallback(p)
		return
	}
	if f.outDest == nil {
		f.log.Error("no data path configured, dropping output")
		f.releaseHandle(p.Handle)
		return
	}
	if err := f.outDest.Send(p); err != nil {
		f.log.Error("failed to send output", "error", err)
		f.releaseHandle(p.Handle)
	}
}

// sendDummyEndData terminates the output stream when no real end frame
// can be produced.
func (f *FrontEnd) sendDummyEndData() {
	f.sendData(types.PcmData{
		Channels:  f.channels,
		BitLength: f.bitLength,
		IsEnd:     true,
	})
}
