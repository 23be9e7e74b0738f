// Package recorder implements the Recorder audio object: PCM from the
// Front-End is encoded or filtered and written to a data sink.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/oszuidwest/zwfm-audioplane/internal/codec"
	"github.com/oszuidwest/zwfm-audioplane/internal/memhandle"
	"github.com/oszuidwest/zwfm-audioplane/internal/object"
	"github.com/oszuidwest/zwfm-audioplane/internal/offload"
	"github.com/oszuidwest/zwfm-audioplane/internal/sink"
	"github.com/oszuidwest/zwfm-audioplane/internal/types"
)

// InFlightCapacity is the number of encode requests kept in flight.
const InFlightCapacity = offload.DefaultDepth

// DefaultDSPCommandSize is the minimum DSP pool segment size.
const DefaultDSPCommandSize = 64

// Loader creates a codec component.
type Loader func(types.Codec, codec.LoadParams) (codec.Component, error)

// Config wires a Recorder to its collaborators.
type Config struct {
	Name           string
	Pool           *memhandle.Manager
	OutputPool     memhandle.PoolID
	DSPPool        memhandle.PoolID
	DSPCommandSize int
	ClockMode      types.ClockMode
	Sink           sink.Sink
	LoadCodec      Loader
	QueueCapacity  int
	Observer       object.Observer
	Logger         *slog.Logger
}

// Status is a snapshot readable from any goroutine.
type Status struct {
	State         types.State `json:"state"`
	Codec         types.Codec `json:"codec,omitempty"`
	PendingEncode int         `json:"pending_encode"`
	Deferred      int         `json:"deferred"`
}

// Recorder is the encode and sink state machine. All state is owned by the
// goroutine running Run.
type Recorder struct {
	core *object.Core
	mb   *object.Mailbox[Message]
	cfg  Config
	log  *slog.Logger

	enc           codec.Component
	params        codec.Params
	maxOutputSize int

	// inFIFO pairs each submitted Exec with its source item; outFIFO holds
	// the output buffers of every submitted Exec and Stop in order.
	inFIFO  *object.CommandQueue[types.PcmData]
	outFIFO *object.CommandQueue[memhandle.Handle]

	pubCodec    atomic.Value
	pubPending  atomic.Int32
	pubDeferred atomic.Int32
}

// New creates a Recorder in StateInactive.
func New(cfg Config) (*Recorder, error) {
	if cfg.Pool == nil || cfg.Sink == nil {
		return nil, errors.New("recorder: pool and sink are required")
	}
	if cfg.Name == "" {
		cfg.Name = "recorder"
	}
	if cfg.DSPCommandSize == 0 {
		cfg.DSPCommandSize = DefaultDSPCommandSize
	}
	if cfg.ClockMode == "" {
		cfg.ClockMode = types.ClockNormal
	}
	if cfg.LoadCodec == nil {
		cfg.LoadCodec = codec.Loader{Pool: cfg.Pool}.Load
	}
	core := object.NewCore(cfg.Name, cfg.QueueCapacity, cfg.Observer, cfg.Logger)
	r := &Recorder{
		core:    core,
		mb:      object.NewMailbox[Message](),
		cfg:     cfg,
		log:     core.Logger(),
		inFIFO:  object.NewCommandQueue[types.PcmData](InFlightCapacity),
		outFIFO: object.NewCommandQueue[memhandle.Handle](InFlightCapacity + 1),
	}
	r.pubCodec.Store(types.Codec(""))
	return r, nil
}

// Run processes messages until ctx is done or Close is called. On return
// the codec is unloaded and buffers still in flight are released.
func (r *Recorder) Run(ctx context.Context) error {
	err := object.Run(ctx, r.mb, r.dispatch)
	r.teardown()
	return err
}

func (r *Recorder) teardown() {
	r.mb.Close()
	if err := r.unloadCodec(); err != nil {
		r.log.Warn("failed to unload codec on shutdown", "error", err)
	}
}

// Close stops accepting messages. Run returns once the mailbox drains.
func (r *Recorder) Close() { r.mb.Close() }

// Name returns the object name.
func (r *Recorder) Name() string { return r.core.Name() }

// Status returns the published state and counters.
func (r *Recorder) Status() Status {
	c, _ := r.pubCodec.Load().(types.Codec)
	return Status{
		State:         r.core.Published(),
		Codec:         c,
		PendingEncode: int(r.pubPending.Load()),
		Deferred:      int(r.pubDeferred.Load()),
	}
}

// Activate posts an Activate command. reply also becomes the default target
// for later commands posted without one.
func (r *Recorder) Activate(p ActivateParams, reply object.ReplyTo) error {
	return r.mb.Post(Message{Event: EventActivate, Activate: p, Reply: reply})
}

// Deactivate posts a Deactivate command.
func (r *Recorder) Deactivate(reply object.ReplyTo) error {
	return r.mb.Post(Message{Event: EventDeactivate, Reply: reply})
}

// Init posts an Init command.
func (r *Recorder) Init(p InitParams, reply object.ReplyTo) error {
	return r.mb.Post(Message{Event: EventInit, Init: p, Reply: reply})
}

// Start posts a Start command.
func (r *Recorder) Start(reply object.ReplyTo) error {
	return r.mb.Post(Message{Event: EventStart, Reply: reply})
}

// Stop posts a Stop command. The reply arrives once the encoder has been
// flushed and the sink finalized.
func (r *Recorder) Stop(reply object.ReplyTo) error {
	return r.mb.Post(Message{Event: EventStop, Reply: reply})
}

// Send posts PCM for encoding. Ownership of p.Handle moves to the Recorder
// when Send returns nil.
func (r *Recorder) Send(p types.PcmData) error {
	return r.mb.Post(Message{Event: EventEncode, Data: p})
}

func (r *Recorder) dispatch(msg Message) {
	defer r.publish()

	switch route(r.core.State(), msg.Event) {
	case actActivate:
		r.activate(msg)
	case actDeactivate:
		r.deactivate(msg)
	case actInit:
		r.init(msg)
	case actStart:
		r.start(msg)
	case actStopOnReady:
		r.reply(msg, types.ResultOK)
	case actStopOnActive:
		r.core.Defer(msg.Event.String(), msg.Reply)
	case actStopOnWaitStop:
		r.stopOnWaitStop(msg)
	case actEncodeOnActive:
		r.encodeOnActive(msg.Data)
	case actIllegalEncode:
		r.illegalEncode(msg.Data)
	case actDoneOnActive:
		r.doneOnActive()
	case actDoneOnStop:
		r.doneOnStop()
	case actDoneOnErrorStop:
		r.doneOnErrorStop()
	case actIllegalDone:
		r.illegalDone()
	default:
		r.illegal(msg)
	}
}

func (r *Recorder) publish() {
	r.pubPending.Store(int32(r.outFIFO.Len()))
	r.pubDeferred.Store(int32(r.core.DeferredLen()))
}

func (r *Recorder) reply(msg Message, res types.Result) {
	r.core.Reply(msg.Event.String(), msg.Reply, res)
}

func (r *Recorder) illegal(msg Message) {
	r.log.Warn("command not allowed in state", "command", msg.Event, "state", r.core.State())
	r.reply(msg, types.ResultStateViolation)
}

// --- Commands ---

func (r *Recorder) activate(msg Message) {
	if msg.Reply.IsSet() {
		r.core.SetReplyTo(msg.Reply)
	}

	if res := r.checkAndSetMemPool(); !res.OK() {
		r.reply(msg, res)
		return
	}
	if msg.Activate.OutputDevice != types.OutputRAM {
		r.reply(msg, types.ResultCommandParamOutputDevice)
		return
	}
	if err := r.cfg.Sink.Init(sink.Params{}); err != nil {
		r.log.Error("failed to init sink", "error", err)
		r.reply(msg, types.ResultSetAudioDataPathError)
		return
	}

	r.core.SetState(types.StateReady)
	r.reply(msg, types.ResultOK)
}

func (r *Recorder) checkAndSetMemPool() types.Result {
	pool := r.cfg.Pool
	if !pool.IsAvailable(r.cfg.OutputPool) {
		return types.ResultCheckMemoryPoolError
	}
	r.maxOutputSize = pool.SegSize(r.cfg.OutputPool)

	if !pool.IsAvailable(r.cfg.DSPPool) || pool.SegSize(r.cfg.DSPPool) < r.cfg.DSPCommandSize {
		return types.ResultCheckMemoryPoolError
	}
	return types.ResultOK
}

func (r *Recorder) deactivate(msg Message) {
	if err := r.unloadCodec(); err != nil {
		r.log.Error("failed to unload codec", "error", err)
		r.reply(msg, types.ResultDSPUnloadError)
		return
	}
	r.core.SetState(types.StateInactive)
	r.reply(msg, types.ResultOK)
}

func (r *Recorder) init(msg Message) {
	p := codec.Params{
		Codec:        msg.Init.Codec,
		Channels:     msg.Init.Channels,
		BitLength:    msg.Init.BitLength,
		InputRate:    codec.InputRate(r.cfg.ClockMode),
		SamplingRate: msg.Init.SamplingRate,
		BitRate:      msg.Init.BitRate,
		Complexity:   msg.Init.Complexity,
	}
	if res := codec.CheckParams(p, r.cfg.ClockMode); !res.OK() {
		r.reply(msg, res)
		return
	}

	if r.needsReload(p) {
		if err := r.unloadCodec(); err != nil {
			r.log.Error("failed to unload codec", "error", err)
			r.reply(msg, types.ResultDSPUnloadError)
			return
		}
		if err := r.loadCodec(p); err != nil {
			r.log.Error("failed to load codec", "codec", p.Codec, "error", err)
			r.reply(msg, types.ResultDSPLoadError)
			return
		}
	}

	if err := r.enc.Init(p); err != nil {
		r.log.Error("failed to init codec", "codec", p.Codec, "error", err)
		r.reply(msg, types.ResultDSPInitError)
		return
	}
	if err := r.cfg.Sink.Init(sink.Params{
		Codec:        p.Codec,
		Channels:     p.Channels,
		BitLength:    p.BitLength,
		SamplingRate: p.SamplingRate,
	}); err != nil {
		r.log.Error("failed to init sink", "error", err)
		r.reply(msg, types.ResultSetAudioDataPathError)
		return
	}
	r.params = p
	r.reply(msg, types.ResultOK)
}

// needsReload reports whether the loaded component cannot serve p: the codec
// changed or, for LPCM, a different filter variant is required.
func (r *Recorder) needsReload(p codec.Params) bool {
	if r.enc == nil || r.enc.Codec() != p.Codec {
		return true
	}
	if p.Codec != types.CodecLPCM {
		return false
	}
	clock := r.cfg.ClockMode
	return codec.SelectFilter(r.params.SamplingRate, r.params.BitLength, clock) !=
		codec.SelectFilter(p.SamplingRate, p.BitLength, clock)
}

func (r *Recorder) loadCodec(p codec.Params) error {
	enc, err := r.cfg.LoadCodec(p.Codec, codec.LoadParams{
		SamplingRate: p.SamplingRate,
		BitLength:    p.BitLength,
		ClockMode:    r.cfg.ClockMode,
	})
	if err != nil {
		return err
	}
	event := EventEncodeDone
	if p.Codec == types.CodecLPCM {
		event = EventFilterDone
	}
	if err := enc.Activate(r.onDone(event)); err != nil {
		return err
	}
	r.enc = enc
	r.params = p
	r.pubCodec.Store(p.Codec)
	return nil
}

func (r *Recorder) unloadCodec() error {
	if r.enc == nil {
		return nil
	}
	if err := r.enc.Deactivate(); err != nil {
		return err
	}
	r.enc = nil
	r.releaseInFlight()
	r.params = codec.Params{}
	r.pubCodec.Store(types.Codec(""))
	return nil
}

// releaseInFlight frees buffers of requests whose completions were
// discarded by the codec.
func (r *Recorder) releaseInFlight() {
	for {
		in, ok := r.inFIFO.Pop()
		if !ok {
			break
		}
		r.releaseHandle(in.Handle)
		in.Notify(types.Notification{Size: in.Size, IsEnd: true, Result: types.ResultDSPUnloadError})
	}
	for {
		out, ok := r.outFIFO.Pop()
		if !ok {
			break
		}
		r.releaseHandle(out)
	}
}

func (r *Recorder) start(msg Message) {
	if r.enc == nil {
		r.log.Warn("start without initialized codec")
		r.reply(msg, types.ResultDSPInitError)
		return
	}
	r.core.SetState(types.StateActive)
	r.reply(msg, types.ResultOK)
}

func (r *Recorder) stopOnWaitStop(msg Message) {
	if r.outFIFO.Empty() {
		r.core.SetState(types.StateReady)
		if r.core.HasDeferred() {
			r.core.ResolveDeferred(types.ResultOK)
		}
		r.reply(msg, types.ResultOK)
		return
	}
	r.core.Defer(msg.Event.String(), msg.Reply)
}

// --- Collaborator callbacks (run on codec goroutines) ---

func (r *Recorder) onDone(event Event) codec.Callback {
	return func(ev offload.Event, ok bool) {
		if err := r.mb.Post(Message{Event: event, DoneEvent: ev, DoneOK: ok}); err != nil {
			r.log.Warn("codec completion dropped", "event", ev, "error", err)
		}
	}
}

// --- Helpers ---

func (r *Recorder) releaseHandle(h memhandle.Handle) {
	if h.IsNull() {
		return
	}
	if err := r.cfg.Pool.Release(h); err != nil {
		r.core.Attention(types.ResultMemHandleAllocError, fmt.Sprintf("release %s: %v", h, err))
	}
}

// execEncode submits one encode request. On failure the caller still owns p.
func (r *Recorder) execEncode(p types.PcmData) bool {
	if r.inFIFO.Len() == r.inFIFO.Cap() {
		r.log.Warn("encode requests in flight at capacity", "capacity", r.inFIFO.Cap())
		return false
	}
	out, err := r.cfg.Pool.Alloc(r.cfg.OutputPool, r.maxOutputSize)
	if err != nil {
		r.log.Warn("encode output allocation failed", "error", err)
		return false
	}
	if err := r.enc.Exec(p, out); err != nil {
		r.log.Warn("encode request failed", "error", err)
		r.releaseHandle(out)
		return false
	}
	// Both pushes fit: outFIFO has one slot more than inFIFO for the Stop.
	_ = r.inFIFO.Push(p)
	_ = r.outFIFO.Push(out)
	return true
}

// stopEncode submits the flush request. A failed output allocation still
// submits the request with a null buffer so the stop completes.
func (r *Recorder) stopEncode() bool {
	if r.enc == nil {
		return false
	}
	out, err := r.cfg.Pool.Alloc(r.cfg.OutputPool, r.maxOutputSize)
	if err != nil {
		r.log.Warn("flush output allocation failed", "error", err)
		out = memhandle.Handle{}
	}
	if err := r.enc.Stop(out); err != nil {
		r.log.Warn("flush request failed", "error", err)
		r.releaseHandle(out)
		return false
	}
	if err := r.outFIFO.Push(out); err != nil {
		r.core.Attention(types.ResultQueueOperationError, "output queue overflow on flush")
		r.releaseHandle(out)
		return false
	}
	return true
}

func (r *Recorder) finalizeSink() {
	if err := r.cfg.Sink.Finalize(); err != nil {
		r.log.Warn("failed to finalize sink", "error", err)
	}
}

func (r *Recorder) writeSink(out memhandle.Handle, size int) error {
	if err := r.cfg.Sink.Write(out, size); err != nil {
		r.log.Warn("sink write failed", "size", size, "error", err)
		return err
	}
	return nil
}

// leaveStop ends an error stop: with nothing in flight and a deferred
// command waiting, the command is answered and the object returns to
// Ready. Otherwise it waits in WaitStop.
func (r *Recorder) leaveStop() {
	if r.outFIFO.Empty() && r.core.HasDeferred() {
		r.core.SetState(types.StateReady)
		r.core.ResolveDeferred(types.ResultOK)
		return
	}
	r.core.SetState(types.StateWaitStop)
}
