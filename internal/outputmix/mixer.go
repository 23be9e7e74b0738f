// Package outputmix implements the Output-Mixer audio object. It routes
// commands and PCM to one renderer per output channel and switches the
// board outputs on activation.
package outputmix

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/oszuidwest/zwfm-audioplane/internal/customproc"
	"github.com/oszuidwest/zwfm-audioplane/internal/memhandle"
	"github.com/oszuidwest/zwfm-audioplane/internal/object"
	"github.com/oszuidwest/zwfm-audioplane/internal/types"
)

// RendererNum is the number of output channels.
const RendererNum = 2

// Config wires the mixer to its collaborators.
type Config struct {
	Name  string
	Pool  *memhandle.Manager
	Board Board
	// Players per renderer; nil entries discard the audio.
	Players       [RendererNum]Player
	NewPostproc   func(types.PreprocType) (customproc.Component, error)
	QueueCapacity int
	Observer      object.Observer
	Logger        *slog.Logger
}

// Status is a snapshot readable from any goroutine.
type Status struct {
	Device    types.MixerDevice `json:"device"`
	Renderers []RendererStatus  `json:"renderers"`
}

// Mixer is the Output-Mixer. All renderer state is owned by the goroutine
// running Run.
type Mixer struct {
	core      *object.Core
	mb        *object.Mailbox[Message]
	cfg       Config
	log       *slog.Logger
	renderers [RendererNum]*renderer

	device    types.MixerDevice
	pubDevice atomic.Value
}

// New creates a mixer routed to the headphone output.
func New(cfg Config) (*Mixer, error) {
	if cfg.Pool == nil || cfg.Board == nil {
		return nil, errors.New("outputmix: pool and board are required")
	}
	if cfg.Name == "" {
		cfg.Name = "mixer"
	}
	if cfg.NewPostproc == nil {
		pool := cfg.Pool
		cfg.NewPostproc = func(kind types.PreprocType) (customproc.Component, error) {
			return customproc.New(kind, pool)
		}
	}
	core := object.NewCore(cfg.Name, cfg.QueueCapacity, cfg.Observer, cfg.Logger)
	m := &Mixer{
		core:   core,
		mb:     object.NewMailbox[Message](),
		cfg:    cfg,
		log:    core.Logger(),
		device: types.MixerHeadphone,
	}
	m.pubDevice.Store(m.device)
	for i := range RendererNum {
		player := cfg.Players[i]
		if player == nil {
			player = &Discard{}
		}
		m.renderers[i] = newRenderer(m, i, player)
	}
	return m, nil
}

// Run processes messages until ctx is done or Close is called. On return
// every renderer is unloaded.
func (m *Mixer) Run(ctx context.Context) error {
	err := object.Run(ctx, m.mb, m.dispatch)
	m.mb.Close()
	for _, r := range m.renderers {
		if r.postproc != nil {
			r.unload()
		}
	}
	return err
}

// Close stops accepting messages.
func (m *Mixer) Close() { m.mb.Close() }

// Name returns the object name.
func (m *Mixer) Name() string { return m.core.Name() }

// Status returns the device and per-renderer snapshots. Reading the levels
// starts a new metering period.
func (m *Mixer) Status() Status {
	dev, _ := m.pubDevice.Load().(types.MixerDevice)
	now := time.Now()
	st := Status{Device: dev, Renderers: make([]RendererStatus, RendererNum)}
	for i, r := range m.renderers {
		st.Renderers[i] = r.status(now)
	}
	return st
}

// Activate posts an Activate command for renderer handle.
func (m *Mixer) Activate(handle int, p ActivateParams, reply object.ReplyTo) error {
	return m.mb.Post(Message{Event: EventActivate, Handle: handle, Activate: p, Reply: reply})
}

// Deactivate posts a Deactivate command for renderer handle.
func (m *Mixer) Deactivate(handle int, reply object.ReplyTo) error {
	return m.mb.Post(Message{Event: EventDeactivate, Handle: handle, Reply: reply})
}

// SendData posts PCM for the renderer selected by p.Identifier. Ownership
// of p.Handle moves to the mixer when SendData returns nil.
func (m *Mixer) SendData(p types.PcmData) error {
	return m.mb.Post(Message{Event: EventSendData, Data: p})
}

// ClockRecovery posts a frame-term adjustment for renderer handle.
func (m *Mixer) ClockRecovery(handle int, p ClockRecoveryParams, reply object.ReplyTo) error {
	return m.mb.Post(Message{Event: EventClockRecovery, Handle: handle, ClockRecovery: p, Reply: reply})
}

// InitPostproc posts a post-processing init packet for renderer handle.
func (m *Mixer) InitPostproc(handle int, packet []byte, reply object.ReplyTo) error {
	return m.mb.Post(Message{Event: EventInitPostproc, Handle: handle, Packet: packet, Reply: reply})
}

// SetPostproc posts a post-processing set packet for renderer handle.
func (m *Mixer) SetPostproc(handle int, packet []byte, reply object.ReplyTo) error {
	return m.mb.Post(Message{Event: EventSetPostproc, Handle: handle, Packet: packet, Reply: reply})
}

func (m *Mixer) dispatch(msg Message) {
	if msg.Event == EventPostprocDone {
		// Completions belong to the renderer whatever the device is now.
		m.renderers[msg.Handle].dispatch(msg)
		return
	}

	switch msg.Event {
	case EventActivate:
		// The current routing stays in place for an unknown device.
		if !knownDevice(msg.Activate.Device) {
			m.log.Warn("unknown output device", "device", msg.Activate.Device)
			m.answer(msg, types.ResultCommandParamOutputDevice)
			return
		}
		m.device = msg.Activate.Device
		m.pubDevice.Store(m.device)
		m.boardCall("enable", enableDevice(m.cfg.Board, m.device))
	case EventDeactivate:
		m.boardCall("disable", disableDevice(m.cfg.Board, m.device))
	}

	switch m.device {
	case types.MixerHeadphone, types.MixerI2S:
		h := getHandle(msg)
		if h < 0 || h >= RendererNum {
			m.log.Warn("message for unknown renderer", "event", msg.Event, "handle", h)
			m.answer(msg, types.ResultCommandParamHandle)
			return
		}
		m.renderers[h].dispatch(msg)
	case types.MixerA2DPSource:
		// Rendering happens outside the mixer.
		m.answer(msg, types.ResultOK)
	default:
		m.answer(msg, types.ResultCommandParamOutputDevice)
	}
}

// boardCall raises a fatal attention when a board operation failed.
func (m *Mixer) boardCall(op string, err error) {
	if err == nil {
		return
	}
	m.core.Attention(types.ResultOutputDeviceError, fmt.Sprintf("%s %s output: %v", op, m.device, err))
}

// answer completes a message the renderers do not see: commands are
// replied, data is released and its source notified.
func (m *Mixer) answer(msg Message, res types.Result) {
	switch msg.Event {
	case EventSendData:
		m.drop(msg.Data, res)
	default:
		m.core.Reply(msg.Event.String(), msg.Reply, res)
	}
}

// drop releases a data item and notifies its source.
func (m *Mixer) drop(p types.PcmData, res types.Result) {
	m.releaseHandle(p.Handle)
	p.Notify(types.Notification{Size: p.Size, IsEnd: p.IsEnd, Result: res})
}

func (m *Mixer) releaseHandle(h memhandle.Handle) {
	if h.IsNull() {
		return
	}
	if err := m.cfg.Pool.Release(h); err != nil {
		m.core.Attention(types.ResultMemHandleAllocError, fmt.Sprintf("release %s: %v", h, err))
	}
}
