package outputmix

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/oszuidwest/zwfm-audioplane/internal/customproc"
	"github.com/oszuidwest/zwfm-audioplane/internal/memhandle"
	"github.com/oszuidwest/zwfm-audioplane/internal/object"
	"github.com/oszuidwest/zwfm-audioplane/internal/offload"
	"github.com/oszuidwest/zwfm-audioplane/internal/types"
)

// RendererStatus is a snapshot of one output channel.
type RendererStatus struct {
	State         types.State         `json:"state"`
	Pending       int                 `json:"pending"`
	Frames        uint64              `json:"frames"`
	PlayErrors    uint64              `json:"play_errors"`
	ClockRecovery ClockRecoveryParams `json:"clock_recovery"`
	Levels        Levels              `json:"levels"`
}

// renderer is the per-channel state machine. It runs on the mixer goroutine.
type renderer struct {
	id     int
	core   *object.Core
	mix    *Mixer
	player Player
	meter  *Meter

	postproc customproc.Component
	pending  int

	bitLength  atomic.Int32
	pubPending atomic.Int32
	frames     atomic.Uint64
	playErrs   atomic.Uint64
	clock      atomic.Value
}

func newRenderer(m *Mixer, id int, player Player) *renderer {
	r := &renderer{
		id:     id,
		core:   object.NewCore(fmt.Sprintf("%s/%d", m.core.Name(), id), m.cfg.QueueCapacity, m.cfg.Observer, m.cfg.Logger),
		mix:    m,
		player: player,
		meter:  NewMeter(),
	}
	r.bitLength.Store(types.BitLength16)
	r.clock.Store(ClockRecoveryParams{})
	return r
}

func (r *renderer) status(now time.Time) RendererStatus {
	clock, _ := r.clock.Load().(ClockRecoveryParams)
	return RendererStatus{
		State:         r.core.Published(),
		Pending:       int(r.pubPending.Load()),
		Frames:        r.frames.Load(),
		PlayErrors:    r.playErrs.Load(),
		ClockRecovery: clock,
		Levels:        r.meter.Take(int(r.bitLength.Load()), now),
	}
}

func (r *renderer) dispatch(msg Message) {
	defer r.pubPending.Store(int32(r.pending))

	switch route(r.core.State(), msg.Event) {
	case actActivate:
		r.activate(msg)
	case actDeactivate:
		r.deactivate(msg)
	case actSendData:
		r.sendData(msg.Data)
	case actClockRecovery:
		r.clock.Store(msg.ClockRecovery)
		r.reply(msg, types.ResultOK)
	case actInitPostproc:
		r.initPostproc(msg)
	case actSetPostproc:
		r.setPostproc(msg)
	case actPostprocDone:
		r.postprocDone()
	case actIllegalData:
		r.core.Logger().Warn("data not allowed in state", "state", r.core.State())
		r.mix.drop(msg.Data, types.ResultStateViolation)
	case actIllegalPostprocDone:
		r.core.Logger().Warn("postproc completion in unexpected state", "state", r.core.State())
		if r.postproc != nil {
			if c, err := r.postproc.RecvDone(); err == nil {
				r.mix.releaseHandle(c.Output.Handle)
			}
		}
	default:
		r.core.Logger().Warn("command not allowed in state", "command", msg.Event, "state", r.core.State())
		r.reply(msg, types.ResultStateViolation)
	}
}

func (r *renderer) reply(msg Message, res types.Result) {
	r.core.Reply(msg.Event.String(), msg.Reply, res)
}

func (r *renderer) activate(msg Message) {
	if msg.Reply.IsSet() {
		r.core.SetReplyTo(msg.Reply)
	}
	kind := msg.Activate.PostprocType
	if kind == "" {
		kind = types.PreprocThrough
	}
	pp, err := r.mix.cfg.NewPostproc(kind)
	if err != nil {
		r.core.Logger().Error("failed to create postproc", "type", kind, "error", err)
		r.reply(msg, types.ResultDSPLoadError)
		return
	}
	if err := pp.Activate(r.onPostprocDone); err != nil {
		r.core.Logger().Error("failed to activate postproc", "type", kind, "error", err)
		r.reply(msg, types.ResultDSPLoadError)
		return
	}
	r.postproc = pp
	r.core.SetState(types.StateReady)
	r.reply(msg, types.ResultOK)
}

// deactivate waits for in-flight renders before unloading.
func (r *renderer) deactivate(msg Message) {
	if r.pending > 0 {
		r.core.Defer(msg.Event.String(), msg.Reply)
		return
	}
	r.reply(msg, r.unload())
}

func (r *renderer) unload() types.Result {
	if r.postproc != nil {
		if err := r.postproc.Deactivate(); err != nil {
			r.core.Logger().Error("failed to deactivate postproc", "error", err)
			return types.ResultDSPUnloadError
		}
		r.postproc = nil
	}
	if err := r.player.Close(); err != nil {
		r.core.Logger().Warn("failed to close player", "error", err)
	}
	r.core.SetState(types.StateInactive)
	return types.ResultOK
}

func (r *renderer) initPostproc(msg Message) {
	if err := r.postproc.Init(msg.Packet); err != nil {
		r.core.Logger().Warn("postproc init failed", "error", err)
		r.reply(msg, types.ResultDSPInitError)
		return
	}
	r.reply(msg, types.ResultOK)
}

func (r *renderer) setPostproc(msg Message) {
	if err := r.postproc.Set(msg.Packet); err != nil {
		r.core.Logger().Warn("postproc set failed", "error", err)
		r.reply(msg, types.ResultDSPSetError)
		return
	}
	r.reply(msg, types.ResultOK)
}

func (r *renderer) sendData(p types.PcmData) {
	r.core.SetState(types.StateActive)

	if !p.HasBuffer() || p.Size == 0 {
		r.mix.drop(p, types.ResultOK)
		r.endOfStream(p)
		return
	}
	if err := r.postproc.Exec(p, memhandle.Handle{}); err != nil {
		r.core.Logger().Warn("postproc exec failed", "error", err)
		r.mix.drop(p, types.ResultDSPExecError)
		return
	}
	r.pending++
}

func (r *renderer) onPostprocDone(ev offload.Event, ok bool) {
	msg := Message{Event: EventPostprocDone, Handle: r.id, DoneEvent: ev, DoneOK: ok}
	if err := r.mix.mb.Post(msg); err != nil {
		r.core.Logger().Warn("postproc completion dropped", "event", ev, "error", err)
	}
}

func (r *renderer) postprocDone() {
	c, err := r.postproc.RecvDone()
	if err != nil {
		r.core.Logger().Error("failed to receive postproc completion", "error", err)
		return
	}
	r.pending--

	out := c.Output
	if c.Event == offload.EventExec {
		res := types.ResultOK
		if c.Result {
			r.render(out)
		} else {
			res = types.ResultDSPExecError
		}
		r.mix.drop(out, res)
		r.endOfStream(out)
	} else {
		r.mix.releaseHandle(out.Handle)
	}

	if r.pending == 0 && r.core.HasDeferred() {
		r.core.ResolveDeferred(r.unload())
	}
}

func (r *renderer) render(p types.PcmData) {
	buf, err := r.mix.cfg.Pool.Bytes(p.Handle)
	if err != nil || p.Size > len(buf) {
		r.core.Logger().Warn("cannot read rendered buffer", "size", p.Size, "error", err)
		r.playErrs.Add(1)
		return
	}
	buf = buf[:p.Size]
	r.bitLength.Store(int32(p.BitLength))
	r.meter.Process(buf, p.Channels, p.BitLength)
	if err := r.player.Play(buf, p); err != nil {
		r.core.Logger().Warn("player failed", "error", err)
		r.playErrs.Add(1)
	}
	r.frames.Add(1)
}

func (r *renderer) endOfStream(p types.PcmData) {
	if p.IsEnd && r.core.State() == types.StateActive {
		r.core.SetState(types.StateReady)
	}
}
