package recorder

import (
	"github.com/oszuidwest/zwfm-audioplane/internal/codec"
	"github.com/oszuidwest/zwfm-audioplane/internal/memhandle"
	"github.com/oszuidwest/zwfm-audioplane/internal/offload"
	"github.com/oszuidwest/zwfm-audioplane/internal/types"
)

// --- Encode requests ---

func (r *Recorder) encodeOnActive(p types.PcmData) {
	execOK := true
	switch {
	case p.Size == 0:
		// Nothing to encode: hand the item straight back.
		r.releaseHandle(p.Handle)
		p.Notify(types.Notification{IsEnd: p.IsEnd, Result: types.ResultOK})
	case !r.execEncode(p):
		execOK = false
		r.releaseHandle(p.Handle)
		p.Notify(types.Notification{Size: p.Size, IsEnd: true, Result: types.ResultDSPExecError})
	}
	if execOK && !p.IsEnd {
		return
	}

	if !r.stopEncode() {
		r.finalizeSink()
		r.core.SetState(types.StateWaitStop)
		return
	}
	if p.IsEnd {
		r.core.SetState(types.StateStopping)
	} else {
		r.core.SetState(types.StateErrorStopping)
	}
}

func (r *Recorder) illegalEncode(p types.PcmData) {
	r.log.Warn("encode request not allowed in state", "state", r.core.State(), "size", p.Size)
	r.releaseHandle(p.Handle)
	p.Notify(types.Notification{IsEnd: p.IsEnd, Result: types.ResultStateViolation})
}

// --- Codec completions ---

func (r *Recorder) recvDone() (codec.Completion, bool) {
	if r.enc == nil {
		r.log.Warn("codec completion without loaded codec")
		return codec.Completion{}, false
	}
	c, err := r.enc.RecvDone()
	if err != nil {
		r.log.Error("failed to receive codec completion", "error", err)
		return c, false
	}
	return c, true
}

func (r *Recorder) popExec() (types.PcmData, memhandle.Handle) {
	in, _ := r.inFIFO.Pop()
	out, _ := r.outFIFO.Pop()
	return in, out
}

func execResult(c codec.Completion) types.Result {
	if c.Result {
		return types.ResultOK
	}
	return types.ResultDSPExecError
}

func (r *Recorder) doneOnActive() {
	c, ok := r.recvDone()
	if !ok {
		return
	}
	if c.Event != offload.EventExec {
		r.log.Warn("unexpected codec completion", "event", c.Event, "state", r.core.State())
		out, _ := r.outFIFO.Pop()
		r.releaseHandle(out)
		return
	}

	in, out := r.popExec()
	isEnd := in.IsEnd
	if c.Result {
		if err := r.writeSink(out, c.Size); err != nil {
			isEnd = true
			if r.stopEncode() {
				r.core.SetState(types.StateErrorStopping)
			} else {
				r.finalizeSink()
				r.leaveStop()
			}
		}
	}
	r.releaseHandle(out)
	r.releaseHandle(in.Handle)
	in.Notify(types.Notification{Size: in.Size, IsEnd: isEnd, Result: execResult(c)})
}

func (r *Recorder) doneOnStop() {
	c, ok := r.recvDone()
	if !ok {
		return
	}
	if c.Event == offload.EventExec {
		in, out := r.popExec()
		isEnd := in.IsEnd
		if c.Result {
			if err := r.writeSink(out, c.Size); err != nil {
				isEnd = true
				r.core.SetState(types.StateErrorStopping)
			}
		}
		r.releaseHandle(out)
		r.releaseHandle(in.Handle)
		in.Notify(types.Notification{Size: in.Size, IsEnd: isEnd, Result: execResult(c)})
		return
	}

	r.writeTail(c)
	r.finalizeSink()
	r.core.SetState(types.StateReady)
	if r.core.HasDeferred() {
		r.core.ResolveDeferred(types.ResultOK)
	}
}

func (r *Recorder) doneOnErrorStop() {
	c, ok := r.recvDone()
	if !ok {
		return
	}
	if c.Event == offload.EventExec {
		in, out := r.popExec()
		if c.Result {
			_ = r.writeSink(out, c.Size)
		}
		r.releaseHandle(out)
		r.releaseHandle(in.Handle)
		in.Notify(types.Notification{Size: in.Size, IsEnd: in.IsEnd, Result: execResult(c)})
		return
	}

	r.writeTail(c)
	r.finalizeSink()
	r.leaveStop()
}

// writeTail stores the flushed remainder of the stream.
func (r *Recorder) writeTail(c codec.Completion) {
	out, _ := r.outFIFO.Pop()
	if c.Result && c.Size > 0 {
		_ = r.writeSink(out, c.Size)
	}
	r.releaseHandle(out)
}

func (r *Recorder) illegalDone() {
	c, ok := r.recvDone()
	if !ok {
		return
	}
	r.log.Warn("codec completion in unexpected state", "event", c.Event, "state", r.core.State())

	if c.Event == offload.EventExec {
		in, out := r.popExec()
		r.releaseHandle(out)
		r.releaseHandle(in.Handle)
		in.Notify(types.Notification{Size: in.Size, IsEnd: in.IsEnd, Result: types.ResultStateViolation})
	} else {
		out, _ := r.outFIFO.Pop()
		r.releaseHandle(out)
	}

	if r.outFIFO.Empty() && r.core.HasDeferred() && r.core.State() != types.StateInactive {
		r.core.SetState(types.StateReady)
		r.core.ResolveDeferred(types.ResultOK)
	}
}
