package frontend

import (
	"github.com/oszuidwest/zwfm-audioplane/internal/capture"
	"github.com/oszuidwest/zwfm-audioplane/internal/customproc"
	"github.com/oszuidwest/zwfm-audioplane/internal/offload"
	"github.com/oszuidwest/zwfm-audioplane/internal/types"
)

// --- Capture completions ---

func (f *FrontEnd) captureDoneOnActive(r capture.Result) {
	f.pendingCapture--

	// A missed re-request only thins the request queue; the delivered frame
	// is still processed.
	if !f.execCapture() {
		f.log.Warn("capture re-request failed", "pending_capture", f.pendingCapture)
	}

	if !f.processCapture(r) {
		f.errorStop()
	}
}

func (f *FrontEnd) captureDoneOnStop(r capture.Result) {
	f.pendingCapture--

	// Capture is already stopping.
	if !f.processCapture(r) {
		f.core.SetState(types.StateErrorStopping)
	}

	if r.EndFlag {
		f.endOfCapture()
	}
}

// processCapture submits a captured frame to the preproc. An invalid
// buffer counts as a failed submission and is released.
func (f *FrontEnd) processCapture(r capture.Result) bool {
	if !r.Valid() {
		f.log.Warn("invalid capture buffer", "handle", r.Handle, "size", r.Size)
		f.releaseHandle(r.Handle)
		return false
	}
	return f.execPreproc(r)
}

func (f *FrontEnd) captureDoneOnErrorStop(r capture.Result) {
	f.pendingCapture--
	f.releaseHandle(r.Handle)

	if r.EndFlag {
		f.endOfCapture()
	}
}

func (f *FrontEnd) captureDoneOnWaitStop(r capture.Result) {
	f.pendingCapture--
	f.releaseHandle(r.Handle)
	f.settle()
}

func (f *FrontEnd) illegalCaptureDone(r capture.Result) {
	f.log.Warn("capture completion in unexpected state", "state", f.core.State())
	f.releaseHandle(r.Handle)
	if f.pendingCapture > 0 {
		f.pendingCapture--
	}
}

// endOfCapture flushes the preproc once capture has delivered its last
// frame. When the flush cannot be queued the stream is closed with a dummy
// end frame instead.
func (f *FrontEnd) endOfCapture() {
	if f.flushPreproc() {
		return
	}
	f.sendDummyEndData()
	f.settle()
}

// errorStop halts capture after a failure on the data path.
func (f *FrontEnd) errorStop() {
	f.cfg.Capture.Stop(capture.StopNormal)
	f.core.SetState(types.StateErrorStopping)
}

// --- Capture errors ---

func (f *FrontEnd) captureErrorOnActive(e capture.Error) {
	f.log.Warn("capture error", "type", e.Type)
	f.cfg.Capture.Stop(capture.StopNormal)

	if e.Type != capture.ErrorInternal {
		f.core.SetState(types.StateErrorStopping)
		return
	}

	// No end frame follows an internal error.
	if f.flushPreproc() {
		f.core.SetState(types.StateErrorStopping)
		return
	}
	f.sendDummyEndData()
	f.settle()
}

func (f *FrontEnd) captureErrorOnStop(e capture.Error) {
	f.log.Warn("capture error while stopping", "type", e.Type)

	if e.Type != capture.ErrorInternal {
		f.core.SetState(types.StateErrorStopping)
		return
	}
	if f.flushPreproc() {
		f.core.SetState(types.StateErrorStopping)
		return
	}
	f.sendDummyEndData()
	f.settle()
}

// --- Preproc completions ---

func (f *FrontEnd) recvPreproc() (customproc.Completion, bool) {
	if f.preproc == nil {
		f.log.Warn("preproc completion without preproc")
		return customproc.Completion{}, false
	}
	c, err := f.preproc.RecvDone()
	if err != nil {
		f.log.Error("failed to receive preproc completion", "error", err)
		return customproc.Completion{}, false
	}
	f.pendingPreproc--
	return c, true
}

func (f *FrontEnd) preprocDoneOnActive() {
	c, ok := f.recvPreproc()
	if !ok {
		return
	}
	if !c.Result {
		f.log.Warn("preproc request failed", "event", c.Event)
		f.releaseHandle(c.Output.Handle)
		return
	}
	f.forward(c.Output)
}

func (f *FrontEnd) preprocDoneOnStop() {
	c, ok := f.recvPreproc()
	if !ok {
		return
	}

	if c.Event != offload.EventFlush {
		if c.Result {
			f.forward(c.Output)
		} else {
			f.log.Warn("preproc request failed", "event", c.Event)
			f.releaseHandle(c.Output.Handle)
		}
		return
	}

	if c.Result {
		end := c.Output
		end.Channels = f.channels
		end.BitLength = f.bitLength
		end.IsEnd = true
		f.sendData(end)
	} else {
		f.log.Warn("preproc flush failed")
		f.releaseHandle(c.Output.Handle)
		f.sendDummyEndData()
	}
	f.settle()
}

func (f *FrontEnd) preprocDoneOnWaitStop() {
	c, ok := f.recvPreproc()
	if !ok {
		return
	}
	f.releaseHandle(c.Output.Handle)
	f.settle()
}

func (f *FrontEnd) illegalPreprocDone() {
	f.log.Warn("preproc completion in unexpected state", "state", f.core.State())
	if f.preproc == nil {
		return
	}
	c, err := f.preproc.RecvDone()
	if err != nil {
		return
	}
	f.releaseHandle(c.Output.Handle)
	if f.pendingPreproc > 0 {
		f.pendingPreproc--
	}
}

// forward sends processed data downstream, dropping empty frames.
func (f *FrontEnd) forward(p types.PcmData) {
	if !p.HasBuffer() || p.Size == 0 {
		f.releaseHandle(p.Handle)
		return
	}
	f.sendData(p)
}
