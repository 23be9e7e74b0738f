package frontend

import "github.com/oszuidwest/zwfm-audioplane/internal/types"

// action names the handler chosen for a (state, event) pair.
type action int

const (
	actIllegal action = iota
	actIllegalCaptureDone
	actIllegalCaptureError
	actIllegalPreprocDone
	actActivate
	actDeactivate
	actInit
	actStart
	actStopOnActive
	actStopOnErrorStop
	actStopOnWaitStop
	actInitPreproc
	actSetPreproc
	actSetMicGain
	actCaptureDoneOnActive
	actCaptureDoneOnStop
	actCaptureDoneOnErrorStop
	actCaptureDoneOnWaitStop
	actCaptureErrorOnActive
	actCaptureErrorOnStop
	actCaptureErrorOnWaitStop
	actPreprocDoneOnActive
	actPreprocDoneOnStop
	actPreprocDoneOnWaitStop
)

// route is the Front-End state table.
func route(s types.State, e Event) action {
	switch e {
	case EventActivate:
		if s == types.StateInactive {
			return actActivate
		}
	case EventDeactivate:
		if s == types.StateReady {
			return actDeactivate
		}
	case EventInit:
		if s == types.StateReady {
			return actInit
		}
	case EventStart:
		if s == types.StateReady {
			return actStart
		}
	case EventStop:
		switch s {
		case types.StateActive:
			return actStopOnActive
		case types.StateErrorStopping:
			return actStopOnErrorStop
		case types.StateWaitStop:
			return actStopOnWaitStop
		}
	case EventInitPreproc:
		if s == types.StateReady {
			return actInitPreproc
		}
	case EventSetPreproc:
		if s == types.StateReady || s == types.StateActive {
			return actSetPreproc
		}
	case EventSetMicGain:
		if s == types.StateReady || s == types.StateActive {
			return actSetMicGain
		}
	case EventCaptureDone:
		switch s {
		case types.StateActive:
			return actCaptureDoneOnActive
		case types.StateStopping:
			return actCaptureDoneOnStop
		case types.StateErrorStopping:
			return actCaptureDoneOnErrorStop
		case types.StateWaitStop:
			return actCaptureDoneOnWaitStop
		}
		return actIllegalCaptureDone
	case EventCaptureError:
		switch s {
		case types.StateActive:
			return actCaptureErrorOnActive
		case types.StateStopping, types.StateErrorStopping:
			return actCaptureErrorOnStop
		case types.StateWaitStop:
			return actCaptureErrorOnWaitStop
		}
		return actIllegalCaptureError
	case EventPreprocDone:
		switch s {
		case types.StateActive:
			return actPreprocDoneOnActive
		case types.StateStopping, types.StateErrorStopping:
			return actPreprocDoneOnStop
		case types.StateWaitStop:
			return actPreprocDoneOnWaitStop
		}
		return actIllegalPreprocDone
	}
	return actIllegal
}
