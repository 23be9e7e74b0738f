package recorder

import "github.com/oszuidwest/zwfm-audioplane/internal/types"

type action int

const (
	actIllegal action = iota
	actIllegalEncode
	actIllegalDone
	actActivate
	actDeactivate
	actInit
	actStart
	actStopOnReady
	actStopOnActive
	actStopOnWaitStop
	actEncodeOnActive
	actDoneOnActive
	actDoneOnStop
	actDoneOnErrorStop
)

// route is the Recorder state table.
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
		case types.StateReady:
			return actStopOnReady
		case types.StateActive, types.StateStopping, types.StateErrorStopping:
			return actStopOnActive
		case types.StateWaitStop:
			return actStopOnWaitStop
		}
	case EventEncode:
		if s == types.StateActive {
			return actEncodeOnActive
		}
		return actIllegalEncode
	case EventFilterDone, EventEncodeDone:
		switch s {
		case types.StateActive:
			return actDoneOnActive
		case types.StateStopping:
			return actDoneOnStop
		case types.StateErrorStopping:
			return actDoneOnErrorStop
		}
		return actIllegalDone
	}
	return actIllegal
}
