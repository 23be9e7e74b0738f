package outputmix

import "github.com/oszuidwest/zwfm-audioplane/internal/types"

type action int

const (
	actIllegal action = iota
	actIllegalData
	actIllegalPostprocDone
	actActivate
	actDeactivate
	actSendData
	actClockRecovery
	actInitPostproc
	actSetPostproc
	actPostprocDone
)

// route is the renderer state table.
func route(s types.State, e Event) action {
	running := s == types.StateReady || s == types.StateActive
	switch e {
	case EventActivate:
		if s == types.StateInactive {
			return actActivate
		}
	case EventDeactivate:
		if running {
			return actDeactivate
		}
	case EventSendData:
		if running {
			return actSendData
		}
		return actIllegalData
	case EventClockRecovery:
		if running {
			return actClockRecovery
		}
	case EventInitPostproc:
		if s == types.StateReady {
			return actInitPostproc
		}
	case EventSetPostproc:
		if running {
			return actSetPostproc
		}
	case EventPostprocDone:
		if running {
			return actPostprocDone
		}
		return actIllegalPostprocDone
	}
	return actIllegal
}
