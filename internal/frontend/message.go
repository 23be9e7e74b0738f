package frontend

import (
	"fmt"

	"github.com/oszuidwest/zwfm-audioplane/internal/capture"
	"github.com/oszuidwest/zwfm-audioplane/internal/object"
	"github.com/oszuidwest/zwfm-audioplane/internal/offload"
	"github.com/oszuidwest/zwfm-audioplane/internal/types"
)

// Event is the message type handled by the Front-End.
type Event int

// Command events.
const (
	EventActivate Event = iota
	EventDeactivate
	EventInit
	EventStart
	EventStop
	EventInitPreproc
	EventSetPreproc
	EventSetMicGain
)

// Result events delivered by the collaborators.
const (
	EventCaptureDone Event = iota + 100
	EventCaptureError
	EventPreprocDone
)

var eventNames = map[Event]string{
	EventActivate:     "activate",
	EventDeactivate:   "deactivate",
	EventInit:         "init",
	EventStart:        "start",
	EventStop:         "stop",
	EventInitPreproc:  "init_preproc",
	EventSetPreproc:   "set_preproc",
	EventSetMicGain:   "set_mic_gain",
	EventCaptureDone:  "capture_done",
	EventCaptureError: "capture_error",
	EventPreprocDone:  "preproc_done",
}

func (e Event) String() string {
	if name, ok := eventNames[e]; ok {
		return name
	}
	return fmt.Sprintf("event(%d)", int(e))
}

// IsCommand reports whether the event expects a reply.
func (e Event) IsCommand() bool {
	return e < EventCaptureDone
}

// Consumer receives Front-End output by message.
type Consumer interface {
	Send(types.PcmData) error
}

// ActivateParams configures an activation.
type ActivateParams struct {
	InputDevice types.InputDevice
	PreprocType types.PreprocType
}

// InitParams configures the capture data path. Exactly one of Callback and
// Dest must be set.
type InitParams struct {
	Channels        int
	BitLength       int
	SamplesPerFrame int
	Callback        func(types.PcmData)
	Dest            Consumer
}

// Message is one entry of the Front-End mailbox.
type Message struct {
	Event    Event
	Reply    object.ReplyTo
	Activate ActivateParams
	Init     InitParams
	Packet   []byte
	MicGain  []int

	Capture      capture.Result
	CaptureError capture.Error
	PreprocEvent offload.Event
	PreprocOK    bool
}
