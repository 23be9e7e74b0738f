package recorder

import (
	"fmt"

	"github.com/oszuidwest/zwfm-audioplane/internal/object"
	"github.com/oszuidwest/zwfm-audioplane/internal/offload"
	"github.com/oszuidwest/zwfm-audioplane/internal/types"
)

// Event is the message type handled by the Recorder.
type Event int

// Command events.
const (
	EventActivate Event = iota
	EventDeactivate
	EventInit
	EventStart
	EventStop
	EventEncode
)

// Result events delivered by the codec component.
const (
	EventFilterDone Event = iota + 100
	EventEncodeDone
)

var eventNames = map[Event]string{
	EventActivate:   "activate",
	EventDeactivate: "deactivate",
	EventInit:       "init",
	EventStart:      "start",
	EventStop:       "stop",
	EventEncode:     "encode",
	EventFilterDone: "filter_done",
	EventEncodeDone: "encode_done",
}

func (e Event) String() string {
	if name, ok := eventNames[e]; ok {
		return name
	}
	return fmt.Sprintf("event(%d)", int(e))
}

// IsCommand reports whether the event expects a reply. Encode requests are
// answered through the item callback instead.
func (e Event) IsCommand() bool {
	return e < EventEncode
}

// ActivateParams configures an activation.
type ActivateParams struct {
	OutputDevice types.OutputDevice
}

// InitParams configures the encode stage.
type InitParams struct {
	Codec        types.Codec
	Channels     int
	BitLength    int
	SamplingRate int
	BitRate      int
	Complexity   int
}

// Message is one entry of the Recorder mailbox.
type Message struct {
	Event    Event
	Reply    object.ReplyTo
	Activate ActivateParams
	Init     InitParams
	Data     types.PcmData

	DoneEvent offload.Event
	DoneOK    bool
}
