package outputmix

import (
	"fmt"

	"github.com/oszuidwest/zwfm-audioplane/internal/object"
	"github.com/oszuidwest/zwfm-audioplane/internal/offload"
	"github.com/oszuidwest/zwfm-audioplane/internal/types"
)

// Event is the message type handled by the Output-Mixer.
type Event int

// Command events.
const (
	EventActivate Event = iota
	EventDeactivate
	EventSendData
	EventClockRecovery
	EventInitPostproc
	EventSetPostproc
)

// EventPostprocDone is posted by a renderer's post-processing component.
const EventPostprocDone Event = 100

var eventNames = map[Event]string{
	EventActivate:      "activate",
	EventDeactivate:    "deactivate",
	EventSendData:      "send_data",
	EventClockRecovery: "clock_recovery",
	EventInitPostproc:  "init_postproc",
	EventSetPostproc:   "set_postproc",
	EventPostprocDone:  "postproc_done",
}

func (e Event) String() string {
	if name, ok := eventNames[e]; ok {
		return name
	}
	return fmt.Sprintf("event(%d)", int(e))
}

// ActivateParams selects the physical output and the renderer's
// post-processing variant.
type ActivateParams struct {
	Device       types.MixerDevice
	PostprocType types.PreprocType
}

// ClockDirection is the frame-term adjustment direction.
type ClockDirection int

const (
	ClockAdvance ClockDirection = -1
	ClockKeep    ClockDirection = 0
	ClockDelay   ClockDirection = 1
)

// ClockRecoveryParams fine-tunes the output frame term: the renderer
// shortens or lengthens Times frames.
type ClockRecoveryParams struct {
	Direction ClockDirection `json:"direction"`
	Times     int            `json:"times"`
}

// Message is one entry of the Output-Mixer mailbox.
type Message struct {
	Event         Event
	Reply         object.ReplyTo
	Handle        int
	Activate      ActivateParams
	ClockRecovery ClockRecoveryParams
	Packet        []byte
	Data          types.PcmData

	DoneEvent offload.Event
	DoneOK    bool
}

// getHandle returns the renderer a message is addressed to. Data carries it
// in the PCM identifier, every other message in the handle field.
func getHandle(msg Message) int {
	if msg.Event == EventSendData {
		return msg.Data.Identifier
	}
	return msg.Handle
}
