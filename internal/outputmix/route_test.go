package outputmix

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/oszuidwest/zwfm-audioplane/internal/types"
)

func TestRoute(t *testing.T) {
	t.Parallel()

	tests := []struct {
		state types.State
		event Event
		want  action
	}{
		{types.StateInactive, EventActivate, actActivate},
		{types.StateReady, EventActivate, actIllegal},
		{types.StateActive, EventActivate, actIllegal},
		{types.StateInactive, EventDeactivate, actIllegal},
		{types.StateReady, EventDeactivate, actDeactivate},
		{types.StateActive, EventDeactivate, actDeactivate},
		{types.StateInactive, EventSendData, actIllegalData},
		{types.StateReady, EventSendData, actSendData},
		{types.StateActive, EventSendData, actSendData},
		{types.StateInactive, EventClockRecovery, actIllegal},
		{types.StateActive, EventClockRecovery, actClockRecovery},
		{types.StateReady, EventInitPostproc, actInitPostproc},
		{types.StateActive, EventInitPostproc, actIllegal},
		{types.StateInactive, EventSetPostproc, actIllegal},
		{types.StateActive, EventSetPostproc, actSetPostproc},
		{types.StateReady, EventPostprocDone, actPostprocDone},
		{types.StateActive, EventPostprocDone, actPostprocDone},
		{types.StateInactive, EventPostprocDone, actIllegalPostprocDone},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, route(tt.state, tt.event), "%s/%s", tt.state, tt.event)
	}
}

func TestGetHandle(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 1, getHandle(Message{Event: EventSendData, Handle: 0, Data: types.PcmData{Identifier: 1}}))
	assert.Equal(t, 1, getHandle(Message{Event: EventActivate, Handle: 1}))
	assert.Equal(t, "postproc_done", EventPostprocDone.String())
	assert.Equal(t, "event(42)", Event(42).String())
}

func TestEnableDeviceUnknown(t *testing.T) {
	t.Parallel()
	b := NewSimBoard()

	assert.ErrorIs(t, enableDevice(b, "spdif"), ErrUnknownDevice)
	assert.ErrorIs(t, disableDevice(b, "spdif"), ErrUnknownDevice)
	assert.NoError(t, disableDevice(b, types.MixerA2DPSource))
	assert.Empty(t, b.Calls())
}
