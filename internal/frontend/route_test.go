package frontend

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
		{types.StateReady, EventDeactivate, actDeactivate},
		{types.StateActive, EventDeactivate, actIllegal},
		{types.StateReady, EventInit, actInit},
		{types.StateActive, EventInit, actIllegal},
		{types.StateReady, EventStart, actStart},
		{types.StateReady, EventStop, actIllegal},
		{types.StateActive, EventStop, actStopOnActive},
		{types.StateStopping, EventStop, actIllegal},
		{types.StateErrorStopping, EventStop, actStopOnErrorStop},
		{types.StateWaitStop, EventStop, actStopOnWaitStop},
		{types.StateReady, EventInitPreproc, actInitPreproc},
		{types.StateActive, EventInitPreproc, actIllegal},
		{types.StateActive, EventSetPreproc, actSetPreproc},
		{types.StateStopping, EventSetPreproc, actIllegal},
		{types.StateReady, EventSetMicGain, actSetMicGain},
		{types.StateActive, EventSetMicGain, actSetMicGain},
		{types.StateInactive, EventCaptureDone, actIllegalCaptureDone},
		{types.StateActive, EventCaptureDone, actCaptureDoneOnActive},
		{types.StateStopping, EventCaptureDone, actCaptureDoneOnStop},
		{types.StateErrorStopping, EventCaptureDone, actCaptureDoneOnErrorStop},
		{types.StateWaitStop, EventCaptureDone, actCaptureDoneOnWaitStop},
		{types.StateReady, EventCaptureError, actIllegalCaptureError},
		{types.StateActive, EventCaptureError, actCaptureErrorOnActive},
		{types.StateStopping, EventCaptureError, actCaptureErrorOnStop},
		{types.StateErrorStopping, EventCaptureError, actCaptureErrorOnStop},
		{types.StateWaitStop, EventCaptureError, actCaptureErrorOnWaitStop},
		{types.StateReady, EventPreprocDone, actIllegalPreprocDone},
		{types.StateActive, EventPreprocDone, actPreprocDoneOnActive},
		{types.StateErrorStopping, EventPreprocDone, actPreprocDoneOnStop},
		{types.StateWaitStop, EventPreprocDone, actPreprocDoneOnWaitStop},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, route(tt.state, tt.event), "%s in %s", tt.event, tt.state)
	}
}

func TestEventNames(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "set_mic_gain", EventSetMicGain.String())
	assert.Equal(t, "event(42)", Event(42).String())
	assert.True(t, EventStop.IsCommand())
	assert.False(t, EventPreprocDone.IsCommand())
}
