package types

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResultString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "OK", ResultOK.String())
	assert.Equal(t, "STATE_VIOLATION", ResultStateViolation.String())
	assert.Equal(t, "COMMAND_PARAM_CHANNEL_NUMBER", ResultCommandParamChannelNumber.String())
	assert.Equal(t, "RESULT(200)", Result(200).String())
}

func TestResultErr(t *testing.T) {
	t.Parallel()

	assert.NoError(t, ResultOK.Err())

	err := ResultQueueOperationError.Err()
	assert.EqualError(t, err, "audio object: QUEUE_OPERATION_ERROR")
	assert.True(t, errors.Is(err, ResultQueueOperationError.Err()))
	assert.False(t, errors.Is(err, ResultStateViolation.Err()))
}

func TestBytesPerSample(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 2, BytesPerSample(BitLength16))
	assert.Equal(t, 4, BytesPerSample(BitLength24))
	assert.Equal(t, 4, BytesPerSample(BitLength32))
}

func TestResultText(t *testing.T) {
	t.Parallel()

	var r Result
	assert.NoError(t, r.UnmarshalText([]byte("dsp_exec_error")))
	assert.Equal(t, ResultDSPExecError, r)
	assert.Error(t, r.UnmarshalText([]byte("RESULT(200)")))

	text, err := ResultSetMicGainError.MarshalText()
	assert.NoError(t, err)
	assert.Equal(t, "SET_MIC_GAIN_ERROR", string(text))
}
