package types

import (
	"fmt"
	"strings"
)

// Result is the completion code carried by every command reply.
type Result uint8

// Result codes.
const (
	ResultOK Result = iota
	ResultStateViolation
	ResultCheckMemoryPoolError
	ResultQueueOperationError
	ResultCommandParamInputDevice
	ResultCommandParamOutputDevice
	ResultCommandParamChannelNumber
	ResultCommandParamBitLength
	ResultCommandParamSamplingRate
	ResultCommandParamBitRate
	ResultCommandParamCodecType
	ResultCommandParamComplexity
	ResultCommandParamHandle
	ResultDSPLoadError
	ResultDSPUnloadError
	ResultDSPInitError
	ResultDSPSetError
	ResultDMACInitializeError
	ResultDMACReadError
	ResultSetAudioDataPathError
	ResultClearAudioDataPathError
	ResultSetMicGainError
	ResultMemHandleAllocError
	ResultOutputDeviceError
	ResultDSPExecError
	ResultDSPStopError
)

var resultNames = [...]string{
	ResultOK:                        "OK",
	ResultStateViolation:            "STATE_VIOLATION",
	ResultCheckMemoryPoolError:      "CHECK_MEMORY_POOL_ERROR",
	ResultQueueOperationError:       "QUEUE_OPERATION_ERROR",
	ResultCommandParamInputDevice:   "COMMAND_PARAM_INPUT_DEVICE",
	ResultCommandParamOutputDevice:  "COMMAND_PARAM_OUTPUT_DEVICE",
	ResultCommandParamChannelNumber: "COMMAND_PARAM_CHANNEL_NUMBER",
	ResultCommandParamBitLength:     "COMMAND_PARAM_BIT_LENGTH",
	ResultCommandParamSamplingRate:  "COMMAND_PARAM_SAMPLING_RATE",
	ResultCommandParamBitRate:       "COMMAND_PARAM_BIT_RATE",
	ResultCommandParamCodecType:     "COMMAND_PARAM_CODEC_TYPE",
	ResultCommandParamComplexity:    "COMMAND_PARAM_COMPLEXITY",
	ResultCommandParamHandle:        "COMMAND_PARAM_HANDLE",
	ResultDSPLoadError:              "DSP_LOAD_ERROR",
	ResultDSPUnloadError:            "DSP_UNLOAD_ERROR",
	ResultDSPInitError:              "DSP_INIT_ERROR",
	ResultDSPSetError:               "DSP_SET_ERROR",
	ResultDMACInitializeError:       "DMAC_INITIALIZE_ERROR",
	ResultDMACReadError:             "DMAC_READ_ERROR",
	ResultSetAudioDataPathError:     "SET_AUDIO_DATA_PATH_ERROR",
	ResultClearAudioDataPathError:   "CLEAR_AUDIO_DATA_PATH_ERROR",
	ResultSetMicGainError:           "SET_MIC_GAIN_ERROR",
	ResultMemHandleAllocError:       "MEMHANDLE_ALLOC_ERROR",
	ResultOutputDeviceError:         "OUTPUT_DEVICE_ERROR",
	ResultDSPExecError:              "DSP_EXEC_ERROR",
	ResultDSPStopError:              "DSP_STOP_ERROR",
}

// String returns the wire name of the result code.
func (r Result) String() string {
	if int(r) < len(resultNames) && resultNames[r] != "" {
		return resultNames[r]
	}
	return fmt.Sprintf("RESULT(%d)", uint8(r))
}

// MarshalText encodes the result as its wire name.
func (r Result) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText decodes a wire name.
func (r *Result) UnmarshalText(text []byte) error {
	name := strings.ToUpper(string(text))
	for code, n := range resultNames {
		if n != "" && n == name {
			*r = Result(code)
			return nil
		}
	}
	return fmt.Errorf("unknown result %q", text)
}

// OK reports whether the result is ResultOK.
func (r Result) OK() bool {
	return r == ResultOK
}

// Err returns nil for ResultOK and a *ResultError otherwise.
func (r Result) Err() error {
	if r == ResultOK {
		return nil
	}
	return &ResultError{Result: r}
}

// ResultError wraps a non-OK result code as a Go error.
type ResultError struct {
	Result Result
}

func (e *ResultError) Error() string {
	return "audio object: " + e.Result.String()
}

// Is matches another *ResultError with the same code.
func (e *ResultError) Is(target error) bool {
	t, ok := target.(*ResultError)
	return ok && t.Result == e.Result
}
