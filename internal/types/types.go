// Package types provides shared type definitions used across the audio objects.
package types

import "fmt"

// State is the discrete state of an audio object.
type State string

const (
	// StateInactive indicates the object holds no per-activation resources.
	StateInactive State = "inactive"
	// StateReady indicates the object is activated and idle.
	StateReady State = "ready"
	// StateActive indicates the data path is running.
	StateActive State = "active"
	// StateStopping indicates a normal stop is draining in-flight work.
	StateStopping State = "stopping"
	// StateErrorStopping indicates a stop caused by an error is draining in-flight work.
	StateErrorStopping State = "error_stopping"
	// StateWaitStop indicates the end of stream was seen but work is still in flight.
	StateWaitStop State = "wait_stop"
)

// States lists every object state in table order.
var States = []State{
	StateInactive,
	StateReady,
	StateActive,
	StateStopping,
	StateErrorStopping,
	StateWaitStop,
}

// InputDevice selects the capture source of the Front-End.
type InputDevice string

const (
	// InputMic is the on-board microphone; analog or digital depends on the board.
	InputMic InputDevice = "mic"
	// InputI2S is an I2S input. The Front-End does not accept it.
	InputI2S InputDevice = "i2s"
)

// MicType is the physical microphone kind fitted on the board.
type MicType string

const (
	MicAnalog  MicType = "analog"
	MicDigital MicType = "digital"
)

// OutputDevice selects the Recorder data sink.
type OutputDevice string

const (
	// OutputRAM writes encoded data to an in-memory sink.
	OutputRAM OutputDevice = "ram"
	// OutputEMMC is a file system sink. The Recorder does not accept it.
	OutputEMMC OutputDevice = "emmc"
)

// MixerDevice selects the physical output of the Output-Mixer.
type MixerDevice string

const (
	MixerHeadphone  MixerDevice = "headphone"
	MixerI2S        MixerDevice = "i2s"
	MixerA2DPSource MixerDevice = "a2dp_source"
)

// Codec represents an audio codec type.
type Codec string

const (
	CodecMP3  Codec = "mp3"
	CodecLPCM Codec = "lpcm"
	CodecOpus Codec = "opus"
)

// ClockMode is the audio master clock mode.
type ClockMode string

const (
	ClockNormal ClockMode = "normal"
	ClockHiRes  ClockMode = "hires"
)

// PreprocType selects the Front-End pre-processing variant.
type PreprocType string

const (
	PreprocThrough    PreprocType = "through"
	PreprocUserCustom PreprocType = "user_custom"
)

// Channel counts accepted by the objects.
const (
	ChannelMono   = 1
	ChannelStereo = 2
	Channel4ch    = 4
	Channel6ch    = 6
	Channel8ch    = 8
)

// Bit lengths accepted by the objects.
const (
	BitLength16 = 16
	BitLength24 = 24
	BitLength32 = 32
)

// Sampling rates used by the codec tables.
const (
	SamplingRate8k   = 8000
	SamplingRate16k  = 16000
	SamplingRate48k  = 48000
	SamplingRate192k = 192000
)

// MaxMicChannels is the number of independently adjustable microphone gains.
const MaxMicChannels = 8

// BytesPerSample returns the container width used in memory for a bit length.
// 24-bit samples travel in 32-bit containers.
func BytesPerSample(bitLength int) int {
	if bitLength == BitLength16 {
		return 2
	}
	return 4
}

// Reply is the single answer an object sends for a command.
type Reply struct {
	Object  string `json:"object"`
	Command string `json:"command"`
	Result  Result `json:"result"`
	State   State  `json:"state"`
}

func (r Reply) String() string {
	return fmt.Sprintf("%s/%s: %s (%s)", r.Object, r.Command, r.Result, r.State)
}
