// Package capture provides the microphone capture collaborator used by the
// Front-End object, with a simulated DMA device that produces frames from a
// PCM source at the capture rate.
package capture

import (
	"errors"

	"github.com/oszuidwest/zwfm-audioplane/internal/memhandle"
	"github.com/oszuidwest/zwfm-audioplane/internal/types"
)

// Sentinel errors returned by capture devices.
var (
	ErrNotAcquired  = errors.New("capture device not acquired")
	ErrNotInit      = errors.New("capture device not initialized")
	ErrBusy         = errors.New("capture request queue full")
	ErrInvalidParam = errors.New("invalid capture parameter")
)

// StopMode selects how pending requests are terminated.
type StopMode int

const (
	// StopNormal completes queued requests and flags the last one as the end.
	StopNormal StopMode = iota
	// StopImmediate drops queued request data but still flags the end.
	StopImmediate
)

// ErrorType classifies an asynchronous capture error.
type ErrorType int

const (
	// ErrorInternal is a DMA continuity error (ERRINT). The end frame has not
	// arrived and will not arrive.
	ErrorInternal ErrorType = iota
	// ErrorBus is any other DMA failure.
	ErrorBus
)

func (e ErrorType) String() string {
	if e == ErrorInternal {
		return "errint"
	}
	return "bus"
}

// Params configures a capture session.
type Params struct {
	Channels        int
	BitLength       int
	SamplesPerFrame int
	PresetNum       int
}

// FrameBytes returns the byte size of one frame.
func (p Params) FrameBytes() int {
	return p.Channels * types.BytesPerSample(p.BitLength) * p.SamplesPerFrame
}

// Result is one completed capture request.
type Result struct {
	Handle  memhandle.Handle
	Size    int
	Samples int
	EndFlag bool
}

// Valid reports whether the request carries captured data.
func (r Result) Valid() bool {
	return !r.Handle.IsNull() && r.Size > 0
}

// Error is one asynchronous capture failure.
type Error struct {
	Type ErrorType
}

// DoneFunc receives completed requests.
type DoneFunc func(Result)

// ErrorFunc receives asynchronous failures.
type ErrorFunc func(Error)

// Capture is the contract of the capture collaborator. Completions are
// delivered on a device goroutine.
type Capture interface {
	Acquire(device types.InputDevice) error
	Release() error
	Init(p Params, done DoneFunc, errf ErrorFunc) error
	// Exec queues a request that fills h with samples frames. The handle is
	// returned in the matching Result.
	Exec(h memhandle.Handle, samples int) error
	Stop(mode StopMode)
	SetMicGain(gains []int) error
}
