// Package codec provides the Recorder's encode stage: LPCM filters run
// locally, MP3 and OPUS encoders run behind the same offload contract.
package codec

import (
	"errors"
	"fmt"

	"github.com/oszuidwest/zwfm-audioplane/internal/memhandle"
	"github.com/oszuidwest/zwfm-audioplane/internal/offload"
	"github.com/oszuidwest/zwfm-audioplane/internal/types"
)

// Sentinel errors returned by codec components.
var (
	ErrNotActive        = errors.New("codec not activated")
	ErrActive           = errors.New("codec already activated")
	ErrNoOutputBuffer   = errors.New("no output buffer")
	ErrOutputTooSmall   = errors.New("output buffer too small")
	ErrUnsupportedCodec = errors.New("codec not supported by this build")
)

// FilterType is the LPCM filter variant.
type FilterType int

const (
	FilterThrough FilterType = iota
	FilterSampleRateConv
	FilterPacking
)

func (f FilterType) String() string {
	switch f {
	case FilterSampleRateConv:
		return "sample_rate_conv"
	case FilterPacking:
		return "packing"
	default:
		return "through"
	}
}

// Params configures an encoder. InputRate is the capture rate feeding the
// Recorder, SamplingRate the rate of the produced stream.
type Params struct {
	Codec           types.Codec
	Channels        int
	BitLength       int
	InputRate       int
	SamplingRate    int
	BitRate         int
	Complexity      int
	SamplesPerFrame int
}

// InputBytes is the container width of one input sample.
func (p Params) InputBytes() int {
	return types.BytesPerSample(p.BitLength)
}

// OutputBytes is the width of one output sample. 24-bit output is packed.
func (p Params) OutputBytes() int {
	switch p.BitLength {
	case types.BitLength16:
		return 2
	case types.BitLength24:
		return 3
	default:
		return 4
	}
}

// Encoder is the synchronous transform behind a Component. Calls are
// serialized by the Component.
type Encoder interface {
	Init(p Params) error
	// Encode transforms src into dst and returns the bytes written.
	Encode(dst, src []byte) (int, error)
	// Flush writes any buffered tail into dst.
	Flush(dst []byte) (int, error)
	Close() error
}

// Callback announces a finished request. The result is fetched with RecvDone.
type Callback func(ev offload.Event, ok bool)

// Completion is the outcome of one Exec or Stop.
type Completion struct {
	Event  offload.Event
	Result bool
	Size   int
}

// Component is the asynchronous codec contract used by the Recorder.
// Buffers passed to Exec and Stop stay owned by the caller; the component
// only reads and writes them until the matching completion.
type Component interface {
	Codec() types.Codec
	Activate(cb Callback) error
	Deactivate() error
	Init(p Params) error
	Exec(in types.PcmData, out memhandle.Handle) error
	// Stop flushes the encoder into out. A null out is accepted and
	// completes with a failed result.
	Stop(out memhandle.Handle) error
	RecvDone() (Completion, error)
}

// Offloaded runs an Encoder on an offload worker.
type Offloaded struct {
	codec  types.Codec
	name   string
	enc    Encoder
	pool   *memhandle.Manager
	worker *offload.Worker[int]
}

// NewOffloaded wraps enc. name is used in worker errors.
func NewOffloaded(codec types.Codec, name string, enc Encoder, pool *memhandle.Manager) *Offloaded {
	return &Offloaded{codec: codec, name: name, enc: enc, pool: pool}
}

// Codec returns the codec type.
func (o *Offloaded) Codec() types.Codec { return o.codec }

// Name returns the variant name.
func (o *Offloaded) Name() string { return o.name }

// Activate starts the worker.
func (o *Offloaded) Activate(cb Callback) error {
	if o.worker != nil {
		return ErrActive
	}
	o.worker = offload.New[int](o.name, offload.DefaultDepth, offload.Notify(cb))
	return nil
}

// Deactivate stops the worker, discards untaken completions and closes the encoder.
func (o *Offloaded) Deactivate() error {
	if o.worker == nil {
		return ErrNotActive
	}
	o.worker.Close()
	for {
		if _, err := o.worker.RecvDone(); err != nil {
			break
		}
	}
	o.worker = nil
	return o.enc.Close()
}

// Init configures the encoder. It must not be called with requests in flight.
func (o *Offloaded) Init(p Params) error {
	if o.worker == nil {
		return ErrNotActive
	}
	if n := o.worker.Outstanding(); n > 0 {
		return fmt.Errorf("%s init with %d requests in flight", o.name, n)
	}
	return o.enc.Init(p)
}

// Exec queues one transform of in into out.
func (o *Offloaded) Exec(in types.PcmData, out memhandle.Handle) error {
	if o.worker == nil {
		return ErrNotActive
	}
	return o.worker.Submit(offload.EventExec, func() (int, error) {
		src, err := o.pool.Bytes(in.Handle)
		if err != nil {
			return 0, err
		}
		dst, err := o.pool.Bytes(out)
		if err != nil {
			return 0, err
		}
		if in.Size > len(src) {
			return 0, fmt.Errorf("input size %d exceeds segment", in.Size)
		}
		return o.enc.Encode(dst, src[:in.Size])
	})
}

// Stop queues a flush into out.
func (o *Offloaded) Stop(out memhandle.Handle) error {
	if o.worker == nil {
		return ErrNotActive
	}
	return o.worker.Submit(offload.EventStop, func() (int, error) {
		if out.IsNull() {
			return 0, ErrNoOutputBuffer
		}
		dst, err := o.pool.Bytes(out)
		if err != nil {
			return 0, err
		}
		return o.enc.Flush(dst)
	})
}

// RecvDone takes the oldest completion.
func (o *Offloaded) RecvDone() (Completion, error) {
	if o.worker == nil {
		return Completion{}, ErrNotActive
	}
	d, err := o.worker.RecvDone()
	if err != nil {
		return Completion{}, err
	}
	return Completion{Event: d.Event, Result: d.OK(), Size: d.Result}, nil
}
