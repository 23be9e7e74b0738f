// Package opus provides the OPUS encoder for the Recorder. It links libopus
// through cgo and is only imported by the binary.
package opus

import (
	"encoding/binary"
	"fmt"

	"layeh.com/gopus"

	"github.com/oszuidwest/zwfm-audioplane/internal/codec"
	"github.com/oszuidwest/zwfm-audioplane/internal/types"
)

const (
	frameMs        = 20
	maxPacketBytes = 4000
)

// Encoder encodes 16-bit PCM captured at the input rate into length-prefixed
// OPUS packets. Input is first converted to the recording rate.
type Encoder struct {
	enc       *gopus.Encoder
	src       codec.SampleRateConv
	resampled []byte
	pending   []int16
	channels  int
	frameSize int
}

// New creates an uninitialized encoder.
func New() codec.Encoder {
	return &Encoder{}
}

// Init creates the libopus encoder at the recording rate.
func (e *Encoder) Init(p codec.Params) error {
	enc, err := gopus.NewEncoder(p.SamplingRate, p.Channels, gopus.Voip)
	if err != nil {
		return fmt.Errorf("create opus encoder: %w", err)
	}
	enc.SetBitrate(p.BitRate)

	srcParams := p
	srcParams.BitLength = types.BitLength16
	if err := e.src.Init(srcParams); err != nil {
		return err
	}

	e.enc = enc
	e.channels = p.Channels
	e.frameSize = p.SamplingRate * frameMs / 1000
	e.pending = e.pending[:0]
	return nil
}

// Encode buffers src and emits every complete frame as [len uint16][packet].
func (e *Encoder) Encode(dst, src []byte) (int, error) {
	if e.enc == nil {
		return 0, codec.ErrNotActive
	}

	n, err := e.src.Encode(e.scratch(len(src)), src)
	if err != nil {
		return 0, err
	}
	e.queue(n)
	return e.emit(dst, false)
}

// Flush drains the rate converter, pads the last partial frame with silence
// and encodes it.
func (e *Encoder) Flush(dst []byte) (int, error) {
	if e.enc == nil {
		return 0, nil
	}
	n, err := e.src.Flush(e.scratch(0))
	if err != nil {
		return 0, err
	}
	e.queue(n)
	return e.emit(dst, true)
}

func (e *Encoder) scratch(srcLen int) []byte {
	need := e.src.OutputSize(srcLen)
	if cap(e.resampled) < need {
		e.resampled = make([]byte, need)
	}
	return e.resampled[:need]
}

func (e *Encoder) queue(n int) {
	for i := 0; i+1 < n; i += 2 {
		e.pending = append(e.pending, int16(binary.LittleEndian.Uint16(e.resampled[i:])))
	}
}

func (e *Encoder) emit(dst []byte, final bool) (int, error) {
	samples := e.frameSize * e.channels
	if final && len(e.pending) > 0 && len(e.pending) < samples {
		e.pending = append(e.pending, make([]int16, samples-len(e.pending))...)
	}

	off := 0
	for len(e.pending) >= samples {
		pkt, err := e.enc.Encode(e.pending[:samples], e.frameSize, maxPacketBytes)
		if err != nil {
			return off, fmt.Errorf("opus encode: %w", err)
		}
		if off+2+len(pkt) > len(dst) {
			return off, fmt.Errorf("%w: opus packet of %d bytes", codec.ErrOutputTooSmall, len(pkt))
		}
		binary.BigEndian.PutUint16(dst[off:], uint16(len(pkt)))
		copy(dst[off+2:], pkt)
		off += 2 + len(pkt)
		e.pending = e.pending[samples:]
	}
	if final {
		e.pending = e.pending[:0]
	}
	return off, nil
}

// Close drops the libopus encoder.
func (e *Encoder) Close() error {
	e.enc = nil
	e.pending = nil
	return e.src.Close()
}
