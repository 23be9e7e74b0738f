package codec

import (
	"encoding/binary"
	"fmt"
	"math"

	resampler "github.com/tphakala/go-audio-resampler"
)

// Through copies PCM unchanged.
type Through struct{}

func (Through) Init(Params) error { return nil }

func (Through) Encode(dst, src []byte) (int, error) {
	if len(dst) < len(src) {
		return 0, fmt.Errorf("%w: %d < %d", ErrOutputTooSmall, len(dst), len(src))
	}
	return copy(dst, src), nil
}

func (Through) Flush([]byte) (int, error) { return 0, nil }
func (Through) Close() error              { return nil }

// Packing converts 24-bit samples in 32-bit containers to packed 3-byte samples.
type Packing struct{}

func (Packing) Init(Params) error { return nil }

func (Packing) Encode(dst, src []byte) (int, error) {
	samples := len(src) / 4
	if len(dst) < samples*3 {
		return 0, fmt.Errorf("%w: %d < %d", ErrOutputTooSmall, len(dst), samples*3)
	}
	for i := range samples {
		copy(dst[i*3:i*3+3], src[i*4:i*4+3])
	}
	return samples * 3, nil
}

func (Packing) Flush([]byte) (int, error) { return 0, nil }
func (Packing) Close() error              { return nil }

// SampleRateConv converts the capture rate to the recording rate and the
// sample width on the way. Each channel runs its own streaming resampler, so
// consecutive calls produce a continuous stream.
type SampleRateConv struct {
	p   Params
	chs []channelResampler
	in  []float64
}

type channelResampler interface {
	Process(in []float64) ([]float64, error)
	Flush() ([]float64, error)
}

// slackFrames covers the filter tail a single call may release.
const slackFrames = 64

// Init resets the converter.
func (s *SampleRateConv) Init(p Params) error {
	if p.InputRate <= 0 || p.SamplingRate <= 0 || p.Channels <= 0 {
		return fmt.Errorf("invalid conversion %d -> %d Hz, %d channels", p.InputRate, p.SamplingRate, p.Channels)
	}
	chs := make([]channelResampler, p.Channels)
	for c := range chs {
		r, err := resampler.New(&resampler.Config{
			InputRate:  float64(p.InputRate),
			OutputRate: float64(p.SamplingRate),
			Channels:   1,
			Quality:    resampler.QualitySpec{Preset: resampler.QualityHigh},
		})
		if err != nil {
			return fmt.Errorf("create resampler %d -> %d Hz: %w", p.InputRate, p.SamplingRate, err)
		}
		chs[c] = r
	}
	s.p = p
	s.chs = chs
	return nil
}

// OutputSize returns the largest number of bytes Encode writes for n input
// bytes.
func (s *SampleRateConv) OutputSize(n int) int {
	ch := max(s.p.Channels, 1)
	frames := n / (max(s.p.InputBytes(), 1) * ch)
	out := int(math.Ceil(float64(frames)*float64(s.p.SamplingRate)/float64(max(s.p.InputRate, 1)))) + slackFrames
	return out * s.p.OutputBytes() * ch
}

// Encode resamples one block.
func (s *SampleRateConv) Encode(dst, src []byte) (int, error) {
	if s.chs == nil {
		return 0, ErrNotActive
	}
	ch := s.p.Channels
	inW := s.p.InputBytes()
	frames := len(src) / (inW * ch)
	if frames == 0 {
		return 0, nil
	}
	if need := s.OutputSize(len(src)); len(dst) < need {
		return 0, fmt.Errorf("%w: %d < %d", ErrOutputTooSmall, len(dst), need)
	}

	if cap(s.in) < frames {
		s.in = make([]float64, frames)
	}
	in := s.in[:frames]
	outs := make([][]float64, ch)
	for c := range ch {
		for i := range in {
			in[i] = readSample(src[(i*ch+c)*inW:], inW, s.p.BitLength)
		}
		out, err := s.chs[c].Process(in)
		if err != nil {
			return 0, fmt.Errorf("resample channel %d: %w", c, err)
		}
		outs[c] = out
	}
	return s.interleave(dst, outs)
}

// Flush writes the samples still held in the filters.
func (s *SampleRateConv) Flush(dst []byte) (int, error) {
	if s.chs == nil {
		return 0, nil
	}
	outs := make([][]float64, len(s.chs))
	for c, r := range s.chs {
		out, err := r.Flush()
		if err != nil {
			return 0, fmt.Errorf("flush channel %d: %w", c, err)
		}
		outs[c] = out
	}
	return s.interleave(dst, outs)
}

// Close releases the converter state.
func (s *SampleRateConv) Close() error {
	s.chs = nil
	s.in = nil
	return nil
}

func (s *SampleRateConv) interleave(dst []byte, outs [][]float64) (int, error) {
	frames := len(outs[0])
	for c, out := range outs {
		if len(out) != frames {
			return 0, fmt.Errorf("channel %d produced %d samples, channel 0 produced %d", c, len(out), frames)
		}
	}
	outW := s.p.OutputBytes()
	if need := frames * outW * len(outs); len(dst) < need {
		return 0, fmt.Errorf("%w: %d < %d", ErrOutputTooSmall, len(dst), need)
	}
	n := 0
	for i := range frames {
		for _, out := range outs {
			writeSample(dst[n:], outW, s.p.BitLength, out[i])
			n += outW
		}
	}
	return n, nil
}

// readSample returns a sample in [-1, 1). 24-bit samples are right aligned
// in 32-bit containers.
func readSample(b []byte, width, bitLength int) float64 {
	if width == 2 {
		return float64(int16(binary.LittleEndian.Uint16(b))) / 32768
	}
	v := float64(int32(binary.LittleEndian.Uint32(b)))
	if bitLength == 24 {
		return v / (1 << 23)
	}
	return v / (1 << 31)
}

func writeSample(b []byte, width, bitLength int, v float64) {
	v = max(-1, min(1, v))
	switch width {
	case 2:
		binary.LittleEndian.PutUint16(b, uint16(int16(clampRound(v*32768, math.MinInt16, math.MaxInt16))))
	case 3:
		x := int32(clampRound(v*(1<<23), -(1 << 23), (1<<23)-1))
		b[0], b[1], b[2] = byte(x), byte(x>>8), byte(x>>16)
	default:
		scale, lo, hi := float64(1<<31), float64(math.MinInt32), float64(math.MaxInt32)
		if bitLength == 24 {
			scale, lo, hi = 1<<23, -(1 << 23), (1<<23)-1
		}
		binary.LittleEndian.PutUint32(b, uint32(int32(clampRound(v*scale, lo, hi))))
	}
}

func clampRound(v, lo, hi float64) float64 {
	return max(lo, min(hi, math.Round(v)))
}
