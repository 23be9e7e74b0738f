package codec

import (
	"fmt"

	"github.com/oszuidwest/zwfm-audioplane/internal/memhandle"
	"github.com/oszuidwest/zwfm-audioplane/internal/types"
)

// LoadParams are the parameters known when a codec is loaded.
type LoadParams struct {
	SamplingRate int
	BitLength    int
	ClockMode    types.ClockMode
}

// Loader creates codec components.
type Loader struct {
	Pool       *memhandle.Manager
	FFmpegPath string
	// NewOpus creates the OPUS encoder. Nil when the build has no OPUS support.
	NewOpus func() Encoder
}

// Load creates the component for codec c.
func (l Loader) Load(c types.Codec, p LoadParams) (Component, error) {
	switch c {
	case types.CodecLPCM:
		filter := SelectFilter(p.SamplingRate, p.BitLength, p.ClockMode)
		return NewOffloaded(c, "lpcm_"+filter.String(), NewFilter(filter), l.Pool), nil
	case types.CodecMP3:
		if l.FFmpegPath == "" {
			return nil, fmt.Errorf("%w: mp3 needs ffmpeg", ErrUnsupportedCodec)
		}
		return NewOffloaded(c, "mp3", NewMP3(l.FFmpegPath), l.Pool), nil
	case types.CodecOpus:
		if l.NewOpus == nil {
			return nil, fmt.Errorf("%w: opus", ErrUnsupportedCodec)
		}
		return NewOffloaded(c, "opus", l.NewOpus(), l.Pool), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedCodec, c)
	}
}

// NewFilter creates an LPCM filter.
func NewFilter(f FilterType) Encoder {
	switch f {
	case FilterSampleRateConv:
		return &SampleRateConv{}
	case FilterPacking:
		return Packing{}
	default:
		return Through{}
	}
}
