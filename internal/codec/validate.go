package codec

import (
	"slices"

	"github.com/oszuidwest/zwfm-audioplane/internal/types"
)

// MaxComplexity is the highest OPUS computational complexity.
const MaxComplexity = 10

var (
	mp3BitRates16k = []int{8000, 16000, 24000, 32000, 40000, 48000, 56000, 64000, 80000, 96000, 112000, 128000, 144000, 160000}
	mp3BitRates48k = []int{32000, 40000, 48000, 56000, 64000, 80000, 96000, 112000, 128000, 160000, 192000, 224000, 256000, 320000}
)

// CheckParams validates Recorder init parameters for the selected codec.
func CheckParams(p Params, clock types.ClockMode) types.Result {
	switch p.Codec {
	case types.CodecMP3:
		return checkMP3(p)
	case types.CodecLPCM:
		return checkLPCM(p, clock)
	case types.CodecOpus:
		return checkOpus(p)
	default:
		return types.ResultCommandParamCodecType
	}
}

func checkMP3(p Params) types.Result {
	if p.Channels != types.ChannelMono && p.Channels != types.ChannelStereo {
		return types.ResultCommandParamChannelNumber
	}
	if p.BitLength != types.BitLength16 {
		return types.ResultCommandParamBitLength
	}
	switch p.SamplingRate {
	case types.SamplingRate16k:
		if !slices.Contains(mp3BitRates16k, p.BitRate) {
			return types.ResultCommandParamBitRate
		}
		// 8 kbps at 16 kHz is mono only.
		if p.BitRate == 8000 && p.Channels == types.ChannelStereo {
			return types.ResultCommandParamChannelNumber
		}
	case types.SamplingRate48k:
		if !slices.Contains(mp3BitRates48k, p.BitRate) {
			return types.ResultCommandParamBitRate
		}
	default:
		return types.ResultCommandParamSamplingRate
	}
	return types.ResultOK
}

func checkLPCM(p Params, clock types.ClockMode) types.Result {
	switch p.Channels {
	case types.ChannelMono, types.ChannelStereo, types.Channel4ch, types.Channel6ch, types.Channel8ch:
	default:
		return types.ResultCommandParamChannelNumber
	}

	switch p.BitLength {
	case types.BitLength16:
	case types.BitLength24, types.BitLength32:
		native := (clock == types.ClockHiRes && p.SamplingRate == types.SamplingRate192k) ||
			(clock == types.ClockNormal && p.SamplingRate == types.SamplingRate48k)
		if !native {
			return types.ResultCommandParamBitLength
		}
	default:
		return types.ResultCommandParamBitLength
	}

	switch p.SamplingRate {
	case types.SamplingRate16k, types.SamplingRate48k:
	case types.SamplingRate192k:
		if clock != types.ClockHiRes {
			return types.ResultCommandParamSamplingRate
		}
	default:
		return types.ResultCommandParamSamplingRate
	}
	return types.ResultOK
}

func checkOpus(p Params) types.Result {
	if p.Channels != types.ChannelMono && p.Channels != types.ChannelStereo {
		return types.ResultCommandParamChannelNumber
	}
	if p.BitLength != types.BitLength16 {
		return types.ResultCommandParamBitLength
	}
	if p.SamplingRate != types.SamplingRate8k && p.SamplingRate != types.SamplingRate16k {
		return types.ResultCommandParamSamplingRate
	}
	if p.BitRate != 8000 && p.BitRate != 16000 {
		return types.ResultCommandParamBitRate
	}
	if p.Complexity < 0 || p.Complexity > MaxComplexity {
		return types.ResultCommandParamComplexity
	}
	return types.ResultOK
}

// InputRate is the capture rate for a clock mode.
func InputRate(clock types.ClockMode) int {
	if clock == types.ClockHiRes {
		return types.SamplingRate192k
	}
	return types.SamplingRate48k
}

// NeedsUpsampling reports whether LPCM output at rate requires sample rate
// conversion from the capture rate.
func NeedsUpsampling(rate int, clock types.ClockMode) bool {
	return rate != InputRate(clock)
}

// SelectFilter picks the LPCM filter variant.
func SelectFilter(rate, bitLength int, clock types.ClockMode) FilterType {
	if NeedsUpsampling(rate, clock) {
		return FilterSampleRateConv
	}
	if bitLength == types.BitLength24 {
		return FilterPacking
	}
	return FilterThrough
}
