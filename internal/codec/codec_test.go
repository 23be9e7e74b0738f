package codec

import (
	"encoding/binary"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/oszuidwest/zwfm-audioplane/internal/memhandle"
	"github.com/oszuidwest/zwfm-audioplane/internal/offload"
	"github.com/oszuidwest/zwfm-audioplane/internal/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestCheckParams(t *testing.T) {
	t.Parallel()

	mp3 := func(ch, rate, br int) Params {
		return Params{Codec: types.CodecMP3, Channels: ch, BitLength: 16, SamplingRate: rate, BitRate: br}
	}
	lpcm := func(ch, bits, rate int) Params {
		return Params{Codec: types.CodecLPCM, Channels: ch, BitLength: bits, SamplingRate: rate}
	}
	opus := func(rate, br, cx int) Params {
		return Params{Codec: types.CodecOpus, Channels: 1, BitLength: 16, SamplingRate: rate, BitRate: br, Complexity: cx}
	}

	tests := []struct {
		name  string
		p     Params
		clock types.ClockMode
		want  types.Result
	}{
		{"mp3 8k stereo at 16k", mp3(2, 16000, 8000), types.ClockNormal, types.ResultCommandParamChannelNumber},
		{"mp3 8k mono at 16k", mp3(1, 16000, 8000), types.ClockNormal, types.ResultOK},
		{"mp3 144k at 16k", mp3(2, 16000, 144000), types.ClockNormal, types.ResultOK},
		{"mp3 144k at 48k", mp3(2, 48000, 144000), types.ClockNormal, types.ResultCommandParamBitRate},
		{"mp3 320k at 48k", mp3(2, 48000, 320000), types.ClockNormal, types.ResultOK},
		{"mp3 at 44.1k", mp3(2, 44100, 128000), types.ClockNormal, types.ResultCommandParamSamplingRate},
		{"mp3 4ch", mp3(4, 48000, 128000), types.ClockNormal, types.ResultCommandParamChannelNumber},
		{"mp3 24 bit", Params{Codec: types.CodecMP3, Channels: 2, BitLength: 24, SamplingRate: 48000, BitRate: 128000}, types.ClockNormal, types.ResultCommandParamBitLength},
		{"lpcm 8ch 16 bit", lpcm(8, 16, 16000), types.ClockNormal, types.ResultOK},
		{"lpcm 3ch", lpcm(3, 16, 48000), types.ClockNormal, types.ResultCommandParamChannelNumber},
		{"lpcm 24 bit at 48k normal", lpcm(2, 24, 48000), types.ClockNormal, types.ResultOK},
		{"lpcm 24 bit at 16k", lpcm(2, 24, 16000), types.ClockNormal, types.ResultCommandParamBitLength},
		{"lpcm 32 bit at 48k hires", lpcm(2, 32, 48000), types.ClockHiRes, types.ResultCommandParamBitLength},
		{"lpcm 32 bit at 192k hires", lpcm(2, 32, 192000), types.ClockHiRes, types.ResultOK},
		{"lpcm 192k normal", lpcm(2, 16, 192000), types.ClockNormal, types.ResultCommandParamSamplingRate},
		{"lpcm 8k", lpcm(2, 16, 8000), types.ClockNormal, types.ResultCommandParamSamplingRate},
		{"opus ok", opus(16000, 16000, 10), types.ClockNormal, types.ResultOK},
		{"opus complexity", opus(8000, 8000, 11), types.ClockNormal, types.ResultCommandParamComplexity},
		{"opus 48k", opus(48000, 8000, 0), types.ClockNormal, types.ResultCommandParamSamplingRate},
		{"opus bitrate", opus(8000, 24000, 0), types.ClockNormal, types.ResultCommandParamBitRate},
		{"unknown codec", Params{Codec: "aac"}, types.ClockNormal, types.ResultCommandParamCodecType},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CheckParams(tt.p, tt.clock), tt.name)
	}
}

func TestSelectFilter(t *testing.T) {
	t.Parallel()

	assert.False(t, NeedsUpsampling(48000, types.ClockNormal))
	assert.False(t, NeedsUpsampling(192000, types.ClockHiRes))
	assert.True(t, NeedsUpsampling(16000, types.ClockNormal))
	assert.True(t, NeedsUpsampling(48000, types.ClockHiRes))

	assert.Equal(t, FilterThrough, SelectFilter(48000, 16, types.ClockNormal))
	assert.Equal(t, FilterPacking, SelectFilter(48000, 24, types.ClockNormal))
	assert.Equal(t, FilterSampleRateConv, SelectFilter(16000, 16, types.ClockNormal))
}

func putInt16s(vals ...int16) []byte {
	b := make([]byte, len(vals)*2)
	for i, v := range vals {
		binary.LittleEndian.PutUint16(b[i*2:], uint16(v))
	}
	return b
}

// convert streams blocks of frames through s, flushes it and returns the
// 16-bit output samples.
func convert(t *testing.T, s *SampleRateConv, block []byte, blocks int) []int16 {
	t.Helper()
	var out []int16
	dst := make([]byte, s.OutputSize(len(block))+4096)
	collect := func(n int) {
		for i := 0; i+1 < n; i += 2 {
			out = append(out, int16(binary.LittleEndian.Uint16(dst[i:])))
		}
	}
	for range blocks {
		n, err := s.Encode(dst, block)
		require.NoError(t, err)
		collect(n)
	}
	n, err := s.Flush(dst)
	require.NoError(t, err)
	collect(n)
	return out
}

func repeat(frame []int16, n int) []byte {
	vals := make([]int16, 0, len(frame)*n)
	for range n {
		vals = append(vals, frame...)
	}
	return putInt16s(vals...)
}

func TestSampleRateConvDecimates(t *testing.T) {
	t.Parallel()

	var s SampleRateConv
	require.NoError(t, s.Init(Params{Channels: 1, BitLength: 16, InputRate: 48000, SamplingRate: 16000}))
	defer s.Close()

	out := convert(t, &s, repeat([]int16{8000}, 480), 20)
	assert.InDelta(t, 20*480/3, len(out), 160, "output follows the rate ratio")
	assert.InDelta(t, 8000, out[len(out)/2], 160, "level is kept")
}

func TestSampleRateConvInterpolates(t *testing.T) {
	t.Parallel()

	var s SampleRateConv
	require.NoError(t, s.Init(Params{Channels: 2, BitLength: 16, InputRate: 16000, SamplingRate: 32000}))
	defer s.Close()

	out := convert(t, &s, repeat([]int16{4000, -4000}, 160), 20)
	require.Zero(t, len(out)%2, "whole frames")
	frames := len(out) / 2
	assert.InDelta(t, 20*160*2, frames, 320)
	mid := frames / 2
	assert.InDelta(t, 4000, out[mid*2], 80, "left channel")
	assert.InDelta(t, -4000, out[mid*2+1], 80, "right channel")
}

func TestSampleRateConvOutputTooSmall(t *testing.T) {
	t.Parallel()

	var s SampleRateConv
	require.NoError(t, s.Init(Params{Channels: 2, BitLength: 16, InputRate: 16000, SamplingRate: 48000}))
	defer s.Close()
	_, err := s.Encode(make([]byte, 8), make([]byte, 64))
	assert.ErrorIs(t, err, ErrOutputTooSmall)
}

func TestSampleRateConvNotActive(t *testing.T) {
	t.Parallel()

	var s SampleRateConv
	_, err := s.Encode(make([]byte, 64), make([]byte, 64))
	assert.ErrorIs(t, err, ErrNotActive)
	n, err := s.Flush(make([]byte, 64))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestPacking(t *testing.T) {
	t.Parallel()

	src := make([]byte, 8)
	binary.LittleEndian.PutUint32(src[0:], uint32(int32(-2)))
	binary.LittleEndian.PutUint32(src[4:], 0x00123456)

	dst := make([]byte, 6)
	n, err := Packing{}.Encode(dst, src)
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	assert.Equal(t, []byte{0xfe, 0xff, 0xff, 0x56, 0x34, 0x12}, dst)
}

func TestOffloadedThrough(t *testing.T) {
	t.Parallel()
	pool, err := memhandle.New(memhandle.PoolConfig{ID: 0, Size: 4 * 64, NumSegs: 4})
	require.NoError(t, err)

	loader := Loader{Pool: pool}
	c, err := loader.Load(types.CodecLPCM, LoadParams{SamplingRate: 48000, BitLength: 16, ClockMode: types.ClockNormal})
	require.NoError(t, err)
	assert.Equal(t, types.CodecLPCM, c.Codec())

	events := make(chan offload.Event, 4)
	require.NoError(t, c.Activate(func(ev offload.Event, _ bool) { events <- ev }))
	require.NoError(t, c.Init(Params{Codec: types.CodecLPCM, Channels: 1, BitLength: 16, InputRate: 48000, SamplingRate: 48000}))

	in, err := pool.Alloc(0, 8)
	require.NoError(t, err)
	buf, err := pool.Bytes(in)
	require.NoError(t, err)
	copy(buf, putInt16s(1, 2, 3, 4))
	out, err := pool.Alloc(0, 64)
	require.NoError(t, err)

	require.NoError(t, c.Exec(types.PcmData{Handle: in, Size: 8, Channels: 1, BitLength: 16}, out))
	require.NoError(t, c.Stop(memhandle.Handle{}))

	for _, want := range []offload.Event{offload.EventExec, offload.EventStop} {
		select {
		case ev := <-events:
			assert.Equal(t, want, ev)
		case <-time.After(time.Second):
			t.Fatal("no completion")
		}
	}

	done, err := c.RecvDone()
	require.NoError(t, err)
	assert.True(t, done.Result)
	assert.Equal(t, 8, done.Size)
	outBuf, err := pool.Bytes(out)
	require.NoError(t, err)
	assert.Equal(t, putInt16s(1, 2, 3, 4), outBuf[:8])

	done, err = c.RecvDone()
	require.NoError(t, err)
	assert.Equal(t, offload.EventStop, done.Event)
	assert.False(t, done.Result, "stop without output buffer fails")

	require.NoError(t, c.Deactivate())
	require.NoError(t, pool.Release(in))
	require.NoError(t, pool.Release(out))
	assert.True(t, pool.Stats().Balanced())
}

func TestLoaderUnsupported(t *testing.T) {
	t.Parallel()

	_, err := Loader{}.Load(types.CodecOpus, LoadParams{})
	assert.ErrorIs(t, err, ErrUnsupportedCodec)
	_, err = Loader{}.Load(types.CodecMP3, LoadParams{})
	assert.ErrorIs(t, err, ErrUnsupportedCodec)
}

func TestMP3Args(t *testing.T) {
	t.Parallel()

	args := NewMP3("ffmpeg").Args(Params{Channels: 1, BitLength: 16, InputRate: 48000, SamplingRate: 16000, BitRate: 32000})
	assert.Contains(t, args, "libmp3lame")
	assert.Contains(t, args, "32000")
	assert.Equal(t, "pipe:1", args[len(args)-1])
}

func TestMP3Encode(t *testing.T) {
	t.Parallel()
	path, err := exec.LookPath("ffmpeg")
	if err != nil {
		t.Skip("ffmpeg not installed")
	}

	enc := NewMP3(path)
	require.NoError(t, enc.Init(Params{Channels: 1, BitLength: 16, InputRate: 48000, SamplingRate: 48000, BitRate: 64000}))

	dst := make([]byte, 64*1024)
	total := 0
	for range 10 {
		n, err := enc.Encode(dst[total:], make([]byte, 4800))
		require.NoError(t, err)
		total += n
	}
	n, err := enc.Flush(dst[total:])
	require.NoError(t, err)
	total += n
	assert.Positive(t, total)
	require.NoError(t, enc.Close())
}
