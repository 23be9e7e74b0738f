package capture

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sync"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/oszuidwest/zwfm-audioplane/internal/types"
)

// Source fills capture buffers with interleaved little-endian PCM.
// 16-bit samples use 2 bytes, wider samples a 4-byte container.
type Source interface {
	Fill(buf []byte, p Params) (int, error)
}

// ToneSource generates a sine tone.
type ToneSource struct {
	Frequency  float64
	SampleRate int
	Amplitude  float64 // 0..1 of full scale

	mu    sync.Mutex
	phase float64
}

// Fill writes whole frames of the tone into buf.
func (s *ToneSource) Fill(buf []byte, p Params) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	width := types.BytesPerSample(p.BitLength)
	frame := width * p.Channels
	if frame == 0 || s.SampleRate == 0 {
		return 0, ErrInvalidParam
	}
	step := 2 * math.Pi * s.Frequency / float64(s.SampleRate)
	n := len(buf) / frame * frame
	for off := 0; off < n; off += frame {
		v := s.Amplitude * math.Sin(s.phase)
		s.phase = math.Mod(s.phase+step, 2*math.Pi)
		for ch := range p.Channels {
			putSample(buf[off+ch*width:], width, p.BitLength, v)
		}
	}
	return n, nil
}

// SilenceSource produces zeroed frames.
type SilenceSource struct{}

// Fill zeroes whole frames of buf.
func (SilenceSource) Fill(buf []byte, p Params) (int, error) {
	frame := types.BytesPerSample(p.BitLength) * p.Channels
	if frame == 0 {
		return 0, ErrInvalidParam
	}
	n := len(buf) / frame * frame
	clear(buf[:n])
	return n, nil
}

// putSample stores v in [-1, 1] at the given bit length in a width-byte container.
func putSample(dst []byte, width, bitLength int, v float64) {
	v = max(-1, min(1, v))
	if width == 2 {
		binary.LittleEndian.PutUint16(dst, uint16(int16(math.Round(v*math.MaxInt16))))
		return
	}
	full := float64(int64(1)<<(bitLength-1) - 1)
	binary.LittleEndian.PutUint32(dst, uint32(int32(math.Round(v*full))))
}

// WAVSource plays a WAV file in a loop.
type WAVSource struct {
	path string

	mu      sync.Mutex
	file    *os.File
	decoder *wav.Decoder
	buf     *audio.IntBuffer
}

// NewWAVSource opens a WAV file.
func NewWAVSource(path string) (*WAVSource, error) {
	s := &WAVSource{path: path}
	if err := s.rewind(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *WAVSource) rewind() error {
	if s.file != nil {
		if _, err := s.file.Seek(0, io.SeekStart); err != nil {
			return fmt.Errorf("rewind wav: %w", err)
		}
	} else {
		f, err := os.Open(s.path)
		if err != nil {
			return fmt.Errorf("open wav: %w", err)
		}
		s.file = f
	}
	d := wav.NewDecoder(s.file)
	d.ReadInfo()
	if !d.IsValidFile() {
		return fmt.Errorf("invalid wav file: %s", s.path)
	}
	if d.BitDepth != 16 && d.BitDepth != 24 && d.BitDepth != 32 {
		return fmt.Errorf("unsupported wav bit depth: %d", d.BitDepth)
	}
	s.decoder = d
	return nil
}

// Format returns the file sample rate and channel count.
func (s *WAVSource) Format() (sampleRate, channels int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int(s.decoder.SampleRate), int(s.decoder.NumChans)
}

// Fill decodes whole frames into buf, mapping file channels onto the
// requested layout and rescaling to the requested bit length.
func (s *WAVSource) Fill(buf []byte, p Params) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	width := types.BytesPerSample(p.BitLength)
	frame := width * p.Channels
	if frame == 0 {
		return 0, ErrInvalidParam
	}
	frames := len(buf) / frame
	fileChans := int(s.decoder.NumChans)
	need := frames * fileChans
	if s.buf == nil || cap(s.buf.Data) < need {
		s.buf = &audio.IntBuffer{
			Data:   make([]int, need),
			Format: &audio.Format{SampleRate: int(s.decoder.SampleRate), NumChannels: fileChans},
		}
	}
	s.buf.Data = s.buf.Data[:need]

	got, rewinds := 0, 0
	for got < need {
		chunk := &audio.IntBuffer{Data: s.buf.Data[got:need], Format: s.buf.Format}
		n, err := s.decoder.PCMBuffer(chunk)
		if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
			return 0, fmt.Errorf("decode wav: %w", err)
		}
		if n == 0 {
			if got > 0 || rewinds > 0 {
				break
			}
			rewinds++
			if err := s.rewind(); err != nil {
				return 0, err
			}
			continue
		}
		got += n
	}

	full := float64(int64(1)<<(int(s.decoder.BitDepth)-1) - 1)
	written := got / fileChans
	for f := range written {
		for ch := range p.Channels {
			src := s.buf.Data[f*fileChans+min(ch, fileChans-1)]
			putSample(buf[f*frame+ch*width:], width, p.BitLength, float64(src)/full)
		}
	}
	return written * frame, nil
}

// Close releases the file.
func (s *WAVSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return errors.New("wav source already closed")
	}
	err := s.file.Close()
	s.file = nil
	return err
}
