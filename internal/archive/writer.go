package archive

import (
	"errors"
	"fmt"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/oszuidwest/zwfm-audioplane/internal/sink"
	"github.com/oszuidwest/zwfm-audioplane/internal/types"
)

// fileWriter writes one recording.
type fileWriter interface {
	Write(p []byte) error
	// Close finishes the file and returns its size.
	Close() (int64, error)
}

func newFileWriter(filePath string, p sink.Params) (fileWriter, error) {
	f, err := os.Create(filePath)
	if err != nil {
		return nil, fmt.Errorf("create recording: %w", err)
	}
	if p.Codec == types.CodecLPCM {
		return newWAVWriter(f, p), nil
	}
	return &rawWriter{f: f}, nil
}

// rawWriter stores the encoded stream as is.
type rawWriter struct {
	f *os.File
	n int64
}

func (w *rawWriter) Write(p []byte) error {
	n, err := w.f.Write(p)
	w.n += int64(n)
	return err
}

func (w *rawWriter) Close() (int64, error) {
	return w.n, w.f.Close()
}

// wavWriter wraps LPCM in a WAV container. Samples are little endian and
// 24-bit samples arrive packed in three bytes.
type wavWriter struct {
	f       *os.File
	enc     *wav.Encoder
	format  *audio.Format
	width   int
	partial []byte
	ints    []int
}

func newWAVWriter(f *os.File, p sink.Params) *wavWriter {
	width := 2
	switch p.BitLength {
	case types.BitLength24:
		width = 3
	case types.BitLength32:
		width = 4
	}
	return &wavWriter{
		f:      f,
		enc:    wav.NewEncoder(f, p.SamplingRate, p.BitLength, p.Channels, 1),
		format: &audio.Format{SampleRate: p.SamplingRate, NumChannels: p.Channels},
		width:  width,
	}
}

func (w *wavWriter) Write(p []byte) error {
	if len(w.partial) > 0 {
		p = append(w.partial, p...)
		w.partial = nil
	}
	whole := len(p) - len(p)%w.width
	if rest := p[whole:]; len(rest) > 0 {
		w.partial = append([]byte(nil), rest...)
	}
	if whole == 0 {
		return nil
	}

	w.ints = w.ints[:0]
	for off := 0; off < whole; off += w.width {
		w.ints = append(w.ints, decodeSample(p[off:off+w.width]))
	}
	return w.enc.Write(&audio.IntBuffer{
		Data:           w.ints,
		Format:         w.format,
		SourceBitDepth: w.enc.BitDepth,
	})
}

func (w *wavWriter) Close() (int64, error) {
	encErr := w.enc.Close()
	var size int64
	if info, err := w.f.Stat(); err == nil {
		size = info.Size()
	}
	return size, errors.Join(encErr, w.f.Close())
}

func decodeSample(b []byte) int {
	switch len(b) {
	case 2:
		return int(int16(uint16(b[0]) | uint16(b[1])<<8))
	case 3:
		v := int32(b[0]) | int32(b[1])<<8 | int32(b[2])<<16
		return int((v << 8) >> 8)
	default:
		return int(int32(uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24))
	}
}
