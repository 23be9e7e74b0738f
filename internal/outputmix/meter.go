package outputmix

import (
	"encoding/binary"
	"math"
	"sync"
	"time"

	"github.com/oszuidwest/zwfm-audioplane/internal/types"
)

const (
	// MinDB is the minimum dB level (silence).
	MinDB = -60.0
	// ClipRatio is the fraction of full scale counted as a clip.
	ClipRatio = 0.9997
	// DefaultPeakHoldDuration is how long a peak is held before decaying.
	DefaultPeakHoldDuration = 3 * time.Second
)

// Levels are the per-channel levels in dBFS of one measurement period.
type Levels struct {
	RMS      []float64 `json:"rms"`
	Peak     []float64 `json:"peak"`
	HeldPeak []float64 `json:"held_peak"`
	Clips    []int     `json:"clips"`
}

// Meter accumulates rendered samples per channel. Safe for concurrent use.
type Meter struct {
	mu         sync.Mutex
	sumSquares []float64
	peak       []float64
	clips      []int
	samples    int

	held     []float64
	heldAt   []time.Time
	holdTime time.Duration
}

// NewMeter creates a meter with the default peak hold.
func NewMeter() *Meter {
	return &Meter{holdTime: DefaultPeakHoldDuration}
}

func (m *Meter) resize(channels int) {
	if len(m.sumSquares) == channels {
		return
	}
	m.sumSquares = make([]float64, channels)
	m.peak = make([]float64, channels)
	m.clips = make([]int, channels)
	m.held = make([]float64, channels)
	m.heldAt = make([]time.Time, channels)
	for i := range m.held {
		m.held[i] = MinDB
	}
	m.samples = 0
}

// Process accumulates interleaved PCM. 24-bit samples are expected right
// aligned in 32-bit containers.
func (m *Meter) Process(buf []byte, channels, bitLength int) {
	if channels <= 0 {
		return
	}
	width := types.BytesPerSample(bitLength)
	full := fullScale(bitLength)
	frame := width * channels

	m.mu.Lock()
	defer m.mu.Unlock()
	m.resize(channels)

	for off := 0; off+frame <= len(buf); off += frame {
		for ch := range channels {
			v := readSample(buf[off+ch*width:], width)
			m.sumSquares[ch] += v * v
			if a := math.Abs(v); a > m.peak[ch] {
				m.peak[ch] = a
			}
			if math.Abs(v) >= full*ClipRatio {
				m.clips[ch]++
			}
		}
		m.samples++
	}
}

// Take returns the levels accumulated since the previous call and resets
// the accumulators. bitLength selects the full-scale reference.
func (m *Meter) Take(bitLength int, now time.Time) Levels {
	full := fullScale(bitLength)

	m.mu.Lock()
	defer m.mu.Unlock()

	n := len(m.sumSquares)
	lv := Levels{
		RMS:      make([]float64, n),
		Peak:     make([]float64, n),
		HeldPeak: make([]float64, n),
		Clips:    make([]int, n),
	}
	for ch := range n {
		rms, peak := MinDB, MinDB
		if m.samples > 0 {
			rms = toDB(math.Sqrt(m.sumSquares[ch]/float64(m.samples)), full)
			peak = toDB(m.peak[ch], full)
		}
		if peak >= m.held[ch] || now.Sub(m.heldAt[ch]) > m.holdTime {
			m.held[ch] = peak
			m.heldAt[ch] = now
		}
		lv.RMS[ch], lv.Peak[ch], lv.HeldPeak[ch] = rms, peak, m.held[ch]
		lv.Clips[ch] = m.clips[ch]

		m.sumSquares[ch], m.peak[ch], m.clips[ch] = 0, 0, 0
	}
	m.samples = 0
	return lv
}

func toDB(v, full float64) float64 {
	if v <= 0 {
		return MinDB
	}
	return max(20*math.Log10(v/full), MinDB)
}

func fullScale(bitLength int) float64 {
	switch bitLength {
	case types.BitLength24:
		return 1 << 23
	case types.BitLength32:
		return 1 << 31
	default:
		return 1 << 15
	}
}

func readSample(b []byte, width int) float64 {
	if width == 2 {
		return float64(int16(binary.LittleEndian.Uint16(b)))
	}
	return float64(int32(binary.LittleEndian.Uint32(b)))
}
