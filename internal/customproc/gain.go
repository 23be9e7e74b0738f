package customproc

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"sync/atomic"

	"github.com/oszuidwest/zwfm-audioplane/internal/memhandle"
	"github.com/oszuidwest/zwfm-audioplane/internal/offload"
	"github.com/oszuidwest/zwfm-audioplane/internal/types"
)

// MaxGainDB bounds the user gain in either direction.
const MaxGainDB = 48.0

// GainPacket is the Init/Set parameter packet of the gain processor.
type GainPacket struct {
	GainDB float64 `json:"gain_db"`
}

// Gain is the user-custom processor: it scales every sample by a gain set
// through Init or Set.
type Gain struct {
	base
	factor atomic.Uint64
}

// NewGain creates a unity-gain processor.
func NewGain(pool *memhandle.Manager) *Gain {
	g := &Gain{base: base{name: "gain", pool: pool}}
	g.factor.Store(math.Float64bits(1))
	return g
}

// Type returns PreprocUserCustom.
func (g *Gain) Type() types.PreprocType { return types.PreprocUserCustom }

// Activate starts the processor.
func (g *Gain) Activate(cb Callback) error { return g.activate(cb) }

// Deactivate stops the processor.
func (g *Gain) Deactivate() error { return g.deactivate() }

// Init applies the initial gain packet.
func (g *Gain) Init(packet []byte) error { return g.apply(packet) }

// Set changes the gain while running.
func (g *Gain) Set(packet []byte) error { return g.apply(packet) }

// Factor returns the current linear gain.
func (g *Gain) Factor() float64 {
	return math.Float64frombits(g.factor.Load())
}

func (g *Gain) apply(packet []byte) error {
	if g.worker == nil {
		return ErrNotActive
	}
	var p GainPacket
	if err := json.Unmarshal(packet, &p); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidPacket, err)
	}
	if math.IsNaN(p.GainDB) || math.Abs(p.GainDB) > MaxGainDB {
		return fmt.Errorf("%w: gain_db %v out of range", ErrInvalidPacket, p.GainDB)
	}
	g.factor.Store(math.Float64bits(math.Pow(10, p.GainDB/20)))
	return nil
}

// Exec scales the input into out, or in place when out is null. When a
// separate output is used the input buffer is released, so the completion
// always carries exactly one buffer.
func (g *Gain) Exec(in types.PcmData, out memhandle.Handle) error {
	factor := g.Factor()
	return g.submit(offload.EventExec, func() (types.PcmData, error) {
		result := in
		if !out.IsNull() && out != in.Handle {
			result.Handle = out
		}
		err := g.process(in, result.Handle, factor)
		if result.Handle != in.Handle {
			if rerr := g.pool.Release(in.Handle); rerr != nil && err == nil {
				err = rerr
			}
		}
		return result, err
	})
}

func (g *Gain) process(in types.PcmData, out memhandle.Handle, factor float64) error {
	src, err := g.pool.Bytes(in.Handle)
	if err != nil {
		return err
	}
	dst, err := g.pool.Bytes(out)
	if err != nil {
		return err
	}
	if len(src) < in.Size || len(dst) < in.Size {
		return fmt.Errorf("segment smaller than %d bytes", in.Size)
	}
	scale(dst[:in.Size], src[:in.Size], in.BitLength, factor)
	return nil
}

// Flush completes with an empty output carried in out.
func (g *Gain) Flush(out memhandle.Handle) error {
	return g.submit(offload.EventFlush, func() (types.PcmData, error) {
		return types.PcmData{Handle: out}, nil
	})
}

// scale writes src*factor to dst with saturation. dst may alias src.
func scale(dst, src []byte, bitLength int, factor float64) {
	if bitLength == types.BitLength16 {
		for i := 0; i+1 < len(src); i += 2 {
			v := float64(int16(binary.LittleEndian.Uint16(src[i:]))) * factor
			binary.LittleEndian.PutUint16(dst[i:], uint16(int16(clamp(v, math.MinInt16, math.MaxInt16))))
		}
		return
	}
	for i := 0; i+3 < len(src); i += 4 {
		v := float64(int32(binary.LittleEndian.Uint32(src[i:]))) * factor
		binary.LittleEndian.PutUint32(dst[i:], uint32(int32(clamp(v, math.MinInt32, math.MaxInt32))))
	}
}

func clamp(v, lo, hi float64) float64 {
	return max(lo, min(hi, math.Round(v)))
}
