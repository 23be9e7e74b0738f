package outputmix

import (
	"errors"
	"fmt"
	"sync"

	"github.com/oszuidwest/zwfm-audioplane/internal/types"
)

// ErrUnknownDevice is returned for an output device outside the routing table.
var ErrUnknownDevice = errors.New("unknown output device")

// Signal is an audio signal that can be routed through the codec datapath.
type Signal int

// SignalMixer is the output of the hardware mixer.
const SignalMixer Signal = 1

// PathSelect holds the datapath multiplexer settings.
type PathSelect struct {
	AuDatSel1 bool `json:"au_dat_sel1"`
	AuDatSel2 bool `json:"au_dat_sel2"`
	CodInSel2 bool `json:"cod_insel2"`
	CodInSel3 bool `json:"cod_insel3"`
	SRC1In    bool `json:"src1in_sel"`
	SRC2In    bool `json:"src2in_sel"`
}

// Board controls the audio output hardware.
type Board interface {
	EnableI2SIO() error
	DisableI2SIO() error
	SetSpeakerOut(on bool) error
	EnableOutput() error
	DisableOutput() error
	SetDataPath(sig Signal, sel PathSelect) error
}

func knownDevice(dev types.MixerDevice) bool {
	switch dev {
	case types.MixerA2DPSource, types.MixerHeadphone, types.MixerI2S:
		return true
	}
	return false
}

// enableDevice applies the activation side of the routing table.
func enableDevice(b Board, dev types.MixerDevice) error {
	switch dev {
	case types.MixerA2DPSource:
		return errors.Join(b.DisableI2SIO(), b.DisableOutput())
	case types.MixerHeadphone:
		return errors.Join(b.DisableI2SIO(), b.SetSpeakerOut(true), b.EnableOutput())
	case types.MixerI2S:
		if err := errors.Join(b.EnableI2SIO(), b.SetSpeakerOut(false), b.EnableOutput()); err != nil {
			return err
		}
		// Mixer output to I2S0 through SRC1.
		return b.SetDataPath(SignalMixer, PathSelect{SRC1In: true})
	default:
		return fmt.Errorf("%w: %q", ErrUnknownDevice, dev)
	}
}

// disableDevice applies the deactivation side of the routing table.
func disableDevice(b Board, dev types.MixerDevice) error {
	switch dev {
	case types.MixerA2DPSource:
		return nil
	case types.MixerHeadphone:
		return errors.Join(b.SetSpeakerOut(false), b.DisableOutput())
	case types.MixerI2S:
		return errors.Join(b.DisableI2SIO(), b.DisableOutput())
	default:
		return fmt.Errorf("%w: %q", ErrUnknownDevice, dev)
	}
}

// BoardState is a snapshot of the simulated board.
type BoardState struct {
	I2SIO      bool       `json:"i2s_io"`
	SpeakerOut bool       `json:"speaker_out"`
	Output     bool       `json:"output"`
	DataPath   PathSelect `json:"data_path"`
}

// SimBoard is an in-memory Board. It records every call and can be told to
// fail individual operations. Safe for concurrent use.
type SimBoard struct {
	mu    sync.Mutex
	state BoardState
	calls []string
	fail  map[string]error
}

// NewSimBoard creates a board with every output disabled.
func NewSimBoard() *SimBoard {
	return &SimBoard{fail: make(map[string]error)}
}

// FailOn makes op return err until cleared with a nil err.
func (b *SimBoard) FailOn(op string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		delete(b.fail, op)
		return
	}
	b.fail[op] = err
}

// State returns the current board settings.
func (b *SimBoard) State() BoardState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Calls returns the operations performed so far.
func (b *SimBoard) Calls() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.calls...)
}

func (b *SimBoard) do(op string, apply func(*BoardState)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, op)
	if err := b.fail[op]; err != nil {
		return err
	}
	apply(&b.state)
	return nil
}

func (b *SimBoard) EnableI2SIO() error {
	return b.do("en_i2s_io", func(s *BoardState) { s.I2SIO = true })
}

func (b *SimBoard) DisableI2SIO() error {
	return b.do("dis_i2s_io", func(s *BoardState) { s.I2SIO = false })
}

func (b *SimBoard) SetSpeakerOut(on bool) error {
	return b.do(fmt.Sprintf("set_spout(%t)", on), func(s *BoardState) { s.SpeakerOut = on })
}

func (b *SimBoard) EnableOutput() error {
	return b.do("en_output", func(s *BoardState) { s.Output = true })
}

func (b *SimBoard) DisableOutput() error {
	return b.do("dis_output", func(s *BoardState) { s.Output = false })
}

func (b *SimBoard) SetDataPath(_ Signal, sel PathSelect) error {
	return b.do("set_datapath", func(s *BoardState) { s.DataPath = sel })
}
