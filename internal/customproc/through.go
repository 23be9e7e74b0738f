package customproc

import (
	"github.com/oszuidwest/zwfm-audioplane/internal/memhandle"
	"github.com/oszuidwest/zwfm-audioplane/internal/offload"
	"github.com/oszuidwest/zwfm-audioplane/internal/types"
)

// Through forwards the input buffer untouched.
type Through struct {
	base
}

// NewThrough creates a pass-through component.
func NewThrough(pool *memhandle.Manager) *Through {
	return &Through{base: base{name: "through", pool: pool}}
}

// Type returns PreprocThrough.
func (t *Through) Type() types.PreprocType { return types.PreprocThrough }

// Activate starts the component.
func (t *Through) Activate(cb Callback) error { return t.activate(cb) }

// Deactivate stops the component.
func (t *Through) Deactivate() error { return t.deactivate() }

// Init accepts any packet.
func (t *Through) Init([]byte) error {
	if t.worker == nil {
		return ErrNotActive
	}
	return nil
}

// Set accepts any packet.
func (t *Through) Set([]byte) error {
	if t.worker == nil {
		return ErrNotActive
	}
	return nil
}

// Exec completes with the input as output. A separate out buffer is not
// needed and is released once the request is accepted.
func (t *Through) Exec(in types.PcmData, out memhandle.Handle) error {
	if err := t.submit(offload.EventExec, func() (types.PcmData, error) {
		return in, nil
	}); err != nil {
		return err
	}
	if !out.IsNull() && out != in.Handle {
		t.releaseOutput(types.PcmData{Handle: out})
	}
	return nil
}

// Flush completes with an empty output.
func (t *Through) Flush(out memhandle.Handle) error {
	if err := t.submit(offload.EventFlush, func() (types.PcmData, error) {
		return types.PcmData{}, nil
	}); err != nil {
		return err
	}
	if !out.IsNull() {
		t.releaseOutput(types.PcmData{Handle: out})
	}
	return nil
}
