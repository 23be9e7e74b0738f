// Package customproc provides the pre- and post-processing components that
// sit between capture and the downstream consumer.
package customproc

import (
	"errors"

	"github.com/oszuidwest/zwfm-audioplane/internal/memhandle"
	"github.com/oszuidwest/zwfm-audioplane/internal/offload"
	"github.com/oszuidwest/zwfm-audioplane/internal/types"
)

// Sentinel errors returned by components.
var (
	ErrNotActive     = errors.New("component not activated")
	ErrActive        = errors.New("component already activated")
	ErrInvalidPacket = errors.New("invalid parameter packet")
)

// Callback announces that a request finished. The result is fetched with RecvDone.
type Callback func(ev offload.Event, ok bool)

// Completion is the outcome of one Exec or Flush.
type Completion struct {
	Event  offload.Event
	Result bool
	Output types.PcmData
}

// Component is the contract shared by every processing variant.
type Component interface {
	Type() types.PreprocType
	Activate(cb Callback) error
	Deactivate() error
	Init(packet []byte) error
	Set(packet []byte) error
	// Exec takes ownership of in and out once it returns nil. out may be
	// null, in which case the component reuses the input buffer. On error
	// the caller keeps ownership.
	Exec(in types.PcmData, out memhandle.Handle) error
	// Flush takes ownership of out, which may be null, once it returns nil.
	Flush(out memhandle.Handle) error
	RecvDone() (Completion, error)
}

// New creates the component for a variant.
func New(kind types.PreprocType, pool *memhandle.Manager) (Component, error) {
	switch kind {
	case types.PreprocThrough:
		return NewThrough(pool), nil
	case types.PreprocUserCustom:
		return NewGain(pool), nil
	default:
		return nil, errors.New("unknown preproc type: " + string(kind))
	}
}

// base carries the worker lifecycle shared by the variants.
type base struct {
	name   string
	pool   *memhandle.Manager
	worker *offload.Worker[types.PcmData]
}

func (b *base) activate(cb Callback) error {
	if b.worker != nil {
		return ErrActive
	}
	b.worker = offload.New[types.PcmData](b.name, offload.DefaultDepth, offload.Notify(cb))
	return nil
}

func (b *base) deactivate() error {
	if b.worker == nil {
		return ErrNotActive
	}
	b.worker.Close()
	for {
		d, err := b.worker.RecvDone()
		if err != nil {
			break
		}
		b.releaseOutput(d.Result)
	}
	b.worker = nil
	return nil
}

func (b *base) submit(ev offload.Event, run func() (types.PcmData, error)) error {
	if b.worker == nil {
		return ErrNotActive
	}
	return b.worker.Submit(ev, run)
}

func (b *base) RecvDone() (Completion, error) {
	if b.worker == nil {
		return Completion{}, ErrNotActive
	}
	d, err := b.worker.RecvDone()
	if err != nil {
		return Completion{}, err
	}
	return Completion{Event: d.Event, Result: d.OK(), Output: d.Result}, nil
}

// releaseOutput frees a completion buffer nobody will consume.
func (b *base) releaseOutput(p types.PcmData) {
	if p.HasBuffer() {
		_ = b.pool.Release(p.Handle) //nolint:errcheck // Teardown of an already-failed path
	}
}
