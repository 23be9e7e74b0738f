package types

import "github.com/oszuidwest/zwfm-audioplane/internal/memhandle"

// Notification tells the producer of a PcmData item that it has been consumed.
type Notification struct {
	Size   int    `json:"size"`
	IsEnd  bool   `json:"is_end"`
	Result Result `json:"result"`
}

// PcmData is one buffer of audio travelling between objects.
// The holder of Handle owns it and must release it exactly once.
type PcmData struct {
	Handle     memhandle.Handle
	Size       int
	Identifier int
	Channels   int
	BitLength  int
	Samples    int
	IsEnd      bool
	Callback   func(Notification)
}

// Notify invokes the item callback if one is set.
func (p PcmData) Notify(n Notification) {
	if p.Callback != nil {
		p.Callback(n)
	}
}

// HasBuffer reports whether the item carries a memory handle.
func (p PcmData) HasBuffer() bool {
	return !p.Handle.IsNull()
}
