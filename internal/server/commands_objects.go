package server

import (
	"github.com/oszuidwest/zwfm-audioplane/internal/object"
	"github.com/oszuidwest/zwfm-audioplane/internal/outputmix"
	"github.com/oszuidwest/zwfm-audioplane/internal/types"
)

// handleFrontEnd routes frontend/* commands. Lifecycle commands belong to
// the session; these adjust a running Front-End.
func (h *CommandHandler) handleFrontEnd(action string, cmd WSCommand, send chan<- any) {
	fe := h.pipeline.FrontEnd()
	switch action {
	case "set_mic_gain":
		var req MicGainRequest
		if !decode(cmd, send, &req) {
			return
		}
		callObject(cmd, send, func(r object.ReplyTo) error { return fe.SetMicGain(req.Gains, r) })
	case "init_preproc":
		var req PacketRequest
		if !decode(cmd, send, &req) {
			return
		}
		callObject(cmd, send, func(r object.ReplyTo) error { return fe.InitPreproc(req.Packet, r) })
	case "set_preproc":
		var req PacketRequest
		if !decode(cmd, send, &req) {
			return
		}
		callObject(cmd, send, func(r object.ReplyTo) error { return fe.SetPreproc(req.Packet, r) })
	default:
		unknownAction(cmd, send)
	}
}

// handleMixer routes mixer/* commands.
func (h *CommandHandler) handleMixer(action string, cmd WSCommand, send chan<- any) {
	m := h.pipeline.Mixer()
	switch action {
	case "activate":
		var req MixerActivateRequest
		if !decode(cmd, send, &req) {
			return
		}
		params := outputmix.ActivateParams{Device: req.Device, PostprocType: req.PostprocType}
		if params.PostprocType == "" {
			params.PostprocType = types.PreprocThrough
		}
		callObject(cmd, send, func(r object.ReplyTo) error { return m.Activate(*req.Handle, params, r) })
	case "deactivate":
		var req RendererRequest
		if !decode(cmd, send, &req) {
			return
		}
		callObject(cmd, send, func(r object.ReplyTo) error { return m.Deactivate(*req.Handle, r) })
	case "clock_recovery":
		var req ClockRecoveryRequest
		if !decode(cmd, send, &req) {
			return
		}
		params := outputmix.ClockRecoveryParams{Direction: req.Direction, Times: req.Times}
		callObject(cmd, send, func(r object.ReplyTo) error { return m.ClockRecovery(*req.Handle, params, r) })
	case "init_postproc":
		var req MixerPacketRequest
		if !decode(cmd, send, &req) {
			return
		}
		callObject(cmd, send, func(r object.ReplyTo) error { return m.InitPostproc(*req.Handle, req.Packet, r) })
	case "set_postproc":
		var req MixerPacketRequest
		if !decode(cmd, send, &req) {
			return
		}
		callObject(cmd, send, func(r object.ReplyTo) error { return m.SetPostproc(*req.Handle, req.Packet, r) })
	default:
		unknownAction(cmd, send)
	}
}
