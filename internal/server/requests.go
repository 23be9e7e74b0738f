package server

import (
	"github.com/oszuidwest/zwfm-audioplane/internal/outputmix"
	"github.com/oszuidwest/zwfm-audioplane/internal/types"
)

// Request types for WebSocket commands. Semantic checks that depend on
// object state are left to the objects, which answer with a result code.

// MicGainRequest is the request body for frontend/set_mic_gain and
// settings/mic_gain.
type MicGainRequest struct {
	Gains []int `json:"gains" validate:"required,min=1,max=8,dive,gte=-7850,lte=210"`
}

// PacketRequest carries a DSP command packet, base64 encoded in JSON.
type PacketRequest struct {
	Packet []byte `json:"packet" validate:"required,max=4096"`
}

// RendererRequest addresses one mixer renderer.
type RendererRequest struct {
	Handle *int `json:"handle" validate:"required,gte=0"`
}

// MixerActivateRequest is the request body for mixer/activate.
type MixerActivateRequest struct {
	Handle       *int              `json:"handle" validate:"required,gte=0"`
	Device       types.MixerDevice `json:"device" validate:"required"`
	PostprocType types.PreprocType `json:"postproc_type" validate:"omitempty"`
}

// ClockRecoveryRequest is the request body for mixer/clock_recovery.
type ClockRecoveryRequest struct {
	Handle    *int                     `json:"handle" validate:"required,gte=0"`
	Direction outputmix.ClockDirection `json:"direction" validate:"oneof=-1 0 1"`
	Times     int                      `json:"times" validate:"gte=0"`
}

// MixerPacketRequest carries a post-processing packet for one renderer.
type MixerPacketRequest struct {
	Handle *int   `json:"handle" validate:"required,gte=0"`
	Packet []byte `json:"packet" validate:"required,max=4096"`
}

// RecorderSettingsRequest is the request body for settings/recorder.
type RecorderSettingsRequest struct {
	Codec        types.Codec     `json:"codec" validate:"required,oneof=mp3 lpcm opus"`
	SamplingRate int             `json:"sampling_rate" validate:"required,gt=0"`
	BitLength    int             `json:"bit_length" validate:"omitempty,oneof=16 24 32"`
	BitRate      int             `json:"bit_rate" validate:"gte=0"`
	Complexity   int             `json:"complexity" validate:"gte=0,lte=10"`
	ClockMode    types.ClockMode `json:"clock_mode" validate:"omitempty,oneof=normal hires"`
	SinkCapacity int             `json:"sink_capacity" validate:"omitempty,gt=0"`
}

// MixerDeviceRequest is the request body for settings/mixer_device.
type MixerDeviceRequest struct {
	Device types.MixerDevice `json:"device" validate:"required,oneof=headphone i2s a2dp_source"`
}

// WebhookUpdateRequest is the request body for settings/webhook.
type WebhookUpdateRequest struct {
	URL               string   `json:"url" validate:"omitempty,url,max=2048"`
	StationName       string   `json:"station_name" validate:"omitempty,max=100"`
	OAuthClientID     string   `json:"oauth_client_id" validate:"omitempty,max=200"`
	OAuthClientSecret string   `json:"oauth_client_secret" validate:"omitempty,max=500"`
	OAuthTokenURL     string   `json:"oauth_token_url" validate:"omitempty,url,max=2048"`
	OAuthScopes       []string `json:"oauth_scopes" validate:"omitempty,max=10"`
}

// EventsRequest is the request body for events/view.
type EventsRequest struct {
	Limit  int    `json:"limit" validate:"omitempty,gte=1,lte=500"`
	Offset int    `json:"offset" validate:"gte=0"`
	Filter string `json:"filter" validate:"omitempty,oneof=object recording"`
}
