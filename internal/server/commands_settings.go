package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/oszuidwest/zwfm-audioplane/internal/archive"
	"github.com/oszuidwest/zwfm-audioplane/internal/config"
	"github.com/oszuidwest/zwfm-audioplane/internal/eventlog"
	"github.com/oszuidwest/zwfm-audioplane/internal/notify"
	"github.com/oszuidwest/zwfm-audioplane/internal/object"
	"github.com/oszuidwest/zwfm-audioplane/internal/types"
)

const defaultEventLimit = 50

// SettingsView is the configuration as shown to clients. Secrets are
// reported as configured or not.
type SettingsView struct {
	Port            int                   `json:"port"`
	LogLevel        string                `json:"log_level"`
	FrontEnd        config.FrontEndConfig `json:"frontend"`
	Recorder        config.RecorderConfig `json:"recorder"`
	OutputDevice    types.MixerDevice     `json:"output_device"`
	Monitor         bool                  `json:"monitor"`
	WebhookURL      string                `json:"webhook_url"`
	StationName     string                `json:"station_name"`
	WebhookOAuth    bool                  `json:"webhook_oauth"`
	StorageMode     archive.StorageMode   `json:"storage_mode"`
	ArchiveDir      string                `json:"archive_dir"`
	S3Bucket        string                `json:"s3_bucket,omitempty"`
	EventLogPath    string                `json:"eventlog_path"`
	RestartRequired bool                  `json:"restart_required"`
}

func newSettingsView(s *config.Snapshot) SettingsView {
	return SettingsView{
		Port:         s.System.Port,
		LogLevel:     s.System.LogLevel,
		FrontEnd:     s.FrontEnd,
		Recorder:     s.Recorder,
		OutputDevice: s.Mixer.OutputDevice,
		Monitor:      s.Mixer.Monitor,
		WebhookURL:   s.Notify.Webhook.URL,
		StationName:  s.Notify.Webhook.StationName,
		WebhookOAuth: s.Notify.Webhook.OAuth.IsConfigured(),
		StorageMode:  s.Archive.StorageMode,
		ArchiveDir:   s.Archive.Dir,
		S3Bucket:     s.Archive.S3.Bucket,
		EventLogPath: s.EventLogPath(),
	}
}

// handleSettings routes settings/* commands. Changes are saved to the
// config file; the running pipeline keeps its settings until restart,
// except the microphone gain which is applied live.
func (h *CommandHandler) handleSettings(action string, cmd WSCommand, send chan<- any) {
	switch action {
	case "get":
		snap := h.cfg.Snapshot()
		respond(send, cmd, newSettingsView(&snap), nil)
	case "mic_gain":
		h.handleMicGainSetting(cmd, send)
	case "recorder":
		handleSync(cmd, send, func(req *RecorderSettingsRequest) (any, error) {
			rc := h.recorderConfig(req)
			if fe := h.cfg.Snapshot().FrontEnd.BitLength; rc.BitLength != fe {
				return nil, fmt.Errorf("bit_length %d does not match frontend bit_length %d", rc.BitLength, fe)
			}
			return restartRequired(h.cfg.SetRecorder(rc))
		})
	case "mixer_device":
		handleSync(cmd, send, func(req *MixerDeviceRequest) (any, error) {
			return restartRequired(h.cfg.SetMixerDevice(req.Device))
		})
	case "webhook":
		handleSync(cmd, send, func(req *WebhookUpdateRequest) (any, error) {
			return restartRequired(h.cfg.SetWebhook(notify.WebhookConfig{
				URL:         req.URL,
				StationName: req.StationName,
				OAuth: notify.OAuthConfig{
					ClientID:     req.OAuthClientID,
					ClientSecret: req.OAuthClientSecret,
					TokenURL:     req.OAuthTokenURL,
					Scopes:       req.OAuthScopes,
				},
			}))
		})
	case "regenerate_key":
		key, err := config.GenerateAPIKey()
		if err == nil {
			err = h.cfg.SetAPIKey(key)
		}
		if err != nil {
			slog.Error("settings/regenerate_key: failed", "error", err)
			respond(send, cmd, nil, err)
			return
		}
		slog.Info("settings/regenerate_key: API key regenerated")
		respond(send, cmd, map[string]string{"api_key": key}, nil)
	default:
		unknownAction(cmd, send)
	}
}

func restartRequired(err error) (any, error) {
	if err != nil {
		return nil, err
	}
	return map[string]bool{"restart_required": true}, nil
}

// recorderConfig fills omitted request fields from the current settings.
func (h *CommandHandler) recorderConfig(req *RecorderSettingsRequest) config.RecorderConfig {
	cur := h.cfg.Snapshot().Recorder
	rc := config.RecorderConfig{
		Codec:        req.Codec,
		SamplingRate: req.SamplingRate,
		BitLength:    req.BitLength,
		BitRate:      req.BitRate,
		Complexity:   req.Complexity,
		ClockMode:    req.ClockMode,
		SinkCapacity: req.SinkCapacity,
	}
	if rc.BitLength == 0 {
		rc.BitLength = cur.BitLength
	}
	if rc.ClockMode == "" {
		rc.ClockMode = cur.ClockMode
	}
	if rc.SinkCapacity == 0 {
		rc.SinkCapacity = cur.SinkCapacity
	}
	return rc
}

func (h *CommandHandler) handleMicGainSetting(cmd WSCommand, send chan<- any) {
	var req MicGainRequest
	if !decode(cmd, send, &req) {
		return
	}
	if err := h.cfg.SetMicGain(req.Gains); err != nil {
		respond(send, cmd, nil, err)
		return
	}
	if !h.pipeline.Running() {
		respond(send, cmd, map[string]bool{"applied": false}, nil)
		return
	}
	handleAsync(cmd, send, func() (any, error) {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()
		reply, err := object.Call(ctx, func(r object.ReplyTo) error {
			return h.pipeline.FrontEnd().SetMicGain(req.Gains, r)
		})
		if err != nil {
			return nil, err
		}
		if err := reply.Result.Err(); err != nil {
			return nil, fmt.Errorf("saved but not applied: %w", err)
		}
		return map[string]bool{"applied": true}, nil
	})
}

// handleNotify routes notify/* commands.
func (h *CommandHandler) handleNotify(action string, cmd WSCommand, send chan<- any) {
	switch action {
	case "test":
		snap := h.cfg.Snapshot()
		handleAsync(cmd, send, func() (any, error) {
			hook, err := notify.NewWebhook(snap.Notify.Webhook)
			if err != nil {
				return nil, err
			}
			ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
			defer cancel()
			return nil, hook.SendTest(ctx)
		})
	default:
		unknownAction(cmd, send)
	}
}

// handleArchive routes archive/* commands.
func (h *CommandHandler) handleArchive(action string, cmd WSCommand, send chan<- any) {
	switch action {
	case "test_s3":
		s3cfg := h.cfg.Snapshot().Archive.S3
		handleAsync(cmd, send, func() (any, error) {
			return nil, archive.TestS3Connection(context.Background(), &s3cfg)
		})
	default:
		unknownAction(cmd, send)
	}
}

// handleEvents routes events/* commands.
func (h *CommandHandler) handleEvents(action string, cmd WSCommand, send chan<- any) {
	switch action {
	case "view":
		path := h.cfg.Snapshot().EventLogPath()
		handleSync(cmd, send, func(req *EventsRequest) (any, error) {
			limit := req.Limit
			if limit == 0 {
				limit = defaultEventLimit
			}
			events, more, err := eventlog.ReadLast(path, limit, req.Offset, eventlog.TypeFilter(req.Filter))
			if err != nil {
				return nil, fmt.Errorf("read event log: %w", err)
			}
			return map[string]any{"events": events, "has_more": more}, nil
		})
	default:
		unknownAction(cmd, send)
	}
}

var errUnknownCommand = errors.New("unknown command")
