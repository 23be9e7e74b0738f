// Package config provides application configuration management.
package config

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/oszuidwest/zwfm-audioplane/internal/archive"
	"github.com/oszuidwest/zwfm-audioplane/internal/capture"
	"github.com/oszuidwest/zwfm-audioplane/internal/eventlog"
	"github.com/oszuidwest/zwfm-audioplane/internal/notify"
	"github.com/oszuidwest/zwfm-audioplane/internal/outputmix"
	"github.com/oszuidwest/zwfm-audioplane/internal/types"
	"github.com/oszuidwest/zwfm-audioplane/internal/util"
)

// Configuration defaults are used when values are not specified.
const (
	DefaultWebPort          = 8080
	DefaultLogLevel         = "info"
	DefaultChannels         = types.ChannelStereo
	DefaultBitLength        = types.BitLength16
	DefaultSamplesPerFrame  = 768 // 16 ms at 48 kHz
	DefaultSamplingRate     = types.SamplingRate48k
	DefaultSinkCapacity     = 1 << 20
	DefaultQueueCapacity    = 8
	DefaultArchiveDir       = "recordings"
	DefaultNotifyCooldownMs = 5 * 60 * 1000
	DefaultSegmentSize      = 8192
	DefaultInputSegments    = 16
	DefaultOutputSegments   = 32
	DefaultDSPSegmentSize   = 64
	DefaultDSPSegments      = 8
)

// SystemConfig holds system-level settings that require restart.
type SystemConfig struct {
	FFmpegPath string `json:"ffmpeg_path"`                                     // Path to FFmpeg binary (empty = use PATH)
	Port       int    `json:"port" validate:"min=1,max=65535"`                 // HTTP server port
	APIKey     string `json:"api_key"`                                         // Key required for the command API
	LogLevel   string `json:"log_level" validate:"oneof=debug info warn error"` // slog level
}

// PoolConfig sizes one memory pool: Size bytes split into Segments.
type PoolConfig struct {
	Size     int `json:"size" validate:"gt=0"`
	Segments int `json:"segments" validate:"gt=0,lte=65535"`
}

// SegmentSize returns the size of one segment.
func (p PoolConfig) SegmentSize() int {
	return p.Size / p.Segments
}

// PoolsConfig holds the memory pools shared by the objects.
type PoolsConfig struct {
	Input  PoolConfig `json:"input"`  // capture buffers
	Output PoolConfig `json:"output"` // processed and encoded frames
	DSP    PoolConfig `json:"dsp"`    // DSP command packets
}

// FrontEndConfig holds capture and pre-processing settings.
type FrontEndConfig struct {
	InputDevice     types.InputDevice `json:"input_device" validate:"oneof=mic i2s"`
	MicType         types.MicType     `json:"mic_type" validate:"oneof=analog digital"`
	Source          string            `json:"source"` // WAV file to capture from; empty generates a tone
	Channels        int               `json:"channels" validate:"oneof=1 2 4 6 8"`
	BitLength       int               `json:"bit_length" validate:"oneof=16 24 32"`
	SamplesPerFrame int               `json:"samples_per_frame" validate:"gt=0"`
	PreprocType     types.PreprocType `json:"preproc_type" validate:"oneof=through user_custom"`
	MicGain         []int             `json:"mic_gain,omitempty" validate:"max=8"`
}

// RecorderConfig holds encoder settings.
type RecorderConfig struct {
	Codec        types.Codec     `json:"codec" validate:"oneof=mp3 lpcm opus"`
	SamplingRate int             `json:"sampling_rate" validate:"gt=0"`
	BitLength    int             `json:"bit_length" validate:"oneof=16 24 32"`
	BitRate      int             `json:"bit_rate" validate:"gte=0"`
	Complexity   int             `json:"complexity" validate:"gte=0,lte=10"`
	ClockMode    types.ClockMode `json:"clock_mode" validate:"oneof=normal hires"`
	SinkCapacity int             `json:"sink_capacity" validate:"gt=0"`
}

// MixerConfig holds output mixer settings.
type MixerConfig struct {
	OutputDevice types.MixerDevice       `json:"output_device" validate:"oneof=headphone i2s a2dp_source"`
	Monitor      bool                    `json:"monitor"` // copy Front-End output to renderer 0
	Stream       *outputmix.StreamConfig `json:"stream,omitempty"`
}

// QueuesConfig holds the deferred command queue capacity of every object.
type QueuesConfig struct {
	Capacity int `json:"capacity" validate:"gt=0,lte=64"`
}

// EventLogConfig holds the event log location.
type EventLogConfig struct {
	Path string `json:"path"` // empty = default per port
}

// NotifyConfig holds the attention webhook settings.
type NotifyConfig struct {
	Webhook    notify.WebhookConfig `json:"webhook"`
	CooldownMs int64                `json:"cooldown_ms" validate:"gte=0"`
}

// Config holds all application configuration. It is safe for concurrent use.
type Config struct {
	System   SystemConfig   `json:"system"`
	Pools    PoolsConfig    `json:"pools"`
	FrontEnd FrontEndConfig `json:"frontend"`
	Recorder RecorderConfig `json:"recorder"`
	Mixer    MixerConfig    `json:"mixer"`
	Queues   QueuesConfig   `json:"queues"`
	Archive  archive.Config `json:"archive"`
	EventLog EventLogConfig `json:"eventlog"`
	Notify   NotifyConfig   `json:"notify"`

	mu       sync.RWMutex
	filePath string
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// New creates a new Config with default values.
func New(filePath string) *Config {
	c := &Config{filePath: filePath}
	c.applyDefaults()
	return c
}

// Load reads config from file, creating a default if none exists.
func (c *Config) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := os.ReadFile(c.filePath)
	if errors.Is(err, os.ErrNotExist) {
		return c.saveLocked()
	}
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}

	if err := json.Unmarshal(data, c); err != nil {
		return util.WrapError("parse config", err)
	}

	c.applyDefaults()

	return c.validate()
}

// validate checks all configuration fields for correctness.
func (c *Config) validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return util.WrapError("validate config", err)
	}
	for _, g := range c.FrontEnd.MicGain {
		if g < capture.MinMicGain || g > capture.MaxMicGain {
			return fmt.Errorf("invalid config: frontend.mic_gain %d out of range %d..%d", g, capture.MinMicGain, capture.MaxMicGain)
		}
	}
	if c.Recorder.BitLength != c.FrontEnd.BitLength {
		return fmt.Errorf("invalid config: recorder.bit_length %d must match frontend.bit_length %d",
			c.Recorder.BitLength, c.FrontEnd.BitLength)
	}
	switch c.Archive.StorageMode {
	case archive.StorageLocal, archive.StorageS3, archive.StorageBoth:
	default:
		return fmt.Errorf("invalid config: unknown archive storage mode %q", c.Archive.StorageMode)
	}
	if c.Archive.StorageMode != archive.StorageLocal && !c.Archive.S3.IsConfigured() {
		return fmt.Errorf("invalid config: archive storage mode %q: %w", c.Archive.StorageMode, archive.ErrS3NotConfigured)
	}
	return nil
}

// applyDefaults sets default values for zero-value fields.
func (c *Config) applyDefaults() {
	// System defaults
	if c.System.Port == 0 {
		c.System.Port = DefaultWebPort
	}
	if c.System.LogLevel == "" {
		c.System.LogLevel = DefaultLogLevel
	}
	// Pool defaults
	poolDefault(&c.Pools.Input, DefaultSegmentSize, DefaultInputSegments)
	poolDefault(&c.Pools.Output, DefaultSegmentSize, DefaultOutputSegments)
	poolDefault(&c.Pools.DSP, DefaultDSPSegmentSize, DefaultDSPSegments)
	// Front-End defaults
	if c.FrontEnd.InputDevice == "" {
		c.FrontEnd.InputDevice = types.InputMic
	}
	if c.FrontEnd.MicType == "" {
		c.FrontEnd.MicType = types.MicAnalog
	}
	if c.FrontEnd.Channels == 0 {
		c.FrontEnd.Channels = DefaultChannels
	}
	if c.FrontEnd.BitLength == 0 {
		c.FrontEnd.BitLength = DefaultBitLength
	}
	if c.FrontEnd.SamplesPerFrame == 0 {
		c.FrontEnd.SamplesPerFrame = DefaultSamplesPerFrame
	}
	if c.FrontEnd.PreprocType == "" {
		c.FrontEnd.PreprocType = types.PreprocThrough
	}
	// Recorder defaults
	if c.Recorder.Codec == "" {
		c.Recorder.Codec = types.CodecLPCM
	}
	if c.Recorder.SamplingRate == 0 {
		c.Recorder.SamplingRate = DefaultSamplingRate
	}
	if c.Recorder.BitLength == 0 {
		c.Recorder.BitLength = c.FrontEnd.BitLength
	}
	if c.Recorder.ClockMode == "" {
		c.Recorder.ClockMode = types.ClockNormal
	}
	if c.Recorder.SinkCapacity == 0 {
		c.Recorder.SinkCapacity = DefaultSinkCapacity
	}
	// Mixer defaults
	if c.Mixer.OutputDevice == "" {
		c.Mixer.OutputDevice = types.MixerHeadphone
	}
	if c.Queues.Capacity == 0 {
		c.Queues.Capacity = DefaultQueueCapacity
	}
	// Archive defaults
	if c.Archive.Dir == "" {
		c.Archive.Dir = DefaultArchiveDir
	}
	if c.Archive.StorageMode == "" {
		c.Archive.StorageMode = archive.StorageLocal
	}
	if c.Notify.CooldownMs == 0 {
		c.Notify.CooldownMs = DefaultNotifyCooldownMs
	}
}

func poolDefault(p *PoolConfig, segSize, segs int) {
	if p.Segments == 0 {
		p.Segments = segs
	}
	if p.Size == 0 {
		p.Size = segSize * p.Segments
	}
}

// saveLocked persists configuration. Caller must hold c.mu.
func (c *Config) saveLocked() error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return util.WrapError("marshal config", err)
	}

	dir := filepath.Dir(c.filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return util.WrapError("create config directory", err)
	}

	if err := os.WriteFile(c.filePath, data, 0o600); err != nil {
		return util.WrapError("write config", err)
	}

	return nil
}

// Path returns the file the configuration is stored in.
func (c *Config) Path() string {
	return c.filePath
}

// --- Setters for individual settings ---

// APIKey returns the key required by the command API.
func (c *Config) APIKey() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.System.APIKey
}

// SetAPIKey updates the API key and saves the configuration.
func (c *Config) SetAPIKey(key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.System.APIKey = key
	return c.saveLocked()
}

// SetMicGain updates the stored microphone gains and saves the configuration.
func (c *Config) SetMicGain(gains []int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.FrontEnd.MicGain = slices.Clone(gains)
	return c.saveLocked()
}

// SetRecorder replaces the recorder settings after validating them.
func (c *Config) SetRecorder(r RecorderConfig) error {
	if err := validate.Struct(r); err != nil {
		return util.WrapError("validate recorder config", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Recorder = r
	return c.saveLocked()
}

// SetMixerDevice updates the output device and saves the configuration.
func (c *Config) SetMixerDevice(dev types.MixerDevice) error {
	if err := validate.Var(dev, "oneof=headphone i2s a2dp_source"); err != nil {
		return util.WrapError("validate output device", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Mixer.OutputDevice = dev
	return c.saveLocked()
}

// SetWebhook updates the attention webhook and saves the configuration.
func (c *Config) SetWebhook(w notify.WebhookConfig) error {
	if err := validate.Struct(w); err != nil {
		return util.WrapError("validate webhook config", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Notify.Webhook = w
	return c.saveLocked()
}

// --- Snapshot for atomic reads ---

// Snapshot is a point-in-time copy of configuration values.
type Snapshot struct {
	System   SystemConfig
	Pools    PoolsConfig
	FrontEnd FrontEndConfig
	Recorder RecorderConfig
	Mixer    MixerConfig
	Queues   QueuesConfig
	Archive  archive.Config
	EventLog EventLogConfig
	Notify   NotifyConfig
}

// Snapshot returns a point-in-time copy of all configuration values.
func (c *Config) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Snapshot{
		System:   c.System,
		Pools:    c.Pools,
		FrontEnd: c.FrontEnd,
		Recorder: c.Recorder,
		Mixer:    c.Mixer,
		Queues:   c.Queues,
		Archive:  c.Archive,
		EventLog: c.EventLog,
		Notify:   c.Notify,
	}
	s.FrontEnd.MicGain = slices.Clone(c.FrontEnd.MicGain)
	s.Notify.Webhook.OAuth.Scopes = slices.Clone(c.Notify.Webhook.OAuth.Scopes)
	if c.Mixer.Stream != nil {
		stream := *c.Mixer.Stream
		s.Mixer.Stream = &stream
	}
	return s
}

// NotifyCooldown returns the attention cooldown as a duration.
func (s *Snapshot) NotifyCooldown() time.Duration {
	return time.Duration(s.Notify.CooldownMs) * time.Millisecond
}

// HasWebhook reports whether a webhook URL is configured.
func (s *Snapshot) HasWebhook() bool {
	return s.Notify.Webhook.URL != ""
}

// EventLogPath returns the configured event log path or the default for the port.
func (s *Snapshot) EventLogPath() string {
	if s.EventLog.Path != "" {
		return s.EventLog.Path
	}
	return eventlog.DefaultLogPath(s.System.Port)
}

// --- Utility functions ---

// GenerateAPIKey generates a new random 32-character alphanumeric API key.
func GenerateAPIKey() (string, error) {
	const chars = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	const length = 32
	result := make([]byte, length)
	for i := range result {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(chars))))
		if err != nil {
			return "", err
		}
		result[i] = chars[n.Int64()]
	}
	return string(result), nil
}
