package outputmix

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oszuidwest/zwfm-audioplane/internal/ffmpeg"
	"github.com/oszuidwest/zwfm-audioplane/internal/types"
	"github.com/oszuidwest/zwfm-audioplane/internal/util"
)

// Player consumes rendered PCM for one output channel.
type Player interface {
	Play(data []byte, p types.PcmData) error
	Close() error
}

// Discard drops rendered audio and counts it.
type Discard struct {
	bytes atomic.Uint64
}

// Play counts data.
func (d *Discard) Play(data []byte, _ types.PcmData) error {
	d.bytes.Add(uint64(len(data)))
	return nil
}

// Close is a no-op.
func (d *Discard) Close() error { return nil }

// Bytes returns the number of bytes played.
func (d *Discard) Bytes() uint64 { return d.bytes.Load() }

// Stream retry delays.
const (
	InitialRetryDelay = 3 * time.Second
	MaxRetryDelay     = 60 * time.Second
)

// stopGrace is how long Close waits after closing stdin and again after
// signalling the process.
const stopGrace = 3 * time.Second

// StreamConfig describes an SRT destination for rendered audio.
type StreamConfig struct {
	FFmpegPath string `json:"ffmpeg_path"`
	Host       string `json:"host"`
	Port       int    `json:"port"`
	StreamID   string `json:"stream_id"`
	Password   string `json:"password"`
	SampleRate int    `json:"sample_rate"`
	Codec      string `json:"codec"`
	Bitrate    string `json:"bitrate"`
}

// StreamPlayer pushes rendered PCM into an FFmpeg process that encodes it
// and sends it to an SRT listener. The process starts on the first frame
// and is restarted with backoff after a write failure.
type StreamPlayer struct {
	cfg StreamConfig
	log *slog.Logger

	mu        sync.Mutex
	proc      *ffmpeg.Process
	backoff   *util.Backoff
	nextStart time.Time
	retries   int
}

// NewStreamPlayer creates an idle stream player.
func NewStreamPlayer(cfg StreamConfig, logger *slog.Logger) *StreamPlayer {
	if cfg.SampleRate == 0 {
		cfg.SampleRate = types.SamplingRate48k
	}
	if cfg.Codec == "" {
		cfg.Codec = "libmp3lame"
	}
	if cfg.Bitrate == "" {
		cfg.Bitrate = "192k"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &StreamPlayer{
		cfg:     cfg,
		log:     logger.With("component", "stream_player", "host", cfg.Host, "port", cfg.Port),
		backoff: util.NewBackoff(InitialRetryDelay, MaxRetryDelay),
	}
}

// Args returns the FFmpeg arguments for a PCM layout.
func (s *StreamPlayer) Args(channels, bitLength int) []string {
	args := ffmpeg.PCMInputArgs(channels, s.cfg.SampleRate, bitLength)
	args = append(args, "-codec:a", s.cfg.Codec, "-b:a", s.cfg.Bitrate, "-f", "mpegts", s.URL())
	return args
}

// URL constructs the SRT caller URL.
func (s *StreamPlayer) URL() string {
	params := url.Values{}
	params.Set("pkt_size", "1316")
	params.Set("oheadbw", "100")
	params.Set("maxbw", "-1")
	params.Set("latency", "10000000")
	params.Set("mode", "caller")
	params.Set("transtype", "live")
	if s.cfg.StreamID != "" {
		params.Set("streamid", s.cfg.StreamID)
	}
	if s.cfg.Password != "" {
		params.Set("passphrase", s.cfg.Password)
	}
	return fmt.Sprintf("srt://%s:%d?%s", s.cfg.Host, s.cfg.Port, params.Encode())
}

// Play writes data to the FFmpeg process, starting it when needed. Frames
// arriving during a retry delay are dropped.
func (s *StreamPlayer) Play(data []byte, p types.PcmData) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.proc == nil {
		if time.Now().Before(s.nextStart) {
			return nil
		}
		proc, err := ffmpeg.StartProcess(s.cfg.FFmpegPath, s.Args(p.Channels, p.BitLength))
		if err != nil {
			s.scheduleRetry()
			return util.WrapError("start stream", err)
		}
		s.log.Info("stream started", "retries", s.retries)
		s.proc = proc
	}

	if _, err := s.proc.Stdin.Write(data); err != nil {
		s.log.Warn("stream write failed, restarting", "error", err)
		_ = s.stopLocked()
		s.scheduleRetry()
		return util.WrapError("write stream", err)
	}
	s.retries = 0
	s.backoff.Reset()
	return nil
}

func (s *StreamPlayer) scheduleRetry() {
	s.retries++
	s.nextStart = time.Now().Add(s.backoff.Next())
}

// Close stops the FFmpeg process, giving it time to flush.
func (s *StreamPlayer) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopLocked()
}

func (s *StreamPlayer) stopLocked() error {
	proc := s.proc
	if proc == nil {
		return nil
	}
	s.proc = nil

	_ = proc.Stdin.Close()
	done := make(chan error, 1)
	go func() { done <- proc.Cmd.Wait() }()

	var err error
	select {
	case err = <-done:
	case <-time.After(stopGrace):
		if sigErr := util.GracefulSignal(proc.Cmd.Process); sigErr != nil {
			s.log.Debug("failed to signal stream", "error", sigErr)
		}
		select {
		case err = <-done:
		case <-time.After(stopGrace):
			s.log.Warn("stream did not stop in time, killing")
			proc.Cancel()
			err = <-done
		}
	}
	proc.Cancel()

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) || errors.Is(err, context.Canceled) {
		s.log.Debug("stream exited", "error", err, "stderr", util.ExtractLastError(proc.Stderr.String()))
		return nil
	}
	return err
}

// Retries returns the consecutive failed start or write attempts.
func (s *StreamPlayer) Retries() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.retries
}

// Running reports whether the FFmpeg process is up.
func (s *StreamPlayer) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.proc != nil
}
