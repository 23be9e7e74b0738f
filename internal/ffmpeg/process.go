// Package ffmpeg provides shared FFmpeg process management utilities.
package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"regexp"
	"strconv"

	"golang.org/x/mod/semver"
)

// MinVersion is the oldest FFmpeg release the MP3 encoder is tested with.
const MinVersion = "v4.0.0"

// ErrUnsupportedVersion is returned when the FFmpeg binary is older than MinVersion.
var ErrUnsupportedVersion = errors.New("unsupported ffmpeg version")

// Process represents a running FFmpeg subprocess.
type Process struct {
	Cmd    *exec.Cmd
	Cancel context.CancelFunc
	Stdin  io.WriteCloser
	Stdout io.ReadCloser
	Stderr *bytes.Buffer
}

// PCMInputArgs returns FFmpeg arguments for signed little-endian PCM on stdin.
func PCMInputArgs(channels, sampleRate, bitLength int) []string {
	format := "s16le"
	if bitLength != 16 {
		format = "s32le"
	}
	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-f", format,
		"-ar", strconv.Itoa(sampleRate),
		"-ac", strconv.Itoa(channels),
		"-i", "pipe:0",
	}
}

// StartProcess launches an FFmpeg subprocess with stdin and stdout pipes.
func StartProcess(ffmpegPath string, args []string) (*Process, error) {
	ctx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(ctx, ffmpegPath, args...)

	stdinPipe, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create stdin pipe: %w", err)
	}
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		closePipe(stdinPipe)
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		cancel()
		closePipe(stdinPipe)
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}

	return &Process{
		Cmd:    cmd,
		Cancel: cancel,
		Stdin:  stdinPipe,
		Stdout: stdoutPipe,
		Stderr: &stderr,
	}, nil
}

func closePipe(c io.Closer) {
	if err := c.Close(); err != nil {
		slog.Warn("failed to close stdin pipe", "error", err)
	}
}

var versionPattern = regexp.MustCompile(`ffmpeg version n?(\d+)\.(\d+)(?:\.(\d+))?`)

// ParseVersion extracts a semantic version from `ffmpeg -version` output.
// Git builds without a release number yield an empty string.
func ParseVersion(output string) string {
	m := versionPattern.FindStringSubmatch(output)
	if m == nil {
		return ""
	}
	patch := m[3]
	if patch == "" {
		patch = "0"
	}
	v := fmt.Sprintf("v%s.%s.%s", m[1], m[2], patch)
	if !semver.IsValid(v) {
		return ""
	}
	return v
}

// CheckVersion runs `ffmpeg -version` and verifies it is at least MinVersion.
// Builds that do not report a release number are accepted.
func CheckVersion(ctx context.Context, ffmpegPath string) (string, error) {
	out, err := exec.CommandContext(ctx, ffmpegPath, "-version").Output()
	if err != nil {
		return "", fmt.Errorf("run ffmpeg -version: %w", err)
	}
	v := ParseVersion(string(out))
	if v == "" {
		return "", nil
	}
	if semver.Compare(v, MinVersion) < 0 {
		return v, fmt.Errorf("%w: %s < %s", ErrUnsupportedVersion, v, MinVersion)
	}
	return v, nil
}
