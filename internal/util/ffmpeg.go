package util

import (
	"errors"
	"os/exec"
	"strings"
)

// ErrFFmpegNotFound is returned by ResolveFFmpegPath.
var ErrFFmpegNotFound = errors.New("ffmpeg not found")

// maxErrorLineLength caps the stderr line kept in error messages.
const maxErrorLineLength = 200

// ResolveFFmpegPath returns the FFmpeg binary to run: the configured path
// when it is executable, otherwise "ffmpeg" from PATH.
func ResolveFFmpegPath(configured string) (string, error) {
	name := configured
	if name == "" {
		name = "ffmpeg"
	}
	path, err := exec.LookPath(name)
	if err != nil {
		return "", errors.Join(ErrFFmpegNotFound, err)
	}
	return path, nil
}

// ExtractLastError returns the last non-blank line of FFmpeg stderr,
// which is where it reports the reason it exited.
func ExtractLastError(stderr string) string {
	lines := strings.Split(strings.TrimSpace(stderr), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		if len(line) > maxErrorLineLength {
			return line[:maxErrorLineLength] + "..."
		}
		return line
	}
	return ""
}
