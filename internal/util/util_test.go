package util

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoff(t *testing.T) {
	t.Parallel()
	b := NewBackoff(time.Second, 5*time.Second)

	assert.Equal(t, time.Second, b.Next())
	assert.Equal(t, 2*time.Second, b.Next())
	assert.Equal(t, 4*time.Second, b.Next())
	assert.Equal(t, 5*time.Second, b.Next())
	assert.Equal(t, 5*time.Second, b.Current())

	b.Reset()
	assert.Equal(t, time.Second, b.Current())
}

func TestBackoffWait(t *testing.T) {
	t.Parallel()
	b := NewBackoff(time.Millisecond, time.Millisecond)
	require.NoError(t, b.Wait(context.Background()))

	slow := NewBackoff(time.Hour, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, slow.Wait(ctx), context.Canceled)
}

func TestResolveFFmpegPathMissing(t *testing.T) {
	t.Parallel()
	_, err := ResolveFFmpegPath(filepath.Join(t.TempDir(), "no-ffmpeg"))
	assert.ErrorIs(t, err, ErrFFmpegNotFound)
}

func TestGracefulSignalNil(t *testing.T) {
	t.Parallel()
	assert.NoError(t, GracefulSignal(nil))
}

func TestWrapError(t *testing.T) {
	t.Parallel()
	assert.NoError(t, WrapError("open file", nil))

	base := errors.New("boom")
	err := WrapError("open file", base)
	assert.EqualError(t, err, "failed to open file: boom")
	assert.ErrorIs(t, err, base)
}

func TestExtractLastError(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "Unknown encoder 'libmp3lame'", ExtractLastError("ffmpeg version 6.1\n\nUnknown encoder 'libmp3lame'\n\n"))
	assert.Empty(t, ExtractLastError("  \n"))

	long := strings.Repeat("x", maxErrorLineLength+10)
	assert.Len(t, ExtractLastError(long), maxErrorLineLength+3)
}

func TestIsConfigured(t *testing.T) {
	t.Parallel()
	assert.True(t, IsConfigured("a", "b"))
	assert.False(t, IsConfigured("a", ""))
	assert.True(t, IsConfigured())
}

func TestFormatHumanTime(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "unknown", FormatHumanTime(""))
	assert.Equal(t, "not a time", FormatHumanTime("not a time"))

	ts := "2026-03-01T12:30:00Z"
	want := time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC).Local().Format(humanTimeFormat)
	assert.Equal(t, want, FormatHumanTime(ts))
}

func TestCheckPathWritable(t *testing.T) {
	t.Parallel()
	dir := filepath.Join(t.TempDir(), "a", "b")
	require.NoError(t, CheckPathWritable(dir))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)

	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, nil, 0o600))
	assert.ErrorIs(t, CheckPathWritable(filepath.Join(file, "sub")), ErrNotWritable)
}
