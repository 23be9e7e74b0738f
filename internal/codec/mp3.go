package codec

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/oszuidwest/zwfm-audioplane/internal/ffmpeg"
	"github.com/oszuidwest/zwfm-audioplane/internal/util"
)

// MP3 encodes through an FFmpeg libmp3lame subprocess. The process is
// started lazily and ends with each Flush, so every recording is a
// complete stream.
type MP3 struct {
	ffmpegPath string
	p          Params
	inited     bool

	proc     *ffmpeg.Process
	readDone chan struct{}

	mu      sync.Mutex
	pending bytes.Buffer
	readErr error
}

// NewMP3 creates an encoder that runs the FFmpeg binary at ffmpegPath.
func NewMP3(ffmpegPath string) *MP3 {
	return &MP3{ffmpegPath: ffmpegPath}
}

// Args returns the FFmpeg arguments for p.
func (e *MP3) Args(p Params) []string {
	args := ffmpeg.PCMInputArgs(p.Channels, p.InputRate, p.BitLength)
	return append(args,
		"-ar", strconv.Itoa(p.SamplingRate),
		"-c:a", "libmp3lame",
		"-b:a", strconv.Itoa(p.BitRate),
		"-f", "mp3",
		"pipe:1",
	)
}

// Init stores the parameters and ends any running stream.
func (e *MP3) Init(p Params) error {
	if e.ffmpegPath == "" {
		return errors.New("ffmpeg not found")
	}
	if err := e.Close(); err != nil {
		slog.Warn("failed to stop previous mp3 encoder", "error", err)
	}
	e.p = p
	e.inited = true
	return nil
}

func (e *MP3) start() error {
	if e.proc != nil {
		return nil
	}
	if !e.inited {
		return ErrNotActive
	}
	proc, err := ffmpeg.StartProcess(e.ffmpegPath, e.Args(e.p))
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.pending.Reset()
	e.readErr = nil
	e.mu.Unlock()

	e.proc = proc
	e.readDone = make(chan struct{})
	go e.readLoop(proc.Stdout, e.readDone)
	return nil
}

func (e *MP3) readLoop(r io.Reader, done chan<- struct{}) {
	defer close(done)
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			e.mu.Lock()
			e.pending.Write(buf[:n])
			e.mu.Unlock()
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				e.mu.Lock()
				e.readErr = err
				e.mu.Unlock()
			}
			return
		}
	}
}

// drain moves encoded bytes into dst.
func (e *MP3) drain(dst []byte) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.readErr != nil {
		return 0, fmt.Errorf("read mp3 stream: %w", e.readErr)
	}
	n, _ := e.pending.Read(dst)
	return n, nil
}

// Encode feeds src to FFmpeg and returns whatever encoded data is ready.
func (e *MP3) Encode(dst, src []byte) (int, error) {
	if err := e.start(); err != nil {
		return 0, err
	}
	if _, err := e.proc.Stdin.Write(src); err != nil {
		return 0, fmt.Errorf("write pcm to ffmpeg: %w", err)
	}
	return e.drain(dst)
}

// Flush ends the stream and returns the remaining encoded data.
func (e *MP3) Flush(dst []byte) (int, error) {
	if e.proc == nil {
		return 0, nil
	}
	proc := e.proc
	e.proc = nil

	if err := proc.Stdin.Close(); err != nil {
		slog.Warn("failed to close ffmpeg stdin", "error", err)
	}
	<-e.readDone
	waitErr := proc.Cmd.Wait()
	proc.Cancel()
	if waitErr != nil {
		return 0, fmt.Errorf("ffmpeg exited: %w", errWithStderr(waitErr, proc.Stderr))
	}

	n, err := e.drain(dst)
	if err != nil {
		return n, err
	}
	e.mu.Lock()
	left := e.pending.Len()
	e.mu.Unlock()
	if left > 0 {
		return n, fmt.Errorf("%w: %d bytes of mp3 tail dropped", ErrOutputTooSmall, left)
	}
	return n, nil
}

// Close kills a running FFmpeg process.
func (e *MP3) Close() error {
	if e.proc == nil {
		return nil
	}
	proc := e.proc
	e.proc = nil
	proc.Cancel()
	closePipe(proc.Stdin)
	<-e.readDone
	if err := proc.Cmd.Wait(); err != nil && !strings.Contains(err.Error(), "killed") {
		return err
	}
	return nil
}

// errWithStderr appends the last line FFmpeg wrote to stderr. Only valid
// after Wait returned.
func errWithStderr(err error, stderr *bytes.Buffer) error {
	if stderr == nil {
		return err
	}
	msg := util.ExtractLastError(stderr.String())
	if msg == "" {
		return err
	}
	return fmt.Errorf("%w: %s", err, msg)
}

func closePipe(c io.Closer) {
	if err := c.Close(); err != nil {
		slog.Debug("pipe close failed", "error", err)
	}
}
