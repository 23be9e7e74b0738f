package archive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/oszuidwest/zwfm-audioplane/internal/eventlog"
	"github.com/oszuidwest/zwfm-audioplane/internal/sink"
	"github.com/oszuidwest/zwfm-audioplane/internal/util"
)

const readChunk = 32 * 1024

// Source is the stream the archiver drains, normally a *sink.RAM.
type Source interface {
	Next(ctx context.Context, buf []byte) (n int, end bool, err error)
	Params() sink.Params
}

// pendingUpload tracks a failed upload for retry.
type pendingUpload struct {
	rec          Recording
	firstAttempt time.Time
	retryCount   int
	lastError    string
}

// Archiver writes every stream of a Source to its own file and uploads
// finished files according to the storage mode.
type Archiver struct {
	cfg      Config
	src      Source
	uploader Uploader
	events   *eventlog.Logger
	log      *slog.Logger

	uploads chan Recording

	mu      sync.Mutex
	current string
	retries []pendingUpload

	recordings atomic.Uint64
	uploaded   atomic.Uint64
	failures   atomic.Uint64
}

// New creates an archiver. uploader may be nil in local storage mode and
// events may be nil.
func New(cfg Config, src Source, uploader Uploader, events *eventlog.Logger, logger *slog.Logger) (*Archiver, error) {
	if cfg.Dir == "" {
		return nil, ErrNoDirectory
	}
	if cfg.StorageMode == "" {
		cfg.StorageMode = StorageLocal
	}
	switch cfg.StorageMode {
	case StorageLocal:
	case StorageS3, StorageBoth:
		if uploader == nil {
			return nil, fmt.Errorf("storage mode %s: %w", cfg.StorageMode, ErrS3NotConfigured)
		}
	default:
		return nil, fmt.Errorf("unknown storage mode %q", cfg.StorageMode)
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = DefaultRetryInterval
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, util.WrapError("create archive directory", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Archiver{
		cfg:      cfg,
		src:      src,
		uploader: uploader,
		events:   events,
		log:      logger.With("component", "archive"),
		uploads:  make(chan Recording, uploadQueueSize),
	}, nil
}

// Run drains the source until ctx is done. Queued uploads are finished
// before Run returns.
func (a *Archiver) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.uploadWorker(context.WithoutCancel(gctx))
	})
	g.Go(func() error {
		defer close(a.uploads)
		return a.readLoop(gctx)
	})
	return g.Wait()
}

// Status returns the archiver counters.
func (a *Archiver) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Status{
		Current:        a.current,
		Recordings:     a.recordings.Load(),
		Uploaded:       a.uploaded.Load(),
		UploadFailures: a.failures.Load(),
		PendingRetries: len(a.retries),
	}
}

// session is the recording being written.
type session struct {
	rec    Recording
	w      fileWriter
	failed bool
}

func (a *Archiver) readLoop(ctx context.Context) error {
	buf := make([]byte, readChunk)
	var cur *session
	for {
		n, end, err := a.src.Next(ctx, buf)
		if err != nil {
			if cur != nil {
				a.finish(cur)
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return fmt.Errorf("read sink: %w", err)
		}

		if n > 0 {
			if cur == nil {
				cur = a.open()
			}
			if !cur.failed {
				if err := cur.w.Write(buf[:n]); err != nil {
					a.fail(cur, util.WrapError("write recording", err))
				}
			}
		}
		if end {
			if cur == nil {
				a.log.Debug("empty stream skipped")
				continue
			}
			a.finish(cur)
			cur = nil
		}
	}
}

func (a *Archiver) open() *session {
	p := a.src.Params()
	now := time.Now()
	id := uuid.NewString()
	name := fmt.Sprintf("rec-%s-%s.%s", now.UTC().Format("20060102-150405"), id[:8], extension(p.Codec))
	s := &session{rec: Recording{
		ID:        id,
		Path:      filepath.Join(a.cfg.Dir, name),
		Codec:     p.Codec,
		StartedAt: now,
	}}

	w, err := newFileWriter(s.rec.Path, p)
	if err != nil {
		s.failed = true
		a.log.Error("failed to open recording", "id", id, "error", err)
		a.logEvent(eventlog.RecordingError, s.rec, err.Error(), 0)
		return s
	}
	s.w = w

	a.mu.Lock()
	a.current = name
	a.mu.Unlock()
	a.log.Info("recording started", "id", id, "file", name, "codec", p.Codec)
	a.logEvent(eventlog.RecordingStarted, s.rec, "", 0)
	return s
}

func (a *Archiver) fail(s *session, err error) {
	s.failed = true
	a.log.Error("recording failed", "id", s.rec.ID, "error", err)
	a.logEvent(eventlog.RecordingError, s.rec, err.Error(), 0)
	if _, cerr := s.w.Close(); cerr != nil {
		a.log.Warn("failed to close recording", "id", s.rec.ID, "error", cerr)
	}
	a.clearCurrent()
}

func (a *Archiver) clearCurrent() {
	a.mu.Lock()
	a.current = ""
	a.mu.Unlock()
}

func (a *Archiver) finish(s *session) {
	if s.failed {
		return
	}
	a.clearCurrent()
	size, err := s.w.Close()
	if err != nil {
		s.failed = true
		a.log.Error("failed to close recording", "id", s.rec.ID, "error", err)
		a.logEvent(eventlog.RecordingError, s.rec, err.Error(), 0)
		return
	}
	s.rec.Size = size
	s.rec.EndedAt = time.Now()
	a.recordings.Add(1)
	a.log.Info("recording finished", "id", s.rec.ID, "path", s.rec.Path, "bytes", size)
	a.logEvent(eventlog.RecordingFinished, s.rec, "", 0)

	if a.cfg.StorageMode == StorageLocal {
		return
	}
	select {
	case a.uploads <- s.rec:
		a.logEvent(eventlog.UploadQueued, s.rec, "", 0)
	default:
		a.log.Warn("upload queue full, deferring", "id", s.rec.ID)
		a.addRetry(s.rec, "upload queue full")
	}
}

func (a *Archiver) uploadWorker(ctx context.Context) error {
	backoff := util.NewBackoff(a.cfg.RetryInterval, MaxRetryInterval)
	var timer *time.Timer
	var retryC <-chan time.Time
	arm := func(d time.Duration) {
		if timer == nil {
			timer = time.NewTimer(d)
		} else {
			timer.Reset(d)
		}
		retryC = timer.C
	}
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		if retryC == nil && a.pendingRetries() > 0 {
			arm(backoff.Current())
		}
		select {
		case rec, ok := <-a.uploads:
			if !ok {
				if n := a.pendingRetries(); n > 0 {
					a.log.Warn("uploads pending at shutdown", "count", n)
				}
				return nil
			}
			if err := a.upload(ctx, rec); err != nil {
				a.addRetry(rec, err.Error())
			}
		case <-retryC:
			retryC = nil
			if a.processRetries(ctx) {
				backoff.Reset()
			} else {
				backoff.Next()
			}
		}
	}
}

func (a *Archiver) upload(ctx context.Context, rec Recording) error {
	key := objectKey(a.cfg.S3.Prefix, filepath.Base(rec.Path))
	if err := a.uploader.Upload(ctx, key, rec.Path, contentType(rec.Codec)); err != nil {
		a.log.Error("upload failed", "id", rec.ID, "s3_key", key, "error", err)
		a.logEventKey(eventlog.UploadFailed, rec, key, err.Error(), 0)
		a.failures.Add(1)
		return err
	}

	a.log.Info("upload completed", "id", rec.ID, "s3_key", key)
	a.logEventKey(eventlog.UploadCompleted, rec, key, "", 0)
	a.uploaded.Add(1)

	if a.cfg.StorageMode == StorageS3 {
		if err := os.Remove(rec.Path); err != nil {
			a.log.Warn("failed to delete local file after upload", "path", rec.Path, "error", err)
		}
	}
	return nil
}

func (a *Archiver) addRetry(rec Recording, errMsg string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, p := range a.retries {
		if p.rec.Path == rec.Path {
			return
		}
	}
	a.retries = append(a.retries, pendingUpload{rec: rec, firstAttempt: time.Now(), lastError: errMsg})
}

func (a *Archiver) pendingRetries() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.retries)
}

// processRetries attempts every pending upload once. It reports whether any
// upload succeeded.
func (a *Archiver) processRetries(ctx context.Context) bool {
	a.mu.Lock()
	pending := a.retries
	a.retries = nil
	a.mu.Unlock()

	now := time.Now()
	succeeded := false
	var keep []pendingUpload
	for i := range pending {
		p := &pending[i]
		if now.Sub(p.firstAttempt) > MaxUploadRetryAge {
			a.log.Warn("upload abandoned", "id", p.rec.ID, "attempts", p.retryCount+1)
			a.logEvent(eventlog.UploadAbandoned, p.rec, p.lastError, p.retryCount)
			continue
		}
		if _, err := os.Stat(p.rec.Path); os.IsNotExist(err) {
			a.log.Warn("retry file no longer exists", "path", p.rec.Path)
			continue
		}

		p.retryCount++
		a.logEvent(eventlog.UploadRetry, p.rec, "", p.retryCount)
		if err := a.upload(ctx, p.rec); err != nil {
			p.lastError = err.Error()
			keep = append(keep, *p)
			continue
		}
		succeeded = true
	}

	a.mu.Lock()
	a.retries = append(keep, a.retries...)
	a.mu.Unlock()
	return succeeded
}

func (a *Archiver) logEvent(t eventlog.EventType, rec Recording, errMsg string, retry int) {
	a.logEventKey(t, rec, "", errMsg, retry)
}

func (a *Archiver) logEventKey(t eventlog.EventType, rec Recording, key, errMsg string, retry int) {
	if a.events == nil {
		return
	}
	err := a.events.LogRecording(t, eventlog.RecordingDetails{
		ID:          rec.ID,
		Filename:    filepath.Base(rec.Path),
		Codec:       string(rec.Codec),
		SizeBytes:   rec.Size,
		StorageMode: string(a.cfg.StorageMode),
		S3Key:       key,
		Error:       errMsg,
		RetryCount:  retry,
	})
	if err != nil {
		a.log.Warn("failed to write event", "type", t, "error", err)
	}
}
