// Package pipeline hosts the audio objects. It owns the memory pools,
// runs every object goroutine and wires the Front-End output into the
// Recorder, with an optional monitor copy to the Output-Mixer.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/oszuidwest/zwfm-audioplane/internal/archive"
	"github.com/oszuidwest/zwfm-audioplane/internal/capture"
	"github.com/oszuidwest/zwfm-audioplane/internal/codec"
	"github.com/oszuidwest/zwfm-audioplane/internal/config"
	"github.com/oszuidwest/zwfm-audioplane/internal/eventlog"
	"github.com/oszuidwest/zwfm-audioplane/internal/frontend"
	"github.com/oszuidwest/zwfm-audioplane/internal/memhandle"
	"github.com/oszuidwest/zwfm-audioplane/internal/metrics"
	"github.com/oszuidwest/zwfm-audioplane/internal/notify"
	"github.com/oszuidwest/zwfm-audioplane/internal/object"
	"github.com/oszuidwest/zwfm-audioplane/internal/outputmix"
	"github.com/oszuidwest/zwfm-audioplane/internal/recorder"
	"github.com/oszuidwest/zwfm-audioplane/internal/sink"
	"github.com/oszuidwest/zwfm-audioplane/internal/types"
)

// Memory pool identifiers.
const (
	PoolInput  memhandle.PoolID = 1
	PoolOutput memhandle.PoolID = 2
	PoolDSP    memhandle.PoolID = 3
)

// MonitorRenderer is the mixer renderer fed by the monitor copy.
const MonitorRenderer = 0

const (
	toneFrequency = 1000.0
	toneAmplitude = 0.5
	stopTimeout   = 10 * time.Second
)

// Sentinel errors for pipeline operations.
var (
	ErrAlreadyRunning = errors.New("pipeline already running")
	ErrNotRunning     = errors.New("pipeline not running")
)

// Options wires a pipeline to its environment. Zero fields take defaults
// derived from Config.
type Options struct {
	Config     config.Snapshot
	FFmpegPath string
	// NewOpus creates the OPUS encoder; nil disables the OPUS codec.
	NewOpus func() codec.Encoder
	// Source overrides the capture source configured in Config.
	Source capture.Source
	// CapturePeriod overrides the frame period derived from the capture rate.
	CapturePeriod time.Duration
	Board         outputmix.Board
	Uploader      archive.Uploader
	Sender        notify.Sender
	Events        *eventlog.Logger
	Logger        *slog.Logger
}

// Status is a snapshot of the whole pipeline.
type Status struct {
	Running      bool             `json:"running"`
	Session      string           `json:"session,omitempty"`
	StartedAt    *time.Time       `json:"started_at,omitempty"`
	Monitoring   bool             `json:"monitoring"`
	Frames       uint64           `json:"frames"`
	EncodeErrors uint64           `json:"encode_errors"`
	FrontEnd     frontend.Status  `json:"frontend"`
	Recorder     recorder.Status  `json:"recorder"`
	Mixer        outputmix.Status `json:"mixer"`
	Sink         sink.Stats       `json:"sink"`
	Archive      archive.Status   `json:"archive"`
	Pool         memhandle.Stats  `json:"pool"`
	Notify       *NotifyStatus    `json:"notify,omitempty"`
	Config       ConfigDigest     `json:"config"`
}

// NotifyStatus reports the attention notifier.
type NotifyStatus struct {
	Dropped int `json:"dropped"`
}

// ConfigDigest echoes the active data path settings.
type ConfigDigest struct {
	Codec        types.Codec       `json:"codec"`
	SamplingRate int               `json:"sampling_rate"`
	Channels     int               `json:"channels"`
	BitLength    int               `json:"bit_length"`
	OutputDevice types.MixerDevice `json:"output_device"`
}

// Pipeline owns the pools, the objects and their collaborators.
type Pipeline struct {
	cfg config.Snapshot
	log *slog.Logger

	pool     *memhandle.Manager
	device   *capture.Device
	source   capture.Source
	frontEnd *frontend.FrontEnd
	recorder *recorder.Recorder
	mixer    *outputmix.Mixer
	players  []outputmix.Player
	ram      *sink.RAM
	archiver *archive.Archiver
	notifier *notify.AttentionNotifier
	metrics  *metrics.ObjectMetrics
	registry *prometheus.Registry

	frames       atomic.Uint64
	encodeErrors atomic.Uint64
	monitoring   atomic.Bool

	mu        sync.Mutex
	running   bool
	session   string
	startedAt time.Time
}

// New builds the pools and objects. Nothing runs until Run is called.
func New(opts Options) (*Pipeline, error) {
	cfg := opts.Config
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	pool, err := memhandle.New(
		memhandle.PoolConfig{ID: PoolInput, Size: cfg.Pools.Input.Size, NumSegs: cfg.Pools.Input.Segments},
		memhandle.PoolConfig{ID: PoolOutput, Size: cfg.Pools.Output.Size, NumSegs: cfg.Pools.Output.Segments},
		memhandle.PoolConfig{ID: PoolDSP, Size: cfg.Pools.DSP.Size, NumSegs: cfg.Pools.DSP.Segments},
	)
	if err != nil {
		return nil, fmt.Errorf("create memory pools: %w", err)
	}

	p := &Pipeline{
		cfg:      cfg,
		log:      logger.With("component", "pipeline"),
		pool:     pool,
		registry: prometheus.NewRegistry(),
	}

	if p.metrics, err = metrics.NewObjectMetrics(p.registry); err != nil {
		return nil, err
	}
	observers := object.Observers{p.metrics}
	if opts.Events != nil {
		observers = append(observers, opts.Events)
	}
	sender := opts.Sender
	if sender == nil && cfg.HasWebhook() {
		hook, err := notify.NewWebhook(cfg.Notify.Webhook)
		if err != nil {
			return nil, fmt.Errorf("create webhook: %w", err)
		}
		sender = hook
	}
	if sender != nil {
		p.notifier = notify.NewAttentionNotifier(sender, cfg.NotifyCooldown(), logger)
		observers = append(observers, p.notifier)
	}

	if p.source, err = newSource(cfg, opts.Source); err != nil {
		return nil, err
	}
	period := opts.CapturePeriod
	if period == 0 {
		rate := codec.InputRate(cfg.Recorder.ClockMode)
		period = time.Duration(cfg.FrontEnd.SamplesPerFrame) * time.Second / time.Duration(rate)
	}
	p.device = capture.NewDevice(pool, p.source, period, logger)

	p.frontEnd, err = frontend.New(frontend.Config{
		Pool:          pool,
		InputPool:     PoolInput,
		OutputPool:    PoolOutput,
		DSPPool:       PoolDSP,
		MicType:       cfg.FrontEnd.MicType,
		Capture:       p.device,
		QueueCapacity: cfg.Queues.Capacity,
		Observer:      observers,
		Logger:        logger,
	})
	if err != nil {
		return nil, err
	}

	p.ram = sink.NewRAM(pool, cfg.Recorder.SinkCapacity, logger)
	loader := codec.Loader{Pool: pool, FFmpegPath: opts.FFmpegPath, NewOpus: opts.NewOpus}
	p.recorder, err = recorder.New(recorder.Config{
		Pool:          pool,
		OutputPool:    PoolOutput,
		DSPPool:       PoolDSP,
		ClockMode:     cfg.Recorder.ClockMode,
		Sink:          p.ram,
		LoadCodec:     loader.Load,
		QueueCapacity: cfg.Queues.Capacity,
		Observer:      observers,
		Logger:        logger,
	})
	if err != nil {
		return nil, err
	}

	board := opts.Board
	if board == nil {
		board = outputmix.NewSimBoard()
	}
	var players [outputmix.RendererNum]outputmix.Player
	if cfg.Mixer.Stream != nil {
		stream := *cfg.Mixer.Stream
		if stream.FFmpegPath == "" {
			stream.FFmpegPath = opts.FFmpegPath
		}
		players[MonitorRenderer] = outputmix.NewStreamPlayer(stream, logger)
		p.players = append(p.players, players[MonitorRenderer])
	}
	p.mixer, err = outputmix.New(outputmix.Config{
		Pool:          pool,
		Board:         board,
		Players:       players,
		QueueCapacity: cfg.Queues.Capacity,
		Observer:      observers,
		Logger:        logger,
	})
	if err != nil {
		return nil, err
	}

	uploader := opts.Uploader
	if uploader == nil && cfg.Archive.StorageMode != archive.StorageLocal {
		s3cfg := cfg.Archive.S3
		if uploader, err = archive.NewS3Uploader(&s3cfg); err != nil {
			return nil, fmt.Errorf("create S3 uploader: %w", err)
		}
	}
	if p.archiver, err = archive.New(cfg.Archive, p.ram, uploader, opts.Events, logger); err != nil {
		return nil, fmt.Errorf("create archiver: %w", err)
	}

	if err := p.registry.Register(metrics.NewPoolCollector(pool, PoolInput, PoolOutput, PoolDSP)); err != nil {
		return nil, fmt.Errorf("failed to register pool metrics: %w", err)
	}
	if err := p.registry.Register(metrics.NewArchiveCollector(p.archiver.Status)); err != nil {
		return nil, fmt.Errorf("failed to register archive metrics: %w", err)
	}
	return p, nil
}

func newSource(cfg config.Snapshot, override capture.Source) (capture.Source, error) {
	if override != nil {
		return override, nil
	}
	if cfg.FrontEnd.Source != "" {
		src, err := capture.NewWAVSource(cfg.FrontEnd.Source)
		if err != nil {
			return nil, fmt.Errorf("open capture source: %w", err)
		}
		return src, nil
	}
	return &capture.ToneSource{
		Frequency:  toneFrequency,
		SampleRate: codec.InputRate(cfg.Recorder.ClockMode),
		Amplitude:  toneAmplitude,
	}, nil
}

// Run runs every object until ctx is done. A running session is stopped
// first so the last recording is finalized.
func (p *Pipeline) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	objCtx, cancelObjects := context.WithCancel(context.WithoutCancel(gctx))
	defer cancelObjects()

	g.Go(func() error { return p.frontEnd.Run(objCtx) })
	g.Go(func() error { return p.recorder.Run(objCtx) })
	g.Go(func() error { return p.mixer.Run(objCtx) })
	g.Go(func() error { return p.archiver.Run(objCtx) })
	if p.notifier != nil {
		g.Go(func() error { return p.notifier.Run(objCtx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		if p.Running() {
			stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
			if err := p.Stop(stopCtx); err != nil {
				p.log.Warn("failed to stop session on shutdown", "error", err)
			}
			cancel()
		}
		// Let the archiver drain the finalized stream before the objects go.
		p.waitSinkDrained(stopTimeout)
		cancelObjects()
		return nil
	})

	err := g.Wait()
	p.shutdown()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (p *Pipeline) waitSinkDrained(limit time.Duration) {
	deadline := time.Now().Add(limit)
	for time.Now().Before(deadline) {
		if st := p.ram.Stats(); st.Buffered == 0 && st.PendingEnds == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func (p *Pipeline) shutdown() {
	for _, pl := range p.players {
		if err := pl.Close(); err != nil {
			p.log.Warn("failed to close player", "error", err)
		}
	}
	if c, ok := p.source.(interface{ Close() error }); ok {
		if err := c.Close(); err != nil {
			p.log.Warn("failed to close capture source", "error", err)
		}
	}
}

// Start activates the objects and starts a recording session.
func (p *Pipeline) Start(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return "", ErrAlreadyRunning
	}

	cfg := p.cfg
	var undo []func(context.Context)
	rollback := func(err error) (string, error) {
		undoCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), stopTimeout)
		defer cancel()
		for i := len(undo) - 1; i >= 0; i-- {
			undo[i](undoCtx)
		}
		return "", err
	}

	if err := p.call(ctx, "activate recorder", func(r object.ReplyTo) error {
		return p.recorder.Activate(recorder.ActivateParams{OutputDevice: types.OutputRAM}, r)
	}); err != nil {
		return rollback(err)
	}
	undo = append(undo, func(ctx context.Context) {
		_ = p.call(ctx, "deactivate recorder", p.recorder.Deactivate)
	})
	if err := p.call(ctx, "init recorder", func(r object.ReplyTo) error {
		return p.recorder.Init(recorder.InitParams{
			Codec:        cfg.Recorder.Codec,
			Channels:     cfg.FrontEnd.Channels,
			BitLength:    cfg.Recorder.BitLength,
			SamplingRate: cfg.Recorder.SamplingRate,
			BitRate:      cfg.Recorder.BitRate,
			Complexity:   cfg.Recorder.Complexity,
		}, r)
	}); err != nil {
		return rollback(err)
	}
	if err := p.call(ctx, "start recorder", p.recorder.Start); err != nil {
		return rollback(err)
	}
	undo = append(undo, func(ctx context.Context) {
		p.endRecorderStream()
		_ = p.call(ctx, "stop recorder", p.recorder.Stop)
	})

	if cfg.Mixer.Monitor {
		if err := p.call(ctx, "activate monitor", func(r object.ReplyTo) error {
			return p.mixer.Activate(MonitorRenderer, outputmix.ActivateParams{
				Device:       cfg.Mixer.OutputDevice,
				PostprocType: types.PreprocThrough,
			}, r)
		}); err != nil {
			return rollback(err)
		}
		p.monitoring.Store(true)
		undo = append(undo, func(ctx context.Context) {
			p.monitoring.Store(false)
			_ = p.call(ctx, "deactivate monitor", func(r object.ReplyTo) error {
				return p.mixer.Deactivate(MonitorRenderer, r)
			})
		})
	}

	if err := p.call(ctx, "activate frontend", func(r object.ReplyTo) error {
		return p.frontEnd.Activate(frontend.ActivateParams{
			InputDevice: cfg.FrontEnd.InputDevice,
			PreprocType: cfg.FrontEnd.PreprocType,
		}, r)
	}); err != nil {
		return rollback(err)
	}
	undo = append(undo, func(ctx context.Context) {
		_ = p.call(ctx, "deactivate frontend", p.frontEnd.Deactivate)
	})
	if len(cfg.FrontEnd.MicGain) > 0 {
		if err := p.call(ctx, "set mic gain", func(r object.ReplyTo) error {
			return p.frontEnd.SetMicGain(cfg.FrontEnd.MicGain, r)
		}); err != nil {
			return rollback(err)
		}
	}
	if err := p.call(ctx, "init frontend", func(r object.ReplyTo) error {
		return p.frontEnd.Init(frontend.InitParams{
			Channels:        cfg.FrontEnd.Channels,
			BitLength:       cfg.FrontEnd.BitLength,
			SamplesPerFrame: cfg.FrontEnd.SamplesPerFrame,
			Dest:            tee{p: p},
		}, r)
	}); err != nil {
		return rollback(err)
	}
	if err := p.call(ctx, "start frontend", p.frontEnd.Start); err != nil {
		return rollback(err)
	}

	p.running = true
	p.session = uuid.NewString()
	p.startedAt = time.Now()
	p.log.Info("session started", "session", p.session, "codec", cfg.Recorder.Codec, "monitor", cfg.Mixer.Monitor)
	return p.session, nil
}

// Stop ends the session. The Front-End drains its capture, the end of
// stream travels through the Recorder and the objects are deactivated.
func (p *Pipeline) Stop(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return ErrNotRunning
	}

	var errs []error
	if err := p.call(ctx, "stop frontend", p.frontEnd.Stop); err != nil {
		// No end of stream will come from the Front-End.
		p.endRecorderStream()
		errs = append(errs, err)
	}
	errs = append(errs, p.call(ctx, "stop recorder", p.recorder.Stop))
	errs = append(errs, p.call(ctx, "deactivate frontend", p.frontEnd.Deactivate))
	errs = append(errs, p.call(ctx, "deactivate recorder", p.recorder.Deactivate))
	if p.monitoring.Swap(false) {
		errs = append(errs, p.call(ctx, "deactivate monitor", func(r object.ReplyTo) error {
			return p.mixer.Deactivate(MonitorRenderer, r)
		}))
	}

	p.log.Info("session stopped", "session", p.session, "duration", time.Since(p.startedAt).Round(time.Millisecond))
	p.running = false
	p.session = ""
	return errors.Join(errs...)
}

// endRecorderStream sends an empty end-of-stream item so an active
// Recorder drains and returns to Ready.
func (p *Pipeline) endRecorderStream() {
	end := types.PcmData{
		Channels:  p.cfg.FrontEnd.Channels,
		BitLength: p.cfg.FrontEnd.BitLength,
		IsEnd:     true,
	}
	if err := p.recorder.Send(end); err != nil {
		p.log.Warn("failed to end recorder stream", "error", err)
	}
}

// call posts one command and converts a non-OK reply into an error.
func (p *Pipeline) call(ctx context.Context, what string, post func(object.ReplyTo) error) error {
	reply, err := object.Call(ctx, post)
	if err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	if err := reply.Result.Err(); err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	return nil
}

// Running reports whether a session is active.
func (p *Pipeline) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Status returns a snapshot of every component.
func (p *Pipeline) Status() Status {
	p.mu.Lock()
	st := Status{Running: p.running, Session: p.session}
	if p.running {
		started := p.startedAt
		st.StartedAt = &started
	}
	p.mu.Unlock()

	st.Monitoring = p.monitoring.Load()
	st.Frames = p.frames.Load()
	st.EncodeErrors = p.encodeErrors.Load()
	st.FrontEnd = p.frontEnd.Status()
	st.Recorder = p.recorder.Status()
	st.Mixer = p.mixer.Status()
	st.Sink = p.ram.Stats()
	st.Archive = p.archiver.Status()
	st.Pool = p.pool.Stats()
	if p.notifier != nil {
		st.Notify = &NotifyStatus{Dropped: p.notifier.Dropped()}
	}
	st.Config = ConfigDigest{
		Codec:        p.cfg.Recorder.Codec,
		SamplingRate: p.cfg.Recorder.SamplingRate,
		Channels:     p.cfg.FrontEnd.Channels,
		BitLength:    p.cfg.FrontEnd.BitLength,
		OutputDevice: p.cfg.Mixer.OutputDevice,
	}
	return st
}

// FrontEnd returns the Front-End object.
func (p *Pipeline) FrontEnd() *frontend.FrontEnd { return p.frontEnd }

// Recorder returns the Recorder object.
func (p *Pipeline) Recorder() *recorder.Recorder { return p.recorder }

// Mixer returns the Output-Mixer object.
func (p *Pipeline) Mixer() *outputmix.Mixer { return p.mixer }

// Pool returns the memory pool manager.
func (p *Pipeline) Pool() *memhandle.Manager { return p.pool }

// Capture returns the capture device.
func (p *Pipeline) Capture() *capture.Device { return p.device }

// Registry returns the Prometheus registry holding the pipeline metrics.
func (p *Pipeline) Registry() *prometheus.Registry { return p.registry }

// tee forwards Front-End output to the Recorder and, while monitoring,
// a retained copy to the mixer.
type tee struct {
	p *Pipeline
}

func (t tee) Send(d types.PcmData) error {
	p := t.p
	if p.monitoring.Load() {
		p.sendMonitor(d)
	}
	d.Callback = p.consumed
	return p.recorder.Send(d)
}

func (p *Pipeline) sendMonitor(d types.PcmData) {
	if d.HasBuffer() {
		if err := p.pool.Retain(d.Handle); err != nil {
			p.log.Warn("failed to retain monitor frame", "error", err)
			return
		}
	}
	d.Identifier = MonitorRenderer
	d.Callback = nil
	if err := p.mixer.SendData(d); err != nil {
		p.log.Warn("failed to send monitor frame", "error", err)
		if d.HasBuffer() {
			_ = p.pool.Release(d.Handle)
		}
	}
}

// consumed runs on the Recorder goroutine for every encoded item.
func (p *Pipeline) consumed(n types.Notification) {
	if !n.Result.OK() {
		p.encodeErrors.Add(1)
		p.log.Debug("frame not encoded", "result", n.Result, "end", n.IsEnd)
		return
	}
	if n.Size > 0 {
		p.frames.Add(1)
	}
}
