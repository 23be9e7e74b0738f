// Package main runs the audio object control plane: the Front-End,
// Recorder and Output-Mixer objects behind an HTTP and WebSocket API.
//
// Usage:
//
//	audioplane [-config path/to/config.json]
//
// If -config is not specified, config.json next to the binary is used.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/oszuidwest/zwfm-audioplane/internal/codec/opus"
	"github.com/oszuidwest/zwfm-audioplane/internal/config"
	"github.com/oszuidwest/zwfm-audioplane/internal/eventlog"
	"github.com/oszuidwest/zwfm-audioplane/internal/ffmpeg"
	"github.com/oszuidwest/zwfm-audioplane/internal/pipeline"
	"github.com/oszuidwest/zwfm-audioplane/internal/server"
	"github.com/oszuidwest/zwfm-audioplane/internal/util"
	"github.com/oszuidwest/zwfm-audioplane/internal/version"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (default: config.json next to binary)")
	showVersion := flag.Bool("version", false, "Print version information and exit")
	autostart := flag.Bool("start", false, "Start a recording session at startup")
	flag.Parse()

	if *showVersion {
		fmt.Printf("audioplane %s (commit %s, built %s)\n", version.Version, version.Commit, version.BuildTime)
		return
	}

	if err := run(*configPath, *autostart); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func run(configPath string, autostart bool) error {
	if configPath == "" {
		execPath, err := os.Executable()
		if err != nil {
			return util.WrapError("get executable path", err)
		}
		configPath = filepath.Join(filepath.Dir(execPath), "config.json")
	}
	slog.Info("using config file", "path", configPath)

	cfg := config.New(configPath)
	if err := cfg.Load(); err != nil {
		return util.WrapError("load config", err)
	}
	snap := cfg.Snapshot()
	setLogLevel(snap.System.LogLevel)

	if cfg.APIKey() == "" {
		key, err := config.GenerateAPIKey()
		if err != nil {
			return util.WrapError("generate API key", err)
		}
		if err := cfg.SetAPIKey(key); err != nil {
			return util.WrapError("save API key", err)
		}
		slog.Info("generated API key", "path", cfg.Path())
	}

	ctx, stop := signal.NotifyContext(context.Background(), util.ShutdownSignals()...)
	defer stop()

	ffmpegPath := resolveFFmpeg(ctx, snap.System.FFmpegPath)

	if err := util.CheckPathWritable(snap.Archive.Dir); err != nil {
		return fmt.Errorf("archive directory %s: %w", snap.Archive.Dir, err)
	}

	events, err := eventlog.NewLogger(snap.EventLogPath())
	if err != nil {
		return util.WrapError("open event log", err)
	}
	defer func() {
		if err := events.Close(); err != nil {
			slog.Warn("failed to close event log", "error", err)
		}
	}()

	p, err := pipeline.New(pipeline.Options{
		Config:     snap,
		FFmpegPath: ffmpegPath,
		NewOpus:    opus.New,
		Events:     events,
	})
	if err != nil {
		return util.WrapError("create pipeline", err)
	}

	checker := version.NewChecker()
	srv := server.New(server.Options{
		Config:          cfg,
		Pipeline:        p,
		Version:         checker,
		FFmpegAvailable: ffmpegPath != "",
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return p.Run(gctx) })
	g.Go(func() error { return checker.Run(gctx) })
	g.Go(func() error { return srv.Run(gctx, fmt.Sprintf(":%d", snap.System.Port)) })
	if autostart {
		g.Go(func() error {
			startCtx, cancel := context.WithTimeout(gctx, 15*time.Second)
			defer cancel()
			if _, err := p.Start(startCtx); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("failed to start session", "error", err)
			}
			return nil
		})
	}

	err = g.Wait()
	slog.Info("shutdown complete")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// resolveFFmpeg returns the FFmpeg binary, or "" when the MP3 encoder and
// streaming output must run without it.
func resolveFFmpeg(ctx context.Context, configured string) string {
	path, err := util.ResolveFFmpegPath(configured)
	if err != nil {
		slog.Warn("FFmpeg not found - MP3 recording and streaming disabled", "configured_path", configured, "error", err)
		return ""
	}

	checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	v, err := ffmpeg.CheckVersion(checkCtx, path)
	if err != nil {
		slog.Warn("FFmpeg unusable - MP3 recording and streaming disabled", "path", path, "error", err)
		return ""
	}
	slog.Info("FFmpeg found", "path", path, "version", v)
	return path
}

func setLogLevel(level string) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		slog.Warn("invalid log level, using info", "level", level)
		return
	}
	slog.SetLogLoggerLevel(l)
}
