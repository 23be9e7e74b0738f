package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/oszuidwest/zwfm-audioplane/internal/config"
	"github.com/oszuidwest/zwfm-audioplane/internal/metrics"
	"github.com/oszuidwest/zwfm-audioplane/internal/pipeline"
	"github.com/oszuidwest/zwfm-audioplane/internal/version"
)

const (
	defaultStatusInterval = 3 * time.Second
	shutdownTimeout       = 30 * time.Second
)

// Options configures a Server.
type Options struct {
	Config          *config.Config
	Pipeline        *pipeline.Pipeline
	Version         *version.Checker
	FFmpegAvailable bool
}

// Server serves the command API for one pipeline.
type Server struct {
	config          *config.Config
	pipeline        *pipeline.Pipeline
	version         *version.Checker
	commands        *CommandHandler
	ffmpegAvailable bool
	statusInterval  time.Duration
}

// New returns a Server for the given pipeline.
func New(opts Options) *Server {
	v := opts.Version
	if v == nil {
		v = version.NewChecker()
	}
	return &Server{
		config:          opts.Config,
		pipeline:        opts.Pipeline,
		version:         v,
		commands:        NewCommandHandler(opts.Config, opts.Pipeline),
		ffmpegAvailable: opts.FFmpegAvailable,
		statusInterval:  defaultStatusInterval,
	}
}

// StatusMessage is pushed to WebSocket clients and served by /api/status.
type StatusMessage struct {
	Type            string          `json:"type"`
	FFmpegAvailable bool            `json:"ffmpeg_available"`
	Pipeline        pipeline.Status `json:"pipeline"`
	Version         version.Info    `json:"version"`
}

func (s *Server) buildStatus() StatusMessage {
	return StatusMessage{
		Type:            "status",
		FFmpegAvailable: s.ffmpegAvailable,
		Pipeline:        s.pipeline.Status(),
		Version:         s.version.Info(),
	}
}

// Routes returns the HTTP handler with every route.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("GET /metrics", metrics.Handler(s.pipeline.Registry()))
	mux.HandleFunc("GET /api/version", s.handleVersion)

	mux.HandleFunc("GET /ws", s.apiKeyAuth(s.handleWebSocket))
	mux.HandleFunc("GET /api/status", s.apiKeyAuth(s.handleStatus))
	mux.HandleFunc("POST /api/session/start", s.apiKeyAuth(s.handleSessionStart))
	mux.HandleFunc("POST /api/session/stop", s.apiKeyAuth(s.handleSessionStop))

	return securityHeaders(mux)
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// apiKeyAuth requires the configured key in the X-API-Key header. Browsers
// cannot set headers on a WebSocket handshake, so the key query parameter
// is accepted as well.
func (s *Server) apiKeyAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		apiKey := s.config.APIKey()
		if apiKey == "" {
			http.Error(w, "API key not configured", http.StatusServiceUnavailable)
			return
		}

		provided := r.Header.Get("X-API-Key")
		if provided == "" {
			provided = r.URL.Query().Get("key")
		}
		if subtle.ConstantTimeCompare([]byte(provided), []byte(apiKey)) != 1 {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.buildStatus())
}

func (s *Server) handleVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.version.Info())
}

// handleSessionStart handles POST /api/session/start.
func (s *Server) handleSessionStart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), commandTimeout)
	defer cancel()

	session, err := s.pipeline.Start(ctx)
	switch {
	case errors.Is(err, pipeline.ErrAlreadyRunning):
		writeError(w, http.StatusConflict, err.Error())
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusOK, map[string]string{"status": "session_started", "session": session})
	}
}

// handleSessionStop handles POST /api/session/stop.
func (s *Server) handleSessionStop(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), commandTimeout)
	defer cancel()

	err := s.pipeline.Stop(ctx)
	switch {
	case errors.Is(err, pipeline.ErrNotRunning):
		writeError(w, http.StatusConflict, err.Error())
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusOK, map[string]string{"status": "session_stopped"})
	}
}

// Run serves HTTP on addr until ctx is done, then shuts down gracefully.
// Open WebSocket connections end with ctx.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting web server", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
