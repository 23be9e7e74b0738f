package server

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocketConn is the subset of a WebSocket connection the handlers use.
type WebSocketConn interface {
	io.Closer
	WriteJSON(v any) error
	ReadJSON(v any) error
}

var upgrader = websocket.Upgrader{
	CheckOrigin: checkOrigin,
}

// checkOrigin accepts same-origin, loopback and private network origins.
func checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	u, err := url.Parse(origin)
	if err != nil {
		slog.Warn("rejected WebSocket connection: invalid origin URL", "origin", origin)
		return false
	}
	host := u.Hostname()
	if host == "localhost" {
		return true
	}

	requestHost := r.Host
	if h, _, err := net.SplitHostPort(requestHost); err == nil {
		requestHost = h
	}
	if host == requestHost {
		return true
	}

	if ip := net.ParseIP(host); ip != nil && (ip.IsLoopback() || ip.IsPrivate()) {
		return true
	}

	slog.Warn("rejected WebSocket connection", "origin", origin, "host", host)
	return false
}

// handleWebSocket serves one command socket. The writer goroutine is the
// only one touching the connection for writes.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("WebSocket upgrade failed", "error", err)
		return
	}

	// send is never closed: async replies may still arrive after the
	// connection ends and are dropped once the buffer is full.
	send := make(chan any, 32)
	stop := make(chan struct{})
	done := make(chan struct{})
	statusUpdate := make(chan struct{}, 1)
	writerDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		runWriter(conn, send, stop)
	}()
	go s.runReader(conn, send, done, statusUpdate)

	s.runEventLoop(r.Context(), send, done, statusUpdate)
	close(stop)
	<-writerDone
	<-done
}

func runWriter(conn WebSocketConn, send <-chan any, stop <-chan struct{}) {
	defer func() {
		if err := conn.Close(); err != nil {
			slog.Debug("WebSocket close error", "error", err)
		}
	}()
	for {
		select {
		case <-stop:
			return
		case msg := <-send:
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		}
	}
}

func (s *Server) runReader(conn WebSocketConn, send chan<- any, done, statusUpdate chan<- struct{}) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in WebSocket reader", "panic", r)
		}
		close(done)
	}()

	for {
		var cmd WSCommand
		if err := conn.ReadJSON(&cmd); err != nil {
			return
		}
		s.commands.Handle(cmd, send, func() {
			select {
			case statusUpdate <- struct{}{}:
			default:
			}
		})
	}
}

// runEventLoop pushes status snapshots until the reader stops or the
// server shuts down.
func (s *Server) runEventLoop(ctx context.Context, send chan<- any, done <-chan struct{}, statusUpdate <-chan struct{}) {
	ticker := time.NewTicker(s.statusInterval)
	defer ticker.Stop()

	push := func() bool {
		select {
		case send <- s.buildStatus():
			return true
		case <-done:
			return false
		case <-ctx.Done():
			return false
		}
	}

	if !push() {
		return
	}
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-statusUpdate:
			if !push() {
				return
			}
		case <-ticker.C:
			if !push() {
				return
			}
		}
	}
}
