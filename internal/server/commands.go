package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/oszuidwest/zwfm-audioplane/internal/config"
	"github.com/oszuidwest/zwfm-audioplane/internal/object"
	"github.com/oszuidwest/zwfm-audioplane/internal/pipeline"
)

// commandTimeout bounds how long a command waits for an object reply.
const commandTimeout = 15 * time.Second

// WSCommand is a command received from a WebSocket client.
type WSCommand struct {
	Type string          `json:"type"`
	ID   string          `json:"id,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// CommandHandler processes WebSocket commands.
type CommandHandler struct {
	cfg      *config.Config
	pipeline *pipeline.Pipeline
}

// NewCommandHandler creates a new command handler.
func NewCommandHandler(cfg *config.Config, p *pipeline.Pipeline) *CommandHandler {
	return &CommandHandler{cfg: cfg, pipeline: p}
}

// Handle routes a namespace/action command such as "session/start" or
// "mixer/clock_recovery".
func (h *CommandHandler) Handle(cmd WSCommand, send chan<- any, triggerStatusUpdate func()) {
	namespace, action, _ := strings.Cut(cmd.Type, "/")

	switch namespace {
	case "session":
		h.handleSession(action, cmd, send)
	case "frontend":
		h.handleFrontEnd(action, cmd, send)
	case "mixer":
		h.handleMixer(action, cmd, send)
	case "settings":
		h.handleSettings(action, cmd, send)
	case "notify":
		h.handleNotify(action, cmd, send)
	case "archive":
		h.handleArchive(action, cmd, send)
	case "events":
		h.handleEvents(action, cmd, send)
	case "status":
		// Status follows every command; nothing else to do.
	default:
		slog.Warn("unknown WebSocket command", "type", cmd.Type)
		respond(send, cmd, nil, errUnknownCommand)
		return
	}

	triggerStatusUpdate()
}

func (h *CommandHandler) handleSession(action string, cmd WSCommand, send chan<- any) {
	switch action {
	case "start":
		handleAsync(cmd, send, func() (any, error) {
			ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
			defer cancel()
			session, err := h.pipeline.Start(ctx)
			if err != nil {
				return nil, err
			}
			return map[string]string{"session": session}, nil
		})
	case "stop":
		handleAsync(cmd, send, func() (any, error) {
			ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
			defer cancel()
			return nil, h.pipeline.Stop(ctx)
		})
	default:
		unknownAction(cmd, send)
	}
}

// callObject posts one object command off the reader goroutine and
// forwards the reply.
func callObject(cmd WSCommand, send chan<- any, post func(object.ReplyTo) error) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()
		reply, err := object.Call(ctx, post)
		if err != nil {
			respond(send, cmd, nil, err)
			return
		}
		respondReply(send, cmd, reply)
	}()
}

func unknownAction(cmd WSCommand, send chan<- any) {
	slog.Warn("unknown WebSocket action", "type", cmd.Type)
	respond(send, cmd, nil, errUnknownCommand)
}
