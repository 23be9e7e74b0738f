// Package server provides the HTTP API and the WebSocket command socket.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/oszuidwest/zwfm-audioplane/internal/types"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Field errors carry the JSON name the client sent.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return fld.Name
		}
		return name
	})
	return v
}

// Response answers one WSCommand. ID echoes the command ID so clients can
// match replies that arrive out of order.
type Response struct {
	Type    string `json:"type"`
	ID      string `json:"id,omitempty"`
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   any    `json:"error,omitempty"`
}

func newResponse(cmd WSCommand) Response {
	return Response{Type: cmd.Type + "_result", ID: cmd.ID}
}

// respond sends data on success or err otherwise. Validation errors keep
// their field list.
func respond(send chan<- any, cmd WSCommand, data any, err error) {
	res := newResponse(cmd)
	var verr *types.ValidationError
	switch {
	case err == nil:
		res.Success = true
		res.Data = data
	case errors.As(err, &verr):
		res.Error = verr
	default:
		res.Error = err.Error()
	}
	deliver(send, res)
}

// respondReply forwards an object reply. Only an OK result is a success.
func respondReply(send chan<- any, cmd WSCommand, reply types.Reply) {
	res := newResponse(cmd)
	res.Success = reply.Result.OK()
	res.Data = reply
	if !res.Success {
		res.Error = reply.Result.String()
	}
	deliver(send, res)
}

// deliver drops the message when the client is not keeping up.
func deliver(send chan<- any, res Response) {
	select {
	case send <- res:
	default:
		slog.Warn("dropped WebSocket response: client too slow", "type", res.Type)
	}
}

// decode unmarshals the command data into req and validates it. An empty
// payload validates the zero request. It reports whether req is usable; on
// false the error response has been sent.
func decode[T any](cmd WSCommand, send chan<- any, req *T) bool {
	if len(cmd.Data) > 0 {
		if err := json.Unmarshal(cmd.Data, req); err != nil {
			respond(send, cmd, nil, fmt.Errorf("invalid JSON: %w", err))
			return false
		}
	}
	if err := validate.Struct(req); err != nil {
		respond(send, cmd, nil, toValidationError(err))
		return false
	}
	return true
}

// handleSync decodes a request and answers with the result of process.
func handleSync[T any](cmd WSCommand, send chan<- any, process func(*T) (any, error)) {
	var req T
	if !decode(cmd, send, &req) {
		return
	}
	data, err := process(&req)
	respond(send, cmd, data, err)
}

// handleAsync runs action off the reader goroutine. Anything that waits
// on an object, a pipeline transition or the network goes through here.
func handleAsync(cmd WSCommand, send chan<- any, action func() (any, error)) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("panic in async handler", "command", cmd.Type, "panic", r)
				respond(send, cmd, nil, errors.New("internal error"))
			}
		}()
		data, err := action()
		respond(send, cmd, data, err)
	}()
}

func toValidationError(err error) *types.ValidationError {
	verr := types.NewValidationError()
	var fields validator.ValidationErrors
	if !errors.As(err, &fields) {
		verr.Add("", err.Error(), nil)
		return verr
	}
	for _, fe := range fields {
		verr.Add(fieldPath(fe), validationMessage(fe), fe.Value())
	}
	return verr
}

// fieldPath drops the request struct name from the namespace, leaving
// paths such as "gains[0]".
func fieldPath(fe validator.FieldError) string {
	_, path, ok := strings.Cut(fe.Namespace(), ".")
	if !ok {
		return fe.Field()
	}
	return path
}

var validationMessages = map[string]string{
	"min":   "must be at least %s",
	"max":   "must be at most %s",
	"gte":   "must be greater than or equal to %s",
	"lte":   "must be less than or equal to %s",
	"gt":    "must be greater than %s",
	"oneof": "must be one of: %s",
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "url":
		return "must be a valid URL"
	}
	if format, ok := validationMessages[fe.Tag()]; ok {
		return fmt.Sprintf(format, fe.Param())
	}
	return fmt.Sprintf("failed validation '%s'", fe.Tag())
}
