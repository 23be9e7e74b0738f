package util

import "log/slog"

// LogNotifyResult runs a notification and logs the outcome with attrs.
func LogNotifyResult(fn func() error, notifyType string, attrs ...any) {
	args := append([]any{"type", notifyType}, attrs...)
	if err := fn(); err != nil {
		slog.Error("notification failed", append(args, "error", err)...)
		return
	}
	slog.Info("notification sent", args...)
}
