//go:build windows

package util

import "os"

// ShutdownSignals returns the signals to listen for graceful shutdown.
func ShutdownSignals() []os.Signal {
	return []os.Signal{os.Interrupt}
}

// GracefulSignal is a no-op on Windows. FFmpeg stops when its stdin is
// closed, which every caller does first.
func GracefulSignal(_ *os.Process) error {
	return nil
}
