package util

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ErrNotWritable is returned by CheckPathWritable.
var ErrNotWritable = errors.New("path is not writable")

// IsConfigured reports whether all provided values are non-empty.
func IsConfigured(values ...string) bool {
	for _, v := range values {
		if v == "" {
			return false
		}
	}
	return true
}

// CheckPathWritable creates the directory if needed and verifies a file
// can be written to and removed from it.
func CheckPathWritable(path string) error {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("%w: mkdir: %w", ErrNotWritable, err)
	}

	testFile := filepath.Join(path, fmt.Sprintf(".audioplane-write-test-%d", time.Now().UnixNano()))
	f, err := os.Create(testFile)
	if err != nil {
		return fmt.Errorf("%w: create: %w", ErrNotWritable, err)
	}

	_, werr := f.Write(make([]byte, 1024))
	cerr := f.Close()
	if err := errors.Join(werr, cerr); err != nil {
		_ = os.Remove(testFile)
		return fmt.Errorf("%w: write: %w", ErrNotWritable, err)
	}

	// Cleanup must succeed for the check to pass.
	if err := os.Remove(testFile); err != nil {
		return fmt.Errorf("%w: remove: %w", ErrNotWritable, err)
	}
	return nil
}
